package domain

import "time"

// PositionStage tracks the staged-entry lifecycle. Transitions are monotonic:
// None -> Trial -> Full. A position never moves backwards.
type PositionStage string

const (
	StageNone  PositionStage = "none"
	StageTrial PositionStage = "trial"
	StageFull  PositionStage = "full"
)

// StagedPosition is the staged-entry record for a symbol. The trial tranche
// opens a small probe; the add-on tranche commits the remaining capital once
// a launch is confirmed.
type StagedPosition struct {
	Symbol      string
	Side        PositionSide
	Stage       PositionStage
	TrialQty    float64
	AddOnQty    float64
	AvgCost     float64
	StopLoss    float64
	EnteredAt   time.Time
	LastAddedAt time.Time
}

// TotalQty returns the combined quantity across tranches.
func (s *StagedPosition) TotalQty() float64 {
	return s.TrialQty + s.AddOnQty
}

// ProfitPct returns the signed profit percentage against the average cost.
func (s *StagedPosition) ProfitPct(currentPrice float64) float64 {
	if s.AvgCost == 0 {
		return 0
	}
	return (currentPrice - s.AvgCost) / s.AvgCost * 100 * s.Side.Sign()
}

// HoldDuration returns time since the trial entry, clamped at zero.
func (s *StagedPosition) HoldDuration(now time.Time) time.Duration {
	d := now.Sub(s.EnteredAt)
	if d < 0 {
		return 0
	}
	return d
}
