package domain

import "time"

// PositionSide is the direction of a derivative position.
type PositionSide string

const (
	SideLong  PositionSide = "LONG"
	SideShort PositionSide = "SHORT"
)

// Opposite returns the closing direction for this side.
func (s PositionSide) Opposite() PositionSide {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign returns +1 for long and -1 for short, for PnL arithmetic.
func (s PositionSide) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// PositionTracker is the engine's own record of a position it manages. It is
// the authoritative tracking state, reconciled against the venue every pass.
type PositionTracker struct {
	Symbol            string
	Side              PositionSide
	EntryPrice        float64
	Quantity          float64
	StopLossPrice     float64
	TakeProfitPrice   float64
	StopLossOrderID   string
	TakeProfitOrderID string
	CreatedAt         time.Time
	LastCheckedAt     time.Time
}

// Notional returns the current gross position value at the given mark price.
func (t *PositionTracker) Notional(markPrice float64) float64 {
	return abs(t.Quantity) * markPrice
}

// ProfitPct returns the signed profit percentage at the given mark price.
// A losing long and a losing short both return a negative value.
func (t *PositionTracker) ProfitPct(markPrice float64) float64 {
	if t.EntryPrice == 0 {
		return 0
	}
	return (markPrice - t.EntryPrice) / t.EntryPrice * 100 * t.Side.Sign()
}

// HoldDuration returns how long the position has been held, clamped at zero.
func (t *PositionTracker) HoldDuration(now time.Time) time.Duration {
	d := now.Sub(t.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// Position is a venue-reported position snapshot. Size carries the venue's
// sign convention: positive for long, negative for short.
type Position struct {
	Symbol           string
	Size             float64
	EntryPrice       float64
	MarkPrice        float64
	UnrealizedProfit float64
	Leverage         float64
}

// Side derives the direction from the signed size.
func (p Position) Side() PositionSide {
	if p.Size < 0 {
		return SideShort
	}
	return SideLong
}

// Notional returns the gross position value at the mark price.
func (p Position) Notional() float64 {
	return abs(p.Size) * p.MarkPrice
}

// ProfitPct returns the signed profit percentage against the entry price.
func (p Position) ProfitPct() float64 {
	if p.EntryPrice == 0 {
		return 0
	}
	return (p.MarkPrice - p.EntryPrice) / p.EntryPrice * 100 * p.Side().Sign()
}

func abs(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
