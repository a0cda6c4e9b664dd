package domain

import "time"

// TradeRecord is one completed round trip, written to the history store when
// a position (or part of one) is closed.
type TradeRecord struct {
	ID           int64
	Symbol       string
	Side         PositionSide
	EntryPrice   float64
	ExitPrice    float64
	Quantity     float64
	PnL          float64
	PnLPct       float64
	Reason       string
	EnteredAt    time.Time
	ExitedAt     time.Time
	HoldDuration time.Duration
}

// NewTradeRecord computes the derived PnL fields from raw entry/exit data.
// The hold duration is clamped at zero when clocks disagree.
func NewTradeRecord(symbol string, side PositionSide, entry, exit, qty float64, reason string, enteredAt, exitedAt time.Time) TradeRecord {
	pnl := (exit - entry) * qty * side.Sign()
	pnlPct := 0.0
	if entry != 0 {
		pnlPct = (exit - entry) / entry * 100 * side.Sign()
	}
	hold := exitedAt.Sub(enteredAt)
	if hold < 0 {
		hold = 0
	}
	return TradeRecord{
		Symbol:       symbol,
		Side:         side,
		EntryPrice:   entry,
		ExitPrice:    exit,
		Quantity:     qty,
		PnL:          pnl,
		PnLPct:       pnlPct,
		Reason:       reason,
		EnteredAt:    enteredAt,
		ExitedAt:     exitedAt,
		HoldDuration: hold,
	}
}
