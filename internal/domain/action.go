package domain

// PositionAction is the outcome of evaluating one tracked position during a
// reconciliation pass. Implementations form a closed set; the execution
// boundary switches exhaustively over them.
type PositionAction interface {
	isPositionAction()
	// Reason returns the audit tag explaining why this action was produced.
	Reason() string
}

// FullClose closes the entire position.
type FullClose struct {
	Symbol string
	Tag    string
}

// PartialClose closes Pct percent of the position. Pct is always in (0, 100)
// after translation; a request that would round up past 100 is degraded to a
// FullClose before it reaches the executor.
type PartialClose struct {
	Symbol string
	Pct    float64
	Tag    string
}

// SetLimitOrder places a reduce-only limit order at Price for Pct percent of
// the position.
type SetLimitOrder struct {
	Symbol string
	Price  float64
	Pct    float64
	Tag    string
}

// Remove drops the tracking entry without touching the venue. Used when the
// venue no longer reports the position or the residue is untradeable dust.
type Remove struct {
	Symbol string
	Tag    string
}

func (FullClose) isPositionAction()     {}
func (PartialClose) isPositionAction()  {}
func (SetLimitOrder) isPositionAction() {}
func (Remove) isPositionAction()        {}

func (a FullClose) Reason() string     { return a.Tag }
func (a PartialClose) Reason() string  { return a.Tag }
func (a SetLimitOrder) Reason() string { return a.Tag }
func (a Remove) Reason() string        { return a.Tag }
