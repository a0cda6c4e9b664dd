package domain

// DecisionAction enumerates the verbs an evaluator may return. Unknown verbs
// are treated as HOLD at the translation boundary.
type DecisionAction string

const (
	ActionHold          DecisionAction = "HOLD"
	ActionPartialClose  DecisionAction = "PARTIAL_CLOSE"
	ActionFullClose     DecisionAction = "FULL_CLOSE"
	ActionSetLimitOrder DecisionAction = "SET_LIMIT_ORDER"
)

// Decision is one evaluated verdict for a tracked position.
type Decision struct {
	Action DecisionAction
	// ClosePct is the requested close percentage for PARTIAL_CLOSE. Zero
	// means the evaluator left it unset and the default applies.
	ClosePct float64
	// LimitPrice is required for SET_LIMIT_ORDER.
	LimitPrice float64
	// LimitPct is the fraction of the position the limit order covers.
	LimitPct       float64
	Reason         string
	Confidence     float64
	ProfitEstimate float64
}

// SymbolDecision pairs a decision with the symbol it applies to, as returned
// from a batch evaluation.
type SymbolDecision struct {
	Symbol   string
	Decision Decision
}

// Indicators is the compact indicator set computed per timeframe for the
// evaluator's context.
type Indicators struct {
	SMA20       float64
	RecentHigh  float64
	RecentLow   float64
	VolumeRatio float64
}

// PositionContext is everything the evaluator sees about one position:
// tracking state, live pricing, and multi-timeframe market structure.
type PositionContext struct {
	Symbol       string
	Side         PositionSide
	EntryPrice   float64
	CurrentPrice float64
	Quantity     float64
	ProfitPct    float64
	HoldHours    float64
	StopLoss     float64
	TakeProfit   float64

	Klines5m  []Kline
	Klines15m []Kline
	Klines1h  []Kline

	Ind5m  Indicators
	Ind15m Indicators
	Ind1h  Indicators

	Funding FundingRate
}
