package domain

// LaunchSignal is the multi-timeframe launch confirmation for a trial
// position. Score is the weighted sum of the four sub-signals; AllConfirmed
// requires every sub-signal, not just a score threshold.
type LaunchSignal struct {
	Symbol string

	// Breakout5m: three consecutive bullish 5m candles with meaningful
	// bodies and expanding volume. Weight 40.
	Breakout5m bool
	// Trend15m: price above the 15m SMA20 with the last two candles
	// bullish. Weight 30.
	Trend15m bool
	// Momentum1h: price above the recent 1h high with sufficient gain from
	// entry. Weight 20.
	Momentum1h bool
	// StrongDeviation1m: short-term price pushing away from the last 5m
	// close. Weight 10.
	StrongDeviation1m bool

	// Deviation1mPct is the raw 1m deviation used for StrongDeviation1m.
	Deviation1mPct float64

	Score        int
	AllConfirmed bool
}

// EntryDecision is the sized entry request handed to the staged controller.
// PositionFraction is the fraction of available capital to commit to the
// trial tranche, in (0, 1].
type EntryDecision struct {
	Symbol           string
	Side             PositionSide
	Price            float64
	PositionFraction float64
	StopLoss         float64
	TakeProfit       float64
	Reason           string
}
