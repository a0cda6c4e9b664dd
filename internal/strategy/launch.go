package strategy

import "github.com/alanyoungcy/perpbot/internal/domain"

// Sub-signal weights. The score is informational; stage advancement requires
// every sub-signal, not a score threshold.
const (
	weight5m  = 40
	weight15m = 30
	weight1h  = 20
	weight1m  = 10

	minBodyPct         = 0.5
	volumeExpansion    = 1.3
	minGainFromEntry   = 1.5
	strongDeviationPct = 0.5
)

// LaunchScorer evaluates whether a trial position's breakout is confirmed
// across four timeframes. It is stateless and pure.
type LaunchScorer struct{}

// NewLaunchScorer creates a LaunchScorer.
func NewLaunchScorer() *LaunchScorer {
	return &LaunchScorer{}
}

// Score computes the launch confirmation for one symbol. Any timeframe with
// too few candles fails its sub-signal: missing data never confirms.
func (s *LaunchScorer) Score(symbol string, k5m, k15m, k1h []domain.Kline, entryPrice, currentPrice float64) domain.LaunchSignal {
	sig := domain.LaunchSignal{Symbol: symbol}

	sig.Breakout5m = breakout5m(k5m)
	sig.Trend15m = trend15m(k15m)
	sig.Momentum1h = momentum1h(k1h, entryPrice, currentPrice)
	sig.Deviation1mPct = deviation1m(k5m, currentPrice)
	sig.StrongDeviation1m = sig.Deviation1mPct > strongDeviationPct

	if sig.Breakout5m {
		sig.Score += weight5m
	}
	if sig.Trend15m {
		sig.Score += weight15m
	}
	if sig.Momentum1h {
		sig.Score += weight1h
	}
	if sig.StrongDeviation1m {
		sig.Score += weight1m
	}

	sig.AllConfirmed = sig.Breakout5m && sig.Trend15m && sig.Momentum1h && sig.StrongDeviation1m
	return sig
}

// breakout5m requires three consecutive bullish candles with bodies of at
// least 0.5% and their average volume expanded 30% over the prior five.
func breakout5m(klines []domain.Kline) bool {
	if len(klines) < 8 {
		return false
	}
	last3 := klines[len(klines)-3:]
	for _, k := range last3 {
		if !k.Bullish() || k.BodyPct() < minBodyPct {
			return false
		}
	}
	return VolumeRatio(klines, 3, 5) >= volumeExpansion
}

// trend15m requires the close above the SMA20 with the last two candles
// bullish.
func trend15m(klines []domain.Kline) bool {
	if len(klines) < 20 {
		return false
	}
	sma := SMA(klines, 20)
	last := klines[len(klines)-1]
	prev := klines[len(klines)-2]
	return last.Close > sma && last.Bullish() && prev.Bullish()
}

// momentum1h requires the current price above the recent 5-candle high and a
// gain from entry above 1.5%.
func momentum1h(klines []domain.Kline, entryPrice, currentPrice float64) bool {
	if len(klines) < 5 || entryPrice == 0 {
		return false
	}
	high := HighestHigh(klines, 5)
	gain := (currentPrice - entryPrice) / entryPrice * 100
	return currentPrice > high && gain > minGainFromEntry
}

// deviation1m measures how far the current price has pushed from the last
// completed 5m close, in percent.
func deviation1m(k5m []domain.Kline, currentPrice float64) float64 {
	if len(k5m) == 0 {
		return 0
	}
	ref := k5m[len(k5m)-1].Close
	if ref == 0 {
		return 0
	}
	return (currentPrice - ref) / ref * 100
}
