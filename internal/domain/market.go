package domain

import "time"

// KlineInterval identifies a candle timeframe.
type KlineInterval string

const (
	Interval1m  KlineInterval = "1m"
	Interval5m  KlineInterval = "5m"
	Interval15m KlineInterval = "15m"
	Interval1h  KlineInterval = "1h"
)

// Kline is one OHLCV candle.
type Kline struct {
	OpenTime  time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime time.Time
}

// Bullish reports whether the candle closed above its open.
func (k Kline) Bullish() bool {
	return k.Close > k.Open
}

// BodyPct returns the candle body as a percentage of the open price.
func (k Kline) BodyPct() float64 {
	if k.Open == 0 {
		return 0
	}
	return (k.Close - k.Open) / k.Open * 100
}

// TradingRules carries the venue's per-symbol order constraints.
type TradingRules struct {
	Symbol      string
	MinQty      float64
	StepSize    float64
	MinNotional float64
	PriceTick   float64
}

// RoundQty truncates qty down to the symbol's step size.
func (r TradingRules) RoundQty(qty float64) float64 {
	if r.StepSize <= 0 {
		return qty
	}
	steps := float64(int64(qty / r.StepSize))
	return steps * r.StepSize
}

// FundingRate is the venue's current funding rate for a perpetual symbol.
// A positive rate means longs pay shorts.
type FundingRate struct {
	Symbol      string
	Rate        float64
	NextFunding time.Time
}

// FavorsSide reports whether holding the given side collects (or at least
// does not pay) funding at this rate.
func (f FundingRate) FavorsSide(side PositionSide) bool {
	if side == SideLong {
		return f.Rate <= 0
	}
	return f.Rate >= 0
}

// Balance is the account's available quote-currency balance.
type Balance struct {
	Asset     string
	Available float64
	Total     float64
}
