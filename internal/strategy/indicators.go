// Package strategy contains the pure market-structure analysis used by the
// engine: indicator helpers and the multi-timeframe launch confirmation
// scorer. Nothing in this package performs I/O.
package strategy

import "github.com/alanyoungcy/perpbot/internal/domain"

// SMA returns the simple moving average of the last period closes. It returns
// 0 when fewer than period candles are available.
func SMA(klines []domain.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	sum := 0.0
	for _, k := range klines[len(klines)-period:] {
		sum += k.Close
	}
	return sum / float64(period)
}

// HighestHigh returns the maximum high over the last period candles.
func HighestHigh(klines []domain.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	max := 0.0
	for _, k := range klines[len(klines)-period:] {
		if k.High > max {
			max = k.High
		}
	}
	return max
}

// LowestLow returns the minimum low over the last period candles.
func LowestLow(klines []domain.Kline, period int) float64 {
	if period <= 0 || len(klines) < period {
		return 0
	}
	min := klines[len(klines)-period].Low
	for _, k := range klines[len(klines)-period:] {
		if k.Low < min {
			min = k.Low
		}
	}
	return min
}

// avgVolume returns the mean volume of klines[from:to).
func avgVolume(klines []domain.Kline, from, to int) float64 {
	if from < 0 || to > len(klines) || from >= to {
		return 0
	}
	sum := 0.0
	for _, k := range klines[from:to] {
		sum += k.Volume
	}
	return sum / float64(to-from)
}

// VolumeRatio compares the average volume of the last recent candles against
// the prior baseline candles. Returns 0 when the series is too short or the
// baseline is zero.
func VolumeRatio(klines []domain.Kline, recent, baseline int) float64 {
	n := len(klines)
	if n < recent+baseline {
		return 0
	}
	base := avgVolume(klines, n-recent-baseline, n-recent)
	if base == 0 {
		return 0
	}
	return avgVolume(klines, n-recent, n) / base
}

// ComputeIndicators builds the compact indicator set for one timeframe.
func ComputeIndicators(klines []domain.Kline) domain.Indicators {
	return domain.Indicators{
		SMA20:       SMA(klines, 20),
		RecentHigh:  HighestHigh(klines, 10),
		RecentLow:   LowestLow(klines, 10),
		VolumeRatio: VolumeRatio(klines, 3, 5),
	}
}
