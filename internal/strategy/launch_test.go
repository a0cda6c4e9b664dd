package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func candle(open, close, volume float64) domain.Kline {
	high, low := open, close
	if close > high {
		high = close
	}
	if open < low {
		low = open
	}
	return domain.Kline{Open: open, High: high * 1.001, Low: low * 0.999, Close: close, Volume: volume}
}

// confirming5m builds eight candles: five quiet, then three bullish with 1%
// bodies and doubled volume.
func confirming5m() []domain.Kline {
	ks := make([]domain.Kline, 0, 8)
	for i := 0; i < 5; i++ {
		ks = append(ks, candle(100, 100.1, 100))
	}
	for i := 0; i < 3; i++ {
		ks = append(ks, candle(100, 101, 200))
	}
	return ks
}

// confirming15m builds twenty candles closing near 100 with the last two
// strongly bullish, so the final close clears the SMA20.
func confirming15m() []domain.Kline {
	ks := make([]domain.Kline, 0, 20)
	for i := 0; i < 18; i++ {
		ks = append(ks, candle(99.5, 100, 100))
	}
	ks = append(ks, candle(100, 105, 150), candle(105, 110, 150))
	return ks
}

func confirming1h() []domain.Kline {
	ks := make([]domain.Kline, 0, 5)
	for i := 0; i < 5; i++ {
		ks = append(ks, candle(100, 104, 100))
	}
	return ks
}

func TestScore_AllConfirmed(t *testing.T) {
	t.Parallel()

	s := NewLaunchScorer()
	// Entry 100, current 110: above the 1h highs, gain 10%, deviating hard
	// from the last 5m close.
	sig := s.Score("BTCUSDT", confirming5m(), confirming15m(), confirming1h(), 100, 110)

	assert.True(t, sig.Breakout5m)
	assert.True(t, sig.Trend15m)
	assert.True(t, sig.Momentum1h)
	assert.True(t, sig.StrongDeviation1m)
	assert.True(t, sig.AllConfirmed)
	assert.Equal(t, 100, sig.Score)
}

func TestScore_OneMissingSignalBlocksConfirmation(t *testing.T) {
	t.Parallel()

	s := NewLaunchScorer()
	// 1h momentum fails: current price below the recent high.
	sig := s.Score("BTCUSDT", confirming5m(), confirming15m(), confirming1h(), 100, 103)

	assert.False(t, sig.Momentum1h)
	assert.False(t, sig.AllConfirmed)
	assert.Equal(t, 80, sig.Score)
}

func TestScore_ShortDataFailsClosed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		k5m  []domain.Kline
		k15m []domain.Kline
		k1h  []domain.Kline
	}{
		{"short5m", confirming5m()[:7], confirming15m(), confirming1h()},
		{"short15m", confirming5m(), confirming15m()[:19], confirming1h()},
		{"short1h", confirming5m(), confirming15m(), confirming1h()[:4]},
		{"empty", nil, nil, nil},
	}

	s := NewLaunchScorer()
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			sig := s.Score("BTCUSDT", tt.k5m, tt.k15m, tt.k1h, 100, 110)
			assert.False(t, sig.AllConfirmed, "missing data must never confirm")
			assert.Less(t, sig.Score, 100)
		})
	}
}

func TestBreakout5m(t *testing.T) {
	t.Parallel()

	t.Run("flat volume fails", func(t *testing.T) {
		t.Parallel()
		ks := make([]domain.Kline, 0, 8)
		for i := 0; i < 5; i++ {
			ks = append(ks, candle(100, 100.1, 100))
		}
		for i := 0; i < 3; i++ {
			ks = append(ks, candle(100, 101, 100))
		}
		assert.False(t, breakout5m(ks), "no volume expansion")
	})

	t.Run("thin body fails", func(t *testing.T) {
		t.Parallel()
		ks := confirming5m()
		ks[7] = candle(100, 100.2, 200) // 0.2% body
		assert.False(t, breakout5m(ks))
	})

	t.Run("bearish candle fails", func(t *testing.T) {
		t.Parallel()
		ks := confirming5m()
		ks[6] = candle(101, 100, 200)
		assert.False(t, breakout5m(ks))
	})
}

func TestTrend15m(t *testing.T) {
	t.Parallel()

	ks := confirming15m()
	assert.True(t, trend15m(ks))

	bearishLast := confirming15m()
	bearishLast[19] = candle(110, 105, 150)
	assert.False(t, trend15m(bearishLast))

	belowSMA := make([]domain.Kline, 0, 20)
	for i := 0; i < 18; i++ {
		belowSMA = append(belowSMA, candle(99.5, 110, 100))
	}
	belowSMA = append(belowSMA, candle(99, 100, 150), candle(100, 101, 150))
	assert.False(t, trend15m(belowSMA), "close under SMA20")
}

func TestMomentum1h(t *testing.T) {
	t.Parallel()

	ks := confirming1h() // highs around 104.1
	assert.True(t, momentum1h(ks, 100, 110))
	assert.False(t, momentum1h(ks, 100, 104), "below the recent high")
	assert.False(t, momentum1h(ks, 109, 110), "gain under 1.5%")
	assert.False(t, momentum1h(ks, 0, 110), "unknown entry price")
}

func TestDeviation1m(t *testing.T) {
	t.Parallel()

	ks := []domain.Kline{candle(100, 100, 100)}
	assert.InDelta(t, 0.5, deviation1m(ks, 100.5), 1e-9)
	assert.InDelta(t, -1.0, deviation1m(ks, 99), 1e-9)
	assert.Zero(t, deviation1m(nil, 105))

	// Exactly at the threshold is not strong: the comparison is strict.
	s := NewLaunchScorer()
	sig := s.Score("BTCUSDT", ks, nil, nil, 100, 100.5)
	assert.False(t, sig.StrongDeviation1m)
}

func TestVolumeRatio(t *testing.T) {
	t.Parallel()

	ks := confirming5m()
	assert.InDelta(t, 2.0, VolumeRatio(ks, 3, 5), 1e-9)
	assert.Zero(t, VolumeRatio(ks[:7], 3, 5), "too short")
	assert.Zero(t, VolumeRatio(nil, 3, 5))
}

func TestSMAAndExtremes(t *testing.T) {
	t.Parallel()

	ks := []domain.Kline{
		candle(100, 102, 1),
		candle(102, 98, 1),
		candle(98, 104, 1),
	}
	assert.InDelta(t, (102+98+104)/3.0, SMA(ks, 3), 1e-9)
	assert.Zero(t, SMA(ks, 5), "insufficient candles")
	assert.InDelta(t, 104*1.001, HighestHigh(ks, 3), 1e-6)
	assert.InDelta(t, 98*0.999, LowestLow(ks, 3), 1e-6)
}
