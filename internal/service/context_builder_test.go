package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/venue/sim"
)

func flatCandles(n int, close float64) []domain.Kline {
	ks := make([]domain.Kline, n)
	for i := range ks {
		ks[i] = domain.Kline{
			Open: close, High: close * 1.01, Low: close * 0.99, Close: close, Volume: 100,
		}
	}
	return ks
}

func TestContextBuilder_Build(t *testing.T) {
	t.Parallel()

	v := sim.New()
	v.SetKlines("BTCUSDT", domain.Interval5m, flatCandles(30, 100))
	v.SetKlines("BTCUSDT", domain.Interval15m, flatCandles(30, 100))
	v.SetKlines("BTCUSDT", domain.Interval1h, flatCandles(10, 100))
	v.SetFunding(domain.FundingRate{Symbol: "BTCUSDT", Rate: 0.0001})

	now := time.Now()
	tr := domain.PositionTracker{
		Symbol:        "BTCUSDT",
		Side:          domain.SideLong,
		EntryPrice:    100,
		Quantity:      2,
		StopLossPrice: 95,
		CreatedAt:     now.Add(-2 * time.Hour),
	}

	b := NewContextBuilder(v, testLogger())
	pc, err := b.Build(context.Background(), tr, 105, now)
	require.NoError(t, err)

	assert.Equal(t, "BTCUSDT", pc.Symbol)
	assert.Equal(t, domain.SideLong, pc.Side)
	assert.InDelta(t, 5.0, pc.ProfitPct, 1e-9)
	assert.InDelta(t, 2.0, pc.HoldHours, 0.01)
	assert.Equal(t, 95.0, pc.StopLoss)
	assert.InDelta(t, 0.0001, pc.Funding.Rate, 1e-12)

	assert.Len(t, pc.Klines5m, 30)
	assert.Len(t, pc.Klines1h, 10)
	assert.InDelta(t, 100.0, pc.Ind15m.SMA20, 1e-9)
	assert.InDelta(t, 1.0, pc.Ind5m.VolumeRatio, 1e-9)
}

func TestContextBuilder_InsufficientData(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		n5m  int
		n15m int
		n1h  int
	}{
		{"thin 5m", 10, 30, 10},
		{"thin 15m", 30, 10, 10},
		{"thin 1h", 30, 30, 3},
		{"no data at all", 0, 0, 0},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			v := sim.New()
			v.SetKlines("BTCUSDT", domain.Interval5m, flatCandles(tt.n5m, 100))
			v.SetKlines("BTCUSDT", domain.Interval15m, flatCandles(tt.n15m, 100))
			v.SetKlines("BTCUSDT", domain.Interval1h, flatCandles(tt.n1h, 100))

			b := NewContextBuilder(v, testLogger())
			_, err := b.Build(context.Background(), domain.PositionTracker{Symbol: "BTCUSDT"}, 100, time.Now())
			assert.ErrorIs(t, err, domain.ErrInsufficientData)
		})
	}
}
