package service

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/venue/sim"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubScorer struct {
	sig domain.LaunchSignal
}

func (s stubScorer) Score(symbol string, _, _, _ []domain.Kline, _, _ float64) domain.LaunchSignal {
	sig := s.sig
	sig.Symbol = symbol
	return sig
}

func TestTrialQty(t *testing.T) {
	t.Parallel()

	// 1000 USDT, 10% fraction, 10x leverage, price 100: qty 10.
	assert.InDelta(t, 10.0, TrialQty(1000, 0.1, 10, 100), 1e-9)
	assert.Zero(t, TrialQty(1000, 0.1, 10, 0))
}

func TestAddOnQty(t *testing.T) {
	t.Parallel()

	// 70% of remaining capital at 10x.
	assert.InDelta(t, 70.0, AddOnQty(1000, 10, 100), 1e-9)
	assert.Zero(t, AddOnQty(1000, 10, -1))
}

func TestWeightedAvgCost(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 107.5, WeightedAvgCost(100, 1, 110, 3), 1e-9)
	assert.InDelta(t, 100.0, WeightedAvgCost(100, 5, 0, 0), 1e-9)
	assert.Zero(t, WeightedAvgCost(100, 0, 110, 0))
}

func TestStageStop(t *testing.T) {
	t.Parallel()

	assert.InDelta(t, 98.0, StageStop(domain.SideLong, 100), 1e-9)
	assert.InDelta(t, 102.0, StageStop(domain.SideShort, 100), 1e-9)
}

func TestOpenTrial(t *testing.T) {
	t.Parallel()

	v := sim.New()
	v.SetPrice("BTCUSDT", 100)
	book := ledger.NewStagedBook()
	c := NewStagedEntryController(book, v, stubScorer{}, nil, testLogger())

	dec := domain.EntryDecision{
		Symbol:           "BTCUSDT",
		Side:             domain.SideLong,
		Price:            100,
		PositionFraction: 0.1,
		StopLoss:         95,
		Reason:           "breakout",
	}
	sp, err := c.OpenTrial(context.Background(), dec, 1000, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StageTrial, sp.Stage)
	assert.InDelta(t, 10.0, sp.TrialQty, 1e-9)
	assert.InDelta(t, 100.0, sp.AvgCost, 1e-9)
	assert.Equal(t, 95.0, sp.StopLoss)

	// The venue now carries the position.
	live, err := v.GetPosition(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.InDelta(t, 10.0, live.Size, 1e-9)

	// A second trial for the same symbol is refused.
	_, err = c.OpenTrial(context.Background(), dec, 1000, 10)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrPositionExists)
}

func TestOpenTrial_RoundsToStepSize(t *testing.T) {
	t.Parallel()

	v := sim.New()
	v.SetPrice("BTCUSDT", 100)
	v.SetRules(domain.TradingRules{Symbol: "BTCUSDT", StepSize: 3})
	book := ledger.NewStagedBook()
	c := NewStagedEntryController(book, v, stubScorer{}, nil, testLogger())

	sp, err := c.OpenTrial(context.Background(), domain.EntryDecision{
		Symbol: "BTCUSDT", Side: domain.SideLong, Price: 100, PositionFraction: 0.1,
	}, 1000, 10)
	require.NoError(t, err)
	assert.InDelta(t, 9.0, sp.TrialQty, 1e-9, "10 truncated to the 3-unit step")
}

func TestExecuteAddOn(t *testing.T) {
	t.Parallel()

	v := sim.New()
	v.SetPrice("BTCUSDT", 100)
	book := ledger.NewStagedBook()
	c := NewStagedEntryController(book, v, stubScorer{}, nil, testLogger())

	_, err := c.OpenTrial(context.Background(), domain.EntryDecision{
		Symbol: "BTCUSDT", Side: domain.SideLong, Price: 100, PositionFraction: 0.1,
	}, 1000, 10)
	require.NoError(t, err)

	// Price has moved up by the time the launch confirms.
	v.SetPrice("BTCUSDT", 102)

	sp, err := c.ExecuteAddOn(context.Background(), "BTCUSDT", 1000, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StageFull, sp.Stage)

	wantAddOn := 1000 * 0.7 * 10 / 102.0
	assert.InDelta(t, wantAddOn, sp.AddOnQty, 1e-9)
	assert.InDelta(t, WeightedAvgCost(100, 10, 102, wantAddOn), sp.AvgCost, 1e-9)
	assert.InDelta(t, 102*0.98, sp.StopLoss, 1e-9, "stop tightens behind the add-on price")

	// The stage is terminal: a second add-on is a stage error.
	_, err = c.ExecuteAddOn(context.Background(), "BTCUSDT", 1000, 10)
	assert.ErrorIs(t, err, domain.ErrWrongStage)

	// And an unknown symbol is the same error.
	_, err = c.ExecuteAddOn(context.Background(), "ETHUSDT", 1000, 10)
	assert.ErrorIs(t, err, domain.ErrWrongStage)
}

func TestCheckLaunch(t *testing.T) {
	t.Parallel()

	v := sim.New()
	v.SetPrice("BTCUSDT", 100)
	book := ledger.NewStagedBook()
	confirmed := domain.LaunchSignal{
		Breakout5m: true, Trend15m: true, Momentum1h: true, StrongDeviation1m: true,
		Score: 100, AllConfirmed: true,
	}
	c := NewStagedEntryController(book, v, stubScorer{sig: confirmed}, nil, testLogger())

	// Untracked symbols never confirm.
	_, ok, err := c.CheckLaunch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = c.OpenTrial(context.Background(), domain.EntryDecision{
		Symbol: "BTCUSDT", Side: domain.SideLong, Price: 100, PositionFraction: 0.1,
	}, 1000, 10)
	require.NoError(t, err)

	sig, ok, err := c.CheckLaunch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 100, sig.Score)

	// Once full, launch checks short-circuit.
	v.SetPrice("BTCUSDT", 102)
	_, err = c.ExecuteAddOn(context.Background(), "BTCUSDT", 1000, 10)
	require.NoError(t, err)
	_, ok, err = c.CheckLaunch(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCheckStagedStop(t *testing.T) {
	t.Parallel()
	now := time.Now()

	staged := func(held time.Duration, stop float64) domain.StagedPosition {
		return domain.StagedPosition{
			Symbol:    "BTCUSDT",
			Side:      domain.SideLong,
			Stage:     domain.StageFull,
			AvgCost:   100,
			StopLoss:  stop,
			EnteredAt: now.Add(-held),
		}
	}

	tests := []struct {
		name   string
		sp     domain.StagedPosition
		price  float64
		reason string
		trip   bool
	}{
		{"price through stop", staged(10*time.Minute, 95), 94, "staged_stop_price", true},
		{"early drawdown", staged(20*time.Minute, 90), 98, "staged_stop_30min_-1.5pct", true},
		{"hour drawdown", staged(45*time.Minute, 90), 97.5, "staged_stop_60min_-2pct", true},
		{"flat after an hour", staged(2*time.Hour, 90), 100, "staged_stop_60min_flat", true},
		{"weak after four hours", staged(5*time.Hour, 90), 100.5, "staged_stop_4h_weak", true},
		{"strong position sits", staged(5*time.Hour, 90), 102, "", false},
		{"small early dip tolerated", staged(20*time.Minute, 90), 99, "", false},
		{"mid window small loss tolerated", staged(45*time.Minute, 90), 99, "", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			reason, trip := CheckStagedStop(tt.sp, tt.price, now)
			assert.Equal(t, tt.trip, trip)
			assert.Equal(t, tt.reason, reason)
		})
	}

	t.Run("short side stop direction", func(t *testing.T) {
		t.Parallel()
		sp := domain.StagedPosition{
			Symbol: "BTCUSDT", Side: domain.SideShort, AvgCost: 100, StopLoss: 105,
			EnteredAt: now.Add(-10 * time.Minute),
		}
		reason, trip := CheckStagedStop(sp, 106, now)
		require.True(t, trip)
		assert.Equal(t, "staged_stop_price", reason)

		_, trip = CheckStagedStop(sp, 99, now)
		assert.False(t, trip, "a short in profit below the stop is fine")
	})
}
