package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPositionSide(t *testing.T) {
	t.Parallel()

	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
	assert.Equal(t, 1.0, SideLong.Sign())
	assert.Equal(t, -1.0, SideShort.Sign())
}

func TestPositionTracker_ProfitPct(t *testing.T) {
	t.Parallel()

	long := PositionTracker{Symbol: "BTCUSDT", Side: SideLong, EntryPrice: 100}
	assert.InDelta(t, 5.0, long.ProfitPct(105), 1e-9)
	assert.InDelta(t, -5.0, long.ProfitPct(95), 1e-9)

	short := PositionTracker{Symbol: "BTCUSDT", Side: SideShort, EntryPrice: 100}
	assert.InDelta(t, 5.0, short.ProfitPct(95), 1e-9)
	assert.InDelta(t, -5.0, short.ProfitPct(105), 1e-9)

	unknown := PositionTracker{Symbol: "BTCUSDT", Side: SideLong}
	assert.Zero(t, unknown.ProfitPct(100))
}

func TestPositionTracker_HoldDurationClampsNegative(t *testing.T) {
	t.Parallel()

	now := time.Now()
	tr := PositionTracker{CreatedAt: now.Add(time.Minute)}
	assert.Equal(t, time.Duration(0), tr.HoldDuration(now))
}

func TestPosition_SideAndNotional(t *testing.T) {
	t.Parallel()

	long := Position{Symbol: "BTCUSDT", Size: 2, EntryPrice: 100, MarkPrice: 110}
	assert.Equal(t, SideLong, long.Side())
	assert.InDelta(t, 220.0, long.Notional(), 1e-9)
	assert.InDelta(t, 10.0, long.ProfitPct(), 1e-9)

	short := Position{Symbol: "BTCUSDT", Size: -2, EntryPrice: 100, MarkPrice: 110}
	assert.Equal(t, SideShort, short.Side())
	assert.InDelta(t, 220.0, short.Notional(), 1e-9)
	assert.InDelta(t, -10.0, short.ProfitPct(), 1e-9)
}

func TestTradingRules_RoundQty(t *testing.T) {
	t.Parallel()

	r := TradingRules{StepSize: 0.01}
	assert.InDelta(t, 1.23, r.RoundQty(1.2399), 1e-9)
	assert.InDelta(t, 0.0, r.RoundQty(0.0099), 1e-9)

	noStep := TradingRules{}
	assert.Equal(t, 1.2399, noStep.RoundQty(1.2399))
}

func TestFundingRate_FavorsSide(t *testing.T) {
	t.Parallel()

	// Positive rate: longs pay shorts.
	positive := FundingRate{Rate: 0.0003}
	assert.False(t, positive.FavorsSide(SideLong))
	assert.True(t, positive.FavorsSide(SideShort))

	negative := FundingRate{Rate: -0.0003}
	assert.True(t, negative.FavorsSide(SideLong))
	assert.False(t, negative.FavorsSide(SideShort))

	zero := FundingRate{}
	assert.True(t, zero.FavorsSide(SideLong))
	assert.True(t, zero.FavorsSide(SideShort))
}

func TestOrderStatus_Terminal(t *testing.T) {
	t.Parallel()

	for _, s := range []OrderStatus{OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []OrderStatus{OrderStatusNew, OrderStatusPartiallyFilled} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestTriggerOrderRecord_DriftPct(t *testing.T) {
	t.Parallel()

	rec := TriggerOrderRecord{TriggerPrice: 100}
	assert.InDelta(t, 5.0, rec.DriftPct(105), 1e-9)
	assert.InDelta(t, 5.0, rec.DriftPct(95), 1e-9)
	assert.Zero(t, TriggerOrderRecord{}.DriftPct(100))
}

func TestNewTradeRecord(t *testing.T) {
	t.Parallel()

	entered := time.Now().Add(-2 * time.Hour)
	exited := time.Now()

	long := NewTradeRecord("BTCUSDT", SideLong, 100, 105, 2, "take_profit", entered, exited)
	assert.InDelta(t, 10.0, long.PnL, 1e-9)
	assert.InDelta(t, 5.0, long.PnLPct, 1e-9)
	assert.InDelta(t, 2.0, long.HoldDuration.Hours(), 0.01)

	short := NewTradeRecord("BTCUSDT", SideShort, 100, 105, 2, "stop", entered, exited)
	assert.InDelta(t, -10.0, short.PnL, 1e-9)
	assert.InDelta(t, -5.0, short.PnLPct, 1e-9)

	// Disagreeing clocks clamp to zero rather than going negative.
	clamped := NewTradeRecord("BTCUSDT", SideLong, 100, 105, 1, "x", exited.Add(time.Hour), exited)
	assert.Equal(t, time.Duration(0), clamped.HoldDuration)
}

func TestKline(t *testing.T) {
	t.Parallel()

	bull := Kline{Open: 100, Close: 101}
	assert.True(t, bull.Bullish())
	assert.InDelta(t, 1.0, bull.BodyPct(), 1e-9)

	bear := Kline{Open: 100, Close: 99}
	assert.False(t, bear.Bullish())
	assert.InDelta(t, -1.0, bear.BodyPct(), 1e-9)

	assert.Zero(t, Kline{}.BodyPct())
}

func TestStagedPosition(t *testing.T) {
	t.Parallel()

	sp := StagedPosition{Side: SideLong, TrialQty: 0.3, AddOnQty: 0.7, AvgCost: 100}
	assert.InDelta(t, 1.0, sp.TotalQty(), 1e-9)
	assert.InDelta(t, 3.0, sp.ProfitPct(103), 1e-9)

	short := StagedPosition{Side: SideShort, AvgCost: 100}
	assert.InDelta(t, 3.0, short.ProfitPct(97), 1e-9)
}
