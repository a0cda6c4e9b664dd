package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

func TestPositionLedger_PutGetSnapshot(t *testing.T) {
	t.Parallel()

	l := NewPositionLedger()
	l.Put(domain.PositionTracker{Symbol: "BTCUSDT", Side: domain.SideLong, EntryPrice: 60000, Quantity: 0.5})
	l.Put(domain.PositionTracker{Symbol: "ETHUSDT", Side: domain.SideShort, EntryPrice: 3000, Quantity: 2})

	assert.Equal(t, 2, l.Len())

	got, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.SideLong, got.Side)
	assert.Equal(t, 60000.0, got.EntryPrice)

	// A snapshot is a copy; mutating it must not leak back.
	snap := l.Snapshot()
	require.Len(t, snap, 2)
	snap[0].Quantity = 99

	for _, s := range []string{"BTCUSDT", "ETHUSDT"} {
		tr, ok := l.Get(s)
		require.True(t, ok)
		assert.NotEqual(t, 99.0, tr.Quantity)
	}

	_, ok = l.Get("SOLUSDT")
	assert.False(t, ok)
}

func TestPositionLedger_PutReplaces(t *testing.T) {
	t.Parallel()

	l := NewPositionLedger()
	l.Put(domain.PositionTracker{Symbol: "BTCUSDT", Quantity: 1})
	l.Put(domain.PositionTracker{Symbol: "BTCUSDT", Quantity: 2})

	got, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2.0, got.Quantity)
	assert.Equal(t, 1, l.Len())
}

func TestPositionLedger_RemoveAll(t *testing.T) {
	t.Parallel()

	l := NewPositionLedger()
	l.Put(domain.PositionTracker{Symbol: "A"})
	l.Put(domain.PositionTracker{Symbol: "B"})
	l.Put(domain.PositionTracker{Symbol: "C"})

	l.RemoveAll([]string{"A", "C", "MISSING"})

	assert.Equal(t, 1, l.Len())
	_, ok := l.Get("B")
	assert.True(t, ok)

	// Absent symbols are no-ops.
	l.Remove("MISSING")
	assert.Equal(t, 1, l.Len())
}

func TestPositionLedger_Apply(t *testing.T) {
	t.Parallel()

	l := NewPositionLedger()
	l.Put(domain.PositionTracker{
		Symbol:            "BTCUSDT",
		Quantity:          1,
		StopLossPrice:     59000,
		StopLossOrderID:   "sl-1",
		TakeProfitOrderID: "tp-1",
	})

	qty := 0.4
	tp := 65000.0
	newSL := "sl-2"
	l.Apply([]TrackerMutation{
		{Symbol: "BTCUSDT", Quantity: &qty, TakeProfit: &tp, StopOrderID: &newSL, ClearTPOrder: true},
		{Symbol: "UNTRACKED", Quantity: &qty},
	})

	got, ok := l.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.4, got.Quantity)
	assert.Equal(t, 65000.0, got.TakeProfitPrice)
	assert.Equal(t, 59000.0, got.StopLossPrice, "nil pointer fields stay untouched")
	assert.Equal(t, "sl-2", got.StopLossOrderID)
	assert.Empty(t, got.TakeProfitOrderID)

	_, ok = l.Get("UNTRACKED")
	assert.False(t, ok, "mutations never create trackers")
}

func TestPositionLedger_TouchAndStale(t *testing.T) {
	t.Parallel()

	l := NewPositionLedger()
	l.Put(domain.PositionTracker{Symbol: "OLD"})
	l.Put(domain.PositionTracker{Symbol: "FRESH"})
	l.Put(domain.PositionTracker{Symbol: "NEVER"})

	now := time.Now()
	l.Touch([]string{"OLD"}, now.Add(-48*time.Hour))
	l.Touch([]string{"FRESH"}, now)

	stale := l.StaleSymbols(now.Add(-24 * time.Hour))
	assert.Equal(t, []string{"OLD"}, stale)
}

func TestStagedBook(t *testing.T) {
	t.Parallel()

	b := NewStagedBook()
	assert.Equal(t, domain.StageNone, b.Stage("BTCUSDT"))

	b.Put(domain.StagedPosition{Symbol: "BTCUSDT", Side: domain.SideLong, Stage: domain.StageTrial, TrialQty: 0.5})
	assert.Equal(t, domain.StageTrial, b.Stage("BTCUSDT"))

	got, ok := b.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0.5, got.TrialQty)

	// Snapshot copies do not alias book state.
	snap := b.Snapshot()
	require.Len(t, snap, 1)
	snap[0].Stage = domain.StageFull
	assert.Equal(t, domain.StageTrial, b.Stage("BTCUSDT"))

	b.Remove("BTCUSDT")
	_, ok = b.Get("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, domain.StageNone, b.Stage("BTCUSDT"))
}

func TestTriggerBook(t *testing.T) {
	t.Parallel()

	b := NewTriggerBook()
	b.Add(domain.TriggerOrderRecord{OrderID: "o1", Symbol: "BTCUSDT", Purpose: domain.PurposeClose})
	b.Add(domain.TriggerOrderRecord{OrderID: "o2", Symbol: "BTCUSDT", Purpose: domain.PurposeClose})
	b.Add(domain.TriggerOrderRecord{OrderID: "o3", Symbol: "ETHUSDT", Purpose: domain.PurposeOpen})

	assert.Equal(t, 3, b.Len())
	assert.Len(t, b.BySymbol("BTCUSDT"), 2)

	rec, ok := b.Get("o3")
	require.True(t, ok)
	assert.Equal(t, domain.PurposeOpen, rec.Purpose)

	b.RemoveIDs([]string{"o1", "missing"})
	assert.Equal(t, 2, b.Len())

	removed := b.RemoveSymbol("BTCUSDT")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, b.Len())
	assert.Empty(t, b.BySymbol("BTCUSDT"))
}
