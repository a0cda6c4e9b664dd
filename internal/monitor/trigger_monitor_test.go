package monitor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
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

type monitorHarness struct {
	venue    *sim.Venue
	triggers *ledger.TriggerBook
	ledger   *ledger.PositionLedger
	mon      *ProtectiveOrderMonitor
}

func newMonitorHarness(t *testing.T) *monitorHarness {
	t.Helper()
	h := &monitorHarness{
		venue:    sim.New(),
		triggers: ledger.NewTriggerBook(),
		ledger:   ledger.NewPositionLedger(),
	}
	h.mon = NewProtectiveOrderMonitor(h.venue, h.triggers, h.ledger, testLogger())
	return h
}

// placeTracked rests an order on the venue and records it in the book.
func (h *monitorHarness) placeTracked(t *testing.T, symbol string, purpose domain.OrderPurpose, trigger float64, placedAt time.Time) string {
	t.Helper()
	ack, err := h.venue.PlaceStopLoss(context.Background(), symbol, domain.SideLong, 1, trigger)
	require.NoError(t, err)
	h.triggers.Add(domain.TriggerOrderRecord{
		OrderID:      ack.OrderID,
		Symbol:       symbol,
		Side:         domain.SideLong,
		Purpose:      purpose,
		TriggerPrice: trigger,
		Quantity:     1,
		PlacedAt:     placedAt,
	})
	return ack.OrderID
}

func TestMonitorOrders_DropsTerminal(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	filled := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, time.Now())
	h.venue.SetOrderStatus(filled, domain.OrderStatusFilled)
	resting := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 96, time.Now())

	h.mon.MonitorOrders(context.Background())

	_, ok := h.triggers.Get(filled)
	assert.False(t, ok, "filled order leaves the book")
	_, ok = h.triggers.Get(resting)
	assert.True(t, ok, "fresh resting order stays")
}

func TestMonitorOrders_DropsUnknownToVenue(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	h.triggers.Add(domain.TriggerOrderRecord{
		OrderID: "ghost", Symbol: "BTCUSDT", Purpose: domain.PurposeClose, PlacedAt: time.Now(),
	})

	h.mon.MonitorOrders(context.Background())
	assert.Equal(t, 0, h.triggers.Len())
}

func TestMonitorOrders_CancelsStale(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	old := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, time.Now().Add(-5*time.Hour))

	h.mon.MonitorOrders(context.Background())

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", old)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
	assert.Equal(t, 0, h.triggers.Len())
}

func TestMonitorOrders_DriftCancelsEntryTriggersOnly(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	h.venue.SetPrice("BTCUSDT", 100)
	now := time.Now()

	// The entry trigger is 11% from the market, the protective order the same
	// distance, and the second entry only 3% away.
	driftedEntry := h.placeTracked(t, "BTCUSDT", domain.PurposeOpen, 90, now)
	driftedExit := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 90, now)
	nearEntry := h.placeTracked(t, "BTCUSDT", domain.PurposeOpen, 97, now)

	h.mon.MonitorOrders(context.Background())

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", driftedEntry)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)

	_, ok := h.triggers.Get(driftedExit)
	assert.True(t, ok, "close orders never drift-cancel")
	_, ok = h.triggers.Get(nearEntry)
	assert.True(t, ok)
}

func TestCheckExclusion_StopFilledCancelsTakeProfit(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	now := time.Now()
	sl := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, now)
	tp := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 110, now)
	h.ledger.Put(domain.PositionTracker{
		Symbol:            "BTCUSDT",
		Side:              domain.SideLong,
		StopLossOrderID:   sl,
		TakeProfitOrderID: tp,
	})
	h.venue.SetOrderStatus(sl, domain.OrderStatusFilled)

	h.mon.CheckExclusion(context.Background())

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", tp)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status, "surviving take-profit is cancelled")

	tr, ok := h.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Empty(t, tr.StopLossOrderID)
	assert.Empty(t, tr.TakeProfitOrderID)
	assert.Equal(t, 0, h.triggers.Len())
}

func TestCheckExclusion_TakeProfitFilledCancelsStop(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	now := time.Now()
	sl := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, now)
	tp := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 110, now)
	h.ledger.Put(domain.PositionTracker{
		Symbol:            "BTCUSDT",
		Side:              domain.SideLong,
		StopLossOrderID:   sl,
		TakeProfitOrderID: tp,
	})
	h.venue.SetOrderStatus(tp, domain.OrderStatusFilled)

	h.mon.CheckExclusion(context.Background())

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", sl)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)

	tr, ok := h.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Empty(t, tr.StopLossOrderID)
	assert.Empty(t, tr.TakeProfitOrderID)
}

// flakyVenue injects transient per-order failures on top of the simulator.
type flakyVenue struct {
	*sim.Venue
	mu         sync.Mutex
	failStatus map[string]int
	failCancel map[string]int
}

func newFlakyVenue() *flakyVenue {
	return &flakyVenue{
		Venue:      sim.New(),
		failStatus: make(map[string]int),
		failCancel: make(map[string]int),
	}
}

func (v *flakyVenue) QueryOrderStatus(ctx context.Context, symbol, orderID string) (domain.OrderStatus, error) {
	v.mu.Lock()
	if n := v.failStatus[orderID]; n > 0 {
		v.failStatus[orderID] = n - 1
		v.mu.Unlock()
		return "", errors.New("venue timeout")
	}
	v.mu.Unlock()
	return v.Venue.QueryOrderStatus(ctx, symbol, orderID)
}

func (v *flakyVenue) CancelOrder(ctx context.Context, symbol, orderID string) error {
	v.mu.Lock()
	if n := v.failCancel[orderID]; n > 0 {
		v.failCancel[orderID] = n - 1
		v.mu.Unlock()
		return errors.New("venue timeout")
	}
	v.mu.Unlock()
	return v.Venue.CancelOrder(ctx, symbol, orderID)
}

// restPair rests a stop-loss / take-profit pair and arms the tracker.
func restPair(t *testing.T, venue *flakyVenue, triggers *ledger.TriggerBook, pl *ledger.PositionLedger) (sl, tp string) {
	t.Helper()
	now := time.Now()
	slAck, err := venue.Venue.PlaceStopLoss(context.Background(), "BTCUSDT", domain.SideLong, 1, 95)
	require.NoError(t, err)
	tpAck, err := venue.Venue.PlaceTakeProfit(context.Background(), "BTCUSDT", domain.SideLong, 1, 110)
	require.NoError(t, err)
	triggers.Add(domain.TriggerOrderRecord{
		OrderID: slAck.OrderID, Symbol: "BTCUSDT", Side: domain.SideLong,
		Purpose: domain.PurposeClose, TriggerPrice: 95, Quantity: 1, PlacedAt: now,
	})
	triggers.Add(domain.TriggerOrderRecord{
		OrderID: tpAck.OrderID, Symbol: "BTCUSDT", Side: domain.SideLong,
		Purpose: domain.PurposeClose, TriggerPrice: 110, Quantity: 1, PlacedAt: now,
	})
	pl.Put(domain.PositionTracker{
		Symbol:            "BTCUSDT",
		Side:              domain.SideLong,
		StopLossOrderID:   slAck.OrderID,
		TakeProfitOrderID: tpAck.OrderID,
	})
	return slAck.OrderID, tpAck.OrderID
}

func TestCheckExclusion_TransientStatusErrorKeepsPair(t *testing.T) {
	t.Parallel()

	venue := newFlakyVenue()
	triggers := ledger.NewTriggerBook()
	pl := ledger.NewPositionLedger()
	mon := NewProtectiveOrderMonitor(venue, triggers, pl, testLogger())

	sl, tp := restPair(t, venue, triggers, pl)
	venue.SetOrderStatus(sl, domain.OrderStatusFilled)
	venue.failStatus[tp] = 1

	mon.CheckExclusion(context.Background())

	// The take-profit is still live on the venue, so its tracking must
	// survive the failed sweep.
	status, err := venue.Venue.QueryOrderStatus(context.Background(), "BTCUSDT", tp)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, status)
	tr, ok := pl.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, sl, tr.StopLossOrderID)
	assert.Equal(t, tp, tr.TakeProfitOrderID)
	_, ok = triggers.Get(tp)
	assert.True(t, ok)

	// The next sweep picks the pair up again and completes the exclusion.
	mon.CheckExclusion(context.Background())

	status, err = venue.Venue.QueryOrderStatus(context.Background(), "BTCUSDT", tp)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
	tr, ok = pl.Get("BTCUSDT")
	require.True(t, ok)
	assert.Empty(t, tr.StopLossOrderID)
	assert.Empty(t, tr.TakeProfitOrderID)
	assert.Equal(t, 0, triggers.Len())
}

func TestCheckExclusion_CancelFailureKeepsPair(t *testing.T) {
	t.Parallel()

	venue := newFlakyVenue()
	triggers := ledger.NewTriggerBook()
	pl := ledger.NewPositionLedger()
	mon := NewProtectiveOrderMonitor(venue, triggers, pl, testLogger())

	sl, tp := restPair(t, venue, triggers, pl)
	venue.SetOrderStatus(sl, domain.OrderStatusFilled)
	venue.failCancel[tp] = 1

	mon.CheckExclusion(context.Background())

	tr, ok := pl.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, sl, tr.StopLossOrderID, "pair stays armed after a failed cancel")
	assert.Equal(t, tp, tr.TakeProfitOrderID)
	_, ok = triggers.Get(tp)
	assert.True(t, ok)

	mon.CheckExclusion(context.Background())

	status, err := venue.Venue.QueryOrderStatus(context.Background(), "BTCUSDT", tp)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
	assert.Equal(t, 0, triggers.Len())
}

func TestCheckExclusion_UnknownOrderClearedAlone(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	tp := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 110, time.Now())
	h.triggers.Add(domain.TriggerOrderRecord{OrderID: "gone", Symbol: "BTCUSDT"})
	h.ledger.Put(domain.PositionTracker{
		Symbol:            "BTCUSDT",
		Side:              domain.SideLong,
		StopLossOrderID:   "gone",
		TakeProfitOrderID: tp,
	})

	h.mon.CheckExclusion(context.Background())

	tr, ok := h.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Empty(t, tr.StopLossOrderID, "vanished order is cleared")
	assert.Equal(t, tp, tr.TakeProfitOrderID, "resting counterpart stays armed")

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", tp)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusNew, status)
}

func TestCheckExclusion_IgnoresIncompletePairs(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	sl := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, time.Now())
	h.ledger.Put(domain.PositionTracker{
		Symbol:          "BTCUSDT",
		Side:            domain.SideLong,
		StopLossOrderID: sl,
	})

	h.mon.CheckExclusion(context.Background())

	tr, ok := h.ledger.Get("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, sl, tr.StopLossOrderID)
	assert.Equal(t, 1, h.triggers.Len())
}

func TestSeedFromVenue(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	ctx := context.Background()

	h.venue.SetPosition(domain.Position{Symbol: "ETHUSDT", Size: 2, EntryPrice: 3000, MarkPrice: 3000})
	slAck, err := h.venue.PlaceStopLoss(ctx, "ETHUSDT", domain.SideLong, 2, 2850)
	require.NoError(t, err)
	tpAck, err := h.venue.PlaceTakeProfit(ctx, "ETHUSDT", domain.SideLong, 2, 3300)
	require.NoError(t, err)

	// Short side: the protective stop rests above the mark.
	h.venue.SetPosition(domain.Position{Symbol: "BNBUSDT", Size: -10, EntryPrice: 500, MarkPrice: 500})
	shortSL, err := h.venue.PlaceStopLoss(ctx, "BNBUSDT", domain.SideShort, 10, 525)
	require.NoError(t, err)

	// A resting order with no position behind it.
	orphanAck, err := h.venue.PlaceStopLoss(ctx, "BTCUSDT", domain.SideLong, 1, 90000)
	require.NoError(t, err)

	require.NoError(t, h.mon.SeedFromVenue(ctx))

	assert.Equal(t, 4, h.triggers.Len())

	tr, ok := h.ledger.Get("ETHUSDT")
	require.True(t, ok)
	assert.Equal(t, slAck.OrderID, tr.StopLossOrderID)
	assert.Equal(t, 2850.0, tr.StopLossPrice)
	assert.Equal(t, tpAck.OrderID, tr.TakeProfitOrderID)
	assert.Equal(t, 3300.0, tr.TakeProfitPrice)

	short, ok := h.ledger.Get("BNBUSDT")
	require.True(t, ok)
	assert.Equal(t, domain.SideShort, short.Side)
	assert.Equal(t, shortSL.OrderID, short.StopLossOrderID)

	_, ok = h.ledger.Get("BTCUSDT")
	assert.False(t, ok, "a bare order never becomes a tracker")

	// Reseeding rebuilds the same state instead of accumulating.
	require.NoError(t, h.mon.SeedFromVenue(ctx))
	assert.Equal(t, 4, h.triggers.Len())

	// The seeded books drive a real sweep: the orphan gets cancelled.
	h.mon.CleanupOrphaned(ctx)
	status, err := h.venue.QueryOrderStatus(ctx, "BTCUSDT", orphanAck.OrderID)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
}

func TestCleanupOrphaned(t *testing.T) {
	t.Parallel()

	h := newMonitorHarness(t)
	now := time.Now()
	h.venue.SetPosition(domain.Position{Symbol: "ETHUSDT", Size: 1, EntryPrice: 3000, MarkPrice: 3000})

	orphan := h.placeTracked(t, "BTCUSDT", domain.PurposeClose, 95, now)
	covered := h.placeTracked(t, "ETHUSDT", domain.PurposeClose, 2800, now)

	h.mon.CleanupOrphaned(context.Background())

	status, err := h.venue.QueryOrderStatus(context.Background(), "BTCUSDT", orphan)
	require.NoError(t, err)
	assert.Equal(t, domain.OrderStatusCanceled, status)
	_, ok := h.triggers.Get(orphan)
	assert.False(t, ok)

	_, ok = h.triggers.Get(covered)
	assert.True(t, ok, "orders backed by a live position stay")
}
