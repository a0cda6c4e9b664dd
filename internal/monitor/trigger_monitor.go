// Package monitor contains the periodic safety sweeps that run alongside the
// reconciliation loop: protective-order upkeep and the dust guard.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/ledger"
)

const (
	// maxTriggerAge is how long a conditional order may rest before it is
	// considered stale and cancelled.
	maxTriggerAge = 4 * time.Hour
	// driftCancelPct cancels entry triggers whose trigger price has drifted
	// this far from the market.
	driftCancelPct = 5.0
)

// ProtectiveOrderMonitor sweeps the engine's recorded conditional orders. It
// only ever touches orders in the trigger book; resting orders placed outside
// the engine are invisible to it.
type ProtectiveOrderMonitor struct {
	venue    domain.VenueClient
	triggers *ledger.TriggerBook
	ledger   *ledger.PositionLedger
	logger   *slog.Logger
}

// NewProtectiveOrderMonitor creates the monitor.
func NewProtectiveOrderMonitor(venue domain.VenueClient, triggers *ledger.TriggerBook, pl *ledger.PositionLedger, logger *slog.Logger) *ProtectiveOrderMonitor {
	return &ProtectiveOrderMonitor{
		venue:    venue,
		triggers: triggers,
		ledger:   pl,
		logger:   logger.With(slog.String("component", "trigger_monitor")),
	}
}

// MonitorOrders reconciles every recorded trigger order against the venue.
// Terminal orders are dropped from the book; stale or badly drifted open
// orders are cancelled. Per-order failures are logged and skipped.
func (m *ProtectiveOrderMonitor) MonitorOrders(ctx context.Context) {
	records := m.triggers.Snapshot()
	if len(records) == 0 {
		return
	}

	now := time.Now()
	prices := make(map[string]float64)
	var removed []string

	for _, rec := range records {
		status, err := m.venue.QueryOrderStatus(ctx, rec.Symbol, rec.OrderID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				removed = append(removed, rec.OrderID)
				continue
			}
			m.logger.WarnContext(ctx, "order status query failed",
				slog.String("symbol", rec.Symbol),
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}

		if status.Terminal() {
			if status == domain.OrderStatusFilled {
				m.logger.InfoContext(ctx, "trigger order filled",
					slog.String("symbol", rec.Symbol),
					slog.String("order_id", rec.OrderID),
					slog.String("purpose", string(rec.Purpose)),
				)
			}
			removed = append(removed, rec.OrderID)
			continue
		}

		if m.shouldCancel(ctx, rec, now, prices) {
			if err := m.venue.CancelOrder(ctx, rec.Symbol, rec.OrderID); err != nil {
				m.logger.WarnContext(ctx, "stale trigger cancel failed",
					slog.String("symbol", rec.Symbol),
					slog.String("order_id", rec.OrderID),
					slog.String("error", err.Error()),
				)
				continue
			}
			removed = append(removed, rec.OrderID)
		}
	}

	m.triggers.RemoveIDs(removed)
}

// shouldCancel applies the staleness rules: any order older than four hours,
// or an entry trigger more than 5% away from the market.
func (m *ProtectiveOrderMonitor) shouldCancel(ctx context.Context, rec domain.TriggerOrderRecord, now time.Time, prices map[string]float64) bool {
	if rec.Age(now) > maxTriggerAge {
		return true
	}
	if rec.Purpose != domain.PurposeOpen {
		return false
	}

	price, ok := prices[rec.Symbol]
	if !ok {
		p, err := m.venue.GetPrice(ctx, rec.Symbol)
		if err != nil {
			return false
		}
		price = p
		prices[rec.Symbol] = p
	}
	return rec.DriftPct(price) > driftCancelPct
}

// CheckExclusion enforces stop-loss / take-profit mutual exclusion: when one
// side of a protective pair has filled, the other is cancelled in the same
// sweep. Mutations are collected first and applied under a single write lock.
func (m *ProtectiveOrderMonitor) CheckExclusion(ctx context.Context) {
	var muts []ledger.TrackerMutation
	var droppedOrders []string

	for _, t := range m.ledger.Snapshot() {
		if t.StopLossOrderID == "" || t.TakeProfitOrderID == "" {
			continue
		}

		slStatus, slErr := m.venue.QueryOrderStatus(ctx, t.Symbol, t.StopLossOrderID)
		tpStatus, tpErr := m.venue.QueryOrderStatus(ctx, t.Symbol, t.TakeProfitOrderID)

		mut := ledger.TrackerMutation{Symbol: t.Symbol}
		changed := false

		switch {
		case slErr == nil && slStatus == domain.OrderStatusFilled:
			// Stop filled: the take-profit must not survive it. The pair's
			// state is only dropped once the counterpart is confirmed gone;
			// a transient failure keeps both records so the next sweep
			// retries.
			if !m.releaseCounterpart(ctx, t.Symbol, t.TakeProfitOrderID, tpStatus, tpErr) {
				continue
			}
			m.logger.InfoContext(ctx, "stop loss filled, take profit cancelled",
				slog.String("symbol", t.Symbol),
			)
			droppedOrders = append(droppedOrders, t.StopLossOrderID, t.TakeProfitOrderID)
			mut.ClearStopOrder, mut.ClearTPOrder = true, true
			changed = true

		case tpErr == nil && tpStatus == domain.OrderStatusFilled:
			if !m.releaseCounterpart(ctx, t.Symbol, t.StopLossOrderID, slStatus, slErr) {
				continue
			}
			m.logger.InfoContext(ctx, "take profit filled, stop loss cancelled",
				slog.String("symbol", t.Symbol),
			)
			droppedOrders = append(droppedOrders, t.StopLossOrderID, t.TakeProfitOrderID)
			mut.ClearStopOrder, mut.ClearTPOrder = true, true
			changed = true

		default:
			// Orders the venue no longer knows about are cleared one at a
			// time; the pair stays armed while both still rest.
			if errors.Is(slErr, domain.ErrNotFound) {
				droppedOrders = append(droppedOrders, t.StopLossOrderID)
				mut.ClearStopOrder = true
				changed = true
			}
			if errors.Is(tpErr, domain.ErrNotFound) {
				droppedOrders = append(droppedOrders, t.TakeProfitOrderID)
				mut.ClearTPOrder = true
				changed = true
			}
		}

		if changed {
			muts = append(muts, mut)
		}
	}

	m.ledger.Apply(muts)
	m.triggers.RemoveIDs(droppedOrders)
}

// releaseCounterpart cancels the surviving side of a protective pair and
// reports whether its tracking may be dropped. Only an order confirmed
// terminal, unknown to the venue, or successfully cancelled counts as
// released.
func (m *ProtectiveOrderMonitor) releaseCounterpart(ctx context.Context, symbol, orderID string, status domain.OrderStatus, statusErr error) bool {
	if statusErr != nil {
		if errors.Is(statusErr, domain.ErrNotFound) {
			return true
		}
		m.logger.WarnContext(ctx, "counterpart status unknown, keeping pair",
			slog.String("symbol", symbol),
			slog.String("order_id", orderID),
			slog.String("error", statusErr.Error()),
		)
		return false
	}
	if status.Terminal() {
		return true
	}
	if err := m.venue.CancelOrder(ctx, symbol, orderID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return true
		}
		m.logger.WarnContext(ctx, "counterpart cancel failed, keeping pair",
			slog.String("symbol", symbol),
			slog.String("order_id", orderID),
			slog.String("error", err.Error()),
		)
		return false
	}
	return true
}

// SeedFromVenue rebuilds the monitor's books from the venue's own view:
// every open position becomes a tracker and every resting order a book
// record. A standalone monitor process calls this before each sweep so it
// maintains orders it did not place itself.
func (m *ProtectiveOrderMonitor) SeedFromVenue(ctx context.Context) error {
	positions, err := m.venue.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("trigger monitor: seed positions: %w", err)
	}
	orders, err := m.venue.ListOpenOrders(ctx, "")
	if err != nil {
		return fmt.Errorf("trigger monitor: seed open orders: %w", err)
	}

	live := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			live[p.Symbol] = p
		}
	}

	// Drop the previous sweep's state before rebuilding.
	var symbols []string
	for _, t := range m.ledger.Snapshot() {
		symbols = append(symbols, t.Symbol)
	}
	m.ledger.RemoveAll(symbols)
	var ids []string
	for _, rec := range m.triggers.Snapshot() {
		ids = append(ids, rec.OrderID)
	}
	m.triggers.RemoveIDs(ids)

	now := time.Now()
	trackers := make(map[string]domain.PositionTracker, len(live))
	for sym, p := range live {
		size := p.Size
		if size < 0 {
			size = -size
		}
		trackers[sym] = domain.PositionTracker{
			Symbol:     sym,
			Side:       p.Side(),
			EntryPrice: p.EntryPrice,
			Quantity:   size,
			CreatedAt:  now,
		}
	}

	for _, rec := range orders {
		m.triggers.Add(rec)
		t, ok := trackers[rec.Symbol]
		if !ok || rec.Purpose != domain.PurposeClose {
			continue
		}
		// A protective stop rests on the losing side of the mark, the
		// take-profit on the winning side.
		below := rec.TriggerPrice < live[rec.Symbol].MarkPrice
		if (t.Side == domain.SideLong) == below {
			t.StopLossOrderID = rec.OrderID
			t.StopLossPrice = rec.TriggerPrice
		} else {
			t.TakeProfitOrderID = rec.OrderID
			t.TakeProfitPrice = rec.TriggerPrice
		}
		trackers[rec.Symbol] = t
	}

	for _, t := range trackers {
		m.ledger.Put(t)
	}
	return nil
}

// CleanupOrphaned cancels trigger orders whose symbol no longer has a live
// position, and drops their book entries.
func (m *ProtectiveOrderMonitor) CleanupOrphaned(ctx context.Context) {
	records := m.triggers.Snapshot()
	if len(records) == 0 {
		return
	}

	positions, err := m.venue.GetPositions(ctx)
	if err != nil {
		m.logger.WarnContext(ctx, "orphan cleanup skipped, positions unavailable",
			slog.String("error", err.Error()),
		)
		return
	}
	live := make(map[string]bool, len(positions))
	for _, p := range positions {
		if p.Size != 0 {
			live[p.Symbol] = true
		}
	}

	var removed []string
	for _, rec := range records {
		if live[rec.Symbol] {
			continue
		}
		if err := m.venue.CancelOrder(ctx, rec.Symbol, rec.OrderID); err != nil && !errors.Is(err, domain.ErrNotFound) {
			m.logger.WarnContext(ctx, "orphaned trigger cancel failed",
				slog.String("symbol", rec.Symbol),
				slog.String("order_id", rec.OrderID),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.logger.InfoContext(ctx, "orphaned trigger order cancelled",
			slog.String("symbol", rec.Symbol),
			slog.String("order_id", rec.OrderID),
		)
		removed = append(removed, rec.OrderID)
	}
	m.triggers.RemoveIDs(removed)
}
