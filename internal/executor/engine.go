// Package executor closes positions against the venue. Every close re-queries
// the live position first: the venue's view of size and side is authoritative,
// never the ledger's.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/service"
)

// dustQty is the residual size below which a "position" is just rounding
// noise: we clear tracking without sending an order.
const dustQty = 1e-4

// Alerter delivers critical operator alerts. Satisfied by notify.Notifier.
type Alerter interface {
	Critical(ctx context.Context, title, message string) error
}

// Engine executes full and partial closes with retry and market fallback.
type Engine struct {
	venue    domain.VenueClient
	ledger   *ledger.PositionLedger
	staged   *ledger.StagedBook
	triggers *ledger.TriggerBook
	recorder *service.TradeRecorder
	alerter  Alerter
	logger   *slog.Logger
}

// NewEngine creates an execution engine.
func NewEngine(venue domain.VenueClient, pl *ledger.PositionLedger, staged *ledger.StagedBook, triggers *ledger.TriggerBook, recorder *service.TradeRecorder, alerter Alerter, logger *slog.Logger) *Engine {
	return &Engine{
		venue:    venue,
		ledger:   pl,
		staged:   staged,
		triggers: triggers,
		recorder: recorder,
		alerter:  alerter,
		logger:   logger.With(slog.String("component", "executor")),
	}
}

// CloseFully closes the entire position for symbol. It cancels known
// protective orders best-effort, re-queries the venue for the authoritative
// size and side, closes, records the trade, and clears all tracking state.
func (e *Engine) CloseFully(ctx context.Context, symbol, reason string) error {
	e.cancelProtectiveOrders(ctx, symbol)

	live, err := e.venue.GetPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// Already flat on the venue. Nothing to close, just forget it.
			e.clearTracking(symbol)
			return nil
		}
		return fmt.Errorf("executor: close %s: query position: %w", symbol, err)
	}

	size := live.Size
	if size < 0 {
		size = -size
	}
	if size < dustQty {
		e.clearTracking(symbol)
		return nil
	}

	side := live.Side()
	ack, err := e.venue.ClosePosition(ctx, symbol, side, size)
	if err != nil {
		return fmt.Errorf("executor: close %s: %w", symbol, err)
	}

	exitPrice := ack.AvgPrice
	if exitPrice == 0 {
		exitPrice = live.MarkPrice
	}
	e.recordClose(ctx, symbol, side, live.EntryPrice, exitPrice, size, reason)
	e.clearTracking(symbol)

	e.logger.InfoContext(ctx, "position closed",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("qty", size),
		slog.Float64("exit_price", exitPrice),
		slog.String("reason", reason),
	)
	return nil
}

// CloseFullyWithRetry calls CloseFully up to attempts times with exponential
// backoff, then falls back to a direct market close from freshly queried
// state. If even the fallback fails it raises a critical alert and returns
// the error: the position is live and untended.
func (e *Engine) CloseFullyWithRetry(ctx context.Context, symbol, reason string, attempts int) error {
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt)) * time.Second
			select {
			case <-ctx.Done():
				return fmt.Errorf("executor: close retry %s: %w", symbol, ctx.Err())
			case <-time.After(backoff):
			}
		}
		if lastErr = e.CloseFully(ctx, symbol, reason); lastErr == nil {
			return nil
		}
		e.logger.WarnContext(ctx, "close attempt failed",
			slog.String("symbol", symbol),
			slog.Int("attempt", attempt+1),
			slog.String("error", lastErr.Error()),
		)
	}

	// Fallback: market close from purely live-queried state.
	fbErr := e.marketFallback(ctx, symbol, reason)
	if fbErr == nil {
		return nil
	}
	lastErr = fbErr

	e.logger.ErrorContext(ctx, "close failed after retries and fallback",
		slog.String("symbol", symbol),
		slog.String("reason", reason),
		slog.String("error", lastErr.Error()),
	)
	if e.alerter != nil {
		_ = e.alerter.Critical(ctx,
			"position close failed",
			fmt.Sprintf("%s could not be closed (%s): %v. Manual intervention required.", symbol, reason, lastErr),
		)
	}
	return fmt.Errorf("executor: close %s exhausted %d attempts: %w", symbol, attempts, lastErr)
}

// marketFallback re-queries the live position and fires one unconditional
// market close with whatever size and side the venue reports now.
func (e *Engine) marketFallback(ctx context.Context, symbol, reason string) error {
	live, err := e.venue.GetPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.clearTracking(symbol)
			return nil
		}
		return fmt.Errorf("executor: fallback %s: query position: %w", symbol, err)
	}
	size := live.Size
	if size < 0 {
		size = -size
	}
	if size < dustQty {
		e.clearTracking(symbol)
		return nil
	}

	side := live.Side()
	ack, err := e.venue.ClosePosition(ctx, symbol, side, size)
	if err != nil {
		return fmt.Errorf("executor: fallback %s: %w", symbol, err)
	}

	exitPrice := ack.AvgPrice
	if exitPrice == 0 {
		exitPrice = live.MarkPrice
	}
	e.recordClose(ctx, symbol, side, live.EntryPrice, exitPrice, size, reason+"_fallback")
	e.clearTracking(symbol)

	e.logger.WarnContext(ctx, "position closed via market fallback",
		slog.String("symbol", symbol),
		slog.Float64("qty", size),
		slog.String("reason", reason),
	)
	return nil
}

// ClosePartially closes pct percent of the live position. The close amount is
// computed from the venue's current size, and the ledger is resynced from a
// fresh post-close query so partial fills land on the true remainder.
func (e *Engine) ClosePartially(ctx context.Context, symbol string, pct float64, reason string) error {
	if pct <= 0 || pct >= 100 {
		return fmt.Errorf("executor: partial close %s: pct %.2f out of range", symbol, pct)
	}

	live, err := e.venue.GetPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.clearTracking(symbol)
			return nil
		}
		return fmt.Errorf("executor: partial close %s: query position: %w", symbol, err)
	}

	size := live.Size
	if size < 0 {
		size = -size
	}
	closeQty := size * pct / 100
	if rules, rerr := e.venue.GetTradingRules(ctx, symbol); rerr == nil {
		closeQty = rules.RoundQty(closeQty)
	}
	if closeQty < dustQty {
		return fmt.Errorf("executor: partial close %s: computed qty %.8f too small", symbol, closeQty)
	}

	side := live.Side()
	ack, err := e.venue.ClosePosition(ctx, symbol, side, closeQty)
	if err != nil {
		// The venue may have rejected on size drift. Resync from a fresh
		// query either way so the ledger converges on reality.
		e.resyncFromVenue(ctx, symbol)
		return fmt.Errorf("executor: partial close %s: %w", symbol, err)
	}

	exitPrice := ack.AvgPrice
	if exitPrice == 0 {
		exitPrice = live.MarkPrice
	}
	e.recordClose(ctx, symbol, side, live.EntryPrice, exitPrice, closeQty, reason)

	e.resyncFromVenue(ctx, symbol)

	e.logger.InfoContext(ctx, "position partially closed",
		slog.String("symbol", symbol),
		slog.Float64("pct", pct),
		slog.Float64("qty", closeQty),
		slog.String("reason", reason),
	)
	return nil
}

// resyncFromVenue updates the tracked quantity from a fresh position query,
// removing the tracker entirely when the venue reports flat.
func (e *Engine) resyncFromVenue(ctx context.Context, symbol string) {
	live, err := e.venue.GetPosition(ctx, symbol)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			e.clearTracking(symbol)
			return
		}
		e.logger.WarnContext(ctx, "post-close resync failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
		return
	}
	size := live.Size
	if size < 0 {
		size = -size
	}
	if size < dustQty {
		e.clearTracking(symbol)
		return
	}
	e.ledger.Apply([]ledger.TrackerMutation{{Symbol: symbol, Quantity: &size}})
}

// cancelProtectiveOrders cancels the tracker's recorded SL/TP orders.
// Cancellation failures are logged and ignored: a stale protective order on a
// closed position is harmless next to a failed close.
func (e *Engine) cancelProtectiveOrders(ctx context.Context, symbol string) {
	t, ok := e.ledger.Get(symbol)
	if !ok {
		return
	}
	for _, orderID := range []string{t.StopLossOrderID, t.TakeProfitOrderID} {
		if orderID == "" {
			continue
		}
		if err := e.venue.CancelOrder(ctx, symbol, orderID); err != nil {
			e.logger.WarnContext(ctx, "protective order cancel failed",
				slog.String("symbol", symbol),
				slog.String("order_id", orderID),
				slog.String("error", err.Error()),
			)
		}
	}
}

// recordClose writes the trade using the tracker's entry data when available,
// falling back to the staged book's average cost.
func (e *Engine) recordClose(ctx context.Context, symbol string, side domain.PositionSide, liveEntry, exitPrice, qty float64, reason string) {
	if e.recorder == nil {
		return
	}
	entry := liveEntry
	enteredAt := time.Now()
	if t, ok := e.ledger.Get(symbol); ok {
		if t.EntryPrice > 0 {
			entry = t.EntryPrice
		}
		if !t.CreatedAt.IsZero() {
			enteredAt = t.CreatedAt
		}
	} else if sp, ok := e.staged.Get(symbol); ok {
		if sp.AvgCost > 0 {
			entry = sp.AvgCost
		}
		if !sp.EnteredAt.IsZero() {
			enteredAt = sp.EnteredAt
		}
	}
	e.recorder.Record(ctx, symbol, side, entry, exitPrice, qty, reason, enteredAt)
}

// RecordTrigger registers a conditional order the engine has placed so the
// monitors will sweep it.
func (e *Engine) RecordTrigger(rec domain.TriggerOrderRecord) {
	e.triggers.Add(rec)
}

// clearTracking drops every tracking structure for a symbol.
func (e *Engine) clearTracking(symbol string) {
	e.ledger.Remove(symbol)
	e.staged.Remove(symbol)
	e.triggers.RemoveSymbol(symbol)
}
