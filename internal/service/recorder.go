package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TradeRecorder writes completed round trips to the history store, the audit
// log, and the event stream. Persistence failures are logged but never block
// a close: the venue-side exit has already happened by the time we record it.
type TradeRecorder struct {
	trades domain.TradeStore
	audit  domain.AuditStore
	bus    domain.EventBus
	logger *slog.Logger
}

// NewTradeRecorder creates a TradeRecorder. Any dependency may be nil; the
// recorder skips the sinks it does not have.
func NewTradeRecorder(trades domain.TradeStore, audit domain.AuditStore, bus domain.EventBus, logger *slog.Logger) *TradeRecorder {
	return &TradeRecorder{
		trades: trades,
		audit:  audit,
		bus:    bus,
		logger: logger.With(slog.String("component", "trade_recorder")),
	}
}

// Record computes PnL fields and fans the record out to every sink.
func (r *TradeRecorder) Record(ctx context.Context, symbol string, side domain.PositionSide, entry, exit, qty float64, reason string, enteredAt time.Time) {
	rec := domain.NewTradeRecord(symbol, side, entry, exit, qty, reason, enteredAt, time.Now())

	r.logger.InfoContext(ctx, "trade recorded",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.Float64("pnl", rec.PnL),
		slog.Float64("pnl_pct", rec.PnLPct),
		slog.String("reason", reason),
	)

	if r.trades != nil {
		if err := r.trades.Insert(ctx, rec); err != nil {
			r.logger.WarnContext(ctx, "failed to persist trade record",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.audit != nil {
		if err := r.audit.Log(ctx, "trade.closed", map[string]any{
			"symbol":  symbol,
			"side":    string(side),
			"pnl":     rec.PnL,
			"pnl_pct": rec.PnLPct,
			"reason":  reason,
		}); err != nil {
			r.logger.WarnContext(ctx, "failed to write audit entry",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if r.bus != nil {
		payload, err := json.Marshal(map[string]any{
			"event":   "trade.closed",
			"symbol":  symbol,
			"pnl":     rec.PnL,
			"pnl_pct": rec.PnLPct,
			"reason":  reason,
		})
		if err == nil {
			if err := r.bus.StreamAppend(ctx, "position_events", payload); err != nil {
				r.logger.WarnContext(ctx, "failed to publish trade event",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
