// Package feed bridges external signal sources into the engine. EntryFeed
// consumes entry decisions from the durable Redis stream and opens trial
// tranches through the staged entry controller.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/service"
)

const (
	entryStream   = "entry_signals"
	pollInterval  = 5 * time.Second
	readBatchSize = 32
)

// entrySignal is the JSON shape appended to the entry_signals stream.
type entrySignal struct {
	Symbol           string  `json:"symbol"`
	Side             string  `json:"side"`
	Price            float64 `json:"price"`
	PositionFraction float64 `json:"position_fraction"`
	StopLoss         float64 `json:"stop_loss"`
	TakeProfit       float64 `json:"take_profit"`
	Reason           string  `json:"reason"`
}

// EntryFeed polls the entry_signals stream and turns each signal into a trial
// entry: open the tranche, register a tracker, and place the protective
// orders the signal carries.
type EntryFeed struct {
	bus        domain.EventBus
	venue      domain.VenueClient
	controller *service.StagedEntryController
	ledger     *ledger.PositionLedger
	engine     *executor.Engine
	quoteAsset string
	leverage   float64
	logger     *slog.Logger

	lastID string
}

// NewEntryFeed creates an EntryFeed. Reading starts after any entries already
// in the stream.
func NewEntryFeed(
	bus domain.EventBus,
	venue domain.VenueClient,
	controller *service.StagedEntryController,
	pl *ledger.PositionLedger,
	engine *executor.Engine,
	quoteAsset string,
	leverage float64,
	logger *slog.Logger,
) *EntryFeed {
	return &EntryFeed{
		bus:        bus,
		venue:      venue,
		controller: controller,
		ledger:     pl,
		engine:     engine,
		quoteAsset: quoteAsset,
		leverage:   leverage,
		logger:     logger.With(slog.String("component", "entry_feed")),
		lastID:     "$",
	}
}

// Run polls the stream until the context is cancelled.
func (f *EntryFeed) Run(ctx context.Context) error {
	// Resolve "$" to a concrete ID so subsequent reads are incremental.
	if f.lastID == "$" {
		f.lastID = "0"
		if msgs, err := f.bus.StreamRead(ctx, entryStream, "0", 0); err == nil && len(msgs) > 0 {
			f.lastID = msgs[len(msgs)-1].ID
		}
	}

	f.logger.Info("entry feed started")
	defer f.logger.Info("entry feed stopped")

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			f.poll(ctx)
		}
	}
}

func (f *EntryFeed) poll(ctx context.Context) {
	msgs, err := f.bus.StreamRead(ctx, entryStream, f.lastID, readBatchSize)
	if err != nil {
		f.logger.WarnContext(ctx, "entry stream read failed",
			slog.String("error", err.Error()),
		)
		return
	}

	for _, msg := range msgs {
		f.lastID = msg.ID

		var sig entrySignal
		if err := json.Unmarshal(msg.Payload, &sig); err != nil {
			f.logger.WarnContext(ctx, "malformed entry signal dropped",
				slog.String("id", msg.ID),
				slog.String("error", err.Error()),
			)
			continue
		}
		f.handle(ctx, sig)
	}
}

// handle opens the trial tranche for one signal. Duplicate signals for an
// already-staged symbol are skipped quietly.
func (f *EntryFeed) handle(ctx context.Context, sig entrySignal) {
	side := domain.PositionSide(sig.Side)
	if side != domain.SideLong && side != domain.SideShort {
		f.logger.WarnContext(ctx, "entry signal with unknown side dropped",
			slog.String("symbol", sig.Symbol),
			slog.String("side", sig.Side),
		)
		return
	}

	balance, err := f.venue.GetBalance(ctx, f.quoteAsset)
	if err != nil {
		f.logger.WarnContext(ctx, "entry skipped, balance unavailable",
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	dec := domain.EntryDecision{
		Symbol:           sig.Symbol,
		Side:             side,
		Price:            sig.Price,
		PositionFraction: sig.PositionFraction,
		StopLoss:         sig.StopLoss,
		TakeProfit:       sig.TakeProfit,
		Reason:           sig.Reason,
	}

	sp, err := f.controller.OpenTrial(ctx, dec, balance.Available, f.leverage)
	if err != nil {
		if errors.Is(err, domain.ErrPositionExists) {
			f.logger.DebugContext(ctx, "entry signal for staged symbol skipped",
				slog.String("symbol", sig.Symbol),
			)
			return
		}
		f.logger.WarnContext(ctx, "trial entry failed",
			slog.String("symbol", sig.Symbol),
			slog.String("error", err.Error()),
		)
		return
	}

	tracker := domain.PositionTracker{
		Symbol:          sp.Symbol,
		Side:            sp.Side,
		EntryPrice:      sp.AvgCost,
		Quantity:        sp.TrialQty,
		StopLossPrice:   sig.StopLoss,
		TakeProfitPrice: sig.TakeProfit,
		CreatedAt:       sp.EnteredAt,
	}
	f.placeProtective(ctx, &tracker, sp)
	f.ledger.Put(tracker)
}

// placeProtective places the stop-loss and take-profit carried by the signal
// and records the trigger orders. Placement failures leave the position
// unprotected but tracked; the reconcile loop's hard rules still apply.
func (f *EntryFeed) placeProtective(ctx context.Context, tracker *domain.PositionTracker, sp domain.StagedPosition) {
	if tracker.StopLossPrice > 0 {
		ack, err := f.venue.PlaceStopLoss(ctx, sp.Symbol, sp.Side, sp.TrialQty, tracker.StopLossPrice)
		if err != nil {
			f.logger.WarnContext(ctx, "stop-loss placement failed",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			tracker.StopLossOrderID = ack.OrderID
			f.engine.RecordTrigger(domain.TriggerOrderRecord{
				OrderID:      ack.OrderID,
				Symbol:       sp.Symbol,
				Side:         sp.Side,
				Purpose:      domain.PurposeClose,
				TriggerPrice: tracker.StopLossPrice,
				Quantity:     sp.TrialQty,
				PlacedAt:     time.Now(),
			})
		}
	}

	if tracker.TakeProfitPrice > 0 {
		ack, err := f.venue.PlaceTakeProfit(ctx, sp.Symbol, sp.Side, sp.TrialQty, tracker.TakeProfitPrice)
		if err != nil {
			f.logger.WarnContext(ctx, "take-profit placement failed",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
		} else {
			tracker.TakeProfitOrderID = ack.OrderID
			f.engine.RecordTrigger(domain.TriggerOrderRecord{
				OrderID:      ack.OrderID,
				Symbol:       sp.Symbol,
				Side:         sp.Side,
				Purpose:      domain.PurposeClose,
				TriggerPrice: tracker.TakeProfitPrice,
				Quantity:     sp.TrialQty,
				PlacedAt:     time.Now(),
			})
		}
	}
}
