// Package service contains the engine's orchestration services: staged entry
// control, evaluator context building, and trade recording.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/ledger"
)

// Staged-entry sizing and stop parameters.
const (
	// addOnCapitalFraction is the share of remaining capital committed by
	// the add-on tranche.
	addOnCapitalFraction = 0.7
	// stageStopPct tightens the stop to 2% behind the add-on price.
	stageStopPct = 0.02
)

// StagedEntryController drives the two-tranche entry lifecycle: a small trial
// probe first, then a committed add-on once the launch is confirmed.
type StagedEntryController struct {
	book   *ledger.StagedBook
	venue  domain.VenueClient
	scorer LaunchScorer
	bus    domain.EventBus
	logger *slog.Logger
}

// LaunchScorer scores launch confirmation from multi-timeframe candles. The
// strategy package provides the production implementation.
type LaunchScorer interface {
	Score(symbol string, k5m, k15m, k1h []domain.Kline, entryPrice, currentPrice float64) domain.LaunchSignal
}

// NewStagedEntryController creates the controller.
func NewStagedEntryController(book *ledger.StagedBook, venue domain.VenueClient, scorer LaunchScorer, bus domain.EventBus, logger *slog.Logger) *StagedEntryController {
	return &StagedEntryController{
		book:   book,
		venue:  venue,
		scorer: scorer,
		bus:    bus,
		logger: logger.With(slog.String("component", "staged_entry")),
	}
}

// TrialQty sizes the trial tranche: capital x fraction x leverage / price.
func TrialQty(availableCapital, positionFraction, leverage, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return availableCapital * positionFraction * leverage / price
}

// AddOnQty sizes the add-on tranche from the remaining capital.
func AddOnQty(availableCapital, leverage, price float64) float64 {
	if price <= 0 {
		return 0
	}
	return availableCapital * addOnCapitalFraction * leverage / price
}

// OpenTrial opens the trial tranche for a new symbol. It returns
// domain.ErrPositionExists when a staged record is already present.
func (c *StagedEntryController) OpenTrial(ctx context.Context, dec domain.EntryDecision, availableCapital, leverage float64) (domain.StagedPosition, error) {
	if _, exists := c.book.Get(dec.Symbol); exists {
		return domain.StagedPosition{}, fmt.Errorf("service: open trial %s: %w", dec.Symbol, domain.ErrPositionExists)
	}

	qty := TrialQty(availableCapital, dec.PositionFraction, leverage, dec.Price)
	if qty <= 0 {
		return domain.StagedPosition{}, fmt.Errorf("service: open trial %s: zero quantity at price %.6f", dec.Symbol, dec.Price)
	}

	rules, err := c.venue.GetTradingRules(ctx, dec.Symbol)
	if err == nil {
		qty = rules.RoundQty(qty)
	}

	ack, err := c.venue.OpenPosition(ctx, dec.Symbol, dec.Side, qty)
	if err != nil {
		return domain.StagedPosition{}, fmt.Errorf("service: open trial %s: %w", dec.Symbol, err)
	}

	fillPrice := ack.AvgPrice
	if fillPrice == 0 {
		fillPrice = dec.Price
	}

	now := time.Now()
	sp := domain.StagedPosition{
		Symbol:    dec.Symbol,
		Side:      dec.Side,
		Stage:     domain.StageTrial,
		TrialQty:  qty,
		AvgCost:   fillPrice,
		StopLoss:  dec.StopLoss,
		EnteredAt: now,
	}
	c.book.Put(sp)

	c.logger.InfoContext(ctx, "trial tranche opened",
		slog.String("symbol", dec.Symbol),
		slog.String("side", string(dec.Side)),
		slog.Float64("qty", qty),
		slog.Float64("price", fillPrice),
		slog.String("reason", dec.Reason),
	)
	c.publish(ctx, "position.trial_opened", sp)

	return sp, nil
}

// CheckLaunch scores the launch confirmation for a trial position. It returns
// false with a reason when the stage is wrong or any sub-signal is missing.
func (c *StagedEntryController) CheckLaunch(ctx context.Context, symbol string) (domain.LaunchSignal, bool, error) {
	sp, ok := c.book.Get(symbol)
	if !ok || sp.Stage != domain.StageTrial {
		return domain.LaunchSignal{}, false, nil
	}

	k5m, err := c.venue.GetKlines(ctx, symbol, domain.Interval5m, 10)
	if err != nil {
		return domain.LaunchSignal{}, false, fmt.Errorf("service: launch check %s 5m klines: %w", symbol, err)
	}
	k15m, err := c.venue.GetKlines(ctx, symbol, domain.Interval15m, 22)
	if err != nil {
		return domain.LaunchSignal{}, false, fmt.Errorf("service: launch check %s 15m klines: %w", symbol, err)
	}
	k1h, err := c.venue.GetKlines(ctx, symbol, domain.Interval1h, 6)
	if err != nil {
		return domain.LaunchSignal{}, false, fmt.Errorf("service: launch check %s 1h klines: %w", symbol, err)
	}
	price, err := c.venue.GetPrice(ctx, symbol)
	if err != nil {
		return domain.LaunchSignal{}, false, fmt.Errorf("service: launch check %s price: %w", symbol, err)
	}

	sig := c.scorer.Score(symbol, k5m, k15m, k1h, sp.AvgCost, price)

	c.logger.DebugContext(ctx, "launch signal scored",
		slog.String("symbol", symbol),
		slog.Int("score", sig.Score),
		slog.Bool("all_confirmed", sig.AllConfirmed),
	)

	return sig, sig.AllConfirmed, nil
}

// ExecuteAddOn commits the add-on tranche for a confirmed trial position. It
// returns domain.ErrWrongStage unless the symbol is in the trial stage. The
// average cost becomes the quantity-weighted mean of both tranches and the
// stop tightens to 2% behind the add-on price.
func (c *StagedEntryController) ExecuteAddOn(ctx context.Context, symbol string, availableCapital, leverage float64) (domain.StagedPosition, error) {
	sp, ok := c.book.Get(symbol)
	if !ok || sp.Stage != domain.StageTrial {
		return domain.StagedPosition{}, fmt.Errorf("service: add-on %s: %w", symbol, domain.ErrWrongStage)
	}

	price, err := c.venue.GetPrice(ctx, symbol)
	if err != nil {
		return domain.StagedPosition{}, fmt.Errorf("service: add-on %s price: %w", symbol, err)
	}

	qty := AddOnQty(availableCapital, leverage, price)
	if qty <= 0 {
		return domain.StagedPosition{}, fmt.Errorf("service: add-on %s: zero quantity at price %.6f", symbol, price)
	}
	rules, err := c.venue.GetTradingRules(ctx, symbol)
	if err == nil {
		qty = rules.RoundQty(qty)
	}

	ack, err := c.venue.OpenPosition(ctx, symbol, sp.Side, qty)
	if err != nil {
		return domain.StagedPosition{}, fmt.Errorf("service: add-on %s: %w", symbol, err)
	}
	fillPrice := ack.AvgPrice
	if fillPrice == 0 {
		fillPrice = price
	}

	sp.AvgCost = WeightedAvgCost(sp.AvgCost, sp.TrialQty, fillPrice, qty)
	sp.AddOnQty = qty
	sp.StopLoss = StageStop(sp.Side, fillPrice)
	sp.Stage = domain.StageFull
	sp.LastAddedAt = time.Now()
	c.book.Put(sp)

	c.logger.InfoContext(ctx, "add-on tranche executed",
		slog.String("symbol", symbol),
		slog.Float64("qty", qty),
		slog.Float64("price", fillPrice),
		slog.Float64("avg_cost", sp.AvgCost),
		slog.Float64("stop_loss", sp.StopLoss),
	)
	c.publish(ctx, "position.stage_advanced", sp)

	return sp, nil
}

// WeightedAvgCost combines two tranches into a quantity-weighted mean.
func WeightedAvgCost(p1, q1, p2, q2 float64) float64 {
	total := q1 + q2
	if total == 0 {
		return 0
	}
	return (p1*q1 + p2*q2) / total
}

// StageStop places the post-add-on stop 2% behind the add-on price.
func StageStop(side domain.PositionSide, addOnPrice float64) float64 {
	if side == domain.SideShort {
		return addOnPrice * (1 + stageStopPct)
	}
	return addOnPrice * (1 - stageStopPct)
}

// CheckStagedStop evaluates the time-laddered exit checkpoints for a staged
// position and returns a close reason when one trips. The ladder: down 1.5%
// inside 30 minutes, down 2% or flat after an hour, under 1% gain after four
// hours, or price through the stage stop at any time.
func CheckStagedStop(sp domain.StagedPosition, currentPrice float64, now time.Time) (string, bool) {
	profit := sp.ProfitPct(currentPrice)
	held := sp.HoldDuration(now)

	stopped := false
	if sp.StopLoss > 0 {
		if sp.Side == domain.SideShort {
			stopped = currentPrice >= sp.StopLoss
		} else {
			stopped = currentPrice <= sp.StopLoss
		}
	}

	switch {
	case stopped:
		return "staged_stop_price", true
	case held <= 30*time.Minute && profit < -1.5:
		return "staged_stop_30min_-1.5pct", true
	case held > 30*time.Minute && held <= time.Hour && profit < -2:
		return "staged_stop_60min_-2pct", true
	case held > time.Hour && held <= 4*time.Hour && profit <= 0:
		return "staged_stop_60min_flat", true
	case held > 4*time.Hour && profit < 1:
		return "staged_stop_4h_weak", true
	}
	return "", false
}

// publish serialises the staged record onto the event stream. Failures are
// logged and swallowed; eventing never blocks the entry path.
func (c *StagedEntryController) publish(ctx context.Context, event string, sp domain.StagedPosition) {
	if c.bus == nil {
		return
	}
	payload, err := json.Marshal(map[string]any{
		"event":    event,
		"symbol":   sp.Symbol,
		"side":     sp.Side,
		"stage":    sp.Stage,
		"avg_cost": sp.AvgCost,
		"qty":      sp.TotalQty(),
	})
	if err != nil {
		return
	}
	if err := c.bus.StreamAppend(ctx, "position_events", payload); err != nil {
		c.logger.WarnContext(ctx, "failed to publish position event",
			slog.String("event", event),
			slog.String("symbol", sp.Symbol),
			slog.String("error", err.Error()),
		)
	}
}
