package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/monitor"
	"github.com/alanyoungcy/perpbot/internal/service"
)

const closeAttempts = 3

// Config tunes the reconciliation loop.
type Config struct {
	// Interval between passes.
	Interval time.Duration
	// Leverage used when sizing add-on tranches.
	Leverage float64
	// QuoteAsset is the margin currency queried for available capital.
	QuoteAsset string
	// TriggerSweepEvery runs the protective-order sweep every Nth pass.
	TriggerSweepEvery int
	// OrphanSweepEvery runs the orphaned-trigger cleanup every Nth pass.
	OrphanSweepEvery int
	// StaleSweepEvery runs the stale-tracker check every Nth pass.
	StaleSweepEvery int
	// StaleAfter flags trackers unchecked for this long.
	StaleAfter time.Duration
}

// Defaults fills zero fields with the standard cadence.
func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 180 * time.Second
	}
	if c.Leverage <= 0 {
		c.Leverage = 10
	}
	if c.QuoteAsset == "" {
		c.QuoteAsset = "USDT"
	}
	if c.TriggerSweepEvery <= 0 {
		c.TriggerSweepEvery = 2
	}
	if c.OrphanSweepEvery <= 0 {
		c.OrphanSweepEvery = 10
	}
	if c.StaleSweepEvery <= 0 {
		c.StaleSweepEvery = 12
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 24 * time.Hour
	}
	return c
}

// Loop is the reconciliation driver. One pass snapshots the ledger, fetches
// live positions once, applies hard rules, batches the remainder through the
// evaluator, executes the collected actions, and finally applies ledger
// mutations in short critical sections.
type Loop struct {
	cfg        Config
	venue      domain.VenueClient
	ledger     *ledger.PositionLedger
	staged     *ledger.StagedBook
	controller *service.StagedEntryController
	builder    *service.ContextBuilder
	evaluator  domain.Evaluator
	engine     *executor.Engine
	trigMon    *monitor.ProtectiveOrderMonitor
	dust       *monitor.DustGuard
	priceCache domain.PriceCache
	logger     *slog.Logger

	passCount int
}

// New creates the loop. trigMon, dust, and priceCache may be nil; the
// corresponding sweeps are skipped.
func New(
	cfg Config,
	venue domain.VenueClient,
	pl *ledger.PositionLedger,
	staged *ledger.StagedBook,
	controller *service.StagedEntryController,
	builder *service.ContextBuilder,
	evaluator domain.Evaluator,
	engine *executor.Engine,
	trigMon *monitor.ProtectiveOrderMonitor,
	dust *monitor.DustGuard,
	priceCache domain.PriceCache,
	logger *slog.Logger,
) *Loop {
	return &Loop{
		cfg:        cfg.withDefaults(),
		venue:      venue,
		ledger:     pl,
		staged:     staged,
		controller: controller,
		builder:    builder,
		evaluator:  evaluator,
		engine:     engine,
		trigMon:    trigMon,
		dust:       dust,
		priceCache: priceCache,
		logger:     logger.With(slog.String("component", "reconcile")),
	}
}

// Run executes passes at the configured interval until the context ends. An
// initial sync adopts any venue positions that predate this process.
func (l *Loop) Run(ctx context.Context) error {
	if err := l.SyncFromVenue(ctx); err != nil {
		l.logger.WarnContext(ctx, "initial venue sync failed",
			slog.String("error", err.Error()),
		)
	}

	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			l.RunPass(ctx)
		}
	}
}

// SyncFromVenue adopts live venue positions that have no tracker, so a
// restarted engine resumes managing what it (or an operator) already holds.
func (l *Loop) SyncFromVenue(ctx context.Context) error {
	positions, err := l.venue.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: sync positions: %w", err)
	}

	adopted := 0
	now := time.Now()
	for _, p := range positions {
		if p.Size == 0 || p.Notional() < dustNotionalUSD {
			continue
		}
		if _, tracked := l.ledger.Get(p.Symbol); tracked {
			continue
		}
		size := p.Size
		if size < 0 {
			size = -size
		}
		l.ledger.Put(domain.PositionTracker{
			Symbol:     p.Symbol,
			Side:       p.Side(),
			EntryPrice: p.EntryPrice,
			Quantity:   size,
			CreatedAt:  now,
		})
		adopted++
	}
	if adopted > 0 {
		l.logger.InfoContext(ctx, "adopted pre-existing positions",
			slog.Int("count", adopted),
		)
	}
	return nil
}

// RunPass executes one reconciliation pass. A pass over unchanged inputs
// produces no actions and no state changes beyond check timestamps.
func (l *Loop) RunPass(ctx context.Context) {
	l.passCount++
	trackers := l.ledger.Snapshot()

	if len(trackers) > 0 {
		l.reconcileTrackers(ctx, trackers)
	}

	l.maintainStaged(ctx)

	if l.trigMon != nil {
		if l.passCount%l.cfg.TriggerSweepEvery == 0 {
			l.trigMon.MonitorOrders(ctx)
			l.trigMon.CheckExclusion(ctx)
		}
		if l.passCount%l.cfg.OrphanSweepEvery == 0 {
			l.trigMon.CleanupOrphaned(ctx)
		}
	}
	if l.dust != nil {
		l.dust.Sweep(ctx)
	}
	if l.passCount%l.cfg.StaleSweepEvery == 0 {
		stale := l.ledger.StaleSymbols(time.Now().Add(-l.cfg.StaleAfter))
		if len(stale) > 0 {
			l.logger.WarnContext(ctx, "trackers have gone stale",
				slog.Any("symbols", stale),
			)
		}
	}
}

// reconcileTrackers is the core of the pass: collect actions for every
// tracked symbol, then execute and apply them.
func (l *Loop) reconcileTrackers(ctx context.Context, trackers []domain.PositionTracker) {
	positions, err := l.venue.GetPositions(ctx)
	if err != nil {
		l.logger.WarnContext(ctx, "pass skipped, positions unavailable",
			slog.String("error", err.Error()),
		)
		return
	}
	live := make(map[string]domain.Position, len(positions))
	for _, p := range positions {
		live[p.Symbol] = p
	}

	now := time.Now()
	var (
		removals   []domain.Remove
		hardCloses []domain.FullClose
		contexts   []domain.PositionContext
		checked    []string
	)

	for _, t := range trackers {
		checked = append(checked, t.Symbol)

		p, ok := live[t.Symbol]
		if !ok || p.Size == 0 {
			removals = append(removals, domain.Remove{Symbol: t.Symbol, Tag: "venue_flat"})
			l.logger.InfoContext(ctx, "venue reports no position, dropping tracker",
				slog.String("symbol", t.Symbol),
			)
			continue
		}

		l.cachePrice(ctx, t.Symbol, p.MarkPrice, now)

		if p.Notional() < dustNotionalUSD {
			removals = append(removals, domain.Remove{Symbol: t.Symbol, Tag: "dust_notional"})
			l.logger.InfoContext(ctx, "dust notional, dropping tracker",
				slog.String("symbol", t.Symbol),
				slog.Float64("notional", p.Notional()),
			)
			continue
		}

		profitPct := t.ProfitPct(p.MarkPrice)
		if fc, fired := HardRule(t, profitPct, now); fired {
			hardCloses = append(hardCloses, fc)
			l.logger.InfoContext(ctx, "hard rule fired",
				slog.String("symbol", t.Symbol),
				slog.String("rule", fc.Tag),
				slog.Float64("profit_pct", profitPct),
			)
			continue
		}

		pc, err := l.builder.Build(ctx, t, p.MarkPrice, now)
		if err != nil {
			if errors.Is(err, domain.ErrInsufficientData) {
				l.logger.DebugContext(ctx, "insufficient market data, holding",
					slog.String("symbol", t.Symbol),
				)
			} else {
				l.logger.WarnContext(ctx, "context build failed, holding",
					slog.String("symbol", t.Symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}
		contexts = append(contexts, pc)
	}

	// Hard-rule closes happen before any evaluation result.
	for _, fc := range hardCloses {
		if err := l.engine.CloseFullyWithRetry(ctx, fc.Symbol, fc.Tag, closeAttempts); err != nil {
			l.logger.ErrorContext(ctx, "hard rule close failed",
				slog.String("symbol", fc.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}

	if len(contexts) > 0 {
		l.evaluateAndExecute(ctx, contexts, live)
	}

	for _, r := range removals {
		l.execute(ctx, r, domain.Position{})
	}
	l.ledger.Touch(checked, now)
}

// evaluateAndExecute sends one batch to the evaluator, translates every
// decision, and executes the resulting actions. An evaluator failure holds
// everything: no decision, no action.
func (l *Loop) evaluateAndExecute(ctx context.Context, contexts []domain.PositionContext, live map[string]domain.Position) {
	decisions, err := l.evaluator.EvaluateBatch(ctx, contexts)
	if err != nil {
		l.logger.WarnContext(ctx, "batch evaluation failed, holding all",
			slog.Int("positions", len(contexts)),
			slog.String("error", err.Error()),
		)
		return
	}

	for _, sd := range decisions {
		p, ok := live[sd.Symbol]
		if !ok {
			continue
		}

		params := ActionParams{PositionValue: p.Notional()}
		if rules, rerr := l.venue.GetTradingRules(ctx, sd.Symbol); rerr == nil {
			params.MinNotional = rules.MinNotional
		}

		action, warn := Translate(sd.Symbol, sd.Decision, params)
		if warn != "" {
			l.logger.WarnContext(ctx, warn,
				slog.String("symbol", sd.Symbol),
				slog.String("action", string(sd.Decision.Action)),
			)
		}
		if action == nil {
			continue
		}
		l.execute(ctx, action, p)
	}
}

// execute dispatches one action. The switch is exhaustive over the action
// set; anything unrecognised is a programming error worth logging loudly.
func (l *Loop) execute(ctx context.Context, action domain.PositionAction, live domain.Position) {
	switch a := action.(type) {
	case domain.FullClose:
		if err := l.engine.CloseFullyWithRetry(ctx, a.Symbol, a.Tag, closeAttempts); err != nil {
			l.logger.ErrorContext(ctx, "full close failed",
				slog.String("symbol", a.Symbol),
				slog.String("error", err.Error()),
			)
		}

	case domain.PartialClose:
		if err := l.engine.ClosePartially(ctx, a.Symbol, a.Pct, a.Tag); err != nil {
			l.logger.ErrorContext(ctx, "partial close failed",
				slog.String("symbol", a.Symbol),
				slog.Float64("pct", a.Pct),
				slog.String("error", err.Error()),
			)
		}

	case domain.SetLimitOrder:
		l.placeLimitClose(ctx, a, live)

	case domain.Remove:
		l.ledger.Remove(a.Symbol)
		l.staged.Remove(a.Symbol)

	default:
		l.logger.ErrorContext(ctx, "unknown position action type",
			slog.String("reason", action.Reason()),
		)
	}
}

func (l *Loop) placeLimitClose(ctx context.Context, a domain.SetLimitOrder, live domain.Position) {
	size := live.Size
	if size < 0 {
		size = -size
	}
	qty := size * a.Pct / 100
	if rules, err := l.venue.GetTradingRules(ctx, a.Symbol); err == nil {
		qty = rules.RoundQty(qty)
	}
	if qty <= 0 {
		return
	}

	ack, err := l.venue.PlaceLimitClose(ctx, a.Symbol, live.Side(), qty, a.Price)
	if err != nil {
		l.logger.WarnContext(ctx, "limit close placement failed",
			slog.String("symbol", a.Symbol),
			slog.Float64("price", a.Price),
			slog.String("error", err.Error()),
		)
		return
	}
	l.engine.RecordTrigger(domain.TriggerOrderRecord{
		OrderID:      ack.OrderID,
		Symbol:       a.Symbol,
		Side:         live.Side(),
		Purpose:      domain.PurposeClose,
		TriggerPrice: a.Price,
		Quantity:     qty,
		PlacedAt:     time.Now(),
	})
	l.logger.InfoContext(ctx, "limit close placed",
		slog.String("symbol", a.Symbol),
		slog.Float64("price", a.Price),
		slog.Float64("qty", qty),
		slog.String("reason", a.Tag),
	)
}

// maintainStaged advances trial positions whose launch is confirmed and
// closes staged positions that tripped a time-laddered stop.
func (l *Loop) maintainStaged(ctx context.Context) {
	now := time.Now()
	for _, sp := range l.staged.Snapshot() {
		price, err := l.venue.GetPrice(ctx, sp.Symbol)
		if err != nil {
			l.logger.WarnContext(ctx, "staged check skipped, price unavailable",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}

		if reason, trip := service.CheckStagedStop(sp, price, now); trip {
			l.logger.InfoContext(ctx, "staged stop tripped",
				slog.String("symbol", sp.Symbol),
				slog.String("reason", reason),
			)
			if err := l.engine.CloseFullyWithRetry(ctx, sp.Symbol, reason, closeAttempts); err != nil {
				l.logger.ErrorContext(ctx, "staged stop close failed",
					slog.String("symbol", sp.Symbol),
					slog.String("error", err.Error()),
				)
			}
			continue
		}

		if sp.Stage != domain.StageTrial {
			continue
		}
		_, confirmed, err := l.controller.CheckLaunch(ctx, sp.Symbol)
		if err != nil {
			l.logger.WarnContext(ctx, "launch check failed",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if !confirmed {
			continue
		}

		balance, err := l.venue.GetBalance(ctx, l.cfg.QuoteAsset)
		if err != nil {
			l.logger.WarnContext(ctx, "add-on skipped, balance unavailable",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		if _, err := l.controller.ExecuteAddOn(ctx, sp.Symbol, balance.Available, l.cfg.Leverage); err != nil {
			l.logger.WarnContext(ctx, "add-on execution failed",
				slog.String("symbol", sp.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Loop) cachePrice(ctx context.Context, symbol string, price float64, ts time.Time) {
	if l.priceCache == nil {
		return
	}
	if err := l.priceCache.SetPrice(ctx, symbol, price, ts); err != nil {
		l.logger.DebugContext(ctx, "price cache write failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()),
		)
	}
}
