package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/executor"
	"github.com/alanyoungcy/perpbot/internal/feed"
	"github.com/alanyoungcy/perpbot/internal/ledger"
	"github.com/alanyoungcy/perpbot/internal/monitor"
	"github.com/alanyoungcy/perpbot/internal/reconcile"
	"github.com/alanyoungcy/perpbot/internal/service"
	"github.com/alanyoungcy/perpbot/internal/strategy"
)

// engineLockKey is the distributed lock held by the trade mode so only one
// instance mutates positions. The lock carries a short TTL and is renewed at
// a third of it for as long as the engine runs.
const (
	engineLockKey = "engine"
	engineLockTTL = 5 * time.Minute
)

// engineGraph bundles the long-running pieces built by buildEngine.
type engineGraph struct {
	loop      *reconcile.Loop
	entryFeed *feed.EntryFeed
}

// buildEngine assembles the full position lifecycle graph: ledgers, staged
// entry controller, executor, protective-order monitor, dust guard, the
// reconciliation loop, and the entry feed.
func (a *App) buildEngine(deps *Dependencies) *engineGraph {
	pl := ledger.NewPositionLedger()
	staged := ledger.NewStagedBook()
	triggers := ledger.NewTriggerBook()

	scorer := strategy.NewLaunchScorer()
	controller := service.NewStagedEntryController(staged, deps.Venue, scorer, deps.EventBus, a.logger)
	builder := service.NewContextBuilder(deps.Venue, a.logger)
	recorder := service.NewTradeRecorder(deps.TradeStore, deps.AuditStore, deps.EventBus, a.logger)

	engine := executor.NewEngine(deps.Venue, pl, staged, triggers, recorder, deps.Notifier, a.logger)
	trigMon := monitor.NewProtectiveOrderMonitor(deps.Venue, triggers, pl, a.logger)
	dust := monitor.NewDustGuard(deps.Venue, pl, engine, deps.Notifier, a.cfg.Engine.DustLeverage, a.logger)

	loop := reconcile.New(
		reconcile.Config{
			Interval:          a.cfg.Engine.Interval.Duration,
			Leverage:          a.cfg.Engine.Leverage,
			QuoteAsset:        a.cfg.Venue.QuoteAsset,
			TriggerSweepEvery: a.cfg.Engine.TriggerSweepEvery,
			OrphanSweepEvery:  a.cfg.Engine.OrphanSweepEvery,
			StaleSweepEvery:   a.cfg.Engine.StaleSweepEvery,
			StaleAfter:        a.cfg.Engine.StaleAfter.Duration,
		},
		deps.Venue, pl, staged, controller, builder,
		deps.Evaluator, engine, trigMon, dust, deps.PriceCache,
		a.logger,
	)

	entryFeed := feed.NewEntryFeed(
		deps.EventBus, deps.Venue, controller, pl, engine,
		a.cfg.Venue.QuoteAsset, a.cfg.Engine.Leverage,
		a.logger,
	)

	return &engineGraph{loop: loop, entryFeed: entryFeed}
}

// TradeMode runs the full engine against the configured venue. It holds a
// distributed lock for its lifetime so two instances never manage the same
// book.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.String("venue", a.cfg.Venue.Name),
	)

	lock, err := deps.LockManager.Acquire(ctx, engineLockKey, engineLockTTL)
	if err != nil {
		return fmt.Errorf("trade mode: acquire engine lock: %w", err)
	}
	defer lock.Release()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return renewLock(ctx, lock, engineLockTTL)
	})
	g.Go(func() error {
		return a.runEngine(ctx, deps)
	})
	return g.Wait()
}

// renewLock extends the lock at a third of its TTL until the context ends. A
// failed renewal means another instance may already hold the lock, so the
// engine must stop.
func renewLock(ctx context.Context, lock domain.Lock, ttl time.Duration) error {
	ticker := time.NewTicker(ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := lock.Renew(ctx, ttl); err != nil {
				return fmt.Errorf("renew engine lock: %w", err)
			}
		}
	}
}

// PaperMode runs the same engine graph against the in-memory simulator. No
// lock is taken; paper instances are independent.
func (a *App) PaperMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting paper mode")
	return a.runEngine(ctx, deps)
}

func (a *App) runEngine(ctx context.Context, deps *Dependencies) error {
	graph := a.buildEngine(deps)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return graph.loop.Run(ctx)
	})
	g.Go(func() error {
		return graph.entryFeed.Run(ctx)
	})
	return g.Wait()
}

// MonitorMode runs only the protective-order maintenance sweeps: terminal
// cleanup, mutual exclusion, and orphan cancellation. Each tick rebuilds the
// books from the venue's positions and resting orders, so a standalone
// monitor process sweeps orders it did not place. No positions are opened or
// closed.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	pl := ledger.NewPositionLedger()
	triggers := ledger.NewTriggerBook()
	trigMon := monitor.NewProtectiveOrderMonitor(deps.Venue, triggers, pl, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(a.cfg.Engine.Interval.Duration)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := trigMon.SeedFromVenue(ctx); err != nil {
					a.logger.WarnContext(ctx, "monitor sweep skipped",
						slog.String("error", err.Error()),
					)
					continue
				}
				trigMon.MonitorOrders(ctx)
				trigMon.CheckExclusion(ctx)
				trigMon.CleanupOrphaned(ctx)
			}
		}
	})
	return g.Wait()
}

// ArchiveMode runs a one-shot archival pass: trades older than the retention
// window move from Postgres to object storage, then the process exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (postgres and s3 required)")
	}

	cutoff := time.Now().AddDate(0, 0, -a.cfg.Engine.ArchiveRetentionDays)
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Time("cutoff", cutoff),
	)

	count, err := deps.Archiver.ArchiveTrades(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive complete",
		slog.Int64("trades", count),
	)
	return nil
}
