package monitor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/ledger"
)

const (
	// minMarginUSD is the margin floor below which a position is considered
	// dust worth sweeping.
	minMarginUSD      = 0.5
	dustCloseAttempts = 3
)

// Closer is the slice of the execution engine the dust guard needs.
type Closer interface {
	CloseFullyWithRetry(ctx context.Context, symbol, reason string, attempts int) error
}

// Alerter delivers critical operator alerts.
type Alerter interface {
	Critical(ctx context.Context, title, message string) error
}

// DustGuard sweeps tracked positions whose margin has shrunk below the floor.
// Losing dust is closed immediately; profitable dust is closed only when the
// funding rate bleeds the position.
type DustGuard struct {
	venue           domain.VenueClient
	ledger          *ledger.PositionLedger
	closer          Closer
	alerter         Alerter
	assumedLeverage float64
	logger          *slog.Logger
}

// NewDustGuard creates the guard. assumedLeverage is used to estimate margin
// from notional when the venue does not report leverage per position.
func NewDustGuard(venue domain.VenueClient, pl *ledger.PositionLedger, closer Closer, alerter Alerter, assumedLeverage float64, logger *slog.Logger) *DustGuard {
	if assumedLeverage <= 0 {
		assumedLeverage = 15
	}
	return &DustGuard{
		venue:           venue,
		ledger:          pl,
		closer:          closer,
		alerter:         alerter,
		assumedLeverage: assumedLeverage,
		logger:          logger.With(slog.String("component", "dust_guard")),
	}
}

// Sweep inspects every tracked symbol's live position. Per-symbol failures
// are logged and skipped so one bad symbol never stops the sweep.
func (g *DustGuard) Sweep(ctx context.Context) {
	for _, t := range g.ledger.Snapshot() {
		if err := g.sweepSymbol(ctx, t); err != nil {
			g.logger.WarnContext(ctx, "dust sweep failed for symbol",
				slog.String("symbol", t.Symbol),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (g *DustGuard) sweepSymbol(ctx context.Context, t domain.PositionTracker) error {
	live, err := g.venue.GetPosition(ctx, t.Symbol)
	if err != nil {
		return fmt.Errorf("query position: %w", err)
	}

	size := live.Size
	if size < 0 {
		size = -size
	}
	if size == 0 {
		return nil
	}

	leverage := live.Leverage
	if leverage <= 0 {
		leverage = g.assumedLeverage
	}
	margin := size * live.EntryPrice / leverage
	if margin >= minMarginUSD {
		return nil
	}

	// Below the venue's minimum quantity nothing can close it; the entry is
	// just forgotten.
	if rules, rerr := g.venue.GetTradingRules(ctx, t.Symbol); rerr == nil && size < rules.MinQty {
		g.ledger.Remove(t.Symbol)
		g.logger.InfoContext(ctx, "untradeable dust dropped from tracking",
			slog.String("symbol", t.Symbol),
			slog.Float64("size", size),
			slog.Float64("min_qty", rules.MinQty),
		)
		return nil
	}

	profitable := live.ProfitPct() >= 0
	if profitable {
		funding, ferr := g.venue.GetFundingRate(ctx, t.Symbol)
		if ferr != nil {
			return fmt.Errorf("query funding: %w", ferr)
		}
		if funding.FavorsSide(live.Side()) {
			// Profitable dust that collects funding can sit.
			return nil
		}
	}

	g.logger.InfoContext(ctx, "closing dust position",
		slog.String("symbol", t.Symbol),
		slog.Float64("margin", margin),
		slog.Bool("profitable", profitable),
	)
	if err := g.closer.CloseFullyWithRetry(ctx, t.Symbol, "dust_margin", dustCloseAttempts); err != nil {
		return fmt.Errorf("close dust: %w", err)
	}
	if g.alerter != nil {
		_ = g.alerter.Critical(ctx, "dust position closed",
			fmt.Sprintf("%s closed by dust guard (margin %.2f USD)", t.Symbol, margin))
	}
	return nil
}
