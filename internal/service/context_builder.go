package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
	"github.com/alanyoungcy/perpbot/internal/strategy"
)

// Candle depths requested per timeframe for the evaluator context.
const (
	depth5m  = 50
	depth15m = 100
	depth1h  = 48

	marketCallTimeout = 10 * time.Second
)

// ContextBuilder assembles the evaluator's view of one position: tracking
// state plus multi-timeframe market structure. Every venue call carries its
// own timeout so one slow symbol cannot stall the pass.
type ContextBuilder struct {
	venue  domain.VenueClient
	logger *slog.Logger
}

// NewContextBuilder creates a ContextBuilder.
func NewContextBuilder(venue domain.VenueClient, logger *slog.Logger) *ContextBuilder {
	return &ContextBuilder{
		venue:  venue,
		logger: logger.With(slog.String("component", "context_builder")),
	}
}

// Build collects the market context for a tracked position. It returns
// domain.ErrInsufficientData when any timeframe comes back too thin to
// analyse; callers skip the symbol rather than evaluating on partial data.
func (b *ContextBuilder) Build(ctx context.Context, t domain.PositionTracker, currentPrice float64, now time.Time) (domain.PositionContext, error) {
	k5m, err := b.klines(ctx, t.Symbol, domain.Interval5m, depth5m)
	if err != nil {
		return domain.PositionContext{}, err
	}
	k15m, err := b.klines(ctx, t.Symbol, domain.Interval15m, depth15m)
	if err != nil {
		return domain.PositionContext{}, err
	}
	k1h, err := b.klines(ctx, t.Symbol, domain.Interval1h, depth1h)
	if err != nil {
		return domain.PositionContext{}, err
	}

	if len(k5m) < 20 || len(k15m) < 20 || len(k1h) < 5 {
		return domain.PositionContext{}, fmt.Errorf("service: context %s: %w", t.Symbol, domain.ErrInsufficientData)
	}

	funding, err := b.funding(ctx, t.Symbol)
	if err != nil {
		// Funding is advisory context, not a gate.
		b.logger.WarnContext(ctx, "funding rate unavailable",
			slog.String("symbol", t.Symbol),
			slog.String("error", err.Error()),
		)
	}

	return domain.PositionContext{
		Symbol:       t.Symbol,
		Side:         t.Side,
		EntryPrice:   t.EntryPrice,
		CurrentPrice: currentPrice,
		Quantity:     t.Quantity,
		ProfitPct:    t.ProfitPct(currentPrice),
		HoldHours:    t.HoldDuration(now).Hours(),
		StopLoss:     t.StopLossPrice,
		TakeProfit:   t.TakeProfitPrice,
		Klines5m:     k5m,
		Klines15m:    k15m,
		Klines1h:     k1h,
		Ind5m:        strategy.ComputeIndicators(k5m),
		Ind15m:       strategy.ComputeIndicators(k15m),
		Ind1h:        strategy.ComputeIndicators(k1h),
		Funding:      funding,
	}, nil
}

func (b *ContextBuilder) klines(ctx context.Context, symbol string, interval domain.KlineInterval, limit int) ([]domain.Kline, error) {
	cctx, cancel := context.WithTimeout(ctx, marketCallTimeout)
	defer cancel()
	ks, err := b.venue.GetKlines(cctx, symbol, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("service: context %s %s klines: %w", symbol, interval, err)
	}
	return ks, nil
}

func (b *ContextBuilder) funding(ctx context.Context, symbol string) (domain.FundingRate, error) {
	cctx, cancel := context.WithTimeout(ctx, marketCallTimeout)
	defer cancel()
	return b.venue.GetFundingRate(cctx, symbol)
}
