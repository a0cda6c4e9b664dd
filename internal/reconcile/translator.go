// Package reconcile drives the periodic position reconciliation pass: it
// compares the ledger against the venue, applies hard risk rules, batches the
// rest through the evaluator, and executes the resulting actions.
package reconcile

import (
	"math"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

const (
	// defaultClosePct applies when a PARTIAL_CLOSE decision leaves the
	// percentage unset.
	defaultClosePct = 50.0
	// defaultMinNotional is the venue order-value floor assumed when rules
	// are unavailable.
	defaultMinNotional = 5.0
)

// ActionParams carries the per-symbol facts the translator needs beyond the
// decision itself.
type ActionParams struct {
	// PositionValue is the gross notional of the live position in USD.
	PositionValue float64
	// MinNotional is the venue's minimum order value. Zero means unknown;
	// the default floor applies.
	MinNotional float64
}

// Translate converts one evaluator decision into an executable action. It is
// pure: no I/O, no clock. A nil action means hold. The second return is a
// warning for the caller to log, empty when there is none.
//
// Partial closes are adjusted upward when the requested slice would fall
// under the venue's minimum notional, and degrade to a full close when even
// 100% cannot clear the floor.
func Translate(symbol string, dec domain.Decision, p ActionParams) (domain.PositionAction, string) {
	minNotional := p.MinNotional
	if minNotional <= 0 {
		minNotional = defaultMinNotional
	}

	switch dec.Action {
	case domain.ActionHold:
		return nil, ""

	case domain.ActionFullClose:
		return domain.FullClose{Symbol: symbol, Tag: tagOr(dec.Reason, "full_close")}, ""

	case domain.ActionPartialClose:
		pct := dec.ClosePct
		if pct <= 0 {
			pct = defaultClosePct
		}
		if pct >= 100 {
			return domain.FullClose{Symbol: symbol, Tag: tagOr(dec.Reason, "full_close")}, ""
		}
		if p.PositionValue <= 0 {
			return nil, "partial close requested with unknown position value"
		}

		closeValue := p.PositionValue * pct / 100
		if closeValue < minNotional {
			adjusted := math.Ceil(minNotional / p.PositionValue * 100)
			if adjusted >= 100 {
				return domain.FullClose{Symbol: symbol, Tag: "min_notional_full_close"}, ""
			}
			return domain.PartialClose{Symbol: symbol, Pct: adjusted, Tag: tagOr(dec.Reason, "partial_close")},
				"partial close adjusted up to clear min notional"
		}
		return domain.PartialClose{Symbol: symbol, Pct: pct, Tag: tagOr(dec.Reason, "partial_close")}, ""

	case domain.ActionSetLimitOrder:
		if dec.LimitPrice <= 0 {
			return nil, "limit order decision missing price, holding"
		}
		pct := dec.LimitPct
		if pct <= 0 || pct > 100 {
			pct = 100
		}
		return domain.SetLimitOrder{
			Symbol: symbol,
			Price:  dec.LimitPrice,
			Pct:    pct,
			Tag:    tagOr(dec.Reason, "limit_close"),
		}, ""

	default:
		return nil, "unknown decision action, holding"
	}
}

func tagOr(reason, fallback string) string {
	if reason != "" {
		return reason
	}
	return fallback
}
