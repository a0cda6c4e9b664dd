package reconcile

import (
	"fmt"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Hard-rule thresholds. These fire before any evaluation and cannot be
// overridden by a decision.
const (
	entryFailureWindow = 5 * time.Minute
	entryFailurePct    = -0.5

	quickStopAge = 30 * time.Minute
	quickStopPct = -3.0

	extremeLossPct = -5.0

	// dustNotionalUSD removes tracking for positions worth less than this.
	dustNotionalUSD = 1.0
)

// HardRule applies the non-negotiable risk rules to one position, in priority
// order, short-circuiting at the first match. The boolean reports whether a
// rule fired; a fired rule always yields a FullClose.
func HardRule(t domain.PositionTracker, profitPct float64, now time.Time) (domain.FullClose, bool) {
	held := t.HoldDuration(now)

	switch {
	case held < entryFailureWindow && profitPct < entryFailurePct:
		return domain.FullClose{Symbol: t.Symbol, Tag: "entry_failure_5min"}, true

	case held >= quickStopAge && profitPct < quickStopPct:
		return domain.FullClose{
			Symbol: t.Symbol,
			Tag:    fmt.Sprintf("quick_stop_loss_-3pct_%dmin", int(held.Minutes())),
		}, true

	case profitPct < extremeLossPct:
		return domain.FullClose{Symbol: t.Symbol, Tag: "extreme_loss"}, true
	}

	return domain.FullClose{}, false
}
