// Package ledger holds the engine's in-memory tracking state: the position
// ledger, the staged-entry book, and the trigger-order book. All three follow
// the same discipline: readers take snapshots, slow work (venue calls,
// evaluation) happens outside any lock, and writers apply precomputed
// mutations in short critical sections.
package ledger

import (
	"sync"
	"time"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TrackerMutation is a precomputed update applied to one tracker under a
// single write lock. Nil pointer fields are left untouched.
type TrackerMutation struct {
	Symbol     string
	Quantity   *float64
	StopLoss   *float64
	TakeProfit *float64
	// ClearStopOrder / ClearTPOrder drop the recorded protective order IDs.
	ClearStopOrder bool
	ClearTPOrder   bool
	StopOrderID    *string
	TPOrderID      *string
}

// PositionLedger is the authoritative registry of positions the engine
// manages. It is safe for concurrent use.
type PositionLedger struct {
	mu       sync.RWMutex
	trackers map[string]*domain.PositionTracker
}

// NewPositionLedger creates an empty ledger.
func NewPositionLedger() *PositionLedger {
	return &PositionLedger{trackers: make(map[string]*domain.PositionTracker)}
}

// Get returns a copy of the tracker for symbol.
func (l *PositionLedger) Get(symbol string) (domain.PositionTracker, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	t, ok := l.trackers[symbol]
	if !ok {
		return domain.PositionTracker{}, false
	}
	return *t, true
}

// Snapshot returns copies of all trackers. Callers iterate the snapshot while
// doing I/O so the lock is never held across a venue call.
func (l *PositionLedger) Snapshot() []domain.PositionTracker {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]domain.PositionTracker, 0, len(l.trackers))
	for _, t := range l.trackers {
		out = append(out, *t)
	}
	return out
}

// Len returns the number of tracked symbols.
func (l *PositionLedger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.trackers)
}

// Put inserts or replaces the tracker for a symbol.
func (l *PositionLedger) Put(t domain.PositionTracker) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := t
	l.trackers[t.Symbol] = &cp
}

// Remove drops the tracker for symbol. Removing an absent symbol is a no-op.
func (l *PositionLedger) Remove(symbol string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.trackers, symbol)
}

// RemoveAll drops every listed symbol under one lock.
func (l *PositionLedger) RemoveAll(symbols []string) {
	if len(symbols) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range symbols {
		delete(l.trackers, s)
	}
}

// Apply executes a batch of precomputed mutations under one write lock.
// Mutations for symbols no longer tracked are skipped.
func (l *PositionLedger) Apply(muts []TrackerMutation) {
	if len(muts) == 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, m := range muts {
		t, ok := l.trackers[m.Symbol]
		if !ok {
			continue
		}
		if m.Quantity != nil {
			t.Quantity = *m.Quantity
		}
		if m.StopLoss != nil {
			t.StopLossPrice = *m.StopLoss
		}
		if m.TakeProfit != nil {
			t.TakeProfitPrice = *m.TakeProfit
		}
		if m.StopOrderID != nil {
			t.StopLossOrderID = *m.StopOrderID
		}
		if m.TPOrderID != nil {
			t.TakeProfitOrderID = *m.TPOrderID
		}
		if m.ClearStopOrder {
			t.StopLossOrderID = ""
		}
		if m.ClearTPOrder {
			t.TakeProfitOrderID = ""
		}
	}
}

// Touch stamps LastCheckedAt for every listed symbol.
func (l *PositionLedger) Touch(symbols []string, at time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, s := range symbols {
		if t, ok := l.trackers[s]; ok {
			t.LastCheckedAt = at
		}
	}
}

// StaleSymbols returns symbols whose last check is older than the cutoff.
func (l *PositionLedger) StaleSymbols(cutoff time.Time) []string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []string
	for s, t := range l.trackers {
		if !t.LastCheckedAt.IsZero() && t.LastCheckedAt.Before(cutoff) {
			out = append(out, s)
		}
	}
	return out
}
