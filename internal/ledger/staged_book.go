package ledger

import (
	"sync"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// StagedBook tracks staged-entry positions by symbol.
type StagedBook struct {
	mu    sync.RWMutex
	items map[string]*domain.StagedPosition
}

// NewStagedBook creates an empty book.
func NewStagedBook() *StagedBook {
	return &StagedBook{items: make(map[string]*domain.StagedPosition)}
}

// Get returns a copy of the staged record for symbol.
func (b *StagedBook) Get(symbol string) (domain.StagedPosition, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	s, ok := b.items[symbol]
	if !ok {
		return domain.StagedPosition{}, false
	}
	return *s, true
}

// Snapshot returns copies of every staged record.
func (b *StagedBook) Snapshot() []domain.StagedPosition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.StagedPosition, 0, len(b.items))
	for _, s := range b.items {
		out = append(out, *s)
	}
	return out
}

// Put inserts or replaces the staged record for a symbol.
func (b *StagedBook) Put(s domain.StagedPosition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := s
	b.items[s.Symbol] = &cp
}

// Remove drops the staged record for symbol.
func (b *StagedBook) Remove(symbol string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.items, symbol)
}

// Stage returns the current stage for symbol, StageNone when untracked.
func (b *StagedBook) Stage(symbol string) domain.PositionStage {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if s, ok := b.items[symbol]; ok {
		return s.Stage
	}
	return domain.StageNone
}
