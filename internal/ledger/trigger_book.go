package ledger

import (
	"sync"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// TriggerBook is the registry of conditional orders the engine has placed.
// Only orders recorded here are ever monitored or cancelled; resting orders
// created outside the engine are left alone.
type TriggerBook struct {
	mu     sync.RWMutex
	orders map[string]domain.TriggerOrderRecord // keyed by order ID
}

// NewTriggerBook creates an empty book.
func NewTriggerBook() *TriggerBook {
	return &TriggerBook{orders: make(map[string]domain.TriggerOrderRecord)}
}

// Add records a placed trigger order.
func (b *TriggerBook) Add(rec domain.TriggerOrderRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders[rec.OrderID] = rec
}

// Get returns the record for an order ID.
func (b *TriggerBook) Get(orderID string) (domain.TriggerOrderRecord, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rec, ok := b.orders[orderID]
	return rec, ok
}

// Snapshot returns copies of every recorded order.
func (b *TriggerBook) Snapshot() []domain.TriggerOrderRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.TriggerOrderRecord, 0, len(b.orders))
	for _, rec := range b.orders {
		out = append(out, rec)
	}
	return out
}

// BySymbol returns copies of the records for one symbol.
func (b *TriggerBook) BySymbol(symbol string) []domain.TriggerOrderRecord {
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []domain.TriggerOrderRecord
	for _, rec := range b.orders {
		if rec.Symbol == symbol {
			out = append(out, rec)
		}
	}
	return out
}

// RemoveIDs drops the listed order IDs under one lock.
func (b *TriggerBook) RemoveIDs(ids []string) {
	if len(ids) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, id := range ids {
		delete(b.orders, id)
	}
}

// RemoveSymbol drops every record for a symbol and returns how many were
// removed.
func (b *TriggerBook) RemoveSymbol(symbol string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for id, rec := range b.orders {
		if rec.Symbol == symbol {
			delete(b.orders, id)
			n++
		}
	}
	return n
}

// Len returns the number of recorded orders.
func (b *TriggerBook) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.orders)
}
