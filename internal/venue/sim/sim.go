// Package sim provides an in-memory venue used by paper mode and tests. It
// fills market orders instantly at the configured mark price and keeps
// conditional orders resting until the test or operator moves the market.
package sim

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/perpbot/internal/domain"
)

// Venue implements domain.VenueClient entirely in memory. Safe for
// concurrent use.
type Venue struct {
	mu        sync.RWMutex
	positions map[string]domain.Position
	orders    map[string]order
	prices    map[string]float64
	klines    map[string][]domain.Kline // keyed by symbol+"/"+interval
	rules     map[string]domain.TradingRules
	funding   map[string]domain.FundingRate
	balances  map[string]domain.Balance

	// closeErr injects a failure for ClosePosition on a symbol. Consumed by
	// tests exercising retry paths; decremented per call.
	closeErr   map[string]*injectedErr
	closeCalls map[string]int
}

type injectedErr struct {
	err       error
	remaining int
}

type order struct {
	rec    domain.TriggerOrderRecord
	status domain.OrderStatus
}

// New creates an empty simulated venue.
func New() *Venue {
	return &Venue{
		positions:  make(map[string]domain.Position),
		orders:     make(map[string]order),
		prices:     make(map[string]float64),
		klines:     make(map[string][]domain.Kline),
		rules:      make(map[string]domain.TradingRules),
		funding:    make(map[string]domain.FundingRate),
		balances:   make(map[string]domain.Balance),
		closeErr:   make(map[string]*injectedErr),
		closeCalls: make(map[string]int),
	}
}

// --- seeding helpers ---

// SetPosition installs a live position. Size follows the venue sign
// convention: negative means short.
func (v *Venue) SetPosition(p domain.Position) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.positions[p.Symbol] = p
	if p.MarkPrice > 0 {
		v.prices[p.Symbol] = p.MarkPrice
	}
}

// RemovePosition clears a position as if it were closed externally.
func (v *Venue) RemovePosition(symbol string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.positions, symbol)
}

// SetPrice sets the mark price for a symbol, updating any open position.
func (v *Venue) SetPrice(symbol string, price float64) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.prices[symbol] = price
	if p, ok := v.positions[symbol]; ok {
		p.MarkPrice = price
		v.positions[symbol] = p
	}
}

// SetKlines seeds candles for one symbol and interval.
func (v *Venue) SetKlines(symbol string, interval domain.KlineInterval, ks []domain.Kline) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.klines[symbol+"/"+string(interval)] = ks
}

// SetRules seeds trading rules for a symbol.
func (v *Venue) SetRules(r domain.TradingRules) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rules[r.Symbol] = r
}

// SetFunding seeds the funding rate for a symbol.
func (v *Venue) SetFunding(f domain.FundingRate) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.funding[f.Symbol] = f
}

// SetBalance seeds an account balance.
func (v *Venue) SetBalance(b domain.Balance) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances[b.Asset] = b
}

// SetOrderStatus overrides the status of a resting order, simulating a fill
// or venue-side cancellation.
func (v *Venue) SetOrderStatus(orderID string, status domain.OrderStatus) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if o, ok := v.orders[orderID]; ok {
		o.status = status
		v.orders[orderID] = o
	}
}

// FailClose makes the next n ClosePosition calls for symbol return err.
func (v *Venue) FailClose(symbol string, err error, n int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.closeErr[symbol] = &injectedErr{err: err, remaining: n}
}

// CloseCalls is incremented on every ClosePosition attempt, successful or
// not, for assertions on retry behaviour.
func (v *Venue) CloseCalls(symbol string) int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.closeCalls[symbol]
}

// --- domain.VenueClient ---

// GetPositions returns all non-zero positions.
func (v *Venue) GetPositions(_ context.Context) ([]domain.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	out := make([]domain.Position, 0, len(v.positions))
	for _, p := range v.positions {
		if p.Size != 0 {
			out = append(out, p)
		}
	}
	return out, nil
}

// GetPosition returns the live position or domain.ErrNotFound when flat.
func (v *Venue) GetPosition(_ context.Context, symbol string) (domain.Position, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	p, ok := v.positions[symbol]
	if !ok || p.Size == 0 {
		return domain.Position{}, domain.ErrNotFound
	}
	return p, nil
}

func (v *Venue) GetPrice(_ context.Context, symbol string) (float64, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	price, ok := v.prices[symbol]
	if !ok {
		return 0, domain.ErrNotFound
	}
	return price, nil
}

func (v *Venue) GetKlines(_ context.Context, symbol string, interval domain.KlineInterval, limit int) ([]domain.Kline, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ks := v.klines[symbol+"/"+string(interval)]
	if len(ks) > limit && limit > 0 {
		ks = ks[len(ks)-limit:]
	}
	out := make([]domain.Kline, len(ks))
	copy(out, ks)
	return out, nil
}

func (v *Venue) GetFundingRate(_ context.Context, symbol string) (domain.FundingRate, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	f, ok := v.funding[symbol]
	if !ok {
		return domain.FundingRate{Symbol: symbol}, nil
	}
	return f, nil
}

func (v *Venue) GetTradingRules(_ context.Context, symbol string) (domain.TradingRules, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	r, ok := v.rules[symbol]
	if !ok {
		return domain.TradingRules{Symbol: symbol}, nil
	}
	return r, nil
}

func (v *Venue) GetBalance(_ context.Context, asset string) (domain.Balance, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	b, ok := v.balances[asset]
	if !ok {
		return domain.Balance{Asset: asset}, nil
	}
	return b, nil
}

// OpenPosition fills instantly at the mark price, creating or extending the
// position.
func (v *Venue) OpenPosition(_ context.Context, symbol string, side domain.PositionSide, qty float64) (domain.OrderAck, error) {
	if qty <= 0 {
		return domain.OrderAck{}, fmt.Errorf("sim: open %s: non-positive qty", symbol)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	price := v.prices[symbol]
	signed := qty * side.Sign()

	p := v.positions[symbol]
	newSize := p.Size + signed
	if p.Size == 0 {
		p = domain.Position{Symbol: symbol, EntryPrice: price, MarkPrice: price}
	} else if (p.Size > 0) == (signed > 0) && price > 0 {
		// Same-direction add: entry becomes the weighted mean.
		oldAbs := p.Size
		if oldAbs < 0 {
			oldAbs = -oldAbs
		}
		p.EntryPrice = (p.EntryPrice*oldAbs + price*qty) / (oldAbs + qty)
	}
	p.Size = newSize
	p.MarkPrice = price
	v.positions[symbol] = p

	return domain.OrderAck{
		OrderID:   uuid.New().String(),
		Symbol:    symbol,
		Status:    domain.OrderStatusFilled,
		AvgPrice:  price,
		FilledQty: qty,
	}, nil
}

// ClosePosition reduces the position at the mark price.
func (v *Venue) ClosePosition(_ context.Context, symbol string, side domain.PositionSide, qty float64) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.closeCalls[symbol]++
	if inj := v.closeErr[symbol]; inj != nil && inj.remaining > 0 {
		inj.remaining--
		return domain.OrderAck{}, inj.err
	}

	p, ok := v.positions[symbol]
	if !ok || p.Size == 0 {
		return domain.OrderAck{}, fmt.Errorf("sim: close %s: %w", symbol, domain.ErrNotFound)
	}
	if p.Side() != side {
		return domain.OrderAck{}, fmt.Errorf("sim: close %s: side mismatch: %w", symbol, domain.ErrOrderRejected)
	}

	size := p.Size
	if size < 0 {
		size = -size
	}
	if qty > size+1e-9 {
		return domain.OrderAck{}, fmt.Errorf("sim: close %s: qty %.8f exceeds size %.8f: %w", symbol, qty, size, domain.ErrOrderRejected)
	}

	remaining := size - qty
	if remaining < 1e-9 {
		delete(v.positions, symbol)
	} else {
		p.Size = remaining * p.Side().Sign()
		v.positions[symbol] = p
	}

	return domain.OrderAck{
		OrderID:   uuid.New().String(),
		Symbol:    symbol,
		Status:    domain.OrderStatusFilled,
		AvgPrice:  p.MarkPrice,
		FilledQty: qty,
	}, nil
}

// PlaceLimitClose rests a reduce-only limit order.
func (v *Venue) PlaceLimitClose(_ context.Context, symbol string, side domain.PositionSide, qty, price float64) (domain.OrderAck, error) {
	return v.restOrder(symbol, side, domain.PurposeClose, qty, price)
}

// PlaceStopLoss rests a conditional stop order.
func (v *Venue) PlaceStopLoss(_ context.Context, symbol string, side domain.PositionSide, qty, triggerPrice float64) (domain.OrderAck, error) {
	return v.restOrder(symbol, side, domain.PurposeClose, qty, triggerPrice)
}

// PlaceTakeProfit rests a conditional take-profit order.
func (v *Venue) PlaceTakeProfit(_ context.Context, symbol string, side domain.PositionSide, qty, triggerPrice float64) (domain.OrderAck, error) {
	return v.restOrder(symbol, side, domain.PurposeClose, qty, triggerPrice)
}

func (v *Venue) restOrder(symbol string, side domain.PositionSide, purpose domain.OrderPurpose, qty, price float64) (domain.OrderAck, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	id := uuid.New().String()
	v.orders[id] = order{
		rec: domain.TriggerOrderRecord{
			OrderID:      id,
			Symbol:       symbol,
			Side:         side,
			Purpose:      purpose,
			TriggerPrice: price,
			Quantity:     qty,
			PlacedAt:     time.Now(),
		},
		status: domain.OrderStatusNew,
	}
	return domain.OrderAck{OrderID: id, Symbol: symbol, Status: domain.OrderStatusNew}, nil
}

func (v *Venue) CancelOrder(_ context.Context, _ string, orderID string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	o, ok := v.orders[orderID]
	if !ok {
		return domain.ErrNotFound
	}
	if o.status.Terminal() {
		return fmt.Errorf("sim: cancel %s: already %s: %w", orderID, o.status, domain.ErrOrderRejected)
	}
	o.status = domain.OrderStatusCanceled
	v.orders[orderID] = o
	return nil
}

func (v *Venue) QueryOrderStatus(_ context.Context, _ string, orderID string) (domain.OrderStatus, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	o, ok := v.orders[orderID]
	if !ok {
		return "", domain.ErrNotFound
	}
	return o.status, nil
}

func (v *Venue) ListOpenOrders(_ context.Context, symbol string) ([]domain.TriggerOrderRecord, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	var out []domain.TriggerOrderRecord
	for _, o := range v.orders {
		if symbol != "" && o.rec.Symbol != symbol {
			continue
		}
		if !o.status.Terminal() {
			out = append(out, o.rec)
		}
	}
	return out, nil
}

var _ domain.VenueClient = (*Venue)(nil)
