package domain

import "time"

// OrderStatus mirrors the venue's conditional-order lifecycle.
type OrderStatus string

const (
	OrderStatusNew             OrderStatus = "NEW"
	OrderStatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderStatusFilled          OrderStatus = "FILLED"
	OrderStatusCanceled        OrderStatus = "CANCELED"
	OrderStatusRejected        OrderStatus = "REJECTED"
	OrderStatusExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether the order can no longer fill.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected, OrderStatusExpired:
		return true
	default:
		return false
	}
}

// OrderPurpose distinguishes entry triggers from protective exits.
type OrderPurpose string

const (
	PurposeOpen  OrderPurpose = "open"
	PurposeClose OrderPurpose = "close"
)

// TriggerOrderRecord is the engine's ledger entry for a conditional order it
// placed on the venue. The monitor sweeps these records, not the venue's full
// order list, so only orders the engine created are ever touched.
type TriggerOrderRecord struct {
	OrderID      string
	Symbol       string
	Side         PositionSide
	Purpose      OrderPurpose
	TriggerPrice float64
	Quantity     float64
	PlacedAt     time.Time
}

// Age returns how long the order has been resting.
func (r TriggerOrderRecord) Age(now time.Time) time.Duration {
	return now.Sub(r.PlacedAt)
}

// DriftPct returns the unsigned percentage distance between the trigger price
// and the current market price.
func (r TriggerOrderRecord) DriftPct(markPrice float64) float64 {
	if r.TriggerPrice == 0 {
		return 0
	}
	return abs(markPrice-r.TriggerPrice) / r.TriggerPrice * 100
}

// OrderAck is the venue's acknowledgement of a placed order.
type OrderAck struct {
	OrderID   string
	Symbol    string
	Status    OrderStatus
	AvgPrice  float64
	FilledQty float64
}
