package domain

import "context"

// VenueClient is the engine's view of the derivatives venue. Implementations
// must be safe for concurrent use; the reconciliation loop and the monitors
// poll through the same client.
type VenueClient interface {
	// GetPositions returns all non-zero positions for the account.
	GetPositions(ctx context.Context) ([]Position, error)
	// GetPosition returns the live position for one symbol. A flat symbol
	// returns ErrNotFound.
	GetPosition(ctx context.Context, symbol string) (Position, error)

	GetPrice(ctx context.Context, symbol string) (float64, error)
	GetKlines(ctx context.Context, symbol string, interval KlineInterval, limit int) ([]Kline, error)
	GetFundingRate(ctx context.Context, symbol string) (FundingRate, error)
	GetTradingRules(ctx context.Context, symbol string) (TradingRules, error)
	GetBalance(ctx context.Context, asset string) (Balance, error)

	// OpenPosition places a market order establishing or adding to a
	// position in the given direction.
	OpenPosition(ctx context.Context, symbol string, side PositionSide, qty float64) (OrderAck, error)
	// ClosePosition places a reduce-only order closing qty of an existing
	// position. The side is the position's own direction, not the closing
	// order's.
	ClosePosition(ctx context.Context, symbol string, side PositionSide, qty float64) (OrderAck, error)
	// PlaceLimitClose places a reduce-only limit order at the given price.
	PlaceLimitClose(ctx context.Context, symbol string, side PositionSide, qty, price float64) (OrderAck, error)
	// PlaceStopLoss and PlaceTakeProfit place conditional protective orders
	// and return the venue order ID.
	PlaceStopLoss(ctx context.Context, symbol string, side PositionSide, qty, triggerPrice float64) (OrderAck, error)
	PlaceTakeProfit(ctx context.Context, symbol string, side PositionSide, qty, triggerPrice float64) (OrderAck, error)

	CancelOrder(ctx context.Context, symbol, orderID string) error
	QueryOrderStatus(ctx context.Context, symbol, orderID string) (OrderStatus, error)
	// ListOpenOrders returns the venue's resting orders for a symbol. An
	// empty symbol returns resting orders across all symbols.
	ListOpenOrders(ctx context.Context, symbol string) ([]TriggerOrderRecord, error)
}

// Evaluator produces one decision per submitted position context. The engine
// batches every undecided position into a single call per pass.
type Evaluator interface {
	EvaluateBatch(ctx context.Context, contexts []PositionContext) ([]SymbolDecision, error)
}
