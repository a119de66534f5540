package domain

import (
	"context"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style. Hedge orders are always market orders.
type OrderType string

const OrderTypeMarket OrderType = "market"

// OrderStatus tracks the venue-side order lifecycle.
type OrderStatus string

const (
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusPartial  OrderStatus = "partial"
	OrderStatusRejected OrderStatus = "rejected"
)

// OrderRequest is a hedge order submitted to the market venue.
type OrderRequest struct {
	Symbol string
	Side   OrderSide
	Amount float64 // base-asset quantity
	Type   OrderType
}

// OrderResult is the venue's response to an order submission.
type OrderResult struct {
	OrderID      string
	Status       OrderStatus
	FilledAmount float64
	AvgPrice     float64
	Timestamp    time.Time
}

// PriceUpdate is one tick from the market's push-based price stream.
type PriceUpdate struct {
	Pair      string
	Price     float64
	Change24h float64
	Volume24h float64
	Timestamp time.Time
}

// PriceCallback receives streamed price updates.
type PriceCallback func(PriceUpdate)

// Market is the external trading venue, reached through a narrow
// order-execution and price interface.
type Market interface {
	ExecuteOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	GetPrice(ctx context.Context, pair string) (float64, error)
}

// PriceFeed is the push-based side of the market: subscribe a callback to a
// trading pair and receive ticks until unsubscribed.
type PriceFeed interface {
	SubscribePrice(ctx context.Context, pair string, cb PriceCallback) (unsubscribe func(), err error)
}
