package model

// OrderSide is the direction of an order.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

// OrderKind selects market or limit execution.
type OrderKind string

const (
	OrderKindMarket OrderKind = "MARKET"
	OrderKindLimit  OrderKind = "LIMIT"
)

// OrderStatus is the lifecycle status of a submitted order.
type OrderStatus string

const (
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusRejected  OrderStatus = "REJECTED"
	OrderStatusCancelled OrderStatus = "CANCELLED"

	// OrderStatusUnknown marks orders whose terminal outcome was never
	// observed, e.g. orders still pending when shutdown timed out.
	OrderStatusUnknown OrderStatus = "UNKNOWN"
)

// Terminal reports whether the status needs no further resolution.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusRejected, OrderStatusCancelled:
		return true
	default:
		return false
	}
}

// OrderRequest is an order to be placed through the execution gateway.
type OrderRequest struct {
	Owner      string    `json:"owner"`
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   int64     `json:"quantity"`
	Kind       OrderKind `json:"kind"`
	LimitPrice float64   `json:"limitPrice,omitempty"`
}

// OrderOutcome reports the gateway's view of a submitted order. A
// rejection is a normal outcome, not an error.
type OrderOutcome struct {
	RequestID    int64       `json:"requestId"`
	Status       OrderStatus `json:"status"`
	FillPrice    float64     `json:"fillPrice,omitempty"`
	FillQuantity int64       `json:"fillQuantity,omitempty"`
	Message      string      `json:"message,omitempty"`
}
