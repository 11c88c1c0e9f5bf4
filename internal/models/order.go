package models

import "time"

// OrderSide - сторона ордера в плане
type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

// OrderKind - тип ордера в плане
type OrderKind string

const (
	OrderLimit     OrderKind = "LIMIT"
	OrderMarket    OrderKind = "MARKET"
	OrderStopLimit OrderKind = "STOP_LIMIT"
)

// OrderIntent - ордер, который торговое ядро хочет разместить
type OrderIntent struct {
	Symbol        string    `json:"symbol"`
	Side          OrderSide `json:"side"`
	Kind          OrderKind `json:"type"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price,omitempty"`
	StopPrice     float64   `json:"stop_price,omitempty"`
	LimitPrice    float64   `json:"limit_price,omitempty"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
}

// PlacedOrder - подтверждение биржи
type PlacedOrder struct {
	OrderID       string    `json:"order_id"`
	ClientOrderID string    `json:"client_order_id,omitempty"`
	Status        string    `json:"status"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	PlacedAt      time.Time `json:"placed_at"`
}
