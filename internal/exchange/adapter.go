// Package exchange - адаптеры спотовых REST API бирж (Binance, Bybit),
// реестр адаптеров и пул лимитеров по аккаунтам.
package exchange

import (
	"context"
	"strings"
	"time"
)

// RequestTimeout ограничивает каждый вызов API биржи
const RequestTimeout = 10 * time.Second

// Environment - окружение биржи
type Environment string

const (
	EnvironmentProduction Environment = "production"
	EnvironmentTestnet    Environment = "testnet"
)

// ParseEnvironment: всё, кроме "production", считается testnet
func ParseEnvironment(s string) Environment {
	if strings.EqualFold(strings.TrimSpace(s), string(EnvironmentProduction)) {
		return EnvironmentProduction
	}
	return EnvironmentTestnet
}

// Credentials - ключи API
type Credentials struct {
	APIKey      string
	APISecret   string
	Environment Environment
}

// OrderSide - сторона ордера
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// OrderType - тип ордера
type OrderType string

const (
	OrderTypeMarket          OrderType = "market"
	OrderTypeLimit           OrderType = "limit"
	OrderTypeStopLoss        OrderType = "stop_loss"
	OrderTypeTakeProfit      OrderType = "take_profit"
	OrderTypeStopLossLimit   OrderType = "stop_loss_limit"
	OrderTypeTakeProfitLimit OrderType = "take_profit_limit"
)

// OrderStatus - нормализованный статус ордера
type OrderStatus string

const (
	StatusNew             OrderStatus = "new"
	StatusPending         OrderStatus = "pending"
	StatusPartiallyFilled OrderStatus = "partially_filled"
	StatusFilled          OrderStatus = "filled"
	StatusCancelled       OrderStatus = "cancelled"
	StatusRejected        OrderStatus = "rejected"
	StatusExpired         OrderStatus = "expired"
)

// PlaceOrderRequest - запрос на размещение ордера.
// Нулевые Price/StopPrice не передаются бирже.
type PlaceOrderRequest struct {
	Symbol        string
	Side          OrderSide
	Type          OrderType
	Quantity      float64
	Price         float64
	StopPrice     float64
	TimeInForce   string
	ClientOrderID string
}

// OrderResponse - ордер в общем формате
type OrderResponse struct {
	OrderID          string      `json:"order_id"`
	ClientOrderID    string      `json:"client_order_id,omitempty"`
	Symbol           string      `json:"symbol"`
	Side             OrderSide   `json:"side"`
	Type             OrderType   `json:"type"`
	Status           OrderStatus `json:"status"`
	Quantity         float64     `json:"quantity"`
	ExecutedQuantity float64     `json:"executed_quantity"`
	Price            float64     `json:"price,omitempty"`
	AveragePrice     float64     `json:"average_price,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at,omitempty"`
}

// Balance - остаток по активу
type Balance struct {
	Asset  string  `json:"asset"`
	Free   float64 `json:"free"`
	Locked float64 `json:"locked"`
	Total  float64 `json:"total"`
}

// BalanceResponse - балансы аккаунта
type BalanceResponse struct {
	Balances  []Balance `json:"balances"`
	Timestamp time.Time `json:"timestamp"`
}

// Find возвращает баланс актива
func (r *BalanceResponse) Find(asset string) (Balance, bool) {
	for _, b := range r.Balances {
		if strings.EqualFold(b.Asset, asset) {
			return b, true
		}
	}
	return Balance{}, false
}

// Adapter - контракт адаптера биржи.
// Все ошибки возвращаются как *Error с классом из таксономии.
type Adapter interface {
	GetName() string
	PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResponse, error)
	// GetBalance возвращает баланс актива; пустой asset - все активы
	GetBalance(ctx context.Context, asset string) (*BalanceResponse, error)
	CancelOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error)
	GetOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error)
}

// MarketData - публичные рыночные данные, подписи не требуют
type MarketData interface {
	GetPrice(ctx context.Context, symbol string) (float64, error)
	// GetKlines возвращает закрытые и текущую свечи, от старых к новым
	GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
}

// Kline - свеча биржи
type Kline struct {
	OpenTime time.Time
	Open     float64
	High     float64
	Low      float64
	Close    float64
	Volume   float64
}

// Client - адаптер с рыночными данными
type Client interface {
	Adapter
	MarketData
}
