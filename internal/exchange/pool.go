package exchange

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"tradecore/pkg/ratelimit"
)

// AccountKey - аккаунт на бирже; у каждого свой лимитер
type AccountKey struct {
	Exchange  string
	AccountID string
}

func (k AccountKey) String() string {
	return k.Exchange + "/" + k.AccountID
}

// Observer получает ошибки бирж (метрики, логи)
type Observer interface {
	ObserveExchangeError(exchange, operation string, kind ErrorKind)
}

// callSpec - приоритет и вес вызова
type callSpec struct {
	priority ratelimit.Priority
	weight   int
}

// Операции адаптера
const (
	opPlaceOrder  = "place_order"
	opCancelOrder = "cancel_order"
	opGetOrder    = "get_order"
	opGetBalance  = "get_balance"
	opGetPrice    = "get_price"
	opGetKlines   = "get_klines"
)

// Отмена важнее размещения, баланс - наименее срочный запрос.
// Веса соответствуют весам REST API бирж.
var callSpecs = map[string]map[string]callSpec{
	binanceName: {
		opCancelOrder: {ratelimit.PriorityCritical, 1},
		opPlaceOrder:  {ratelimit.PriorityHigh, 1},
		opGetOrder:    {ratelimit.PriorityNormal, 4},
		opGetPrice:    {ratelimit.PriorityNormal, 2},
		opGetKlines:   {ratelimit.PriorityNormal, 2},
		opGetBalance:  {ratelimit.PriorityLow, 20},
	},
	bybitName: {
		opCancelOrder: {ratelimit.PriorityCritical, 1},
		opPlaceOrder:  {ratelimit.PriorityHigh, 1},
		opGetOrder:    {ratelimit.PriorityNormal, 1},
		opGetPrice:    {ratelimit.PriorityNormal, 1},
		opGetKlines:   {ratelimit.PriorityNormal, 1},
		opGetBalance:  {ratelimit.PriorityLow, 1},
	},
}

func specFor(exchange, op string) callSpec {
	if specs, ok := callSpecs[exchange]; ok {
		if s, ok := specs[op]; ok {
			return s
		}
	}
	return callSpec{ratelimit.PriorityNormal, 1}
}

// Pool владеет лимитером и клиентом на каждый аккаунт
type Pool struct {
	registry *Registry
	opts     []Option
	observer Observer

	mu      sync.Mutex
	clients map[AccountKey]*LimitedAdapter
	closed  bool
}

// NewPool создаёт пул; opts передаются конструкторам адаптеров
func NewPool(registry *Registry, observer Observer, opts ...Option) *Pool {
	return &Pool{
		registry: registry,
		opts:     opts,
		observer: observer,
		clients:  make(map[AccountKey]*LimitedAdapter),
	}
}

// ErrPoolClosed - пул закрыт
var ErrPoolClosed = errors.New("exchange pool closed")

// Client возвращает клиента аккаунта, создавая его при первом обращении
func (p *Pool) Client(key AccountKey, creds Credentials) (*LimitedAdapter, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrPoolClosed
	}
	if c, ok := p.clients[key]; ok {
		return c, nil
	}

	inner, err := p.registry.Create(key.Exchange, creds, p.opts...)
	if err != nil {
		return nil, err
	}

	cfg, ok := ratelimit.ConfigFor(inner.GetName())
	if !ok {
		return nil, fmt.Errorf("%w: no rate limits for %s", ErrUnsupportedExchange, key.Exchange)
	}

	c := &LimitedAdapter{
		inner:    inner,
		limiter:  ratelimit.NewLimiter(ratelimit.Options{Config: cfg}),
		observer: p.observer,
	}
	p.clients[key] = c
	return c, nil
}

// Stats возвращает состояние лимитеров по аккаунтам
func (p *Pool) Stats() map[AccountKey]ratelimit.Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make(map[AccountKey]ratelimit.Stats, len(p.clients))
	for k, c := range p.clients {
		out[k] = c.limiter.Stats()
	}
	return out
}

// Close останавливает все лимитеры
func (p *Pool) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	for _, c := range p.clients {
		c.limiter.Stop()
	}
	p.closed = true
}

// LimitedAdapter пропускает каждый вызов клиента через лимитер аккаунта
type LimitedAdapter struct {
	inner    Client
	limiter  *ratelimit.Limiter
	observer Observer
}

// NewLimitedAdapter оборачивает клиента готовым лимитером
func NewLimitedAdapter(inner Client, limiter *ratelimit.Limiter, observer Observer) *LimitedAdapter {
	return &LimitedAdapter{inner: inner, limiter: limiter, observer: observer}
}

func (a *LimitedAdapter) GetName() string {
	return a.inner.GetName()
}

func (a *LimitedAdapter) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResponse, error) {
	return call(ctx, a, opPlaceOrder, func(ctx context.Context) (*OrderResponse, error) {
		return a.inner.PlaceOrder(ctx, req)
	})
}

func (a *LimitedAdapter) GetBalance(ctx context.Context, asset string) (*BalanceResponse, error) {
	return call(ctx, a, opGetBalance, func(ctx context.Context) (*BalanceResponse, error) {
		return a.inner.GetBalance(ctx, asset)
	})
}

func (a *LimitedAdapter) CancelOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	return call(ctx, a, opCancelOrder, func(ctx context.Context) (*OrderResponse, error) {
		return a.inner.CancelOrder(ctx, orderID, symbol)
	})
}

func (a *LimitedAdapter) GetOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	return call(ctx, a, opGetOrder, func(ctx context.Context) (*OrderResponse, error) {
		return a.inner.GetOrder(ctx, orderID, symbol)
	})
}

func (a *LimitedAdapter) GetPrice(ctx context.Context, symbol string) (float64, error) {
	return call(ctx, a, opGetPrice, func(ctx context.Context) (float64, error) {
		return a.inner.GetPrice(ctx, symbol)
	})
}

func (a *LimitedAdapter) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	return call(ctx, a, opGetKlines, func(ctx context.Context) ([]Kline, error) {
		return a.inner.GetKlines(ctx, symbol, interval, limit)
	})
}

// Stats - состояние лимитера аккаунта
func (a *LimitedAdapter) Stats() ratelimit.Stats {
	return a.limiter.Stats()
}

func call[T any](ctx context.Context, a *LimitedAdapter, op string, fn func(ctx context.Context) (T, error)) (T, error) {
	spec := specFor(a.inner.GetName(), op)
	v, err := ratelimit.Do(ctx, a.limiter, fn, spec.priority, spec.weight)
	if err != nil && a.observer != nil {
		if kind, ok := KindOf(err); ok {
			a.observer.ObserveExchangeError(a.inner.GetName(), op, kind)
		}
	}
	return v, err
}
