package exchange

import (
	"context"
	"sync"
)

// fakeClient - управляемый клиент биржи для тестов пула и брокера
type fakeClient struct {
	name string

	mu        sync.Mutex
	placed    []PlaceOrderRequest
	cancelled []string
	placeErr  error
	cancelErr error
	price     float64
	klines    []Kline
	balance   *BalanceResponse

	// transient: первые failures вызовов PlaceOrder и GetPrice падают с transient
	failures   int
	transient  error
	priceCalls int
	placeCalls int
}

// failTransient отдаёт ошибку, пока не исчерпан счётчик failures
func (f *fakeClient) failTransient() error {
	if f.failures > 0 {
		f.failures--
		return f.transient
	}
	return nil
}

func (f *fakeClient) GetName() string { return f.name }

func (f *fakeClient) PlaceOrder(_ context.Context, req PlaceOrderRequest) (*OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.placeCalls++
	if err := f.failTransient(); err != nil {
		return nil, err
	}
	if f.placeErr != nil {
		return nil, f.placeErr
	}
	f.placed = append(f.placed, req)
	return &OrderResponse{
		OrderID:  "ord-" + formatFloat(float64(len(f.placed))),
		Symbol:   req.Symbol,
		Side:     req.Side,
		Type:     req.Type,
		Status:   StatusNew,
		Quantity: req.Quantity,
		Price:    req.Price,
	}, nil
}

func (f *fakeClient) GetBalance(context.Context, string) (*BalanceResponse, error) {
	if f.balance == nil {
		return &BalanceResponse{}, nil
	}
	return f.balance, nil
}

func (f *fakeClient) CancelOrder(_ context.Context, orderID, symbol string) (*OrderResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return nil, f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return &OrderResponse{OrderID: orderID, Symbol: symbol, Status: StatusCancelled}, nil
}

func (f *fakeClient) GetOrder(_ context.Context, orderID, symbol string) (*OrderResponse, error) {
	return &OrderResponse{OrderID: orderID, Symbol: symbol, Status: StatusNew}, nil
}

func (f *fakeClient) GetPrice(context.Context, string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if err := f.failTransient(); err != nil {
		return 0, err
	}
	return f.price, nil
}

func (f *fakeClient) GetKlines(context.Context, string, string, int) ([]Kline, error) {
	return f.klines, nil
}

type observedError struct {
	exchange, operation string
	kind                ErrorKind
}

type recordingObserver struct {
	mu     sync.Mutex
	events []observedError
}

func (o *recordingObserver) ObserveExchangeError(exchange, operation string, kind ErrorKind) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, observedError{exchange, operation, kind})
}
