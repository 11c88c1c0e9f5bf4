package bot

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradecore/internal/models"
)

// ============================================================
// Хранилища в памяти
// ============================================================

type fakeSetups struct {
	mu      sync.Mutex
	items   map[int64]*models.Setup
	nextID  int64
	candles int
	err     error
}

func newFakeSetups(items ...models.Setup) *fakeSetups {
	f := &fakeSetups{items: make(map[int64]*models.Setup), nextID: 100}
	for i := range items {
		s := items[i]
		f.items[s.ID] = &s
	}
	return f
}

func (f *fakeSetups) live() []models.Setup {
	var out []models.Setup
	for id := int64(0); id <= f.nextID; id++ {
		if s, ok := f.items[id]; ok && (s.State == models.SetupForming || s.State == models.SetupActive) {
			out = append(out, *s)
		}
	}
	return out
}

func (f *fakeSetups) get(id int64) models.Setup {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.items[id]
}

func (f *fakeSetups) ActiveForEvaluation(ctx context.Context) ([]models.Setup, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.live(), nil
}

func (f *fakeSetups) ActiveForInvalidation(ctx context.Context) ([]models.Setup, error) {
	return f.ActiveForEvaluation(ctx)
}

func (f *fakeSetups) ExpirePastTTL(ctx context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, s := range f.items {
		if (s.State == models.SetupForming || s.State == models.SetupActive) && s.ExpiresAt.Before(now) {
			s.State = models.SetupExpired
			n++
		}
	}
	return n, nil
}

func (f *fakeSetups) Invalidate(ctx context.Context, id int64, reason models.InvalidationReason, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.items[id]
	if !ok {
		return fmt.Errorf("setup %d not found", id)
	}
	s.State = models.SetupInvalidated
	s.InvalidationReason = reason
	s.InvalidatedAt = &at
	return nil
}

func (f *fakeSetups) Activate(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.items[id]
	s.State = models.SetupActive
	s.ActivatedAt = &at
	return nil
}

func (f *fakeSetups) MarkTriggered(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s := f.items[id]
	s.State = models.SetupTriggered
	s.TriggeredAt = &at
	return nil
}

func (f *fakeSetups) CountActive(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.live()), nil
}

func (f *fakeSetups) Create(ctx context.Context, s *models.Setup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	s.ID = f.nextID
	cp := *s
	f.items[s.ID] = &cp
	return nil
}

func (f *fakeSetups) IncrementCandles(ctx context.Context, instrumentID int64, tf models.Timeframe) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.candles++
	var n int64
	for _, s := range f.items {
		if s.InstrumentID == instrumentID && s.EntryTimeframe == tf && !s.State.IsTerminal() {
			s.CandlesElapsed++
			n++
		}
	}
	return n, nil
}

type fakeSignals struct {
	mu      sync.Mutex
	items   []models.Signal
	symbols map[int64]string
	touched map[int64]time.Time
}

func newFakeSignals(items ...models.Signal) *fakeSignals {
	return &fakeSignals{items: items, symbols: make(map[int64]string), touched: make(map[int64]time.Time)}
}

func (f *fakeSignals) ForRevalidation(ctx context.Context) ([]models.RecheckSignal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.RecheckSignal
	for _, s := range f.items {
		if s.StillValid && s.RequiresRecheck {
			out = append(out, models.RecheckSignal{Signal: s, InstrumentID: 1, Symbol: "BTCUSDT"})
		}
	}
	return out, nil
}

func (f *fakeSignals) Invalidate(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].StillValid = false
			f.items[i].InvalidatedAt = &at
		}
	}
	return nil
}

func (f *fakeSignals) TouchRecheck(ctx context.Context, id int64, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.touched[id] = at
	for i := range f.items {
		if f.items[i].ID == id {
			f.items[i].LastRecheckedAt = &at
		}
	}
	return nil
}

func (f *fakeSignals) CountValid(ctx context.Context, setupID int64) (int, error) {
	types, _ := f.ValidTypes(ctx, setupID)
	return len(types), nil
}

func (f *fakeSignals) ValidTypes(ctx context.Context, setupID int64) ([]models.SignalType, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.SignalType
	for _, s := range f.items {
		if s.SetupID == setupID && s.StillValid {
			out = append(out, s.Type)
		}
	}
	return out, nil
}

func (f *fakeSignals) Create(ctx context.Context, s *models.Signal) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s.ID = int64(len(f.items) + 1000)
	f.items = append(f.items, *s)
	return nil
}

type fakeRegimes struct {
	mu       sync.Mutex
	current  map[marketKey]*models.MarketRegime
	replaced []models.MarketRegime
}

func newFakeRegimes() *fakeRegimes {
	return &fakeRegimes{current: make(map[marketKey]*models.MarketRegime)}
}

func (f *fakeRegimes) set(r models.MarketRegime) {
	f.current[marketKey{r.InstrumentID, r.Timeframe}] = &r
}

func (f *fakeRegimes) Current(ctx context.Context, instrumentID int64, tf models.Timeframe) (*models.MarketRegime, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.current[marketKey{instrumentID, tf}], nil
}

func (f *fakeRegimes) Replace(ctx context.Context, r *models.MarketRegime) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r.ID = int64(len(f.replaced) + 1)
	f.replaced = append(f.replaced, *r)
	cp := *r
	f.current[marketKey{r.InstrumentID, r.Timeframe}] = &cp
	return nil
}

type fakePositions struct {
	mu     sync.Mutex
	items  []*models.Position
	closed []models.Position
	risk   models.RiskContext
}

func (f *fakePositions) Open(ctx context.Context) ([]models.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Position
	for _, p := range f.items {
		if p.Status == models.PositionOpen {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (f *fakePositions) Create(ctx context.Context, p *models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.ID = int64(len(f.items) + 1)
	cp := *p
	f.items = append(f.items, &cp)
	return nil
}

func (f *fakePositions) Update(ctx context.Context, p *models.Position) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.items {
		if existing.ID == p.ID {
			cp := *p
			f.items[i] = &cp
			return nil
		}
	}
	return errors.New("position not found")
}

func (f *fakePositions) Close(ctx context.Context, p *models.Position) error {
	if err := f.Update(ctx, p); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, *p)
	return nil
}

func (f *fakePositions) RiskContext(ctx context.Context, instrumentID int64, balance float64, dayStart time.Time) (models.RiskContext, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.risk, nil
}

type fakeInstruments []models.Instrument

func (f fakeInstruments) Active(ctx context.Context) ([]models.Instrument, error) {
	return f, nil
}

// ============================================================
// Биржа
// ============================================================

type fakeExchange struct {
	mu         sync.Mutex
	prices     map[string]float64
	priceErr   map[string]error
	candles    []models.Candle
	balance    float64
	stopErr    error
	entryErr   error
	balanceErr error
	cancelErr  error
	placed     []models.OrderIntent
	stops      []models.OrderIntent
	targets    []models.OrderIntent
	updates    []models.OrderIntent
	closed     []int64
	cancelled  []string
	fetches    int
	nextOrder  int
}

func newFakeExchange() *fakeExchange {
	return &fakeExchange{
		prices:   map[string]float64{"BTCUSDT": 100},
		priceErr: make(map[string]error),
		candles:  flatCandles(60, 100),
		balance:  10000,
	}
}

// flatCandles - часовые свечи без пивотов и без волатильности
func flatCandles(n int, price float64) []models.Candle {
	start := time.Date(2024, 2, 28, 0, 0, 0, 0, time.UTC)
	out := make([]models.Candle, n)
	for i := range out {
		out[i] = models.Candle{
			OpenTime: start.Add(time.Duration(i) * time.Hour),
			Open:     price, High: price, Low: price, Close: price, Volume: 10,
		}
	}
	return out
}

func (f *fakeExchange) order() *models.PlacedOrder {
	f.nextOrder++
	return &models.PlacedOrder{OrderID: fmt.Sprintf("ord-%d", f.nextOrder), Status: "NEW"}
}

func (f *fakeExchange) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.priceErr[symbol]; err != nil {
		return 0, err
	}
	p, ok := f.prices[symbol]
	if !ok {
		return 0, fmt.Errorf("no price for %s", symbol)
	}
	return p, nil
}

func (f *fakeExchange) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	return append([]models.Candle(nil), f.candles...), nil
}

func (f *fakeExchange) FetchLatestCandle(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetches++
	c := f.candles[len(f.candles)-1]
	return &c, nil
}

func (f *fakeExchange) GetAccountBalance(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.balanceErr != nil {
		return 0, f.balanceErr
	}
	return f.balance, nil
}

func (f *fakeExchange) PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entryErr != nil {
		return nil, f.entryErr
	}
	f.placed = append(f.placed, intent)
	o := f.order()
	o.Price, o.Quantity = intent.Price, intent.Quantity
	return o, nil
}

func (f *fakeExchange) PlaceStopLoss(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr != nil {
		return nil, f.stopErr
	}
	f.stops = append(f.stops, intent)
	return f.order(), nil
}

func (f *fakeExchange) PlaceTakeProfit(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.targets = append(f.targets, intent)
	return f.order(), nil
}

func (f *fakeExchange) UpdateStopLoss(ctx context.Context, oldOrderID string, intent models.OrderIntent) (*models.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, intent)
	return f.order(), nil
}

func (f *fakeExchange) CancelOrder(ctx context.Context, symbol, orderID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelErr != nil {
		return f.cancelErr
	}
	f.cancelled = append(f.cancelled, orderID)
	return nil
}

func (f *fakeExchange) ClosePosition(ctx context.Context, pos *models.Position) (*models.PlacedOrder, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, pos.SetupID)
	return f.order(), nil
}

type fakePublisher struct {
	mu    sync.Mutex
	kinds []string
}

func (f *fakePublisher) Publish(kind string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kinds = append(f.kinds, kind)
}
