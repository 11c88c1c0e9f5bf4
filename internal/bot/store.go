package bot

import (
	"context"
	"time"

	"tradecore/internal/models"
)

// SetupStore - хранилище сетапов
type SetupStore interface {
	// ActiveForEvaluation - сетапы FORMING и ACTIVE для оценки переходов
	ActiveForEvaluation(ctx context.Context) ([]models.Setup, error)
	// ActiveForInvalidation - сетапы FORMING и ACTIVE для проверки инвалидации
	ActiveForInvalidation(ctx context.Context) ([]models.Setup, error)
	// ExpirePastTTL переводит просроченные FORMING/ACTIVE в EXPIRED
	ExpirePastTTL(ctx context.Context, now time.Time) (int64, error)
	Invalidate(ctx context.Context, id int64, reason models.InvalidationReason, at time.Time) error
	Activate(ctx context.Context, id int64, at time.Time) error
	MarkTriggered(ctx context.Context, id int64, at time.Time) error
	CountActive(ctx context.Context) (int, error)
	Create(ctx context.Context, s *models.Setup) error
	// IncrementCandles увеличивает счётчик свечей живых сетапов инструмента
	IncrementCandles(ctx context.Context, instrumentID int64, tf models.Timeframe) (int64, error)
}

// SignalStore - хранилище сигналов сетапов
type SignalStore interface {
	// ForRevalidation - действующие сигналы живых сетапов, требующие перепроверки
	ForRevalidation(ctx context.Context) ([]models.RecheckSignal, error)
	Invalidate(ctx context.Context, id int64, at time.Time) error
	TouchRecheck(ctx context.Context, id int64, at time.Time) error
	CountValid(ctx context.Context, setupID int64) (int, error)
	// ValidTypes - виды действующих сигналов сетапа
	ValidTypes(ctx context.Context, setupID int64) ([]models.SignalType, error)
	Create(ctx context.Context, s *models.Signal) error
}

// RegimeStore - хранилище рыночных режимов
type RegimeStore interface {
	// Current - активный режим или nil
	Current(ctx context.Context, instrumentID int64, tf models.Timeframe) (*models.MarketRegime, error)
	// Replace закрывает активный режим и записывает новый
	Replace(ctx context.Context, r *models.MarketRegime) error
}

// PositionStore - хранилище позиций
type PositionStore interface {
	Open(ctx context.Context) ([]models.Position, error)
	Create(ctx context.Context, p *models.Position) error
	Update(ctx context.Context, p *models.Position) error
	Close(ctx context.Context, p *models.Position) error
	// RiskContext - агрегаты для проверок риска; instrumentID 0 - по всем инструментам
	RiskContext(ctx context.Context, instrumentID int64, balance float64, dayStart time.Time) (models.RiskContext, error)
}

// InstrumentStore - хранилище инструментов
type InstrumentStore interface {
	Active(ctx context.Context) ([]models.Instrument, error)
}

// Exchange - торговая сторона биржи
type Exchange interface {
	GetCurrentPrice(ctx context.Context, symbol string) (float64, error)
	FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error)
	FetchLatestCandle(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error)
	GetAccountBalance(ctx context.Context) (float64, error)
	PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error)
	PlaceStopLoss(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error)
	PlaceTakeProfit(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error)
	UpdateStopLoss(ctx context.Context, oldOrderID string, intent models.OrderIntent) (*models.PlacedOrder, error)
	// CancelOrder снимает ордер; уже исполненный или отменённый не ошибка
	CancelOrder(ctx context.Context, symbol, orderID string) error
	ClosePosition(ctx context.Context, pos *models.Position) (*models.PlacedOrder, error)
}

// Publisher рассылает события наружу (websocket)
type Publisher interface {
	Publish(kind string, data interface{})
}

// Stores - все хранилища цикла
type Stores struct {
	Setups      SetupStore
	Signals     SignalStore
	Regimes     RegimeStore
	Positions   PositionStore
	Instruments InstrumentStore
}
