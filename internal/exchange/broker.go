package exchange

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"tradecore/internal/models"
	"tradecore/pkg/retry"
)

// Broker - торговая сторона ядра поверх адаптера биржи:
// цены, свечи, баланс котируемой валюты и размещение ордеров плана.
type Broker struct {
	client     Client
	quoteAsset string
	newID      func() string
	now        func() time.Time

	// чтения повторяются на сетевых ошибках и лимитах, закрытие - настойчивее
	readRetry  retry.Config
	closeRetry retry.Config
}

// NewBroker создаёт брокера; quoteAsset - валюта баланса (USDT)
func NewBroker(client Client, quoteAsset string) *Broker {
	if quoteAsset == "" {
		quoteAsset = "USDT"
	}
	return &Broker{
		client:     client,
		quoteAsset: strings.ToUpper(quoteAsset),
		newID:      newClientOrderID,
		now:        time.Now,
		readRetry:  retry.DefaultConfig(),
		closeRetry: retry.AggressiveConfig(),
	}
}

// newClientOrderID - уникальный id ордера, не длиннее 36 символов
func newClientOrderID() string {
	return "tc" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// GetCurrentPrice возвращает последнюю цену
func (b *Broker) GetCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	return retry.DoWithResult(ctx, func() (float64, error) {
		return b.client.GetPrice(ctx, symbol)
	}, b.readRetry)
}

// FetchCandles возвращает последние limit свечей таймфрейма, от старых к новым
func (b *Broker) FetchCandles(ctx context.Context, symbol string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	klines, err := retry.DoWithResult(ctx, func() ([]Kline, error) {
		return b.client.GetKlines(ctx, symbol, string(tf), limit)
	}, b.readRetry)
	if err != nil {
		return nil, err
	}
	candles := make([]models.Candle, len(klines))
	for i, k := range klines {
		candles[i] = models.Candle{
			OpenTime: k.OpenTime,
			Open:     k.Open,
			High:     k.High,
			Low:      k.Low,
			Close:    k.Close,
			Volume:   k.Volume,
		}
	}
	return candles, nil
}

// ErrNoClosedCandle - биржа не вернула закрытую свечу
var ErrNoClosedCandle = errors.New("no closed candle available")

// FetchLatestCandle возвращает последнюю закрытую свечу.
// Последняя строка ответа биржи - текущая незакрытая свеча.
func (b *Broker) FetchLatestCandle(ctx context.Context, symbol string, tf models.Timeframe) (*models.Candle, error) {
	candles, err := b.FetchCandles(ctx, symbol, tf, 2)
	if err != nil {
		return nil, err
	}
	if len(candles) < 2 {
		return nil, fmt.Errorf("%s %s: %w", symbol, tf, ErrNoClosedCandle)
	}
	c := candles[len(candles)-2]
	return &c, nil
}

// GetAccountBalance возвращает полный баланс котируемой валюты
func (b *Broker) GetAccountBalance(ctx context.Context) (float64, error) {
	resp, err := retry.DoWithResult(ctx, func() (*BalanceResponse, error) {
		return b.client.GetBalance(ctx, b.quoteAsset)
	}, b.readRetry)
	if err != nil {
		return 0, err
	}
	bal, ok := resp.Find(b.quoteAsset)
	if !ok {
		return 0, nil
	}
	return bal.Total, nil
}

// PlaceOrder размещает ордер входа
func (b *Broker) PlaceOrder(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	return b.place(ctx, intent)
}

// PlaceStopLoss размещает стоп-лимит ордер
func (b *Broker) PlaceStopLoss(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	intent.Kind = models.OrderStopLimit
	return b.place(ctx, intent)
}

// PlaceTakeProfit размещает лимитный ордер тейк-профита
func (b *Broker) PlaceTakeProfit(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	intent.Kind = models.OrderLimit
	return b.place(ctx, intent)
}

// UpdateStopLoss переставляет стоп: отменяет старый ордер и ставит новый.
// Если старый стоп уже исполнен или отменён, возвращается OrderNotFound.
func (b *Broker) UpdateStopLoss(ctx context.Context, oldOrderID string, intent models.OrderIntent) (*models.PlacedOrder, error) {
	if oldOrderID != "" {
		if _, err := b.client.CancelOrder(ctx, oldOrderID, intent.Symbol); err != nil {
			return nil, fmt.Errorf("cancel stop %s: %w", oldOrderID, err)
		}
	}
	return b.PlaceStopLoss(ctx, intent)
}

// CancelOrder снимает ордер. Уже исполненный или отменённый ордер
// ошибкой не считается.
func (b *Broker) CancelOrder(ctx context.Context, symbol, orderID string) error {
	if orderID == "" {
		return nil
	}
	if _, err := b.client.CancelOrder(ctx, orderID, symbol); err != nil && !errors.Is(err, ErrOrderNotFound) {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// ClosePosition закрывает позицию рыночным ордером в обратную сторону.
// Повторы идут с тем же client order id, биржа не исполнит ордер дважды.
func (b *Broker) ClosePosition(ctx context.Context, pos *models.Position) (*models.PlacedOrder, error) {
	side := models.SideSell
	if pos.IsShort() {
		side = models.SideBuy
	}
	intent := models.OrderIntent{
		Symbol:        pos.Symbol,
		Side:          side,
		Kind:          models.OrderMarket,
		Quantity:      pos.Size,
		ClientOrderID: b.newID(),
	}
	return retry.DoWithResult(ctx, func() (*models.PlacedOrder, error) {
		return b.place(ctx, intent)
	}, b.closeRetry)
}

func (b *Broker) place(ctx context.Context, intent models.OrderIntent) (*models.PlacedOrder, error) {
	if intent.ClientOrderID == "" {
		intent.ClientOrderID = b.newID()
	}

	req := PlaceOrderRequest{
		Symbol:        intent.Symbol,
		Side:          OrderSide(strings.ToLower(string(intent.Side))),
		Quantity:      intent.Quantity,
		ClientOrderID: intent.ClientOrderID,
	}
	switch intent.Kind {
	case models.OrderMarket:
		req.Type = OrderTypeMarket
	case models.OrderStopLimit:
		req.Type = OrderTypeStopLossLimit
		req.StopPrice = intent.StopPrice
		req.Price = intent.LimitPrice
		req.TimeInForce = "GTC"
	default:
		req.Type = OrderTypeLimit
		req.Price = intent.Price
	}

	resp, err := b.client.PlaceOrder(ctx, req)
	if err != nil {
		return nil, err
	}

	placedAt := resp.CreatedAt
	if placedAt.IsZero() {
		placedAt = b.now()
	}
	return &models.PlacedOrder{
		OrderID:       resp.OrderID,
		ClientOrderID: intent.ClientOrderID,
		Status:        string(resp.Status),
		Price:         resp.Price,
		Quantity:      resp.Quantity,
		PlacedAt:      placedAt,
	}, nil
}
