package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const (
	binanceBaseURL    = "https://api.binance.com"
	binanceTestnetURL = "https://testnet.binance.vision"
	binanceName       = "binance"
)

// Binance - адаптер спотового REST API Binance
type Binance struct {
	creds Credentials
	opts  options
}

// NewBinance создаёт адаптер; окружение выбирает базовый URL
func NewBinance(creds Credentials, opts ...Option) *Binance {
	base := binanceBaseURL
	if creds.Environment == EnvironmentTestnet {
		base = binanceTestnetURL
	}
	return &Binance{creds: creds, opts: buildOptions(base, opts)}
}

func (b *Binance) GetName() string {
	return binanceName
}

type binanceOrder struct {
	OrderID       int64  `json:"orderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ClientOrderID string `json:"clientOrderId"`
	Side          string `json:"side"`
	Type          string `json:"type"`
	OrigQty       string `json:"origQty"`
	ExecutedQty   string `json:"executedQty"`
	Price         string `json:"price"`
	AvgPrice      string `json:"avgPrice"`
	TransactTime  int64  `json:"transactTime"`
	Time          int64  `json:"time"`
	UpdateTime    int64  `json:"updateTime"`
}

// PlaceOrder размещает ордер.
// Порядок параметров фиксирован: symbol, side, type, quantity, timestamp,
// затем необязательные price, stopPrice, timeInForce, newClientOrderId.
func (b *Binance) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResponse, error) {
	var params orderedParams
	params.add("symbol", strings.ToUpper(req.Symbol))
	params.add("side", strings.ToUpper(string(req.Side)))
	params.add("type", binanceOrderType(req.Type))
	params.addFloat("quantity", req.Quantity)
	params.addInt("timestamp", b.opts.now().UnixMilli())

	if req.Price > 0 {
		params.addFloat("price", req.Price)
	}
	if req.StopPrice > 0 {
		params.addFloat("stopPrice", req.StopPrice)
	}
	if req.TimeInForce != "" {
		params.add("timeInForce", req.TimeInForce)
	} else if req.Type == OrderTypeLimit {
		params.add("timeInForce", "GTC")
	}
	if req.ClientOrderID != "" {
		params.add("newClientOrderId", req.ClientOrderID)
	}

	var resp binanceOrder
	if err := b.signedRequest(ctx, http.MethodPost, "/api/v3/order", params, &resp); err != nil {
		return nil, err
	}
	return mapBinanceOrder(resp), nil
}

// GetBalance возвращает балансы; пустой asset - все активы
func (b *Binance) GetBalance(ctx context.Context, asset string) (*BalanceResponse, error) {
	now := b.opts.now()
	var params orderedParams
	params.addInt("timestamp", now.UnixMilli())

	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := b.signedRequest(ctx, http.MethodGet, "/api/v3/account", params, &resp); err != nil {
		return nil, err
	}

	out := &BalanceResponse{Timestamp: now}
	for _, bal := range resp.Balances {
		if asset != "" && bal.Asset != strings.ToUpper(asset) {
			continue
		}
		free, locked := parseFloat(bal.Free), parseFloat(bal.Locked)
		out.Balances = append(out.Balances, Balance{Asset: bal.Asset, Free: free, Locked: locked, Total: free + locked})
	}
	return out, nil
}

func (b *Binance) CancelOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	var resp binanceOrder
	if err := b.signedRequest(ctx, http.MethodDelete, "/api/v3/order", b.orderParams(orderID, symbol), &resp); err != nil {
		return nil, err
	}
	return mapBinanceOrder(resp), nil
}

func (b *Binance) GetOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	var resp binanceOrder
	if err := b.signedRequest(ctx, http.MethodGet, "/api/v3/order", b.orderParams(orderID, symbol), &resp); err != nil {
		return nil, err
	}
	return mapBinanceOrder(resp), nil
}

func (b *Binance) orderParams(orderID, symbol string) orderedParams {
	var params orderedParams
	params.add("symbol", strings.ToUpper(symbol))
	params.add("orderId", orderID)
	params.addInt("timestamp", b.opts.now().UnixMilli())
	return params
}

// ============ Рыночные данные ============

// GetPrice возвращает последнюю цену символа
func (b *Binance) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var params orderedParams
	params.add("symbol", strings.ToUpper(symbol))

	var resp struct {
		Price string `json:"price"`
	}
	if err := b.do(ctx, http.MethodGet, "/api/v3/ticker/price", params.encode(), false, &resp); err != nil {
		return 0, err
	}
	return parseFloat(resp.Price), nil
}

// GetKlines возвращает свечи; interval в формате биржи (1h, 4h, 1d)
func (b *Binance) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var params orderedParams
	params.add("symbol", strings.ToUpper(symbol))
	params.add("interval", interval)
	params.addInt("limit", int64(limit))

	var rows [][]interface{}
	if err := b.do(ctx, http.MethodGet, "/api/v3/klines", params.encode(), false, &rows); err != nil {
		return nil, err
	}

	klines := make([]Kline, 0, len(rows))
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		openMs, _ := row[0].(float64)
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(int64(openMs)).UTC(),
			Open:     parseFloat(asString(row[1])),
			High:     parseFloat(asString(row[2])),
			Low:      parseFloat(asString(row[3])),
			Close:    parseFloat(asString(row[4])),
			Volume:   parseFloat(asString(row[5])),
		})
	}
	return klines, nil
}

// ============ Транспорт ============

// signedRequest подписывает query string и добавляет &signature=
func (b *Binance) signedRequest(ctx context.Context, method, path string, params orderedParams, out interface{}) error {
	if b.creds.APIKey == "" || b.creds.APISecret == "" {
		return newError(binanceName, KindAuthentication, "", "missing API credentials", nil)
	}
	query := params.encode()
	query += "&signature=" + signHex(b.creds.APISecret, query)
	return b.do(ctx, method, path, query, true, out)
}

func (b *Binance) do(ctx context.Context, method, path, query string, signed bool, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	reqURL := b.opts.baseURL + path
	if query != "" {
		reqURL += "?" + query
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, nil)
	if err != nil {
		return newError(binanceName, KindNetwork, "", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if signed {
		req.Header.Set("X-MBX-APIKEY", b.creds.APIKey)
	}

	resp, err := b.opts.httpClient.Do(req)
	if err != nil {
		return classifyTransport(ctx, binanceName, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return classifyTransport(ctx, binanceName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return binanceHTTPError(resp.StatusCode, body)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return newError(binanceName, KindNetwork, "", "decode response", err)
	}
	return nil
}

// binanceHTTPError классифицирует ответ с ошибкой
func binanceHTTPError(status int, body []byte) *Error {
	var payload struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	_ = json.Unmarshal(body, &payload)

	msg := payload.Msg
	if msg == "" {
		msg = "Unknown error"
	}
	code := ""
	if payload.Code != 0 {
		code = strconv.Itoa(payload.Code)
	}

	var e *Error
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		e = newError(binanceName, KindAuthentication, code, msg, nil)
	case status == http.StatusTooManyRequests:
		e = newError(binanceName, KindRateLimit, code, msg, nil)
	case status == http.StatusBadRequest && payload.Code == -2010:
		e = newError(binanceName, KindInsufficientBalance, code, msg, nil)
	case status == http.StatusBadRequest && payload.Code == -2011:
		e = newError(binanceName, KindOrderNotFound, code, msg, nil)
	case status == http.StatusBadRequest:
		e = newError(binanceName, KindInvalidOrder, code, msg, nil)
	default:
		e = newError(binanceName, KindNetwork, code, fmt.Sprintf("HTTP %d: %s", status, msg), nil)
	}
	e.StatusCode = status
	return e
}

func binanceOrderType(t OrderType) string {
	switch t {
	case OrderTypeMarket:
		return "MARKET"
	case OrderTypeLimit:
		return "LIMIT"
	case OrderTypeStopLoss:
		return "STOP_LOSS"
	case OrderTypeTakeProfit:
		return "TAKE_PROFIT"
	case OrderTypeStopLossLimit:
		return "STOP_LOSS_LIMIT"
	case OrderTypeTakeProfitLimit:
		return "TAKE_PROFIT_LIMIT"
	default:
		return strings.ToUpper(string(t))
	}
}

var binanceStatuses = map[string]OrderStatus{
	"NEW":              StatusNew,
	"PARTIALLY_FILLED": StatusPartiallyFilled,
	"FILLED":           StatusFilled,
	"CANCELED":         StatusCancelled,
	"PENDING_CANCEL":   StatusPending,
	"REJECTED":         StatusRejected,
	"EXPIRED":          StatusExpired,
}

func mapBinanceOrder(o binanceOrder) *OrderResponse {
	status, ok := binanceStatuses[o.Status]
	if !ok {
		status = StatusNew
	}
	created := o.TransactTime
	if created == 0 {
		created = o.Time
	}
	resp := &OrderResponse{
		OrderID:          strconv.FormatInt(o.OrderID, 10),
		ClientOrderID:    o.ClientOrderID,
		Symbol:           o.Symbol,
		Side:             OrderSide(strings.ToLower(o.Side)),
		Type:             OrderType(strings.ToLower(o.Type)),
		Status:           status,
		Quantity:         parseFloat(o.OrigQty),
		ExecutedQuantity: parseFloat(o.ExecutedQty),
		Price:            parseFloat(o.Price),
		AveragePrice:     parseFloat(o.AvgPrice),
		CreatedAt:        time.UnixMilli(created).UTC(),
	}
	if o.UpdateTime > 0 {
		resp.UpdatedAt = time.UnixMilli(o.UpdateTime).UTC()
	}
	return resp
}

func asString(v interface{}) string {
	switch s := v.(type) {
	case string:
		return s
	case float64:
		return formatFloat(s)
	default:
		return ""
	}
}
