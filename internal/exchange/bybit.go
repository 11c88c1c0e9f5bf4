package exchange

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const (
	bybitBaseURL    = "https://api.bybit.com"
	bybitTestnetURL = "https://api-testnet.bybit.com"
	bybitRecvWindow = "5000"
	bybitCategory   = "spot"
	bybitName       = "bybit"
)

// Bybit - адаптер спотового REST API Bybit v5
type Bybit struct {
	creds Credentials
	opts  options
}

// NewBybit создаёт адаптер; окружение выбирает базовый URL
func NewBybit(creds Credentials, opts ...Option) *Bybit {
	base := bybitBaseURL
	if creds.Environment == EnvironmentTestnet {
		base = bybitTestnetURL
	}
	return &Bybit{creds: creds, opts: buildOptions(base, opts)}
}

func (b *Bybit) GetName() string {
	return bybitName
}

type bybitOrder struct {
	OrderID     string `json:"orderId"`
	OrderLinkID string `json:"orderLinkId"`
	Symbol      string `json:"symbol"`
	Side        string `json:"side"`
	OrderType   string `json:"orderType"`
	OrderStatus string `json:"orderStatus"`
	Qty         string `json:"qty"`
	CumExecQty  string `json:"cumExecQty"`
	Price       string `json:"price"`
	AvgPrice    string `json:"avgPrice"`
	CreatedTime string `json:"createdTime"`
	UpdatedTime string `json:"updatedTime"`
}

// bybitOrderResult: create/cancel возвращают ордер в result,
// realtime - список в result.list
type bybitOrderResult struct {
	bybitOrder
	List []bybitOrder `json:"list"`
}

func (r *bybitOrderResult) order() (bybitOrder, bool) {
	if r == nil {
		return bybitOrder{}, false
	}
	if len(r.List) > 0 {
		return r.List[0], true
	}
	if r.OrderID == "" {
		return bybitOrder{}, false
	}
	return r.bybitOrder, true
}

type bybitEnvelope struct {
	RetCode int                 `json:"retCode"`
	RetMsg  string              `json:"retMsg"`
	Result  jsoniter.RawMessage `json:"result"`
}

// PlaceOrder размещает ордер. Тело JSON собирается в фиксированном порядке
// полей, подпись считается по тем же байтам.
func (b *Bybit) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*OrderResponse, error) {
	var params orderedParams
	params.add("category", bybitCategory)
	params.add("symbol", strings.ToUpper(req.Symbol))
	params.add("side", capitalize(string(req.Side)))
	params.add("orderType", bybitOrderType(req.Type))
	params.addFloat("qty", req.Quantity)
	if req.Price > 0 {
		params.addFloat("price", req.Price)
	}
	if req.StopPrice > 0 {
		params.addFloat("triggerPrice", req.StopPrice)
	}
	if req.TimeInForce != "" {
		params.add("timeInForce", req.TimeInForce)
	}
	if req.ClientOrderID != "" {
		params.add("orderLinkId", req.ClientOrderID)
	}

	var result *bybitOrderResult
	env, err := b.signedRequest(ctx, http.MethodPost, "/v5/order/create", params, &result)
	if err != nil {
		return nil, err
	}
	o, ok := result.order()
	if !ok {
		return nil, newError(bybitName, KindInvalidOrder, strconv.Itoa(env.RetCode), env.RetMsg, nil)
	}
	return mapBybitOrder(o, req), nil
}

// GetBalance возвращает балансы спотового кошелька; пустой asset - все монеты
func (b *Bybit) GetBalance(ctx context.Context, asset string) (*BalanceResponse, error) {
	now := b.opts.now()
	var params orderedParams
	params.add("accountType", "SPOT")
	if asset != "" {
		params.add("coin", strings.ToUpper(asset))
	}

	var result *struct {
		List []struct {
			Coin []struct {
				Coin             string `json:"coin"`
				WalletBalance    string `json:"walletBalance"`
				AvailableBalance string `json:"availableBalance"`
				Free             string `json:"free"`
				Locked           string `json:"locked"`
			} `json:"coin"`
		} `json:"list"`
	}
	if _, err := b.signedRequest(ctx, http.MethodGet, "/v5/account/wallet-balance", params, &result); err != nil {
		return nil, err
	}

	out := &BalanceResponse{Timestamp: now}
	if result == nil || len(result.List) == 0 {
		return out, nil
	}
	for _, c := range result.List[0].Coin {
		freeStr := c.AvailableBalance
		if freeStr == "" {
			freeStr = c.Free
		}
		free, locked := parseFloat(freeStr), parseFloat(c.Locked)
		out.Balances = append(out.Balances, Balance{Asset: c.Coin, Free: free, Locked: locked, Total: free + locked})
	}
	return out, nil
}

func (b *Bybit) CancelOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	return b.orderCall(ctx, http.MethodPost, "/v5/order/cancel", orderID, symbol)
}

func (b *Bybit) GetOrder(ctx context.Context, orderID, symbol string) (*OrderResponse, error) {
	return b.orderCall(ctx, http.MethodGet, "/v5/order/realtime", orderID, symbol)
}

func (b *Bybit) orderCall(ctx context.Context, method, path, orderID, symbol string) (*OrderResponse, error) {
	var params orderedParams
	params.add("category", bybitCategory)
	params.add("symbol", strings.ToUpper(symbol))
	params.add("orderId", orderID)

	var result *bybitOrderResult
	env, err := b.signedRequest(ctx, method, path, params, &result)
	if err != nil {
		return nil, err
	}
	o, ok := result.order()
	if !ok {
		return nil, newError(bybitName, KindOrderNotFound, strconv.Itoa(env.RetCode), "order "+orderID+" not found", nil)
	}
	return mapBybitOrder(o, PlaceOrderRequest{Symbol: symbol}), nil
}

// ============ Рыночные данные ============

func (b *Bybit) GetPrice(ctx context.Context, symbol string) (float64, error) {
	var params orderedParams
	params.add("category", bybitCategory)
	params.add("symbol", strings.ToUpper(symbol))

	var result *struct {
		List []struct {
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}
	if _, err := b.request(ctx, http.MethodGet, "/v5/market/tickers", params, false, &result); err != nil {
		return 0, err
	}
	if result == nil || len(result.List) == 0 {
		return 0, newError(bybitName, KindInvalidOrder, "", "ticker not found for "+symbol, nil)
	}
	return parseFloat(result.List[0].LastPrice), nil
}

// GetKlines возвращает свечи от старых к новым.
// interval в общем формате (1h, 4h, 1d) переводится в формат Bybit.
func (b *Bybit) GetKlines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error) {
	var params orderedParams
	params.add("category", bybitCategory)
	params.add("symbol", strings.ToUpper(symbol))
	params.add("interval", bybitInterval(interval))
	params.addInt("limit", int64(limit))

	var result *struct {
		List [][]string `json:"list"`
	}
	if _, err := b.request(ctx, http.MethodGet, "/v5/market/kline", params, false, &result); err != nil {
		return nil, err
	}
	if result == nil {
		return nil, nil
	}

	// Bybit отдаёт свечи от новых к старым
	klines := make([]Kline, 0, len(result.List))
	for i := len(result.List) - 1; i >= 0; i-- {
		row := result.List[i]
		if len(row) < 6 {
			continue
		}
		openMs, _ := strconv.ParseInt(row[0], 10, 64)
		klines = append(klines, Kline{
			OpenTime: time.UnixMilli(openMs).UTC(),
			Open:     parseFloat(row[1]),
			High:     parseFloat(row[2]),
			Low:      parseFloat(row[3]),
			Close:    parseFloat(row[4]),
			Volume:   parseFloat(row[5]),
		})
	}
	return klines, nil
}

// ============ Транспорт ============

// sign - hex(HMAC-SHA256(secret, timestamp + apiKey + recvWindow + payload))
func (b *Bybit) sign(timestamp, payload string) string {
	return signHex(b.creds.APISecret, timestamp+b.creds.APIKey+bybitRecvWindow+payload)
}

func (b *Bybit) signedRequest(ctx context.Context, method, path string, params orderedParams, out interface{}) (*bybitEnvelope, error) {
	if b.creds.APIKey == "" || b.creds.APISecret == "" {
		return nil, newError(bybitName, KindAuthentication, "", "missing API credentials", nil)
	}
	return b.request(ctx, method, path, params, true, out)
}

// request выполняет запрос. POST отправляет и подписывает упорядоченное
// JSON-тело, GET - упорядоченную query string.
func (b *Bybit) request(ctx context.Context, method, path string, params orderedParams, signed bool, out interface{}) (*bybitEnvelope, error) {
	ctx, cancel := context.WithTimeout(ctx, RequestTimeout)
	defer cancel()

	reqURL := b.opts.baseURL + path
	var payload string
	var body io.Reader
	if method == http.MethodGet {
		payload = params.encode()
		if payload != "" {
			reqURL += "?" + payload
		}
	} else {
		raw, err := params.jsonBody()
		if err != nil {
			return nil, newError(bybitName, KindInvalidOrder, "", "encode body", err)
		}
		payload = string(raw)
		body = strings.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, body)
	if err != nil {
		return nil, newError(bybitName, KindNetwork, "", "build request", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(b.opts.now().UnixMilli(), 10)
		req.Header.Set("X-BAPI-API-KEY", b.creds.APIKey)
		req.Header.Set("X-BAPI-SIGN", b.sign(timestamp, payload))
		req.Header.Set("X-BAPI-TIMESTAMP", timestamp)
		req.Header.Set("X-BAPI-RECV-WINDOW", bybitRecvWindow)
	}

	resp, err := b.opts.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransport(ctx, bybitName, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, classifyTransport(ctx, bybitName, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, bybitHTTPError(resp.StatusCode, raw)
	}

	var env bybitEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, newError(bybitName, KindNetwork, "", "decode response", err)
	}
	if env.RetCode != 0 {
		return nil, bybitRetCodeError(env.RetCode, env.RetMsg)
	}

	if len(env.Result) > 0 && out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return nil, newError(bybitName, KindNetwork, "", "decode result", err)
		}
	}
	return &env, nil
}

func bybitHTTPError(status int, body []byte) *Error {
	var env bybitEnvelope
	_ = json.Unmarshal(body, &env)
	msg := env.RetMsg
	if msg == "" {
		msg = fmt.Sprintf("HTTP %d", status)
	}

	var e *Error
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		e = newError(bybitName, KindAuthentication, "", msg, nil)
	case http.StatusTooManyRequests:
		e = newError(bybitName, KindRateLimit, "", msg, nil)
	default:
		e = newError(bybitName, KindNetwork, "", msg, nil)
	}
	e.StatusCode = status
	return e
}

// bybitRetCodeError: неизвестный код трактуется как отказ в ордере
func bybitRetCodeError(code int, msg string) *Error {
	kind := KindInvalidOrder
	switch code {
	case 10001:
		kind = KindAuthentication
	case 10006:
		kind = KindRateLimit
	case 170131:
		kind = KindInsufficientBalance
	case 110001:
		kind = KindOrderNotFound
	}
	return newError(bybitName, kind, strconv.Itoa(code), msg, nil)
}

func bybitOrderType(t OrderType) string {
	if t == OrderTypeMarket {
		return "Market"
	}
	return "Limit"
}

func bybitInterval(interval string) string {
	switch strings.ToLower(interval) {
	case "1h":
		return "60"
	case "4h":
		return "240"
	case "1d":
		return "D"
	default:
		return interval
	}
}

var bybitStatuses = map[string]OrderStatus{
	"New":             StatusNew,
	"Created":         StatusNew,
	"PartiallyFilled": StatusPartiallyFilled,
	"Filled":          StatusFilled,
	"Cancelled":       StatusCancelled,
	"Rejected":        StatusRejected,
	"Expired":         StatusExpired,
	"PendingCancel":   StatusPending,
}

// mapBybitOrder переводит ордер в общий формат; недостающие поля
// (create/cancel возвращают только идентификаторы) берутся из запроса
func mapBybitOrder(o bybitOrder, req PlaceOrderRequest) *OrderResponse {
	status, ok := bybitStatuses[o.OrderStatus]
	if !ok {
		status = StatusNew
	}

	resp := &OrderResponse{
		OrderID:          o.OrderID,
		ClientOrderID:    o.OrderLinkID,
		Symbol:           o.Symbol,
		Side:             OrderSide(strings.ToLower(o.Side)),
		Type:             OrderType(strings.ToLower(o.OrderType)),
		Status:           status,
		Quantity:         parseFloat(o.Qty),
		ExecutedQuantity: parseFloat(o.CumExecQty),
		Price:            parseFloat(o.Price),
		AveragePrice:     parseFloat(o.AvgPrice),
	}
	if resp.Symbol == "" {
		resp.Symbol = strings.ToUpper(req.Symbol)
	}
	if resp.Side == "" {
		resp.Side = req.Side
	}
	if resp.Type == "" {
		resp.Type = req.Type
	}
	if resp.Quantity == 0 {
		resp.Quantity = req.Quantity
	}
	if resp.Price == 0 {
		resp.Price = req.Price
	}
	if ms, err := strconv.ParseInt(o.CreatedTime, 10, 64); err == nil {
		resp.CreatedAt = time.UnixMilli(ms).UTC()
	}
	if ms, err := strconv.ParseInt(o.UpdatedTime, 10, 64); err == nil {
		resp.UpdatedAt = time.UnixMilli(ms).UTC()
	}
	return resp
}

// capitalize: buy -> Buy
func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + strings.ToLower(s[1:])
}
