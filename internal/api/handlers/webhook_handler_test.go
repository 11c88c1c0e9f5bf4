package handlers

import (
	"bytes"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "fatal", Output: os.DevNull})
}

func newTestWebhookHandler() (*WebhookHandler, *fakeSetups, *fakeSignals, *fakePublisher) {
	setups := &fakeSetups{setups: map[int64]*models.Setup{
		1: {ID: 1, Symbol: "BTCUSDT", EntryTimeframe: models.Timeframe1H, State: models.SetupActive},
		2: {ID: 2, Symbol: "BTCUSDT", EntryTimeframe: models.Timeframe1H, State: models.SetupTriggered},
		3: {ID: 3, Symbol: "ETHUSDT", EntryTimeframe: models.Timeframe4H, State: models.SetupExpired},
	}}
	signals := &fakeSignals{}
	pub := &fakePublisher{}
	h := NewWebhookHandler(setups, signals, pub, testLogger())
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h, setups, signals, pub
}

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.Receive(rr, req)
	return rr
}

func TestWebhookHandler_Status(t *testing.T) {
	h, _, _, _ := newTestWebhookHandler()

	rr := httptest.NewRecorder()
	h.Status(rr, httptest.NewRequest(http.MethodGet, "/api/v1/webhook", nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["status"] != "ok" {
		t.Errorf("status = %q", resp["status"])
	}
}

func TestWebhookHandler_SignalFired(t *testing.T) {
	h, _, signals, pub := newTestWebhookHandler()

	body := `{"event":"signal.fired","timestamp":1772366400000,"data":{
		"setup_id":1,"signal_type":"RSI_OVERSOLD","value":27.5,"threshold":30,
		"parameters":{"rsi_period":14}}}`
	rr := postWebhook(h, body)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["success"] != true || resp["received_event"] != EventSignalFired {
		t.Errorf("unexpected response %v", resp)
	}
	if resp["signal_id"] != float64(1) {
		t.Errorf("signal_id = %v, want 1", resp["signal_id"])
	}

	if len(signals.created) != 1 {
		t.Fatalf("expected 1 signal, got %d", len(signals.created))
	}
	sig := signals.created[0]
	if sig.Role != models.RoleConfirmation {
		t.Errorf("role = %s, want default CONFIRMATION", sig.Role)
	}
	if sig.Confidence != 1 {
		t.Errorf("confidence = %v, want 1", sig.Confidence)
	}
	if sig.DetectedOn != models.Timeframe1H {
		t.Errorf("timeframe = %s, want setup entry timeframe", sig.DetectedOn)
	}
	if sig.Parameters["source"] != WebhookSource {
		t.Errorf("source = %v", sig.Parameters["source"])
	}
	if !sig.FiredAt.Equal(time.UnixMilli(1772366400000)) {
		t.Errorf("fired_at = %v", sig.FiredAt)
	}
	if !sig.StillValid || !sig.RequiresRecheck {
		t.Error("webhook signal must start valid and pending recheck")
	}
	if sig.Value == nil || *sig.Value != 27.5 {
		t.Errorf("value = %v", sig.Value)
	}

	if kinds := pub.kinds(); len(kinds) != 1 || kinds[0] != "signal" {
		t.Errorf("published = %v, want [signal]", kinds)
	}
}

func TestWebhookHandler_Rejections(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantText   string
	}{
		{"not json", `{bad`, http.StatusBadRequest, "not valid JSON"},
		{"missing event", `{"timestamp":1,"data":{}}`, http.StatusBadRequest, "event is required"},
		{"missing timestamp", `{"event":"x","data":{}}`, http.StatusBadRequest, "timestamp"},
		{"missing data", `{"event":"x","timestamp":1}`, http.StatusBadRequest, "data must be an object"},
		{"no setup id", `{"event":"signal.fired","timestamp":1,"data":{"signal_type":"RSI_OVERSOLD"}}`, http.StatusBadRequest, "setup_id"},
		{"unknown type", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"MOON"}}`, http.StatusBadRequest, "unknown signal_type"},
		{"unknown role", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"RSI_OVERSOLD","signal_role":"LEADER"}}`, http.StatusBadRequest, "unknown signal_role"},
		{"confidence range", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"RSI_OVERSOLD","confidence":1.5}}`, http.StatusBadRequest, "confidence"},
		{"bad timeframe", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"RSI_OVERSOLD","timeframe":"7m"}}`, http.StatusBadRequest, ""},
		{"schema violation", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"RSI_OVERSOLD","parameters":{"rsi_period":"fourteen"}}}`, http.StatusBadRequest, "rsi_period"},
		{"unknown setup", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":99,"signal_type":"RSI_OVERSOLD"}}`, http.StatusNotFound, "not found"},
		{"triggered setup", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":2,"signal_type":"RSI_OVERSOLD"}}`, http.StatusConflict, "TRIGGERED"},
		{"expired setup", `{"event":"signal.fired","timestamp":1,"data":{"setup_id":3,"signal_type":"RSI_OVERSOLD"}}`, http.StatusConflict, "EXPIRED"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, signals, pub := newTestWebhookHandler()

			rr := postWebhook(h, tt.body)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantText != "" && !strings.Contains(rr.Body.String(), tt.wantText) {
				t.Errorf("body %s does not mention %q", rr.Body.String(), tt.wantText)
			}
			if len(signals.created) != 0 || len(pub.kinds()) != 0 {
				t.Error("rejected webhook must not create or publish signals")
			}
		})
	}
}

func TestWebhookHandler_StorageErrors(t *testing.T) {
	body := `{"event":"signal.fired","timestamp":1,"data":{"setup_id":1,"signal_type":"VOLUME_SPIKE"}}`

	tests := []struct {
		name       string
		setupErr   error
		signalErr  error
		wantStatus int
	}{
		{"setup lookup fails", errors.New("connection reset"), nil, http.StatusInternalServerError},
		{"signal rejected by store", nil, repository.ErrInvalidSignal, http.StatusBadRequest},
		{"setup removed concurrently", nil, repository.ErrSetupNotFound, http.StatusNotFound},
		{"signal insert fails", nil, errors.New("disk full"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, setups, signals, _ := newTestWebhookHandler()
			setups.err = tt.setupErr
			signals.err = tt.signalErr

			rr := postWebhook(h, body)

			if rr.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d: %s", tt.wantStatus, rr.Code, rr.Body.String())
			}
			if tt.wantStatus == http.StatusInternalServerError && strings.Contains(rr.Body.String(), "disk full") {
				t.Error("internal error details leaked to the client")
			}
		})
	}
}

func TestWebhookHandler_UnknownEventIgnored(t *testing.T) {
	h, _, signals, _ := newTestWebhookHandler()

	rr := postWebhook(h, `{"event":"alert.custom","timestamp":1772366400000,"data":{"text":"hello"}}`)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["received_event"] != "alert.custom" {
		t.Errorf("received_event = %v", resp["received_event"])
	}
	if _, ok := resp["signal_id"]; ok {
		t.Error("ignored event must not report a signal id")
	}
	if resp["processed_at"] != float64(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC).UnixMilli()) {
		t.Errorf("processed_at = %v", resp["processed_at"])
	}
	if len(signals.created) != 0 {
		t.Error("unknown event created a signal")
	}
}

func TestWebhookHandler_ExplicitFields(t *testing.T) {
	h, _, signals, _ := newTestWebhookHandler()

	body := `{"event":"signal.fired","timestamp":1772366400000,"data":{
		"setup_id":1,"signal_type":"PRICE_LEVEL_BREAK","signal_role":"TRIGGER",
		"timeframe":"4h","confidence":0.6,"parameters":{"level_price":64000,"source":"tradingview"}}}`
	rr := postWebhook(h, body)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rr.Code, rr.Body.String())
	}

	sig := signals.created[0]
	if sig.Role != models.RoleTrigger || sig.Confidence != 0.6 {
		t.Errorf("role/confidence = %s/%v", sig.Role, sig.Confidence)
	}
	if sig.DetectedOn != models.Timeframe4H {
		t.Errorf("timeframe = %s, want 4h", sig.DetectedOn)
	}
	if sig.Parameters["source"] != "tradingview" {
		t.Errorf("explicit source overwritten: %v", sig.Parameters["source"])
	}
}

func TestWebhookHandler_BodyTooLarge(t *testing.T) {
	h, _, _, _ := newTestWebhookHandler()

	big := `{"event":"x","timestamp":1,"data":{"pad":"` + strings.Repeat("a", MaxRequestBodySize) + `"}}`
	rr := postWebhook(h, big)

	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for oversized body, got %d", rr.Code)
	}
}
