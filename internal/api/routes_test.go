package api

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"tradecore/internal/api/handlers"
	"tradecore/internal/api/middleware"
	"tradecore/internal/bot"
	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/pkg/utils"
)

const testSecret = "0123456789abcdef-webhook"

type stubSetups struct{}

func (stubSetups) GetByID(_ context.Context, id int64) (*models.Setup, error) {
	if id != 1 {
		return nil, repository.ErrSetupNotFound
	}
	return &models.Setup{ID: 1, EntryTimeframe: models.Timeframe1H, State: models.SetupActive}, nil
}

func (stubSetups) Recent(context.Context, int) ([]models.Setup, error) { return nil, nil }
func (stubSetups) CountActive(context.Context) (int, error)            { return 0, nil }

type stubSignals struct{ created int }

func (s *stubSignals) Create(_ context.Context, sig *models.Signal) error {
	s.created++
	sig.ID = int64(s.created)
	return nil
}

type stubPositions struct{}

func (stubPositions) Open(context.Context) ([]models.Position, error)        { return nil, nil }
func (stubPositions) Recent(context.Context, int) ([]models.Position, error) { return nil, nil }

func newTestRouter(burst int) (http.Handler, *stubSignals) {
	logger := utils.InitLogger(utils.LogConfig{Level: "fatal", Output: os.DevNull})
	signals := &stubSignals{}
	accounts := bot.NewAccounts(bot.DefaultStateMachineConfig(), nil)
	accounts.Get("main")

	router := SetupRoutes(&Dependencies{
		Webhook:        handlers.NewWebhookHandler(stubSetups{}, signals, nil, logger),
		Status:         handlers.NewStatusHandler(accounts, stubSetups{}, stubPositions{}, nil, logger),
		WS:             func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusSwitchingProtocols) },
		Logger:         logger,
		AllowedOrigins: []string{"https://ops.example.com"},
		WebhookSecret:  testSecret,
		WebhookRate:    1,
		WebhookBurst:   burst,
	})
	return router, signals
}

func TestSetupRoutes_Endpoints(t *testing.T) {
	router, _ := newTestRouter(10)

	tests := []struct {
		method     string
		path       string
		wantStatus int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
		{http.MethodGet, "/api/v1/webhook", http.StatusOK},
		{http.MethodGet, "/api/v1/status", http.StatusOK},
		{http.MethodGet, "/api/v1/setups", http.StatusOK},
		{http.MethodGet, "/api/v1/positions", http.StatusOK},
		{http.MethodPost, "/api/v1/status/main/resume", http.StatusConflict},
		{http.MethodGet, "/ws", http.StatusSwitchingProtocols},
		{http.MethodDelete, "/api/v1/webhook", http.StatusMethodNotAllowed},
		{http.MethodGet, "/api/v1/unknown", http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, httptest.NewRequest(tt.method, tt.path, nil))
			if rr.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rr.Code)
			}
		})
	}
}

func TestSetupRoutes_ResumeUnknownAccount(t *testing.T) {
	router, _ := newTestRouter(10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/status/paper/resume", nil))
	if rr.Code != http.StatusNotFound {
		t.Errorf("unknown account: expected 404, got %d", rr.Code)
	}
}

func webhookRequest(secret string) *http.Request {
	body := `{"event":"signal.fired","timestamp":1772366400000,"data":{"setup_id":1,"signal_type":"VOLUME_SPIKE"}}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhook", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(middleware.WebhookSecretHeader, secret)
	}
	return req
}

func TestSetupRoutes_WebhookAuth(t *testing.T) {
	router, signals := newTestRouter(10)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, webhookRequest(""))
	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("missing secret: expected 401, got %d", rr.Code)
	}

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, webhookRequest(testSecret))
	if rr.Code != http.StatusOK {
		t.Fatalf("valid secret: expected 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if signals.created != 1 {
		t.Errorf("signals created = %d, want 1", signals.created)
	}
	if rr.Header().Get(middleware.RequestIDHeader) == "" {
		t.Error("response lacks request id")
	}
}

func TestSetupRoutes_WebhookThrottled(t *testing.T) {
	router, _ := newTestRouter(2)

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, webhookRequest("wrong-secret-value"))
		codes = append(codes, rr.Code)
	}

	want := []int{http.StatusUnauthorized, http.StatusUnauthorized, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Fatalf("codes = %v, want %v", codes, want)
		}
	}
}

func TestSetupRoutes_Preflight(t *testing.T) {
	router, _ := newTestRouter(10)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/webhook", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rr.Code)
	}
	if !strings.Contains(rr.Header().Get("Access-Control-Allow-Headers"), middleware.WebhookSecretHeader) {
		t.Error("preflight does not allow the webhook secret header")
	}
}
