package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tradecore/internal/api/handlers"
	"tradecore/internal/api/middleware"
	"tradecore/pkg/utils"
)

// Dependencies содержит зависимости HTTP слоя
type Dependencies struct {
	Webhook *handlers.WebhookHandler
	Status  *handlers.StatusHandler
	// WS - обработчик /ws (websocket.Hub.ServeWS)
	WS     http.HandlerFunc
	Logger *utils.Logger

	AllowedOrigins    []string
	WebhookSecret     string
	WebhookSecretHash string
	WebhookRate       float64
	WebhookBurst      int
}

// SetupRoutes настраивает HTTP маршруты
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── /webhook
//	│   ├── GET  - проверка доступности
//	│   └── POST - прием событий (X-Webhook-Secret, лимит по IP)
//	├── /status
//	│   ├── GET  - состояние аккаунтов, сетапов, позиций, лимитеров
//	│   └── POST /{account}/resume - снятие паузы
//	├── GET /setups   - последние сетапы
//	└── GET /positions - последние позиции
//
// /ws      - WebSocket поток событий
// /metrics - Prometheus
// /health  - liveness
//
// Middleware: Recovery, Logging, CORS для всех маршрутов;
// WebhookSecret и Throttle только для POST /api/v1/webhook.
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Webhook != nil {
		throttle := middleware.NewThrottle(deps.WebhookRate, deps.WebhookBurst)
		secured := middleware.WebhookSecret(deps.WebhookSecret, deps.WebhookSecretHash)

		api.HandleFunc("/webhook", deps.Webhook.Status).Methods(http.MethodGet)
		// лимит проверяется раньше секрета
		api.Handle("/webhook", throttle.Middleware(secured(http.HandlerFunc(deps.Webhook.Receive)))).
			Methods(http.MethodPost, http.MethodOptions)
	}

	if deps.Status != nil {
		api.HandleFunc("/status", deps.Status.GetStatus).Methods(http.MethodGet)
		api.HandleFunc("/status/{account}/resume", deps.Status.Resume).Methods(http.MethodPost, http.MethodOptions)
		api.HandleFunc("/setups", deps.Status.ListSetups).Methods(http.MethodGet)
		api.HandleFunc("/positions", deps.Status.ListPositions).Methods(http.MethodGet)
	}

	if deps.WS != nil {
		router.HandleFunc("/ws", deps.WS).Methods(http.MethodGet)
	}

	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	}).Methods(http.MethodGet)

	return router
}
