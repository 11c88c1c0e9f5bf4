package handlers

import (
	"context"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"tradecore/internal/bot"
	"tradecore/internal/exchange"
	"tradecore/internal/models"
	"tradecore/pkg/ratelimit"
	"tradecore/pkg/utils"
)

// SetupLister - чтение сетапов для статуса
type SetupLister interface {
	Recent(ctx context.Context, limit int) ([]models.Setup, error)
	CountActive(ctx context.Context) (int, error)
}

// PositionLister - чтение позиций для статуса
type PositionLister interface {
	Open(ctx context.Context) ([]models.Position, error)
	Recent(ctx context.Context, limit int) ([]models.Position, error)
}

// MachineRegistry - автоматы торговли по аккаунтам
type MachineRegistry interface {
	States() map[string]bot.TradingState
	Get(account string) *bot.StateMachine
}

// LimiterStatsFunc возвращает состояние лимитеров запросов
type LimiterStatsFunc func() map[exchange.AccountKey]ratelimit.Stats

// AccountStatus - состояние торговли аккаунта
type AccountStatus struct {
	Account       string           `json:"account"`
	State         bot.TradingState `json:"state"`
	CanTrade      bool             `json:"can_trade"`
	CooldownUntil *time.Time       `json:"cooldown_until,omitempty"`
}

// LimiterStatus - состояние лимитера аккаунта биржи
type LimiterStatus struct {
	Account         string  `json:"account"`
	AvailableTokens float64 `json:"available_tokens"`
	MaxTokens       float64 `json:"max_tokens"`
	QueueSize       int     `json:"queue_size"`
	TotalProcessed  int64   `json:"total_processed"`
	TotalRejected   int64   `json:"total_rejected"`
}

// StatusResponse - ответ GET /api/v1/status
type StatusResponse struct {
	Accounts      []AccountStatus   `json:"accounts"`
	ActiveSetups  int               `json:"active_setups"`
	OpenPositions []models.Position `json:"open_positions"`
	Limiters      []LimiterStatus   `json:"limiters,omitempty"`
}

// defaultListLimit - размер списков по умолчанию
const defaultListLimit = 50

// StatusHandler - состояние торгового ядра
//
// Endpoints:
// - GET /api/v1/status - автоматы, активные сетапы, открытые позиции, лимитеры
// - POST /api/v1/status/{account}/resume - ручное снятие паузы
// - GET /api/v1/setups?limit=N - последние сетапы
// - GET /api/v1/positions?limit=N - последние позиции
type StatusHandler struct {
	machines  MachineRegistry
	setups    SetupLister
	positions PositionLister
	limiters  LimiterStatsFunc
	logger    *utils.Logger
	now       func() time.Time
}

// NewStatusHandler создает новый StatusHandler; limiters может быть nil
func NewStatusHandler(machines MachineRegistry, setups SetupLister, positions PositionLister, limiters LimiterStatsFunc, logger *utils.Logger) *StatusHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &StatusHandler{
		machines:  machines,
		setups:    setups,
		positions: positions,
		limiters:  limiters,
		logger:    logger.WithComponent("status"),
		now:       time.Now,
	}
}

// GetStatus возвращает сводку состояния
// GET /api/v1/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	active, err := h.setups.CountActive(ctx)
	if err != nil {
		h.internalError(w, "count active setups", err)
		return
	}
	open, err := h.positions.Open(ctx)
	if err != nil {
		h.internalError(w, "load open positions", err)
		return
	}

	resp := StatusResponse{
		Accounts:      h.accountStatuses(),
		ActiveSetups:  active,
		OpenPositions: open,
	}
	if resp.OpenPositions == nil {
		resp.OpenPositions = []models.Position{}
	}
	if h.limiters != nil {
		for key, st := range h.limiters() {
			resp.Limiters = append(resp.Limiters, LimiterStatus{
				Account:         key.String(),
				AvailableTokens: st.AvailableTokens,
				MaxTokens:       st.MaxTokens,
				QueueSize:       st.QueueSize,
				TotalProcessed:  st.TotalProcessed,
				TotalRejected:   st.TotalRejected,
			})
		}
		sort.Slice(resp.Limiters, func(i, j int) bool { return resp.Limiters[i].Account < resp.Limiters[j].Account })
	}

	respondJSON(w, http.StatusOK, resp)
}

func (h *StatusHandler) accountStatuses() []AccountStatus {
	states := h.machines.States()
	names := make([]string, 0, len(states))
	for name := range states {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]AccountStatus, 0, len(names))
	for _, name := range names {
		m := h.machines.Get(name)
		out = append(out, AccountStatus{
			Account:       name,
			State:         m.State(),
			CanTrade:      m.CanTrade(),
			CooldownUntil: m.CooldownUntil(),
		})
	}
	return out
}

// Resume снимает паузу аккаунта по запросу оператора
// POST /api/v1/status/{account}/resume
//
// Ответы:
// - 200 OK: аккаунт возобновлен
// - 404 Not Found: аккаунт неизвестен
// - 409 Conflict: аккаунт не на паузе
func (h *StatusHandler) Resume(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	if _, ok := h.machines.States()[account]; !ok {
		respondError(w, http.StatusNotFound, "Not Found", "unknown account "+strconv.Quote(account), nil)
		return
	}

	m := h.machines.Get(account)
	if m.State() != bot.StatePaused {
		respondError(w, http.StatusConflict, "Conflict", "account is "+string(m.State()), nil)
		return
	}

	ev := bot.NewEvent(bot.EventResumeRequested, h.now().UTC(), nil)
	ev.Source = "api"
	res := m.HandleEvent(ev, bot.StateContext{Now: h.now().UTC(), AllowResume: true})
	h.logger.Info("trading resumed by operator", utils.Account(account), utils.State(string(res.State)))

	respondJSON(w, http.StatusOK, AccountStatus{
		Account:  account,
		State:    res.State,
		CanTrade: m.CanTrade(),
	})
}

// ListSetups возвращает последние сетапы
// GET /api/v1/setups?limit=N
func (h *StatusHandler) ListSetups(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	setups, err := h.setups.Recent(r.Context(), limit)
	if err != nil {
		h.internalError(w, "load setups", err)
		return
	}
	if setups == nil {
		setups = []models.Setup{}
	}
	respondJSON(w, http.StatusOK, ListResponse{Data: setups, Count: len(setups)})
}

// ListPositions возвращает последние позиции
// GET /api/v1/positions?limit=N
func (h *StatusHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	positions, err := h.positions.Recent(r.Context(), limit)
	if err != nil {
		h.internalError(w, "load positions", err)
		return
	}
	if positions == nil {
		positions = []models.Position{}
	}
	respondJSON(w, http.StatusOK, ListResponse{Data: positions, Count: len(positions)})
}

func (h *StatusHandler) internalError(w http.ResponseWriter, op string, err error) {
	h.logger.Error(op, utils.Err(err))
	respondError(w, http.StatusInternalServerError, "Internal server error", op+" failed", nil)
}

// parseLimit читает limit из query: 1..500, по умолчанию 50
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultListLimit, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 || limit > 500 {
		respondError(w, http.StatusBadRequest, "Bad Request", "limit must be between 1 and 500", nil)
		return 0, false
	}
	return limit, true
}
