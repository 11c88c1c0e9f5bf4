package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"tradecore/internal/bot"
	"tradecore/internal/models"
	"tradecore/internal/repository"
	"tradecore/pkg/utils"
)

// Событие вебхука, создающее сигнал
const EventSignalFired = "signal.fired"

// WebhookSource - значение source в параметрах сигналов вебхука
const WebhookSource = "webhook"

// WebhookPayload - тело POST /api/v1/webhook.
// timestamp - unix время в миллисекундах.
type WebhookPayload struct {
	Event     string                 `json:"event"`
	Timestamp int64                  `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// FiredSignal - data события signal.fired
type FiredSignal struct {
	SetupID    int64                  `json:"setup_id"`
	Type       models.SignalType      `json:"signal_type"`
	Role       models.SignalRole      `json:"signal_role"`
	Timeframe  string                 `json:"timeframe"`
	Value      *float64               `json:"value"`
	Threshold  *float64               `json:"threshold"`
	Confidence *float64               `json:"confidence"`
	Parameters map[string]interface{} `json:"parameters"`
}

// SignalWriter сохраняет сигналы
type SignalWriter interface {
	Create(ctx context.Context, s *models.Signal) error
}

// SetupReader читает сетапы
type SetupReader interface {
	GetByID(ctx context.Context, id int64) (*models.Setup, error)
}

// WebhookHandler принимает внешние события.
// Аутентификация по X-Webhook-Secret выполняется middleware.
type WebhookHandler struct {
	setups    SetupReader
	signals   SignalWriter
	publisher bot.Publisher
	logger    *utils.Logger
	now       func() time.Time
}

// NewWebhookHandler создает новый WebhookHandler; publisher может быть nil
func NewWebhookHandler(setups SetupReader, signals SignalWriter, publisher bot.Publisher, logger *utils.Logger) *WebhookHandler {
	if logger == nil {
		logger = utils.L()
	}
	return &WebhookHandler{
		setups:    setups,
		signals:   signals,
		publisher: publisher,
		logger:    logger.WithComponent("webhook"),
		now:       time.Now,
	}
}

// Status - проверка доступности
// GET /api/v1/webhook
func (h *WebhookHandler) Status(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Webhook endpoint is active. Use POST to send webhook events.",
	})
}

// Receive обрабатывает событие
// POST /api/v1/webhook
//
// Ответы:
// - 200 OK: событие принято
// - 400 Bad Request: тело не прошло проверку
// - 404 Not Found: сетап сигнала не найден
// - 409 Conflict: сетап уже не принимает сигналы
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var payload WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid payload", "Webhook payload is not valid JSON", err.Error())
		return
	}
	if problems := validatePayload(payload); len(problems) > 0 {
		respondError(w, http.StatusBadRequest, "Invalid payload", "Webhook payload validation failed", problems)
		return
	}

	result := map[string]interface{}{
		"success":        true,
		"received_event": payload.Event,
	}

	switch payload.Event {
	case EventSignalFired:
		sig, status, err := h.fireSignal(r.Context(), payload)
		if err != nil {
			if status == http.StatusInternalServerError {
				h.logger.Error("webhook signal failed", utils.Err(err))
				respondError(w, status, "Internal server error", "Failed to process webhook", nil)
				return
			}
			respondError(w, status, http.StatusText(status), err.Error(), nil)
			return
		}
		result["signal_id"] = sig.ID
		result["message"] = "Signal recorded"
	default:
		h.logger.Info("webhook event ignored", utils.String("event", payload.Event))
		result["message"] = "Webhook processed successfully"
	}

	result["processed_at"] = h.now().UnixMilli()
	respondJSON(w, http.StatusOK, result)
}

func validatePayload(p WebhookPayload) []string {
	var problems []string
	if strings.TrimSpace(p.Event) == "" {
		problems = append(problems, "event is required")
	}
	if p.Timestamp <= 0 {
		problems = append(problems, "timestamp must be a positive unix time in milliseconds")
	}
	if p.Data == nil {
		problems = append(problems, "data must be an object")
	}
	return problems
}

// fireSignal создает сигнал из data; status - HTTP код при ошибке
func (h *WebhookHandler) fireSignal(ctx context.Context, p WebhookPayload) (*models.Signal, int, error) {
	var fired FiredSignal
	raw, err := json.Marshal(p.Data)
	if err == nil {
		err = json.Unmarshal(raw, &fired)
	}
	if err != nil {
		return nil, http.StatusBadRequest, fmt.Errorf("signal data: %v", err)
	}

	if fired.SetupID <= 0 {
		return nil, http.StatusBadRequest, errors.New("setup_id is required")
	}
	if !models.IsKnownSignalType(fired.Type) {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown signal_type %q", fired.Type)
	}
	role := fired.Role
	if role == "" {
		role = models.RoleConfirmation
	}
	if role != models.RoleTrigger && role != models.RoleConfirmation && role != models.RoleContext {
		return nil, http.StatusBadRequest, fmt.Errorf("unknown signal_role %q", fired.Role)
	}
	confidence := 1.0
	if fired.Confidence != nil {
		confidence = *fired.Confidence
	}
	if confidence < 0 || confidence > 1 {
		return nil, http.StatusBadRequest, errors.New("confidence must be within [0, 1]")
	}

	setup, err := h.setups.GetByID(ctx, fired.SetupID)
	if err != nil {
		if errors.Is(err, repository.ErrSetupNotFound) {
			return nil, http.StatusNotFound, fmt.Errorf("setup %d not found", fired.SetupID)
		}
		return nil, http.StatusInternalServerError, err
	}
	if setup.State.IsTerminal() || setup.State == models.SetupTriggered {
		return nil, http.StatusConflict, fmt.Errorf("setup %d is %s", setup.ID, setup.State)
	}

	tf := setup.EntryTimeframe
	if fired.Timeframe != "" {
		if tf, err = models.ParseTimeframe(fired.Timeframe); err != nil {
			return nil, http.StatusBadRequest, err
		}
	}

	params := models.Metadata(fired.Parameters)
	if params == nil {
		params = models.Metadata{}
	}
	if _, ok := params["source"]; !ok {
		params["source"] = WebhookSource
	}
	if err := models.SignalParametersSchema.Validate(params); err != nil {
		return nil, http.StatusBadRequest, err
	}

	sig := &models.Signal{
		SetupID:         setup.ID,
		Type:            fired.Type,
		Role:            role,
		DetectedOn:      tf,
		FiredAt:         time.UnixMilli(p.Timestamp).UTC(),
		Value:           fired.Value,
		Threshold:       fired.Threshold,
		Confidence:      confidence,
		StillValid:      true,
		RequiresRecheck: true,
		Parameters:      params,
	}
	if err := h.signals.Create(ctx, sig); err != nil {
		switch {
		case errors.Is(err, repository.ErrInvalidSignal):
			return nil, http.StatusBadRequest, err
		case errors.Is(err, repository.ErrSetupNotFound):
			return nil, http.StatusNotFound, err
		}
		return nil, http.StatusInternalServerError, err
	}

	bot.SignalsFired.WithLabelValues(string(sig.Type), WebhookSource).Inc()
	h.logger.Info("webhook signal recorded",
		utils.SetupID(sig.SetupID), utils.SignalID(sig.ID), utils.String("type", string(sig.Type)))
	if h.publisher != nil {
		h.publisher.Publish("signal", sig)
	}
	return sig, http.StatusOK, nil
}
