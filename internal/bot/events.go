package bot

import (
	"time"

	"github.com/google/uuid"
)

// EventType - событие торгового автомата
type EventType string

const (
	EventSafetyPause     EventType = "SAFETY_PAUSE"
	EventResumeRequested EventType = "RESUME_REQUESTED"
	EventTradeTriggered  EventType = "TRADE_TRIGGERED"
	EventTradeExecuted   EventType = "TRADE_EXECUTED"
	EventPositionClosed  EventType = "POSITION_CLOSED"
	EventCooldownElapsed EventType = "COOLDOWN_ELAPSED"
)

// EventSource - источник событий торгового цикла
const EventSource = "trading-loop"

// Event - событие с метаданными
type Event struct {
	ID        string                 `json:"id"`
	Type      EventType              `json:"type"`
	Source    string                 `json:"source"`
	Timestamp time.Time              `json:"timestamp"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

// NewEvent создаёт событие с уникальным id
func NewEvent(t EventType, at time.Time, payload map[string]interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		Source:    EventSource,
		Timestamp: at,
		Payload:   payload,
	}
}
