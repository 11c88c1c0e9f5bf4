package websocket

import (
	"time"
)

// MessageType определяет тип WebSocket сообщения
type MessageType string

// Типы WebSocket сообщений
const (
	// MessageTypeSetup - сетап создан, активирован или инвалидирован
	MessageTypeSetup MessageType = "setup"

	// MessageTypeSignal - сработал сигнал подтверждения
	MessageTypeSignal MessageType = "signal"

	// MessageTypeRegime - сменился рыночный режим
	MessageTypeRegime MessageType = "regime"

	// MessageTypePosition - позиция открыта, сопровождается или закрыта
	MessageTypePosition MessageType = "position"

	// MessageTypeState - переход торгового автомата
	MessageTypeState MessageType = "state"
)

// Message - конверт всех сообщений потока
type Message struct {
	Type      MessageType `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data,omitempty"`
}

// StateData - данные перехода торгового автомата
type StateData struct {
	Account string    `json:"account"`
	From    string    `json:"from"`
	To      string    `json:"to"`
	Event   string    `json:"event"`
	Reason  string    `json:"reason,omitempty"`
	At      time.Time `json:"at"`
}

// NewMessage создает сообщение с текущим временем
func NewMessage(t MessageType, data interface{}) *Message {
	return &Message{
		Type:      t,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}
