package websocket

import (
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"

	"tradecore/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// broadcastBuffer - ёмкость очереди рассылки
const broadcastBuffer = 256

// Hub управляет всеми активными WebSocket соединениями.
//
// Торговый цикл публикует через Publish события сетапов, сигналов,
// режимов и позиций; hub рассылает их всем подключенным клиентам.
// Медленные клиенты отключаются, Publish никогда не блокирует цикл.
//
// Использование:
//  1. hub := NewHub(logger, origins)
//  2. go hub.Run()
//  3. hub.Publish("setup", setup)
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	logger  *utils.Logger

	dropped atomic.Int64

	mu sync.RWMutex
}

// NewHub создает новый Hub. Пустой список origins разрешает все
func NewHub(logger *utils.Logger, allowedOrigins []string) *Hub {
	if logger == nil {
		logger = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		logger:     logger.WithComponent("websocket"),
	}
}

// Run запускает главный цикл Hub. Должен запускаться в отдельной горутине
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client connected", utils.Int("clients", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Debug("client disconnected", utils.Int("clients", total))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver рассылает сообщение; клиенты с полным буфером удаляются
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var slow []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			slow = append(slow, client)
		}
	}
	if len(slow) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	h.logger.Warn("removed slow clients", utils.Int("removed", len(slow)), utils.Int("clients", total))
}

// Stop останавливает Run и закрывает все соединения
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки.
// При переполненной очереди сообщение отбрасывается.
func (h *Hub) Broadcast(message interface{}) {
	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("marshal broadcast message", utils.Err(err))
		return
	}

	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
	}
}

// Publish реализует публикацию событий торгового цикла
func (h *Hub) Publish(kind string, data interface{}) {
	h.Broadcast(NewMessage(MessageType(kind), data))
}

// PublishState отправляет переход торгового автомата
func (h *Hub) PublishState(state StateData) {
	h.Broadcast(NewMessage(MessageTypeState, state))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - сколько сообщений отброшено из-за переполненной очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
