package websocket

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/pkg/utils"
)

const (
	// Время ожидания записи сообщения
	writeWait = 10 * time.Second

	// Время ожидания между pong сообщениями
	pongWait = 60 * time.Second

	// Интервал ping, меньше pongWait
	pingPeriod = (pongWait * 9) / 10

	// Клиент только читает поток, входящие сообщения - лишь control frames
	maxMessageSize = 4096

	clientSendBufferSize = 256
)

// OriginChecker проверяет Origin за O(1)
type OriginChecker struct {
	allowedOrigins map[string]struct{}
	allowAll       bool
}

// NewOriginChecker: пустой список или "*" разрешают все origins
func NewOriginChecker(origins []string) *OriginChecker {
	checker := &OriginChecker{allowedOrigins: make(map[string]struct{})}
	for _, origin := range origins {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			checker.allowAll = true
		}
		if origin != "" {
			checker.allowedOrigins[origin] = struct{}{}
		}
	}
	if len(checker.allowedOrigins) == 0 {
		checker.allowAll = true
	}
	return checker
}

// Check проверяет origin; пустой origin - не браузерный клиент
func (oc *OriginChecker) Check(origin string) bool {
	if origin == "" || oc.allowAll {
		return true
	}
	_, ok := oc.allowedOrigins[origin]
	return ok
}

// Client представляет одно WebSocket соединение.
// readPump держит соединение живым, writePump пишет из send.
type Client struct {
	conn *websocket.Conn
	hub  *Hub
	send chan []byte
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Warn("websocket read failed", utils.Err(err))
			}
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			// каждое сообщение - отдельный фрейм, клиент парсит JSON целиком
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWS апгрейдит HTTP соединение и регистрирует клиента
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return h.origins.Check(r.Header.Get("Origin"))
		},
		EnableCompression: true,
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", utils.Err(err))
		return
	}

	client := &Client{conn: conn, hub: h, send: make(chan []byte, clientSendBufferSize)}
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}
