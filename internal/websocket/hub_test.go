package websocket

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"tradecore/pkg/utils"
)

func testLogger() *utils.Logger {
	return utils.InitLogger(utils.LogConfig{Level: "fatal", Output: os.DevNull})
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

// dial поднимает hub за httptest сервером и подключает клиента
func dial(t *testing.T, hub *Hub) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	t.Cleanup(srv.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

// ============================================================
// OriginChecker
// ============================================================

func TestOriginChecker_Check(t *testing.T) {
	checker := NewOriginChecker([]string{"http://localhost:3000", " https://example.com "})

	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"http://localhost:3000", true},
		{"https://example.com", true},
		{"http://evil.com", false},
		{"http://localhost:8080", false},
	}

	for _, tt := range tests {
		if got := checker.Check(tt.origin); got != tt.want {
			t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}

func TestOriginChecker_AllowAll(t *testing.T) {
	for name, origins := range map[string][]string{"empty": nil, "wildcard": {"*"}} {
		checker := NewOriginChecker(origins)
		if !checker.Check("https://anything.example.org") {
			t.Errorf("%s: origin rejected", name)
		}
	}
}

// ============================================================
// Hub
// ============================================================

func TestNewHub(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	if hub.ClientCount() != 0 || hub.DroppedMessages() != 0 {
		t.Errorf("fresh hub: clients=%d dropped=%d", hub.ClientCount(), hub.DroppedMessages())
	}
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Publish("setup", map[string]interface{}{"id": 7, "state": "ACTIVE"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read: %v", err)
	}
	if msg.Type != "setup" || msg.Data["state"] != "ACTIVE" {
		t.Errorf("message = %+v", msg)
	}
}

func TestHub_PublishState(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	go hub.Run()
	defer hub.Stop()

	conn := dial(t, hub)
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.PublishState(StateData{Account: "main", From: "ACTIVE", To: "PAUSED", Event: "SAFETY_PAUSE"})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !strings.Contains(string(raw), `"type":"state"`) || !strings.Contains(string(raw), `"to":"PAUSED"`) {
		t.Errorf("message = %s", raw)
	}
}

func TestHub_BroadcastNonBlocking(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	// Run не запущен: очередь переполняется, Publish не блокирует
	for i := 0; i < broadcastBuffer+10; i++ {
		hub.Publish("signal", i)
	}
	if hub.DroppedMessages() != 10 {
		t.Errorf("dropped = %d, want 10", hub.DroppedMessages())
	}
}

func TestHub_RemovesSlowClients(t *testing.T) {
	hub := NewHub(testLogger(), nil)
	go hub.Run()
	defer hub.Stop()

	slow := &Client{hub: hub, send: make(chan []byte)}
	hub.register <- slow
	waitFor(t, func() bool { return hub.ClientCount() == 1 })

	hub.Broadcast("tick")
	waitFor(t, func() bool { return hub.ClientCount() == 0 })

	if _, ok := <-slow.send; ok {
		t.Error("slow client channel not closed")
	}
}

func TestHub_Stop(t *testing.T) {
	hub := NewHub(testLogger(), nil)

	done := make(chan struct{})
	go func() {
		hub.Run()
		close(done)
	}()

	hub.Stop()
	hub.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Error("Hub.Run() did not exit after Stop()")
	}
}

func BenchmarkHub_Publish(b *testing.B) {
	hub := NewHub(testLogger(), nil)
	go hub.Run()
	defer hub.Stop()

	payload := map[string]interface{}{"id": 1, "state": "FORMING", "confirmations": 2}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		hub.Publish("setup", payload)
	}
}
