package websocket

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestSameHostOrigin(t *testing.T) {
	tests := []struct {
		name     string
		origin   string
		host     string
		expected bool
	}{
		{"no origin header", "", "127.0.0.1:8417", true},
		{"matching host", "http://127.0.0.1:8417", "127.0.0.1:8417", true},
		{"matching host mixed case", "http://LOCALHOST:8417", "localhost:8417", true},
		{"different port", "http://127.0.0.1:9000", "127.0.0.1:8417", false},
		{"different host", "http://evil.example.com", "127.0.0.1:8417", false},
		{"garbage origin", "://not-a-url", "127.0.0.1:8417", false},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "http://"+tc.host+"/ws", nil)
			req.Host = tc.host
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if got := sameHostOrigin(req); got != tc.expected {
				t.Errorf("sameHostOrigin(origin=%q, host=%q) = %v, want %v", tc.origin, tc.host, got, tc.expected)
			}
		})
	}
}

func TestHubConcurrentClients(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			client := &Client{
				hub:  hub,
				send: make(chan []byte, 10),
				id:   "client-" + strconv.Itoa(i),
			}
			hub.register <- client
			time.Sleep(time.Microsecond)
			hub.unregister <- client
		}
	}()

	go func() {
		defer wg.Done()
		for i := 0; i < iterations; i++ {
			hub.Broadcast("reconcile_report", map[string]int{"iteration": i})
			time.Sleep(time.Microsecond)
		}
	}()

	wg.Wait()
	time.Sleep(10 * time.Millisecond)
}

func readMessage(t *testing.T, conn *websocket.Conn) Message {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(3 * time.Second))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", raw, err)
	}
	return msg
}

func TestClientReceivesSnapshotAndBroadcasts(t *testing.T) {
	hub := NewHub(func() interface{} {
		return map[string]string{"case_number": "INV-2024-007"}
	})
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// The hub greets every new client with the current case state.
	msg := readMessage(t, conn)
	if msg.Type != "caseState" {
		t.Fatalf("first message type = %q, want caseState", msg.Type)
	}
	data, ok := msg.Data.(map[string]interface{})
	if !ok || data["case_number"] != "INV-2024-007" {
		t.Fatalf("unexpected snapshot payload: %#v", msg.Data)
	}

	hub.Broadcast("evidence_verified", map[string]string{"result": "MATCH"})
	msg = readMessage(t, conn)
	if msg.Type != "evidence_verified" {
		t.Fatalf("broadcast type = %q, want evidence_verified", msg.Type)
	}

	// Clients can ask for a fresh snapshot at any time.
	if err := conn.WriteJSON(Message{Type: "requestState"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg = readMessage(t, conn)
	if msg.Type != "caseState" {
		t.Fatalf("requestState reply type = %q, want caseState", msg.Type)
	}
}

func TestClientPingGetsPong(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(Message{Type: "ping"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	msg := readMessage(t, conn)
	if msg.Type != "pong" {
		t.Fatalf("reply type = %q, want pong", msg.Type)
	}
}

func TestSlowClientEvicted(t *testing.T) {
	hub := NewHub(nil)
	go hub.Run()

	// A client with no buffer and no reader cannot accept any broadcast.
	client := &Client{hub: hub, send: make(chan []byte), id: "stuck"}
	hub.register <- client

	deadline := time.Now().Add(2 * time.Second)
	for hub.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("client never registered")
		}
		time.Sleep(time.Millisecond)
	}

	hub.Broadcast("case_saved", nil)

	for hub.ClientCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("stuck client never evicted")
		}
		time.Sleep(time.Millisecond)
	}
}
