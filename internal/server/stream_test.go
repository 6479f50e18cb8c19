package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cultivate-labs/chainwatch/internal/domain"
)

func dialHub(t *testing.T, hub *Hub) (*websocket.Conn, func()) {
	t.Helper()
	srv := httptest.NewServer(hub)
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("dial: %v", err)
	}
	return conn, func() {
		conn.Close()
		srv.Close()
	}
}

func TestHub_PublishReachesClient(t *testing.T) {
	hub := NewHub(nil)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	waitForClients(t, hub, 1)

	hub.Publish(domain.Event{ID: "ev1", Category: domain.CategoryNFT, Version: 101})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev domain.Event
	if err := json.Unmarshal(msg, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.ID != "ev1" || ev.Version != 101 {
		t.Errorf("received %+v, want ev1 at version 101", ev)
	}
}

func TestHub_ClientDisconnectUnregisters(t *testing.T) {
	hub := NewHub(nil)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	waitForClients(t, hub, 1)
	conn.Close()
	waitForClients(t, hub, 0)

	// Publishing with no clients must not panic or block.
	hub.Publish(domain.Event{ID: "ev2"})
}

func TestHub_CloseDisconnectsClients(t *testing.T) {
	hub := NewHub(nil)
	conn, cleanup := dialHub(t, hub)
	defer cleanup()

	waitForClients(t, hub, 1)
	hub.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
	if hub.ClientCount() != 0 {
		t.Errorf("clients = %d, want 0 after Close", hub.ClientCount())
	}
}

func waitForClients(t *testing.T, hub *Hub, want int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if hub.ClientCount() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("client count never reached %d", want)
}
