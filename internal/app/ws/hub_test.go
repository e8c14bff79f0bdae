package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func newTestHub(t *testing.T) (*Hub, *httptest.Server, chan struct{}) {
	t.Helper()
	hub := NewHub([]string{"*"}, nil)
	registered := make(chan struct{}, 4)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.Serve(w, r, r.URL.Query().Get("conv"))
		registered <- struct{}{}
	}))
	t.Cleanup(srv.Close)
	return hub, srv, registered
}

func dial(t *testing.T, srv *httptest.Server, conversationID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "?conv=" + conversationID
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestHubDeliversToSubscribedConversation(t *testing.T) {
	hub, srv, registered := newTestHub(t)

	connA := dial(t, srv, "conv-a")
	<-registered
	connB := dial(t, srv, "conv-b")
	<-registered

	hub.Publish("conv-a", map[string]string{"type": "message", "content": "hello"})
	hub.Publish("conv-b", map[string]string{"type": "message", "content": "other"})

	_ = connA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := connA.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var event map[string]string
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event["content"] != "hello" {
		t.Fatalf("expected conv-a event, got %v", event)
	}

	_ = connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err = connB.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if event["content"] != "other" {
		t.Fatalf("expected conv-b event, got %v", event)
	}
}

func TestHubStopClosesConnections(t *testing.T) {
	hub, srv, registered := newTestHub(t)

	conn := dial(t, srv, "conv-a")
	<-registered

	if err := hub.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); err == nil {
		t.Fatal("expected connection to be closed")
	}

	// Publishing after shutdown must not panic.
	hub.Publish("conv-a", map[string]string{"type": "message"})
}
