package hub

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

func newTestPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	var serverConn *websocket.Conn
	ready := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConn = c
		close(ready)
	}))
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	clientConn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	select {
	case <-ready:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for server-side upgrade")
	}
	return serverConn, clientConn
}

func TestConnSendValuesDeliversLatest(t *testing.T) {
	serverConn, clientConn := newTestPair(t)
	c := NewConn("c1", serverConn, 4, nil, nil)
	defer c.Close()

	c.SendValues([]byte(`{"a":1}`))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error reading message: %v", err)
	}
	if string(msg) != `{"a":1}` {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestConnSendValuesOverwritesUnflushed(t *testing.T) {
	serverConn, clientConn := newTestPair(t)
	c := NewConn("c1", serverConn, 4, nil, nil)
	defer c.Close()

	// writePump may or may not have drained the first value yet; either way
	// only the latest value should ultimately be observed.
	c.SendValues([]byte(`{"v":1}`))
	c.SendValues([]byte(`{"v":2}`))

	clientConn.SetReadDeadline(time.Now().Add(time.Second))
	_, msg, err := clientConn.ReadMessage()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(msg) != `{"v":1}` && string(msg) != `{"v":2}` {
		t.Fatalf("unexpected message %s", msg)
	}
}

func TestConnSendEventDropsOldestOnSlowSubscriber(t *testing.T) {
	serverConn, clientConn := newTestPair(t)
	defer clientConn.Close()

	dropped := make(chan struct{}, 8)
	c := NewConn("c1", serverConn, 1, nil, func() { dropped <- struct{}{} })
	defer c.Close()

	c.SendEvent([]byte(`{"e":1}`))
	c.SendEvent([]byte(`{"e":2}`))

	select {
	case <-dropped:
	case <-time.After(time.Second):
		t.Fatal("expected onSlowSubscriber to fire when the events lane overflows")
	}
}

func TestHubAddGetRemove(t *testing.T) {
	serverConn, _ := newTestPair(t)
	h := New()
	c := NewConn("c1", serverConn, 4, nil, nil)
	h.Add(c)

	got, ok := h.Get("c1")
	if !ok || got != c {
		t.Fatalf("expected to get back the registered connection")
	}
	if h.Count() != 1 {
		t.Fatalf("expected count 1, got %d", h.Count())
	}

	h.Remove("c1")
	if _, ok := h.Get("c1"); ok {
		t.Fatal("expected connection to be gone after Remove")
	}
	if h.Count() != 0 {
		t.Fatalf("expected count 0 after remove, got %d", h.Count())
	}
}

func TestHubBroadcastValuesReachesAllConnections(t *testing.T) {
	serverConn1, clientConn1 := newTestPair(t)
	serverConn2, clientConn2 := newTestPair(t)
	defer clientConn1.Close()
	defer clientConn2.Close()

	h := New()
	h.Add(NewConn("c1", serverConn1, 4, nil, nil))
	h.Add(NewConn("c2", serverConn2, 4, nil, nil))
	defer h.Remove("c1")
	defer h.Remove("c2")

	h.BroadcastValues([]byte(`{"a":1}`))

	for _, conn := range []*websocket.Conn{clientConn1, clientConn2} {
		conn.SetReadDeadline(time.Now().Add(time.Second))
		if _, _, err := conn.ReadMessage(); err != nil {
			t.Fatalf("expected both connections to receive the broadcast: %v", err)
		}
	}
}
