package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bft-labs/relayvault/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type recordingSink struct {
	mu           sync.Mutex
	connected    []string
	disconnected []string
	pongs        []string
}

func (s *recordingSink) Connected(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = append(s.connected, clientID)
}

func (s *recordingSink) Disconnected(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disconnected = append(s.disconnected, clientID)
}

func (s *recordingSink) Pong(clientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongs = append(s.pongs, clientID)
}

func (s *recordingSink) pongCount(clientID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, id := range s.pongs {
		if id == clientID {
			n++
		}
	}
	return n
}

func dialHub(t *testing.T, srv *httptest.Server, clientID string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws?client_id=" + clientID
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial %s: %v", url, err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func newTestHub(t *testing.T) (*Hub, *recordingSink, *httptest.Server) {
	t.Helper()
	hub := NewHub(zerolog.Nop())
	sink := &recordingSink{}
	hub.SetSink(sink)
	mux := httptest.NewServer(hub)
	t.Cleanup(func() {
		hub.Close()
		mux.Close()
	})
	return hub, sink, mux
}

func TestHubDeliversEnvelope(t *testing.T) {
	hub, sink, srv := newTestHub(t)
	conn := dialHub(t, srv, "alice")

	deadline := time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.connected)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("connect event never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := hub.Send(context.Background(), "alice", "entry:new", map[string]string{"title": "first"}); err != nil {
		t.Fatalf("send: %v", err)
	}

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read envelope: %v", err)
	}
	if env.Event != "entry:new" {
		t.Fatalf("event %q, want entry:new", env.Event)
	}
	if env.TS == 0 {
		t.Fatalf("envelope missing timestamp")
	}
}

func TestHubRoutesPongAndDisconnect(t *testing.T) {
	_, sink, srv := newTestHub(t)
	conn := dialHub(t, srv, "bob")

	if err := conn.WriteJSON(Envelope{Event: "heartbeat:pong"}); err != nil {
		t.Fatalf("write pong: %v", err)
	}
	deadline := time.Now().Add(2 * time.Second)
	for sink.pongCount("bob") == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("pong never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for {
		sink.mu.Lock()
		n := len(sink.disconnected)
		sink.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("disconnect event never reached the sink")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestHubSendToUnknownPeerFails(t *testing.T) {
	hub, _, _ := newTestHub(t)
	err := hub.Send(context.Background(), "ghost", "ev", nil)
	if !errors.Is(err, domain.ErrTransport) {
		t.Fatalf("expected ErrTransport for unknown peer, got %v", err)
	}
}
