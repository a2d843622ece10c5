package connection

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"skillchat/internal/auth"
	"skillchat/internal/chatwire"
	"skillchat/internal/config"

	"github.com/gorilla/websocket"
)

func testConfig(baseURL string) config.Config {
	cfg := config.Config{}
	cfg.Server.BaseURL = baseURL
	cfg.Server.WebSocketPath = "/ws"
	cfg.Chat.ReconnectBackoff = 30 * time.Millisecond
	cfg.Chat.SendBufferFrames = 16
	cfg.WebSocket.WriteWaitSeconds = 10
	cfg.WebSocket.PongWaitSeconds = 60
	cfg.WebSocket.PingPeriodSeconds = 54
	cfg.WebSocket.MaxMessageSizeBytes = 4096
	return cfg
}

// wsEcho upgrades, records the presented token, and feeds received frames
// into a channel until the client goes away.
type wsEcho struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	tokens []string
	frames chan []byte
	conns  chan *websocket.Conn
}

func newWSEcho() *wsEcho {
	return &wsEcho{
		frames: make(chan []byte, 32),
		conns:  make(chan *websocket.Conn, 4),
	}
}

func (e *wsEcho) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/ws" {
		http.NotFound(w, r)
		return
	}
	token := r.URL.Query().Get("token")
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	e.mu.Lock()
	e.tokens = append(e.tokens, token)
	e.mu.Unlock()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	e.conns <- conn
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		e.frames <- raw
	}
}

func newConnectedManager(t *testing.T) (*Manager, *wsEcho) {
	t.Helper()
	echo := newWSEcho()
	srv := httptest.NewServer(echo)
	t.Cleanup(srv.Close)

	m := NewManager(testConfig(srv.URL), auth.StaticTokenSource("tok-1"))
	t.Cleanup(m.Disconnect)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	return m, echo
}

func TestConnectTransitionsAndAuth(t *testing.T) {
	echo := newWSEcho()
	srv := httptest.NewServer(echo)
	defer srv.Close()

	m := NewManager(testConfig(srv.URL), auth.StaticTokenSource("tok-1"))
	defer m.Disconnect()

	var mu sync.Mutex
	var seen []State
	m.SubscribeState(func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("expected connected, got %s", got)
	}

	mu.Lock()
	if len(seen) != 2 || seen[0] != StateConnecting || seen[1] != StateConnected {
		t.Fatalf("expected connecting then connected, got %v", seen)
	}
	mu.Unlock()

	echo.mu.Lock()
	defer echo.mu.Unlock()
	if len(echo.tokens) != 1 || echo.tokens[0] != "tok-1" {
		t.Fatalf("expected the token on the upgrade request, got %v", echo.tokens)
	}
}

func TestConnectIsIdempotentWhileConnected(t *testing.T) {
	m, echo := newConnectedManager(t)
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect must be a no-op, got %v", err)
	}
	echo.mu.Lock()
	defer echo.mu.Unlock()
	if len(echo.tokens) != 1 {
		t.Fatalf("expected a single dial, saw %d", len(echo.tokens))
	}
}

func TestConnectWithoutTokenFailsLocally(t *testing.T) {
	m := NewManager(testConfig("http://127.0.0.1:1"), &auth.MemoryTokenStore{})
	err := m.Connect(context.Background())
	if err == nil {
		t.Fatalf("expected an error without a token")
	}
	if !errors.Is(err, auth.ErrNoToken) {
		t.Fatalf("expected ErrNoToken in the chain, got %v", err)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("a local auth failure must not end in Failed, got %s", got)
	}
}

func TestDialFailureEndsInFailed(t *testing.T) {
	m := NewManager(testConfig("http://127.0.0.1:1"), auth.StaticTokenSource("tok-1"))
	if err := m.Connect(context.Background()); err == nil {
		t.Fatalf("expected dial failure")
	}
	if got := m.State(); got != StateFailed {
		t.Fatalf("expected failed, got %s", got)
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	m := NewManager(testConfig("http://127.0.0.1:1"), auth.StaticTokenSource("tok-1"))
	err := m.Send(chatwire.TypingStart{ReceiverID: 7})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestSendReachesServer(t *testing.T) {
	m, echo := newConnectedManager(t)
	if err := m.Send(chatwire.JoinChat{OtherUserID: 7}); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	select {
	case raw := <-echo.frames:
		ev, err := chatwire.DecodeClientEvent(raw)
		if err != nil {
			t.Fatalf("decode frame: %v", err)
		}
		join, ok := ev.(chatwire.JoinChat)
		if !ok || join.OtherUserID != 7 {
			t.Fatalf("unexpected frame: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("frame never reached the server")
	}
}

func TestInboundEventsDispatchAndUnsubscribe(t *testing.T) {
	m, echo := newConnectedManager(t)

	events := make(chan chatwire.ServerEvent, 8)
	unsub := m.SubscribeEvents(func(ev chatwire.ServerEvent) { events <- ev })

	var conn *websocket.Conn
	select {
	case conn = <-echo.conns:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the connection")
	}

	payload, err := chatwire.EncodeServerEvent(chatwire.UserStatus{UserID: 7, Status: chatwire.StatusOnline})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}

	select {
	case ev := <-events:
		status, ok := ev.(chatwire.UserStatus)
		if !ok || status.UserID != 7 {
			t.Fatalf("unexpected event: %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("event never dispatched")
	}

	unsub()
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("write: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("handler must not fire after unsubscribe, got %+v", ev)
	case <-time.After(150 * time.Millisecond):
	}
}

func TestDisconnectIsIdempotentAndNotifiesOnce(t *testing.T) {
	m, _ := newConnectedManager(t)

	var mu sync.Mutex
	disconnects := 0
	m.SubscribeState(func(s State) {
		if s == StateDisconnected {
			mu.Lock()
			disconnects++
			mu.Unlock()
		}
	})

	m.Disconnect()
	m.Disconnect()

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("expected disconnected, got %s", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if disconnects != 1 {
		t.Fatalf("expected one disconnect notification, got %d", disconnects)
	}
}

func TestServerDropMovesToFailed(t *testing.T) {
	m, echo := newConnectedManager(t)

	var conn *websocket.Conn
	select {
	case conn = <-echo.conns:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the connection")
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("expected failed after the server dropped, got %s", m.State())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestReconnectAfterDrop(t *testing.T) {
	m, echo := newConnectedManager(t)

	var conn *websocket.Conn
	select {
	case conn = <-echo.conns:
	case <-time.After(2 * time.Second):
		t.Fatalf("server never saw the connection")
	}
	conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for m.State() != StateFailed {
		if time.Now().After(deadline) {
			t.Fatalf("drop never observed")
		}
		time.Sleep(10 * time.Millisecond)
	}

	start := time.Now()
	if err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("expected the backoff to be honored, reconnected in %v", elapsed)
	}
	if got := m.State(); got != StateConnected {
		t.Fatalf("expected connected after reconnect, got %s", got)
	}

	echo.mu.Lock()
	defer echo.mu.Unlock()
	if len(echo.tokens) != 2 {
		t.Fatalf("expected a second dial, saw %d", len(echo.tokens))
	}
}

func TestReconnectHonorsContext(t *testing.T) {
	m, _ := newConnectedManager(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := m.Reconnect(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
