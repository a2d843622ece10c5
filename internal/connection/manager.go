package connection

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/url"
	"strings"
	"sync"
	"time"

	"skillchat/internal/auth"
	"skillchat/internal/chatwire"
	"skillchat/internal/config"

	"github.com/gorilla/websocket"
)

// State is the lifecycle state of the realtime channel.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

var (
	// ErrNotConnected is returned by Send while the channel is down. Callers
	// decide what to do with the frame; the conversation store keeps its
	// message pending, typing signals are simply dropped.
	ErrNotConnected = errors.New("connection: channel is not connected")

	// ErrSendBufferFull is returned when the outbound queue cannot take
	// another frame without blocking.
	ErrSendBufferFull = errors.New("connection: send buffer full")
)

// EventHandler receives every decoded inbound event.
type EventHandler func(ev chatwire.ServerEvent)

// StateHandler receives every connection state transition.
type StateHandler func(s State)

// Manager owns the single realtime channel for an authenticated session:
// dialing, authentication, the read/write pumps, keepalive, and fan-out of
// inbound events to subscribers. Only the Manager transitions its State.
type Manager struct {
	cfg    config.Config
	tokens auth.TokenSource
	dialer *websocket.Dialer

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{} // closed when the current connection is torn down

	handlerMu     sync.RWMutex
	nextHandlerID int
	eventHandlers map[int]EventHandler
	stateHandlers map[int]StateHandler
}

// NewManager creates a Manager. No network activity happens until Connect.
func NewManager(cfg config.Config, tokens auth.TokenSource) *Manager {
	return &Manager{
		cfg:           cfg,
		tokens:        tokens,
		dialer:        websocket.DefaultDialer,
		state:         StateDisconnected,
		eventHandlers: make(map[int]EventHandler),
		stateHandlers: make(map[int]StateHandler),
	}
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SubscribeEvents registers h for inbound events and returns an unsubscribe
// function. Handlers run on the read pump goroutine and must not block.
func (m *Manager) SubscribeEvents(h EventHandler) func() {
	m.handlerMu.Lock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.eventHandlers[id] = h
	m.handlerMu.Unlock()
	return func() {
		m.handlerMu.Lock()
		delete(m.eventHandlers, id)
		m.handlerMu.Unlock()
	}
}

// SubscribeState registers h for state transitions and returns an
// unsubscribe function.
func (m *Manager) SubscribeState(h StateHandler) func() {
	m.handlerMu.Lock()
	id := m.nextHandlerID
	m.nextHandlerID++
	m.stateHandlers[id] = h
	m.handlerMu.Unlock()
	return func() {
		m.handlerMu.Lock()
		delete(m.stateHandlers, id)
		m.handlerMu.Unlock()
	}
}

// Connect establishes the channel. It is a no-op when already connected or
// when a dial is in flight. A missing auth token is a local, non-retriable
// failure: no dial is attempted and the state returns to Disconnected.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting {
		m.mu.Unlock()
		return nil
	}
	m.state = StateConnecting
	m.mu.Unlock()
	m.notifyState(StateConnecting)

	token, err := m.tokens.Token(ctx)
	if err != nil || token == "" {
		m.transition(StateDisconnected)
		if err == nil {
			err = auth.ErrNoToken
		}
		return fmt.Errorf("connection: refusing to dial without auth token: %w", err)
	}

	wsURL, err := m.endpointURL(token)
	if err != nil {
		m.transition(StateDisconnected)
		return err
	}

	conn, _, err := m.dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		m.transition(StateFailed)
		return fmt.Errorf("connection: dial failed: %w", err)
	}

	m.mu.Lock()
	m.conn = conn
	m.send = make(chan []byte, m.sendBufferSize())
	m.done = make(chan struct{})
	m.state = StateConnected
	send, done := m.send, m.done
	m.mu.Unlock()
	m.notifyState(StateConnected)

	go m.readPump(conn, done)
	go m.writePump(conn, send, done)
	return nil
}

// Disconnect tears the channel down and resets to Disconnected. Safe to
// call multiple times. Subscribers (the presence tracker in particular)
// observe the transition and clear their derived state.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	conn := m.conn
	done := m.done
	m.conn = nil
	m.send = nil
	m.done = nil
	changed := m.state != StateDisconnected
	m.state = StateDisconnected
	m.mu.Unlock()
	if changed {
		m.notifyState(StateDisconnected)
	}

	if done != nil {
		close(done)
	}
	if conn != nil {
		// Best-effort close handshake; the read deadline reaps it otherwise.
		deadline := time.Now().Add(m.cfg.WebSocket.WriteWait())
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		_ = conn.Close()
	}
}

// Reconnect is Disconnect followed by a single Connect attempt after the
// configured backoff. Retrying beyond one attempt stays with the caller.
func (m *Manager) Reconnect(ctx context.Context) error {
	m.Disconnect()

	backoff := m.cfg.Chat.ReconnectBackoff
	if backoff <= 0 {
		backoff = time.Second
	}
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return ctx.Err()
	}
	return m.Connect(ctx)
}

// Send enqueues a frame for the write pump. Returns ErrNotConnected while
// the channel is down and ErrSendBufferFull when the queue is saturated.
func (m *Manager) Send(ev chatwire.ClientEvent) error {
	payload, err := chatwire.EncodeClientEvent(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if m.state != StateConnected || m.send == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	send := m.send
	m.mu.Unlock()

	select {
	case send <- payload:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// endpointURL derives the websocket URL from the REST base URL and appends
// the auth token as a query parameter, the way the backend authenticates
// channel upgrades.
func (m *Manager) endpointURL(token string) (string, error) {
	base, err := url.Parse(m.cfg.Server.BaseURL)
	if err != nil {
		return "", fmt.Errorf("connection: invalid server base URL %q: %w", m.cfg.Server.BaseURL, err)
	}
	switch base.Scheme {
	case "http":
		base.Scheme = "ws"
	case "https":
		base.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("connection: unsupported scheme %q", base.Scheme)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + m.cfg.Server.WebSocketPath
	q := base.Query()
	q.Set("token", token)
	base.RawQuery = q.Encode()
	return base.String(), nil
}

func (m *Manager) sendBufferSize() int {
	if m.cfg.Chat.SendBufferFrames > 0 {
		return m.cfg.Chat.SendBufferFrames
	}
	return 64
}

// readPump pumps frames from the websocket into the event subscribers.
func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	wsCfg := m.cfg.WebSocket
	conn.SetReadLimit(int64(wsCfg.MaxMessageSizeBytes))
	_ = conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait()))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsCfg.PongWait()))
	})

	for {
		messageType, raw, err := conn.ReadMessage()
		if err != nil {
			m.handleTransportDrop(conn, done, err)
			return
		}
		if messageType != websocket.TextMessage {
			log.Printf("connection: 忽略非文本帧 (type=%d)", messageType)
			continue
		}

		ev, err := chatwire.DecodeServerEvent(raw)
		if err != nil {
			var unknown chatwire.ErrUnknownEvent
			if errors.As(err, &unknown) {
				log.Printf("connection: %v (协议可能已更新)", err)
			} else {
				log.Printf("connection: 丢弃无法解析的帧: %v", err)
			}
			continue
		}
		m.dispatchEvent(ev)
	}
}

// writePump owns all writes on the socket: queued frames plus keepalive
// pings. One frame per websocket message; the server decodes them one by one.
func (m *Manager) writePump(conn *websocket.Conn, send chan []byte, done chan struct{}) {
	ticker := time.NewTicker(m.cfg.WebSocket.PingPeriod())
	defer ticker.Stop()

	for {
		select {
		case payload := <-send:
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WebSocket.WriteWait()))
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				m.handleTransportDrop(conn, done, err)
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(m.cfg.WebSocket.WriteWait()))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				m.handleTransportDrop(conn, done, err)
				return
			}
		case <-done:
			return
		}
	}
}

// handleTransportDrop moves the manager to Failed when the current
// connection dies underneath it. A drop on an already-replaced or
// explicitly-disconnected connection is ignored.
func (m *Manager) handleTransportDrop(conn *websocket.Conn, done chan struct{}, err error) {
	select {
	case <-done:
		// Explicit Disconnect already ran; nothing to report.
		return
	default:
	}

	m.mu.Lock()
	if m.conn != conn {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	m.send = nil
	m.done = nil
	m.state = StateFailed
	m.mu.Unlock()
	m.notifyState(StateFailed)

	close(done)
	_ = conn.Close()

	if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
		log.Printf("connection: 连接异常断开: %v", err)
	} else {
		log.Printf("connection: 连接已断开: %v", err)
	}
}

// transition updates the state and notifies subscribers on the calling
// goroutine, so a caller observes its own transition before the call
// returns. Handlers are invoked without m.mu held.
func (m *Manager) transition(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	m.notifyState(s)
}

func (m *Manager) notifyState(s State) {
	m.handlerMu.RLock()
	handlers := make([]StateHandler, 0, len(m.stateHandlers))
	for _, h := range m.stateHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(s)
	}
}

func (m *Manager) dispatchEvent(ev chatwire.ServerEvent) {
	m.handlerMu.RLock()
	handlers := make([]EventHandler, 0, len(m.eventHandlers))
	for _, h := range m.eventHandlers {
		handlers = append(handlers, h)
	}
	m.handlerMu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}
