package session

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"

	"skillchat/internal/chatwire"
	"skillchat/internal/config"
	"skillchat/internal/connection"
	"skillchat/internal/conversation"
	"skillchat/internal/history"
	"skillchat/internal/typing"
)

// State is the lifecycle state of a chat session.
type State string

const (
	StateClosed  State = "closed"
	StateOpening State = "opening"
	StateActive  State = "active"
)

// ErrSessionOpen is returned by Open when the controller already has a
// session in flight or active. One controller drives one conversation at
// a time; close it before opening another.
var ErrSessionOpen = errors.New("session: a session is already open")

// Controller orchestrates a one-on-one conversation over the shared
// realtime channel: it joins the peer's room, seeds history over REST,
// routes inbound events into the conversation store and typing
// coordinator, and reports read state upstream. The underlying connection
// outlives the session; Close only detaches this conversation.
type Controller struct {
	cfg    config.Config
	conn   *connection.Manager
	loader history.Loader
	selfID uint

	mu       sync.Mutex
	state    State
	peerID   uint
	store    *conversation.Store
	typing   *typing.Coordinator
	unsubEvs func()
}

// NewController creates a Controller for the local user selfID. conn must
// be ready to Connect; loader may be nil, disabling history seeding and
// the REST read fallback.
func NewController(cfg config.Config, conn *connection.Manager, loader history.Loader, selfID uint) *Controller {
	return &Controller{
		cfg:    cfg,
		conn:   conn,
		loader: loader,
		selfID: selfID,
		state:  StateClosed,
	}
}

// State returns the session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// PeerID returns the peer of the open session, zero when closed.
func (c *Controller) PeerID() uint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerID
}

// Store exposes the session's conversation store, nil while closed.
func (c *Controller) Store() *conversation.Store {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store
}

// Open starts a session with peerID: connects the channel if needed, wires
// event routing, announces join_chat, seeds history, and reports already
// delivered messages as read. A failed history load leaves the session
// active with the error recorded on the thread.
func (c *Controller) Open(ctx context.Context, peerID uint) error {
	c.mu.Lock()
	if c.state != StateClosed {
		c.mu.Unlock()
		return ErrSessionOpen
	}
	c.state = StateOpening
	c.peerID = peerID
	c.mu.Unlock()

	if err := c.conn.Connect(ctx); err != nil {
		c.reset()
		return fmt.Errorf("session: open with peer %d: %w", peerID, err)
	}

	var readSync conversation.ReadSyncer
	if c.loader != nil {
		readSync = c.loader
	}
	// 协调器的 notify 指向 store,这样兜底过期也会清掉 UI 读取的那个标志。
	var coord *typing.Coordinator
	store := conversation.NewStore(c.selfID, c.conn, readSync, func(peerID uint) {
		coord.OnLocalSend(peerID)
	})
	coord = typing.NewCoordinator(c.conn, c.cfg.Chat.TypingDebounce, c.cfg.Chat.RemoteTypingTTL, store.SetPeerTyping)

	c.mu.Lock()
	c.store = store
	c.typing = coord
	c.unsubEvs = c.conn.SubscribeEvents(c.routeEvent)
	c.mu.Unlock()

	if err := c.conn.Send(chatwire.JoinChat{OtherUserID: peerID}); err != nil {
		log.Printf("session: join_chat 未能上送: %v", err)
	}

	c.seedHistory(ctx, peerID, store)

	c.mu.Lock()
	c.state = StateActive
	c.mu.Unlock()

	// Whatever arrived before we opened the conversation counts as viewed now.
	store.MarkThreadRead(ctx, peerID, nil)
	return nil
}

func (c *Controller) seedHistory(ctx context.Context, peerID uint, store *conversation.Store) {
	if c.loader == nil {
		return
	}
	limit := c.cfg.Chat.HistoryPageSize
	if limit <= 0 {
		limit = 50
	}
	msgs, err := c.loader.FetchMessages(ctx, peerID, limit, 0)
	if err != nil {
		log.Printf("session: 历史消息加载失败 (会话继续): %v", err)
		store.SetHistoryError(peerID, err)
		return
	}
	store.SeedHistory(peerID, msgs)
}

// routeEvent runs on the connection's read pump; everything it calls must
// stay non-blocking.
func (c *Controller) routeEvent(ev chatwire.ServerEvent) {
	c.mu.Lock()
	state := c.state
	peerID := c.peerID
	store := c.store
	coord := c.typing
	c.mu.Unlock()
	if state == StateClosed || store == nil {
		return
	}

	switch e := ev.(type) {
	case chatwire.NewMessage:
		incoming := store.ApplyInbound(peerID, e.Message)
		if incoming && state == StateActive {
			// The conversation is on screen; report the delivery read at once.
			store.MarkThreadRead(context.Background(), peerID, []uint{e.Message.ID})
		}
	case chatwire.PeerTypingStart:
		// 协调器通过 notify 更新 store 的 typingFromPeer 标志。
		if e.UserID == peerID {
			coord.HandleEvent(e)
		}
	case chatwire.PeerTypingStop:
		if e.UserID == peerID {
			coord.HandleEvent(e)
		}
	case chatwire.MessageRead:
		// The receipt names the author whose messages were viewed; only act
		// when that author is us.
		if e.SenderID == c.selfID {
			store.ApplyReadReceipt(peerID)
		}
	}
}

// SendMessage sends content to the session peer through the store's
// optimistic path.
func (c *Controller) SendMessage(content string) (conversation.Message, error) {
	c.mu.Lock()
	state := c.state
	peerID := c.peerID
	store := c.store
	c.mu.Unlock()
	if state != StateActive || store == nil {
		return conversation.Message{}, errors.New("session: not active")
	}
	return store.SendLocal(peerID, content)
}

// OnInput records local composing activity for the typing coordinator.
func (c *Controller) OnInput() {
	c.mu.Lock()
	coord := c.typing
	peerID := c.peerID
	state := c.state
	c.mu.Unlock()
	if state == StateActive && coord != nil {
		coord.OnLocalInput(peerID)
	}
}

// PeerTyping reports whether the session peer is currently composing.
func (c *Controller) PeerTyping() bool {
	c.mu.Lock()
	store := c.store
	peerID := c.peerID
	c.mu.Unlock()
	if store == nil {
		return false
	}
	return store.PeerTyping(peerID)
}

// Messages returns a snapshot of the session's thread.
func (c *Controller) Messages() []conversation.Message {
	c.mu.Lock()
	store := c.store
	peerID := c.peerID
	c.mu.Unlock()
	if store == nil {
		return nil
	}
	return store.Snapshot(peerID)
}

// Close detaches the session: unsubscribes routing and cancels typing
// timers. The realtime channel stays up for the next session. Safe to call
// on a closed controller.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return
	}
	unsub := c.unsubEvs
	coord := c.typing
	c.state = StateClosed
	c.peerID = 0
	c.store = nil
	c.typing = nil
	c.unsubEvs = nil
	c.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if coord != nil {
		coord.Close()
	}
}

func (c *Controller) reset() {
	c.mu.Lock()
	c.state = StateClosed
	c.peerID = 0
	c.mu.Unlock()
}
