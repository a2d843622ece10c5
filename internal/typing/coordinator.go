package typing

import (
	"log"
	"sync"
	"time"

	"skillchat/internal/chatwire"
)

// Emitter is the slice of the connection manager the coordinator needs.
// Satisfied by *connection.Manager.
type Emitter interface {
	Send(ev chatwire.ClientEvent) error
}

// Notify observes remote typing flag changes, e.g. to update the
// conversation store's typingFromPeer flag.
type Notify func(peerID uint, typing bool)

// Coordinator is the per-peer typing debounce machine. Local side: the
// first input emits typing_start immediately and every input re-arms a
// debounce timer whose expiry emits typing_stop. Remote side: peer
// typing_start/typing_stop events flip an ephemeral flag, with a defensive
// local expiry so a lost typing_stop cannot leave "typing..." stuck forever.
type Coordinator struct {
	emitter   Emitter
	debounce  time.Duration
	remoteTTL time.Duration
	notify    Notify

	mu           sync.Mutex
	closed       bool
	localTimers  map[uint]*time.Timer // armed timer == local state Typing
	remoteTimers map[uint]*time.Timer
	remoteTyping map[uint]bool
}

// NewCoordinator creates a Coordinator. notify may be nil.
func NewCoordinator(emitter Emitter, debounce, remoteTTL time.Duration, notify Notify) *Coordinator {
	if debounce <= 0 {
		debounce = 2 * time.Second
	}
	if remoteTTL <= 0 {
		remoteTTL = 5 * time.Second
	}
	return &Coordinator{
		emitter:      emitter,
		debounce:     debounce,
		remoteTTL:    remoteTTL,
		notify:       notify,
		localTimers:  make(map[uint]*time.Timer),
		remoteTimers: make(map[uint]*time.Timer),
		remoteTyping: make(map[uint]bool),
	}
}

// OnLocalInput records a keystroke towards peerID. Idle -> Typing emits
// typing_start immediately; every call replaces the debounce timer, so
// typing_stop fires once, after the last input.
func (c *Coordinator) OnLocalInput(peerID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	if t, typing := c.localTimers[peerID]; typing {
		t.Stop()
	} else {
		c.emit(chatwire.TypingStart{ReceiverID: peerID})
	}
	var timer *time.Timer
	timer = time.AfterFunc(c.debounce, func() {
		c.debounceExpired(peerID, timer)
	})
	c.localTimers[peerID] = timer
}

// OnLocalSend is called when a message is sent to peerID: the composing
// burst is over, so the timer is cancelled and typing_stop goes out at once.
func (c *Coordinator) OnLocalSend(peerID uint) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopLocalLocked(peerID)
}

// StopAll immediately ends every active local typing state.
func (c *Coordinator) StopAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for peerID := range c.localTimers {
		c.stopLocalLocked(peerID)
	}
}

func (c *Coordinator) debounceExpired(peerID uint, timer *time.Timer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	// An old timer can fire while OnLocalInput re-arms: Stop returns false,
	// the callback is already scheduled and just waiting on the mutex. Map
	// presence is not enough; the expiry must still be the registered timer.
	if c.localTimers[peerID] != timer {
		return
	}
	delete(c.localTimers, peerID)
	c.emit(chatwire.TypingStop{ReceiverID: peerID})
}

func (c *Coordinator) stopLocalLocked(peerID uint) {
	t, typing := c.localTimers[peerID]
	if !typing {
		return
	}
	t.Stop()
	delete(c.localTimers, peerID)
	if !c.closed {
		c.emit(chatwire.TypingStop{ReceiverID: peerID})
	}
}

// HandleEvent ingests remote typing events; other events are ignored.
func (c *Coordinator) HandleEvent(ev chatwire.ServerEvent) {
	switch e := ev.(type) {
	case chatwire.PeerTypingStart:
		c.setRemote(e.UserID, true)
	case chatwire.PeerTypingStop:
		c.setRemote(e.UserID, false)
	}
}

// PeerTyping reports the ephemeral remote typing flag for peerID.
func (c *Coordinator) PeerTyping(peerID uint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remoteTyping[peerID]
}

func (c *Coordinator) setRemote(peerID uint, typing bool) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	if t, ok := c.remoteTimers[peerID]; ok {
		t.Stop()
		delete(c.remoteTimers, peerID)
	}
	changed := c.remoteTyping[peerID] != typing
	if typing {
		c.remoteTyping[peerID] = true
		// The peer alone is responsible for its stop signal; this expiry is
		// the safety net for a lost typing_stop.
		c.remoteTimers[peerID] = time.AfterFunc(c.remoteTTL, func() {
			c.remoteExpired(peerID)
		})
	} else {
		delete(c.remoteTyping, peerID)
	}
	notify := c.notify
	c.mu.Unlock()

	if changed && notify != nil {
		notify(peerID, typing)
	}
}

func (c *Coordinator) remoteExpired(peerID uint) {
	c.mu.Lock()
	if c.closed || !c.remoteTyping[peerID] {
		c.mu.Unlock()
		return
	}
	delete(c.remoteTyping, peerID)
	delete(c.remoteTimers, peerID)
	notify := c.notify
	c.mu.Unlock()

	log.Printf("typing: 对端 %d 的 typing_stop 迟迟未到，本地强制清除", peerID)
	if notify != nil {
		notify(peerID, false)
	}
}

// Close cancels every outstanding timer. No typing_stop is emitted into a
// torn-down context; the remote end's own expiry covers it.
func (c *Coordinator) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for peerID, t := range c.localTimers {
		t.Stop()
		delete(c.localTimers, peerID)
	}
	for peerID, t := range c.remoteTimers {
		t.Stop()
		delete(c.remoteTimers, peerID)
	}
	c.remoteTyping = make(map[uint]bool)
}

func (c *Coordinator) emit(ev chatwire.ClientEvent) {
	if c.emitter == nil {
		return
	}
	if err := c.emitter.Send(ev); err != nil {
		// Typing signals are best-effort; a down channel just drops them.
		log.Printf("typing: 发送 %s 失败: %v", ev.Event(), err)
	}
}
