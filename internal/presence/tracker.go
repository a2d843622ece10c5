package presence

import (
	"sync"

	"skillchat/internal/chatwire"
	"skillchat/internal/connection"
)

// Tracker maintains the set of currently-online peer ids, derived solely
// from user_status events on the realtime channel. Presence has no validity
// outside a live connection, so the whole set is dropped the moment the
// connection reports Disconnected.
type Tracker struct {
	mu     sync.RWMutex
	online map[uint]struct{}
}

// NewTracker creates an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{online: make(map[uint]struct{})}
}

// Bind subscribes the tracker to a connection manager and returns an
// unbind function.
func (t *Tracker) Bind(m *connection.Manager) func() {
	unsubEvents := m.SubscribeEvents(t.HandleEvent)
	unsubState := m.SubscribeState(t.HandleState)
	return func() {
		unsubEvents()
		unsubState()
	}
}

// HandleEvent ingests user_status transitions; other events are ignored.
func (t *Tracker) HandleEvent(ev chatwire.ServerEvent) {
	status, ok := ev.(chatwire.UserStatus)
	if !ok {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if status.Status == chatwire.StatusOnline {
		t.online[status.UserID] = struct{}{}
	} else {
		delete(t.online, status.UserID)
	}
}

// HandleState clears the set on disconnect.
func (t *Tracker) HandleState(s connection.State) {
	if s != connection.StateDisconnected {
		return
	}
	t.mu.Lock()
	t.online = make(map[uint]struct{})
	t.mu.Unlock()
}

// IsOnline reports whether the peer is currently online.
func (t *Tracker) IsOnline(peerID uint) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.online[peerID]
	return ok
}

// OnlinePeers returns a snapshot of the online set.
func (t *Tracker) OnlinePeers() []uint {
	t.mu.RLock()
	defer t.mu.RUnlock()
	peers := make([]uint, 0, len(t.online))
	for id := range t.online {
		peers = append(peers, id)
	}
	return peers
}
