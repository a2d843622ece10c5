package conversation

import (
	"context"
	"errors"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"skillchat/internal/chatwire"

	"github.com/google/uuid"
)

// ErrEmptyContent is returned by SendLocal for empty or whitespace-only
// input. Nothing is appended and nothing goes on the wire.
var ErrEmptyContent = errors.New("conversation: message content is empty")

// Message is the client-side view of a direct message. A pending message
// carries a locally generated id and client tag until the server echo
// replaces it in place.
type Message struct {
	ID         string // server id (decimal) once confirmed, local uuid while pending
	ClientTag  string // correlation id sent with send_message and echoed back
	SenderID   uint
	ReceiverID uint
	Content    string
	Type       chatwire.MessageType
	CreatedAt  time.Time
	Pending    bool
	IsRead     bool
}

// Sender is the slice of the connection manager the store needs.
// Satisfied by *connection.Manager.
type Sender interface {
	Send(ev chatwire.ClientEvent) error
}

// ReadSyncer issues the durable REST fallback for read receipts.
// Satisfied by history.Loader.
type ReadSyncer interface {
	MarkRead(ctx context.Context, peerID uint, messageIDs []uint) error
}

type thread struct {
	messages       []Message
	typingFromPeer bool
	historyErr     error
}

// Store maintains one consistent ordered message list per peer despite
// three concurrent writers: local optimistic sends, inbound confirmed
// echoes, and read-receipt events. Threads are append-ordered by first
// appearance; reconciliation replaces in place or appends, never reorders.
type Store struct {
	selfID     uint
	sender     Sender
	readSync   ReadSyncer
	stopTyping func(peerID uint) // break the typing import cycle with a hook

	mu      sync.Mutex
	threads map[uint]*thread
}

// NewStore creates a Store for the local user selfID. readSync and
// stopTyping may be nil.
func NewStore(selfID uint, sender Sender, readSync ReadSyncer, stopTyping func(peerID uint)) *Store {
	return &Store{
		selfID:     selfID,
		sender:     sender,
		readSync:   readSync,
		stopTyping: stopTyping,
		threads:    make(map[uint]*thread),
	}
}

// SelfID returns the local user's id.
func (s *Store) SelfID() uint { return s.selfID }

func (s *Store) threadLocked(peerID uint) *thread {
	t, ok := s.threads[peerID]
	if !ok {
		t = &thread{}
		s.threads[peerID] = t
	}
	return t
}

// SendLocal appends an optimistic message for peerID and emits
// send_message when the channel is up. A down channel is not an error
// here: the message stays pending locally with no automatic retry, and the
// caller re-sends manually after reconnect if it wants to.
func (s *Store) SendLocal(peerID uint, content string) (Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return Message{}, ErrEmptyContent
	}

	msg := Message{
		ID:         uuid.NewString(),
		ClientTag:  uuid.NewString(),
		SenderID:   s.selfID,
		ReceiverID: peerID,
		Content:    content,
		Type:       chatwire.TextMessageType,
		CreatedAt:  time.Now(),
		Pending:    true,
	}

	if s.sender != nil {
		err := s.sender.Send(chatwire.SendMessage{
			ReceiverID: peerID,
			Content:    content,
			Type:       chatwire.TextMessageType,
			ClientTag:  msg.ClientTag,
		})
		if err != nil {
			log.Printf("conversation: 消息暂以 pending 保留本地 (发送失败: %v)", err)
		}
	}

	s.mu.Lock()
	t := s.threadLocked(peerID)
	t.messages = append(t.messages, msg)
	s.mu.Unlock()

	if s.stopTyping != nil {
		s.stopTyping(peerID)
	}
	return msg, nil
}

// ApplyInbound reconciles a server-confirmed message into peerID's thread.
// Match order: client tag correlation, then the content+parties heuristic
// against pending entries, then exact id against confirmed entries
// (duplicate delivery), then append. It reports whether the message is an
// incoming one from the peer (as opposed to an echo of our own send) that
// was newly applied -- the signal for the session to emit a read receipt.
func (s *Store) ApplyInbound(peerID uint, wm chatwire.Message) (incoming bool) {
	if wm.SenderID != peerID && wm.ReceiverID != peerID {
		// Not this thread's traffic.
		return false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threadLocked(peerID)
	confirmed := fromWire(wm)

	// 1. Correlation id round-tripped: exact match, no guessing.
	if wm.ClientTag != "" {
		for i := range t.messages {
			if t.messages[i].Pending && t.messages[i].ClientTag == wm.ClientTag {
				t.messages[i] = confirmed
				return false
			}
		}
	}

	// 2. Content+parties heuristic. The optimistic entry and the echo are
	// two representations of the same logical message, and the provisional
	// id can never equal the server id, so this is the fallback when the
	// backend does not echo the tag.
	for i := range t.messages {
		m := &t.messages[i]
		if m.Pending && m.Content == wm.Content && m.SenderID == wm.SenderID && m.ReceiverID == wm.ReceiverID {
			t.messages[i] = confirmed
			return false
		}
	}

	// 3. Duplicate delivery of an already-confirmed message.
	for i := range t.messages {
		if !t.messages[i].Pending && t.messages[i].ID == confirmed.ID {
			return false
		}
	}

	// 4. Genuinely new: append, preserving arrival order.
	t.messages = append(t.messages, confirmed)
	return wm.SenderID == peerID
}

// MarkThreadRead flips the local read state of the peer's messages and
// reports it outward: a mark_as_read frame on the channel plus the REST
// fallback for durability. Both are fire-and-forget; neither blocks the UI.
// explicitIDs narrows the report to the given server ids; nil means every
// locally-known unread message authored by the peer.
func (s *Store) MarkThreadRead(ctx context.Context, peerID uint, explicitIDs []uint) {
	ids := explicitIDs
	if ids == nil {
		ids = s.UnreadFrom(peerID)
	}
	if len(ids) == 0 {
		return
	}

	s.mu.Lock()
	t := s.threadLocked(peerID)
	want := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		want[id] = struct{}{}
	}
	for i := range t.messages {
		m := &t.messages[i]
		if m.Pending || m.SenderID != peerID {
			continue
		}
		if id, err := strconv.ParseUint(m.ID, 10, 32); err == nil {
			if _, ok := want[uint(id)]; ok {
				m.IsRead = true
			}
		}
	}
	s.mu.Unlock()

	if s.sender != nil {
		if err := s.sender.Send(chatwire.MarkAsRead{SenderID: peerID, MessageIDs: ids}); err != nil {
			log.Printf("conversation: mark_as_read 未能上送: %v", err)
		}
	}
	if s.readSync != nil {
		go func() {
			if err := s.readSync.MarkRead(ctx, peerID, ids); err != nil {
				log.Printf("conversation: 已读状态 REST 回退失败: %v", err)
			}
		}()
	}
}

// ApplyReadReceipt handles a receipt that our messages to peerID were
// viewed. Only messages the local user sent to that peer flip to read;
// a receipt covering messages we do not hold yet is a harmless no-op.
func (s *Store) ApplyReadReceipt(peerID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peerID]
	if !ok {
		return
	}
	for i := range t.messages {
		m := &t.messages[i]
		if m.SenderID == s.selfID && m.ReceiverID == peerID {
			m.IsRead = true
		}
	}
}

// UnreadFrom returns the server ids of confirmed, unread messages authored
// by peerID.
func (s *Store) UnreadFrom(peerID uint) []uint {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peerID]
	if !ok {
		return nil
	}
	var ids []uint
	for _, m := range t.messages {
		if m.Pending || m.IsRead || m.SenderID != peerID {
			continue
		}
		if id, err := strconv.ParseUint(m.ID, 10, 32); err == nil {
			ids = append(ids, uint(id))
		}
	}
	return ids
}

// SeedHistory replaces the thread's confirmed base with the loaded page.
// Local pending entries survive the reload, re-appended after the base in
// their original relative order.
func (s *Store) SeedHistory(peerID uint, msgs []chatwire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.threadLocked(peerID)

	var pendings []Message
	for _, m := range t.messages {
		if m.Pending {
			pendings = append(pendings, m)
		}
	}

	base := make([]Message, 0, len(msgs)+len(pendings))
	for _, wm := range msgs {
		base = append(base, fromWire(wm))
	}
	t.messages = append(base, pendings...)
	t.historyErr = nil
}

// SetHistoryError records a failed history load for the thread. The
// session stays alive; the UI surfaces the error state.
func (s *Store) SetHistoryError(peerID uint, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadLocked(peerID).historyErr = err
}

// HistoryError returns the thread's load error state, nil when healthy.
func (s *Store) HistoryError(peerID uint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peerID]
	if !ok {
		return nil
	}
	return t.historyErr
}

// SetPeerTyping sets the ephemeral typingFromPeer flag.
func (s *Store) SetPeerTyping(peerID uint, typing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.threadLocked(peerID).typingFromPeer = typing
}

// PeerTyping reads the ephemeral typingFromPeer flag.
func (s *Store) PeerTyping(peerID uint) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peerID]
	if !ok {
		return false
	}
	return t.typingFromPeer
}

// Snapshot returns a copy of the thread's messages in arrival order.
func (s *Store) Snapshot(peerID uint) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[peerID]
	if !ok {
		return nil
	}
	out := make([]Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Drop discards a thread entirely. Conversations are not persisted across
// opens; each open re-seeds from the history endpoint.
func (s *Store) Drop(peerID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.threads, peerID)
}

func fromWire(wm chatwire.Message) Message {
	msgType := wm.Type
	if msgType == "" {
		msgType = chatwire.TextMessageType
	}
	return Message{
		ID:         strconv.FormatUint(uint64(wm.ID), 10),
		ClientTag:  wm.ClientTag,
		SenderID:   wm.SenderID,
		ReceiverID: wm.ReceiverID,
		Content:    wm.Content,
		Type:       msgType,
		CreatedAt:  wm.CreatedAt,
		IsRead:     wm.IsRead,
	}
}
