package typing

import (
	"sync"
	"testing"
	"time"

	"skillchat/internal/chatwire"
)

type captureEmitter struct {
	mu   sync.Mutex
	sent []chatwire.ClientEvent
}

func (c *captureEmitter) Send(ev chatwire.ClientEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, ev)
	return nil
}

func (c *captureEmitter) events() []chatwire.ClientEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]chatwire.ClientEvent, len(c.sent))
	copy(out, c.sent)
	return out
}

func TestBurstEmitsOneStartOneStop(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, 50*time.Millisecond, time.Second, nil)
	defer c.Close()

	for i := 0; i < 10; i++ {
		c.OnLocalInput(7)
		time.Sleep(5 * time.Millisecond)
	}
	time.Sleep(150 * time.Millisecond)

	evs := emitter.events()
	if len(evs) != 2 {
		t.Fatalf("expected exactly start+stop, got %d events: %+v", len(evs), evs)
	}
	if _, ok := evs[0].(chatwire.TypingStart); !ok {
		t.Fatalf("expected typing_start first, got %T", evs[0])
	}
	if _, ok := evs[1].(chatwire.TypingStop); !ok {
		t.Fatalf("expected typing_stop second, got %T", evs[1])
	}
}

func TestDebounceReArmsOnInput(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, 80*time.Millisecond, time.Second, nil)
	defer c.Close()

	c.OnLocalInput(7)
	time.Sleep(50 * time.Millisecond)
	c.OnLocalInput(7)
	time.Sleep(50 * time.Millisecond)

	// The second input pushed the stop out; only typing_start so far.
	if evs := emitter.events(); len(evs) != 1 {
		t.Fatalf("expected stop not yet fired, got %d events", len(evs))
	}

	time.Sleep(100 * time.Millisecond)
	if evs := emitter.events(); len(evs) != 2 {
		t.Fatalf("expected stop after quiet period, got %d events", len(evs))
	}
}

func TestOnLocalSendStopsImmediately(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, time.Hour, time.Second, nil)
	defer c.Close()

	c.OnLocalInput(7)
	c.OnLocalSend(7)

	evs := emitter.events()
	if len(evs) != 2 {
		t.Fatalf("expected start+stop, got %d events", len(evs))
	}
	stop, ok := evs[1].(chatwire.TypingStop)
	if !ok || stop.ReceiverID != 7 {
		t.Fatalf("expected typing_stop for peer 7, got %+v", evs[1])
	}

	// A send with no composing burst does not emit anything.
	c.OnLocalSend(7)
	if evs := emitter.events(); len(evs) != 2 {
		t.Fatalf("expected no extra events, got %d", len(evs))
	}
}

func TestPerPeerIsolation(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, time.Hour, time.Second, nil)
	defer c.Close()

	c.OnLocalInput(7)
	c.OnLocalInput(8)
	c.OnLocalSend(7)

	evs := emitter.events()
	if len(evs) != 3 {
		t.Fatalf("expected 3 events, got %d", len(evs))
	}
	// Peer 8's burst is still open.
	c.OnLocalSend(8)
	if evs := emitter.events(); len(evs) != 4 {
		t.Fatalf("expected peer 8's stop, got %d events", len(evs))
	}
}

func TestStaleDebounceCallbackIgnored(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, time.Hour, time.Second, nil)
	defer c.Close()

	// 第一次输入装上旧定时器，再次输入替换它。
	c.OnLocalInput(7)
	c.mu.Lock()
	stale := c.localTimers[7]
	c.mu.Unlock()
	c.OnLocalInput(7)

	// 旧定时器的回调在替换后才抢到锁时，必须什么都不做。
	c.debounceExpired(7, stale)

	evs := emitter.events()
	if len(evs) != 1 {
		t.Fatalf("a stale expiry must not emit typing_stop, got %d events: %+v", len(evs), evs)
	}
	c.mu.Lock()
	armed := c.localTimers[7] != nil
	c.mu.Unlock()
	if !armed {
		t.Fatalf("a stale expiry must not disarm the replacement timer")
	}
}

func TestRemoteTypingFlag(t *testing.T) {
	var mu sync.Mutex
	var notified [][2]any
	c := NewCoordinator(&captureEmitter{}, time.Second, time.Second, func(peerID uint, typing bool) {
		mu.Lock()
		notified = append(notified, [2]any{peerID, typing})
		mu.Unlock()
	})
	defer c.Close()

	c.HandleEvent(chatwire.PeerTypingStart{UserID: 7})
	if !c.PeerTyping(7) {
		t.Fatalf("expected remote typing set")
	}
	c.HandleEvent(chatwire.PeerTypingStop{UserID: 7})
	if c.PeerTyping(7) {
		t.Fatalf("expected remote typing cleared")
	}

	mu.Lock()
	defer mu.Unlock()
	if len(notified) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(notified))
	}
}

func TestRemoteTypingExpiresWithoutStop(t *testing.T) {
	c := NewCoordinator(&captureEmitter{}, time.Second, 60*time.Millisecond, nil)
	defer c.Close()

	c.HandleEvent(chatwire.PeerTypingStart{UserID: 7})
	if !c.PeerTyping(7) {
		t.Fatalf("expected remote typing set")
	}

	time.Sleep(150 * time.Millisecond)
	if c.PeerTyping(7) {
		t.Fatalf("expected the safety expiry to clear a lost typing_stop")
	}
}

func TestCloseSilencesCoordinator(t *testing.T) {
	emitter := &captureEmitter{}
	c := NewCoordinator(emitter, 30*time.Millisecond, time.Second, nil)

	c.OnLocalInput(7)
	c.Close()

	before := len(emitter.events())
	time.Sleep(100 * time.Millisecond)
	if after := len(emitter.events()); after != before {
		t.Fatalf("no emissions may happen after Close, got %d new", after-before)
	}

	c.OnLocalInput(7)
	if got := len(emitter.events()); got != before {
		t.Fatalf("input after Close must be ignored, got %d events", got)
	}
}
