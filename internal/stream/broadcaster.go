package stream

import (
	"sync"
	"sync/atomic"
)

// globalSessionID is a sentinel session: a subscriber registered under it
// receives every published chunk regardless of the chunk's session id,
// mirroring the teacher's "explicit global session" broadcast path in its
// EventBroadcaster.
const globalSessionID = "*"

// Metrics reports best-effort drop counters.
type Metrics struct {
	DroppedEvents   int64
	DropsPerSession map[string]int64
}

// Broadcaster is the pub-sub fanout for one Log's chunks. Registration is
// copy-on-write: RegisterClient/UnregisterClient never mutate a map a
// reader may be iterating — each call builds a fresh map and swaps it in
// (spec §9 "callback lists... a concurrent set behind a lock; mutation
// returns an unsubscribe capability" combined with the teacher's own
// loadClients()/storeClients() COW pattern).
//
// Grounded on: _teacher_ref/internal/delivery/server/app/event_broadcaster_test.go
// (the implementation file itself is absent from the pack; this rebuilds
// the API its tests exercise — RegisterClient/UnregisterClient/OnEvent/
// GetMetrics/loadClients — against OutputChunk instead of AgentEvent).
type Broadcaster struct {
	clients atomic.Pointer[map[string][]chan OutputChunk]

	mu              sync.Mutex
	droppedTotal    int64
	dropsPerSession map[string]int64
}

// NewBroadcaster constructs an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	b := &Broadcaster{dropsPerSession: make(map[string]int64)}
	empty := make(map[string][]chan OutputChunk)
	b.clients.Store(&empty)
	return b
}

func (b *Broadcaster) loadClients() map[string][]chan OutputChunk {
	return *b.clients.Load()
}

// RegisterClient subscribes ch to sessionID's chunks.
func (b *Broadcaster) RegisterClient(sessionID string, ch chan OutputChunk) {
	for {
		oldPtr := b.clients.Load()
		old := *oldPtr
		next := make(map[string][]chan OutputChunk, len(old)+1)
		for k, v := range old {
			next[k] = v
		}
		next[sessionID] = append(append([]chan OutputChunk(nil), next[sessionID]...), ch)
		if b.clients.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// UnregisterClient removes ch from sessionID's subscriber list.
func (b *Broadcaster) UnregisterClient(sessionID string, ch chan OutputChunk) {
	for {
		oldPtr := b.clients.Load()
		oldMap := *oldPtr
		subs, ok := oldMap[sessionID]
		if !ok {
			return
		}
		filtered := make([]chan OutputChunk, 0, len(subs))
		for _, c := range subs {
			if c != ch {
				filtered = append(filtered, c)
			}
		}
		next := make(map[string][]chan OutputChunk, len(oldMap))
		for k, v := range oldMap {
			next[k] = v
		}
		if len(filtered) == 0 {
			delete(next, sessionID)
		} else {
			next[sessionID] = filtered
		}
		if b.clients.CompareAndSwap(oldPtr, &next) {
			return
		}
	}
}

// Publish delivers chunk to every subscriber of its session (and every
// subscriber of globalSessionID). Delivery is non-blocking: a full
// subscriber channel is skipped and counted as a drop rather than stalling
// the writer, preserving the single-writer append-only invariant.
func (b *Broadcaster) Publish(chunk OutputChunk) {
	if chunk.SessionID == "" {
		return
	}
	clients := b.loadClients()
	delivered := false
	for _, ch := range clients[chunk.SessionID] {
		select {
		case ch <- chunk:
			delivered = true
		default:
			b.recordDrop(chunk.SessionID)
		}
	}
	if chunk.SessionID != globalSessionID {
		for _, ch := range clients[globalSessionID] {
			select {
			case ch <- chunk:
				delivered = true
			default:
				b.recordDrop(globalSessionID)
			}
		}
	}
	_ = delivered
}

func (b *Broadcaster) recordDrop(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.droppedTotal++
	b.dropsPerSession[sessionID]++
}

// GetSubscriberCount returns the number of channels currently registered
// for sessionID (spec §4.4 "getSubscriberCount").
func (b *Broadcaster) GetSubscriberCount(sessionID string) int {
	return len(b.loadClients()[sessionID])
}

// Subscription is a single subscriber's handle on a Broadcaster, returned
// by Subscribe (spec §4.4 "subscribe(sub)").
type Subscription struct {
	sessionID string
	ch        chan OutputChunk
}

// Channel returns the subscription's delivery channel.
func (s *Subscription) Channel() <-chan OutputChunk {
	return s.ch
}

// SessionID returns the namespace session this subscription is bound to
// (spec §4.4 "getSessionId").
func (s *Subscription) SessionID() string {
	return s.sessionID
}

// Subscribe registers a new subscriber for sessionID and returns its
// Subscription along with an unsubscribe function (spec §4.4
// "subscribe(sub) → unsubscribe").
func (b *Broadcaster) Subscribe(sessionID string, bufferSize int) (*Subscription, func()) {
	ch := make(chan OutputChunk, bufferSize)
	b.RegisterClient(sessionID, ch)
	sub := &Subscription{sessionID: sessionID, ch: ch}
	return sub, func() { b.UnregisterClient(sessionID, ch) }
}

// GetMetrics returns a snapshot of drop counters.
func (b *Broadcaster) GetMetrics() Metrics {
	b.mu.Lock()
	defer b.mu.Unlock()
	cp := make(map[string]int64, len(b.dropsPerSession))
	for k, v := range b.dropsPerSession {
		cp[k] = v
	}
	return Metrics{DroppedEvents: b.droppedTotal, DropsPerSession: cp}
}
