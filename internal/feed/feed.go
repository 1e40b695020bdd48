// Package feed pushes live query results to subscribers. A subscriber gets
// the current result immediately and a fresh one after every committed store
// change; a slow subscriber only ever holds the latest result.
package feed

import (
	"context"
	"log"
	"sync"
	"time"
)

// Query produces the current value of a subscription.
type Query func(ctx context.Context) (any, error)

// Snapshot is one evaluation of a Query.
type Snapshot struct {
	Data any       `json:"data"`
	Err  error     `json:"-"`
	At   time.Time `json:"at"`
}

// Subscription delivers snapshots on C until Unsubscribe is called, which
// closes C.
type Subscription struct {
	C <-chan Snapshot

	c     chan Snapshot
	query Query
	hub   *Hub

	mu     sync.Mutex
	closed bool
}

// offer replaces any undelivered snapshot with snap.
func (s *Subscription) offer(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case <-s.c:
	default:
	}
	s.c <- snap
}

// Unsubscribe stops delivery and closes C. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.hub.remove(s)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.c)
	}
}

// Hub tracks subscriptions and re-evaluates them when notified of a change.
type Hub struct {
	mu      sync.Mutex
	subs    map[*Subscription]struct{}
	changed chan struct{}
}

// NewHub returns an empty Hub. Call Run to start processing notifications.
func NewHub() *Hub {
	return &Hub{
		subs:    make(map[*Subscription]struct{}),
		changed: make(chan struct{}, 1),
	}
}

// Subscribe registers q and delivers its first snapshot before returning.
func (h *Hub) Subscribe(ctx context.Context, q Query) *Subscription {
	c := make(chan Snapshot, 1)
	sub := &Subscription{C: c, c: c, query: q, hub: h}

	h.mu.Lock()
	h.subs[sub] = struct{}{}
	n := len(h.subs)
	h.mu.Unlock()
	log.Printf("feed: subscriber added, total %d", n)

	sub.offer(evaluate(ctx, q))
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	_, ok := h.subs[sub]
	delete(h.subs, sub)
	n := len(h.subs)
	h.mu.Unlock()
	if ok {
		log.Printf("feed: subscriber removed, total %d", n)
	}
}

// Notify records that the store changed. Bursts of notifications collapse
// into a single refresh.
func (h *Hub) Notify() {
	select {
	case h.changed <- struct{}{}:
	default:
	}
}

// Run refreshes subscriptions after each notification until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-h.changed:
			h.Refresh(ctx)
		}
	}
}

// Refresh re-evaluates every subscription now.
func (h *Hub) Refresh(ctx context.Context) {
	h.mu.Lock()
	subs := make([]*Subscription, 0, len(h.subs))
	for sub := range h.subs {
		subs = append(subs, sub)
	}
	h.mu.Unlock()

	for _, sub := range subs {
		sub.offer(evaluate(ctx, sub.query))
	}
}

// Len returns the number of live subscriptions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func evaluate(ctx context.Context, q Query) Snapshot {
	data, err := q(ctx)
	return Snapshot{Data: data, Err: err, At: time.Now().UTC()}
}
