// Package watch provides subscription fan-out and filesystem change triggers.
package watch

import (
	"sync"
	"sync/atomic"
)

// Hub fans events out to subscribers in subscription order.
//
// Subscribe and Cancel are safe from any goroutine and may be called from
// inside a subscriber. Emit delivers synchronously on the caller's goroutine;
// ordering across concurrent Emit calls is the caller's concern.
type Hub[E any] struct {
	mu   sync.Mutex
	subs []*subscriber[E]
}

type subscriber[E any] struct {
	fn     func(E)
	active atomic.Bool
}

// Subscription is a handle returned by Subscribe.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// Cancel removes the subscriber. Calling it more than once is a no-op.
func (s *Subscription) Cancel() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}

func (h *Hub[E]) Subscribe(fn func(E)) *Subscription {
	sub := &subscriber[E]{fn: fn}
	sub.active.Store(true)

	h.mu.Lock()
	h.subs = append(h.subs[:len(h.subs):len(h.subs)], sub)
	h.mu.Unlock()

	return &Subscription{cancel: func() { h.remove(sub) }}
}

func (h *Hub[E]) remove(target *subscriber[E]) {
	target.active.Store(false)
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == target {
			next := make([]*subscriber[E], 0, len(h.subs)-1)
			next = append(next, h.subs[:i]...)
			h.subs = append(next, h.subs[i+1:]...)
			return
		}
	}
}

// Emit delivers e to every subscriber. Subscribers added during Emit are
// not called for e; subscribers cancelled during Emit are skipped.
func (h *Hub[E]) Emit(e E) {
	h.mu.Lock()
	subs := h.subs
	h.mu.Unlock()

	for _, sub := range subs {
		if sub.active.Load() {
			sub.fn(e)
		}
	}
}

func (h *Hub[E]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
