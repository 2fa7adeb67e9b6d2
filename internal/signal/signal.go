// Package signal provides a hot, multicast, replay-latest boolean stream.
//
// It backs the engine's online and syncing status surfaces: a subscriber's
// callback fires once immediately with the current value, then exactly once
// per subsequent transition. An unchanged value is never re-delivered, and
// rapid toggles are not coalesced - each transition reaches every subscriber.
package signal

import "sync"

// Subscription represents an active subscription to a Bool stream.
type Subscription interface {
	// Cancel stops delivery. Safe to call more than once.
	Cancel()
}

// Bool is a broadcastable boolean value with replay-latest semantics.
//
// Callbacks run synchronously on the goroutine that calls Set (or Subscribe,
// for the replay). They must not block and must not call back into the same
// Bool, or delivery deadlocks.
type Bool struct {
	mu   sync.Mutex
	last bool
	subs map[int]func(bool)
	next int
}

// NewBool creates a Bool stream holding the given initial value.
func NewBool(initial bool) *Bool {
	return &Bool{
		last: initial,
		subs: make(map[int]func(bool)),
	}
}

// Get returns a synchronous snapshot of the current value.
func (b *Bool) Get() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last
}

// Set publishes a new value. If the value is unchanged, nothing is delivered.
func (b *Bool) Set(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if v == b.last {
		return
	}
	b.last = v

	// Deliver under the lock so two racing Sets cannot reorder transitions
	// for any subscriber.
	for _, cb := range b.subs {
		cb(v)
	}
}

// Subscribe registers a callback. The callback fires once immediately with
// the current value, then once per subsequent transition until cancelled.
func (b *Bool) Subscribe(cb func(bool)) Subscription {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = cb
	current := b.last

	// Replay-latest while still holding the lock: no transition published
	// after this point can be observed before the replay.
	cb(current)
	b.mu.Unlock()

	return &subscription{b: b, id: id}
}

type subscription struct {
	b    *Bool
	id   int
	once sync.Once
}

func (s *subscription) Cancel() {
	s.once.Do(func() {
		s.b.mu.Lock()
		delete(s.b.subs, s.id)
		s.b.mu.Unlock()
	})
}
