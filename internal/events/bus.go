package events

import (
	"sync"
	"sync/atomic"
)

// Handler receives one emitted payload.
type Handler[E any] func(E)

type subscribeConfig struct {
	once bool
}

// SubscribeOption adjusts a single subscription.
type SubscribeOption func(*subscribeConfig)

// Once makes the subscription fire at most one time and remove itself.
func Once() SubscribeOption {
	return func(cfg *subscribeConfig) {
		cfg.once = true
	}
}

type subscription[E any] struct {
	fn      Handler[E]
	removed atomic.Bool
}

// Bus is a typed publish/subscribe registry keyed by a closed set of event
// kinds. Emission is synchronous and in subscription order. The zero value is
// ready to use.
type Bus[K comparable, E any] struct {
	mu   sync.Mutex
	subs map[K][]*subscription[E]
}

func New[K comparable, E any]() *Bus[K, E] {
	return &Bus[K, E]{}
}

// On registers fn for kind and returns a function that removes it. Calling the
// returned function more than once is harmless.
func (b *Bus[K, E]) On(kind K, fn Handler[E], opts ...SubscribeOption) func() {
	cfg := subscribeConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	sub := &subscription[E]{}
	if cfg.once {
		var fired atomic.Bool
		sub.fn = func(ev E) {
			if !fired.CompareAndSwap(false, true) {
				return
			}
			b.remove(kind, sub)
			fn(ev)
		}
	} else {
		sub.fn = fn
	}

	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[K][]*subscription[E])
	}
	b.subs[kind] = append(b.subs[kind], sub)
	b.mu.Unlock()

	return func() { b.remove(kind, sub) }
}

// Once is shorthand for On(kind, fn, Once()).
func (b *Bus[K, E]) Once(kind K, fn Handler[E]) func() {
	return b.On(kind, fn, Once())
}

func (b *Bus[K, E]) remove(kind K, sub *subscription[E]) {
	sub.removed.Store(true)
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[kind]
	for i, s := range list {
		if s == sub {
			// Copy so snapshots held by in-flight emissions stay intact.
			next := make([]*subscription[E], 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			if len(next) == 0 {
				delete(b.subs, kind)
			} else {
				b.subs[kind] = next
			}
			return
		}
	}
}

// Emit calls every handler subscribed to kind at the time of the call.
// Handlers removed while the emission is running are skipped.
func (b *Bus[K, E]) Emit(kind K, ev E) {
	b.mu.Lock()
	snapshot := b.subs[kind]
	b.mu.Unlock()
	for _, sub := range snapshot {
		if sub.removed.Load() {
			continue
		}
		sub.fn(ev)
	}
}

// UnAll drops every subscription.
func (b *Bus[K, E]) UnAll() {
	b.mu.Lock()
	old := b.subs
	b.subs = nil
	b.mu.Unlock()
	for _, list := range old {
		for _, sub := range list {
			sub.removed.Store(true)
		}
	}
}

// Len reports the number of live subscriptions for kind.
func (b *Bus[K, E]) Len(kind K) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[kind])
}
