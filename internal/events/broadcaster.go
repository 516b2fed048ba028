// Package events provides a minimal in-process fan-out for lifecycle
// notifications such as the client returning to the foreground.
package events

import "sync"

// Broadcaster delivers Publish calls to every current subscriber. It is safe
// for concurrent use. Callbacks run synchronously on the publishing
// goroutine and must not block.
type Broadcaster struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]func()
}

// NewBroadcaster returns an empty Broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{subs: make(map[int]func())}
}

// Subscribe registers fn and returns a function that removes it. The returned
// function may be called more than once.
func (b *Broadcaster) Subscribe(fn func()) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Publish invokes every subscriber once.
func (b *Broadcaster) Publish() {
	b.mu.Lock()
	fns := make([]func(), 0, len(b.subs))
	for _, fn := range b.subs {
		fns = append(fns, fn)
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
