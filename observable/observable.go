// Package observable provides a value cell that pushes every change to its
// subscribers. Each subscriber owns a one-slot channel that always holds the
// most recent value, so a slow reader sees fewer intermediate states but never
// blocks the writer.
package observable

import (
	"context"
	"sync"
)

// Value is a concurrency-safe cell with push notifications.
type Value[T any] struct {
	mu     sync.Mutex
	cur    T
	subs   map[int]chan T
	nextID int
}

// New returns a Value holding initial.
func New[T any](initial T) *Value[T] {
	return &Value[T]{cur: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.cur
}

// Set stores next and notifies all subscribers.
func (v *Value[T]) Set(next T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.cur = next
	for _, ch := range v.subs {
		offerLatest(ch, next)
	}
}

// Subscribe returns a channel that first receives the current value and then
// every subsequent one. The channel is closed once ctx is done.
func (v *Value[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, 1)

	v.mu.Lock()
	id := v.nextID
	v.nextID++
	v.subs[id] = ch
	ch <- v.cur
	v.mu.Unlock()

	go func() {
		<-ctx.Done()
		v.mu.Lock()
		delete(v.subs, id)
		close(ch)
		v.mu.Unlock()
	}()
	return ch
}

// Subscribers returns the number of live subscriptions.
func (v *Value[T]) Subscribers() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.subs)
}

// offerLatest replaces whatever is waiting in ch with val. Callers hold the
// Value lock, which makes them the only writer.
func offerLatest[T any](ch chan T, val T) {
	select {
	case ch <- val:
		return
	default:
	}
	select {
	case <-ch:
	default:
	}
	ch <- val
}
