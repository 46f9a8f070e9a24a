// Package watch provides a single-slot, latest-value broadcast cell.
//
// One writer replaces the current value; any number of receivers read the
// latest value and can block until it changes. A receiver that is not
// actively waiting may skip values that were superseded before it looked,
// but a waiting receiver is always woken by the next write and never
// observes a value older than one it has already seen.
package watch

import (
	"context"
	"sync"
)

// Value holds the current value and wakes waiting receivers on every Set.
type Value[T any] struct {
	mu      sync.Mutex
	current T
	version uint64
	changed chan struct{} // closed and replaced on every Set
}

// New returns a Value initialized to initial. The initial value does not
// count as a change; receivers created afterwards wait for the first Set.
func New[T any](initial T) *Value[T] {
	return &Value[T]{
		current: initial,
		changed: make(chan struct{}),
	}
}

// Set replaces the current value and wakes all waiting receivers.
func (v *Value[T]) Set(value T) {
	v.mu.Lock()
	v.current = value
	v.version++
	close(v.changed)
	v.changed = make(chan struct{})
	v.mu.Unlock()
}

// Get returns the current value.
func (v *Value[T]) Get() T {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.current
}

// Subscribe returns a receiver positioned at the current value, so its
// first Changed call blocks until the next Set.
func (v *Value[T]) Subscribe() *Receiver[T] {
	v.mu.Lock()
	defer v.mu.Unlock()
	return &Receiver[T]{value: v, seen: v.version}
}

// Receiver tracks how far one observer has read a Value. Not safe for
// concurrent use; each observer should hold its own.
type Receiver[T any] struct {
	value *Value[T]
	seen  uint64
}

// Changed blocks until the value has changed past the last one this
// receiver observed, then returns the latest value.
func (r *Receiver[T]) Changed(ctx context.Context) (T, error) {
	for {
		r.value.mu.Lock()
		if r.value.version > r.seen {
			r.seen = r.value.version
			current := r.value.current
			r.value.mu.Unlock()
			return current, nil
		}
		changed := r.value.changed
		r.value.mu.Unlock()

		select {
		case <-ctx.Done():
			var zero T
			return zero, ctx.Err()
		case <-changed:
		}
	}
}

// Latest returns the current value and marks it as observed.
func (r *Receiver[T]) Latest() T {
	r.value.mu.Lock()
	defer r.value.mu.Unlock()
	r.seen = r.value.version
	return r.value.current
}
