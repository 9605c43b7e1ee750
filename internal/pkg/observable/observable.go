// Package observable provides a value holder that notifies subscribers on change.
package observable

import "sync"

type subscriber[T any] struct {
	id uint64
	fn func(T)
}

// Value holds the latest snapshot of a store.
// Subscribers are called synchronously by the writer, outside the value lock,
// in subscription order. A snapshot older than one already delivered is never
// delivered. Subscribers must not write to the same Value.
type Value[T any] struct {
	mu          sync.RWMutex
	current     T
	version     uint64
	subscribers []subscriber[T]
	nextID      uint64

	notifyMu  sync.Mutex
	delivered uint64
}

// New creates a Value with an initial snapshot.
func New[T any](initial T) *Value[T] {
	return &Value[T]{current: initial}
}

// Get returns the current snapshot.
func (v *Value[T]) Get() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.current
}

// Set replaces the snapshot and notifies subscribers.
func (v *Value[T]) Set(next T) {
	v.Update(func(T) T { return next })
}

// Update replaces the snapshot with fn(current) atomically and notifies subscribers.
func (v *Value[T]) Update(fn func(T) T) {
	v.UpdateIf(func(cur T) (T, bool) { return fn(cur), true })
}

// UpdateIf is Update where fn may decline the change by returning false.
// Declined updates notify nobody. It reports whether the change was applied.
func (v *Value[T]) UpdateIf(fn func(T) (T, bool)) bool {
	v.mu.Lock()
	next, ok := fn(v.current)
	if !ok {
		v.mu.Unlock()
		return false
	}
	v.current = next
	v.version++
	version := v.version
	subs := make([]subscriber[T], len(v.subscribers))
	copy(subs, v.subscribers)
	v.mu.Unlock()

	v.notifyMu.Lock()
	defer v.notifyMu.Unlock()
	if version <= v.delivered {
		return true
	}
	v.delivered = version
	for _, s := range subs {
		s.fn(next)
	}
	return true
}

// Subscribe registers fn and returns its unsubscribe func.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	v.nextID++
	id := v.nextID
	v.subscribers = append(v.subscribers, subscriber[T]{id: id, fn: fn})
	v.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			v.mu.Lock()
			defer v.mu.Unlock()
			for i, s := range v.subscribers {
				if s.id == id {
					v.subscribers = append(v.subscribers[:i:i], v.subscribers[i+1:]...)
					return
				}
			}
		})
	}
}
