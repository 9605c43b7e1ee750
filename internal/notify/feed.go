package notify

import "sync"

const defaultCapacity = 50

// Feed is a bounded buffer of recent toasts. When full, the oldest toast is dropped.
type Feed struct {
	mu       sync.Mutex
	items    []Toast
	capacity int
}

// NewFeed creates a feed holding at most capacity toasts.
func NewFeed(capacity int) *Feed {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &Feed{capacity: capacity}
}

// Push appends a toast.
func (f *Feed) Push(t Toast) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.items) == f.capacity {
		f.items = append(f.items[:0], f.items[1:]...)
	}
	f.items = append(f.items, t)
}

// Drain returns every buffered toast, oldest first, and empties the feed.
func (f *Feed) Drain() []Toast {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]Toast, len(f.items))
	copy(out, f.items)
	f.items = f.items[:0]
	return out
}

// Len returns the number of buffered toasts.
func (f *Feed) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.items)
}
