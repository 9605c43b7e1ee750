package backend

import (
	"log/slog"
	"sync"
)

type listenerEntry struct {
	id       uint64
	listener AuthListener
}

// Broadcaster delivers auth events to listeners on a single goroutine,
// preserving emission order. Emit never waits for listeners to run.
type Broadcaster struct {
	mu        sync.Mutex
	listeners []listenerEntry
	nextID    uint64

	queue     chan AuthEvent
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBroadcaster starts the delivery goroutine.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 64
	}
	b := &Broadcaster{
		queue: make(chan AuthEvent, buffer),
		done:  make(chan struct{}),
	}
	b.wg.Add(1)
	go b.run()
	return b
}

// Subscribe registers a listener and returns its unsubscribe func.
func (b *Broadcaster) Subscribe(listener AuthListener) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.listeners = append(b.listeners, listenerEntry{id: id, listener: listener})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, e := range b.listeners {
			if e.id == id {
				b.listeners = append(b.listeners[:i:i], b.listeners[i+1:]...)
				return
			}
		}
	}
}

// Emit queues an event. Events emitted after Close are dropped.
func (b *Broadcaster) Emit(event AuthEvent) {
	select {
	case <-b.done:
		return
	default:
	}

	select {
	case b.queue <- event:
	case <-b.done:
	}
}

// Close stops delivery and waits for the in-flight event to finish.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		close(b.done)
	})
	b.wg.Wait()
}

func (b *Broadcaster) run() {
	defer b.wg.Done()

	for {
		select {
		case <-b.done:
			return
		case event := <-b.queue:
			b.deliver(event)
		}
	}
}

func (b *Broadcaster) deliver(event AuthEvent) {
	b.mu.Lock()
	listeners := make([]listenerEntry, len(b.listeners))
	copy(listeners, b.listeners)
	b.mu.Unlock()

	for _, e := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("auth listener panicked", "event", event.Type, "panic", r)
				}
			}()
			e.listener(event)
		}()
	}
}
