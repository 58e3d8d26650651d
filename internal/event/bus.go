// Package event provides an in-process, topic-keyed notification bus.
//
// Listeners registered with On run synchronously inside Emit, in registration
// order, on the emitting goroutine. Channel subscribers registered with
// Subscribe receive every emitted event on a buffered channel; delivery to
// them is best-effort and full channels drop the event.
package event

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"watchreload/internal/buffer"
	"watchreload/internal/metrics"
)

const defaultSubscriberBufferSize = 64

type BusOptions struct {
	Name                 string
	SubscriberBufferSize int
	HistorySize          int
	Registry             *metrics.Registry
}

// ListenerID identifies a listener registered with On.
type ListenerID uint64

type Bus[T any] struct {
	mu          sync.Mutex
	listeners   map[string][]listener[T]
	subscribers map[uint64]chan T
	nextID      atomic.Uint64
	closed      bool
	closeOnce   sync.Once
	options     BusOptions
	registry    *metrics.Registry
	history     *buffer.Ring[T]
}

type listener[T any] struct {
	id ListenerID
	fn func(T)
}

func NewBus[T any](ctx context.Context, opts BusOptions) *Bus[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	if opts.SubscriberBufferSize <= 0 {
		opts.SubscriberBufferSize = defaultSubscriberBufferSize
	}
	bus := &Bus[T]{
		listeners:   make(map[string][]listener[T]),
		subscribers: make(map[uint64]chan T),
		options:     opts,
		registry:    opts.Registry,
	}
	if opts.HistorySize > 0 {
		bus.history = buffer.NewRing[T](opts.HistorySize)
	}
	if bus.registry == nil {
		bus.registry = metrics.Default
	}
	if done := ctx.Done(); done != nil {
		go func() {
			<-done
			bus.Close()
		}()
	}
	return bus
}

// On appends fn to the listeners for topic. It returns 0 when the bus is
// closed or fn is nil.
func (b *Bus[T]) On(topic string, fn func(T)) ListenerID {
	if b == nil || fn == nil {
		return 0
	}
	id := ListenerID(b.nextID.Add(1))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return 0
	}
	b.listeners[topic] = append(b.listeners[topic], listener[T]{id: id, fn: fn})
	return id
}

// Off removes the listener with id from topic and reports whether it was
// registered.
func (b *Bus[T]) Off(topic string, id ListenerID) bool {
	if b == nil || id == 0 {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	current := b.listeners[topic]
	for index, candidate := range current {
		if candidate.id != id {
			continue
		}
		next := make([]listener[T], 0, len(current)-1)
		next = append(next, current[:index]...)
		next = append(next, current[index+1:]...)
		if len(next) == 0 {
			delete(b.listeners, topic)
		} else {
			b.listeners[topic] = next
		}
		return true
	}
	return false
}

// Emit calls every listener on topic in registration order, then offers the
// event to channel subscribers. Listeners added or removed during Emit do not
// affect the current emission.
func (b *Bus[T]) Emit(topic string, event T) {
	if b == nil {
		return
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	if b.history != nil {
		b.history.Add(event)
	}
	listeners := b.listeners[topic]
	subscribers := make([]chan T, 0, len(b.subscribers))
	ids := make([]uint64, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subscribers = append(subscribers, b.subscribers[id])
	}
	b.mu.Unlock()

	b.registry.IncEventPublished(b.busName())

	for _, entry := range listeners {
		entry.fn(event)
	}

	for _, ch := range subscribers {
		if !b.offer(ch, event) {
			b.registry.IncEventDropped(b.busName())
		}
	}
}

// Subscribe returns a channel receiving every emitted event and a cancel
// function that closes it.
func (b *Bus[T]) Subscribe() (<-chan T, func()) {
	if b == nil {
		ch := make(chan T)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan T, b.options.SubscriberBufferSize)
	id := b.nextID.Add(1)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	b.subscribers[id] = ch
	b.mu.Unlock()

	return ch, func() {
		b.removeSubscriber(id)
	}
}

func (b *Bus[T]) Close() {
	if b == nil {
		return
	}
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		subscribers := b.subscribers
		b.subscribers = make(map[uint64]chan T)
		b.listeners = make(map[string][]listener[T])
		b.mu.Unlock()

		for _, ch := range subscribers {
			close(ch)
		}
	})
}

// ListenerCount reports the listeners registered on topic.
func (b *Bus[T]) ListenerCount(topic string) int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners[topic])
}

func (b *Bus[T]) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

// DumpHistory returns retained events, oldest first.
func (b *Bus[T]) DumpHistory() []T {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.history == nil {
		return nil
	}
	return b.history.List()
}

func (b *Bus[T]) offer(ch chan T, event T) (delivered bool) {
	// A subscriber cancelled between snapshot and send has a closed channel.
	defer func() {
		if recover() != nil {
			delivered = false
		}
	}()
	select {
	case ch <- event:
		return true
	default:
		return false
	}
}

func (b *Bus[T]) removeSubscriber(id uint64) {
	b.mu.Lock()
	ch, ok := b.subscribers[id]
	delete(b.subscribers, id)
	b.mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Bus[T]) busName() string {
	if b.options.Name == "" {
		return "event_bus"
	}
	return b.options.Name
}
