// Package notify provides typed change notification for the configuration
// engine.
//
// An Emitter delivers values of one type to its listeners. Components expose
// the read side as an Event so consumers can subscribe without being able to
// fire. Barrier gates callers until a one-shot condition is reached.
package notify

import (
	"sort"
	"sync"
)

// Listener receives values fired by an Emitter.
type Listener[T any] func(T)

// Event is the subscribe-only view of an Emitter.
type Event[T any] interface {
	Subscribe(listener Listener[T]) *Subscription
}

// Subscription represents an active listener registration.
type Subscription struct {
	id     uint64
	cancel func(id uint64)
	once   sync.Once
}

// Unsubscribe removes the listener. It is safe to call more than once.
func (s *Subscription) Unsubscribe() {
	if s == nil || s.cancel == nil {
		return
	}
	s.once.Do(func() { s.cancel(s.id) })
}

// Option configures an Emitter.
type Option func(*options)

type options struct {
	async      bool
	bufferSize int
}

// WithAsync enables asynchronous delivery through a buffered queue.
func WithAsync(bufferSize int) Option {
	return func(o *options) {
		if bufferSize > 0 {
			o.async = true
			o.bufferSize = bufferSize
		}
	}
}

// Emitter manages listeners for values of type T.
type Emitter[T any] struct {
	mu        sync.RWMutex
	listeners map[uint64]Listener[T]
	nextID    uint64

	async  bool
	buffer chan T
	done   chan struct{}
	wg     sync.WaitGroup
	closed bool
}

// NewEmitter creates an Emitter.
func NewEmitter[T any](opts ...Option) *Emitter[T] {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	e := &Emitter[T]{
		listeners: make(map[uint64]Listener[T]),
		done:      make(chan struct{}),
		async:     o.async,
	}

	if e.async {
		e.buffer = make(chan T, o.bufferSize)
		e.wg.Add(1)
		go e.processAsync()
	}

	return e
}

// Subscribe registers a listener. Listeners are called in subscription order.
func (e *Emitter[T]) Subscribe(listener Listener[T]) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := e.nextID
	e.nextID++
	e.listeners[id] = listener

	return &Subscription{id: id, cancel: e.unsubscribe}
}

// Fire delivers value to every listener. Listeners run outside the lock so
// they may subscribe, unsubscribe or fire again.
func (e *Emitter[T]) Fire(value T) {
	e.mu.RLock()
	if e.closed {
		e.mu.RUnlock()
		return
	}
	e.mu.RUnlock()

	if e.async {
		select {
		case e.buffer <- value:
		case <-e.done:
		}
		return
	}

	e.deliver(value)
}

// Len returns the number of active listeners.
func (e *Emitter[T]) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.listeners)
}

// Close stops delivery. Buffered values are drained first. It is safe to
// call Close multiple times.
func (e *Emitter[T]) Close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()

	close(e.done)
	e.wg.Wait()
}

func (e *Emitter[T]) unsubscribe(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.listeners, id)
}

func (e *Emitter[T]) deliver(value T) {
	e.mu.RLock()
	ids := make([]uint64, 0, len(e.listeners))
	for id := range e.listeners {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	listeners := make([]Listener[T], 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, e.listeners[id])
	}
	e.mu.RUnlock()

	for _, l := range listeners {
		l(value)
	}
}

func (e *Emitter[T]) processAsync() {
	defer e.wg.Done()

	for {
		select {
		case v := <-e.buffer:
			e.deliver(v)
		case <-e.done:
			for {
				select {
				case v := <-e.buffer:
					e.deliver(v)
				default:
					return
				}
			}
		}
	}
}
