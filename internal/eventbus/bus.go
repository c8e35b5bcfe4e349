// Package eventbus provides the notification channel shared by terminal
// controllers, the transfer tracker and the backends.
//
// The package implements:
//   - Bus: process-wide publish/subscribe with FIFO delivery
//   - Adapter: session-correlated helpers that filter events by link ID
//   - Subscriptions: a disposer group so every On has exactly one unsubscribe
package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// Event names that form the contract between UI surfaces, the core and backends.
const (
	EventSSHInput  = "sshInput"
	EventSSHOutput = "sshOutput"
	EventSSHClose  = "sshClose"
	EventProgress  = "eventProgress"
)

// Event is one delivery on the bus.
type Event struct {
	Name    string
	Payload any
}

// Handler processes a delivered event.
type Handler func(Event)

type subscription struct {
	id      uint64
	name    string
	handler Handler
	active  bool
}

// Bus is an in-process publish/subscribe channel.
//
// Emit appends to a single queue. The first emitter that finds the bus idle
// becomes the dispatcher and drains the queue; emits made meanwhile (including
// re-entrant emits from a handler) are queued behind it. Delivery is therefore
// FIFO and an emit from inside a handler never deadlocks.
type Bus struct {
	mu          sync.Mutex
	subs        map[string][]*subscription
	nextID      uint64
	queue       []Event
	dispatching bool
	log         *zap.Logger
}

// New creates an empty Bus.
func New(log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{
		subs: make(map[string][]*subscription),
		log:  log,
	}
}

// On registers handler for events named name. The returned function
// unsubscribes; calling it more than once is harmless. After it returns the
// handler receives no further events.
func (b *Bus) On(name string, handler Handler) func() {
	if handler == nil {
		return func() {}
	}
	b.mu.Lock()
	b.nextID++
	sub := &subscription{id: b.nextID, name: name, handler: handler, active: true}
	b.subs[name] = append(b.subs[name], sub)
	count := len(b.subs[name])
	b.mu.Unlock()

	b.log.Debug("eventbus subscribe", zap.String("event", name), zap.Int("subs", count))

	var once sync.Once
	return func() {
		once.Do(func() {
			b.remove(sub)
			b.log.Debug("eventbus unsubscribe", zap.String("event", name))
		})
	}
}

func (b *Bus) remove(sub *subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub.active = false
	list := b.subs[sub.name]
	for i, s := range list {
		if s.id == sub.id {
			list = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(list) == 0 {
		delete(b.subs, sub.name)
	} else {
		b.subs[sub.name] = list
	}
}

// Emit publishes payload under name.
func (b *Bus) Emit(name string, payload any) {
	b.mu.Lock()
	b.queue = append(b.queue, Event{Name: name, Payload: payload})
	if b.dispatching {
		b.mu.Unlock()
		return
	}
	b.dispatching = true
	b.mu.Unlock()

	b.drain()
}

func (b *Bus) drain() {
	for {
		b.mu.Lock()
		if len(b.queue) == 0 {
			b.dispatching = false
			b.mu.Unlock()
			return
		}
		event := b.queue[0]
		b.queue[0] = Event{}
		b.queue = b.queue[1:]
		targets := append([]*subscription(nil), b.subs[event.Name]...)
		b.mu.Unlock()

		for _, sub := range targets {
			b.deliver(sub, event)
		}
	}
}

func (b *Bus) deliver(sub *subscription, event Event) {
	b.mu.Lock()
	active := sub.active
	b.mu.Unlock()
	if !active {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			b.log.Error("eventbus handler panic", zap.String("event", event.Name), zap.Any("panic", r))
		}
	}()
	sub.handler(event)
}

// Count returns the number of live subscriptions for name.
func (b *Bus) Count(name string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[name])
}
