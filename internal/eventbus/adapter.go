package eventbus

import (
	"sync"

	"go.uber.org/zap"
)

// SessionMessage is the payload of sshInput, sshOutput and sshClose.
// Data is the codec transport form of the bytes.
type SessionMessage struct {
	ID   string `json:"id"`
	Data string `json:"data,omitempty"`
}

// Adapter wraps a Bus with link-ID correlation. Several controllers share the
// same event names, so every session subscription filters on its own ID
// before the handler sees the event.
type Adapter struct {
	bus *Bus
	log *zap.Logger
}

// NewAdapter wraps bus.
func NewAdapter(bus *Bus, log *zap.Logger) *Adapter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Adapter{bus: bus, log: log}
}

// Bus returns the underlying bus.
func (a *Adapter) Bus() *Bus {
	return a.bus
}

// On subscribes to raw events.
func (a *Adapter) On(name string, handler Handler) func() {
	return a.bus.On(name, handler)
}

// Emit publishes a raw event.
func (a *Adapter) Emit(name string, payload any) {
	a.bus.Emit(name, payload)
}

// OnSession subscribes fn to name, delivering only messages addressed to linkID.
func (a *Adapter) OnSession(name, linkID string, fn func(SessionMessage)) func() {
	return a.bus.On(name, func(event Event) {
		msg, ok := sessionMessage(event.Payload)
		if !ok {
			a.log.Warn("unexpected session payload", zap.String("event", name))
			return
		}
		if msg.ID != linkID {
			return
		}
		fn(msg)
	})
}

// EmitSession publishes a session message.
func (a *Adapter) EmitSession(name, linkID, data string) {
	a.bus.Emit(name, SessionMessage{ID: linkID, Data: data})
}

func sessionMessage(payload any) (SessionMessage, bool) {
	switch v := payload.(type) {
	case SessionMessage:
		return v, true
	case *SessionMessage:
		if v == nil {
			return SessionMessage{}, false
		}
		return *v, true
	default:
		return SessionMessage{}, false
	}
}

// Subscriptions collects unsubscribe functions so they can be released
// together. Close runs each exactly once; later Adds after Close run
// immediately.
type Subscriptions struct {
	mu       sync.Mutex
	cancels  []func()
	released bool
}

// Add records cancel.
func (s *Subscriptions) Add(cancel func()) {
	if cancel == nil {
		return
	}
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		cancel()
		return
	}
	s.cancels = append(s.cancels, cancel)
	s.mu.Unlock()
}

// Len returns the number of held subscriptions.
func (s *Subscriptions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancels)
}

// Close releases every held subscription.
func (s *Subscriptions) Close() {
	s.mu.Lock()
	cancels := s.cancels
	s.cancels = nil
	s.released = true
	s.mu.Unlock()

	for i := len(cancels) - 1; i >= 0; i-- {
		cancels[i]()
	}
}

// OnProgress subscribes fn to eventProgress payloads.
func (a *Adapter) OnProgress(fn func(payload any)) func() {
	return a.bus.On(EventProgress, func(event Event) {
		fn(event.Payload)
	})
}
