package transfer

import (
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
)

// Tracker keeps the transfer records of every session.
type Tracker struct {
	mu       sync.RWMutex
	sessions map[string][]Record
	log      *zap.Logger
}

// NewTracker creates an empty Tracker.
func NewTracker(log *zap.Logger) *Tracker {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tracker{
		sessions: make(map[string][]Record),
		log:      log,
	}
}

// Upsert inserts rec or replaces the record with the same ID in place.
// A non-final update for a record that is already done is stale and is
// dropped. It reports whether rec was applied.
func (t *Tracker) Upsert(rec Record) bool {
	if rec.ID == "" {
		return false
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.sessions[rec.SessionID]
	for i := range list {
		if list[i].ID != rec.ID {
			continue
		}
		if list[i].Done && !rec.Done {
			t.log.Debug("stale progress dropped",
				zap.String("session", rec.SessionID),
				zap.String("transfer", rec.ID),
				zap.Float64("rate", rec.Rate))
			return false
		}
		list[i] = rec
		return true
	}
	t.sessions[rec.SessionID] = append(list, rec)
	return true
}

// Remove deletes one record. It reports whether the record existed.
func (t *Tracker) Remove(sessionID, id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	list := t.sessions[sessionID]
	for i := range list {
		if list[i].ID == id {
			list = append(list[:i:i], list[i+1:]...)
			if len(list) == 0 {
				delete(t.sessions, sessionID)
			} else {
				t.sessions[sessionID] = list
			}
			return true
		}
	}
	return false
}

// Clear drops every record of sessionID.
func (t *Tracker) Clear(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.sessions, sessionID)
}

// ListBySession returns a copy of the records of sessionID in insertion order.
func (t *Tracker) ListBySession(sessionID string) []Record {
	t.mu.RLock()
	defer t.mu.RUnlock()

	list := t.sessions[sessionID]
	out := make([]Record, len(list))
	copy(out, list)
	return out
}

// Find returns the record with the given transfer ID from any session.
func (t *Tracker) Find(id string) (Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for _, list := range t.sessions {
		for _, rec := range list {
			if rec.ID == id {
				return rec, true
			}
		}
	}
	return Record{}, false
}

// Sessions returns the IDs of sessions that have records, sorted.
func (t *Tracker) Sessions() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	ids := make([]string, 0, len(t.sessions))
	for id := range t.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Attach feeds eventProgress events from adapter into the tracker.
func (t *Tracker) Attach(adapter *eventbus.Adapter) func() {
	return adapter.OnProgress(func(payload any) {
		switch rec := payload.(type) {
		case Record:
			t.Upsert(rec)
		case *Record:
			if rec != nil {
				t.Upsert(*rec)
			}
		default:
			t.log.Warn("unexpected progress payload", zap.Any("payload", payload))
		}
	})
}
