package registry

import (
	"sync"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

// Handles maps link IDs to live terminal handles. Each controller writes
// only its own entry and removes it exactly once on teardown.
type Handles struct {
	mu sync.RWMutex
	m  map[string]model.TerminalHandle
}

// NewHandles creates an empty map.
func NewHandles() *Handles {
	return &Handles{m: make(map[string]model.TerminalHandle)}
}

// Register associates h with linkID.
func (h *Handles) Register(linkID string, th model.TerminalHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.m[linkID] = th
}

// Unregister removes linkID.
func (h *Handles) Unregister(linkID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.m, linkID)
}

// Get returns the handle of linkID.
func (h *Handles) Get(linkID string) (model.TerminalHandle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	th, ok := h.m[linkID]
	return th, ok
}

// Len returns the number of registered handles.
func (h *Handles) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.m)
}
