package terminal

import "github.com/remote-agent-terminal/tabmux/internal/model"

// handle is the entry a controller registers in the handle map for one link.
// It stays bound to that link: once the controller moves on, Paste fails.
type handle struct {
	c      *Controller
	linkID string
}

var _ model.TerminalHandle = (*handle)(nil)

func (h *handle) Snapshot() []byte {
	return h.c.scroll.Snapshot()
}

func (h *handle) Clear() {
	h.c.scroll.Clear()
}

func (h *handle) Paste(data []byte) error {
	return h.c.inputFor(h.linkID, data)
}
