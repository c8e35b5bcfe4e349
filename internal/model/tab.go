package model

import "math"

// Tab is a snapshot of one UI-addressable slot.
type Tab struct {
	Index   string                `json:"index"`
	Name    string                `json:"name"`
	SSHInfo *ConnectionDescriptor `json:"sshInfo,omitempty"`
	Active  bool                  `json:"active"`
}

// Geometry is a terminal size in character cells.
type Geometry struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// Valid reports whether both dimensions are positive and fit the 16-bit
// fields of a pty window size.
func (g Geometry) Valid() bool {
	return g.Cols > 0 && g.Rows > 0 && g.Cols <= math.MaxUint16 && g.Rows <= math.MaxUint16
}

// TerminalHandle is the out-of-band surface of a live terminal, used by
// copy, paste and clear actions that do not go through the owning controller.
type TerminalHandle interface {
	// Snapshot returns a copy of the current scrollback.
	Snapshot() []byte

	// Clear discards the scrollback.
	Clear()

	// Paste sends data to the remote side as if typed.
	Paste(data []byte) error
}
