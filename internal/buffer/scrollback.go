// Package buffer holds the bounded scrollback kept for each terminal tab.
package buffer

import (
	"sync"
)

// Scrollback is a thread-safe circular byte store that keeps the most recent
// output of a session, up to its capacity. Older bytes are overwritten once
// the store is full.
//
// Scrollback is a display concern: the controller still forwards every frame
// to live consumers in order; only the replay history is bounded.
type Scrollback struct {
	mu      sync.RWMutex
	buf     []byte
	start   int
	size    int
	written int64
}

// NewScrollback creates a Scrollback holding at most capacity bytes.
// Non-positive capacities default to 1.
func NewScrollback(capacity int) *Scrollback {
	if capacity <= 0 {
		capacity = 1
	}
	return &Scrollback{buf: make([]byte, capacity)}
}

// Write appends p, discarding the oldest bytes when needed. It implements
// io.Writer and never fails.
func (s *Scrollback) Write(p []byte) (int, error) {
	s.Append(p)
	return len(p), nil
}

// Append writes p and returns the stream offset just past it, i.e. the
// number of bytes ever written once p is counted.
func (s *Scrollback) Append(p []byte) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.appendLocked(p)
	return s.written
}

func (s *Scrollback) appendLocked(p []byte) {
	n := len(p)
	if n == 0 {
		return
	}
	s.written += int64(n)
	capacity := len(s.buf)

	if n >= capacity {
		copy(s.buf, p[n-capacity:])
		s.start = 0
		s.size = capacity
		return
	}

	end := (s.start + s.size) % capacity
	first := copy(s.buf[end:], p)
	copy(s.buf, p[first:])

	s.size += n
	if s.size > capacity {
		s.start = (s.start + s.size - capacity) % capacity
		s.size = capacity
	}
}

// Snapshot returns a copy of the retained bytes, oldest first. It returns nil
// when empty.
func (s *Scrollback) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Tail returns the retained bytes together with the stream offset just past
// the last of them. Output appended later starts at or after that offset.
func (s *Scrollback) Tail() ([]byte, int64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked(), s.written
}

func (s *Scrollback) snapshotLocked() []byte {
	if s.size == 0 {
		return nil
	}
	out := make([]byte, s.size)
	first := copy(out, s.buf[s.start:min(s.start+s.size, len(s.buf))])
	copy(out[first:], s.buf[:s.size-first])
	return out
}

// Clear drops the retained bytes. The total written counter is kept.
func (s *Scrollback) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.start = 0
	s.size = 0
}

// Len returns the number of retained bytes.
func (s *Scrollback) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Cap returns the capacity.
func (s *Scrollback) Cap() int {
	return len(s.buf)
}

// Written returns the number of bytes ever written, including discarded ones.
func (s *Scrollback) Written() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.written
}
