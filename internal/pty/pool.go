package pty

import (
	"fmt"
	"io"
	"os"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

const (
	readBufferSize = 4096

	// terminateGrace is how long Terminate waits after SIGTERM before killing.
	terminateGrace = 2 * time.Second
)

// SpawnOptions describes a shell to run for one link.
type SpawnOptions struct {
	// Shell is a command line, split on spaces with basic quoting.
	Shell string
	Env   []string
	Dir   string
	Rows  uint16
	Cols  uint16

	// OnOutput receives every chunk read from the PTY, in order.
	OnOutput func(data []byte)
	// OnExit runs once after the process exits and its output is drained.
	OnExit func(exitCode int, err error)
}

// Session is one shell running behind a PTY.
type Session struct {
	ID      string
	process *Process

	onOutput func([]byte)
	onExit   func(int, error)

	mu       sync.Mutex
	closed   bool
	readDone chan struct{}
	exited   chan struct{}
}

// Pool tracks running sessions by link ID.
type Pool struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	log      *zap.Logger
}

// NewPool creates an empty Pool.
func NewPool(log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pool{
		sessions: make(map[string]*Session),
		log:      log,
	}
}

// Spawn starts a shell for id.
func (p *Pool) Spawn(id string, opts SpawnOptions) (*Session, error) {
	parts := SplitCommand(opts.Shell)
	if len(parts) == 0 {
		return nil, fmt.Errorf("spawn %s: empty shell command", id)
	}

	p.mu.Lock()
	if _, exists := p.sessions[id]; exists {
		p.mu.Unlock()
		return nil, fmt.Errorf("spawn %s: already running", id)
	}
	p.mu.Unlock()

	env := opts.Env
	if env == nil {
		env = append(os.Environ(), "TERM=xterm-256color")
	}
	process, err := Start(StartOptions{
		Command: parts[0],
		Args:    parts[1:],
		Env:     env,
		Dir:     opts.Dir,
		Rows:    opts.Rows,
		Cols:    opts.Cols,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn %s: %w", id, err)
	}

	s := &Session{
		ID:       id,
		process:  process,
		onOutput: opts.OnOutput,
		onExit:   opts.OnExit,
		readDone: make(chan struct{}),
		exited:   make(chan struct{}),
	}

	p.mu.Lock()
	p.sessions[id] = s
	p.mu.Unlock()

	p.log.Debug("pty spawned", zap.String("link", id), zap.Int("pid", process.PID()))

	go s.readLoop()
	go s.waitLoop(p)
	return s, nil
}

// Get returns the session of id.
func (p *Pool) Get(id string) (*Session, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	s, ok := p.sessions[id]
	return s, ok
}

// Write sends input to the session of id.
func (p *Pool) Write(id string, data []byte) error {
	s, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("write %s: session not running", id)
	}
	return s.Write(data)
}

// Resize changes the window size of the session of id.
func (p *Pool) Resize(id string, rows, cols uint16) error {
	s, ok := p.Get(id)
	if !ok {
		return fmt.Errorf("resize %s: session not running", id)
	}
	return s.Resize(rows, cols)
}

// Terminate stops the session of id. Unknown IDs are ignored.
func (p *Pool) Terminate(id string) error {
	s, ok := p.Get(id)
	if !ok {
		return nil
	}
	return s.Terminate()
}

// Len returns the number of running sessions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.sessions)
}

// Close terminates every session.
func (p *Pool) Close() error {
	p.mu.RLock()
	sessions := make([]*Session, 0, len(p.sessions))
	for _, s := range p.sessions {
		sessions = append(sessions, s)
	}
	p.mu.RUnlock()

	var firstErr error
	for _, s := range sessions {
		if err := s.Terminate(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Pool) remove(id string) {
	p.mu.Lock()
	delete(p.sessions, id)
	p.mu.Unlock()
}

func (s *Session) readLoop() {
	defer close(s.readDone)
	buf := make([]byte, readBufferSize)
	for {
		n, err := s.process.PTY.Read(buf)
		if n > 0 && s.onOutput != nil {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.onOutput(chunk)
		}
		if err != nil {
			return
		}
	}
}

func (s *Session) waitLoop(p *Pool) {
	code, err := s.process.Wait()
	close(s.exited)

	// The slave side is gone once the child exits, so the reader hits EIO
	// shortly after; wait for it so no output trails the exit callback.
	select {
	case <-s.readDone:
	case <-time.After(terminateGrace):
	}
	s.closePTY()
	p.remove(s.ID)

	if s.onExit != nil {
		s.onExit(code, err)
	}
}

// Write sends input to the shell.
func (s *Session) Write(data []byte) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	if _, err := s.process.PTY.Write(data); err != nil {
		return fmt.Errorf("write pty: %w", err)
	}
	return nil
}

// Resize sets the window size.
func (s *Session) Resize(rows, cols uint16) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return io.ErrClosedPipe
	}
	return s.process.PTY.Resize(rows, cols)
}

// Terminate sends SIGTERM, then kills the shell if it has not exited within
// the grace period.
func (s *Session) Terminate() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	if err := s.process.Signal(syscall.SIGTERM); err != nil {
		return s.process.Kill()
	}
	select {
	case <-s.exited:
		return nil
	case <-time.After(terminateGrace):
		return s.process.Kill()
	}
}

// Exited is closed when the shell has exited.
func (s *Session) Exited() <-chan struct{} {
	return s.exited
}

// PID returns the shell process ID.
func (s *Session) PID() int {
	return s.process.PID()
}

func (s *Session) closePTY() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.process.PTY.Close()
}

// SplitCommand splits a command line into words, honouring single and
// double quotes.
func SplitCommand(cmd string) []string {
	var parts []string
	var current []rune
	var quote rune
	inWord := false

	for _, r := range cmd {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				current = append(current, r)
			}
		case r == '"' || r == '\'':
			quote = r
			inWord = true
		case r == ' ' || r == '\t':
			if inWord {
				parts = append(parts, string(current))
				current = nil
				inWord = false
			}
		default:
			current = append(current, r)
			inWord = true
		}
	}
	if inWord {
		parts = append(parts, string(current))
	}
	return parts
}
