// Package local is a loopback backend: every link is a shell on this host
// behind a PTY. It speaks the same bus contract as the SSH backend and is
// meant for development and tests.
package local

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/pty"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

// DefaultShell is used when Options.Shell is empty.
const DefaultShell = "/bin/sh"

// Options configures the backend.
type Options struct {
	Shell string
	Dir   string
}

type link struct {
	id        string
	info      model.ConnectionDescriptor
	started   bool
	closeOnce sync.Once
	subs      eventbus.Subscriptions
}

// Backend runs local shells for connection descriptors that point at this host.
type Backend struct {
	bus      *eventbus.Adapter
	pool     *pty.Pool
	reporter *transfer.Reporter
	opts     Options
	log      *zap.Logger

	mu    sync.Mutex
	links map[string]*link
}

// New creates a local backend.
func New(bus *eventbus.Adapter, reporter *transfer.Reporter, opts Options, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.Shell == "" {
		opts.Shell = DefaultShell
	}
	if reporter == nil {
		reporter = transfer.NewReporter(bus, 0, log)
	}
	return &Backend{
		bus:      bus,
		pool:     pty.NewPool(log),
		reporter: reporter,
		opts:     opts,
		log:      log.With(zap.String("backend", "local")),
		links:    make(map[string]*link),
	}
}

func isLocalHost(host string) bool {
	switch host {
	case "localhost", "127.0.0.1", "::1":
		return true
	}
	return false
}

// Connect allocates a link for a local descriptor. Credentials are not checked.
func (b *Backend) Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if !isLocalHost(info.Host) {
		return "", fmt.Errorf("%w: local backend only serves localhost, got %q", model.ErrInvalidConnection, info.Host)
	}
	if info.User == "" {
		return "", fmt.Errorf("%w: user is required", model.ErrInvalidConnection)
	}

	l := &link{id: uuid.NewString(), info: info}
	b.mu.Lock()
	b.links[l.id] = l
	b.mu.Unlock()

	b.log.Info("link allocated", zap.String("link", l.id), zap.String("user", info.User))
	return l.id, nil
}

func (b *Backend) get(linkID string) (*link, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[linkID]
	return l, ok
}

// Start spawns the shell. The process outlives ctx.
func (b *Backend) Start(ctx context.Context, linkID string, cols, rows int) error {
	if !(model.Geometry{Cols: cols, Rows: rows}).Valid() {
		return model.ErrInvalidGeometry
	}
	l, ok := b.get(linkID)
	if !ok {
		return fmt.Errorf("start %s: %w", linkID, model.ErrSessionNotFound)
	}

	b.mu.Lock()
	if l.started {
		b.mu.Unlock()
		return fmt.Errorf("start %s: already started", linkID)
	}
	l.started = true
	b.mu.Unlock()

	_, err := b.pool.Spawn(linkID, pty.SpawnOptions{
		Shell: b.opts.Shell,
		Dir:   b.opts.Dir,
		Rows:  uint16(rows),
		Cols:  uint16(cols),
		OnOutput: func(data []byte) {
			b.bus.EmitSession(eventbus.EventSSHOutput, linkID, codec.Encode(data))
		},
		OnExit: func(code int, err error) {
			b.log.Info("shell exited", zap.String("link", linkID), zap.Int("code", code), zap.Error(err))
			b.release(l)
		},
	})
	if err != nil {
		b.mu.Lock()
		l.started = false
		b.mu.Unlock()
		return err
	}

	l.subs.Add(b.bus.OnSession(eventbus.EventSSHInput, linkID, func(msg eventbus.SessionMessage) {
		data, err := codec.Decode(msg.Data)
		if err != nil {
			b.log.Warn("dropping malformed input", zap.String("link", linkID), zap.Error(err))
			return
		}
		if err := b.pool.Write(linkID, data); err != nil {
			b.log.Warn("write to shell failed", zap.String("link", linkID), zap.Error(err))
		}
	}))
	return nil
}

// Resize changes the PTY window size.
func (b *Backend) Resize(ctx context.Context, linkID string, cols, rows int) error {
	if !(model.Geometry{Cols: cols, Rows: rows}).Valid() {
		return model.ErrInvalidGeometry
	}
	if _, ok := b.get(linkID); !ok {
		return fmt.Errorf("resize %s: %w", linkID, model.ErrSessionNotFound)
	}
	return b.pool.Resize(linkID, uint16(rows), uint16(cols))
}

// CloseByID terminates the shell of linkID. Unknown IDs are ignored.
func (b *Backend) CloseByID(ctx context.Context, linkID string) error {
	l, ok := b.get(linkID)
	if !ok {
		return nil
	}
	err := b.pool.Terminate(linkID)
	b.release(l)
	return err
}

// release forgets l and announces sshClose exactly once.
func (b *Backend) release(l *link) {
	l.closeOnce.Do(func() {
		b.mu.Lock()
		delete(b.links, l.id)
		b.mu.Unlock()

		l.subs.Close()
		b.bus.EmitSession(eventbus.EventSSHClose, l.id, "")
		b.log.Info("link closed", zap.String("link", l.id))
	})
}

// Links returns the number of open links.
func (b *Backend) Links() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

// Close terminates every shell.
func (b *Backend) Close() error {
	b.mu.Lock()
	links := make([]*link, 0, len(b.links))
	for _, l := range b.links {
		links = append(links, l)
	}
	b.mu.Unlock()

	for _, l := range links {
		b.release(l)
	}
	return b.pool.Close()
}
