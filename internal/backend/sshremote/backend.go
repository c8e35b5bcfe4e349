// Package sshremote reaches remote hosts over SSH and moves files over SFTP.
//
// Clients are shared per user@host:port and reference counted by the links
// opened on them. Each link is one interactive shell session.
package sshremote

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/sftp"
	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"

	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

const (
	outputBufferSize = 32 * 1024
	outputQueueLen   = 64
	terminalType     = "xterm-256color"
	terminalSpeed    = 14400
)

// Options configures the backend.
type Options struct {
	DialTimeout time.Duration
	// KnownHosts enables host key checking against a known_hosts file. When
	// empty every host key is accepted.
	KnownHosts string
}

type link struct {
	id        string
	clientKey string
	client    *ssh.Client

	mu      sync.Mutex
	session *ssh.Session
	stdin   io.WriteCloser
	sftp    *sftp.Client
	started bool
	closed  bool

	output    chan []byte
	pumps     sync.WaitGroup
	subs      eventbus.Subscriptions
	closeOnce sync.Once
}

// Backend implements backend.Backend and backend.Transferer over SSH.
type Backend struct {
	bus      *eventbus.Adapter
	reporter *transfer.Reporter
	opts     Options
	log      *zap.Logger

	mu      sync.Mutex
	clients map[string]*clientEntry
	links   map[string]*link
}

// New creates an SSH backend.
func New(bus *eventbus.Adapter, reporter *transfer.Reporter, opts Options, log *zap.Logger) *Backend {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = DefaultDialTimeout
	}
	if reporter == nil {
		reporter = transfer.NewReporter(bus, 0, log)
	}
	return &Backend{
		bus:      bus,
		reporter: reporter,
		opts:     opts,
		log:      log.With(zap.String("backend", "ssh")),
		clients:  make(map[string]*clientEntry),
		links:    make(map[string]*link),
	}
}

// Connect authenticates (or reuses a client) and allocates a link.
func (b *Backend) Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error) {
	if err := info.Validate(); err != nil {
		return "", err
	}
	b.log.Debug("connecting", zap.String("host", info.Address()), zap.String("user", info.User))

	client, err := b.acquireClient(ctx, info)
	if err != nil {
		return "", err
	}

	l := &link{
		id:        uuid.NewString(),
		clientKey: clientKey(info),
		client:    client,
		output:    make(chan []byte, outputQueueLen),
	}
	b.mu.Lock()
	b.links[l.id] = l
	b.mu.Unlock()

	b.log.Info("link allocated", zap.String("link", l.id), zap.String("host", info.Address()))
	return l.id, nil
}

func (b *Backend) get(linkID string) (*link, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.links[linkID]
	return l, ok
}

// Start opens the shell with a pty of the given size.
func (b *Backend) Start(ctx context.Context, linkID string, cols, rows int) error {
	if !(model.Geometry{Cols: cols, Rows: rows}).Valid() {
		return model.ErrInvalidGeometry
	}
	l, ok := b.get(linkID)
	if !ok {
		return fmt.Errorf("start %s: %w", linkID, model.ErrSessionNotFound)
	}

	l.mu.Lock()
	if l.started {
		l.mu.Unlock()
		return fmt.Errorf("start %s: already started", linkID)
	}
	l.started = true
	l.mu.Unlock()

	session, err := l.client.NewSession()
	if err != nil {
		return fmt.Errorf("new session: %w", err)
	}
	modes := ssh.TerminalModes{
		ssh.ECHO:          1,
		ssh.TTY_OP_ISPEED: terminalSpeed,
		ssh.TTY_OP_OSPEED: terminalSpeed,
	}
	if err := session.RequestPty(terminalType, rows, cols, modes); err != nil {
		session.Close()
		return fmt.Errorf("request pty: %w", err)
	}
	stdout, err := session.StdoutPipe()
	if err != nil {
		session.Close()
		return err
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		session.Close()
		return err
	}
	stdin, err := session.StdinPipe()
	if err != nil {
		session.Close()
		return err
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		session.Close()
		return fmt.Errorf("start %s: %w", linkID, model.ErrSessionNotFound)
	}
	l.session = session
	l.stdin = stdin
	l.pumps.Add(2)
	go b.emitOutput(l)
	go b.pump(l, stdout, "stdout")
	go b.pump(l, stderr, "stderr")
	l.mu.Unlock()

	l.subs.Add(b.bus.OnSession(eventbus.EventSSHInput, linkID, func(msg eventbus.SessionMessage) {
		data, err := codec.Decode(msg.Data)
		if err != nil {
			b.log.Warn("dropping malformed input", zap.String("link", linkID), zap.Error(err))
			return
		}
		if _, err := stdin.Write(data); err != nil {
			b.log.Warn("write to stdin failed", zap.String("link", linkID), zap.Error(err))
		}
	}))

	if err := session.Shell(); err != nil {
		return fmt.Errorf("start shell: %w", err)
	}

	go func() {
		err := session.Wait()
		if err != nil {
			b.log.Debug("session ended", zap.String("link", linkID), zap.Error(err))
		} else {
			b.log.Info("session ended", zap.String("link", linkID))
		}
		b.closeLink(l)
	}()
	return nil
}

// pump copies one output stream into the ordered output queue.
func (b *Backend) pump(l *link, r io.Reader, name string) {
	defer l.pumps.Done()
	buf := make([]byte, outputBufferSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			l.output <- chunk
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				b.log.Debug("read "+name, zap.String("link", l.id), zap.Error(err))
			}
			return
		}
	}
}

// emitOutput publishes queued output in order, then announces the close once
// the queue is drained.
func (b *Backend) emitOutput(l *link) {
	for chunk := range l.output {
		b.bus.EmitSession(eventbus.EventSSHOutput, l.id, codec.Encode(chunk))
	}
	b.bus.EmitSession(eventbus.EventSSHClose, l.id, "")
}

// Resize sends a window-change request.
func (b *Backend) Resize(ctx context.Context, linkID string, cols, rows int) error {
	if !(model.Geometry{Cols: cols, Rows: rows}).Valid() {
		return model.ErrInvalidGeometry
	}
	l, ok := b.get(linkID)
	if !ok {
		return fmt.Errorf("resize %s: %w", linkID, model.ErrSessionNotFound)
	}
	l.mu.Lock()
	session := l.session
	l.mu.Unlock()
	if session == nil {
		return fmt.Errorf("resize %s: %w", linkID, model.ErrNotConnected)
	}
	return session.WindowChange(rows, cols)
}

// CloseByID terminates linkID. Unknown IDs are ignored.
func (b *Backend) CloseByID(ctx context.Context, linkID string) error {
	l, ok := b.get(linkID)
	if !ok {
		return nil
	}
	b.closeLink(l)
	return nil
}

func (b *Backend) closeLink(l *link) {
	l.closeOnce.Do(func() {
		b.mu.Lock()
		delete(b.links, l.id)
		b.mu.Unlock()

		l.subs.Close()

		l.mu.Lock()
		l.closed = true
		session, sftpClient := l.session, l.sftp
		l.session = nil
		l.sftp = nil
		l.mu.Unlock()

		if sftpClient != nil {
			sftpClient.Close()
		}
		if session != nil {
			session.Signal(ssh.SIGTERM)
			session.Close()
		}

		if session != nil {
			// Pumps end once the channel is closed; the emitter then drains
			// the queue and announces sshClose.
			go func() {
				l.pumps.Wait()
				close(l.output)
			}()
		} else {
			close(l.output)
			go b.emitOutput(l)
		}

		b.releaseClient(l.clientKey)
		b.log.Info("link closed", zap.String("link", l.id))
	})
}

// Links returns the number of open links.
func (b *Backend) Links() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.links)
}

// Clients returns the number of open SSH clients.
func (b *Backend) Clients() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.clients)
}

// Close closes every link and client.
func (b *Backend) Close() error {
	b.mu.Lock()
	links := make([]*link, 0, len(b.links))
	for _, l := range b.links {
		links = append(links, l)
	}
	b.mu.Unlock()

	for _, l := range links {
		b.closeLink(l)
	}
	return nil
}
