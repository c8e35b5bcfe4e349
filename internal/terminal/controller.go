// Package terminal implements the per-tab terminal session controller.
//
// A Controller owns at most one live link at a time. It connects through a
// backend.Backend, correlates bus events by link ID, keeps the scrollback,
// debounces geometry changes and tears everything down exactly once.
package terminal

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/backend"
	"github.com/remote-agent-terminal/tabmux/internal/buffer"
	"github.com/remote-agent-terminal/tabmux/internal/codec"
	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/recorder"
)

const (
	// DefaultScrollbackBytes bounds the replay history of one tab.
	DefaultScrollbackBytes = 256 * 1024

	closedNotice = "\r\n[session closed]\r\n"

	teardownTimeout = 5 * time.Second
)

var defaultGeometry = model.Geometry{Cols: 80, Rows: 24}

// errSuperseded is returned by a connect attempt that lost to a teardown or
// a newer attempt.
var errSuperseded = fmt.Errorf("connect attempt superseded: %w", context.Canceled)

// TabBinder is the registry side a controller reports connection metadata to.
type TabBinder interface {
	BindConnection(index string, info model.ConnectionDescriptor) error
	ConnectionInfo(index string) (model.ConnectionDescriptor, bool)
	RenameTab(index, name string) error
}

// HandleMap is the authoritative link ID to terminal handle association.
type HandleMap interface {
	Register(linkID string, h model.TerminalHandle)
	Unregister(linkID string)
}

// LinkEvent reports a link transition to the owner of the controller.
type LinkEvent struct {
	Kind   LinkEventKind
	LinkID string
	Info   model.ConnectionDescriptor
	Err    error
}

// Options configures a Controller.
type Options struct {
	TabIndex string
	Backend  backend.Backend
	Bus      *eventbus.Adapter
	Binder   TabBinder
	Handles  HandleMap
	Logger   *zap.Logger

	// Geometry used for Start until the surface reports one.
	Geometry        model.Geometry
	ScrollbackBytes int
	ResizeDebounce  time.Duration

	// RecordDir enables asciinema recordings when set.
	RecordDir string

	// OnOutput receives each output chunk and the stream offset just past
	// it, as counted by the scrollback.
	OnOutput      func(data []byte, end int64)
	OnStateChange func(state State)
	OnLinkEvent   func(ev LinkEvent)
}

type attempt struct {
	ctx    context.Context
	cancel context.CancelFunc
	// err is set under Controller.mu when the remote side ended the link
	// before the attempt completed.
	err error
}

// Controller drives the terminal session of one tab.
type Controller struct {
	tabIndex  string
	backend   backend.Backend
	bus       *eventbus.Adapter
	binder    TabBinder
	handles   HandleMap
	log       *zap.Logger
	recordDir string

	onOutput      func([]byte, int64)
	onStateChange func(State)
	onLinkEvent   func(LinkEvent)

	scroll  *buffer.Scrollback
	resizer *debouncer

	mu       sync.Mutex
	state    State
	linkID   string
	info     model.ConnectionDescriptor
	attempt  *attempt
	subs     *eventbus.Subscriptions
	handle   *handle
	rec      *recorder.Recorder
	geometry model.Geometry
	lastErr  error
}

// New creates an idle Controller.
func New(opts Options) *Controller {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	geometry := opts.Geometry
	if !geometry.Valid() {
		geometry = defaultGeometry
	}
	scrollback := opts.ScrollbackBytes
	if scrollback <= 0 {
		scrollback = DefaultScrollbackBytes
	}

	return &Controller{
		tabIndex:      opts.TabIndex,
		backend:       opts.Backend,
		bus:           opts.Bus,
		binder:        opts.Binder,
		handles:       opts.Handles,
		log:           log.With(zap.String("tab", opts.TabIndex)),
		recordDir:     opts.RecordDir,
		onOutput:      opts.OnOutput,
		onStateChange: opts.OnStateChange,
		onLinkEvent:   opts.OnLinkEvent,
		scroll:        buffer.NewScrollback(scrollback),
		resizer:       newDebouncer(opts.ResizeDebounce),
		state:         StateIdle,
		geometry:      geometry,
	}
}

// TabIndex returns the index of the owning tab.
func (c *Controller) TabIndex() string {
	return c.tabIndex
}

// State returns the current lifecycle stage.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LinkID returns the current link ID, or "" when there is none.
func (c *Controller) LinkID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linkID
}

// Geometry returns the last geometry reported by the surface.
func (c *Controller) Geometry() model.Geometry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.geometry
}

// LastError returns the error of the most recent failed connect.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Output returns a copy of the scrollback.
func (c *Controller) Output() []byte {
	return c.scroll.Snapshot()
}

// Tail returns the scrollback and the stream offset just past it. Chunks
// passed to OnOutput afterwards end beyond that offset.
func (c *Controller) Tail() ([]byte, int64) {
	return c.scroll.Tail()
}

// Clear discards the scrollback.
func (c *Controller) Clear() {
	c.scroll.Clear()
}

// Connect opens a link for info. It is allowed only from the idle state.
func (c *Controller) Connect(ctx context.Context, info model.ConnectionDescriptor) error {
	return c.connect(ctx, info, StateIdle)
}

func (c *Controller) connect(ctx context.Context, info model.ConnectionDescriptor, from State) error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return model.ErrControllerClosed
	}
	if c.state != from {
		state := c.state
		c.mu.Unlock()
		return fmt.Errorf("connect in state %s: %w", state, model.ErrBusy)
	}
	a := &attempt{}
	a.ctx, a.cancel = context.WithCancel(ctx)
	defer a.cancel()
	c.attempt = a
	c.state = StateConnecting
	c.info = info
	c.lastErr = nil
	geometry := c.geometry
	c.mu.Unlock()
	c.notifyState(StateConnecting)

	log := c.log.With(zap.String("host", info.Address()), zap.String("user", info.User))
	log.Info("connecting")

	linkID, err := c.backend.Connect(a.ctx, info)
	if err != nil {
		return c.failConnect(a, "", nil, info, fmt.Errorf("connect %s: %w", info.Address(), err))
	}
	log = log.With(zap.String("link", linkID))

	subs := &eventbus.Subscriptions{}
	c.mu.Lock()
	if c.attempt != a {
		err := supersededErr(a)
		c.mu.Unlock()
		c.abandon(linkID, subs)
		return err
	}
	c.linkID = linkID
	c.subs = subs
	c.mu.Unlock()

	subs.Add(c.bus.OnSession(eventbus.EventSSHOutput, linkID, c.handleOutput))
	subs.Add(c.bus.OnSession(eventbus.EventSSHClose, linkID, c.handleRemoteClose))

	if err := c.backend.Start(a.ctx, linkID, geometry.Cols, geometry.Rows); err != nil {
		return c.failConnect(a, linkID, subs, info, fmt.Errorf("start shell: %w", err))
	}

	rec := c.openRecorder(linkID, geometry, info)

	c.mu.Lock()
	if c.attempt != a {
		err := a.err
		c.mu.Unlock()
		if rec != nil {
			rec.Close()
		}
		if err != nil {
			// The remote close already released the link.
			return err
		}
		c.abandon(linkID, subs)
		return errSuperseded
	}
	c.attempt = nil
	c.state = StateConnected
	c.handle = &handle{c: c, linkID: linkID}
	c.rec = rec
	if c.handles != nil {
		c.handles.Register(linkID, c.handle)
	}
	c.mu.Unlock()

	if c.binder != nil {
		if err := c.binder.BindConnection(c.tabIndex, info); err != nil {
			log.Warn("bind connection to tab failed", zap.Error(err))
		}
		if err := c.binder.RenameTab(c.tabIndex, info.DisplayName()); err != nil {
			log.Warn("rename tab failed", zap.Error(err))
		}
	}

	log.Info("connected", zap.Int("cols", geometry.Cols), zap.Int("rows", geometry.Rows))
	c.notifyState(StateConnected)
	c.notifyLink(LinkEvent{Kind: LinkUp, LinkID: linkID, Info: info})
	return nil
}

// failConnect rolls back a failed attempt. Nothing acquired survives it.
func (c *Controller) failConnect(a *attempt, linkID string, subs *eventbus.Subscriptions, info model.ConnectionDescriptor, err error) error {
	c.mu.Lock()
	current := c.attempt == a
	if current {
		c.attempt = nil
		c.state = StateIdle
		c.linkID = ""
		c.subs = nil
		c.lastErr = err
	}
	lost := supersededErr(a)
	c.mu.Unlock()

	if subs != nil {
		subs.Close()
	}
	if linkID != "" {
		c.closeLink(linkID)
	}
	if !current {
		return lost
	}

	c.log.Warn("connect failed", zap.String("link", linkID), zap.Error(err))
	c.notifyState(StateIdle)
	c.notifyLink(LinkEvent{Kind: LinkFailed, LinkID: linkID, Info: info, Err: err})
	return err
}

// supersededErr is what a connect attempt that is no longer current reports.
// The caller holds c.mu.
func supersededErr(a *attempt) error {
	if a.err != nil {
		return a.err
	}
	return errSuperseded
}

// abandon releases what a superseded attempt acquired.
func (c *Controller) abandon(linkID string, subs *eventbus.Subscriptions) {
	subs.Close()
	c.closeLink(linkID)
	c.log.Debug("connect attempt abandoned", zap.String("link", linkID))
}

func (c *Controller) closeLink(linkID string) {
	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.backend.CloseByID(ctx, linkID); err != nil {
		c.log.Warn("close link failed", zap.String("link", linkID), zap.Error(err))
	}
}

func (c *Controller) openRecorder(linkID string, g model.Geometry, info model.ConnectionDescriptor) *recorder.Recorder {
	if c.recordDir == "" {
		return nil
	}
	path := filepath.Join(c.recordDir, fmt.Sprintf("%s-%s.cast", c.tabIndex, linkID))
	rec, err := recorder.Create(path, g.Cols, g.Rows, info.DisplayName())
	if err != nil {
		c.log.Warn("recording disabled", zap.String("path", path), zap.Error(err))
		return nil
	}
	return rec
}

// Reload replaces the current link with a new one for the same connection.
// It does nothing and returns false unless the controller is connected.
func (c *Controller) Reload(ctx context.Context) (bool, error) {
	c.mu.Lock()
	if c.state != StateConnected {
		c.mu.Unlock()
		return false, nil
	}
	c.state = StateReloading
	linkID, subs, h, rec, info := c.detachLocked()
	c.mu.Unlock()

	c.log.Info("reloading", zap.String("link", linkID))
	c.notifyState(StateReloading)
	c.release(linkID, subs, h, rec, true)
	c.scroll.Clear()
	c.notifyLink(LinkEvent{Kind: LinkDown, LinkID: linkID, Info: info})

	if c.binder != nil {
		if bound, ok := c.binder.ConnectionInfo(c.tabIndex); ok {
			info = bound
		}
	}
	if err := c.connect(ctx, info, StateReloading); err != nil {
		if c.State() == StateClosed {
			return false, model.ErrControllerClosed
		}
		return true, err
	}
	return true, nil
}

// Close tears the controller down. It is safe to call more than once.
func (c *Controller) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	wasLinked := c.state == StateConnected || c.state == StateConnecting
	c.state = StateClosed
	if c.attempt != nil {
		c.attempt.cancel()
		c.attempt = nil
	}
	linkID, subs, h, rec, info := c.detachLocked()
	c.mu.Unlock()

	c.release(linkID, subs, h, rec, true)
	c.log.Info("controller closed", zap.String("link", linkID))
	c.notifyState(StateClosed)
	if wasLinked && linkID != "" {
		c.notifyLink(LinkEvent{Kind: LinkDown, LinkID: linkID, Info: info})
	}
	return nil
}

// detachLocked clears the link fields and returns what must be released.
// The pending resize is cancelled here so no timer fires for a dead link.
func (c *Controller) detachLocked() (string, *eventbus.Subscriptions, *handle, *recorder.Recorder, model.ConnectionDescriptor) {
	c.resizer.cancel()
	linkID, subs, h, rec, info := c.linkID, c.subs, c.handle, c.rec, c.info
	c.linkID = ""
	c.subs = nil
	c.handle = nil
	c.rec = nil
	return linkID, subs, h, rec, info
}

// release runs teardown in order: unsubscribe, close the link, then drop the
// handle and the recorder.
func (c *Controller) release(linkID string, subs *eventbus.Subscriptions, h *handle, rec *recorder.Recorder, closeLink bool) {
	if subs != nil {
		subs.Close()
	}
	if closeLink && linkID != "" {
		c.closeLink(linkID)
	}
	if h != nil && c.handles != nil {
		c.handles.Unregister(h.linkID)
	}
	if rec != nil {
		if err := rec.Close(); err != nil {
			c.log.Warn("close recording failed", zap.Error(err))
		}
	}
}

func (c *Controller) handleOutput(msg eventbus.SessionMessage) {
	data, ok := codec.DecodeFrame(c.log, msg.Data)
	if !ok || len(data) == 0 {
		return
	}

	c.mu.Lock()
	if c.linkID != msg.ID || (c.state != StateConnected && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	end := c.scroll.Append(data)
	rec := c.rec
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Output(data); err != nil {
			c.log.Warn("record output failed", zap.Error(err))
		}
	}
	if c.onOutput != nil {
		c.onOutput(data, end)
	}
}

func (c *Controller) handleRemoteClose(msg eventbus.SessionMessage) {
	c.mu.Lock()
	if c.linkID != msg.ID || (c.state != StateConnected && c.state != StateConnecting) {
		c.mu.Unlock()
		return
	}
	var connectErr error
	if a := c.attempt; a != nil {
		connectErr = fmt.Errorf("remote closed during connect: %w", model.ErrNotConnected)
		a.err = connectErr
		a.cancel()
		c.attempt = nil
		c.lastErr = connectErr
	}
	c.state = StateIdle
	linkID, subs, h, rec, info := c.detachLocked()
	end := c.scroll.Append([]byte(closedNotice))
	c.mu.Unlock()

	c.log.Info("remote closed session", zap.String("link", linkID), zap.Bool("connecting", connectErr != nil))
	c.release(linkID, subs, h, rec, false)
	if c.onOutput != nil {
		c.onOutput([]byte(closedNotice), end)
	}
	c.notifyState(StateIdle)
	if connectErr != nil {
		c.notifyLink(LinkEvent{Kind: LinkFailed, LinkID: linkID, Info: info, Err: connectErr})
		return
	}
	c.notifyLink(LinkEvent{Kind: LinkDown, LinkID: linkID, Info: info})
}

// Input sends data to the remote side.
func (c *Controller) Input(data []byte) error {
	c.mu.Lock()
	linkID := c.linkID
	c.mu.Unlock()
	return c.inputFor(linkID, data)
}

func (c *Controller) inputFor(linkID string, data []byte) error {
	c.mu.Lock()
	if c.state != StateConnected || linkID == "" || c.linkID != linkID {
		c.mu.Unlock()
		return model.ErrNotConnected
	}
	rec := c.rec
	c.mu.Unlock()

	if rec != nil {
		if err := rec.Input(data); err != nil {
			c.log.Warn("record input failed", zap.Error(err))
		}
	}
	c.bus.EmitSession(eventbus.EventSSHInput, linkID, codec.Encode(data))
	return nil
}

// ObserveGeometry records the surface geometry. While connected the new size
// reaches the backend after the quiet period; a newer geometry replaces a
// pending one.
func (c *Controller) ObserveGeometry(g model.Geometry) error {
	if !g.Valid() {
		return model.ErrInvalidGeometry
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.geometry = g
	if c.state != StateConnected {
		return nil
	}
	linkID := c.linkID
	c.resizer.schedule(func() {
		c.applyResize(linkID, g)
	})
	return nil
}

// ResizePending reports whether a geometry change is waiting for the quiet period.
func (c *Controller) ResizePending() bool {
	return c.resizer.pending()
}

func (c *Controller) applyResize(linkID string, g model.Geometry) {
	c.mu.Lock()
	if c.state != StateConnected || c.linkID != linkID {
		c.mu.Unlock()
		return
	}
	rec := c.rec
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), teardownTimeout)
	defer cancel()
	if err := c.backend.Resize(ctx, linkID, g.Cols, g.Rows); err != nil {
		c.log.Warn("resize failed", zap.String("link", linkID), zap.Error(err))
		return
	}
	if rec != nil {
		rec.Resize(g.Cols, g.Rows)
	}
	c.log.Debug("resized", zap.String("link", linkID), zap.Int("cols", g.Cols), zap.Int("rows", g.Rows))
}

func (c *Controller) notifyState(s State) {
	if c.onStateChange != nil {
		c.onStateChange(s)
	}
}

func (c *Controller) notifyLink(ev LinkEvent) {
	if c.onLinkEvent != nil {
		c.onLinkEvent(ev)
	}
}
