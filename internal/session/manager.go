// Package session orchestrates tabs, their terminal controllers, transfer
// records and the session history. It is the layer the HTTP API talks to.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/backend"
	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/registry"
	"github.com/remote-agent-terminal/tabmux/internal/repository"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

const historyTimeout = 5 * time.Second

// ErrManagerClosed is returned after Close.
var ErrManagerClosed = errors.New("session manager is closed")

// Observer receives terminal activity per tab.
type Observer interface {
	// TabOutput receives an output chunk and the scrollback offset just
	// past it.
	TabOutput(index string, data []byte, end int64)
	TabState(index string, state terminal.State)
	TabClosed(index string)
}

// Config holds configuration for the session manager.
type Config struct {
	// BackendName is stored in the session history.
	BackendName     string
	Geometry        model.Geometry
	ScrollbackBytes int
	ResizeDebounce  time.Duration
	RecordDir       string
}

// CreateResult is the outcome of creating or duplicating a tab. The tab is
// created even when the automatic connect fails.
type CreateResult struct {
	Tab        model.Tab
	ConnectErr error
}

// TransferRequest starts an upload or a download on a tab's live link.
type TransferRequest struct {
	Type       string `json:"type"`
	LocalPath  string `json:"localPath"`
	RemotePath string `json:"remotePath"`
}

// Manager manages tabs and their terminal sessions.
type Manager struct {
	registry *registry.Registry
	backend  backend.Backend
	bus      *eventbus.Adapter
	tracker  *transfer.Tracker
	repo     *repository.SessionRepository
	cfg      Config
	log      *zap.Logger

	detachTracker func()

	mu          sync.RWMutex
	controllers map[string]*terminal.Controller
	links       map[string][]string
	closed      bool

	obsMu    sync.RWMutex
	observer Observer
}

// NewManager creates a manager and mounts a controller for every tab already
// in reg. repo may be nil to disable history.
func NewManager(reg *registry.Registry, be backend.Backend, bus *eventbus.Adapter, repo *repository.SessionRepository, cfg Config, log *zap.Logger) *Manager {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.BackendName == "" {
		cfg.BackendName = "ssh"
	}

	m := &Manager{
		registry:    reg,
		backend:     be,
		bus:         bus,
		tracker:     transfer.NewTracker(log),
		repo:        repo,
		cfg:         cfg,
		log:         log,
		controllers: make(map[string]*terminal.Controller),
		links:       make(map[string][]string),
	}
	m.detachTracker = m.tracker.Attach(bus)

	m.mu.Lock()
	m.syncLocked()
	m.mu.Unlock()
	return m
}

// SetObserver sets the receiver of terminal activity. nil detaches.
func (m *Manager) SetObserver(o Observer) {
	m.obsMu.Lock()
	defer m.obsMu.Unlock()
	m.observer = o
}

func (m *Manager) currentObserver() Observer {
	m.obsMu.RLock()
	defer m.obsMu.RUnlock()
	return m.observer
}

// Registry returns the tab registry.
func (m *Manager) Registry() *registry.Registry {
	return m.registry
}

// Tracker returns the transfer tracker.
func (m *Manager) Tracker() *transfer.Tracker {
	return m.tracker
}

// syncLocked mounts a controller for every registry tab without one.
func (m *Manager) syncLocked() {
	for _, tab := range m.registry.List() {
		if _, ok := m.controllers[tab.Index]; !ok {
			m.mountLocked(tab.Index)
		}
	}
}

func (m *Manager) mountLocked(index string) *terminal.Controller {
	ctrl := terminal.New(terminal.Options{
		TabIndex:        index,
		Backend:         m.backend,
		Bus:             m.bus,
		Binder:          m.registry,
		Handles:         m.registry.Handles(),
		Logger:          m.log,
		Geometry:        m.cfg.Geometry,
		ScrollbackBytes: m.cfg.ScrollbackBytes,
		ResizeDebounce:  m.cfg.ResizeDebounce,
		RecordDir:       m.cfg.RecordDir,
		OnOutput: func(data []byte, end int64) {
			if o := m.currentObserver(); o != nil {
				o.TabOutput(index, data, end)
			}
		},
		OnStateChange: func(state terminal.State) {
			if o := m.currentObserver(); o != nil {
				o.TabState(index, state)
			}
		},
		OnLinkEvent: func(ev terminal.LinkEvent) {
			m.recordLink(index, ev)
		},
	})
	m.controllers[index] = ctrl
	m.registry.SetReloader(index, ctrl.Reload)
	return ctrl
}

// Controller returns the controller of a tab.
func (m *Manager) Controller(index string) (*terminal.Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil, ErrManagerClosed
	}
	ctrl, ok := m.controllers[index]
	if !ok {
		return nil, fmt.Errorf("tab %s: %w", index, model.ErrTabNotFound)
	}
	return ctrl, nil
}

// Tabs returns all tabs in order and the active index.
func (m *Manager) Tabs() ([]model.Tab, string) {
	return m.registry.List(), m.registry.Active()
}

// CreateTab appends a tab and selects it. When info is given the tab
// connects right away.
func (m *Manager) CreateTab(ctx context.Context, name string, info *model.ConnectionDescriptor) (*CreateResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	index := m.registry.CreateTab(name, info)
	ctrl := m.mountLocked(index)
	m.mu.Unlock()

	m.log.Info("tab created", zap.String("tab", index))
	return m.autoConnect(ctx, ctrl, index, info)
}

// DuplicateTab opens a new tab with a copy of index's connection info and
// connects it.
func (m *Manager) DuplicateTab(ctx context.Context, index string) (*CreateResult, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	newIndex, err := m.registry.DuplicateTab(index)
	if err != nil {
		m.mu.Unlock()
		return nil, err
	}
	ctrl := m.mountLocked(newIndex)
	m.mu.Unlock()

	var info *model.ConnectionDescriptor
	if bound, ok := m.registry.ConnectionInfo(newIndex); ok {
		info = &bound
	}
	m.log.Info("tab duplicated", zap.String("from", index), zap.String("tab", newIndex))
	return m.autoConnect(ctx, ctrl, newIndex, info)
}

func (m *Manager) autoConnect(ctx context.Context, ctrl *terminal.Controller, index string, info *model.ConnectionDescriptor) (*CreateResult, error) {
	res := &CreateResult{}
	if info != nil {
		res.ConnectErr = ctrl.Connect(ctx, *info)
	}
	tab, err := m.registry.Get(index)
	if err != nil {
		// Closed concurrently.
		return nil, err
	}
	res.Tab = tab
	return res, nil
}

// CloseTab tears the tab's session down, drops its transfer records and
// returns the tab that is active afterwards.
func (m *Manager) CloseTab(index string) (string, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrManagerClosed
	}
	ctrl, ok := m.controllers[index]
	if !ok {
		m.mu.Unlock()
		return "", fmt.Errorf("close %s: %w", index, model.ErrTabNotFound)
	}
	delete(m.controllers, index)
	links := m.links[index]
	delete(m.links, index)
	m.mu.Unlock()

	ctrl.Close()

	active, err := m.registry.CloseTab(index)
	if err != nil {
		return "", err
	}
	for _, linkID := range links {
		m.tracker.Clear(linkID)
	}

	m.mu.Lock()
	if !m.closed {
		m.syncLocked()
	}
	m.mu.Unlock()

	if o := m.currentObserver(); o != nil {
		o.TabClosed(index)
	}
	m.log.Info("tab closed", zap.String("tab", index), zap.String("active", active))
	return active, nil
}

// RenameTab sets the display name of a tab.
func (m *Manager) RenameTab(index, name string) error {
	return m.registry.RenameTab(index, name)
}

// SetActive selects a tab.
func (m *Manager) SetActive(index string) error {
	return m.registry.SetActive(index)
}

// Connect opens a session on an idle tab.
func (m *Manager) Connect(ctx context.Context, index string, info model.ConnectionDescriptor) error {
	ctrl, err := m.Controller(index)
	if err != nil {
		return err
	}
	return ctrl.Connect(ctx, info)
}

// ReloadTab reconnects a connected tab. It reports whether a reload ran.
func (m *Manager) ReloadTab(ctx context.Context, index string) (bool, error) {
	if _, err := m.Controller(index); err != nil {
		return false, err
	}
	return m.registry.ReloadTab(ctx, index)
}

// Resize reports the surface geometry of a tab.
func (m *Manager) Resize(index string, g model.Geometry) error {
	ctrl, err := m.Controller(index)
	if err != nil {
		return err
	}
	return ctrl.ObserveGeometry(g)
}

// Input sends keystrokes to a tab's session.
func (m *Manager) Input(index string, data []byte) error {
	ctrl, err := m.Controller(index)
	if err != nil {
		return err
	}
	return ctrl.Input(data)
}

// Output returns a copy of a tab's scrollback.
func (m *Manager) Output(index string) ([]byte, error) {
	ctrl, err := m.Controller(index)
	if err != nil {
		return nil, err
	}
	return ctrl.Output(), nil
}

// Scrollback returns a tab's scrollback and the offset just past it, the
// same offset scale TabOutput reports.
func (m *Manager) Scrollback(index string) ([]byte, int64, error) {
	ctrl, err := m.Controller(index)
	if err != nil {
		return nil, 0, err
	}
	data, end := ctrl.Tail()
	return data, end, nil
}

// State returns the state of a tab's controller.
func (m *Manager) State(index string) (terminal.State, error) {
	ctrl, err := m.Controller(index)
	if err != nil {
		return terminal.StateClosed, err
	}
	return ctrl.State(), nil
}

// Handle returns the terminal handle registered for a live link.
func (m *Manager) Handle(linkID string) (model.TerminalHandle, bool) {
	return m.registry.Handles().Get(linkID)
}

func (m *Manager) tabLinks(index string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if _, ok := m.controllers[index]; !ok {
		return nil, fmt.Errorf("tab %s: %w", index, model.ErrTabNotFound)
	}
	return append([]string(nil), m.links[index]...), nil
}

// Transfers returns the transfer records of every link the tab has had,
// oldest link first.
func (m *Manager) Transfers(index string) ([]transfer.Record, error) {
	links, err := m.tabLinks(index)
	if err != nil {
		return nil, err
	}
	records := []transfer.Record{}
	for _, linkID := range links {
		records = append(records, m.tracker.ListBySession(linkID)...)
	}
	return records, nil
}

// RemoveTransfer deletes one record of a tab.
func (m *Manager) RemoveTransfer(index, transferID string) error {
	links, err := m.tabLinks(index)
	if err != nil {
		return err
	}
	for _, linkID := range links {
		if m.tracker.Remove(linkID, transferID) {
			return nil
		}
	}
	return fmt.Errorf("remove %s: %w", transferID, model.ErrTransferNotFound)
}

// ClearTransfers drops all records of a tab.
func (m *Manager) ClearTransfers(index string) error {
	links, err := m.tabLinks(index)
	if err != nil {
		return err
	}
	for _, linkID := range links {
		m.tracker.Clear(linkID)
	}
	return nil
}

// CancelTransfer stops a running transfer.
func (m *Manager) CancelTransfer(ctx context.Context, transferID string) error {
	return m.backend.CancelTransfer(ctx, transferID)
}

// StartTransfer begins an upload or download on the tab's live link and
// returns the transfer ID.
func (m *Manager) StartTransfer(ctx context.Context, index string, req TransferRequest) (string, error) {
	ctrl, err := m.Controller(index)
	if err != nil {
		return "", err
	}
	tr, ok := m.backend.(backend.Transferer)
	if !ok {
		return "", model.ErrUnsupported
	}
	linkID := ctrl.LinkID()
	if linkID == "" || ctrl.State() != terminal.StateConnected {
		return "", model.ErrNotConnected
	}

	switch req.Type {
	case transfer.TypeUpload:
		return tr.Upload(ctx, linkID, req.LocalPath, req.RemotePath)
	case transfer.TypeDownload:
		return tr.Download(ctx, linkID, req.RemotePath, req.LocalPath)
	default:
		return "", fmt.Errorf("unknown transfer type %q: %w", req.Type, model.ErrUnsupported)
	}
}

// History returns the newest session history records.
func (m *Manager) History(ctx context.Context, limit int) ([]*model.SessionRecord, error) {
	if m.repo == nil {
		return []*model.SessionRecord{}, nil
	}
	return m.repo.List(ctx, limit)
}

func (m *Manager) recordLink(index string, ev terminal.LinkEvent) {
	if ev.Kind == terminal.LinkUp {
		m.mu.Lock()
		if _, ok := m.controllers[index]; ok {
			m.links[index] = append(m.links[index], ev.LinkID)
		}
		m.mu.Unlock()
	}
	if m.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), historyTimeout)
	defer cancel()
	log := m.log.With(zap.String("tab", index), zap.String("link", ev.LinkID))

	switch ev.Kind {
	case terminal.LinkUp, terminal.LinkFailed:
		name := ""
		if tab, err := m.registry.Get(index); err == nil {
			name = tab.Name
		}
		linkID := ev.LinkID
		if linkID == "" {
			linkID = uuid.NewString()
		}
		rec := model.NewSessionRecord(linkID, index, name, m.cfg.BackendName, ev.Info)
		if ev.Kind == terminal.LinkFailed {
			rec.Status = model.SessionStatusFailed
			if ev.Err != nil {
				rec.Error = ev.Err.Error()
			}
			closedAt := rec.CreatedAt
			rec.ClosedAt = &closedAt
		}
		if err := m.repo.Create(ctx, rec); err != nil {
			log.Warn("record session history failed", zap.Error(err))
		}
	case terminal.LinkDown:
		if err := m.repo.UpdateStatus(ctx, ev.LinkID, model.SessionStatusClosed, ""); err != nil {
			log.Warn("update session history failed", zap.Error(err))
		}
	}
}

// Close tears down every tab session. The registry keeps its tabs.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	controllers := make([]*terminal.Controller, 0, len(m.controllers))
	for _, ctrl := range m.controllers {
		controllers = append(controllers, ctrl)
	}
	m.controllers = make(map[string]*terminal.Controller)
	m.mu.Unlock()

	for _, ctrl := range controllers {
		ctrl.Close()
	}
	m.detachTracker()
	m.log.Info("session manager closed", zap.Int("tabs", len(controllers)))
	return nil
}
