// Package registry owns the ordered tab list, the active tab and the
// link ID to terminal handle map.
package registry

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

// DefaultTabName is the name of a fresh tab.
const DefaultTabName = "New Connection"

// Reloader restarts the session mounted on a tab. It returns false when the
// tab has no connected session.
type Reloader func(ctx context.Context) (bool, error)

type tab struct {
	index string
	name  string
	info  *model.ConnectionDescriptor
}

// Registry is the set of open tabs. It always holds at least one tab.
type Registry struct {
	mu          sync.RWMutex
	defaultName string
	tabs        []*tab
	active      string
	lastIndex   int64
	reloaders   map[string]Reloader
	handles     *Handles
	log         *zap.Logger
}

// New creates a Registry with one default tab, selected.
func New(defaultName string, log *zap.Logger) *Registry {
	if defaultName == "" {
		defaultName = DefaultTabName
	}
	if log == nil {
		log = zap.NewNop()
	}
	r := &Registry{
		defaultName: defaultName,
		reloaders:   make(map[string]Reloader),
		handles:     NewHandles(),
		log:         log,
	}
	first := r.newTabLocked(defaultName, nil)
	r.active = first.index
	return r
}

// Handles returns the handle map.
func (r *Registry) Handles() *Handles {
	return r.handles
}

// DefaultName returns the base name of fresh tabs.
func (r *Registry) DefaultName() string {
	return r.defaultName
}

// nextIndexLocked derives an index from the clock, bumped so it is strictly
// increasing and therefore never reused.
func (r *Registry) nextIndexLocked() string {
	n := time.Now().UnixNano()
	if n <= r.lastIndex {
		n = r.lastIndex + 1
	}
	r.lastIndex = n
	return strconv.FormatInt(n, 10)
}

func (r *Registry) newTabLocked(name string, info *model.ConnectionDescriptor) *tab {
	t := &tab{index: r.nextIndexLocked(), name: name, info: info.Clone()}
	r.tabs = append(r.tabs, t)
	return t
}

func (r *Registry) findLocked(index string) (int, *tab) {
	for i, t := range r.tabs {
		if t.index == index {
			return i, t
		}
	}
	return -1, nil
}

func (r *Registry) numberedNameLocked() string {
	return fmt.Sprintf("%s %d", r.defaultName, len(r.tabs)+1)
}

func (r *Registry) snapshotLocked(t *tab) model.Tab {
	return model.Tab{
		Index:   t.index,
		Name:    t.name,
		SSHInfo: t.info.Clone(),
		Active:  t.index == r.active,
	}
}

// CreateTab appends a tab, selects it and returns its index. An empty name
// gets a numbered default name. info is copied.
func (r *Registry) CreateTab(name string, info *model.ConnectionDescriptor) string {
	r.mu.Lock()
	defer r.mu.Unlock()

	if name == "" {
		name = r.numberedNameLocked()
	}
	t := r.newTabLocked(name, info)
	r.active = t.index
	r.log.Debug("tab created", zap.String("tab", t.index), zap.String("name", name))
	return t.index
}

// DuplicateTab creates a tab carrying a copy of index's connection info and
// selects it. The session itself is not copied.
func (r *Registry) DuplicateTab(index string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, src := r.findLocked(index)
	if src == nil {
		return "", fmt.Errorf("duplicate %s: %w", index, model.ErrTabNotFound)
	}
	t := r.newTabLocked(r.numberedNameLocked(), src.info)
	r.active = t.index
	r.log.Debug("tab duplicated", zap.String("from", index), zap.String("tab", t.index))
	return t.index, nil
}

// CloseTab removes index and returns the tab that is active afterwards.
// Closing the active tab selects the last remaining tab; closing the last
// tab replaces it with a fresh default tab.
func (r *Registry) CloseTab(index string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	i, t := r.findLocked(index)
	if t == nil {
		return "", fmt.Errorf("close %s: %w", index, model.ErrTabNotFound)
	}
	r.tabs = append(r.tabs[:i:i], r.tabs[i+1:]...)
	delete(r.reloaders, index)

	if r.active == index {
		if len(r.tabs) > 0 {
			r.active = r.tabs[len(r.tabs)-1].index
		} else {
			fresh := r.newTabLocked(r.defaultName, nil)
			r.active = fresh.index
		}
	}
	r.log.Debug("tab closed", zap.String("tab", index), zap.String("active", r.active))
	return r.active, nil
}

// RenameTab sets the display name of index.
func (r *Registry) RenameTab(index, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, t := r.findLocked(index)
	if t == nil {
		return fmt.Errorf("rename %s: %w", index, model.ErrTabNotFound)
	}
	t.name = name
	return nil
}

// SetActive selects index.
func (r *Registry) SetActive(index string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, t := r.findLocked(index); t == nil {
		return fmt.Errorf("activate %s: %w", index, model.ErrTabNotFound)
	}
	r.active = index
	return nil
}

// Active returns the index of the selected tab.
func (r *Registry) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// Get returns a snapshot of index.
func (r *Registry) Get(index string) (model.Tab, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, t := r.findLocked(index)
	if t == nil {
		return model.Tab{}, fmt.Errorf("get %s: %w", index, model.ErrTabNotFound)
	}
	return r.snapshotLocked(t), nil
}

// List returns snapshots of all tabs in order.
func (r *Registry) List() []model.Tab {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]model.Tab, len(r.tabs))
	for i, t := range r.tabs {
		out[i] = r.snapshotLocked(t)
	}
	return out
}

// Len returns the number of tabs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tabs)
}

// BindConnection records info on index.
func (r *Registry) BindConnection(index string, info model.ConnectionDescriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, t := r.findLocked(index)
	if t == nil {
		return fmt.Errorf("bind %s: %w", index, model.ErrTabNotFound)
	}
	t.info = &info
	return nil
}

// ConnectionInfo returns the connection info recorded on index.
func (r *Registry) ConnectionInfo(index string) (model.ConnectionDescriptor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, t := r.findLocked(index)
	if t == nil || t.info == nil {
		return model.ConnectionDescriptor{}, false
	}
	return *t.info, true
}

// SetReloader registers fn as the reload hook of index. A nil fn clears it.
func (r *Registry) SetReloader(index string, fn Reloader) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if fn == nil {
		delete(r.reloaders, index)
		return
	}
	r.reloaders[index] = fn
}

// ReloadTab asks the session mounted on index to reconnect. It returns false
// when nothing is mounted or the session is not connected.
func (r *Registry) ReloadTab(ctx context.Context, index string) (bool, error) {
	r.mu.RLock()
	_, t := r.findLocked(index)
	fn := r.reloaders[index]
	r.mu.RUnlock()

	if t == nil {
		return false, fmt.Errorf("reload %s: %w", index, model.ErrTabNotFound)
	}
	if fn == nil {
		return false, nil
	}
	return fn(ctx)
}
