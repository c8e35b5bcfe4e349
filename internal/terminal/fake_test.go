package terminal

import (
	"context"
	"fmt"
	"sync"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

type resizeCall struct {
	linkID     string
	cols, rows int
}

type fakeBackend struct {
	mu         sync.Mutex
	next       int
	connectErr error
	startErr   error
	block      chan struct{}
	// onStart runs after Start is recorded, before it returns.
	onStart  func(linkID string)
	connects []model.ConnectionDescriptor
	starts   []resizeCall
	resizes  []resizeCall
	closed   []string
}

func (f *fakeBackend) Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error) {
	f.mu.Lock()
	block := f.block
	f.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, info)
	if f.connectErr != nil {
		return "", f.connectErr
	}
	f.next++
	return fmt.Sprintf("link-%d", f.next), nil
}

func (f *fakeBackend) Start(ctx context.Context, linkID string, cols, rows int) error {
	f.mu.Lock()
	f.starts = append(f.starts, resizeCall{linkID, cols, rows})
	onStart, err := f.onStart, f.startErr
	f.mu.Unlock()
	if onStart != nil {
		onStart(linkID)
	}
	return err
}

func (f *fakeBackend) Resize(ctx context.Context, linkID string, cols, rows int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resizes = append(f.resizes, resizeCall{linkID, cols, rows})
	return nil
}

func (f *fakeBackend) CloseByID(ctx context.Context, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, linkID)
	return nil
}

func (f *fakeBackend) CancelTransfer(ctx context.Context, transferID string) error {
	return model.ErrTransferNotFound
}

func (f *fakeBackend) resizeCalls() []resizeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]resizeCall(nil), f.resizes...)
}

func (f *fakeBackend) closedLinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

type fakeBinder struct {
	mu    sync.Mutex
	names map[string]string
	infos map[string]model.ConnectionDescriptor
}

func newFakeBinder() *fakeBinder {
	return &fakeBinder{
		names: make(map[string]string),
		infos: make(map[string]model.ConnectionDescriptor),
	}
}

func (b *fakeBinder) BindConnection(index string, info model.ConnectionDescriptor) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.infos[index] = info
	return nil
}

func (b *fakeBinder) ConnectionInfo(index string) (model.ConnectionDescriptor, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.infos[index]
	return info, ok
}

func (b *fakeBinder) RenameTab(index, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.names[index] = name
	return nil
}

func (b *fakeBinder) name(index string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.names[index]
}

type fakeHandles struct {
	mu      sync.Mutex
	handles map[string]model.TerminalHandle
}

func newFakeHandles() *fakeHandles {
	return &fakeHandles{handles: make(map[string]model.TerminalHandle)}
}

func (h *fakeHandles) Register(linkID string, th model.TerminalHandle) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handles[linkID] = th
}

func (h *fakeHandles) Unregister(linkID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.handles, linkID)
}

func (h *fakeHandles) get(linkID string) (model.TerminalHandle, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	th, ok := h.handles[linkID]
	return th, ok
}

func (h *fakeHandles) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handles)
}
