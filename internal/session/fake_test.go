package session

import (
	"context"
	"fmt"
	"sync"

	"github.com/remote-agent-terminal/tabmux/internal/eventbus"
	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/terminal"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

// fakeBackend hands out link-N IDs and finishes transfers immediately.
type fakeBackend struct {
	bus *eventbus.Adapter

	mu          sync.Mutex
	next        int
	connectErr  error
	exitOnStart bool
	closed      []string
	cancelled   []string
}

func (f *fakeBackend) Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.connectErr != nil {
		return "", f.connectErr
	}
	f.next++
	return fmt.Sprintf("link-%d", f.next), nil
}

func (f *fakeBackend) Start(ctx context.Context, linkID string, cols, rows int) error {
	f.mu.Lock()
	exit := f.exitOnStart
	f.mu.Unlock()
	if exit {
		f.bus.EmitSession(eventbus.EventSSHClose, linkID, "")
	}
	return nil
}

func (f *fakeBackend) Resize(ctx context.Context, linkID string, cols, rows int) error {
	return nil
}

func (f *fakeBackend) CloseByID(ctx context.Context, linkID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, linkID)
	return nil
}

func (f *fakeBackend) CancelTransfer(ctx context.Context, transferID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, transferID)
	return nil
}

func (f *fakeBackend) finish(linkID, kind, local, remote string) string {
	f.mu.Lock()
	f.next++
	id := fmt.Sprintf("transfer-%d", f.next)
	f.mu.Unlock()

	f.bus.Emit(eventbus.EventProgress, transfer.Record{
		ID:           id,
		SessionID:    linkID,
		TransferType: kind,
		LocalFile:    local,
		RemoteFile:   remote,
		TotalSize:    10,
		Rate:         100,
		Done:         true,
	})
	return id
}

func (f *fakeBackend) Upload(ctx context.Context, linkID, localPath, remoteDir string) (string, error) {
	return f.finish(linkID, transfer.TypeUpload, localPath, remoteDir), nil
}

func (f *fakeBackend) Download(ctx context.Context, linkID, remotePath, localDir string) (string, error) {
	return f.finish(linkID, transfer.TypeDownload, localDir, remotePath), nil
}

func (f *fakeBackend) closedLinks() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.closed...)
}

// plainBackend hides the Transferer methods of fakeBackend.
type plainBackend struct {
	f *fakeBackend
}

func (p plainBackend) Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error) {
	return p.f.Connect(ctx, info)
}

func (p plainBackend) Start(ctx context.Context, linkID string, cols, rows int) error {
	return p.f.Start(ctx, linkID, cols, rows)
}

func (p plainBackend) Resize(ctx context.Context, linkID string, cols, rows int) error {
	return p.f.Resize(ctx, linkID, cols, rows)
}

func (p plainBackend) CloseByID(ctx context.Context, linkID string) error {
	return p.f.CloseByID(ctx, linkID)
}

func (p plainBackend) CancelTransfer(ctx context.Context, transferID string) error {
	return p.f.CancelTransfer(ctx, transferID)
}

type recordingObserver struct {
	mu     sync.Mutex
	output map[string][]byte
	ends   map[string][]int64
	states map[string][]terminal.State
	closed []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{
		output: make(map[string][]byte),
		ends:   make(map[string][]int64),
		states: make(map[string][]terminal.State),
	}
}

func (o *recordingObserver) TabOutput(index string, data []byte, end int64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.output[index] = append(o.output[index], data...)
	o.ends[index] = append(o.ends[index], end)
}

func (o *recordingObserver) TabState(index string, state terminal.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states[index] = append(o.states[index], state)
}

func (o *recordingObserver) TabClosed(index string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = append(o.closed, index)
}

func (o *recordingObserver) outputOf(index string) string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return string(o.output[index])
}
