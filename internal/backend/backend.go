// Package backend defines the boundary between the session core and the
// transports that reach the remote side.
//
// A Backend is driven by explicit calls and talks back through the event
// bus: it publishes sshOutput, sshClose and eventProgress, and consumes
// sshInput filtered to the link IDs it owns.
package backend

import (
	"context"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

// Backend opens and drives remote shell sessions.
type Backend interface {
	// Connect establishes a link for info and returns its ID. No output is
	// produced until Start.
	Connect(ctx context.Context, info model.ConnectionDescriptor) (string, error)
	// Start opens the interactive shell with the initial geometry.
	Start(ctx context.Context, linkID string, cols, rows int) error
	// Resize changes the remote window size.
	Resize(ctx context.Context, linkID string, cols, rows int) error
	// CloseByID releases a link. Unknown IDs are not an error.
	CloseByID(ctx context.Context, linkID string) error
	// CancelTransfer stops a running file transfer.
	CancelTransfer(ctx context.Context, transferID string) error
}

// Transferer is implemented by backends that can move files.
type Transferer interface {
	Upload(ctx context.Context, linkID, localPath, remoteDir string) (string, error)
	Download(ctx context.Context, linkID, remotePath, localDir string) (string, error)
}

// Closer is implemented by backends that hold process-wide resources.
type Closer interface {
	Close() error
}
