package local

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

// Upload copies localPath (file or directory) into remoteDir. Both are paths
// on this host. It returns the transfer ID; the copy runs in the background.
func (b *Backend) Upload(ctx context.Context, linkID, localPath, remoteDir string) (string, error) {
	dst := filepath.Join(remoteDir, filepath.Base(localPath))
	return b.startCopy(linkID, transfer.TypeUpload, localPath, dst, localPath, dst)
}

// Download copies remotePath into localDir.
func (b *Backend) Download(ctx context.Context, linkID, remotePath, localDir string) (string, error) {
	dst := filepath.Join(localDir, filepath.Base(remotePath))
	return b.startCopy(linkID, transfer.TypeDownload, dst, remotePath, remotePath, dst)
}

// CancelTransfer stops a running copy.
func (b *Backend) CancelTransfer(ctx context.Context, transferID string) error {
	return b.reporter.Cancel(transferID)
}

func (b *Backend) startCopy(linkID, kind, localFile, remoteFile, src, dst string) (string, error) {
	if _, ok := b.get(linkID); !ok {
		return "", fmt.Errorf("%s %s: %w", kind, linkID, model.ErrSessionNotFound)
	}
	total, err := treeSize(src)
	if err != nil {
		return "", fmt.Errorf("%s %s: %w", kind, src, err)
	}

	progress := b.reporter.Begin(context.Background(), linkID, kind, localFile, remoteFile, total)
	go func() {
		err := copyTree(progress, src, dst)
		if err != nil {
			b.log.Warn("transfer failed", zap.String("transfer", progress.ID()), zap.Error(err))
		}
		progress.Finish(err)
	}()
	return progress.ID(), nil
}

func treeSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			info, err := d.Info()
			if err != nil {
				return err
			}
			total += info.Size()
		}
		return nil
	})
	return total, err
}

func copyTree(progress *transfer.Progress, src, dst string) error {
	return filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := progress.Context().Err(); err != nil {
			return transfer.ErrCancelled
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.IsDir():
			return os.MkdirAll(target, 0o755)
		case d.Type().IsRegular():
			return copyFile(progress, path, target)
		default:
			return nil
		}
	})
}

func copyFile(progress *transfer.Progress, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := progress.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
