package sshremote

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/sftp"
	"go.uber.org/zap"

	"github.com/remote-agent-terminal/tabmux/internal/model"
	"github.com/remote-agent-terminal/tabmux/internal/transfer"
)

// sftpClient returns the link's SFTP client, opening it on first use.
func (b *Backend) sftpClient(linkID string) (*sftp.Client, error) {
	l, ok := b.get(linkID)
	if !ok {
		return nil, fmt.Errorf("sftp %s: %w", linkID, model.ErrSessionNotFound)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil, fmt.Errorf("sftp %s: %w", linkID, model.ErrSessionNotFound)
	}
	if l.sftp != nil {
		return l.sftp, nil
	}
	client, err := sftp.NewClient(l.client)
	if err != nil {
		return nil, fmt.Errorf("open sftp: %w", err)
	}
	l.sftp = client
	return client, nil
}

// Upload copies localPath (file or directory) into remoteDir.
func (b *Backend) Upload(ctx context.Context, linkID, localPath, remoteDir string) (string, error) {
	client, err := b.sftpClient(linkID)
	if err != nil {
		return "", err
	}
	total, err := localSize(localPath)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", localPath, err)
	}

	remotePath := path.Join(remoteDir, filepath.Base(localPath))
	progress := b.reporter.Begin(context.Background(), linkID, transfer.TypeUpload, localPath, remotePath, total)
	go func() {
		err := uploadTree(progress, client, localPath, remotePath)
		if err != nil {
			b.log.Warn("upload failed", zap.String("transfer", progress.ID()), zap.Error(err))
		}
		progress.Finish(err)
	}()
	return progress.ID(), nil
}

// Download copies remotePath (file or directory) into localDir.
func (b *Backend) Download(ctx context.Context, linkID, remotePath, localDir string) (string, error) {
	client, err := b.sftpClient(linkID)
	if err != nil {
		return "", err
	}
	total, err := remoteSize(client, remotePath)
	if err != nil {
		return "", fmt.Errorf("download %s: %w", remotePath, err)
	}

	localPath := filepath.Join(localDir, path.Base(remotePath))
	progress := b.reporter.Begin(context.Background(), linkID, transfer.TypeDownload, localPath, remotePath, total)
	go func() {
		err := downloadTree(progress, client, remotePath, localPath)
		if err != nil {
			b.log.Warn("download failed", zap.String("transfer", progress.ID()), zap.Error(err))
		}
		progress.Finish(err)
	}()
	return progress.ID(), nil
}

// CancelTransfer stops a running transfer.
func (b *Backend) CancelTransfer(ctx context.Context, transferID string) error {
	return b.reporter.Cancel(transferID)
}

func localSize(root string) (int64, error) {
	var total int64
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
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

func remoteSize(client *sftp.Client, root string) (int64, error) {
	var total int64
	walker := client.Walk(root)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return 0, err
		}
		if walker.Stat().Mode().IsRegular() {
			total += walker.Stat().Size()
		}
	}
	return total, nil
}

func uploadTree(progress *transfer.Progress, client *sftp.Client, src, dst string) error {
	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if progress.Context().Err() != nil {
			return transfer.ErrCancelled
		}
		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := path.Join(dst, filepath.ToSlash(rel))

		switch {
		case d.IsDir():
			return client.MkdirAll(target)
		case d.Type().IsRegular():
			return uploadFile(progress, client, p, target)
		default:
			return nil
		}
	})
}

func uploadFile(progress *transfer.Progress, client *sftp.Client, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := client.MkdirAll(path.Dir(dst)); err != nil {
		return err
	}
	out, err := client.Create(dst)
	if err != nil {
		return err
	}
	if _, err := progress.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func downloadTree(progress *transfer.Progress, client *sftp.Client, src, dst string) error {
	walker := client.Walk(src)
	for walker.Step() {
		if err := walker.Err(); err != nil {
			return err
		}
		if progress.Context().Err() != nil {
			return transfer.ErrCancelled
		}
		rel := walker.Path()[len(src):]
		target := filepath.Join(dst, filepath.FromSlash(rel))

		info := walker.Stat()
		switch {
		case info.IsDir():
			if err := os.MkdirAll(target, 0o755); err != nil {
				return err
			}
		case info.Mode().IsRegular():
			if err := downloadFile(progress, client, walker.Path(), target); err != nil {
				return err
			}
		}
	}
	return nil
}

func downloadFile(progress *transfer.Progress, client *sftp.Client, src, dst string) error {
	in, err := client.Open(src)
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
