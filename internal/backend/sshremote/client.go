package sshremote

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/remote-agent-terminal/tabmux/internal/model"
)

// DefaultDialTimeout bounds the TCP dial and SSH handshake.
const DefaultDialTimeout = 60 * time.Second

type clientEntry struct {
	client *ssh.Client
	refs   int
}

func clientKey(info model.ConnectionDescriptor) string {
	return info.User + "@" + info.Address()
}

func (b *Backend) clientConfig(info model.ConnectionDescriptor) (*ssh.ClientConfig, error) {
	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if b.opts.KnownHosts != "" {
		cb, err := knownhosts.New(b.opts.KnownHosts)
		if err != nil {
			return nil, fmt.Errorf("load known_hosts: %w", err)
		}
		hostKeyCallback = cb
	}

	cfg := &ssh.ClientConfig{
		User:            info.User,
		HostKeyCallback: hostKeyCallback,
		Timeout:         b.opts.DialTimeout,
	}

	if info.KeyPath != "" {
		pem, err := os.ReadFile(info.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("read private key: %w", err)
		}
		var signer ssh.Signer
		if info.KeyPassword == "" {
			signer, err = ssh.ParsePrivateKey(pem)
		} else {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(info.KeyPassword))
		}
		if err != nil {
			return nil, fmt.Errorf("parse private key: %w", err)
		}
		cfg.Auth = append(cfg.Auth, ssh.PublicKeys(signer))
	}
	if info.Password != "" {
		cfg.Auth = append(cfg.Auth, ssh.Password(info.Password))
	}
	return cfg, nil
}

func dial(ctx context.Context, addr string, cfg *ssh.ClientConfig) (*ssh.Client, error) {
	dialer := net.Dialer{Timeout: cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	c, chans, reqs, err := ssh.NewClientConn(conn, addr, cfg)
	if !stop() {
		if err == nil {
			c.Close()
		}
		return nil, ctx.Err()
	}
	if err != nil {
		conn.Close()
		return nil, err
	}
	conn.SetDeadline(time.Time{})
	return ssh.NewClient(c, chans, reqs), nil
}

// acquireClient returns a shared client for info, dialing when none is open.
func (b *Backend) acquireClient(ctx context.Context, info model.ConnectionDescriptor) (*ssh.Client, error) {
	key := clientKey(info)

	b.mu.Lock()
	if entry, ok := b.clients[key]; ok {
		entry.refs++
		b.mu.Unlock()
		b.log.Debug("reusing ssh client", zap.String("client", key))
		return entry.client, nil
	}
	b.mu.Unlock()

	cfg, err := b.clientConfig(info)
	if err != nil {
		return nil, err
	}
	client, err := dial(ctx, info.Address(), cfg)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if entry, ok := b.clients[key]; ok {
		// Lost a dial race; keep the client already shared.
		client.Close()
		entry.refs++
		return entry.client, nil
	}
	b.clients[key] = &clientEntry{client: client, refs: 1}
	b.log.Debug("ssh client opened", zap.String("client", key))
	return client, nil
}

// releaseClient drops one reference and closes the client at zero.
func (b *Backend) releaseClient(key string) {
	b.mu.Lock()
	entry, ok := b.clients[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	entry.refs--
	if entry.refs > 0 {
		b.mu.Unlock()
		return
	}
	delete(b.clients, key)
	b.mu.Unlock()

	if err := entry.client.Close(); err != nil {
		b.log.Debug("close ssh client", zap.String("client", key), zap.Error(err))
	}
	b.log.Debug("ssh client closed", zap.String("client", key))
}
