package model

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ConnectionDescriptor describes how to reach a remote host.
// It is a value type: tabs hold their own copy and duplicating a tab copies it.
type ConnectionDescriptor struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	User        string `json:"user"`
	Password    string `json:"password,omitempty"`
	KeyPath     string `json:"key,omitempty"`
	KeyPassword string `json:"keyPassword,omitempty"`
}

// Validate checks that the descriptor can be handed to a backend.
func (c ConnectionDescriptor) Validate() error {
	if strings.TrimSpace(c.Host) == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConnection)
	}
	if strings.TrimSpace(c.User) == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidConnection)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: port %d out of range", ErrInvalidConnection, c.Port)
	}
	if c.Password == "" && c.KeyPath == "" {
		return fmt.Errorf("%w: empty password and key", ErrInvalidConnection)
	}
	return nil
}

// Address returns host:port.
func (c ConnectionDescriptor) Address() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// DisplayName returns the tab title used once the connection is up.
func (c ConnectionDescriptor) DisplayName() string {
	return fmt.Sprintf("%s@%s:%d", c.User, c.Host, c.Port)
}

// Clone returns a pointer to a copy of the descriptor, or nil for nil.
func (c *ConnectionDescriptor) Clone() *ConnectionDescriptor {
	if c == nil {
		return nil
	}
	cp := *c
	return &cp
}
