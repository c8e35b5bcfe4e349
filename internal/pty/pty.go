// Package pty runs local shells behind pseudo-terminals.
package pty

import (
	"errors"
	"io"
	"os"
	"os/exec"
)

// ErrUnsupported is returned on platforms without PTY support.
var ErrUnsupported = errors.New("pty: unsupported platform")

// PTY is the master side of a pseudo-terminal.
type PTY interface {
	io.ReadWriteCloser

	// Resize sets the window size.
	Resize(rows, cols uint16) error
}

// StartOptions describes the process to run.
type StartOptions struct {
	Command string
	Args    []string
	// Env defaults to the current environment.
	Env  []string
	Dir  string
	Rows uint16
	Cols uint16
}

// Process is a running command attached to a PTY.
type Process struct {
	PTY PTY
	Cmd *exec.Cmd
}

// PID returns the process ID.
func (p *Process) PID() int {
	if p.Cmd.Process == nil {
		return 0
	}
	return p.Cmd.Process.Pid
}

// Wait blocks until the process exits and returns its exit code, -1 when it
// was killed by a signal.
func (p *Process) Wait() (int, error) {
	err := p.Cmd.Wait()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return exitErr.ExitCode(), nil
		}
		return -1, err
	}
	return 0, nil
}

// Signal delivers sig to the process.
func (p *Process) Signal(sig os.Signal) error {
	if p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Signal(sig)
}

// Kill terminates the process.
func (p *Process) Kill() error {
	if p.Cmd.Process == nil {
		return nil
	}
	return p.Cmd.Process.Kill()
}
