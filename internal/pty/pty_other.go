//go:build !linux

package pty

// Start is only implemented on Linux.
func Start(opts StartOptions) (*Process, error) {
	return nil, ErrUnsupported
}
