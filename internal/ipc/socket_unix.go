//go:build unix

package ipc

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// checkSocket fails fast when the socket file is missing or not writable by
// this process, before any dial is attempted.
func checkSocket(path string) error {
	if err := unix.Access(path, unix.W_OK); err != nil {
		return fmt.Errorf("socket %s not accessible: %w", path, err)
	}
	return nil
}
