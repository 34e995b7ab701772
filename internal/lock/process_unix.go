//go:build !windows

package lock

import (
	"errors"
	"os"
	"syscall"
)

// processAlive sends signal 0. EPERM means the process exists under another user.
func processAlive(pid int) bool {
	p, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = p.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	return errors.Is(err, syscall.EPERM)
}
