//go:build !windows

package runner

import (
	"errors"
	"os"
	"syscall"
)

// newProcessGroup puts the child in its own process group so that every
// descendant can be signalled together.
func newProcessGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// killTree sends SIGKILL to the child's process group.
func killTree(p *os.Process) error {
	err := syscall.Kill(-p.Pid, syscall.SIGKILL)
	if errors.Is(err, syscall.ESRCH) {
		return nil
	}
	if err != nil {
		// Fall back to the direct child if the group is gone or not ours.
		return p.Kill()
	}
	return nil
}
