//go:build windows

package runner

import (
	"os"
	"os/exec"
	"strconv"
	"syscall"
)

func newProcessGroup() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

// killTree uses taskkill /T to take down the child and its descendants.
func killTree(p *os.Process) error {
	// #nosec G204 - pid is an integer we started ourselves
	if err := exec.Command("taskkill", "/T", "/F", "/PID", strconv.Itoa(p.Pid)).Run(); err != nil {
		return p.Kill()
	}
	return nil
}
