//go:build windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"
)

// killProcessGroup kills a process on Windows.
// Windows doesn't have Unix-style process groups, so we just kill the process directly.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
			return err
		}
	}
	return nil
}

// setProcAttr sets platform-specific process attributes.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}
