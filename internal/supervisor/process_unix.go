//go:build !windows

package supervisor

import (
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// killProcessGroup kills a process and its entire process group.
// On Unix systems, we use negative PID to signal the entire process group.
func killProcessGroup(pid int, cmd *exec.Cmd) error {
	if pid > 0 {
		if err := unix.Kill(-pid, unix.SIGKILL); err != nil {
			// ESRCH means the group is already gone
			if err != unix.ESRCH {
				return err
			}
		}
		return nil
	}
	if cmd != nil && cmd.Process != nil {
		if err := cmd.Process.Kill(); err != nil && err != os.ErrProcessDone {
			return err
		}
	}
	return nil
}

// setProcAttr sets platform-specific process attributes.
// The debugger becomes a session and process group leader so that the
// debuggee it launches is killed with it.
func setProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
