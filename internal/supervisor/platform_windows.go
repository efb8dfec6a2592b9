//go:build windows

package supervisor

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
)

func setupProcessGroup(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.HideWindow = true
}

// terminateProcessGroup asks the process tree to exit.
func terminateProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return taskkill(cmd.Process.Pid, false)
}

// killProcessGroup kills the process tree, falling back to the process
// itself.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	if err := taskkill(cmd.Process.Pid, true); err != nil {
		return cmd.Process.Kill()
	}
	return nil
}

func taskkill(pid int, force bool) error {
	args := []string{"/T", "/PID", fmt.Sprintf("%d", pid)}
	if force {
		args = append([]string{"/F"}, args...)
	}
	kill := exec.Command("taskkill", args...)
	kill.SysProcAttr = &syscall.SysProcAttr{HideWindow: true}
	return kill.Run()
}

// sweepProcessGroup is a no-op: without a job object there is no group to
// reach once the tree's root has exited.
func sweepProcessGroup(int) error {
	return nil
}

func isProcessGone(err error) bool {
	return errors.Is(err, os.ErrProcessDone)
}
