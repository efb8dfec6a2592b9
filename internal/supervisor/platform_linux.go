//go:build linux

package supervisor

import "syscall"

// setParentDeathSignal kills the server if the sandbox dies without
// running its deferred cleanup.
func setParentDeathSignal(attr *syscall.SysProcAttr) {
	attr.Pdeathsig = syscall.SIGKILL
}
