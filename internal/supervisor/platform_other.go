//go:build !linux && !windows

package supervisor

import "syscall"

func setParentDeathSignal(*syscall.SysProcAttr) {}
