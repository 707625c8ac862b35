//go:build !windows

package process

import (
	"syscall"
)

// detachedAttr puts the child in its own process group so signals sent to
// the orchestrator do not reach the tunnel.
func detachedAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

func hiddenAttr() *syscall.SysProcAttr {
	return nil
}

