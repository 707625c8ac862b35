// Package process provides abstractions for running and tracking external processes.
package process

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
)

// Runner executes external commands.
// This interface keeps the tunnel controller testable without spawning processes.
type Runner interface {
	// Run executes a short-lived command and waits for it to exit.
	Run(ctx context.Context, name string, args ...string) error

	// Start spawns a detached long-running command whose output is appended
	// to logPath, and returns its PID.
	Start(cmd *exec.Cmd, logPath string) (int, error)
}

// ExecRunner implements Runner with os/exec.
type ExecRunner struct{}

// Run executes the command. A non-zero exit is not an error: control
// commands are fire-and-forget.
func (ExecRunner) Run(ctx context.Context, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.SysProcAttr = hiddenAttr()
	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil
		}
		return fmt.Errorf("run %s: %w", filepath.Base(name), err)
	}
	return nil
}

// Start launches cmd detached from the caller's process group with stdout and
// stderr appended to logPath. The child is reaped in the background.
func (ExecRunner) Start(cmd *exec.Cmd, logPath string) (int, error) {
	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return 0, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return 0, fmt.Errorf("open log %s: %w", logPath, err)
	}
	// The child holds its own descriptor once started.
	defer logFile.Close()

	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.SysProcAttr = detachedAttr()

	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("start %s: %w", filepath.Base(cmd.Path), err)
	}

	pid := cmd.Process.Pid
	go cmd.Wait() //nolint:errcheck

	return pid, nil
}
