package process

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// Info describes one entry of the OS process table.
type Info struct {
	PID     int
	Name    string
	Cmdline string
}

// Table is a view of the OS process table.
type Table interface {
	// List returns every process that could be inspected.
	List(ctx context.Context) ([]Info, error)

	// Alive reports whether pid refers to a running process.
	Alive(ctx context.Context, pid int) bool

	// Terminate asks pid to exit and kills it when it is still alive
	// after timeout.
	Terminate(ctx context.Context, pid int, timeout time.Duration) error
}

// IsWorker reports whether a process name is the openvpn worker
// (not the GUI controller).
func IsWorker(name string) bool {
	n := strings.TrimSuffix(strings.ToLower(name), ".exe")
	return n == "openvpn"
}

// FindByToken returns the first openvpn worker whose name or command line
// contains token (case-insensitive). Matching by convention is a heuristic.
func FindByToken(ctx context.Context, t Table, token string) (Info, bool) {
	procs, err := t.List(ctx)
	if err != nil {
		return Info{}, false
	}
	token = strings.ToLower(token)
	for _, p := range procs {
		if !IsWorker(p.Name) {
			continue
		}
		if strings.Contains(strings.ToLower(p.Name), token) || strings.Contains(strings.ToLower(p.Cmdline), token) {
			return p, true
		}
	}
	return Info{}, false
}

// Workers returns every openvpn worker process.
func Workers(ctx context.Context, t Table) []Info {
	procs, err := t.List(ctx)
	if err != nil {
		return nil
	}
	var out []Info
	for _, p := range procs {
		if IsWorker(p.Name) {
			out = append(out, p)
		}
	}
	return out
}

// SystemTable implements Table with gopsutil.
type SystemTable struct {
	// PollInterval is how often Terminate re-checks liveness.
	PollInterval time.Duration
}

// NewSystemTable returns a Table over the host's processes.
func NewSystemTable() *SystemTable {
	return &SystemTable{PollInterval: 200 * time.Millisecond}
}

// List skips processes that exit or deny access while being inspected.
func (s *SystemTable) List(ctx context.Context) ([]Info, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("list processes: %w", err)
	}

	out := make([]Info, 0, len(procs))
	for _, p := range procs {
		name, err := p.NameWithContext(ctx)
		if err != nil {
			continue
		}
		cmdline, _ := p.CmdlineWithContext(ctx)
		out = append(out, Info{PID: int(p.Pid), Name: name, Cmdline: cmdline})
	}
	return out, nil
}

func (s *SystemTable) Alive(ctx context.Context, pid int) bool {
	if pid <= 0 {
		return false
	}
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	if err != nil || !ok {
		return false
	}
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	running, err := p.IsRunningWithContext(ctx)
	return err == nil && running
}

// Terminate sends a graceful stop, waits up to timeout, then kills.
func (s *SystemTable) Terminate(ctx context.Context, pid int, timeout time.Duration) error {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil
		}
		return fmt.Errorf("open pid %d: %w", pid, err)
	}

	if err := p.TerminateWithContext(ctx); err != nil && s.Alive(ctx, pid) {
		return fmt.Errorf("terminate pid %d: %w", pid, err)
	}

	interval := s.PollInterval
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		if !s.Alive(ctx, pid) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}

	if !s.Alive(ctx, pid) {
		return nil
	}
	if err := p.KillWithContext(ctx); err != nil && s.Alive(ctx, pid) {
		return fmt.Errorf("kill pid %d: %w", pid, err)
	}
	return nil
}
