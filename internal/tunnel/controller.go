// Package tunnel starts, stops and tracks OpenVPN worker processes.
package tunnel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
	"github.com/prognoza/umg-vpn-poller/internal/logging"
	"github.com/prognoza/umg-vpn-poller/internal/process"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
)

// Detector produces a fresh executable detection.
type Detector interface {
	Detect() locator.Detection
}

// Config holds controller settings.
type Config struct {
	PIDFile       string
	LogPath       string
	GUIConfigDirs []string

	// SettleDelay is the wait after a GUI command before the process
	// table is scanned.
	SettleDelay time.Duration
	// RestartDelay is the wait after disconnecting a live worker before
	// reconnecting.
	RestartDelay time.Duration
	// StopTimeout is the grace period before a worker is killed.
	StopTimeout time.Duration
	// Verbosity is passed to CLI workers as --verb.
	Verbosity int
}

// DefaultConfig returns timings matching openvpn-gui's behaviour.
func DefaultConfig() Config {
	return Config{
		SettleDelay:  2 * time.Second,
		RestartDelay: 3 * time.Second,
		StopTimeout:  10 * time.Second,
	}
}

// StartResult describes a started tunnel.
type StartResult struct {
	Method  locator.Method `json:"method"`
	PID     int            `json:"pid,omitempty"`
	LogPath string         `json:"log_path"`
	Message string         `json:"message,omitempty"`
}

// Controller issues connect/disconnect commands for one profile at a time.
type Controller struct {
	cfg      Config
	detector Detector
	runner   process.Runner
	table    process.Table
	clock    clock.Clock
	logger   *slog.Logger

	// guiProfileExists is replaceable in tests.
	guiProfileExists func(name string, dirs []string) bool
}

// New creates a Controller.
func New(cfg Config, detector Detector, runner process.Runner, table process.Table, clk clock.Clock, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Controller{
		cfg:              cfg,
		detector:         detector,
		runner:           runner,
		table:            table,
		clock:            clk,
		logger:           logger,
		guiProfileExists: profile.ExistsIn,
	}
}

// Detect returns a fresh executable detection.
func (c *Controller) Detect() locator.Detection {
	return c.detector.Detect()
}

// LogPath returns the tunnel log path.
func (c *Controller) LogPath() string {
	return c.cfg.LogPath
}

// Start connects p. A live worker for the same profile is disconnected
// first and the tunnel restarted.
func (c *Controller) Start(ctx context.Context, p profile.Profile) (StartResult, error) {
	const op = "tunnel.Start"

	det := c.detector.Detect()
	if det.Method == locator.MethodMissing {
		return StartResult{Method: det.Method, LogPath: c.cfg.LogPath}, fault.New(fault.KindNotFound, op,
			"OpenVPN executable not found; install OpenVPN or set "+locator.EnvCLIPath+" / "+locator.EnvGUIPath)
	}

	method, note, err := c.chooseMethod(det, p)
	result := StartResult{Method: method, LogPath: c.cfg.LogPath, Message: note}
	if err != nil {
		return result, err
	}

	if pid := c.PID(ctx, p); pid != 0 {
		c.logger.Info("tunnel_restart", "profile", p.Name, "pid", pid)
		if err := c.disconnectProfile(ctx, det, p); err != nil {
			c.logger.Warn("tunnel_restart_disconnect_failed", "profile", p.Name, "error", err)
		}
		if err := c.clock.Sleep(ctx, c.cfg.RestartDelay); err != nil {
			return result, err
		}
	}

	switch method {
	case locator.MethodGUI:
		result.PID, err = c.startGUI(ctx, det.GUIPath, p)
	default:
		result.PID, err = c.startCLI(ctx, det.CLIPath, p)
	}
	if err != nil {
		return result, err
	}

	c.logger.Info("tunnel_started",
		"profile", p.Name,
		"method", method,
		"pid", result.PID,
	)
	return result, nil
}

// chooseMethod falls back from GUI to CLI when the GUI cannot see the
// profile, since openvpn-gui only connects profiles from its config dirs.
func (c *Controller) chooseMethod(det locator.Detection, p profile.Profile) (locator.Method, string, error) {
	if det.Method != locator.MethodGUI {
		return det.Method, "", nil
	}
	if c.guiProfileExists(p.Name, c.cfg.GUIConfigDirs) {
		return locator.MethodGUI, "", nil
	}

	dirs := strings.Join(c.cfg.GUIConfigDirs, ", ")
	if det.CLIPath != "" {
		note := fmt.Sprintf("OpenVPN GUI profile %s not found in %s; using CLI", p.Name, dirs)
		c.logger.Info("tunnel_method_fallback", "profile", p.Name, "from", locator.MethodGUI, "to", locator.MethodCLI)
		return locator.MethodCLI, note, nil
	}
	return locator.MethodGUI, "", fault.Newf(fault.KindProcessFailure, "tunnel.chooseMethod",
		"OpenVPN GUI profile %s not found in %s", p.Name, dirs)
}

func (c *Controller) startGUI(ctx context.Context, guiPath string, p profile.Profile) (int, error) {
	if err := c.runner.Run(ctx, guiPath, process.GUIConnectArgs(p.Name)...); err != nil {
		return 0, fault.Wrap(fault.KindProcessFailure, "tunnel.startGUI", err)
	}
	if err := c.clock.Sleep(ctx, c.cfg.SettleDelay); err != nil {
		return 0, err
	}
	info, _ := process.FindByToken(ctx, c.table, p.Name)
	return info.PID, nil
}

func (c *Controller) startCLI(ctx context.Context, cliPath string, p profile.Profile) (int, error) {
	const op = "tunnel.startCLI"

	cmd := process.NewOpenVPNCommand(&process.OpenVPNConfig{
		BinaryPath: cliPath,
		ConfigPath: p.ConfigPath,
		Verbosity:  c.cfg.Verbosity,
	})
	c.logger.Debug("tunnel_spawn", "command", cmd.CommandString())

	pid, err := c.runner.Start(cmd.Build(), c.cfg.LogPath)
	if err != nil {
		return 0, fault.Wrap(fault.KindProcessFailure, op, err)
	}
	if err := PIDFile(c.cfg.PIDFile).Write(pid); err != nil {
		return pid, fault.Wrap(fault.KindProcessFailure, op, err)
	}
	return pid, nil
}

// Disconnect stops p and then runs the global cleanup so no worker survives.
func (c *Controller) Disconnect(ctx context.Context, p profile.Profile) error {
	det := c.detector.Detect()
	if det.Method == locator.MethodMissing {
		return fault.New(fault.KindNotFound, "tunnel.Disconnect", "OpenVPN executable not found")
	}

	err := c.disconnectProfile(ctx, det, p)
	c.stopAll(ctx, det)
	return err
}

func (c *Controller) disconnectProfile(ctx context.Context, det locator.Detection, p profile.Profile) error {
	var firstErr error

	if det.GUIPath != "" {
		if err := c.runner.Run(ctx, det.GUIPath, process.GUIDisconnectArgs(p.Name)...); err != nil {
			firstErr = err
		}
		if err := c.clock.Sleep(ctx, c.cfg.SettleDelay); err != nil {
			return err
		}
	}

	pidFile := PIDFile(c.cfg.PIDFile)
	if pid, ok := pidFile.Read(); ok && c.table.Alive(ctx, pid) {
		if err := c.table.Terminate(ctx, pid, c.cfg.StopTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := pidFile.Remove(); err != nil && firstErr == nil {
		firstErr = err
	}

	if info, ok := process.FindByToken(ctx, c.table, p.Name); ok {
		c.logger.Debug("tunnel_terminate_lingering", "pid", info.PID)
		if err := c.table.Terminate(ctx, info.PID, c.cfg.StopTimeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	if firstErr != nil {
		return fault.Wrap(fault.KindProcessFailure, "tunnel.disconnect", firstErr)
	}
	c.logger.Info("tunnel_disconnected", "profile", p.Name)
	return nil
}

// StopAll disconnects every GUI session, exits the GUI and terminates every
// openvpn worker. Errors are logged, not returned.
func (c *Controller) StopAll(ctx context.Context) {
	c.stopAll(ctx, c.detector.Detect())
}

func (c *Controller) stopAll(ctx context.Context, det locator.Detection) {
	if det.GUIPath != "" {
		if err := c.runner.Run(ctx, det.GUIPath, process.GUIDisconnectAllArgs()...); err != nil {
			c.logger.Debug("gui_disconnect_all_failed", "error", err)
		}
		_ = c.clock.Sleep(ctx, time.Second)
		if err := c.runner.Run(ctx, det.GUIPath, process.GUIExitArgs()...); err != nil {
			c.logger.Debug("gui_exit_failed", "error", err)
		}
	}

	for _, w := range process.Workers(ctx, c.table) {
		if err := c.table.Terminate(ctx, w.PID, c.cfg.StopTimeout); err != nil {
			c.logger.Warn("worker_terminate_failed", "pid", w.PID, "error", err)
		}
	}
	if err := PIDFile(c.cfg.PIDFile).Remove(); err != nil {
		c.logger.Debug("pid_file_remove_failed", "error", err)
	}
}

// IsRunning reports whether a worker for p is alive.
func (c *Controller) IsRunning(ctx context.Context, p profile.Profile) bool {
	return c.PID(ctx, p) != 0
}

// PID returns the worker PID for p, or 0. The PID file is authoritative
// when present; a stale file is removed and the process table scanned.
func (c *Controller) PID(ctx context.Context, p profile.Profile) int {
	pidFile := PIDFile(c.cfg.PIDFile)
	if pidFile.Exists() {
		if pid, ok := pidFile.Read(); ok && c.isWorker(ctx, pid) {
			return pid
		}
		c.logger.Debug("pid_file_stale", "path", c.cfg.PIDFile)
		if err := pidFile.Remove(); err != nil {
			c.logger.Warn("pid_file_remove_failed", "error", err)
		}
	}

	info, _ := process.FindByToken(ctx, c.table, p.Name)
	return info.PID
}

func (c *Controller) isWorker(ctx context.Context, pid int) bool {
	if !c.table.Alive(ctx, pid) {
		return false
	}
	procs, err := c.table.List(ctx)
	if err != nil {
		return true
	}
	for _, info := range procs {
		if info.PID == pid {
			return process.IsWorker(info.Name)
		}
	}
	return false
}

// Inspect interprets the tunnel log tail and logs the matched line at a
// level derived from its content.
func (c *Controller) Inspect() LogReport {
	report, err := InspectLog(c.cfg.LogPath)
	if err != nil {
		c.logger.Warn("tunnel_log_unreadable", "path", c.cfg.LogPath, "error", err)
		return report
	}
	if report.Line != "" {
		c.logger.Log(context.Background(), logging.ClassifyLine(report.Line), "tunnel_log_match",
			"line", report.Line,
			"failure", report.Failure,
		)
	}
	return report
}
