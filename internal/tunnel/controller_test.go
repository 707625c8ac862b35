package tunnel

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
	"github.com/prognoza/umg-vpn-poller/internal/process"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
)

const (
	guiPath = `C:\Program Files\OpenVPN\bin\openvpn-gui.exe`
	cliPath = `C:\Program Files\OpenVPN\bin\openvpn.exe`
)

type staticDetector locator.Detection

func (d staticDetector) Detect() locator.Detection { return locator.Detection(d) }

type fakeRunner struct {
	mu       sync.Mutex
	runs     [][]string
	started  [][]string
	startPID int
	onRun    func(args []string)
}

func (r *fakeRunner) Run(_ context.Context, name string, args ...string) error {
	r.mu.Lock()
	r.runs = append(r.runs, append([]string{name}, args...))
	hook := r.onRun
	r.mu.Unlock()
	if hook != nil {
		hook(args)
	}
	return nil
}

func (r *fakeRunner) Start(cmd *exec.Cmd, _ string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.started = append(r.started, cmd.Args)
	return r.startPID, nil
}

type fakeTable struct {
	mu         sync.Mutex
	procs      map[int]process.Info
	terminated []int
}

func newFakeTable(procs ...process.Info) *fakeTable {
	t := &fakeTable{procs: map[int]process.Info{}}
	for _, p := range procs {
		t.procs[p.PID] = p
	}
	return t
}

func (t *fakeTable) add(p process.Info) {
	t.mu.Lock()
	t.procs[p.PID] = p
	t.mu.Unlock()
}

func (t *fakeTable) List(context.Context) ([]process.Info, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]process.Info, 0, len(t.procs))
	for _, p := range t.procs {
		out = append(out, p)
	}
	return out, nil
}

func (t *fakeTable) Alive(_ context.Context, pid int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.procs[pid]
	return ok
}

func (t *fakeTable) Terminate(_ context.Context, pid int, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.procs, pid)
	t.terminated = append(t.terminated, pid)
	return nil
}

type harness struct {
	ctrl    *Controller
	runner  *fakeRunner
	table   *fakeTable
	clock   *clock.Fake
	cfg     Config
	profile profile.Profile
}

func newHarness(t *testing.T, det locator.Detection, guiHasProfile bool) *harness {
	t.Helper()
	dir := t.TempDir()
	cfg := DefaultConfig()
	cfg.PIDFile = filepath.Join(dir, "raw", "vpn.pid")
	cfg.LogPath = filepath.Join(dir, "raw", "vpn.log")
	cfg.GUIConfigDirs = []string{filepath.Join(dir, "gui")}

	h := &harness{
		runner:  &fakeRunner{startPID: 4321},
		table:   newFakeTable(),
		clock:   clock.NewFake(time.Date(2025, 9, 26, 12, 0, 0, 0, time.UTC)),
		cfg:     cfg,
		profile: profile.Profile{Name: "Prognoza-UMG-509-PRO", ConfigPath: filepath.Join(dir, "assets", "Prognoza-UMG-509-PRO.ovpn")},
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	h.ctrl = New(cfg, staticDetector(det), h.runner, h.table, h.clock, logger)
	h.ctrl.guiProfileExists = func(string, []string) bool { return guiHasProfile }
	return h
}

func TestStart_CLIWritesPIDFile(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodCLI, CLIPath: cliPath}, false)

	res, err := h.ctrl.Start(context.Background(), h.profile)
	require.NoError(t, err)
	assert.Equal(t, locator.MethodCLI, res.Method)
	assert.Equal(t, 4321, res.PID)

	pid, ok := PIDFile(h.cfg.PIDFile).Read()
	assert.True(t, ok)
	assert.Equal(t, 4321, pid)

	require.Len(t, h.runner.started, 1)
	assert.Equal(t, cliPath, h.runner.started[0][0])
	assert.Contains(t, h.runner.started[0], "--config")
	assert.Contains(t, h.runner.started[0], h.profile.ConfigPath)
}

func TestStart_FallsBackToCLIWhenGUIProfileMissing(t *testing.T) {
	det := locator.Detection{Method: locator.MethodGUI, GUIPath: guiPath, CLIPath: cliPath}
	h := newHarness(t, det, false)

	res, err := h.ctrl.Start(context.Background(), h.profile)
	require.NoError(t, err)
	assert.Equal(t, locator.MethodCLI, res.Method)
	assert.Equal(t, 4321, res.PID)
	assert.Contains(t, res.Message, "OpenVPN GUI profile")
	assert.Empty(t, h.runner.runs, "no GUI command should be issued")
}

func TestStart_RequiresGUIProfileWhenCLIUnavailable(t *testing.T) {
	det := locator.Detection{Method: locator.MethodGUI, GUIPath: guiPath}
	h := newHarness(t, det, false)

	res, err := h.ctrl.Start(context.Background(), h.profile)
	require.Error(t, err)
	assert.ErrorIs(t, err, fault.ErrProcessFailure)
	assert.Equal(t, locator.MethodGUI, res.Method)
	assert.Contains(t, err.Error(), "OpenVPN GUI profile")
}

func TestStart_GUIConnectLocatesWorker(t *testing.T) {
	det := locator.Detection{Method: locator.MethodGUI, GUIPath: guiPath, CLIPath: cliPath}
	h := newHarness(t, det, true)
	h.runner.onRun = func(args []string) {
		if len(args) > 0 && args[0] == "--connect" {
			h.table.add(process.Info{PID: 777, Name: "openvpn.exe", Cmdline: "openvpn.exe --config Prognoza-UMG-509-PRO.ovpn"})
		}
	}

	res, err := h.ctrl.Start(context.Background(), h.profile)
	require.NoError(t, err)
	assert.Equal(t, locator.MethodGUI, res.Method)
	assert.Equal(t, 777, res.PID)
	assert.Equal(t, []string{guiPath, "--connect", "Prognoza-UMG-509-PRO"}, h.runner.runs[0])
	assert.Contains(t, h.clock.Sleeps(), 2*time.Second)
}

func TestStart_MissingExecutable(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodMissing}, false)

	_, err := h.ctrl.Start(context.Background(), h.profile)
	assert.ErrorIs(t, err, fault.ErrNotFound)
}

func TestStart_RestartsLiveWorker(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodCLI, CLIPath: cliPath}, false)
	h.table.add(process.Info{PID: 1111, Name: "openvpn", Cmdline: "openvpn --config Prognoza-UMG-509-PRO.ovpn"})
	require.NoError(t, PIDFile(h.cfg.PIDFile).Write(1111))

	res, err := h.ctrl.Start(context.Background(), h.profile)
	require.NoError(t, err)
	assert.Equal(t, 4321, res.PID)
	assert.Contains(t, h.table.terminated, 1111)
	assert.Contains(t, h.clock.Sleeps(), 3*time.Second)
}

func TestPID_StaleFileRemoved(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodCLI, CLIPath: cliPath}, false)
	require.NoError(t, PIDFile(h.cfg.PIDFile).Write(999))

	assert.Zero(t, h.ctrl.PID(context.Background(), h.profile))
	assert.False(t, PIDFile(h.cfg.PIDFile).Exists(), "stale pid file should be removed")
}

func TestPID_ReusedByOtherProcessIsStale(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodCLI, CLIPath: cliPath}, false)
	h.table.add(process.Info{PID: 999, Name: "chrome", Cmdline: "chrome"})
	require.NoError(t, PIDFile(h.cfg.PIDFile).Write(999))

	assert.False(t, h.ctrl.IsRunning(context.Background(), h.profile))
	assert.False(t, PIDFile(h.cfg.PIDFile).Exists())
}

func TestPID_ScansWithoutPIDFile(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodGUI, GUIPath: guiPath}, true)
	h.table.add(process.Info{PID: 55, Name: "openvpn.exe", Cmdline: "openvpn.exe --config prognoza-umg-509-pro.ovpn"})

	assert.True(t, h.ctrl.IsRunning(context.Background(), h.profile))
	assert.Equal(t, 55, h.ctrl.PID(context.Background(), h.profile))
}

func TestDisconnect_TerminatesAndCleansUp(t *testing.T) {
	det := locator.Detection{Method: locator.MethodGUI, GUIPath: guiPath, CLIPath: cliPath}
	h := newHarness(t, det, true)
	h.table.add(process.Info{PID: 1111, Name: "openvpn.exe", Cmdline: "openvpn.exe --config x.ovpn"})
	h.table.add(process.Info{PID: 2222, Name: "openvpn.exe", Cmdline: "openvpn.exe --config other.ovpn"})
	require.NoError(t, PIDFile(h.cfg.PIDFile).Write(1111))

	require.NoError(t, h.ctrl.Disconnect(context.Background(), h.profile))

	assert.ElementsMatch(t, []int{1111, 2222}, h.table.terminated)
	assert.False(t, PIDFile(h.cfg.PIDFile).Exists())

	var cmds []string
	for _, r := range h.runner.runs {
		cmds = append(cmds, strings.Join(r[1:], " "))
	}
	assert.Equal(t, []string{
		"--command disconnect Prognoza-UMG-509-PRO",
		"--command disconnect_all",
		"--command exit",
	}, cmds)
}

func TestDisconnect_MissingExecutable(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodMissing}, false)
	assert.ErrorIs(t, h.ctrl.Disconnect(context.Background(), h.profile), fault.ErrNotFound)
}

func TestInspect_LogsMatchedLine(t *testing.T) {
	h := newHarness(t, locator.Detection{Method: locator.MethodCLI, CLIPath: cliPath}, false)
	require.NoError(t, os.MkdirAll(filepath.Dir(h.cfg.LogPath), 0o755))
	require.NoError(t, os.WriteFile(h.cfg.LogPath,
		[]byte("2025-09-26 22:55:46 TUN: Setting IPv4 mtu failed: Access is denied.\n"), 0o644))

	report := h.ctrl.Inspect()
	assert.True(t, report.Failed())
	assert.Contains(t, report.Diagnostic, "Access is denied")
	assert.Contains(t, report.Diagnostic, "Administrator")
}
