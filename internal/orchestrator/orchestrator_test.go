package orchestrator

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/api"
	"github.com/prognoza/umg-vpn-poller/internal/config"
	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
	"github.com/prognoza/umg-vpn-poller/internal/vpn"
)

// =============================================================================
// Fakes
// =============================================================================

type fakeVPN struct {
	mu        sync.Mutex
	connected bool
	calls     []string
}

func (f *fakeVPN) Status(context.Context) vpn.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "status")
	return vpn.ConnectionStatus{IsConnected: f.connected}
}

func (f *fakeVPN) Connect(context.Context) vpn.ConnectionStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "connect")
	f.connected = true
	return vpn.ConnectionStatus{IsConnected: true, VPNIP: "10.8.0.6"}
}

func (f *fakeVPN) Disconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, "disconnect")
	f.connected = false
	return nil
}

type fakeDevice struct {
	reachable bool
}

func (d *fakeDevice) Health(context.Context) device.Health {
	ms := 9.5
	h := device.Health{HTTPLatencyMs: &ms, Reachable: d.reachable}
	if d.reachable {
		h.ModbusLatencyMs = &ms
	}
	return h
}

func (d *fakeDevice) ReadRegisters(context.Context, int) (device.Readings, error) {
	f, v := 50.02, 231.7
	return device.Readings{
		{Name: "frequency", Value: &f, Unit: "Hz"},
		{Name: "voltage_l1_n", Value: &v, Unit: "V"},
		{Name: "current_l1", Unit: "A"},
	}, nil
}

func (d *fakeDevice) ExportCSV(values device.Readings, ts *time.Time) (export.Row, string, error) {
	return export.Row{
		Columns: []string{"timestamp", "frequency"},
		Values:  map[string]string{"timestamp": "2026-10-18T12:00:00+00:00", "frequency": "50.02"},
	}, "exports/umg_readings_2026-10-18.csv", nil
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	base := t.TempDir()
	cfg := config.DefaultConfig()
	cfg.DataDir = filepath.Join(base, "data")
	cfg.RawDir = filepath.Join(base, "data", "raw")
	cfg.ExportsDir = filepath.Join(base, "data", "exports")
	cfg.SecretsDir = filepath.Join(base, "secrets")
	cfg.AssetsDir = filepath.Join(base, "secrets", "assets")
	cfg.OVPNPath = filepath.Join(base, "secrets", "Site-UMG.ovpn")
	cfg.PIDFile = filepath.Join(base, "data", "raw", "vpn.pid")
	cfg.TunnelLog = filepath.Join(base, "data", "raw", "vpn.log")
	cfg.RegistersFile = filepath.Join(base, "registers.yaml")
	return cfg
}

func newTestOrchestrator(t *testing.T, reachable bool) (*Orchestrator, *fakeVPN) {
	t.Helper()
	v := &fakeVPN{}
	o, err := New(testConfig(t), slog.New(slog.NewTextHandler(io.Discard, nil)), Options{
		Version: "test",
		VPN:     v,
		Device:  &fakeDevice{reachable: reachable},
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o, v
}

// =============================================================================
// Tests: New
// =============================================================================

func TestNew_RealComponents(t *testing.T) {
	cfg := testConfig(t)
	o, err := New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if o.Poller().Status().State != supervisor.StateIdle {
		t.Errorf("poller state = %v, want idle", o.Poller().Status().State)
	}
	want := supervisor.Options{Interval: cfg.Interval, Cycles: cfg.Cycles, AlignToMinute: cfg.AlignToMinute}
	if got := o.DefaultPollerOptions(); got != want {
		t.Errorf("DefaultPollerOptions() = %+v, want %+v", got, want)
	}

	snap := o.SnapshotMetrics()
	if snap.Err != "" {
		t.Fatalf("snapshot error: %s", snap.Err)
	}
	if snap.Device != cfg.DeviceHost || snap.Profile != "Site-UMG" {
		t.Errorf("info labels = %q/%q", snap.Device, snap.Profile)
	}
	if snap.EstimateSeconds != cfg.EstimateInitial.Seconds() {
		t.Errorf("estimate = %v, want %v", snap.EstimateSeconds, cfg.EstimateInitial.Seconds())
	}
}

func TestNew_InvalidRegisters(t *testing.T) {
	cfg := testConfig(t)
	cfg.RegistersFile = t.TempDir() // a directory cannot be read as a table
	if _, err := New(cfg, nil, Options{}); err == nil {
		t.Error("New() with unreadable registers file should fail")
	}
}

// =============================================================================
// Tests: RunOnce
// =============================================================================

func TestRunOnce_RecordsMetricsAndStats(t *testing.T) {
	o, v := newTestOrchestrator(t, true)

	p, err := o.RunOnce(context.Background())
	if err != nil {
		t.Fatalf("RunOnce() error = %v", err)
	}
	if !p.VPNInitiated {
		t.Error("VPNInitiated = false with a disconnected tunnel")
	}
	if got := v.calls; len(got) != 3 || got[0] != "status" || got[1] != "connect" || got[2] != "disconnect" {
		t.Errorf("vpn calls = %v", got)
	}

	s := o.Summary()
	if s.Count != 1 || s.Failures != 0 {
		t.Errorf("summary = %+v", s)
	}

	snap := o.SnapshotMetrics()
	if snap.CyclesOK != 1 || snap.CyclesFailed != 0 {
		t.Errorf("cycles = %v ok / %v failed", snap.CyclesOK, snap.CyclesFailed)
	}
	if !snap.DeviceReachable || snap.ModbusLatencyMs == nil || *snap.ModbusLatencyMs != 9.5 {
		t.Errorf("device metrics = reachable %v modbus %v", snap.DeviceReachable, snap.ModbusLatencyMs)
	}
	if snap.VPNConnected {
		t.Error("VPN gauge should drop after the scoped teardown")
	}
	if len(snap.Registers) != 2 {
		t.Fatalf("registers = %+v, want the two valid readings", snap.Registers)
	}
	if snap.Registers[0].Name != "frequency" || snap.Registers[0].Value != 50.02 {
		t.Errorf("first register = %+v", snap.Registers[0])
	}
}

func TestRunOnce_UnreachableCountsFailure(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)

	_, err := o.RunOnce(context.Background())
	if fault.KindOf(err) != fault.KindTransientNetwork {
		t.Fatalf("RunOnce() error = %v, want transient network", err)
	}

	if s := o.Summary(); s.Count != 1 || s.Failures != 1 {
		t.Errorf("summary = %+v", s)
	}
	if snap := o.SnapshotMetrics(); snap.CyclesFailed != 1 {
		t.Errorf("failed cycles = %v, want 1", snap.CyclesFailed)
	}
}

func TestHealth_Recorded(t *testing.T) {
	o, _ := newTestOrchestrator(t, false)
	h := o.Health(context.Background())
	if h.Reachable {
		t.Fatal("Health() reachable with a down device")
	}
	snap := o.SnapshotMetrics()
	if snap.DeviceReachable || snap.HTTPLatencyMs == nil || snap.ModbusLatencyMs != nil {
		t.Errorf("snapshot = reachable %v http %v modbus %v", snap.DeviceReachable, snap.HTTPLatencyMs, snap.ModbusLatencyMs)
	}
}

func TestTrackedVPN_Gauge(t *testing.T) {
	o, v := newTestOrchestrator(t, true)
	ctx := context.Background()

	v.connected = true
	if !o.VPN().Status(ctx).IsConnected {
		t.Fatal("Status() not connected")
	}
	if !o.SnapshotMetrics().VPNConnected {
		t.Error("gauge not raised by Status")
	}

	if err := o.VPN().Disconnect(ctx); err != nil {
		t.Fatal(err)
	}
	if o.SnapshotMetrics().VPNConnected {
		t.Error("gauge not cleared by Disconnect")
	}
}

func TestOnConnect(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)

	o.onConnect(vpn.ConnectionStatus{IsConnected: true, ElapsedSeconds: 4})
	o.onConnect(vpn.ConnectionStatus{Error: "tunnel never came up", ErrorKind: fault.KindTimeout, ElapsedSeconds: 60})

	snap := o.SnapshotMetrics()
	if snap.ConnectsOK != 1 || snap.ConnectsFailed != 1 {
		t.Errorf("connects = %v ok / %v failed", snap.ConnectsOK, snap.ConnectsFailed)
	}
	if snap.VPNConnected {
		t.Error("failed connect should leave the gauge down")
	}
}

// =============================================================================
// Tests: Background poller
// =============================================================================

func TestStartPoller_RunsCycles(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)

	if err := o.StartPoller(supervisor.Options{Interval: 10 * time.Millisecond, Cycles: 2}); err != nil {
		t.Fatalf("StartPoller() error = %v", err)
	}

	select {
	case <-o.Poller().Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}

	if s := o.Summary(); s.Count != 2 {
		t.Errorf("summary count = %d, want 2", s.Count)
	}

	deadline := time.Now().Add(2 * time.Second)
	for o.SnapshotMetrics().PollRunning {
		if time.Now().After(deadline) {
			t.Fatal("running gauge still set after the poller exited")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if got := o.SnapshotMetrics().CyclesOK; got != 2 {
		t.Errorf("cycles ok = %v, want 2", got)
	}
}

func TestStartPoller_Invalid(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	if err := o.StartPoller(supervisor.Options{}); err == nil {
		t.Fatal("StartPoller() with zero interval should fail")
	}
	if o.SnapshotMetrics().PollRunning {
		t.Error("running gauge set after a rejected start")
	}
}

func TestSummaryConfig(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	sc := o.SummaryConfig("127.0.0.1:8000")
	if sc.Device != o.config.DeviceHost || sc.MetricsAddr != "127.0.0.1:8000" {
		t.Errorf("SummaryConfig() = %+v", sc)
	}
	if sc.Estimate != o.config.EstimateInitial {
		t.Errorf("Estimate = %v, want %v", sc.Estimate, o.config.EstimateInitial)
	}
}

// =============================================================================
// Tests: API wiring
// =============================================================================

func TestAPIDeps_Router(t *testing.T) {
	o, _ := newTestOrchestrator(t, true)
	router := api.NewRouter(o.APIDeps())

	tests := []struct {
		method string
		path   string
		want   int
	}{
		{http.MethodGet, "/poller", http.StatusOK},
		{http.MethodGet, "/latest", http.StatusNotFound},
		{http.MethodPost, "/run", http.StatusOK},
		{http.MethodGet, "/metrics", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, httptest.NewRequest(tt.method, tt.path, nil))
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}
