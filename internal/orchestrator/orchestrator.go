// Package orchestrator builds every component of the poller once and wires
// their observation hooks into metrics and cycle statistics.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/api"
	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/config"
	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
	"github.com/prognoza/umg-vpn-poller/internal/metrics"
	"github.com/prognoza/umg-vpn-poller/internal/netcheck"
	"github.com/prognoza/umg-vpn-poller/internal/poll"
	"github.com/prognoza/umg-vpn-poller/internal/process"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
	"github.com/prognoza/umg-vpn-poller/internal/stats"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
	"github.com/prognoza/umg-vpn-poller/internal/tunnel"
	"github.com/prognoza/umg-vpn-poller/internal/vpn"
)

// Orchestrator is the process-wide poller service.
type Orchestrator struct {
	config *config.Config
	logger *slog.Logger
	clock  clock.Clock

	vpn     *trackedVPN
	device  poll.Device
	service *poll.Service
	poller  *supervisor.Poller
	cycles  *stats.Cycles
	metrics *metrics.Collector

	startTime time.Time
}

// Options override the real system dependencies in tests.
type Options struct {
	Version string
	Clock   clock.Clock

	// VPN and Device replace the tunnel orchestrator and the meter client.
	VPN    poll.VPN
	Device poll.Device
}

// New creates the service. Registers are loaded from cfg.RegistersFile,
// falling back to the built-in table when the file does not exist.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real{}
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		clock:     clk,
		cycles:    stats.NewCycles(),
		startTime: clk.Now(),
		metrics: metrics.NewCollector(metrics.CollectorConfig{
			Version:        opts.Version,
			Device:         cfg.DeviceHost,
			Profile:        cfg.Profile(),
			ProcessMetrics: true,
		}),
	}

	vpnSurface := opts.VPN
	if vpnSurface == nil {
		orch := newVPN(cfg, clk, logger)
		orch.OnConnect = o.onConnect
		vpnSurface = orch
	}
	o.vpn = &trackedVPN{VPN: vpnSurface, metrics: o.metrics}

	o.device = opts.Device
	if o.device == nil {
		regs, err := device.LoadRegisters(cfg.RegistersFile)
		if err != nil {
			return nil, fmt.Errorf("load registers: %w", err)
		}
		writer := export.NewWriter(cfg.ExportsDir, cfg.Milestones, logger)
		o.device = device.NewClient(device.Config{
			Host:       cfg.DeviceHost,
			HTTPPort:   cfg.HTTPPort,
			ModbusPort: cfg.ModbusPort,
			UnitID:     byte(cfg.UnitID),
			Timeout:    cfg.DeviceTimeout,
			RetryDelay: device.DefaultConfig().RetryDelay,
		}, regs, writer, clk, logger)
	}

	o.service = poll.NewService(o.vpn, o.device, clk, cfg.ReadRetries, logger)

	o.poller = supervisor.NewPoller(o.PollOnce, clk,
		supervisor.NewEstimate(cfg.EstimateInitial, cfg.EstimateFloor), logger)
	o.poller.OnCycle = o.onCycle
	o.metrics.SetEstimate(cfg.EstimateInitial)

	return o, nil
}

// newVPN assembles the tunnel controller, verifier and profile preparer.
func newVPN(cfg *config.Config, clk clock.Clock, logger *slog.Logger) *vpn.Orchestrator {
	guiDirs := profile.GUIConfigDirs(cfg.GUIConfigDir)
	guiDir := ""
	if len(guiDirs) > 0 {
		guiDir = guiDirs[0]
	}

	verbosity := 3
	if cfg.Verbose {
		verbosity = 4
	}

	detector := locator.New(cfg.Method, cfg.CLIPath, cfg.GUIPath)
	ctrl := tunnel.New(tunnel.Config{
		PIDFile:       cfg.PIDFile,
		LogPath:       cfg.TunnelLog,
		GUIConfigDirs: guiDirs,
		SettleDelay:   cfg.SettleDelay,
		RestartDelay:  cfg.RestartDelay,
		StopTimeout:   cfg.StopTimeout,
		Verbosity:     verbosity,
	}, detector, process.ExecRunner{}, process.NewSystemTable(), clk, logger)

	verifier := netcheck.NewVerifier(netcheck.SystemInterfaces{}, netcheck.NewSystemProber(), clk,
		netcheck.DefaultBackoffConfig(), logger)

	preparer := &profile.Preparer{
		Input:        cfg.OVPNPath,
		SearchDir:    cfg.SecretsDir,
		DefaultPath:  cfg.OVPNPath,
		AssetsDir:    cfg.AssetsDir,
		DeviceIP:     cfg.DeviceHost,
		Name:         cfg.ProfileName,
		GUIConfigDir: guiDir,
	}

	return vpn.New(vpn.Config{
		DeviceHost:         cfg.DeviceHost,
		ProbePort:          cfg.HTTPPort,
		ConnectTimeout:     cfg.ConnectTimeout,
		MinAttempts:        cfg.MinAttempts,
		StatusProbeTimeout: cfg.StatusProbeTimeout,
		ProfileName:        cfg.Profile(),
	}, ctrl, verifier, preparer, clk, logger)
}

// =============================================================================
// Operations
// =============================================================================

// PollOnce runs one cycle and records its health and readings. It is the
// function both the background poller and the on-demand endpoint call.
func (o *Orchestrator) PollOnce(ctx context.Context, target *time.Time) (*poll.Payload, error) {
	payload, err := o.service.PollOnce(ctx, target)
	if err != nil {
		return nil, err
	}
	o.recordPayload(payload)
	return payload, nil
}

// RunOnce runs a single unscheduled cycle and folds it into the cycle
// statistics. The background poller records its own cycles via OnCycle.
func (o *Orchestrator) RunOnce(ctx context.Context) (*poll.Payload, error) {
	start := o.clock.Now()
	payload, err := o.PollOnce(ctx, nil)
	d := o.clock.Now().Sub(start)
	o.cycles.Record(d, 0, false, err)
	o.metrics.RecordCycle(metrics.CycleObservation{
		Duration: d,
		Estimate: o.poller.Estimate().Value(),
		Err:      err,
	})
	return payload, err
}

// Health probes the meter and records the result.
func (o *Orchestrator) Health(ctx context.Context) device.Health {
	h := o.device.Health(ctx)
	o.metrics.RecordHealth(h.Reachable, h.HTTPLatencyMs, h.ModbusLatencyMs)
	return h
}

// Latest returns the newest export file and its last row.
func (o *Orchestrator) Latest() (string, export.Row, error) {
	return export.Latest(o.config.ExportsDir)
}

// StartPoller starts the background poller and tracks its running gauge.
func (o *Orchestrator) StartPoller(opts supervisor.Options) error {
	if err := o.poller.Start(opts); err != nil {
		return err
	}
	o.metrics.SetPollRunning(true)
	done := o.poller.Done()
	go func() {
		<-done
		o.metrics.SetPollRunning(o.poller.IsRunning())
	}()
	return nil
}

// DefaultPollerOptions returns the configured schedule.
func (o *Orchestrator) DefaultPollerOptions() supervisor.Options {
	return supervisor.Options{
		Interval:      o.config.Interval,
		Cycles:        o.config.Cycles,
		AlignToMinute: o.config.AlignToMinute,
	}
}

// SnapshotMetrics returns the local metrics as a snapshot. Gather errors
// are reported in the snapshot.
func (o *Orchestrator) SnapshotMetrics() *metrics.Snapshot {
	s, err := o.metrics.Snapshot()
	if err != nil {
		return &metrics.Snapshot{Taken: o.clock.Now(), Err: err.Error()}
	}
	return s
}

// Summary returns the cycle statistics.
func (o *Orchestrator) Summary() stats.Summary {
	return o.cycles.Summary()
}

// SummaryConfig describes this run for the exit summary.
func (o *Orchestrator) SummaryConfig(metricsAddr string) stats.SummaryConfig {
	opts := o.poller.Status().Options
	return stats.SummaryConfig{
		Duration:    o.clock.Now().Sub(o.startTime),
		Device:      o.config.DeviceHost,
		Interval:    opts.Interval,
		Aligned:     opts.AlignToMinute,
		Estimate:    o.poller.Estimate().Value(),
		ExportsDir:  filepath.Clean(o.config.ExportsDir),
		MetricsAddr: metricsAddr,
	}
}

// APIDeps returns the dependencies of the HTTP API.
func (o *Orchestrator) APIDeps() api.Deps {
	return api.Deps{
		VPN:    o.VPN(),
		Health: o.Health,
		Poll: func(ctx context.Context, _ *time.Time) (*poll.Payload, error) {
			return o.RunOnce(ctx)
		},
		Poller:   o.PollerControl(),
		Latest:   o.Latest,
		Defaults: o.DefaultPollerOptions(),
		Metrics:  o.metrics.Handler(),
		Logger:   o.logger,
	}
}

// =============================================================================
// Accessors
// =============================================================================

// VPN returns the tracked VPN surface used by every caller.
func (o *Orchestrator) VPN() api.VPN {
	return o.vpn
}

// Poller returns the background poller.
func (o *Orchestrator) Poller() *supervisor.Poller {
	return o.poller
}

// Metrics returns the metrics collector.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Cycles returns the cycle statistics.
func (o *Orchestrator) Cycles() *stats.Cycles {
	return o.cycles
}

// =============================================================================
// Hooks
// =============================================================================

func (o *Orchestrator) onConnect(st vpn.ConnectionStatus) {
	var err error
	if !st.IsConnected {
		err = errors.New(st.Error)
	}
	o.metrics.RecordConnect(time.Duration(st.ElapsedSeconds*float64(time.Second)), err)
	if err != nil {
		o.metrics.SetVPNConnected(false)
	}
}

func (o *Orchestrator) onCycle(r supervisor.CycleResult) {
	var align time.Duration
	aligned := r.Target != nil && r.Payload != nil
	if aligned {
		align = r.Payload.AlignmentError()
	}
	o.cycles.Record(r.Duration, align, aligned, r.Err)
	o.metrics.RecordCycle(metrics.CycleObservation{
		Duration:  r.Duration,
		Estimate:  r.Estimate,
		Alignment: align,
		Aligned:   aligned,
		Err:       r.Err,
	})
}

func (o *Orchestrator) recordPayload(p *poll.Payload) {
	o.metrics.RecordHealth(p.Health.Reachable, p.Health.HTTPLatencyMs, p.Health.ModbusLatencyMs)
	samples := make([]metrics.RegisterSample, 0, len(p.Readings))
	for _, r := range p.Readings {
		samples = append(samples, metrics.RegisterSample{Name: r.Name, Unit: r.Unit, Value: r.Value})
	}
	o.metrics.RecordReadings(p.ReadAt, samples)
}

// =============================================================================
// Adapters
// =============================================================================

// trackedVPN keeps the connected gauge in step with status probes and
// disconnects. Connect results arrive through the OnConnect hook.
type trackedVPN struct {
	poll.VPN
	metrics *metrics.Collector
}

func (t *trackedVPN) Status(ctx context.Context) vpn.ConnectionStatus {
	st := t.VPN.Status(ctx)
	t.metrics.SetVPNConnected(st.IsConnected)
	return st
}

func (t *trackedVPN) Disconnect(ctx context.Context) error {
	err := t.VPN.Disconnect(ctx)
	t.metrics.SetVPNConnected(false)
	return err
}

// pollerFacade routes API start requests through StartPoller.
type pollerFacade struct {
	o *Orchestrator
}

func (f pollerFacade) Start(opts supervisor.Options) error { return f.o.StartPoller(opts) }
func (f pollerFacade) Stop() bool                          { return f.o.poller.Stop() }
func (f pollerFacade) Status() supervisor.Status           { return f.o.poller.Status() }

// PollerControl returns the poller surface with metrics tracking.
func (o *Orchestrator) PollerControl() api.Poller {
	return pollerFacade{o}
}
