// Package vpn composes the tunnel controller and connectivity verifier into
// connect, disconnect and status operations over the single VPN tunnel.
package vpn

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
	"github.com/prognoza/umg-vpn-poller/internal/netcheck"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
	"github.com/prognoza/umg-vpn-poller/internal/tunnel"
)

// Tunnel is the subset of the tunnel controller the orchestrator drives.
type Tunnel interface {
	Detect() locator.Detection
	Start(ctx context.Context, p profile.Profile) (tunnel.StartResult, error)
	Disconnect(ctx context.Context, p profile.Profile) error
	PID(ctx context.Context, p profile.Profile) int
	Inspect() tunnel.LogReport
	LogPath() string
}

// Verifier checks the tunnel interface and device reachability.
type Verifier interface {
	InterfaceAddress(ctx context.Context) (string, bool)
	WaitForInterfaceAddress(ctx context.Context, timeout time.Duration) (string, bool)
	VerifyReachability(ctx context.Context, host string, port int, timeout time.Duration, minAttempts int) netcheck.Reachability
	Probe(ctx context.Context, host string, port int) netcheck.Reachability
}

// ProfilePreparer produces the cleaned profile to connect with.
type ProfilePreparer interface {
	Prepare(installGUI bool) (profile.Resolution, error)
}

// Config holds orchestrator settings.
type Config struct {
	DeviceHost string
	ProbePort  int

	ConnectTimeout     time.Duration
	MinAttempts        int
	StatusProbeTimeout time.Duration

	// ProfileName is reported before the first successful preparation.
	ProfileName string
}

// Orchestrator owns the VPN connection state for the process.
type Orchestrator struct {
	cfg      Config
	tunnel   Tunnel
	verifier Verifier
	profiles ProfilePreparer
	clock    clock.Clock
	logger   *slog.Logger

	// opMu serializes Connect and Disconnect.
	opMu sync.Mutex

	mu      sync.RWMutex
	phase   Phase
	last    ConnectionStatus
	profile profile.Profile

	// OnConnect, when set, observes every Connect result.
	OnConnect func(ConnectionStatus)
}

// New creates an Orchestrator.
func New(cfg Config, t Tunnel, v Verifier, profiles ProfilePreparer, clk clock.Clock, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	o := &Orchestrator{
		cfg:      cfg,
		tunnel:   t,
		verifier: v,
		profiles: profiles,
		clock:    clk,
		logger:   logger,
		profile:  profile.Profile{Name: cfg.ProfileName},
	}
	o.last = o.disconnectedStatus()
	return o
}

// Connect prepares the profile, starts the tunnel and verifies the device.
// It never returns an error: failures populate Error and ErrorKind.
func (o *Orchestrator) Connect(ctx context.Context) ConnectionStatus {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	start := o.clock.Now()
	st := o.disconnectedStatus()

	o.connect(ctx, &st)

	st.ElapsedSeconds = math.Round(o.clock.Now().Sub(start).Seconds()*100) / 100
	if st.IsConnected {
		st.Phase = PhaseConnected
		o.logger.Info("vpn_connected",
			"vpn_ip", st.VPNIP,
			"pid", st.PID,
			"method", st.Method,
			"elapsed_s", st.ElapsedSeconds,
		)
	} else {
		o.logger.Error("vpn_connect_failed",
			"error", st.Error,
			"error_kind", st.ErrorKind,
			"ping", st.Checks.Ping,
			"tcp", st.Checks.TCP,
		)
	}

	o.store(st)
	if o.OnConnect != nil {
		o.OnConnect(st)
	}
	return st
}

func (o *Orchestrator) connect(ctx context.Context, st *ConnectionStatus) {
	o.setPhase(PhasePreparing)
	det := o.tunnel.Detect()
	st.Method = det.Method

	res, err := o.profiles.Prepare(det.Method == locator.MethodGUI)
	if err != nil {
		o.failWith(st, err)
		return
	}
	o.mu.Lock()
	o.profile = res.Profile
	o.mu.Unlock()
	st.ProfileName = res.Name
	st.Message = res.Message

	started, err := o.tunnel.Start(ctx, res.Profile)
	if started.Method != "" {
		st.Method = started.Method
	}
	st.PID = started.PID
	st.Message = joinMessages(st.Message, started.Message)
	if err != nil {
		o.failWith(st, err)
		return
	}

	o.setPhase(PhaseWaitingForIP)
	ip, ok := o.verifier.WaitForInterfaceAddress(ctx, o.cfg.ConnectTimeout)
	if !ok {
		o.failWith(st, fault.Newf(fault.KindTimeout, "vpn.Connect",
			"timed out after %s waiting for the tunnel interface to obtain an IPv4 address", o.cfg.ConnectTimeout))
		return
	}
	st.VPNIP = ip

	o.setPhase(PhaseVerifyingReachability)
	r := o.verifier.VerifyReachability(ctx, o.cfg.DeviceHost, o.cfg.ProbePort, o.cfg.ConnectTimeout, o.cfg.MinAttempts)
	st.Checks = Checks{Ping: r.Ping, TCP: r.TCP}
	st.DeviceReachable = r.Success
	if st.PID == 0 {
		st.PID = o.tunnel.PID(ctx, res.Profile)
	}
	if !r.Success {
		o.failWith(st, fault.Newf(fault.KindTimeout, "vpn.Connect",
			"device %s not reachable after %d attempts (ping=%t tcp=%t)", o.cfg.DeviceHost, r.Attempts, r.Ping, r.TCP))
		return
	}

	st.IsConnected = true
	o.setPhase(PhaseConnected)
}

// failWith records err and appends the tunnel log interpretation.
func (o *Orchestrator) failWith(st *ConnectionStatus, err error) {
	st.fail(err)
	o.setPhase(PhaseDisconnected)
	if report := o.tunnel.Inspect(); report.Failed() {
		st.Error += " | " + report.Diagnostic
		if st.ErrorKind == fault.KindTimeout {
			st.ErrorKind = fault.KindProcessFailure
		}
	}
}

// Disconnect stops the tunnel and resets the cached status regardless of
// the outcome.
func (o *Orchestrator) Disconnect(ctx context.Context) error {
	o.opMu.Lock()
	defer o.opMu.Unlock()

	o.mu.RLock()
	p := o.profile
	o.mu.RUnlock()

	err := o.tunnel.Disconnect(ctx, p)
	if err != nil {
		o.logger.Warn("vpn_disconnect_failed", "profile", p.Name, "error", err)
	} else {
		o.logger.Info("vpn_disconnected", "profile", p.Name)
	}

	o.setPhase(PhaseDisconnected)
	o.store(o.disconnectedStatus())
	return err
}

// Status re-derives liveness and the interface address from the OS and
// runs a single reachability probe bounded by StatusProbeTimeout.
func (o *Orchestrator) Status(ctx context.Context) ConnectionStatus {
	start := o.clock.Now()
	o.mu.RLock()
	p := o.profile
	o.mu.RUnlock()

	st := o.disconnectedStatus()
	st.Method = o.tunnel.Detect().Method
	st.PID = o.tunnel.PID(ctx, p)
	if ip, ok := o.verifier.InterfaceAddress(ctx); ok {
		st.VPNIP = ip
	}

	if st.PID != 0 && st.VPNIP != "" {
		pctx, cancel := context.WithTimeout(ctx, o.cfg.StatusProbeTimeout)
		r := o.verifier.Probe(pctx, o.cfg.DeviceHost, o.cfg.ProbePort)
		cancel()
		st.Checks = Checks{Ping: r.Ping, TCP: r.TCP}
		st.DeviceReachable = r.Success
		st.IsConnected = r.Success
	}

	switch {
	case st.IsConnected:
		st.Phase = PhaseConnected
	case st.PID != 0:
		// Alive but not usable: explain from the log.
		st.Phase = PhaseDisconnected
		st.ErrorKind = fault.KindTimeout
		st.Error = "tunnel process running but device not reachable"
		if report := o.tunnel.Inspect(); report.Failed() {
			st.Error += " | " + report.Diagnostic
			st.ErrorKind = fault.KindProcessFailure
		}
	}

	st.ElapsedSeconds = math.Round(o.clock.Now().Sub(start).Seconds()*100) / 100

	o.mu.Lock()
	if o.phase == PhaseConnected || o.phase == PhaseDisconnected {
		o.phase = st.Phase
	}
	o.last = st
	o.mu.Unlock()
	return st
}

// Last returns the most recently computed status without probing.
func (o *Orchestrator) Last() ConnectionStatus {
	o.mu.RLock()
	defer o.mu.RUnlock()
	st := o.last
	st.Phase = o.phase
	return st
}

// Phase returns the current phase.
func (o *Orchestrator) Phase() Phase {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.phase
}

func (o *Orchestrator) setPhase(p Phase) {
	o.mu.Lock()
	prev := o.phase
	o.phase = p
	o.mu.Unlock()
	if prev != p {
		o.logger.Debug("vpn_phase", "from", prev, "to", p)
	}
}

func (o *Orchestrator) store(st ConnectionStatus) {
	o.mu.Lock()
	o.last = st
	o.mu.Unlock()
}

func (o *Orchestrator) disconnectedStatus() ConnectionStatus {
	o.mu.RLock()
	name := o.profile.Name
	o.mu.RUnlock()
	return ConnectionStatus{
		ProfileName: name,
		LogPath:     o.tunnel.LogPath(),
		Phase:       PhaseDisconnected,
	}
}

func joinMessages(a, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	}
	return a + "; " + b
}
