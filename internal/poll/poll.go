// Package poll runs one acquisition cycle: make sure the tunnel is up,
// confirm the meter answers, read its registers at the requested instant
// and append them to the daily export.
package poll

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/export"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/vpn"
)

// VPN is the orchestrator surface a cycle needs.
type VPN interface {
	Status(ctx context.Context) vpn.ConnectionStatus
	Connect(ctx context.Context) vpn.ConnectionStatus
	Disconnect(ctx context.Context) error
}

// Device is the meter client surface a cycle needs.
type Device interface {
	Health(ctx context.Context) device.Health
	ReadRegisters(ctx context.Context, retries int) (device.Readings, error)
	ExportCSV(values device.Readings, ts *time.Time) (export.Row, string, error)
}

// Payload is the result of a successful cycle.
type Payload struct {
	RunID        uuid.UUID       `json:"run_id"`
	Health       device.Health   `json:"health"`
	Data         export.Row      `json:"data"`
	Readings     device.Readings `json:"readings"`
	ExportPath   string          `json:"csv_path"`
	TargetTime   *time.Time      `json:"target_time,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	ReadAt       time.Time       `json:"read_at"`
	CompletedAt  time.Time       `json:"completed_at"`
	VPNInitiated bool            `json:"vpn_initiated"`
}

// Duration is the wall-clock time of the whole cycle.
func (p *Payload) Duration() time.Duration {
	return p.CompletedAt.Sub(p.StartedAt)
}

// AlignmentError is how far the register read started from the target.
// It is zero for unaligned cycles.
func (p *Payload) AlignmentError() time.Duration {
	if p.TargetTime == nil {
		return 0
	}
	return p.ReadAt.Sub(*p.TargetTime)
}

// Service runs poll cycles.
type Service struct {
	vpn     VPN
	device  Device
	clock   clock.Clock
	retries int
	logger  *slog.Logger
}

// NewService creates a Service. retries bounds attempts per register.
func NewService(v VPN, d Device, clk clock.Clock, retries int, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Service{vpn: v, device: d, clock: clk, retries: retries, logger: logger}
}

// PollOnce runs one cycle. When target is set the register read waits for
// it and the exported row carries target as its timestamp. A tunnel brought
// up by this call, or left running by a failed connect, is torn down before
// it returns. Cancellation is reported as ctx.Err() whichever step saw it.
func (s *Service) PollOnce(ctx context.Context, target *time.Time) (*Payload, error) {
	const op = "poll.PollOnce"

	p := &Payload{
		RunID:      uuid.New(),
		TargetTime: target,
		StartedAt:  s.clock.Now(),
	}
	logger := s.logger.With("run_id", p.RunID.String())

	if st := s.vpn.Status(ctx); !st.IsConnected {
		logger.Info("poll_vpn_connecting", "pid", st.PID)
		c := s.vpn.Connect(ctx)
		if !c.IsConnected {
			if c.PID != 0 {
				s.teardown(ctx, logger)
			}
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			kind := c.ErrorKind
			if kind == "" {
				kind = fault.KindProcessFailure
			}
			return nil, fault.Newf(kind, op, "unable to establish VPN tunnel before polling: %s", c.Error)
		}
		p.VPNInitiated = true
		defer s.teardown(ctx, logger)
	}

	p.Health = s.device.Health(ctx)
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if !p.Health.Reachable {
		detail, _ := json.Marshal(p.Health)
		return nil, fault.Newf(fault.KindTransientNetwork, op, "UMG device unreachable: %s", detail)
	}

	if target != nil {
		if err := clock.SleepUntil(ctx, s.clock, *target); err != nil {
			return nil, err
		}
	}

	p.ReadAt = s.clock.Now()
	readings, err := s.device.ReadRegisters(ctx, s.retries)
	if err != nil {
		return nil, err
	}
	p.Readings = readings

	row, path, err := s.device.ExportCSV(readings, target)
	if err != nil {
		return nil, fault.Wrap(fault.KindProcessFailure, op, err)
	}
	p.Data = row
	p.ExportPath = path
	p.CompletedAt = s.clock.Now()

	logger.Info("poll_cycle_completed",
		"csv_path", path,
		"registers_ok", readings.Valid(),
		"registers_total", len(readings),
		"vpn_initiated", p.VPNInitiated,
		"alignment_error_ms", p.AlignmentError().Milliseconds(),
	)
	return p, nil
}

// teardown disconnects a tunnel this cycle started. It runs even when ctx
// is already cancelled.
func (s *Service) teardown(ctx context.Context, logger *slog.Logger) {
	if err := s.vpn.Disconnect(context.WithoutCancel(ctx)); err != nil {
		logger.Warn("poll_vpn_teardown_failed", "error", err)
	}
}
