// Package netcheck waits for the tunnel interface and verifies that the
// device behind it answers.
package netcheck

import (
	"context"
	"log/slog"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
)

// minProbeSleep bounds the wait between attempts near the deadline.
const minProbeSleep = 500 * time.Millisecond

// Reachability is the outcome of VerifyReachability. Success implies Ping
// and TCP both passed in the same attempt.
type Reachability struct {
	Success  bool `json:"success"`
	Ping     bool `json:"ping"`
	TCP      bool `json:"tcp"`
	Attempts int  `json:"attempts"`
}

// Verifier polls interfaces and probes the device with backoff.
type Verifier struct {
	ifaces  InterfaceSource
	prober  Prober
	clock   clock.Clock
	backoff BackoffConfig
	logger  *slog.Logger
}

// NewVerifier creates a Verifier.
func NewVerifier(ifaces InterfaceSource, prober Prober, clk clock.Clock, cfg BackoffConfig, logger *slog.Logger) *Verifier {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Verifier{ifaces: ifaces, prober: prober, clock: clk, backoff: cfg, logger: logger}
}

// InterfaceAddress performs a single scan for a tunnel address.
func (v *Verifier) InterfaceAddress(ctx context.Context) (string, bool) {
	ifaces, err := v.ifaces.Interfaces(ctx)
	if err != nil {
		v.logger.Debug("interface_scan_failed", "error", err)
		return "", false
	}
	return TunnelAddress(ifaces)
}

// WaitForInterfaceAddress polls until a tunnel address appears or timeout
// elapses. Absence is reported with ok=false, not an error.
func (v *Verifier) WaitForInterfaceAddress(ctx context.Context, timeout time.Duration) (string, bool) {
	deadline := v.clock.Now().Add(timeout)
	b := NewBackoff(v.backoff)

	for {
		if ip, ok := v.InterfaceAddress(ctx); ok {
			v.logger.Info("vpn_interface_address", "vpn_ip", ip, "attempts", b.Attempts()+1)
			return ip, true
		}
		remaining := deadline.Sub(v.clock.Now())
		if remaining <= 0 || ctx.Err() != nil {
			v.logger.Warn("vpn_interface_address_timeout", "timeout", timeout)
			return "", false
		}
		delay := b.Next()
		if delay > remaining {
			delay = remaining
		}
		if err := clock.SleepFor(ctx, v.clock, delay); err != nil {
			return "", false
		}
	}
}

// Probe runs one ICMP and one TCP check with no retries.
func (v *Verifier) Probe(ctx context.Context, host string, port int) Reachability {
	r := Reachability{
		Ping:     v.prober.Ping(ctx, host),
		TCP:      v.prober.TCP(ctx, host, port),
		Attempts: 1,
	}
	r.Success = r.Ping && r.TCP
	return r
}

// VerifyReachability probes host by ICMP and TCP until both succeed in the
// same attempt, or until timeout has elapsed and at least minAttempts
// attempts were made.
func (v *Verifier) VerifyReachability(ctx context.Context, host string, port int, timeout time.Duration, minAttempts int) Reachability {
	deadline := v.clock.Now().Add(timeout)
	b := NewBackoff(v.backoff)
	var r Reachability

	for {
		attempt := v.Probe(ctx, host, port)
		r.Attempts++
		r.Ping, r.TCP, r.Success = attempt.Ping, attempt.TCP, attempt.Success
		v.logger.Debug("reachability_attempt",
			"host", host,
			"attempt", r.Attempts,
			"ping", r.Ping,
			"tcp", r.TCP,
		)
		if r.Success {
			return r
		}

		remaining := deadline.Sub(v.clock.Now())
		if remaining <= 0 && r.Attempts >= minAttempts {
			return r
		}
		if ctx.Err() != nil {
			return r
		}

		delay := b.Next()
		if delay > remaining {
			delay = max(remaining, minProbeSleep)
		}
		if err := clock.SleepFor(ctx, v.clock, delay); err != nil {
			return r
		}
	}
}
