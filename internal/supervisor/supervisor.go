package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/poll"
)

// DefaultStopTimeout bounds how long Stop waits for the loop to exit.
const DefaultStopTimeout = 5 * time.Second

// PollFunc runs one poll cycle, reading at target when it is set.
type PollFunc func(ctx context.Context, target *time.Time) (*poll.Payload, error)

// Options configure one run of the poller.
type Options struct {
	Interval time.Duration `json:"interval"`
	// Cycles is the number of successful cycles to run; 0 runs until stopped.
	Cycles        int  `json:"cycles"`
	AlignToMinute bool `json:"align_to_minute"`
}

// CycleResult describes one finished cycle.
type CycleResult struct {
	Index     int
	Target    *time.Time
	StartedAt time.Time
	Duration  time.Duration
	// Estimate is the runtime estimate after this cycle was folded in.
	Estimate time.Duration
	Payload  *poll.Payload
	Err      error
}

// Status is a snapshot of the poller for observers.
type Status struct {
	Running         bool          `json:"running"`
	State           State         `json:"state"`
	Options         Options       `json:"options"`
	LastPayload     *poll.Payload `json:"last_payload,omitempty"`
	LastError       string        `json:"last_error,omitempty"`
	CyclesCompleted int           `json:"cycles_completed"`
	Failures        int           `json:"failures"`
	EstimateSeconds float64       `json:"estimate_seconds"`
	NextTarget      *time.Time    `json:"next_target,omitempty"`
}

// Poller owns the single background polling task.
type Poller struct {
	poll     PollFunc
	clock    clock.Clock
	estimate *Estimate
	aligner  *Aligner
	logger   *slog.Logger

	// OnCycle, when set, observes every finished cycle.
	OnCycle func(CycleResult)
	// StopTimeout bounds the wait in Stop.
	StopTimeout time.Duration

	mu          sync.Mutex
	running     bool
	cancel      context.CancelFunc
	done        chan struct{}
	state       State
	opts        Options
	lastPayload *poll.Payload
	lastError   string
	completed   int
	failures    int
	nextTarget  *time.Time
}

// NewPoller creates an idle Poller.
func NewPoller(fn PollFunc, clk clock.Clock, est *Estimate, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if clk == nil {
		clk = clock.Real{}
	}
	if est == nil {
		est = NewEstimate(10*time.Second, 2*time.Second)
	}
	done := make(chan struct{})
	close(done)
	return &Poller{
		poll:        fn,
		clock:       clk,
		estimate:    est,
		aligner:     NewAligner(),
		logger:      logger,
		StopTimeout: DefaultStopTimeout,
		done:        done,
	}
}

// Start launches the polling task and returns immediately. It fails with a
// Conflict error when a task is already running.
func (p *Poller) Start(opts Options) error {
	const op = "supervisor.Start"
	if opts.Interval <= 0 {
		return fmt.Errorf("%s: interval must be positive, got %s", op, opts.Interval)
	}
	if opts.Cycles < 0 {
		return fmt.Errorf("%s: cycles must not be negative, got %d", op, opts.Cycles)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return fault.New(fault.KindConflict, op, "polling already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.state = StateWaiting
	p.opts = opts
	p.lastError = ""
	p.completed = 0
	p.failures = 0
	p.nextTarget = nil

	p.logger.Info("poller_started",
		"interval", opts.Interval.String(),
		"cycles", opts.Cycles,
		"align_to_minute", opts.AlignToMinute,
		"estimate", p.estimate.Value().String(),
	)

	go p.run(ctx, opts, p.done)
	return nil
}

// Stop cancels the running task and waits up to StopTimeout for it to
// exit. It reports whether a running task was signalled.
func (p *Poller) Stop() bool {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return false
	}
	p.cancel()
	done := p.done
	p.mu.Unlock()

	timer := time.NewTimer(p.StopTimeout)
	defer timer.Stop()
	select {
	case <-done:
		p.logger.Info("poller_stopped")
	case <-timer.C:
		p.logger.Warn("poller_stop_timeout", "timeout", p.StopTimeout.String())
	}
	return true
}

// IsRunning reports whether the task is active.
func (p *Poller) IsRunning() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the current (or last) task exits.
func (p *Poller) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Estimate returns the runtime estimate shared across runs.
func (p *Poller) Estimate() *Estimate {
	return p.estimate
}

// Status returns a snapshot.
func (p *Poller) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := Status{
		Running:         p.running,
		State:           p.state,
		Options:         p.opts,
		LastPayload:     p.lastPayload,
		LastError:       p.lastError,
		CyclesCompleted: p.completed,
		Failures:        p.failures,
		EstimateSeconds: p.estimate.Value().Seconds(),
	}
	if p.nextTarget != nil {
		t := *p.nextTarget
		st.NextTarget = &t
	}
	return st
}

func (p *Poller) run(ctx context.Context, opts Options, done chan struct{}) {
	defer close(done)
	defer func() {
		p.mu.Lock()
		p.running = false
		p.cancel = nil
		p.nextTarget = nil
		if p.state != StateFailed {
			p.state = StateStopped
		}
		p.mu.Unlock()
	}()

	var base time.Time
	slot := 0
	for cycle := 0; opts.Cycles == 0 || p.Status().CyclesCompleted < opts.Cycles; cycle++ {
		if ctx.Err() != nil {
			return
		}

		var target *time.Time
		if opts.AlignToMinute {
			t := p.nextAligned(&base, &slot, opts.Interval)
			target = &t
			wake := t.Add(-p.estimate.Value())
			p.setWaiting(target)
			p.logger.Debug("poller_waiting", "target", t, "wake", wake)
			if err := clock.SleepUntil(ctx, p.clock, wake); err != nil {
				return
			}
		} else if cycle > 0 {
			p.setWaiting(nil)
			if err := clock.SleepFor(ctx, p.clock, opts.Interval); err != nil {
				return
			}
		}

		if !p.runCycle(ctx, cycle, target) {
			return
		}
	}
}

// nextAligned returns the next target. The first target is the first
// boundary that leaves a full estimate of lead time; later ones follow
// base + interval*slot, skipping slots that can no longer be met.
func (p *Poller) nextAligned(base *time.Time, slot *int, interval time.Duration) time.Time {
	now := p.clock.Now()
	lead := p.estimate.Value()
	if base.IsZero() {
		*base = p.aligner.Next(now.Add(lead))
		*slot = 0
		return *base
	}

	*slot++
	t := base.Add(interval * time.Duration(*slot))
	skipped := 0
	for t.Add(-lead).Before(now) {
		*slot++
		skipped++
		t = base.Add(interval * time.Duration(*slot))
	}
	if skipped > 0 {
		p.logger.Warn("poller_slots_skipped", "skipped", skipped, "next_target", t)
	}
	return t
}

func (p *Poller) setWaiting(target *time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state = StateWaiting
	p.nextTarget = target
}

// runCycle runs one poll and records it. It returns false when the loop
// must end.
func (p *Poller) runCycle(ctx context.Context, index int, target *time.Time) bool {
	p.mu.Lock()
	p.state = StatePolling
	p.mu.Unlock()

	started := p.clock.Now()
	payload, err := p.poll(ctx, target)
	duration := p.clock.Now().Sub(started)

	// A cycle interrupted by Stop is not a failure and does not feed the
	// estimate, whatever error the interrupted step reported.
	if err != nil && ctx.Err() != nil {
		p.logger.Info("poll_cycle_cancelled", "cycle", index, "error", err)
		return false
	}
	est := p.estimate.Update(duration)

	res := CycleResult{
		Index:     index,
		Target:    target,
		StartedAt: started,
		Duration:  duration,
		Estimate:  est,
		Payload:   payload,
		Err:       err,
	}

	p.mu.Lock()
	if err != nil {
		p.failures++
		p.lastError = err.Error()
		p.state = StateFailed
	} else {
		p.completed++
		p.lastPayload = payload
	}
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("poll_cycle_failed",
			"cycle", index,
			"error", err,
			"error_kind", fault.KindOf(err),
			"duration", duration.String(),
			"estimate", est.String(),
		)
	} else {
		var alignMs int64
		if payload != nil {
			alignMs = payload.AlignmentError().Milliseconds()
		}
		p.logger.Info("poll_cycle_finished",
			"cycle", index,
			"duration", duration.String(),
			"estimate", est.String(),
			"alignment_error_ms", alignMs,
		)
	}

	if p.OnCycle != nil {
		p.OnCycle(res)
	}
	return err == nil
}
