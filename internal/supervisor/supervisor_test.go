package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/prognoza/umg-vpn-poller/internal/clock"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/poll"
)

// =============================================================================
// Test helpers
// =============================================================================

type recorder struct {
	mu      sync.Mutex
	starts  []time.Time
	targets []*time.Time
}

func (r *recorder) record(now time.Time, target *time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.starts = append(r.starts, now)
	r.targets = append(r.targets, target)
}

// stepPoll returns a PollFunc that takes durations[i] of fake time on call i.
func stepPoll(clk *clock.Fake, rec *recorder, durations ...time.Duration) PollFunc {
	call := 0
	return func(ctx context.Context, target *time.Time) (*poll.Payload, error) {
		rec.record(clk.Now(), target)
		d := durations[len(durations)-1]
		if call < len(durations) {
			d = durations[call]
		}
		call++
		started := clk.Now()
		clk.Advance(d)
		return &poll.Payload{TargetTime: target, StartedAt: started, ReadAt: started, CompletedAt: clk.Now()}, nil
	}
}

func newTestPoller(start time.Time, estimate time.Duration, fn func(*clock.Fake) PollFunc) (*Poller, *clock.Fake) {
	clk := clock.NewFake(start)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPoller(fn(clk), clk, NewEstimate(estimate, 2*time.Second), logger), clk
}

func waitDone(t *testing.T, p *Poller) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("poller did not finish")
	}
}

func at(h, m, s int) time.Time {
	return time.Date(2025, 9, 26, h, m, s, 0, time.UTC)
}

// =============================================================================
// Table-Driven Tests: State
// =============================================================================

func TestState_String(t *testing.T) {
	tests := []struct {
		state    State
		want     string
		active   bool
		terminal bool
	}{
		{StateIdle, "idle", false, false},
		{StateWaiting, "waiting", true, false},
		{StatePolling, "polling", true, false},
		{StateStopped, "stopped", false, true},
		{StateFailed, "failed", false, true},
		{State(42), "unknown", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.state.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
			if got := tt.state.IsActive(); got != tt.active {
				t.Errorf("IsActive() = %v, want %v", got, tt.active)
			}
			if got := tt.state.IsTerminal(); got != tt.terminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.terminal)
			}
		})
	}
}

// =============================================================================
// Estimate and alignment
// =============================================================================

func TestEstimate_Update(t *testing.T) {
	e := NewEstimate(10*time.Second, 2*time.Second)
	if got := e.Update(20 * time.Second); got != 13*time.Second {
		t.Errorf("Update(20s) = %v, want 13s", got)
	}
	if e.Value() != 13*time.Second {
		t.Errorf("Value() = %v", e.Value())
	}
}

func TestEstimate_Floor(t *testing.T) {
	e := NewEstimate(time.Second, 2*time.Second)
	if e.Value() != 2*time.Second {
		t.Errorf("initial below floor: Value() = %v", e.Value())
	}
	for i := 0; i < 20; i++ {
		if got := e.Update(0); got < 2*time.Second {
			t.Fatalf("Update(0) = %v, below floor", got)
		}
	}
	if e.Update(-time.Minute) != 2*time.Second {
		t.Error("negative measurement should clamp to the floor")
	}
}

func TestEstimate_Converges(t *testing.T) {
	e := NewEstimate(10*time.Second, 2*time.Second)
	for i := 0; i < 40; i++ {
		e.Update(30 * time.Second)
	}
	if diff := math.Abs(e.Value().Seconds() - 30); diff > 0.01 {
		t.Errorf("estimate %v did not converge to 30s", e.Value())
	}
}

func TestAligner_Next(t *testing.T) {
	a := NewAligner()
	tests := []struct {
		name string
		now  time.Time
		want time.Time
	}{
		{"mid minute", at(12, 0, 10), at(12, 1, 0)},
		{"just before", at(12, 0, 59).Add(999 * time.Millisecond), at(12, 1, 0)},
		{"on boundary", at(12, 1, 0), at(12, 2, 0)},
		{"hour rollover", at(12, 59, 30), at(13, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := a.Next(tt.now); !got.Equal(tt.want) {
				t.Errorf("Next(%v) = %v, want %v", tt.now, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Poller scheduling
// =============================================================================

func TestPoller_AlignedSingleCycle(t *testing.T) {
	rec := &recorder{}
	p, clk := newTestPoller(at(12, 0, 10), 15*time.Second, func(c *clock.Fake) PollFunc {
		return stepPoll(c, rec, 15*time.Second)
	})

	if err := p.Start(Options{Interval: time.Minute, Cycles: 1, AlignToMinute: true}); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	if len(rec.starts) != 1 {
		t.Fatalf("cycles = %d, want 1", len(rec.starts))
	}
	if !rec.starts[0].Equal(at(12, 0, 45)) {
		t.Errorf("cycle started at %v, want 12:00:45", rec.starts[0])
	}
	if rec.targets[0] == nil || !rec.targets[0].Equal(at(12, 1, 0)) {
		t.Errorf("target = %v, want 12:01:00", rec.targets[0])
	}
	for _, s := range clk.Sleeps() {
		if s > clock.MaxSlice {
			t.Errorf("sleep slice %v exceeds %v", s, clock.MaxSlice)
		}
	}

	st := p.Status()
	if st.Running || st.State != StateStopped || st.CyclesCompleted != 1 || st.LastPayload == nil {
		t.Errorf("Status() = %+v", st)
	}
}

func TestPoller_AlignedSubsequentTargets(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPoller(at(12, 0, 10), 15*time.Second, func(c *clock.Fake) PollFunc {
		return stepPoll(c, rec, 5*time.Second)
	})

	if err := p.Start(Options{Interval: time.Minute, Cycles: 3, AlignToMinute: true}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	want := []time.Time{at(12, 1, 0), at(12, 2, 0), at(12, 3, 0)}
	if len(rec.targets) != len(want) {
		t.Fatalf("cycles = %d, want %d", len(rec.targets), len(want))
	}
	for i, w := range want {
		if !rec.targets[i].Equal(w) {
			t.Errorf("target[%d] = %v, want %v", i, rec.targets[i], w)
		}
		if rec.starts[i].After(w) {
			t.Errorf("cycle %d started after its target", i)
		}
	}
}

func TestPoller_SkipsMissedSlots(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPoller(at(12, 0, 10), 15*time.Second, func(c *clock.Fake) PollFunc {
		return stepPoll(c, rec, 90*time.Second, time.Second)
	})

	if err := p.Start(Options{Interval: time.Minute, Cycles: 2, AlignToMinute: true}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	// First cycle overruns to 12:02:15 and lifts the estimate to 37.5s,
	// so the 12:02:00 slot is unreachable.
	if len(rec.targets) != 2 {
		t.Fatalf("cycles = %d, want 2", len(rec.targets))
	}
	if !rec.targets[1].Equal(at(12, 3, 0)) {
		t.Errorf("second target = %v, want 12:03:00", rec.targets[1])
	}
}

func TestPoller_Unaligned(t *testing.T) {
	rec := &recorder{}
	p, _ := newTestPoller(at(12, 0, 10), 10*time.Second, func(c *clock.Fake) PollFunc {
		return stepPoll(c, rec, 3*time.Second)
	})

	var results []CycleResult
	p.OnCycle = func(r CycleResult) { results = append(results, r) }

	if err := p.Start(Options{Interval: time.Minute, Cycles: 2}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	if len(rec.starts) != 2 {
		t.Fatalf("cycles = %d, want 2", len(rec.starts))
	}
	if !rec.starts[0].Equal(at(12, 0, 10)) {
		t.Errorf("unaligned first cycle should start immediately, got %v", rec.starts[0])
	}
	if gap := rec.starts[1].Sub(rec.starts[0]); gap != 63*time.Second {
		t.Errorf("gap = %v, want 63s (3s cycle + 60s interval)", gap)
	}
	if rec.targets[0] != nil {
		t.Error("unaligned cycles have no target")
	}
	if len(results) != 2 || results[1].Duration != 3*time.Second {
		t.Errorf("OnCycle results = %+v", results)
	}
}

func TestPoller_FailureStopsLoop(t *testing.T) {
	var calls int
	p, _ := newTestPoller(at(12, 0, 10), 10*time.Second, func(c *clock.Fake) PollFunc {
		return func(context.Context, *time.Time) (*poll.Payload, error) {
			calls++
			c.Advance(40 * time.Second)
			return nil, fault.New(fault.KindTimeout, "vpn.Connect", "unable to establish VPN tunnel before polling")
		}
	})

	if err := p.Start(Options{Interval: time.Minute}); err != nil {
		t.Fatal(err)
	}
	waitDone(t, p)

	st := p.Status()
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
	if st.State != StateFailed || st.Running || st.Failures != 1 {
		t.Errorf("Status() = %+v", st)
	}
	if st.LastError == "" {
		t.Error("LastError should be set")
	}
	// 0.7*10 + 0.3*40
	if st.EstimateSeconds != 19 {
		t.Errorf("estimate = %v, want 19 (failures still update it)", st.EstimateSeconds)
	}
}

func TestPoller_ConflictAndStop(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	p, _ := newTestPoller(at(12, 0, 10), 10*time.Second, func(*clock.Fake) PollFunc {
		return func(ctx context.Context, _ *time.Time) (*poll.Payload, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			return nil, ctx.Err()
		}
	})

	if p.Stop() {
		t.Error("Stop() on an idle poller should return false")
	}
	if err := p.Start(Options{Interval: time.Minute}); err != nil {
		t.Fatal(err)
	}
	<-entered

	if !p.IsRunning() {
		t.Error("IsRunning() = false while polling")
	}
	err := p.Start(Options{Interval: time.Minute})
	if !errors.Is(err, fault.ErrConflict) {
		t.Errorf("second Start() error = %v, want Conflict", err)
	}

	if !p.Stop() {
		t.Error("Stop() should report a running task")
	}
	if p.IsRunning() {
		t.Error("IsRunning() = true after Stop")
	}
	st := p.Status()
	if st.State != StateStopped || st.LastError != "" {
		t.Errorf("cancellation is not a failure: %+v", st)
	}

	// The poller can be started again after stopping.
	if err := p.Start(Options{Interval: time.Minute}); err != nil {
		t.Errorf("restart error = %v", err)
	}
	p.Stop()
}

func TestPoller_StopDuringConnect(t *testing.T) {
	entered := make(chan struct{})
	var once sync.Once
	p, _ := newTestPoller(at(12, 0, 10), 2*time.Second, func(c *clock.Fake) PollFunc {
		return func(ctx context.Context, _ *time.Time) (*poll.Payload, error) {
			once.Do(func() { close(entered) })
			<-ctx.Done()
			c.Advance(300 * time.Millisecond)
			// The connect step reports its own timeout, not ctx.Err().
			return nil, fault.New(fault.KindTimeout, "poll.PollOnce",
				"unable to establish VPN tunnel before polling: timed out after 1m0s waiting for the tunnel interface")
		}
	})
	var cycles int
	p.OnCycle = func(CycleResult) { cycles++ }

	if err := p.Start(Options{Interval: time.Minute}); err != nil {
		t.Fatal(err)
	}
	<-entered
	if !p.Stop() {
		t.Fatal("Stop() should report a running task")
	}

	st := p.Status()
	if st.State != StateStopped {
		t.Errorf("State = %s, want stopped", st.State)
	}
	if st.LastError != "" || st.Failures != 0 {
		t.Errorf("cancellation recorded as failure: %+v", st)
	}
	if st.EstimateSeconds != 2 {
		t.Errorf("estimate = %v, want 2 (unchanged by a cancelled cycle)", st.EstimateSeconds)
	}
	if cycles != 0 {
		t.Errorf("OnCycle called %d times for a cancelled cycle", cycles)
	}
}

func TestPoller_StartValidation(t *testing.T) {
	p, _ := newTestPoller(at(12, 0, 0), 10*time.Second, func(c *clock.Fake) PollFunc {
		return stepPoll(c, &recorder{}, time.Second)
	})
	tests := []struct {
		name string
		opts Options
	}{
		{"zero interval", Options{}},
		{"negative cycles", Options{Interval: time.Minute, Cycles: -1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := p.Start(tt.opts); err == nil {
				t.Error("expected error")
			}
		})
	}
	if p.IsRunning() {
		t.Error("invalid options must not start the task")
	}
}
