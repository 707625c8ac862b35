package tui

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/prognoza/umg-vpn-poller/internal/metrics"
	"github.com/prognoza/umg-vpn-poller/internal/poll"
	"github.com/prognoza/umg-vpn-poller/internal/stats"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
)

// =============================================================================
// Fakes
// =============================================================================

type fakePoller struct {
	mu       sync.Mutex
	status   supervisor.Status
	startErr error
	started  []supervisor.Options
	stops    int
}

func (p *fakePoller) Start(opts supervisor.Options) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.startErr != nil {
		return p.startErr
	}
	p.started = append(p.started, opts)
	p.status.Running = true
	p.status.State = supervisor.StateWaiting
	p.status.Options = opts
	return nil
}

func (p *fakePoller) Stop() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.stops++
	was := p.status.Running
	p.status.Running = false
	p.status.State = supervisor.StateStopped
	return was
}

func (p *fakePoller) Status() supervisor.Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

type fakeStats struct{ s stats.Summary }

func (f fakeStats) Summary() stats.Summary { return f.s }

func sampleSnapshot() *metrics.Snapshot {
	http, modbus := 12.5, 48.0
	return &metrics.Snapshot{
		Device:          "192.168.1.30",
		Profile:         "Site-UMG",
		VPNConnected:    true,
		ConnectsOK:      2,
		CyclesOK:        5,
		CyclesFailed:    1,
		EstimateSeconds: 3.5,
		DeviceReachable: true,
		HTTPLatencyMs:   &http,
		ModbusLatencyMs: &modbus,
		Registers: []metrics.RegisterValue{
			{Name: "frequency", Unit: "Hz", Value: 50.01},
			{Name: "voltage_l1_n", Unit: "V", Value: 230.4},
			{Name: "power_total", Unit: "W", Value: 1234.5},
		},
		LastReading: time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC),
	}
}

func staticSource(s *metrics.Snapshot) func() *metrics.Snapshot {
	return func() *metrics.Snapshot { return s }
}

func keyMsg(k string) tea.KeyMsg {
	switch k {
	case "ctrl+c":
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	case "esc":
		return tea.KeyMsg{Type: tea.KeyEsc}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(k)}
}

// =============================================================================
// Tests: New / Init
// =============================================================================

func TestNew(t *testing.T) {
	snap := sampleSnapshot()
	calls := 0
	m := New(Config{Source: func() *metrics.Snapshot { calls++; return snap }})

	if calls != 1 {
		t.Errorf("Source called %d times, want 1", calls)
	}
	if m.Snapshot() != snap {
		t.Error("Snapshot() not taken at construction")
	}
	if m.width != 80 || m.height != 24 {
		t.Errorf("size = %dx%d, want 80x24", m.width, m.height)
	}
}

func TestModel_Init(t *testing.T) {
	m := New(Config{Source: staticSource(nil)})
	if m.Init() == nil {
		t.Error("Init() returned nil, want tick command")
	}
}

// =============================================================================
// Tests: Update
// =============================================================================

func TestModel_Update_QuitKeys(t *testing.T) {
	tests := []struct {
		key      string
		wantQuit bool
	}{
		{"q", true},
		{"ctrl+c", true},
		{"esc", true},
		{"r", false},
		{"x", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			model := New(Config{Source: staticSource(nil)})
			newModel, cmd := model.Update(keyMsg(tt.key))
			m := newModel.(Model)

			if m.quitting != tt.wantQuit {
				t.Errorf("quitting = %v, want %v", m.quitting, tt.wantQuit)
			}
			if tt.wantQuit && cmd == nil {
				t.Error("expected tea.Quit cmd")
			}
		})
	}
}

func TestModel_Update_WindowSize(t *testing.T) {
	model := New(Config{Source: staticSource(nil)})
	newModel, cmd := model.Update(tea.WindowSizeMsg{Width: 140, Height: 50})
	m := newModel.(Model)

	if m.width != 140 || m.height != 50 {
		t.Errorf("size = %dx%d, want 140x50", m.width, m.height)
	}
	if cmd != nil {
		t.Error("WindowSizeMsg should not return a command")
	}
}

func TestModel_Update_Tick(t *testing.T) {
	var current *metrics.Snapshot
	model := New(Config{Source: func() *metrics.Snapshot { return current }})
	if model.Snapshot() != nil {
		t.Fatal("expected nil snapshot before first tick")
	}

	current = sampleSnapshot()
	newModel, cmd := model.Update(TickMsg(time.Now()))
	m := newModel.(Model)

	if m.Snapshot() != current {
		t.Error("tick did not refresh the snapshot")
	}
	if cmd == nil {
		t.Error("tick should schedule the next tick")
	}
}

func TestModel_Update_Refresh(t *testing.T) {
	calls := 0
	model := New(Config{Source: func() *metrics.Snapshot { calls++; return nil }})
	newModel, cmd := model.Update(keyMsg("r"))
	_ = newModel.(Model)

	if calls != 2 {
		t.Errorf("Source called %d times, want 2", calls)
	}
	if cmd != nil {
		t.Error("refresh should not return a command")
	}
}

func TestModel_Update_QuitMsg(t *testing.T) {
	model := New(Config{Source: staticSource(nil)})
	newModel, cmd := model.Update(QuitMsg{})
	m := newModel.(Model)
	if !m.quitting {
		t.Error("QuitMsg should set quitting")
	}
	if cmd == nil {
		t.Error("QuitMsg should return tea.Quit")
	}
}

// =============================================================================
// Tests: Start / Stop
// =============================================================================

func TestModel_Toggle_RemoteMode(t *testing.T) {
	model := New(Config{Source: staticSource(sampleSnapshot())})
	newModel, cmd := model.Update(keyMsg("s"))
	m := newModel.(Model)

	if cmd != nil {
		t.Error("toggle without a poller should not return a command")
	}
	if !strings.Contains(m.Message(), "local poller") {
		t.Errorf("Message() = %q", m.Message())
	}
}

func TestModel_Toggle_StartAndStop(t *testing.T) {
	p := &fakePoller{}
	opts := supervisor.Options{Interval: time.Minute, AlignToMinute: true}
	model := New(Config{Source: staticSource(nil), Poller: p, StartOptions: opts})

	// Start
	newModel, cmd := model.Update(keyMsg("s"))
	m := newModel.(Model)
	if !m.Busy() || cmd == nil {
		t.Fatalf("busy = %v, cmd nil = %v", m.Busy(), cmd == nil)
	}

	// A second press while busy is ignored.
	again, againCmd := m.Update(keyMsg("s"))
	if againCmd != nil {
		t.Error("toggle while busy should be ignored")
	}
	m = again.(Model)

	msg := cmd()
	toggle, ok := msg.(ToggleMsg)
	if !ok || !toggle.Started {
		t.Fatalf("cmd() = %#v, want Started", msg)
	}
	if len(p.started) != 1 || p.started[0] != opts {
		t.Errorf("Start calls = %v", p.started)
	}

	newModel, _ = m.Update(toggle)
	m = newModel.(Model)
	if m.Busy() {
		t.Error("busy not cleared")
	}
	if m.Message() != "poller started" {
		t.Errorf("Message() = %q", m.Message())
	}
	if m.status == nil || !m.status.Running {
		t.Error("status not refreshed after start")
	}

	// Stop
	newModel, cmd = m.Update(keyMsg("s"))
	m = newModel.(Model)
	msg = cmd()
	if toggle, ok := msg.(ToggleMsg); !ok || !toggle.Stopped {
		t.Fatalf("cmd() = %#v, want Stopped", msg)
	}
	newModel, _ = m.Update(msg)
	m = newModel.(Model)
	if m.Message() != "poller stopped" || p.stops != 1 {
		t.Errorf("Message() = %q, stops = %d", m.Message(), p.stops)
	}
}

func TestModel_Toggle_StartError(t *testing.T) {
	p := &fakePoller{startErr: errors.New("interval must be positive")}
	model := New(Config{Source: staticSource(nil), Poller: p})

	_, cmd := model.Update(keyMsg("s"))
	msg := cmd()
	newModel, _ := model.Update(msg)
	m := newModel.(Model)

	if !m.messageErr {
		t.Error("start error not flagged")
	}
	if !strings.Contains(m.Message(), "interval must be positive") {
		t.Errorf("Message() = %q", m.Message())
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	m := New(Config{Source: staticSource(sampleSnapshot())})
	m.quitting = true
	if v := m.View(); v != "" {
		t.Errorf("View() = %q, want empty when quitting", v)
	}
}

func TestModel_View_NoData(t *testing.T) {
	m := New(Config{Source: staticSource(nil)})
	m.width = 120
	view := m.View()

	for _, want := range []string{"umg-vpn-poller", "No data yet", "No readings yet", "q: quit"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
	if strings.Contains(view, "s: start poller") {
		t.Error("start shortcut shown without a poller")
	}
}

func TestModel_View_RemoteSnapshot(t *testing.T) {
	m := New(Config{Source: staticSource(sampleSnapshot()), MetricsAddr: "127.0.0.1:8000"})
	m.width = 140
	view := m.View()

	for _, want := range []string{
		"connected",
		"Site-UMG",
		"192.168.1.30",
		"12.5 ms",
		"48.0 ms",
		"5 ok / 1 failed",
		"3.50 s",
		"frequency",
		"50.010",
		"power_total",
		"Metrics: 127.0.0.1:8000",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_ScrapeError(t *testing.T) {
	snap := sampleSnapshot()
	snap.Err = "Not yet scraped"
	m := New(Config{Source: staticSource(snap)})
	m.width = 120
	if !strings.Contains(m.View(), "Not yet scraped") {
		t.Error("scrape error not shown")
	}
}

func TestModel_View_LocalPoller(t *testing.T) {
	now := time.Date(2026, 10, 18, 12, 0, 30, 0, time.UTC)
	target := now.Add(30 * time.Second)
	read := now.Add(-30*time.Second + 40*time.Millisecond)
	prevTarget := now.Add(-30 * time.Second)

	p := &fakePoller{status: supervisor.Status{
		Running:         true,
		State:           supervisor.StateWaiting,
		Options:         supervisor.Options{Interval: time.Minute, AlignToMinute: true},
		CyclesCompleted: 4,
		EstimateSeconds: 2.25,
		NextTarget:      &target,
		LastPayload:     &poll.Payload{TargetTime: &prevTarget, ReadAt: read},
		LastError:       "",
	}}
	summary := stats.Summary{
		Count:        4,
		DurationP50:  2 * time.Second,
		DurationP95:  3 * time.Second,
		DurationMax:  3 * time.Second,
		AlignedCount: 4,
		AlignmentP50: 40 * time.Millisecond,
	}

	m := New(Config{
		Source: staticSource(sampleSnapshot()),
		Poller: p,
		Stats:  fakeStats{summary},
	})
	m.now = func() time.Time { return now }
	m.width = 140
	view := m.View()

	for _, want := range []string{
		"waiting",
		"4 ok",
		"0 failed",
		"2.25 s",
		"12:01:00 (in 30s)",
		"+40.0 ms",
		"Cycle Duration",
		"Alignment Error",
		"s: stop poller",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_SmallWidth(t *testing.T) {
	m := New(Config{Source: staticSource(sampleSnapshot()), Poller: &fakePoller{}})
	m.width = 20
	if m.View() == "" {
		t.Error("View() empty at narrow width")
	}
}

// =============================================================================
// Tests: Accessors / Formatting
// =============================================================================

func TestModel_Elapsed(t *testing.T) {
	m := New(Config{Source: staticSource(nil)})
	start := m.startTime
	m.now = func() time.Time { return start.Add(90 * time.Second) }
	if got := m.Elapsed(); got != 90*time.Second {
		t.Errorf("Elapsed() = %v, want 90s", got)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00"},
		{-time.Second, "00:00:00"},
		{59 * time.Second, "00:00:59"},
		{time.Hour + 2*time.Minute + 3*time.Second, "01:02:03"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatDuration(tt.d); got != tt.want {
				t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatSignedMs(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "+0.0 ms"},
		{40 * time.Millisecond, "+40.0 ms"},
		{-1500 * time.Microsecond, "-1.5 ms"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := formatSignedMs(tt.d); got != tt.want {
				t.Errorf("formatSignedMs(%v) = %q, want %q", tt.d, got, tt.want)
			}
		})
	}
}

func TestFormatLatency(t *testing.T) {
	v := 3.14159
	if got := formatLatency(&v); got != "3.1 ms" {
		t.Errorf("formatLatency = %q", got)
	}
	if got := formatLatency(nil); got != "n/a" {
		t.Errorf("formatLatency(nil) = %q", got)
	}
}
