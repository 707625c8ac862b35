package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/prognoza/umg-vpn-poller/internal/metrics"
	"github.com/prognoza/umg-vpn-poller/internal/stats"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// ToggleMsg reports the result of a start/stop request.
type ToggleMsg struct {
	Started bool
	Stopped bool
	Err     error
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// Poller is the background task the dashboard can start and stop.
type Poller interface {
	Start(opts supervisor.Options) error
	Stop() bool
	Status() supervisor.Status
}

// StatsSource provides cycle percentiles.
type StatsSource interface {
	Summary() stats.Summary
}

// Config holds TUI configuration.
type Config struct {
	Device      string
	MetricsAddr string

	// Source returns the latest metrics snapshot. Required.
	Source func() *metrics.Snapshot

	// Poller and Stats are only available when the dashboard runs in the
	// same process as the poller.
	Poller       Poller
	Stats        StatsSource
	StartOptions supervisor.Options
}

// Model represents the TUI state.
type Model struct {
	cfg Config

	snap    *metrics.Snapshot
	status  *supervisor.Status
	summary *stats.Summary

	startTime  time.Time
	lastUpdate time.Time
	now        func() time.Time

	message    string
	messageErr bool
	busy       bool

	width  int
	height int

	quitting bool
}

// New creates a new TUI model and takes the first snapshot.
func New(cfg Config) Model {
	m := Model{
		cfg:       cfg,
		now:       time.Now,
		startTime: time.Now(),
		width:     80,
		height:    24,
	}
	m.refresh()
	return m
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "r":
			m.refresh()
			return m, nil
		case "s":
			if m.cfg.Poller == nil {
				m.setMessage("poller control needs a local poller", true)
				return m, nil
			}
			if m.busy {
				return m, nil
			}
			m.busy = true
			return m, toggleCmd(m.cfg.Poller, m.cfg.StartOptions)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refresh()
		return m, tickCmd()

	case ToggleMsg:
		m.busy = false
		switch {
		case msg.Err != nil:
			m.setMessage("start failed: "+msg.Err.Error(), true)
		case msg.Started:
			m.setMessage("poller started", false)
		case msg.Stopped:
			m.setMessage("poller stopped", false)
		default:
			m.setMessage("poller was not running", false)
		}
		m.refresh()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}
	return m.renderDashboard()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// toggleCmd stops a running poller or starts an idle one. Stop can block
// while a cycle finishes, so it runs off the update loop.
func toggleCmd(p Poller, opts supervisor.Options) tea.Cmd {
	return func() tea.Msg {
		if p.Status().Running {
			return ToggleMsg{Stopped: p.Stop()}
		}
		if err := p.Start(opts); err != nil {
			return ToggleMsg{Err: err}
		}
		return ToggleMsg{Started: true}
	}
}

// =============================================================================
// State
// =============================================================================

func (m *Model) refresh() {
	if m.cfg.Source != nil {
		m.snap = m.cfg.Source()
	}
	if m.cfg.Poller != nil {
		st := m.cfg.Poller.Status()
		m.status = &st
	}
	if m.cfg.Stats != nil {
		s := m.cfg.Stats.Summary()
		m.summary = &s
	}
	m.lastUpdate = m.now()
}

func (m *Model) setMessage(msg string, isErr bool) {
	m.message = msg
	m.messageErr = isErr
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return m.now().Sub(m.startTime)
}

// Snapshot returns the last metrics snapshot, or nil.
func (m Model) Snapshot() *metrics.Snapshot {
	return m.snap
}

// Message returns the last action message.
func (m Model) Message() string {
	return m.message
}

// Busy reports whether a start/stop request is in flight.
func (m Model) Busy() bool {
	return m.busy
}

// =============================================================================
// Formatting Helpers
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	mins := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, mins, s)
}

// formatSeconds formats seconds with two decimals.
func formatSeconds(s float64) string {
	return fmt.Sprintf("%.2f s", s)
}

// formatSignedMs formats a signed duration in milliseconds.
func formatSignedMs(d time.Duration) string {
	return fmt.Sprintf("%+.1f ms", float64(d)/float64(time.Millisecond))
}

// formatLatency formats an optional latency.
func formatLatency(ms *float64) string {
	if ms == nil {
		return "n/a"
	}
	return fmt.Sprintf("%.1f ms", *ms)
}

// formatCount formats a counter value.
func formatCount(v float64) string {
	return fmt.Sprintf("%d", int64(v))
}
