package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
)

// =============================================================================
// Dashboard
// =============================================================================

func (m Model) renderDashboard() string {
	sections := []string{m.renderHeader()}

	if m.snap != nil && m.snap.Err != "" {
		sections = append(sections, warnStyle.Render("⚠ metrics: "+m.snap.Err))
	}

	sections = append(sections,
		boxStyle.Width(m.width-2).Render(renderTwoColumns(m.linkLines(), m.pollerLines(), m.width-2)),
	)

	if m.summary != nil && m.summary.Count > 0 {
		sections = append(sections, m.renderCycleStats())
	}

	sections = append(sections, m.renderRegisters())

	if m.message != "" {
		style := goodStyle
		if m.messageErr {
			style = badStyle
		}
		sections = append(sections, style.Render(m.message))
	}

	sections = append(sections, m.renderFooter())
	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	vpnUp := m.snap != nil && m.snap.VPNConnected
	header := fmt.Sprintf(
		" umg-vpn-poller │ VPN %s │ Poller: %s │ Elapsed: %s ",
		GetUpLabel(vpnUp, "up", "down"),
		m.pollerState(),
		formatDuration(m.Elapsed()),
	)
	return headerStyle.Width(m.width).Render(header)
}

// pollerState prefers the local poller's state and falls back to the
// running gauge of a scraped snapshot.
func (m Model) pollerState() string {
	if m.status != nil {
		return m.status.State.String()
	}
	if m.snap != nil && m.snap.PollRunning {
		return "running"
	}
	return "idle"
}

// =============================================================================
// VPN / Device column
// =============================================================================

func (m Model) linkLines() []string {
	lines := []string{sectionHeaderStyle.Render("VPN & Device")}
	s := m.snap
	if s == nil {
		return append(lines, mutedStyle.Render("No data yet"))
	}

	profile := s.Profile
	if profile == "" {
		profile = "-"
	}
	device := s.Device
	if device == "" {
		device = m.cfg.Device
	}

	lines = append(lines,
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Tunnel:"),
			GetUpLabel(s.VPNConnected, "connected", "disconnected"),
		),
		RenderKeyValue("Profile", profile),
		RenderKeyValue("Connects", fmt.Sprintf("%s ok / %s failed", formatCount(s.ConnectsOK), formatCount(s.ConnectsFailed))),
		"",
		RenderKeyValue("Device", device),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Reachable:"),
			GetUpLabel(s.DeviceReachable, "yes", "no"),
		),
		RenderKeyValue("HTTP", formatLatency(s.HTTPLatencyMs)),
		RenderKeyValue("Modbus", formatLatency(s.ModbusLatencyMs)),
	)
	return lines
}

// =============================================================================
// Poller column
// =============================================================================

func (m Model) pollerLines() []string {
	lines := []string{sectionHeaderStyle.Render("Poller")}

	if st := m.status; st != nil {
		total := st.CyclesCompleted + st.Failures
		failRate := 0.0
		if total > 0 {
			failRate = float64(st.Failures) / float64(total)
		}
		lines = append(lines,
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("State:"),
				GetStateStyle(st.State).Render(st.State.String()),
			),
			lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Cycles:"),
				valueStyle.Render(fmt.Sprintf("%d ok", st.CyclesCompleted)),
				mutedStyle.Render(" / "),
				GetFailureStyle(failRate).Render(fmt.Sprintf("%d failed", st.Failures)),
			),
			RenderKeyValue("Estimate", formatSeconds(st.EstimateSeconds)),
		)
		lines = append(lines, m.nextTargetLines(st)...)
		if p := st.LastPayload; p != nil && p.TargetTime != nil {
			align := p.AlignmentError()
			lines = append(lines, lipgloss.JoinHorizontal(lipgloss.Left,
				labelStyle.Render("Last alignment:"),
				GetAlignmentStyle(align).Render(formatSignedMs(align)),
			))
		}
		if st.LastError != "" {
			lines = append(lines, badStyle.Render("✗ "+st.LastError))
		}
		return lines
	}

	s := m.snap
	if s == nil {
		return append(lines, mutedStyle.Render("No data yet"))
	}
	align := time.Duration(s.LastAlignSeconds * float64(time.Second))
	lines = append(lines,
		RenderKeyValue("State", m.pollerState()),
		RenderKeyValue("Cycles", fmt.Sprintf("%s ok / %s failed", formatCount(s.CyclesOK), formatCount(s.CyclesFailed))),
		RenderKeyValue("Estimate", formatSeconds(s.EstimateSeconds)),
		RenderKeyValue("Cycle P50", formatSeconds(s.CycleP50Seconds)),
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render("Last alignment:"),
			GetAlignmentStyle(align).Render(formatSignedMs(align)),
		),
	)
	return lines
}

// nextTargetLines shows the next target with a countdown bar over the
// configured interval.
func (m Model) nextTargetLines(st *supervisor.Status) []string {
	if st.NextTarget == nil || !st.Running {
		return []string{RenderKeyValue("Next target", "-")}
	}
	remaining := st.NextTarget.Sub(m.now())
	if remaining < 0 {
		remaining = 0
	}
	lines := []string{RenderKeyValue("Next target",
		fmt.Sprintf("%s (in %s)", st.NextTarget.Format("15:04:05"), remaining.Truncate(time.Second)))}
	if iv := st.Options.Interval; iv > 0 {
		progress := 1 - float64(remaining)/float64(iv)
		lines = append(lines, RenderProgressBar(progress, 24))
	}
	return lines
}

// =============================================================================
// Cycle Statistics
// =============================================================================

func (m Model) renderCycleStats() string {
	s := m.summary
	left := []string{
		sectionHeaderStyle.Render("Cycle Duration"),
		RenderKeyValue("P50", formatSeconds(s.DurationP50.Seconds())),
		RenderKeyValue("P95", formatSeconds(s.DurationP95.Seconds())),
		RenderKeyValue("Max", formatSeconds(s.DurationMax.Seconds())),
	}
	right := []string{sectionHeaderStyle.Render("Alignment Error")}
	if s.AlignedCount == 0 {
		right = append(right, mutedStyle.Render("No aligned cycles"))
	} else {
		right = append(right,
			lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("P50:"), GetAlignmentStyle(s.AlignmentP50).Render(formatSignedMs(s.AlignmentP50))),
			lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("P95:"), GetAlignmentStyle(s.AlignmentP95).Render(formatSignedMs(s.AlignmentP95))),
			lipgloss.JoinHorizontal(lipgloss.Left, labelStyle.Render("Max:"), GetAlignmentStyle(s.AlignmentMax).Render(formatSignedMs(s.AlignmentMax))),
		)
	}
	return boxStyle.Width(m.width - 2).Render(renderTwoColumns(left, right, m.width-2))
}

// =============================================================================
// Registers
// =============================================================================

func (m Model) renderRegisters() string {
	if m.snap == nil || len(m.snap.Registers) == 0 {
		return boxStyle.Width(m.width - 2).Render(
			lipgloss.JoinVertical(lipgloss.Left,
				sectionHeaderStyle.Render("Registers"),
				mutedStyle.Render("No readings yet"),
			),
		)
	}

	title := "Registers"
	if !m.snap.LastReading.IsZero() {
		title += faintStyle.Render("  read " + m.snap.LastReading.Format("15:04:05"))
	}
	rows := []string{
		sectionHeaderStyle.Render(title),
		lipgloss.JoinHorizontal(lipgloss.Left,
			registerHeaderStyle.Width(28).Render("Register"),
			registerHeaderStyle.Render("Value"),
		),
	}

	// Two registers per row keep the 17-register table within a screen.
	regs := m.snap.Registers
	for i := 0; i < len(regs); i += 2 {
		rowStyle := registerRowStyles[(i/2)%2]
		cell := func(j int) string {
			return lipgloss.JoinHorizontal(lipgloss.Left,
				rowStyle.Width(28).Render(regs[j].Name),
				lipgloss.NewStyle().Width(20).Render(formatValueUnit(regs[j].Value, regs[j].Unit)),
			)
		}
		line := cell(i)
		if i+1 < len(regs) {
			line = lipgloss.JoinHorizontal(lipgloss.Left, line, "  ", cell(i+1))
		}
		rows = append(rows, line)
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{"q: quit", "r: refresh"}
	if m.cfg.Poller != nil {
		label := "s: start poller"
		if m.status != nil && m.status.Running {
			label = "s: stop poller"
		}
		if m.busy {
			label = "s: working..."
		}
		shortcuts = append(shortcuts, label)
	}

	right := ""
	if m.cfg.MetricsAddr != "" {
		right = "Metrics: " + m.cfg.MetricsAddr
	}

	left := faintStyle.Render(strings.Join(shortcuts, " │ "))
	rightText := faintStyle.Render(right)

	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightText) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			rightText,
		),
	)
}

// =============================================================================
// Layout Helpers
// =============================================================================

func renderTwoColumns(left, right []string, totalWidth int) string {
	separatorWidth := 3
	padding := 2
	availableWidth := totalWidth - separatorWidth - padding*2

	leftWidth := availableWidth / 2
	if leftWidth < 20 {
		leftWidth = 20
	}

	leftContent := lipgloss.NewStyle().Width(leftWidth).Render(lipgloss.JoinVertical(lipgloss.Left, left...))
	rightContent := lipgloss.JoinVertical(lipgloss.Left, right...)

	separator := mutedStyle.Render(" │ ")
	return lipgloss.JoinHorizontal(lipgloss.Top, leftContent, separator, rightContent)
}
