// Package tui provides a live terminal dashboard for the poller.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for styling.
// It displays:
// - VPN tunnel state and connect counters
// - Background poller state, runtime estimate and next target
// - Device reachability and the last register values
// - Cycle duration and alignment percentiles
package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
)

// Palette. Grades (good/warn/bad) are shared by status labels and values.
var (
	colorAccent  = lipgloss.Color("#0EA5E9")
	colorHeading = lipgloss.Color("#FACC15")
	colorBanner  = lipgloss.Color("#1E3A5F")

	colorGood   = lipgloss.Color("#22C55E")
	colorWarn   = lipgloss.Color("#F97316")
	colorBad    = lipgloss.Color("#DC2626")
	colorActive = lipgloss.Color("#38BDF8")

	colorText  = lipgloss.Color("#F1F5F9")
	colorMuted = lipgloss.Color("#94A3B8")
	colorFaint = lipgloss.Color("#64748B")
	colorRule  = lipgloss.Color("#334155")
)

func fg(c lipgloss.Color) lipgloss.Style { return lipgloss.NewStyle().Foreground(c) }
func bold(c lipgloss.Color) lipgloss.Style { return fg(c).Bold(true) }

var (
	goodStyle   = bold(colorGood)
	warnStyle   = bold(colorWarn)
	badStyle    = bold(colorBad)
	activeStyle = bold(colorActive)
	valueStyle  = bold(colorText)

	mutedStyle = fg(colorMuted)
	faintStyle = fg(colorFaint)
	unitStyle  = faintStyle
	labelStyle = mutedStyle.Width(20)

	headerStyle = bold(colorText).
			Background(colorBanner).
			Padding(0, 1).
			MarginBottom(1)

	sectionHeaderStyle = bold(colorHeading).
				BorderStyle(lipgloss.NormalBorder()).
				BorderBottom(true).
				BorderForeground(colorRule)

	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorRule).
			Padding(0, 1)

	footerStyle = mutedStyle.MarginTop(1)

	// Register table: header plus alternating row shades.
	registerHeaderStyle = bold(colorAccent)
	registerRowStyles   = [2]lipgloss.Style{fg(colorText), mutedStyle}

	// Countdown to the next aligned target.
	meterFillStyle  = fg(colorAccent)
	meterTrackStyle = fg(colorRule)
)

// GetUpLabel renders a bullet with upText or downText.
func GetUpLabel(up bool, upText, downText string) string {
	if up {
		return goodStyle.Render("● " + upText)
	}
	return badStyle.Render("○ " + downText)
}

// GetStateStyle returns the style for a poller state.
func GetStateStyle(s supervisor.State) lipgloss.Style {
	switch s {
	case supervisor.StatePolling:
		return activeStyle
	case supervisor.StateWaiting:
		return goodStyle
	case supervisor.StateFailed:
		return badStyle
	case supervisor.StateStopped:
		return warnStyle
	default:
		return mutedStyle
	}
}

// GetAlignmentStyle grades how far a read landed from its target.
func GetAlignmentStyle(d time.Duration) lipgloss.Style {
	if d < 0 {
		d = -d
	}
	switch {
	case d <= 100*time.Millisecond:
		return goodStyle
	case d <= time.Second:
		return warnStyle
	default:
		return badStyle
	}
}

// GetFailureStyle returns a style based on the failure ratio.
func GetFailureStyle(failureRate float64) lipgloss.Style {
	switch {
	case failureRate == 0:
		return goodStyle
	case failureRate < 0.1:
		return warnStyle
	default:
		return badStyle
	}
}

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}

// RenderProgressBar renders a progress bar.
func RenderProgressBar(progress float64, width int) string {
	if width < 10 {
		width = 10
	}

	filled := int(progress * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}

	return meterFillStyle.Render(repeatChar('█', filled)) +
		meterTrackStyle.Render(repeatChar('░', width-filled))
}

func repeatChar(char rune, count int) string {
	if count <= 0 {
		return ""
	}
	result := make([]rune, count)
	for i := range result {
		result[i] = char
	}
	return string(result)
}

// formatValueUnit renders v with an optional unit.
func formatValueUnit(v float64, unit string) string {
	s := valueStyle.Render(fmt.Sprintf("%.3f", v))
	if unit == "" {
		return s
	}
	return s + " " + unitStyle.Render(unit)
}
