package stats

import (
	"fmt"
	"strings"
	"time"
)

// SummaryConfig holds run information shown alongside the cycle summary.
type SummaryConfig struct {
	// Duration is the total run duration
	Duration time.Duration

	// Device is the meter address that was polled
	Device string

	// Interval and Aligned describe the schedule
	Interval time.Duration
	Aligned  bool

	// Estimate is the runtime estimate at exit
	Estimate time.Duration

	// ExportsDir is where readings were written
	ExportsDir string

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string
}

const (
	heavyRule = "═══════════════════════════════════════════════════════════════════════════════\n"
	lightRule = "───────────────────────────────────────────────────────────────────────────────\n"
)

// FormatExitSummary formats cycle statistics for display when a poll run ends.
func FormatExitSummary(s Summary, cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(heavyRule)
	b.WriteString("                          umg-vpn-poller Run Summary\n")
	b.WriteString(heavyRule + "\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Device != "" {
		fmt.Fprintf(&b, "Device:                 %s\n", cfg.Device)
	}
	schedule := "every " + cfg.Interval.String()
	if cfg.Aligned {
		schedule += ", aligned to minute"
	}
	fmt.Fprintf(&b, "Schedule:               %s\n", schedule)
	fmt.Fprintf(&b, "Cycles:                 %d (%d failed, %.1f%% ok)\n\n",
		s.Count, s.Failures, s.SuccessRate()*100)

	if s.Count > 0 {
		section(&b, "Cycle Duration")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatSeconds(s.DurationP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatSeconds(s.DurationP95))
		fmt.Fprintf(&b, "  Max:                  %s\n", FormatSeconds(s.DurationMax))
		fmt.Fprintf(&b, "  Runtime Estimate:     %s\n\n", FormatSeconds(cfg.Estimate))
	}

	if s.AlignedCount > 0 {
		section(&b, "Alignment Error")
		fmt.Fprintf(&b, "  P50 (median):         %s\n", FormatMs(s.AlignmentP50))
		fmt.Fprintf(&b, "  P95:                  %s\n", FormatMs(s.AlignmentP95))
		fmt.Fprintf(&b, "  Max:                  %s\n\n", FormatMs(s.AlignmentMax))
	}

	if s.LastError != "" {
		section(&b, "Errors")
		fmt.Fprintf(&b, "  Last Error:           %s\n\n", s.LastError)
	}

	if cfg.ExportsDir != "" {
		fmt.Fprintf(&b, "Readings written to: %s\n", cfg.ExportsDir)
	}
	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(heavyRule)
	return b.String()
}

func section(b *strings.Builder, title string) {
	b.WriteString(lightRule)
	pad := (len(lightRule)/3 - len(title)) / 2
	if pad < 0 {
		pad = 0
	}
	b.WriteString(strings.Repeat(" ", pad) + title + "\n")
	b.WriteString(lightRule + "\n")
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatSeconds formats a duration as seconds with two decimals.
func FormatSeconds(d time.Duration) string {
	return fmt.Sprintf("%.2f s", d.Seconds())
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}
