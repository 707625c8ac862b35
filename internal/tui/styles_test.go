package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
)

// =============================================================================
// Tests: GetStateStyle
// =============================================================================

func TestGetStateStyle(t *testing.T) {
	tests := []struct {
		state supervisor.State
		want  lipgloss.Color
	}{
		{supervisor.StateIdle, colorMuted},
		{supervisor.StateWaiting, colorGood},
		{supervisor.StatePolling, colorActive},
		{supervisor.StateStopped, colorWarn},
		{supervisor.StateFailed, colorBad},
	}

	for _, tt := range tests {
		t.Run(tt.state.String(), func(t *testing.T) {
			if got := GetStateStyle(tt.state).GetForeground(); got != tt.want {
				t.Errorf("GetStateStyle(%v) foreground = %v, want %v", tt.state, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: GetAlignmentStyle
// =============================================================================

func TestGetAlignmentStyle(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want lipgloss.Color
	}{
		{"exact", 0, colorGood},
		{"100ms", 100 * time.Millisecond, colorGood},
		{"early 50ms", -50 * time.Millisecond, colorGood},
		{"500ms", 500 * time.Millisecond, colorWarn},
		{"early 1s", -time.Second, colorWarn},
		{"3s", 3 * time.Second, colorBad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetAlignmentStyle(tt.d).GetForeground(); got != tt.want {
				t.Errorf("GetAlignmentStyle(%v) foreground = %v, want %v", tt.d, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: GetFailureStyle
// =============================================================================

func TestGetFailureStyle(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want lipgloss.Color
	}{
		{"none", 0, colorGood},
		{"5%", 0.05, colorWarn},
		{"50%", 0.5, colorBad},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetFailureStyle(tt.rate).GetForeground(); got != tt.want {
				t.Errorf("GetFailureStyle(%v) foreground = %v, want %v", tt.rate, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: GetUpLabel
// =============================================================================

func TestGetUpLabel(t *testing.T) {
	if got := GetUpLabel(true, "up", "down"); !strings.Contains(got, "● up") {
		t.Errorf("GetUpLabel(true) = %q", got)
	}
	if got := GetUpLabel(false, "up", "down"); !strings.Contains(got, "○ down") {
		t.Errorf("GetUpLabel(false) = %q", got)
	}
}

// =============================================================================
// Tests: RenderKeyValue
// =============================================================================

func TestRenderKeyValue(t *testing.T) {
	result := RenderKeyValue("Label", "Value")

	if !strings.Contains(result, "Label:") {
		t.Error("result should contain label")
	}
	if !strings.Contains(result, "Value") {
		t.Error("result should contain value")
	}
}

// =============================================================================
// Tests: RenderProgressBar
// =============================================================================

func TestRenderProgressBar(t *testing.T) {
	tests := []struct {
		name       string
		progress   float64
		width      int
		wantFilled int
		wantTotal  int
	}{
		{"0%", 0, 20, 0, 20},
		{"50%", 0.5, 20, 10, 20},
		{"100%", 1.0, 20, 20, 20},
		{"narrow clamps to 10", 0.5, 5, 5, 10},
		{"over 100%", 1.5, 20, 20, 20},
		{"negative", -0.1, 20, 0, 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RenderProgressBar(tt.progress, tt.width)
			filled := strings.Count(result, "█")
			empty := strings.Count(result, "░")
			if filled != tt.wantFilled {
				t.Errorf("filled = %d, want %d", filled, tt.wantFilled)
			}
			if filled+empty != tt.wantTotal {
				t.Errorf("total = %d, want %d", filled+empty, tt.wantTotal)
			}
		})
	}
}

// =============================================================================
// Tests: repeatChar
// =============================================================================

func TestRepeatChar(t *testing.T) {
	tests := []struct {
		char  rune
		count int
		want  string
	}{
		{'x', 0, ""},
		{'x', 1, "x"},
		{'x', 5, "xxxxx"},
		{'█', 3, "███"},
		{'x', -1, ""},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := repeatChar(tt.char, tt.count); got != tt.want {
				t.Errorf("repeatChar(%q, %d) = %q, want %q", tt.char, tt.count, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: formatValueUnit
// =============================================================================

func TestFormatValueUnit(t *testing.T) {
	if got := formatValueUnit(230.41, "V"); !strings.Contains(got, "230.410") || !strings.Contains(got, "V") {
		t.Errorf("formatValueUnit = %q", got)
	}
	if got := formatValueUnit(0.5, ""); !strings.Contains(got, "0.500") {
		t.Errorf("formatValueUnit no unit = %q", got)
	}
}
