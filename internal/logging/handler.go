package logging

import (
	"log/slog"
	"strings"
	"sync"
)

const (
	// MaxLineLength is the maximum length of a single log line before truncation.
	MaxLineLength = 4096

	// MaxBufferedLines is the number of tunnel log lines kept for interpretation.
	MaxBufferedLines = 120
)

// LineBuffer keeps the most recent lines of an external process log.
type LineBuffer struct {
	size int

	// Circular buffer for recent lines
	buffer []string
	bufIdx int
	count  int
	mu     sync.Mutex
}

// NewLineBuffer creates a buffer holding at most size lines.
// A non-positive size uses MaxBufferedLines.
func NewLineBuffer(size int) *LineBuffer {
	if size <= 0 {
		size = MaxBufferedLines
	}
	return &LineBuffer{
		size:   size,
		buffer: make([]string, size),
	}
}

// Add stores a line, truncating overly long lines and skipping blank ones.
func (b *LineBuffer) Add(line string) {
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	if len(line) > MaxLineLength {
		line = line[:MaxLineLength] + "...(truncated)"
	}

	b.mu.Lock()
	b.buffer[b.bufIdx] = line
	b.bufIdx = (b.bufIdx + 1) % b.size
	if b.count < b.size {
		b.count++
	}
	b.mu.Unlock()
}

// Lines returns the buffered lines, oldest first.
func (b *LineBuffer) Lines() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	lines := make([]string, 0, b.count)
	for i := 0; i < b.count; i++ {
		idx := (b.bufIdx - b.count + i + b.size) % b.size
		lines = append(lines, b.buffer[idx])
	}
	return lines
}

// Last returns the most recent line, or "" when empty.
func (b *LineBuffer) Last() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.count == 0 {
		return ""
	}
	return b.buffer[(b.bufIdx-1+b.size)%b.size]
}

// Len returns the number of buffered lines.
func (b *LineBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// ClassifyLine determines the log level for an OpenVPN log line.
func ClassifyLine(line string) slog.Level {
	lower := strings.ToLower(line)

	switch {
	case strings.Contains(lower, "auth_failed"),
		strings.Contains(lower, "fatal"),
		strings.Contains(lower, "access is denied"),
		strings.Contains(lower, "permission denied"):
		return slog.LevelError
	case strings.Contains(lower, "tls error"),
		strings.Contains(lower, "connection reset"),
		strings.Contains(lower, "warning"),
		strings.Contains(lower, "restart"):
		return slog.LevelWarn
	case strings.Contains(lower, "initialization sequence completed"):
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
