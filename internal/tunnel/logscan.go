package tunnel

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/prognoza/umg-vpn-poller/internal/logging"
)

const (
	// tailBytes is how much of the end of the tunnel log is inspected.
	tailBytes = 64 * 1024

	successMarker = "initialization sequence completed"

	adminHint = "Run the orchestrator as Administrator (or root) so OpenVPN can configure the tunnel adapter."
)

// failureSignature is a known failure pattern in the openvpn log.
type failureSignature struct {
	label   string
	needles []string
	hint    string
}

// Checked in order for each line.
var failureSignatures = []failureSignature{
	{label: "Authentication failed", needles: []string{"auth_failed", "authentication failed"}},
	{label: "Permission denied", needles: []string{"access is denied", "permission denied", "operation not permitted"}, hint: adminHint},
	{label: "Cannot open TUN/TAP adapter", needles: []string{"cannot open tun", "there are no tap-windows", "all tap-windows adapters", "open_tun"}},
	{label: "Fatal error", needles: []string{"fatal"}},
	{label: "Connection reset", needles: []string{"connection reset"}},
	{label: "TLS handshake failed", needles: []string{"tls error", "tls handshake failed", "tls key negotiation failed"}},
	{label: "Session terminated", needles: []string{"session terminated", "sigterm[soft", "sigterm[hard"}},
}

// LogReport is the interpretation of the tunnel log tail.
type LogReport struct {
	Success    bool   `json:"success"`
	Failure    string `json:"failure,omitempty"`
	Line       string `json:"line,omitempty"`
	Hint       string `json:"hint,omitempty"`
	LastLine   string `json:"last_line,omitempty"`
	Diagnostic string `json:"diagnostic,omitempty"`
}

// Failed reports whether a failure signature matched.
func (r LogReport) Failed() bool {
	return r.Failure != ""
}

// InspectLog reads the tail of the log at path and interprets it. A missing
// log yields an empty report.
func InspectLog(path string) (LogReport, error) {
	lines, err := tailLines(path, logging.MaxBufferedLines)
	if err != nil {
		return LogReport{}, err
	}
	return interpret(lines), nil
}

// interpret scans from the most recent line backward; the first success or
// failure match wins.
func interpret(lines []string) LogReport {
	var r LogReport
	if len(lines) == 0 {
		return r
	}
	r.LastLine = lines[len(lines)-1]

	for i := len(lines) - 1; i >= 0; i-- {
		lower := strings.ToLower(lines[i])
		if strings.Contains(lower, successMarker) {
			r.Success = true
			r.Line = lines[i]
			return r
		}
		for _, sig := range failureSignatures {
			if containsAny(lower, sig.needles) {
				r.Failure = sig.label
				r.Line = lines[i]
				r.Hint = sig.hint
				r.Diagnostic = fmt.Sprintf("%s: %s", sig.label, strings.TrimSpace(lines[i]))
				if sig.hint != "" {
					r.Diagnostic += " " + sig.hint
				}
				return r
			}
		}
	}
	return r
}

func tailLines(path string, n int) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("open tunnel log: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat tunnel log: %w", err)
	}
	offset := info.Size() - tailBytes
	partial := offset > 0
	if offset < 0 {
		offset = 0
	}
	if _, err := f.Seek(offset, io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek tunnel log: %w", err)
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read tunnel log: %w", err)
	}

	raw := strings.Split(string(data), "\n")
	if partial && len(raw) > 0 {
		// First line was cut by the seek.
		raw = raw[1:]
	}

	buf := logging.NewLineBuffer(n)
	for _, line := range raw {
		buf.Add(line)
	}
	return buf.Lines(), nil
}

func containsAny(s string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}
