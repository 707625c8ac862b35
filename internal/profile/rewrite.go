package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// inlineSections maps inline block tags to the file they are extracted into.
// Order matters: directives are appended in this order.
var inlineSections = []struct {
	tag       string
	file      string
	directive string
}{
	{"ca", "ca.crt", "ca ca.crt"},
	{"cert", "client.crt", "cert client.crt"},
	{"key", "client.key", "key client.key"},
	{"tls-auth", "ta.key", "tls-auth ta.key 1"},
	{"tls-crypt", "ta.key", "tls-crypt ta.key"},
}

// replacedPrefixes are directives dropped from the input and re-added with
// known-good values by optimizedDirectives.
var replacedPrefixes = []string{
	"dev ",
	"proto ",
	"cipher ",
	"data-ciphers",
	"auth ",
	"comp-lzo",
	"compress",
	"resolv-retry",
	"ping ",
	"ping-restart",
	"ping-timer-rem",
	"server-poll-timeout",
	"explicit-exit-notify",
	"setenv opt",
	"tun-mtu",
	"mssfix",
}

var optimizedDirectives = []string{
	"client",
	"dev tun",
	"proto udp",
	"nobind",
	"remote-cert-tls server",
	"resolv-retry infinite",
	"setenv opt block-outside-dns",
	"cipher AES-256-GCM",
	"ncp-ciphers AES-256-GCM:AES-128-GCM:AES-256-CBC",
	"data-ciphers AES-256-GCM:AES-128-GCM:AES-256-CBC",
	"data-ciphers-fallback AES-256-CBC",
	"tun-mtu 1500",
	"mssfix 1360",
	"ping 10",
	"ping-restart 60",
	"ping-timer-rem",
	"server-poll-timeout 10",
	"explicit-exit-notify 2",
}

// ExtractCertificates writes every inline certificate block of raw into
// outDir and returns the written paths keyed by tag.
func ExtractCertificates(raw, outDir string) (map[string]string, error) {
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}

	assets := make(map[string]string)
	for _, s := range inlineSections {
		re := regexp.MustCompile(`(?is)<` + regexp.QuoteMeta(s.tag) + `>(.*?)</` + regexp.QuoteMeta(s.tag) + `>`)
		m := re.FindStringSubmatch(raw)
		if m == nil {
			continue
		}
		path := filepath.Join(outDir, s.file)
		if err := os.WriteFile(path, []byte(strings.TrimSpace(m[1])+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write %s: %w", s.file, err)
		}
		assets[s.tag] = path
	}
	return assets, nil
}

// Clean produces a GUI-importable profile from raw. Inline blocks that were
// extracted are replaced by file directives, a host route to deviceIP is
// added, transport directives are normalized and exact duplicate lines
// removed.
func Clean(raw string, extracted map[string]string, deviceIP string) string {
	lines := stripInline(raw, extracted)

	for _, s := range inlineSections {
		if _, ok := extracted[s.tag]; !ok {
			continue
		}
		lines = removePrefix(lines, s.tag+" ")
		lines = append(lines, s.directive)
	}

	kept := lines[:0]
	for _, line := range lines {
		lower := strings.ToLower(strings.TrimSpace(line))
		if !hasAnyPrefix(lower, replacedPrefixes) {
			kept = append(kept, line)
		}
	}
	lines = kept

	routePrefix := "route " + strings.ToLower(deviceIP)
	hasRoute := false
	for _, line := range lines {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), routePrefix) {
			hasRoute = true
			break
		}
	}
	if !hasRoute {
		lines = append(lines, fmt.Sprintf("route %s 255.255.255.255", deviceIP))
	}

	for _, d := range optimizedDirectives {
		lines = ensure(lines, d)
	}

	return strings.TrimSpace(strings.Join(dedupe(lines), "\n")) + "\n"
}

// Prepare extracts certificates from raw into assetsDir, writes the cleaned
// profile as <profileName>.ovpn next to them and returns its path.
func Prepare(raw, assetsDir, deviceIP, profileName string) (string, error) {
	extracted, err := ExtractCertificates(raw, assetsDir)
	if err != nil {
		return "", err
	}
	clean := Clean(raw, extracted, deviceIP)

	path := filepath.Join(assetsDir, profileName+Extension)
	if err := os.WriteFile(path, []byte(clean), 0o600); err != nil {
		return "", fmt.Errorf("write clean profile: %w", err)
	}
	return path, nil
}

// PrepareFile reads the profile at src and runs Prepare on it.
func PrepareFile(src, assetsDir, deviceIP, profileName string) (string, error) {
	raw, err := os.ReadFile(src)
	if err != nil {
		return "", fmt.Errorf("read profile: %w", err)
	}
	return Prepare(string(raw), assetsDir, deviceIP, profileName)
}

func stripInline(raw string, extracted map[string]string) []string {
	var (
		out  []string
		skip string
	)
	for _, line := range strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n") {
		lower := strings.ToLower(strings.TrimSpace(line))
		if skip != "" {
			if lower == "</"+skip+">" {
				skip = ""
			}
			continue
		}
		if strings.HasPrefix(lower, "<") && strings.HasSuffix(lower, ">") {
			tag := strings.Trim(lower, "<>")
			if _, ok := extracted[tag]; ok {
				skip = tag
				continue
			}
		}
		out = append(out, line)
	}
	return out
}

func removePrefix(lines []string, prefix string) []string {
	out := lines[:0]
	for _, line := range lines {
		if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(line)), prefix) {
			out = append(out, line)
		}
	}
	return out
}

func ensure(lines []string, directive string) []string {
	want := strings.ToLower(directive)
	for _, line := range lines {
		if strings.ToLower(strings.TrimSpace(line)) == want {
			return lines
		}
	}
	return append(lines, directive)
}

func dedupe(lines []string) []string {
	seen := make(map[string]bool, len(lines))
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if seen[line] {
			continue
		}
		seen[line] = true
		out = append(out, line)
	}
	return out
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
