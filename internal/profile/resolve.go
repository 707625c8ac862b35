// Package profile resolves, rewrites and installs OpenVPN profiles.
package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/prognoza/umg-vpn-poller/internal/fault"
)

// Extension is the OpenVPN profile file extension.
const Extension = ".ovpn"

// Profile identifies one tunnel endpoint. Name is unique per managed tunnel.
type Profile struct {
	Name       string `json:"name"`
	ConfigPath string `json:"config_path"`
}

// Resolution is the outcome of resolving a user supplied profile path.
type Resolution struct {
	Profile
	// Message is set when the input did not match a file directly.
	Message string `json:"message,omitempty"`
}

// NameOf returns the profile name for a config file path.
func NameOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Resolve maps input to an existing profile file. Lookup order is the exact
// path, the path with the extension appended, the same names relative to
// searchDir, a fuzzy name match among the profiles in searchDir, and finally
// defaultPath when input is empty.
func Resolve(input, searchDir, defaultPath string) (Resolution, error) {
	const op = "profile.Resolve"

	input = strings.TrimSpace(input)
	if input == "" {
		if isFile(defaultPath) {
			return Resolution{Profile: newProfile(defaultPath)}, nil
		}
		return Resolution{}, fault.Newf(fault.KindNotFound, op,
			"Configuration file not found: %s. Checked: %s", defaultPath, defaultPath)
	}

	var checked []string
	seen := map[string]bool{}
	try := func(p string) bool {
		if p == "" || seen[p] {
			return false
		}
		seen[p] = true
		checked = append(checked, p)
		return isFile(p)
	}

	for _, candidate := range candidates(input, searchDir) {
		if try(candidate) {
			return Resolution{Profile: newProfile(candidate)}, nil
		}
	}

	dirs := []string{searchDir}
	if d := filepath.Dir(input); d != "." && d != searchDir {
		dirs = append(dirs, d)
	}
	for _, dir := range dirs {
		if match := fuzzyMatch(input, dir); match != "" {
			return Resolution{
				Profile: newProfile(match),
				Message: fmt.Sprintf("Resolved %s to %s", input, match),
			}, nil
		}
	}

	return Resolution{}, fault.Newf(fault.KindNotFound, op,
		"Configuration file not found: %s. Checked: %s", input, strings.Join(checked, ", "))
}

func candidates(input, searchDir string) []string {
	names := []string{input}
	if !strings.EqualFold(filepath.Ext(input), Extension) {
		names = append(names, input+Extension)
	}

	out := append([]string(nil), names...)
	if searchDir == "" {
		return out
	}
	for _, n := range names {
		if !filepath.IsAbs(n) {
			out = append(out, filepath.Join(searchDir, n))
		}
		out = append(out, filepath.Join(searchDir, filepath.Base(n)))
	}
	return out
}

// fuzzyMatch compares names case-insensitively ignoring anything that is not
// a letter or digit. An exact normalized match wins over a containment match.
func fuzzyMatch(input, dir string) string {
	if dir == "" {
		return ""
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ""
	}

	want := normalize(NameOf(input))
	if want == "" {
		return ""
	}

	var partial []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), Extension) {
			continue
		}
		got := normalize(NameOf(e.Name()))
		path := filepath.Join(dir, e.Name())
		if got == want {
			return path
		}
		if strings.Contains(got, want) || strings.Contains(want, got) {
			partial = append(partial, path)
		}
	}
	// Ambiguous containment matches are not resolved.
	if len(partial) == 1 {
		return partial[0]
	}
	return ""
}

func normalize(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func newProfile(path string) Profile {
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return Profile{Name: NameOf(path), ConfigPath: path}
}

func isFile(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
