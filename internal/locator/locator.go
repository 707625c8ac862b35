// Package locator finds the installed OpenVPN executables.
//
// Detection never fails: a host without OpenVPN yields MethodMissing.
package locator

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// Method identifies how tunnels are controlled.
type Method string

const (
	MethodGUI     Method = "gui"
	MethodCLI     Method = "cli"
	MethodMissing Method = "missing"
)

// Environment overrides.
const (
	EnvCLIPath = "OPENVPN_CLI_PATH"
	EnvGUIPath = "OPENVPN_GUI_PATH"
	EnvMethod  = "OPENVPN_METHOD"
)

// Detection is the result of one lookup.
type Detection struct {
	Method  Method `json:"method"`
	GUIPath string `json:"gui_path,omitempty"`
	CLIPath string `json:"cli_path,omitempty"`
}

// Path returns the executable used for the detected method.
func (d Detection) Path() string {
	switch d.Method {
	case MethodGUI:
		return d.GUIPath
	case MethodCLI:
		return d.CLIPath
	}
	return ""
}

// Locator searches the environment, PATH and platform install directories.
type Locator struct {
	// Preferred is the configured method ("gui", "cli" or "auto"/"").
	Preferred Method
	// CLIPath and GUIPath are explicit paths from configuration.
	CLIPath string
	GUIPath string

	GOOS     string
	Getenv   func(string) string
	LookPath func(string) (string, error)
	Stat     func(string) (os.FileInfo, error)
}

// New returns a Locator bound to the real host.
func New(preferred, cliPath, guiPath string) *Locator {
	return &Locator{
		Preferred: ParseMethod(preferred),
		CLIPath:   cliPath,
		GUIPath:   guiPath,
		GOOS:      runtime.GOOS,
		Getenv:    os.Getenv,
		LookPath:  exec.LookPath,
		Stat:      os.Stat,
	}
}

// ParseMethod maps a user string to a Method. Unknown values mean "auto"
// and return "".
func ParseMethod(s string) Method {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gui":
		return MethodGUI
	case "cli":
		return MethodCLI
	}
	return ""
}

// Detect looks up both executables and picks a method.
func (l *Locator) Detect() Detection {
	cli := l.firstFile(l.Getenv(EnvCLIPath), l.CLIPath)
	if cli == "" {
		cli = l.search(l.cliName())
	}
	gui := l.firstFile(l.Getenv(EnvGUIPath), l.GUIPath)
	if gui == "" {
		gui = l.search(l.guiName())
	}

	d := Detection{CLIPath: cli, GUIPath: gui}
	d.Method = choose(ParseMethod(l.Getenv(EnvMethod)), l.Preferred, cli != "", gui != "")
	return d
}

// choose applies: env method > preferred method > CLI > GUI > missing.
// A requested method only wins when its executable exists.
func choose(envMethod, preferred Method, hasCLI, hasGUI bool) Method {
	available := func(m Method) bool {
		return (m == MethodCLI && hasCLI) || (m == MethodGUI && hasGUI)
	}
	switch {
	case available(envMethod):
		return envMethod
	case available(preferred):
		return preferred
	case hasCLI:
		return MethodCLI
	case hasGUI:
		return MethodGUI
	}
	return MethodMissing
}

func (l *Locator) firstFile(paths ...string) string {
	for _, p := range paths {
		if p == "" {
			continue
		}
		if info, err := l.Stat(p); err == nil && !info.IsDir() {
			return p
		}
	}
	return ""
}

func (l *Locator) search(name string) string {
	if p, err := l.LookPath(name); err == nil && p != "" {
		return p
	}
	for _, dir := range l.installDirs() {
		if p := l.firstFile(filepath.Join(dir, name)); p != "" {
			return p
		}
	}
	return ""
}

func (l *Locator) cliName() string {
	if l.GOOS == "windows" {
		return "openvpn.exe"
	}
	return "openvpn"
}

func (l *Locator) guiName() string {
	if l.GOOS == "windows" {
		return "openvpn-gui.exe"
	}
	return "openvpn-gui"
}

func (l *Locator) installDirs() []string {
	if l.GOOS == "windows" {
		var dirs []string
		seen := map[string]bool{}
		for _, env := range []string{"ProgramFiles", "ProgramW6432", "ProgramFiles(x86)"} {
			base := l.Getenv(env)
			if base == "" || seen[base] {
				continue
			}
			seen[base] = true
			dirs = append(dirs, filepath.Join(base, "OpenVPN", "bin"))
		}
		return dirs
	}
	return []string{
		"/usr/sbin",
		"/usr/local/sbin",
		"/opt/homebrew/sbin",
		"/usr/local/opt/openvpn/sbin",
	}
}
