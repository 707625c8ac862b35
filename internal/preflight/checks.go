// Package preflight provides startup validation checks.
package preflight

import (
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	"github.com/prognoza/umg-vpn-poller/internal/config"
	"github.com/prognoza/umg-vpn-poller/internal/device"
	"github.com/prognoza/umg-vpn-poller/internal/locator"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
)

// Check represents the result of a single preflight check.
type Check struct {
	Name    string // Name of the check
	Passed  bool   // Whether the check passed
	Warning bool   // True if it's a warning (non-fatal)
	Message string // Additional context
}

// Result holds the results of all preflight checks.
type Result struct {
	Checks []Check
	Passed bool
}

// String returns a human-readable summary of the check.
func (c Check) String() string {
	status := "✓"
	if !c.Passed {
		status = "✗"
	} else if c.Warning {
		status = "⚠"
	}
	return fmt.Sprintf("  %s %s: %s", status, c.Name, c.Message)
}

func (r *Result) add(c Check) {
	r.Checks = append(r.Checks, c)
	if !c.Passed {
		r.Passed = false
	}
}

// RunAll executes all preflight checks for cfg.
func RunAll(cfg *config.Config) *Result {
	result := &Result{
		Checks: make([]Check, 0, 7),
		Passed: true,
	}

	det := locator.New(cfg.Method, cfg.CLIPath, cfg.GUIPath).Detect()
	result.add(checkOpenVPN(det))
	result.add(checkProfile(cfg.OVPNPath, cfg.SecretsDir))
	result.add(checkWritable(cfg.Dirs()))
	result.add(checkRegisters(cfg.RegistersFile))
	result.add(checkDeviceAddress(cfg.DeviceHost))
	result.add(checkPing(exec.LookPath))
	result.add(checkPrivileges(runtime.GOOS, os.Geteuid()))

	return result
}

// checkOpenVPN verifies an openvpn or openvpn-gui executable was found.
func checkOpenVPN(det locator.Detection) Check {
	if det.Method == locator.MethodMissing {
		return Check{
			Name:    "openvpn",
			Passed:  false,
			Message: "neither openvpn nor openvpn-gui found",
		}
	}
	return Check{
		Name:    "openvpn",
		Passed:  true,
		Message: fmt.Sprintf("%s at %s", det.Method, det.Path()),
	}
}

// checkProfile verifies the configured profile resolves to a file.
func checkProfile(input, searchDir string) Check {
	res, err := profile.Resolve(input, searchDir, input)
	if err != nil {
		return Check{Name: "profile", Passed: false, Message: err.Error()}
	}
	msg := res.ConfigPath
	if res.Message != "" {
		msg = res.Message
	}
	return Check{Name: "profile", Passed: true, Message: msg}
}

// checkWritable creates every directory and a scratch file inside it.
func checkWritable(dirs []string) Check {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return Check{Name: "directories", Passed: false, Message: err.Error()}
		}
		f, err := os.CreateTemp(dir, ".preflight-*")
		if err != nil {
			return Check{Name: "directories", Passed: false, Message: fmt.Sprintf("%s not writable: %v", dir, err)}
		}
		name := f.Name()
		f.Close()
		os.Remove(name)
	}
	return Check{Name: "directories", Passed: true, Message: fmt.Sprintf("%d writable", len(dirs))}
}

// checkRegisters verifies the register table parses.
func checkRegisters(path string) Check {
	regs, err := device.LoadRegisters(path)
	if err != nil {
		return Check{Name: "registers", Passed: false, Message: err.Error()}
	}
	source := "built-in UMG 509 table"
	if path != "" {
		if _, statErr := os.Stat(path); statErr == nil {
			source = filepath.Base(path)
		}
	}
	return Check{Name: "registers", Passed: true, Message: fmt.Sprintf("%d registers from %s", len(regs), source)}
}

// checkDeviceAddress warns when the device is given by name rather than IP;
// the host route added to the profile needs an address.
func checkDeviceAddress(host string) Check {
	if host == "" {
		return Check{Name: "device", Passed: false, Message: "no device address configured"}
	}
	if net.ParseIP(host) == nil {
		return Check{
			Name:    "device",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("%s is not an IP address; no host route will be added", host),
		}
	}
	return Check{Name: "device", Passed: true, Message: host}
}

// checkPing verifies the ping binary used for ICMP probes exists.
func checkPing(lookPath func(string) (string, error)) Check {
	path, err := lookPath("ping")
	if err != nil {
		return Check{
			Name:    "ping",
			Passed:  true,
			Warning: true,
			Message: "not found; reachability will rely on TCP only",
		}
	}
	return Check{Name: "ping", Passed: true, Message: path}
}

// checkPrivileges warns when the CLI worker will lack the rights to create
// a tun device.
func checkPrivileges(goos string, euid int) Check {
	if goos == "windows" {
		return Check{
			Name:    "privileges",
			Passed:  true,
			Warning: true,
			Message: "run as Administrator when using the openvpn CLI",
		}
	}
	if euid != 0 {
		return Check{
			Name:    "privileges",
			Passed:  true,
			Warning: true,
			Message: fmt.Sprintf("running as uid %d; openvpn usually needs root", euid),
		}
	}
	return Check{Name: "privileges", Passed: true, Message: "root"}
}

// PrintResults prints the preflight check results to stdout.
func PrintResults(result *Result) {
	fmt.Println("Preflight checks:")
	for _, check := range result.Checks {
		fmt.Println(check.String())
		if !check.Passed {
			fmt.Printf("    Fix: %s\n", suggestFix(check.Name))
		}
	}
	fmt.Println()
}

// suggestFix returns a suggestion for fixing a failed check.
func suggestFix(name string) string {
	switch name {
	case "openvpn":
		return "install OpenVPN or set OPENVPN_CLI_PATH / OPENVPN_GUI_PATH"
	case "profile":
		return "pass --ovpn with the profile path or place it in --secrets-dir"
	case "directories":
		return "check permissions of --data-dir, --exports-dir and --assets-dir"
	case "registers":
		return "fix the YAML register table or remove it to use the built-in one"
	case "device":
		return "pass --device with the meter's address"
	default:
		return "see documentation"
	}
}
