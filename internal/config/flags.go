package config

import (
	"fmt"
	"io"

	"github.com/spf13/pflag"
)

// flagGroups orders flags by category for the usage output.
var flagGroups = []struct {
	title string
	names []string
}{
	{"Profile", []string{"ovpn", "profile", "assets-dir", "gui-config-dir", "pid-file", "tunnel-log"}},
	{"OpenVPN", []string{"method", "openvpn-cli", "openvpn-gui"}},
	{"Tunnel Timing", []string{"connect-timeout", "min-attempts", "status-timeout", "settle-delay", "restart-delay", "stop-timeout"}},
	{"Device", []string{"device", "http-port", "modbus-port", "unit-id", "device-timeout", "registers", "read-retries"}},
	{"Polling", []string{"interval", "cycles", "align", "estimate-initial", "estimate-floor", "milestones"}},
	{"Storage", []string{"data-dir", "raw-dir", "exports-dir", "secrets-dir"}},
	{"Observability", []string{"listen", "v", "log-format", "log-level", "log-file"}},
}

// BindFlags registers every configuration flag on fs, using cfg's current
// values as defaults and writing parsed values back into cfg.
func BindFlags(fs *pflag.FlagSet, cfg *Config) {
	// Profile
	fs.StringVar(&cfg.OVPNPath, "ovpn", cfg.OVPNPath, "Path (or fuzzy name) of the OpenVPN profile")
	fs.StringVar(&cfg.ProfileName, "profile", cfg.ProfileName, "Profile name (default: base name of -ovpn)")
	fs.StringVar(&cfg.AssetsDir, "assets-dir", cfg.AssetsDir, "Directory for the cleaned profile and extracted certificates")
	fs.StringVar(&cfg.GUIConfigDir, "gui-config-dir", cfg.GUIConfigDir, "OpenVPN GUI config directory (default: ~/OpenVPN/config)")
	fs.StringVar(&cfg.PIDFile, "pid-file", cfg.PIDFile, "PID sentinel file for CLI-managed tunnels")
	fs.StringVar(&cfg.TunnelLog, "tunnel-log", cfg.TunnelLog, "Append-mode OpenVPN log file")

	// OpenVPN
	fs.StringVar(&cfg.Method, "method", cfg.Method, `Preferred control method: "auto", "gui" or "cli"`)
	fs.StringVar(&cfg.CLIPath, "openvpn-cli", cfg.CLIPath, "Path to the openvpn executable")
	fs.StringVar(&cfg.GUIPath, "openvpn-gui", cfg.GUIPath, "Path to the openvpn-gui executable")

	// Tunnel timing
	fs.DurationVar(&cfg.ConnectTimeout, "connect-timeout", cfg.ConnectTimeout, "Time allowed for interface address and reachability")
	fs.IntVar(&cfg.MinAttempts, "min-attempts", cfg.MinAttempts, "Minimum reachability attempts during connect")
	fs.DurationVar(&cfg.StatusProbeTimeout, "status-timeout", cfg.StatusProbeTimeout, "Time limit for the single status reachability probe")
	fs.DurationVar(&cfg.SettleDelay, "settle-delay", cfg.SettleDelay, "Wait after GUI commands before scanning processes")
	fs.DurationVar(&cfg.RestartDelay, "restart-delay", cfg.RestartDelay, "Wait after disconnecting a live tunnel before reconnecting")
	fs.DurationVar(&cfg.StopTimeout, "stop-timeout", cfg.StopTimeout, "Grace period before a tunnel process is killed")

	// Device
	fs.StringVar(&cfg.DeviceHost, "device", cfg.DeviceHost, "UMG device address behind the tunnel")
	fs.IntVar(&cfg.HTTPPort, "http-port", cfg.HTTPPort, "Device HTTP port")
	fs.IntVar(&cfg.ModbusPort, "modbus-port", cfg.ModbusPort, "Device Modbus TCP port")
	fs.IntVar(&cfg.UnitID, "unit-id", cfg.UnitID, "Modbus unit (slave) id")
	fs.DurationVar(&cfg.DeviceTimeout, "device-timeout", cfg.DeviceTimeout, "Device socket timeout")
	fs.StringVar(&cfg.RegistersFile, "registers", cfg.RegistersFile, "YAML register table (built-in UMG 509 table when missing)")
	fs.IntVar(&cfg.ReadRetries, "read-retries", cfg.ReadRetries, "Retries per register read")

	// Polling
	fs.DurationVar(&cfg.Interval, "interval", cfg.Interval, "Polling interval")
	fs.IntVar(&cfg.Cycles, "cycles", cfg.Cycles, "Number of poll cycles (0 = until stopped)")
	fs.BoolVar(&cfg.AlignToMinute, "align", cfg.AlignToMinute, "Align reads to wall-clock minute boundaries")
	fs.DurationVar(&cfg.EstimateInitial, "estimate-initial", cfg.EstimateInitial, "Initial cycle runtime estimate")
	fs.DurationVar(&cfg.EstimateFloor, "estimate-floor", cfg.EstimateFloor, "Lower bound of the runtime estimate")
	fs.IntSliceVar(&cfg.Milestones, "milestones", cfg.Milestones, "Minute milestones recorded in CSV rows")

	// Storage
	fs.StringVar(&cfg.DataDir, "data-dir", cfg.DataDir, "Base data directory")
	fs.StringVar(&cfg.RawDir, "raw-dir", cfg.RawDir, "Directory for runtime files")
	fs.StringVar(&cfg.ExportsDir, "exports-dir", cfg.ExportsDir, "Directory for daily CSV exports")
	fs.StringVar(&cfg.SecretsDir, "secrets-dir", cfg.SecretsDir, "Directory searched for OpenVPN profiles")

	// Observability
	fs.StringVar(&cfg.ListenAddr, "listen", cfg.ListenAddr, "HTTP API / metrics address")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Verbose logging")
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, `Log format: "json" or "text"`)
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, `Log level: "debug", "info", "warn", "error"`)
	fs.StringVar(&cfg.LogFile, "log-file", cfg.LogFile, "Also append logs to this file")
}

// PrintUsage writes the flags of fs grouped by category.
func PrintUsage(w io.Writer, fs *pflag.FlagSet) {
	for _, group := range flagGroups {
		fmt.Fprintf(w, "\n%s:\n", group.title)
		for _, name := range group.names {
			f := fs.Lookup(name)
			if f == nil {
				f = fs.ShorthandLookup(name)
			}
			if f == nil {
				continue
			}
			fmt.Fprintf(w, "  --%s %s\n    \t%s", f.Name, f.Value.Type(), f.Usage)
			if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "0s" && f.DefValue != "[]" {
				fmt.Fprintf(w, " (default %s)", f.DefValue)
			}
			fmt.Fprintln(w)
		}
	}
}
