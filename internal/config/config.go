// Package config provides configuration management for umg-vpn-poller.
package config

import (
	"path/filepath"
	"strings"
	"time"
)

// Config holds all configuration options for the VPN orchestrator and poller.
type Config struct {
	// Filesystem layout
	DataDir    string `json:"data_dir"`
	RawDir     string `json:"raw_dir"`
	ExportsDir string `json:"exports_dir"`
	SecretsDir string `json:"secrets_dir"`
	AssetsDir  string `json:"assets_dir"`

	// Tunnel profile
	OVPNPath     string `json:"ovpn_path"`
	ProfileName  string `json:"profile_name"` // empty = derived from OVPNPath
	GUIConfigDir string `json:"gui_config_dir"`
	PIDFile      string `json:"pid_file"`
	TunnelLog    string `json:"tunnel_log"`

	// OpenVPN executables
	Method  string `json:"method"` // auto, gui, cli
	CLIPath string `json:"cli_path"`
	GUIPath string `json:"gui_path"`

	// Tunnel timings
	ConnectTimeout     time.Duration `json:"connect_timeout"`
	MinAttempts        int           `json:"min_attempts"`
	StatusProbeTimeout time.Duration `json:"status_probe_timeout"`
	SettleDelay        time.Duration `json:"settle_delay"`
	RestartDelay       time.Duration `json:"restart_delay"`
	StopTimeout        time.Duration `json:"stop_timeout"`

	// Device
	DeviceHost    string        `json:"device_host"`
	HTTPPort      int           `json:"http_port"`
	ModbusPort    int           `json:"modbus_port"`
	UnitID        int           `json:"unit_id"`
	DeviceTimeout time.Duration `json:"device_timeout"`
	RegistersFile string        `json:"registers_file"`
	ReadRetries   int           `json:"read_retries"`

	// Polling
	Interval        time.Duration `json:"interval"`
	Cycles          int           `json:"cycles"` // 0 = until stopped
	AlignToMinute   bool          `json:"align_to_minute"`
	EstimateInitial time.Duration `json:"estimate_initial"`
	EstimateFloor   time.Duration `json:"estimate_floor"`
	Milestones      []int         `json:"milestones"`

	// Observability
	ListenAddr string `json:"listen_addr"`
	Verbose    bool   `json:"verbose"`
	LogFormat  string `json:"log_format"` // json, text
	LogLevel   string `json:"log_level"`
	LogFile    string `json:"log_file"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "data",
		RawDir:     filepath.Join("data", "raw"),
		ExportsDir: filepath.Join("data", "exports"),
		SecretsDir: "secrets",
		AssetsDir:  filepath.Join("secrets", "assets"),

		OVPNPath:  filepath.Join("secrets", "Prognoza-UMG-509-PRO.ovpn"),
		PIDFile:   filepath.Join("data", "raw", "vpn.pid"),
		TunnelLog: filepath.Join("data", "raw", "vpn.log"),

		Method: "auto",

		ConnectTimeout:     60 * time.Second,
		MinAttempts:        3,
		StatusProbeTimeout: 5 * time.Second,
		SettleDelay:        2 * time.Second,
		RestartDelay:       3 * time.Second,
		StopTimeout:        10 * time.Second,

		DeviceHost:    "192.168.1.30",
		HTTPPort:      80,
		ModbusPort:    502,
		UnitID:        1,
		DeviceTimeout: 3 * time.Second,
		RegistersFile: "registers.yaml",
		ReadRetries:   3,

		Interval:        60 * time.Second,
		Cycles:          1,
		AlignToMinute:   true,
		EstimateInitial: 10 * time.Second,
		EstimateFloor:   2 * time.Second,
		Milestones:      []int{15, 30, 45, 60, 120, 240, 480, 720, 1440},

		ListenAddr: "127.0.0.1:8000",
		LogFormat:  "text",
		LogLevel:   "info",
	}
}

// Profile returns the tunnel profile name, derived from the config file's
// base name when not set explicitly.
func (c *Config) Profile() string {
	if c.ProfileName != "" {
		return c.ProfileName
	}
	base := filepath.Base(c.OVPNPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// Dirs returns the directories the process writes to.
func (c *Config) Dirs() []string {
	return []string{c.DataDir, c.RawDir, c.ExportsDir, c.AssetsDir}
}
