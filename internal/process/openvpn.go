package process

import (
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// OpenVPNConfig holds configuration for a CLI-managed openvpn worker.
type OpenVPNConfig struct {
	// BinaryPath is the path to the openvpn executable.
	BinaryPath string

	// ConfigPath is the cleaned profile passed via --config.
	ConfigPath string

	// Verbosity is the --verb level (0 keeps openvpn's default).
	Verbosity int

	// ExtraArgs are appended verbatim.
	ExtraArgs []string
}

// OpenVPNCommand builds worker commands for a profile.
type OpenVPNCommand struct {
	config *OpenVPNConfig
}

// NewOpenVPNCommand creates a command builder.
func NewOpenVPNCommand(cfg *OpenVPNConfig) *OpenVPNCommand {
	return &OpenVPNCommand{config: cfg}
}

// Build returns an unstarted command. The working directory is the profile's
// directory so relative certificate paths resolve.
func (c *OpenVPNCommand) Build() *exec.Cmd {
	cmd := exec.Command(c.config.BinaryPath, c.buildArgs()...)
	cmd.Dir = filepath.Dir(c.config.ConfigPath)
	return cmd
}

func (c *OpenVPNCommand) buildArgs() []string {
	args := []string{
		"--config", c.config.ConfigPath,
		"--cd", filepath.Dir(c.config.ConfigPath),
	}
	if c.config.Verbosity > 0 {
		args = append(args, "--verb", strconv.Itoa(c.config.Verbosity))
	}
	return append(args, c.config.ExtraArgs...)
}

// CommandString returns the command that would be executed (for debugging).
func (c *OpenVPNCommand) CommandString() string {
	return c.config.BinaryPath + " " + strings.Join(c.buildArgs(), " ")
}

// GUI control arguments understood by openvpn-gui.

func GUIConnectArgs(profile string) []string {
	return []string{"--connect", profile}
}

func GUIDisconnectArgs(profile string) []string {
	return []string{"--command", "disconnect", profile}
}

func GUIDisconnectAllArgs() []string {
	return []string{"--command", "disconnect_all"}
}

func GUIExitArgs() []string {
	return []string{"--command", "exit"}
}
