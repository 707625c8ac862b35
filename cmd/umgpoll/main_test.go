package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prognoza/umg-vpn-poller/internal/config"
)

func TestRootCmd_Subcommands(t *testing.T) {
	root := newRootCmd(&app{cfg: config.DefaultConfig()})

	want := []string{"check", "connect", "dashboard", "disconnect", "extract", "poll", "serve", "status", "version"}
	for _, name := range want {
		t.Run(name, func(t *testing.T) {
			cmd, _, err := root.Find([]string{name})
			if err != nil || cmd.Name() != name {
				t.Errorf("Find(%q) = %v, %v", name, cmd, err)
			}
		})
	}
}

func TestRootCmd_HelpGroupsFlags(t *testing.T) {
	root := newRootCmd(&app{cfg: config.DefaultConfig()})
	var buf bytes.Buffer
	root.SetOut(&buf)
	root.SetArgs([]string{"--help"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	out := buf.String()
	for _, want := range []string{"Commands:", "poll", "Polling:", "--interval", "Device:", "--modbus-port"} {
		if !strings.Contains(out, want) {
			t.Errorf("help missing %q", want)
		}
	}
}

func TestRootCmd_InvalidConfig(t *testing.T) {
	a := &app{cfg: config.DefaultConfig()}
	root := newRootCmd(a)
	root.SetArgs([]string{"version", "--interval", "0s"})

	if err := root.Execute(); err == nil {
		t.Error("Execute() accepted a zero interval")
	}
}

func TestExtractCmd(t *testing.T) {
	dir := t.TempDir()
	profilePath := filepath.Join(dir, "Site-UMG.ovpn")
	raw := "client\nremote vpn.example.net 1194\n<ca>\n-----BEGIN CERTIFICATE-----\nAAA\n-----END CERTIFICATE-----\n</ca>\n"
	if err := os.WriteFile(profilePath, []byte(raw), 0o600); err != nil {
		t.Fatal(err)
	}
	outDir := filepath.Join(dir, "assets")

	a := &app{cfg: config.DefaultConfig()}
	root := newRootCmd(a)
	root.SetArgs([]string{"extract", profilePath, outDir, "--secrets-dir", dir, "--log-level", "error"})

	if err := root.Execute(); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	data, err := os.ReadFile(filepath.Join(outDir, "ca.crt"))
	if err != nil {
		t.Fatalf("ca.crt not written: %v", err)
	}
	if !strings.Contains(string(data), "BEGIN CERTIFICATE") {
		t.Errorf("ca.crt = %q", data)
	}
}

func TestExtractCmd_MissingProfile(t *testing.T) {
	dir := t.TempDir()
	a := &app{cfg: config.DefaultConfig()}
	root := newRootCmd(a)
	root.SetArgs([]string{"extract", filepath.Join(dir, "absent.ovpn"), "--secrets-dir", dir})

	if err := root.Execute(); err == nil {
		t.Error("Execute() succeeded with a missing profile")
	}
}
