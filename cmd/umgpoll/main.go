// Package main provides the umgpoll CLI entry point.
//
// umgpoll brings up an OpenVPN tunnel to a remote site on demand and reads a
// Janitza UMG power meter over Modbus TCP, once or on a minute-aligned
// schedule, appending every reading to a daily CSV export.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/prognoza/umg-vpn-poller/internal/config"
	"github.com/prognoza/umg-vpn-poller/internal/logging"
	"github.com/prognoza/umg-vpn-poller/internal/orchestrator"
)

// version is set at build time via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0" ./cmd/umgpoll
var version = "dev"

// errExit signals a failure that has already been reported on stdout.
var errExit = errors.New("command failed")

// app carries the parsed configuration and logger into the subcommands.
type app struct {
	cfg    *config.Config
	logger *slog.Logger
	closer io.Closer

	// quiet discards logs unless a log file is set, for the dashboard.
	quiet bool
}

func main() {
	os.Exit(run())
}

func run() int {
	a := &app{cfg: config.DefaultConfig()}
	root := newRootCmd(a)
	err := root.Execute()
	if a.closer != nil {
		a.closer.Close()
	}
	if err != nil {
		if !errors.Is(err, errExit) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		return 1
	}
	return 0
}

func newRootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "umgpoll",
		Short: "On-demand VPN tunnel and UMG meter poller",
		Long: `umgpoll manages an OpenVPN tunnel to the site of a Janitza UMG meter and
reads the meter's registers over Modbus TCP, once or aligned to minute
boundaries, appending each reading to a daily CSV export.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			a.quiet = cmd.Name() == "dashboard"
			return a.setup()
		},
	}

	config.BindFlags(root.PersistentFlags(), a.cfg)

	defaultHelp := root.HelpFunc()
	root.SetHelpFunc(func(c *cobra.Command, args []string) {
		if c != root {
			defaultHelp(c, args)
			return
		}
		out := c.OutOrStdout()
		fmt.Fprintf(out, "%s\n\nUsage:\n  %s [command] [flags]\n\nCommands:\n", c.Long, c.Name())
		for _, sub := range c.Commands() {
			if sub.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", sub.Name(), sub.Short)
			}
		}
		config.PrintUsage(out, c.PersistentFlags())
	})

	root.AddCommand(connectCmd(a))
	root.AddCommand(disconnectCmd(a))
	root.AddCommand(statusCmd(a))
	root.AddCommand(pollCmd(a))
	root.AddCommand(serveCmd(a))
	root.AddCommand(dashboardCmd(a))
	root.AddCommand(extractCmd(a))
	root.AddCommand(checkCmd(a))
	root.AddCommand(versionCmd())

	return root
}

// setup validates the configuration and installs the logger.
func (a *app) setup() error {
	config.Normalize(a.cfg)
	if err := config.Validate(a.cfg); err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	switch {
	case a.cfg.LogFile != "":
		logger, closer, err := logging.NewFileLogger(a.cfg.LogFile, a.cfg.LogFormat, a.cfg.LogLevel, a.cfg.Verbose)
		if err != nil {
			return err
		}
		a.logger, a.closer = logger, closer
	case a.quiet:
		a.logger = logging.NewLoggerWithWriter(io.Discard, "json", "info")
	default:
		a.logger = logging.NewLogger(a.cfg.LogFormat, a.cfg.LogLevel, a.cfg.Verbose)
	}
	logging.SetDefault(a.logger)
	return nil
}

// service builds the orchestrator for commands that talk to the tunnel or
// the meter.
func (a *app) service() (*orchestrator.Orchestrator, error) {
	return orchestrator.New(a.cfg, a.logger, orchestrator.Options{Version: version})
}

// printJSON writes v indented to stdout.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
