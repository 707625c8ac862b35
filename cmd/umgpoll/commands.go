package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/prognoza/umg-vpn-poller/internal/api"
	"github.com/prognoza/umg-vpn-poller/internal/config"
	"github.com/prognoza/umg-vpn-poller/internal/fault"
	"github.com/prognoza/umg-vpn-poller/internal/metrics"
	"github.com/prognoza/umg-vpn-poller/internal/orchestrator"
	"github.com/prognoza/umg-vpn-poller/internal/preflight"
	"github.com/prognoza/umg-vpn-poller/internal/profile"
	"github.com/prognoza/umg-vpn-poller/internal/stats"
	"github.com/prognoza/umg-vpn-poller/internal/supervisor"
	"github.com/prognoza/umg-vpn-poller/internal/tui"
)

const shutdownTimeout = 10 * time.Second

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// =============================================================================
// Tunnel
// =============================================================================

func connectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Bring up the tunnel and verify the device",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			st := svc.VPN().Connect(ctx)
			if err := printJSON(st); err != nil {
				return err
			}
			if !st.IsConnected {
				return errExit
			}
			return nil
		},
	}
}

func disconnectCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "disconnect",
		Short: "Tear down the tunnel",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			derr := svc.VPN().Disconnect(ctx)
			if err := printJSON(svc.VPN().Status(ctx)); err != nil {
				return err
			}
			return derr
		},
	}
}

func statusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show tunnel and device reachability",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return printJSON(svc.VPN().Status(ctx))
		},
	}
}

// =============================================================================
// Polling
// =============================================================================

func pollCmd(a *app) *cobra.Command {
	var serveMetrics bool

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Read the meter once or on a schedule",
		Long: `Poll reads every register of the meter and appends the values to the daily
CSV export, connecting the tunnel first when it is down and tearing it down
again afterwards. Use --cycles 0 to poll until interrupted and --align to
start each read on a wall-clock minute boundary.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			metricsAddr := ""
			if serveMetrics {
				srv := metrics.NewServer(a.cfg.ListenAddr, svc.Metrics(), a.logger)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				metricsAddr = srv.Addr()
				defer shutdown(a, srv.Shutdown)
			}

			return runPoller(ctx, a, svc, svc.DefaultPollerOptions(), metricsAddr)
		},
	}

	cmd.Flags().BoolVar(&serveMetrics, "metrics", false, "Serve Prometheus metrics on --listen while polling")
	return cmd
}

// runPoller runs the background poller to completion or until ctx is
// cancelled, prints the last payload and the exit summary.
func runPoller(ctx context.Context, a *app, svc *orchestrator.Orchestrator, opts supervisor.Options, metricsAddr string) error {
	if err := svc.StartPoller(opts); err != nil {
		return err
	}

	select {
	case <-svc.Poller().Done():
	case <-ctx.Done():
		a.logger.Info("received_signal")
		svc.Poller().Stop()
	}

	st := svc.Poller().Status()
	if st.LastPayload != nil {
		if err := printJSON(st.LastPayload); err != nil {
			return err
		}
	}
	fmt.Fprint(os.Stderr, stats.FormatExitSummary(svc.Summary(), svc.SummaryConfig(metricsAddr)))

	if st.State == supervisor.StateFailed {
		return errors.New(st.LastError)
	}
	return nil
}

// =============================================================================
// Servers
// =============================================================================

func serveCmd(a *app) *cobra.Command {
	var startPoller bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, dashboard page and metrics",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()

			if !a.cfg.Verbose {
				gin.SetMode(gin.ReleaseMode)
			}
			srv := api.NewServer(a.cfg.ListenAddr, api.NewRouter(svc.APIDeps()), a.logger)

			if startPoller {
				if err := svc.StartPoller(svc.DefaultPollerOptions()); err != nil {
					return err
				}
			}

			errCh := make(chan error, 1)
			go func() { errCh <- srv.ListenAndServe() }()

			select {
			case err := <-errCh:
				svc.Poller().Stop()
				return err
			case <-ctx.Done():
				a.logger.Info("received_signal")
			}

			svc.Poller().Stop()
			shutdown(a, srv.Shutdown)
			return nil
		},
	}

	cmd.Flags().BoolVar(&startPoller, "start-poller", false, "Start the background poller with the configured schedule")
	return cmd
}

func dashboardCmd(a *app) *cobra.Command {
	var url string

	cmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Live terminal dashboard",
		Long: `Dashboard shows the tunnel, the background poller and the last register
values. Without --url it runs the poller in-process (press s to start or
stop it) and serves metrics on --listen. With --url it follows another
umgpoll process through its /metrics page.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			var tcfg tui.Config
			if url != "" {
				scraper := metrics.NewScraper(url, time.Second, a.logger)
				go scraper.Run(ctx)
				tcfg = tui.Config{
					Device:      a.cfg.DeviceHost,
					MetricsAddr: url,
					Source:      scraper.Snapshot,
				}
			} else {
				svc, err := a.service()
				if err != nil {
					return err
				}
				srv := metrics.NewServer(a.cfg.ListenAddr, svc.Metrics(), a.logger)
				if err := srv.Start(); err != nil {
					return fmt.Errorf("start metrics server: %w", err)
				}
				defer shutdown(a, srv.Shutdown)
				defer svc.Poller().Stop()

				tcfg = tui.Config{
					Device:       a.cfg.DeviceHost,
					MetricsAddr:  srv.Addr(),
					Source:       svc.SnapshotMetrics,
					Poller:       svc.PollerControl(),
					Stats:        svc.Cycles(),
					StartOptions: svc.DefaultPollerOptions(),
				}
			}

			p := tea.NewProgram(tui.New(tcfg), tea.WithAltScreen(), tea.WithContext(ctx))
			if _, err := p.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&url, "url", "", "Metrics URL of a running umgpoll (e.g. http://127.0.0.1:8000/metrics)")
	return cmd
}

// shutdown calls fn with a bounded context and logs failures.
func shutdown(a *app, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		a.logger.Warn("shutdown_incomplete", "error", err)
	}
}

// =============================================================================
// Tools
// =============================================================================

func extractCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "extract [ovpn] [outdir]",
		Short: "Extract inline certificates and keys from a profile",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, outDir := a.cfg.OVPNPath, a.cfg.AssetsDir
			if len(args) > 0 {
				input = args[0]
			}
			if len(args) > 1 {
				outDir = args[1]
			}

			res, err := profile.Resolve(input, a.cfg.SecretsDir, a.cfg.OVPNPath)
			if err != nil {
				return err
			}
			raw, err := os.ReadFile(res.ConfigPath)
			if err != nil {
				return fault.Wrap(fault.KindNotFound, "extract", err)
			}
			assets, err := profile.ExtractCertificates(string(raw), outDir)
			if err != nil {
				return err
			}
			return printJSON(map[string]any{
				"profile": res.ConfigPath,
				"out_dir": outDir,
				"files":   assets,
			})
		},
	}
}

func checkCmd(a *app) *cobra.Command {
	var poll bool

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run preflight checks",
		Long: `Check verifies the OpenVPN installation, the profile, the data directories
and the device settings. With --poll it then runs one unaligned diagnostic
poll cycle.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			result := preflight.RunAll(a.cfg)
			preflight.PrintResults(result)
			if !result.Passed {
				return errExit
			}
			if !poll {
				return nil
			}

			config.ApplyCheckMode(a.cfg)
			svc, err := a.service()
			if err != nil {
				return err
			}
			ctx, stop := signalContext()
			defer stop()
			return runPoller(ctx, a, svc, svc.DefaultPollerOptions(), "")
		},
	}

	cmd.Flags().BoolVar(&poll, "poll", false, "Run one diagnostic poll after the checks pass")
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("umgpoll %s\n", version)
			return nil
		},
	}
}
