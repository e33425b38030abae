package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/throttle/pkg/cli"
	"mercator-hq/throttle/pkg/config"
	"mercator-hq/throttle/pkg/limits/reaper"
	"mercator-hq/throttle/pkg/server"
	"mercator-hq/throttle/pkg/telemetry"
	"mercator-hq/throttle/pkg/telemetry/health"
	"mercator-hq/throttle/pkg/telemetry/logging"
)

var runFlags struct {
	listenAddress string
	adminAddress  string
	logLevel      string
	dryRun        bool
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start the gateway",
	Long: `Start the gateway and the admin listener.

The gateway classifies requests by path prefix, checks them against the
policy of their endpoint class and forwards admitted requests to the
upstream. The admin listener serves health, readiness, metrics and the
admin API. The reaper runs on its schedule when enabled.

With --dry-run every request is checked and counted, and rate limit headers
are set, but denials are only logged: the request is still forwarded. Use it
to size policies against real traffic.

Examples:
  # Start with default config
  throttle run

  # Start with custom config
  throttle run --config /etc/throttle/config.yaml

  # Override listen addresses
  throttle run --listen 0.0.0.0:8080 --admin-listen 127.0.0.1:9090

  # Observe what would be denied without denying it
  throttle run --dry-run`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runFlags.listenAddress, "listen", "l", "", "override gateway listen address")
	runCmd.Flags().StringVar(&runFlags.adminAddress, "admin-listen", "", "override admin listen address")
	runCmd.Flags().StringVar(&runFlags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	runCmd.Flags().BoolVar(&runFlags.dryRun, "dry-run", false, "check and count requests but never deny")
}

func runServer(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	applyRunOverrides(cfg)
	if err := config.Validate(cfg); err != nil {
		return cli.NewConfigError("", err.Error())
	}

	tel, err := telemetry.New(&cfg.Telemetry, health.VersionInfo{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildDate,
	}, "")
	if err != nil {
		return cli.NewConfigError("telemetry", err.Error())
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logger := tel.Logger().Slog()
	slog.SetDefault(logger)

	ctx := cli.SetupSignalHandler()

	degradeLog, err := logging.NewWithOutput(logging.Config{
		Level:     "warn",
		Format:    cfg.Telemetry.Logging.Format,
		RedactPII: cfg.Telemetry.Logging.RedactPII,
	}, cfg.Limits.Degradation.LogOutput)
	if err != nil {
		return cli.NewConfigError("limits.degradation.log_output", err.Error())
	}
	defer degradeLog.Close()

	stack, err := openLimiter(ctx, cfg, logger, limiterDeps{
		registerer: tel.Registry(),
		tracer:     tel.Tracer().Tracer(),
		degradeLog: degradeLog,

		tolerateStoreOutage: true,
	})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer stack.Close()

	rp := reaper.New(stack.limiter.Store(), stack.registry, stack.limiter.Composer(),
		reaper.WithMetrics(reaper.NewMetrics(tel.Registry(), cfg.Telemetry.Metrics.Namespace)),
		reaper.WithLogger(logger.With("component", "reaper")),
		reaper.WithTracer(tel.Tracer().Tracer()),
	)
	if cfg.Limits.Reaper.Enabled {
		scheduler := reaper.NewScheduler(rp, cfg.Limits.Reaper.Schedule)
		if err := scheduler.Start(ctx); err != nil {
			return cli.NewCommandError("run", fmt.Errorf("failed to start reaper: %w", err))
		}
		defer scheduler.Stop()
		if next := scheduler.NextRun(); next != nil {
			logger.Debug("reaper scheduled", "schedule", cfg.Limits.Reaper.Schedule, "next_run", next)
		}
	}

	srv, err := server.New(cfg, stack.limiter, tel,
		server.WithReaper(rp),
		server.WithDryRun(runFlags.dryRun),
		server.WithLogger(logger),
	)
	if err != nil {
		return cli.NewCommandError("run", err)
	}

	printBanner(cmd, cfg, srv)

	if err := srv.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}
	fmt.Fprintln(stdout(cmd), "✓ Gateway stopped")
	return nil
}

func applyRunOverrides(cfg *config.Config) {
	if runFlags.listenAddress != "" {
		cfg.Proxy.ListenAddress = runFlags.listenAddress
	}
	if runFlags.adminAddress != "" {
		cfg.Admin.ListenAddress = runFlags.adminAddress
	}
	if runFlags.logLevel != "" {
		cfg.Telemetry.Logging.Level = runFlags.logLevel
	}
}

// printBanner waits for the listeners to bind, then prints where they are.
func printBanner(cmd *cobra.Command, cfg *config.Config, srv *server.Server) {
	go func() {
		<-srv.Ready()
		out := stdout(cmd)
		fmt.Fprintf(out, "Throttle %s\n", Version)
		fmt.Fprintf(out, "✓ Store: %s (namespace %q)\n", cfg.Limits.Store.Backend, cfg.Limits.Namespace)
		fmt.Fprintf(out, "✓ Gateway listening on %s -> %s\n", srv.PublicAddr(), cfg.Proxy.UpstreamURL)
		if addr := srv.AdminAddr(); addr != nil {
			fmt.Fprintf(out, "✓ Admin listening on %s\n", addr)
		}
		if runFlags.dryRun {
			fmt.Fprintln(out, "! Dry run: denials are logged, not enforced")
		}
		fmt.Fprintln(out, "\nPress Ctrl+C to stop")
	}()
}
