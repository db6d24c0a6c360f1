package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"hiveops/internal/admin"
	"hiveops/internal/config"
	"hiveops/internal/console"
	"hiveops/internal/logging"
	"hiveops/internal/mission"
)

var (
	runConfigPath string
	runSchemaPath string
	runPrintOnly  bool
	runExport     string
	runLogFile    string
	runAdminAddr  string
	runConsole    string
	runTick       time.Duration
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a mission",
	Long:  "run flies the configured swarm in the simulated world, serves the operator control surface and publishes telemetry until interrupted.",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(runConfigPath, runSchemaPath)
		if err != nil {
			return err
		}
		if err := applyEnv(cfg); err != nil {
			return err
		}
		if runTick > 0 {
			cfg.TelemetryIntervalSeconds = runTick.Seconds()
		}

		useConsole, err := consoleWanted(runConsole)
		if err != nil {
			return err
		}
		log, closeLog, err := newLogger(cmd.ErrOrStderr(), useConsole)
		if err != nil {
			return err
		}
		defer closeLog()

		tws, ews, cleanup, err := newWriters(runPrintOnly, useConsole, runExport, log)
		if err != nil {
			return err
		}
		defer cleanup()

		var ui *console.Console
		opts := make([]mission.Option, 0, len(tws)+len(ews)+1)
		for _, w := range tws {
			opts = append(opts, mission.WithTelemetryWriter(w))
		}
		for _, w := range ews {
			opts = append(opts, mission.WithEventWriter(w))
		}
		m, err := mission.New(cfg, opts...)
		if err != nil {
			return err
		}
		if useConsole {
			ui = console.New(m.Store(), m.Gate(), log)
			m.AddEventWriter(ui)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		ctx = logging.NewContext(ctx, log)

		g, gctx := errgroup.WithContext(ctx)
		gctx, cancel := context.WithCancel(gctx)
		defer cancel()

		g.Go(func() error { return m.Run(gctx) })
		if runAdminAddr != "" {
			adminOpts := []admin.Option{
				admin.WithMetrics(m.Metrics().Handler()),
				admin.WithEventLog(m.Events()),
				admin.WithLogger(log),
			}
			if w := m.World(); w != nil {
				adminOpts = append(adminOpts, admin.WithSpawner(w))
			}
			srv := admin.NewServer(m.Store(), m.Gate(), adminOpts...)
			g.Go(func() error {
				log.Info("admin server listening", "addr", runAdminAddr)
				if err := srv.Start(gctx, runAdminAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("admin server: %w", err)
				}
				return nil
			})
		}
		if ui != nil {
			g.Go(func() error {
				defer cancel()
				return ui.Run(gctx)
			})
		}

		err = g.Wait()
		log.Info("mission stopped", "mission_id", m.ID)
		return err
	},
}

// applyEnv applies the environment overrides.
func applyEnv(cfg *config.SwarmConfig) error {
	for _, key := range []string{"CLUSTER_ID", "MISSION_ID"} {
		if v := os.Getenv(key); v != "" {
			cfg.MissionID = v
		}
	}
	if envTick := os.Getenv("TICK_INTERVAL"); envTick != "" {
		d, err := time.ParseDuration(envTick)
		if err != nil {
			return fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		cfg.TelemetryIntervalSeconds = d.Seconds()
	}
	return nil
}

// consoleWanted resolves the --console mode; auto enables it on a terminal.
func consoleWanted(mode string) (bool, error) {
	switch mode {
	case "on":
		return true, nil
	case "off":
		return false, nil
	case "auto":
		return term.IsTerminal(int(os.Stdout.Fd())), nil
	default:
		return false, fmt.Errorf("--console must be auto, on or off, got %q", mode)
	}
}

// newLogger writes to stderr, or to --log-file while the console owns the
// terminal.
func newLogger(stderr io.Writer, useConsole bool) (*slog.Logger, func(), error) {
	if runLogFile != "" {
		f, err := os.OpenFile(runLogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, err
		}
		return logging.New(f, logLevel), func() { f.Close() }, nil
	}
	if useConsole {
		return logging.New(io.Discard, logLevel), func() {}, nil
	}
	return logging.New(stderr, logLevel), func() {}, nil
}

func init() {
	runCmd.Flags().StringVar(&runConfigPath, "config", "config/swarm.yaml", "Path to mission configuration YAML")
	runCmd.Flags().StringVar(&runSchemaPath, "schema", "schemas/swarm.cue", "Path to CUE schema file")
	runCmd.Flags().BoolVar(&runPrintOnly, "print-only", false, "Print telemetry to STDOUT instead of writing to DB")
	runCmd.Flags().StringVar(&runExport, "export", "", "Path to export agent telemetry and events (JSONL)")
	runCmd.Flags().StringVar(&runLogFile, "log-file", "", "Write logs to this file instead of stderr")
	runCmd.Flags().StringVar(&runAdminAddr, "admin-addr", ":8080", "Control surface listen address (empty to disable)")
	runCmd.Flags().StringVar(&runConsole, "console", "auto", "Operator console: auto, on or off")
	runCmd.Flags().DurationVar(&runTick, "tick", 0, "Telemetry publish interval override (e.g. 500ms)")
}
