package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"sluice/internal/config"
	"sluice/internal/engine"
	"sluice/internal/logging"
	"sluice/internal/transport"
	"sluice/migrations"
)

func load(path string) (config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	logging.InitFromEnv(logging.Options{Level: cfg.Log.Level, JSON: cfg.Log.JSON})
	return cfg, nil
}

// ── run ──────────────────────────────────────────────────────────────────────

func runCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the polling loop until SIGINT/SIGTERM",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(*cfgPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := engine.Bootstrap(ctx, cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			return e.Run(ctx)
		},
	}
}

// ── once ─────────────────────────────────────────────────────────────────────

func onceCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single cycle and print its summary",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(*cfgPath)
			if err != nil {
				return err
			}
			e, err := engine.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer e.Close() //nolint:errcheck

			res, err := e.Once(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cycle %s checkpoint=%d snapshot=%d succeeded=%d recovered=%d failed=%d backlog=%d\n",
				res.ID, res.Checkpoint, res.Snapshot, res.Succeeded, res.Recovered, res.Failed, res.BacklogRemaining)
			return nil
		},
	}
}

// ── backlog ──────────────────────────────────────────────────────────────────

func backlogCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "backlog",
		Short: "Print the checkpoint and the number of unprocessed records",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := load(*cfgPath)
			if err != nil {
				return err
			}
			cfg.Report.Sinks = []string{"stdout"}
			e, err := engine.Bootstrap(cmd.Context(), cfg)
			if err != nil {
				return fmt.Errorf("bootstrap: %w", err)
			}
			defer e.Close() //nolint:errcheck

			cp, n, err := e.Backlog(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "checkpoint=%d backlog=%d\n", cp, n)
			return nil
		},
	}
}

// ── migrate ──────────────────────────────────────────────────────────────────

func migrateCmd(cfgPath *string) *cobra.Command {
	var down bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply (or with --down, revert) the embedded schema",
		RunE: func(_ *cobra.Command, _ []string) error {
			cfg, err := load(*cfgPath)
			if err != nil {
				return err
			}
			return runMigrate(cfg.Source.DSN, down)
		},
	}
	cmd.Flags().BoolVar(&down, "down", false, "revert all migrations")
	return cmd
}

func runMigrate(dsn string, down bool) error {
	v, err := migrations.Apply(dsn, down)
	if err != nil {
		return err
	}
	logging.L().Info("migrations applied", "version", v, "down", down)
	return nil
}

// ── health ───────────────────────────────────────────────────────────────────

func healthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Query a running loop's gRPC health status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return fmt.Errorf("config: %w", err)
			}
			cc, err := transport.Dial(cfg.Server.GRPCPort)
			if err != nil {
				return err
			}
			defer cc.Close() //nolint:errcheck

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			st, err := transport.Check(ctx, cc)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), st.String())
			return nil
		},
	}
}
