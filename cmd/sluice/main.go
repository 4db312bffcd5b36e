// Command sluice drains the raw account-update backlog from Postgres,
// decodes each record and persists the result.
//
// Subcommands:
//
//	run      polling loop + gRPC health + /metrics (default for production)
//	once     a single cycle, then exit
//	backlog  print checkpoint and pending count
//	migrate  apply the embedded schema
//	health   probe a running loop's health endpoint
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:           "sluice",
		Short:         "sluice: raw account update processor",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", "sluice.yml", "config file (optional; SLUICE__* env vars override)")

	root.AddCommand(
		runCmd(&cfgPath),
		onceCmd(&cfgPath),
		backlogCmd(&cfgPath),
		migrateCmd(&cfgPath),
		healthCmd(&cfgPath),
	)

	if err := root.Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}
