package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mdcslabs/conduit/internal/cancel"
	"github.com/mdcslabs/conduit/internal/config"
)

func buildSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage the in-process cancellation registry",
	}
	cmd.AddCommand(buildSessionsSweepCmd())
	return cmd
}

// buildSessionsSweepCmd is a one-shot maintenance command: a fresh
// registry sized from config has nothing to sweep, so this mainly
// exists to validate config + report the configured cap without
// standing up the full gateway (useful in a health-check/cron-adjacent
// script outside the long-running serve process).
func buildSessionsSweepCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Report the cancellation registry's configured capacity",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				configPath = defaultConfigPath()
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("conduitd: load config: %w", err)
			}
			max := cfg.Session.MaxConcurrent
			if max <= 0 {
				max = cancel.DefaultMaxSessions
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancellation registry max_concurrent=%d sweep_interval=%s\n", max, cfg.Session.SweepInterval)
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default $CONDUIT_CONFIG or conduit.yaml)")
	return cmd
}
