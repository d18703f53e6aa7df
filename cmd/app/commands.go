package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"SignalFlow/internal/di"
	"SignalFlow/pkg/config"
	"SignalFlow/pkg/server"
)

func newRootCmd() *cobra.Command {
	var configPath string

	load := func() (*config.Config, error) {
		cfg, err := config.LoadWithEnv(configPath)
		if err != nil {
			return nil, fmt.Errorf("config load failed: %w", err)
		}
		return cfg, nil
	}

	root := &cobra.Command{
		Use:           "signalflow",
		Short:         "Crypto futures signal engine",
		Long:          "Detects market events from precomputed features, scores them into trade signals and tracks each signal to its outcome.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(load)
		},
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	root.AddCommand(newServeCmd(load))
	root.AddCommand(newMigrateCmd(load))
	root.AddCommand(newConfigCmd(load))
	root.AddCommand(newVersionCmd())
	return root
}

func newServeCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the pipeline and the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(load)
		},
	}
}

func runServe(load func() (*config.Config, error)) error {
	cfg, err := load()
	if err != nil {
		return err
	}
	log.Printf("env=%s symbols=%v storage=%s event_log=%s", cfg.Environment, cfg.Symbols, cfg.Storage.Driver, cfg.EventLog.Backend)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		return fmt.Errorf("app initialization failed: %w", err)
	}
	defer cleanup()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return app.Run(ctx)
}

// newMigrateCmd applies the Postgres migrations and, when ClickHouse is in use,
// creates the events table.
func newMigrateCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply storage schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			_, closePG, err := di.ProvidePostgresPool(cfg)
			if err != nil {
				return err
			}
			defer closePG()

			ch, closeCH, err := di.ProvideClickHouseClient(cfg)
			if err != nil {
				return err
			}
			defer closeCH()
			if _, err := di.ProvideEventLog(cfg, ch); err != nil {
				return err
			}
			log.Printf("migrations applied: postgres=%t clickhouse=%t", cfg.Storage.Driver == "postgres", ch != nil)
			return nil
		},
	}
}

func newConfigCmd(load func() (*config.Config, error)) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
	}
	configCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Load and validate the configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config ok: %d symbols, threshold %.2f\n", len(cfg.Symbols), cfg.Scorer.Threshold)
			return nil
		},
	})
	return configCmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "signalflow %s\n", server.Version)
		},
	}
}
