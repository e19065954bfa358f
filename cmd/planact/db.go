package main

import (
	"fmt"

	"github.com/dkhelifi/planact/internal/config"
	"github.com/dkhelifi/planact/internal/db"
	"github.com/spf13/cobra"
)

func newDBCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database management commands",
	}

	cmd.AddCommand(newDBInitCmd())
	cmd.AddCommand(newDBSeedDemoCmd())
	return cmd
}

func newDBInitCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Initialize the Planact database",
		Long:  "Migrates all tables, seeds the built-in quality rules, and creates the sync policy row.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDBInit(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}

func runDBInit(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Connected to %s store\n", cfg.Database.Driver)

	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Migrated %d tables\n", len(db.AllModels()))

	if err := db.SeedRules(gormDB); err != nil {
		return err
	}
	fmt.Fprintf(out, "Seeded %d built-in quality rules\n", len(db.BuiltinRules))

	syncCfg, err := db.EnsureSyncConfig(gormDB, cfg.Sync)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Sync policy ready (cron %s, strategy %s)\n", syncCfg.Cron, syncCfg.Strategy)

	fmt.Fprintln(out, "\nPlanact database initialized successfully.")
	return nil
}
