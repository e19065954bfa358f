package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkhelifi/planact/internal/db"
	"github.com/dkhelifi/planact/internal/scheduler"
	"github.com/dkhelifi/planact/internal/server"
	"github.com/spf13/cobra"
)

func newDaemonCmd() *cobra.Command {
	var (
		configPath string
		port       int
	)

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Run the scheduler and HTTP API together",
		Long: `Starts the full service: the cron scheduler (scheduled syncs, quality
ticks with threshold alerting, cron automations) plus the operator API.
Policy changes made through the API are applied to the running job set.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDaemon(cmd, configPath, port)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to listen on (overrides config)")
	return cmd
}

func runDaemon(cmd *cobra.Command, configPath string, port int) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(gormDB); err != nil {
		return err
	}
	if err := db.SeedRules(gormDB); err != nil {
		return err
	}
	if _, err := db.EnsureSyncConfig(gormDB, cfg.Sync); err != nil {
		return err
	}

	eng := buildEngines(cfg, gormDB)

	sched := scheduler.New(gormDB, cfg.Scheduler, eng.sync, eng.quality, eng.automations, eng.sender, eng.log)
	if err := sched.Start(); err != nil {
		return err
	}
	defer sched.Stop()

	if port == 0 {
		port = cfg.Server.Port
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		fmt.Fprintf(cmd.OutOrStdout(), "\nReceived %s, shutting down...\n", sig)
		cancel()
	}()

	return server.Start(ctx, server.StartOpts{
		DB:          gormDB,
		Port:        port,
		Version:     Version,
		Sync:        eng.sync,
		Quality:     eng.quality,
		Automations: eng.automations,
		Scheduler:   sched,
		Log:         eng.log,
	})
}
