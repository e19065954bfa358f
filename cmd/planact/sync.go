package main

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/dkhelifi/planact/internal/db"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/spf13/cobra"
)

func newSyncCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Reconcile plan spreadsheets into the store",
	}

	cmd.AddCommand(newSyncRunCmd())
	cmd.AddCommand(newSyncStatusCmd())
	cmd.AddCommand(newSyncJobsCmd())
	return cmd
}

func newSyncRunCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
		planID     uint
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one reconciliation now",
		Long: `Reads every plan in scope and upserts its rows into the store. With
--dry-run the counters are computed but no action rows are written; the
job row is still recorded, flagged as a dry run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSyncRun(cmd, configPath, dryRun, planID)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "compute counters without writing")
	cmd.Flags().UintVar(&planID, "plan", 0, "narrow the run to one plan id")
	return cmd
}

func runSyncRun(cmd *cobra.Command, configPath string, dryRun bool, planID uint) error {
	out := cmd.OutOrStdout()

	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}
	syncCfg, err := db.EnsureSyncConfig(gormDB, cfg.Sync)
	if err != nil {
		return err
	}

	eng := buildEngines(cfg, gormDB)
	opts := reconcile.RunOpts{DryRun: dryRun}
	if planID != 0 {
		opts.PlanID = &planID
	}

	res, err := eng.sync.Run(context.Background(), syncCfg, opts)
	if err != nil {
		if _, recErr := eng.sync.RecordFailure(syncCfg, opts.PlanID, dryRun, err); recErr != nil {
			eng.log.Errorf("record sync failure: %v", recErr)
		}
		return err
	}
	if _, err := eng.sync.RecordJob(syncCfg, res, opts.PlanID); err != nil {
		return err
	}

	fmt.Fprintf(out, "Sync %s: %d read, %d written, %d ignored\n",
		res.Status, res.Stats.Read, res.Stats.Written, res.Stats.Ignored)
	if txt := res.ErrorText(); txt != "" {
		fmt.Fprintf(out, "Errors: %s\n", txt)
	}
	if dryRun {
		fmt.Fprintln(out, "(dry run, nothing written)")
	}
	return nil
}

func newSyncStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the sync policy and last run",
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var syncCfg models.SyncConfig
			if err := gormDB.Order("id ASC").First(&syncCfg).Error; err != nil {
				return fmt.Errorf("load sync config: %w", err)
			}
			fmt.Fprintf(out, "Enabled:   %t\n", syncCfg.Enabled)
			fmt.Fprintf(out, "Cron:      %s\n", syncCfg.Cron)
			fmt.Fprintf(out, "Strategy:  %s\n", syncCfg.Strategy)
			fmt.Fprintf(out, "Batch:     %d\n", syncCfg.BatchSize)
			if syncCfg.LastRunAt != nil {
				fmt.Fprintf(out, "Last run:  %s (%s)\n", syncCfg.LastRunAt.Format("2006-01-02 15:04:05"), syncCfg.LastStatus)
			} else {
				fmt.Fprintln(out, "Last run:  never")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}

func newSyncJobsCmd() *cobra.Command {
	var (
		configPath string
		limit      int
	)

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent sync jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var jobs []models.SyncJob
			if err := gormDB.Order("id DESC").Limit(limit).Find(&jobs).Error; err != nil {
				return fmt.Errorf("list sync jobs: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tWHEN\tSTATUS\tREAD\tWRITTEN\tIGNORED\tDRY\tERROR")
			for _, j := range jobs {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%d\t%t\t%s\n",
					j.ID, j.CreatedAt.Format("2006-01-02 15:04"), j.Status,
					j.ReadCount, j.WrittenCount, j.IgnoredCount, j.DryRun, j.Error)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().IntVar(&limit, "limit", 20, "max jobs to show")
	return cmd
}
