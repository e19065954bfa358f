package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/db"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/spf13/cobra"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

func newDBSeedDemoCmd() *cobra.Command {
	var (
		configPath string
		sheetPath  string
	)

	cmd := &cobra.Command{
		Use:   "seed-demo",
		Short: "Create a demo plan workbook and sync it in",
		Long: `Writes a small demo spreadsheet, registers it as a plan, and runs one
reconciliation so the store has data to explore. The demo rows include a
few deliberate defects so the quality rules have something to find.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSeedDemo(cmd, configPath, sheetPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVar(&sheetPath, "sheet", "demo-plan.xlsx", "where to write the demo workbook")
	return cmd
}

func runSeedDemo(cmd *cobra.Command, configPath, sheetPath string) error {
	out := cmd.OutOrStdout()

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

	if err := writeDemoWorkbook(sheetPath); err != nil {
		return err
	}
	fmt.Fprintf(out, "Demo workbook written to %s\n", sheetPath)

	plan, err := ensureDemoPlan(gormDB, sheetPath)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Plan %q registered (id %d)\n", plan.Name, plan.ID)

	eng := buildEngines(cfg, gormDB)
	syncCfg, err := db.EnsureSyncConfig(gormDB, cfg.Sync)
	if err != nil {
		return err
	}
	res, err := eng.sync.Run(context.Background(), syncCfg, reconcile.RunOpts{PlanID: &plan.ID})
	if err != nil {
		return err
	}
	if _, err := eng.sync.RecordJob(syncCfg, res, &plan.ID); err != nil {
		return err
	}
	fmt.Fprintf(out, "Synced: %d read, %d written, %d ignored (%s)\n",
		res.Stats.Read, res.Stats.Written, res.Stats.Ignored, res.Status)
	return nil
}

// writeDemoWorkbook builds a small plan sheet. Two rows carry defects: a
// duplicated id and a row with no deadline.
func writeDemoWorkbook(path string) error {
	f := excelize.NewFile()
	defer f.Close()

	const sheet = "Plan"
	idx, err := f.NewSheet(sheet)
	if err != nil {
		return fmt.Errorf("seed-demo: create sheet: %w", err)
	}
	f.SetActiveSheet(idx)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		return fmt.Errorf("seed-demo: drop default sheet: %w", err)
	}

	deadline := time.Now().AddDate(0, 0, 14).Format("2006-01-02")
	past := time.Now().AddDate(0, 0, -7).Format("2006-01-02")
	rows := [][]interface{}{
		{"act_id", "title", "status", "priority", "owner", "p", "d", "c", "a", "j", "deadline", "comment"},
		{"ACT-0001", "Replace worn belt on line 2", "open", "high", "Amara", "x", "", "", "", 14, deadline, ""},
		{"ACT-0002", "Update operator training deck", "in_progress", "medium", "Jonas", "x", "x", "", "", 14, deadline, "slides half done"},
		{"ACT-0003", "Audit supplier certificates", "open", "high", "", "", "", "", "", -7, past, "owner left the team"},
		{"ACT-0004", "Calibrate torque wrenches", "closed", "low", "Mina", "x", "x", "x", "x", 14, deadline, ""},
		{"ACT-0005", "Label chemical storage", "open", "medium", "Amara", "x", "", "", "", 14, ""},
		{"ACT-0001", "Replace worn belt on line 2 (copy)", "open", "high", "Amara", "", "", "", "", 14, deadline, "pasted row"},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return fmt.Errorf("seed-demo: cell name: %w", err)
		}
		if err := f.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("seed-demo: write row %d: %w", i+1, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return fmt.Errorf("seed-demo: save workbook: %w", err)
	}
	return nil
}

func ensureDemoPlan(gormDB *gorm.DB, sheetPath string) (*models.Plan, error) {
	plan := models.Plan{
		Name:       "Demo plan",
		ExcelPath:  sheetPath,
		ExcelSheet: "Plan",
		HeaderRow:  1,
		Active:     true,
	}
	err := gormDB.Where("name = ?", plan.Name).
		Attrs(plan).
		FirstOrCreate(&plan).Error
	if err != nil {
		return nil, fmt.Errorf("seed-demo: create plan: %w", err)
	}
	return &plan, nil
}
