package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/spf13/cobra"
)

func newPlanCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Manage plan spreadsheets",
	}

	cmd.AddCommand(newPlanAddCmd())
	cmd.AddCommand(newPlanListCmd())
	cmd.AddCommand(newPlanSetActiveCmd())
	return cmd
}

func newPlanAddCmd() *cobra.Command {
	var (
		configPath string
		sheet      string
		headerRow  int
	)

	cmd := &cobra.Command{
		Use:   "add <name> <excel-path>",
		Short: "Register a plan spreadsheet",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			plan := models.Plan{
				Name:       args[0],
				ExcelPath:  args[1],
				ExcelSheet: sheet,
				HeaderRow:  headerRow,
				Active:     true,
			}
			if err := gormDB.Create(&plan).Error; err != nil {
				return fmt.Errorf("create plan: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %q registered (id %d)\n", plan.Name, plan.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVar(&sheet, "sheet", "Plan", "worksheet name")
	cmd.Flags().IntVar(&headerRow, "header-row", 1, "1-based header row index")
	return cmd
}

func newPlanListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var plans []models.Plan
			if err := gormDB.Order("id ASC").Find(&plans).Error; err != nil {
				return fmt.Errorf("list plans: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tPATH\tSHEET\tACTIVE")
			for _, p := range plans {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%t\n", p.ID, p.Name, p.ExcelPath, p.ExcelSheet, p.Active)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}

func newPlanSetActiveCmd() *cobra.Command {
	var (
		configPath string
		active     bool
	)

	cmd := &cobra.Command{
		Use:   "set-active <plan-id>",
		Short: "Toggle whether a plan participates in active-only syncs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			res := gormDB.Model(&models.Plan{}).Where("id = ?", args[0]).Update("active", active)
			if res.Error != nil {
				return fmt.Errorf("update plan: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return fmt.Errorf("plan not found: %s", args[0])
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %s active=%t\n", args[0], active)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().BoolVar(&active, "active", true, "target active state")
	return cmd
}
