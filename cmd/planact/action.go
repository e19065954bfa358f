package main

import (
	"fmt"

	"github.com/dkhelifi/planact/internal/actid"
	"github.com/dkhelifi/planact/internal/excel"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/spf13/cobra"
)

func newActionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "action",
		Short: "Manage individual actions",
	}

	cmd.AddCommand(newActionNewCmd())
	cmd.AddCommand(newActionPushCmd())
	return cmd
}

func newActionNewCmd() *cobra.Command {
	var (
		configPath string
		planID     uint
		priority   string
		owner      string
		deadline   string
	)

	cmd := &cobra.Command{
		Use:   "new <title>",
		Short: "Create an action with a generated id",
		Long:  "Allocates the next sequential ACT-NNNN identifier and creates the action in the store. The row gains spreadsheet provenance on the next write-back.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}

			var plan models.Plan
			if err := gormDB.First(&plan, planID).Error; err != nil {
				return fmt.Errorf("plan %d: %w", planID, err)
			}

			id, err := actid.Next(gormDB)
			if err != nil {
				return err
			}

			action := models.Action{
				ActID:    id,
				Title:    args[0],
				Status:   models.ActionStatusOpen,
				Priority: priority,
				Owner:    owner,
				PlanID:   plan.ID,
			}
			if deadline != "" {
				t, err := parseDate(deadline)
				if err != nil {
					return err
				}
				action.Deadline = &t
			}
			if err := gormDB.Create(&action).Error; err != nil {
				return fmt.Errorf("create action: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created %s: %s\n", action.ActID, action.Title)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().UintVar(&planID, "plan", 0, "plan id the action belongs to")
	cmd.Flags().StringVar(&priority, "priority", "medium", "priority label")
	cmd.Flags().StringVar(&owner, "owner", "", "owner name")
	cmd.Flags().StringVar(&deadline, "deadline", "", "deadline (YYYY-MM-DD)")
	cmd.MarkFlagRequired("plan")
	return cmd
}

func newActionPushCmd() *cobra.Command {
	var (
		configPath string
		strategy   string
	)

	cmd := &cobra.Command{
		Use:   "push <act-id>",
		Short: "Write an action's fields back to its spreadsheet row",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			n, err := excel.ApplyUpdate(gormDB, args[0], strategy)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %d row(s) for %s\n", n, args[0])
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVar(&strategy, "strategy", "all", "which matching rows to update (all, active, first)")
	return cmd
}
