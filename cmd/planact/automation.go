package main

import (
	"context"
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/spf13/cobra"
)

func newAutomationCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "automation",
		Short: "Manage and run automations",
	}

	cmd.AddCommand(newAutomationListCmd())
	cmd.AddCommand(newAutomationRunCmd())
	return cmd
}

func newAutomationListCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List automations",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var autos []models.Automation
			if err := gormDB.Order("id ASC").Find(&autos).Error; err != nil {
				return fmt.Errorf("list automations: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tENABLED\tTRIGGER\tACTION\tLAST\tSTATUS")
			for _, a := range autos {
				last := "never"
				if a.LastRunAt != nil {
					last = a.LastRunAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%s\t%t\t%s\t%s\t%s\t%s\n",
					a.ID, a.Name, a.Enabled, a.Trigger, a.Action, last, a.LastStatus)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}

func newAutomationRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run <automation-id>",
		Short: "Evaluate and execute one automation now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid automation id %q", args[0])
			}
			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			eng := buildEngines(cfg, gormDB)

			out, err := eng.automations.Run(context.Background(), uint(id))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Automation %d: %s", id, out.Status)
			if out.Message != "" {
				fmt.Fprintf(cmd.OutOrStdout(), " (%s)", out.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout())
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}
