package main

import (
	"fmt"
	"os"

	"github.com/dkhelifi/planact/internal/report"
	"github.com/spf13/cobra"
)

func newReportCmd() *cobra.Command {
	var (
		configPath string
		outPath    string
	)

	cmd := &cobra.Command{
		Use:   "report",
		Short: "Export the quality and overdue overview workbook",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			data, err := report.BuildOverview(gormDB)
			if err != nil {
				return err
			}
			if err := os.WriteFile(outPath, data, 0644); err != nil {
				return fmt.Errorf("write report: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s (%d bytes)\n", outPath, len(data))
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVarP(&outPath, "out", "o", "planact-report.xlsx", "output workbook path")
	return cmd
}
