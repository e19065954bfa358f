package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version info set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "planact",
		Short: "Spreadsheet-driven action tracking",
		Long:  "Planact reconciles action-plan spreadsheets into a canonical store, runs quality checks over the records, and automates follow-up work.",
	}

	cmd.AddCommand(newVersionCmd())
	cmd.AddCommand(newDBCmd())
	cmd.AddCommand(newPlanCmd())
	cmd.AddCommand(newActionCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newQualityCmd())
	cmd.AddCommand(newAutomationCmd())
	cmd.AddCommand(newReportCmd())
	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newDaemonCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "planact %s (commit: %s, built: %s)\n", Version, Commit, Date)
		},
	}
}

func execute(cmd *cobra.Command) int {
	if err := cmd.Execute(); err != nil {
		return 1
	}
	return 0
}

func main() {
	os.Exit(execute(newRootCmd()))
}
