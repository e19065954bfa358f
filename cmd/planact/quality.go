package main

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"text/tabwriter"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/spf13/cobra"
	"gorm.io/gorm"
)

func newQualityCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "quality",
		Short: "Quality rules, check runs, and issues",
	}

	cmd.AddCommand(newQualityRunCmd())
	cmd.AddCommand(newQualityIssuesCmd())
	cmd.AddCommand(newQualityResolveCmd())
	cmd.AddCommand(newQualityIgnoreCmd())
	cmd.AddCommand(newQualityRulesCmd())
	return cmd
}

func newQualityRunCmd() *cobra.Command {
	var (
		configPath string
		dryRun     bool
		planID     uint
		rules      []string
		owner      string
		status     string
	)

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the enabled quality rules now",
		Long: `Evaluates the enabled rules over the scoped records and persists new
findings as OPEN issues. Findings that match an existing issue, whatever
its status, change nothing. With --dry-run nothing is persisted.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			cfg, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			eng := buildEngines(cfg, gormDB)

			opts := quality.RunOpts{
				DryRun:    dryRun,
				OnlyRules: rules,
				Filter: quality.ScopeFilter{
					Owner:  owner,
					Status: status,
				},
			}
			if planID != 0 {
				opts.Filter.PlanID = &planID
			}

			stats, err := eng.quality.RunChecks(context.Background(), opts)
			if err != nil {
				return err
			}

			fmt.Fprintf(out, "Findings: %d\n", stats.Total)
			for _, sev := range []string{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
				if n := stats.BySeverity[sev]; n > 0 {
					fmt.Fprintf(out, "  %-8s %d\n", sev, n)
				}
			}
			keys := make([]string, 0, len(stats.ByRule))
			for k := range stats.ByRule {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "  %s: %d\n", k, stats.ByRule[k])
			}
			if dryRun {
				fmt.Fprintln(out, "(dry run, no issues persisted)")
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "evaluate without persisting issues")
	cmd.Flags().UintVar(&planID, "plan", 0, "narrow the run to one plan id")
	cmd.Flags().StringSliceVar(&rules, "rule", nil, "run only the named rule keys")
	cmd.Flags().StringVar(&owner, "owner", "", "narrow to records owned by this name")
	cmd.Flags().StringVar(&status, "status", "", "narrow to records with this status")
	return cmd
}

func newQualityIssuesCmd() *cobra.Command {
	var (
		configPath string
		status     string
		severity   string
		ruleKey    string
	)

	cmd := &cobra.Command{
		Use:   "issues",
		Short: "List quality issues",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			issues, err := quality.ListIssues(gormDB, quality.IssueFilters{
				Status:   status,
				Severity: severity,
				RuleKey:  ruleKey,
			})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSEVERITY\tSTATUS\tRULE\tENTITY\tMESSAGE")
			for _, iss := range issues {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n",
					iss.ID, iss.Severity, iss.Status, iss.RuleKey, iss.EntityRef, iss.Message)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVar(&status, "status", models.IssueStatusOpen, "filter by status (empty for all)")
	cmd.Flags().StringVar(&severity, "severity", "", "filter by severity")
	cmd.Flags().StringVar(&ruleKey, "rule", "", "filter by rule key")
	return cmd
}

func newQualityResolveCmd() *cobra.Command {
	return newIssueTransitionCmd("resolve", "Mark an issue resolved", quality.Resolve)
}

func newQualityIgnoreCmd() *cobra.Command {
	return newIssueTransitionCmd("ignore", "Mark an issue ignored", quality.Ignore)
}

func newIssueTransitionCmd(verb, short string, fn func(db *gorm.DB, issueID uint, actor string) error) *cobra.Command {
	var (
		configPath string
		actor      string
	)

	cmd := &cobra.Command{
		Use:   verb + " <issue-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 32)
			if err != nil {
				return fmt.Errorf("invalid issue id %q", args[0])
			}
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			if err := fn(gormDB, uint(id), actor); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Issue %d %sd by %s\n", id, verb, actor)
			return nil
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	cmd.Flags().StringVar(&actor, "by", "", "who is making the decision")
	cmd.MarkFlagRequired("by")
	return cmd
}

func newQualityRulesCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List quality rules",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, gormDB, err := connectFromConfig(configPath)
			if err != nil {
				return err
			}
			var rules []models.QualityRule
			if err := gormDB.Order("key ASC").Find(&rules).Error; err != nil {
				return fmt.Errorf("list rules: %w", err)
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "KEY\tSEVERITY\tSCOPE\tENABLED\tNAME")
			for _, r := range rules {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", r.Key, r.Severity, r.Scope, r.Enabled, r.Name)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigPath, "path to Planact config file")
	return cmd
}
