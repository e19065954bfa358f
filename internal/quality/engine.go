// Package quality runs data-quality rules over the store and manages the
// resulting issues.
package quality

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Stats aggregates a check run's findings.
type Stats struct {
	Total      int
	BySeverity map[string]int
	ByRule     map[string]int
}

// RunOpts holds per-invocation options for a check run.
type RunOpts struct {
	Filter    ScopeFilter
	OnlyRules []string
	DryRun    bool
}

// Engine evaluates enabled rules and reconciles findings against
// persisted issues.
type Engine struct {
	db    *gorm.DB
	probe func(plan *models.Plan) error
	log   *logrus.Logger
}

// New creates a quality engine. probe answers whether a plan's source is
// reachable; pass nil to skip source-scoped rules.
func New(gormDB *gorm.DB, probe func(plan *models.Plan) error, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{db: gormDB, probe: probe, log: log}
}

// RunChecks evaluates the enabled rules against the scoped sets and,
// unless dry-running, upserts findings as issues. The upsert is keyed by
// the issue natural key: an existing row is left untouched whatever its
// status, so re-detection never duplicates an open issue or fights a
// human's RESOLVED/IGNORED decision.
func (e *Engine) RunChecks(ctx context.Context, opts RunOpts) (*Stats, error) {
	rules, err := e.loadRules(opts.OnlyRules)
	if err != nil {
		return nil, err
	}

	actions, err := ActionsInScope(e.db, opts.Filter)
	if err != nil {
		return nil, err
	}
	plans, err := PlansInScope(e.db, opts.Filter)
	if err != nil {
		return nil, err
	}

	in := Input{Actions: actions, Plans: plans, Now: time.Now(), Probe: e.probe}
	stats := &Stats{
		BySeverity: make(map[string]int),
		ByRule:     make(map[string]int),
	}

	for i := range rules {
		rule := &rules[i]
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("quality: %w", err)
		}

		fn, ok := Registry[rule.Key]
		if !ok {
			// One misconfigured rule must not block the run.
			e.log.WithField("rule", rule.Key).Warn("quality: no evaluator registered, skipping")
			continue
		}

		findings := fn(in, rule)
		stats.Total += len(findings)
		stats.BySeverity[rule.Severity] += len(findings)
		stats.ByRule[rule.Key] += len(findings)

		if opts.DryRun {
			continue
		}
		for _, f := range findings {
			if err := e.upsertIssue(rule, f); err != nil {
				// Per-finding isolation: a bad row should not abort the rest.
				e.log.WithFields(logrus.Fields{"rule": rule.Key, "entity": f.EntityRef}).
					Warnf("quality: persist finding: %v", err)
			}
		}
	}
	return stats, nil
}

// loadRules returns the enabled rules, optionally narrowed to onlyRules.
func (e *Engine) loadRules(onlyRules []string) ([]models.QualityRule, error) {
	q := e.db.Where("enabled = ?", true).Order("key ASC")
	if len(onlyRules) > 0 {
		q = q.Where("key IN ?", onlyRules)
	}
	var rules []models.QualityRule
	if err := q.Find(&rules).Error; err != nil {
		return nil, fmt.Errorf("quality: load rules: %w", err)
	}
	return rules, nil
}

// upsertIssue inserts a new OPEN issue for the finding unless one already
// exists under the natural key. Atomic per finding.
func (e *Engine) upsertIssue(rule *models.QualityRule, f Finding) error {
	var existing models.QualityIssue
	err := e.db.Where(
		"rule_key = ? AND entity_type = ? AND entity_ref = ? AND message = ?",
		rule.Key, f.EntityType, f.EntityRef, f.Message,
	).First(&existing).Error
	if err == nil {
		// Rediscovery mutates nothing, not even the detection timestamp.
		return nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("lookup issue: %w", err)
	}

	details := "{}"
	if len(f.Details) > 0 {
		data, err := json.Marshal(f.Details)
		if err != nil {
			return fmt.Errorf("marshal details: %w", err)
		}
		details = string(data)
	}

	issue := models.QualityIssue{
		RuleKey:    rule.Key,
		EntityType: f.EntityType,
		EntityRef:  f.EntityRef,
		Message:    f.Message,
		PlanID:     f.PlanID,
		Severity:   rule.Severity,
		Details:    details,
		Status:     models.IssueStatusOpen,
		DetectedAt: time.Now(),
	}
	if err := e.db.Create(&issue).Error; err != nil {
		return fmt.Errorf("create issue: %w", err)
	}
	return nil
}
