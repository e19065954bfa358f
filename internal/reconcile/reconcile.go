// Package reconcile synchronizes actions from plan workbooks into the
// canonical store.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dkhelifi/planact/internal/excel"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Stats aggregates row counters across one run.
type Stats struct {
	Read    int
	Written int
	Ignored int
}

// PlanError records a per-plan failure without aborting the other plans.
type PlanError struct {
	PlanID uint
	Err    error
}

// Result is the outcome of one reconciliation run.
type Result struct {
	Stats  Stats
	Status string // OK, PARTIAL, FAIL
	Errors []PlanError
	DryRun bool
}

// ErrorText joins per-plan errors for job bookkeeping.
func (r *Result) ErrorText() string {
	if len(r.Errors) == 0 {
		return ""
	}
	parts := make([]string, len(r.Errors))
	for i, pe := range r.Errors {
		if pe.PlanID == 0 {
			parts[i] = pe.Err.Error()
			continue
		}
		parts[i] = fmt.Sprintf("plan %d: %v", pe.PlanID, pe.Err)
	}
	return strings.Join(parts, "; ")
}

// RunOpts holds per-invocation options.
type RunOpts struct {
	DryRun bool
	PlanID *uint // narrow the run to one plan
}

// Engine computes and applies per-row upserts from plan workbooks.
type Engine struct {
	db     *gorm.DB
	reader excel.Reader
	log    *logrus.Logger
}

// New creates a reconciliation engine.
func New(gormDB *gorm.DB, reader excel.Reader, log *logrus.Logger) *Engine {
	if log == nil {
		log = logrus.New()
	}
	return &Engine{db: gormDB, reader: reader, log: log}
}

// Run reconciles the plans in scope. Scope resolution: a single plan when
// opts.PlanID is set, active plans for the "active-only" strategy, all
// plans otherwise. A failing plan is recorded and skipped so the remaining
// plans still sync; the run status is OK when every plan succeeded, FAIL
// when none did, PARTIAL in between.
func (e *Engine) Run(ctx context.Context, cfg *models.SyncConfig, opts RunOpts) (*Result, error) {
	if cfg == nil {
		return nil, fmt.Errorf("reconcile: sync config is required")
	}

	plans, err := e.resolvePlans(cfg, opts)
	if err != nil {
		return nil, err
	}

	res := &Result{DryRun: opts.DryRun}
	succeeded := 0
	for i := range plans {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("reconcile: %w", err)
		}
		if err := e.runPlan(&plans[i], cfg.BatchSize, opts.DryRun, &res.Stats); err != nil {
			e.log.WithFields(logrus.Fields{"plan": plans[i].ID, "name": plans[i].Name}).
				Warnf("reconcile: plan failed: %v", err)
			res.Errors = append(res.Errors, PlanError{PlanID: plans[i].ID, Err: err})
			continue
		}
		succeeded++
	}

	switch {
	case len(res.Errors) == 0:
		res.Status = models.SyncStatusOK
	case succeeded == 0:
		res.Status = models.SyncStatusFail
	default:
		res.Status = models.SyncStatusPartial
	}
	return res, nil
}

// resolvePlans returns the set of plans in scope for this run.
func (e *Engine) resolvePlans(cfg *models.SyncConfig, opts RunOpts) ([]models.Plan, error) {
	q := e.db.Order("id ASC")
	if opts.PlanID != nil {
		q = q.Where("id = ?", *opts.PlanID)
	} else if cfg.Strategy == models.SyncStrategyActive {
		q = q.Where("active = ?", true)
	}

	var plans []models.Plan
	if err := q.Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("reconcile: resolve plans: %w", err)
	}
	if opts.PlanID != nil && len(plans) == 0 {
		return nil, fmt.Errorf("reconcile: plan not found: %d", *opts.PlanID)
	}
	return plans, nil
}

// runPlan reads one plan's workbook and upserts its rows. batchSize caps
// the number of rows processed per plan when positive.
func (e *Engine) runPlan(plan *models.Plan, batchSize int, dryRun bool, stats *Stats) error {
	rows, err := e.reader.ReadPlan(plan)
	if err != nil {
		return err
	}
	if batchSize > 0 && len(rows) > batchSize {
		rows = rows[:batchSize]
	}
	stats.Read += len(rows)

	for _, row := range rows {
		actID := row.Values["act_id"]
		if actID == "" {
			// Partially filled template rows are common; skipping them
			// is policy, not an error.
			stats.Ignored++
			continue
		}

		desired, err := mapRow(plan, row)
		if err != nil {
			return fmt.Errorf("row %d: %w", row.Index, err)
		}

		var existing models.Action
		findErr := e.db.Where("act_id = ?", actID).First(&existing).Error
		switch {
		case errors.Is(findErr, gorm.ErrRecordNotFound):
			if !dryRun {
				if err := e.db.Transaction(func(tx *gorm.DB) error {
					return tx.Create(desired).Error
				}); err != nil {
					return fmt.Errorf("create %s: %w", actID, err)
				}
			}
			stats.Written++
		case findErr != nil:
			return fmt.Errorf("lookup %s: %w", actID, findErr)
		default:
			if !changed(&existing, desired) {
				continue
			}
			if !dryRun {
				if err := e.db.Transaction(func(tx *gorm.DB) error {
					applyFields(&existing, desired)
					return tx.Save(&existing).Error
				}); err != nil {
					return fmt.Errorf("update %s: %w", actID, err)
				}
			}
			stats.Written++
		}
	}
	return nil
}

// RecordJob persists one SyncJob row for a completed run and stamps the
// policy bookkeeping. The job row is immutable once created.
func (e *Engine) RecordJob(cfg *models.SyncConfig, res *Result, planID *uint) (*models.SyncJob, error) {
	job := models.SyncJob{
		PlanID:       planID,
		Status:       res.Status,
		ReadCount:    res.Stats.Read,
		WrittenCount: res.Stats.Written,
		IgnoredCount: res.Stats.Ignored,
		DryRun:       res.DryRun,
		Error:        res.ErrorText(),
		CreatedAt:    time.Now(),
	}
	if err := e.db.Create(&job).Error; err != nil {
		return nil, fmt.Errorf("reconcile: record job: %w", err)
	}

	now := time.Now()
	if err := e.db.Model(&models.SyncConfig{}).Where("id = ?", cfg.ID).
		Updates(map[string]interface{}{
			"last_run_at": now,
			"last_status": res.Status,
		}).Error; err != nil {
		return nil, fmt.Errorf("reconcile: update policy bookkeeping: %w", err)
	}
	cfg.LastRunAt = &now
	cfg.LastStatus = res.Status
	return &job, nil
}

// RecordFailure persists a FAIL job for a run that never produced a
// result (for example when plan resolution itself failed).
func (e *Engine) RecordFailure(cfg *models.SyncConfig, planID *uint, dryRun bool, runErr error) (*models.SyncJob, error) {
	res := &Result{Status: models.SyncStatusFail, DryRun: dryRun}
	if runErr != nil {
		res.Errors = []PlanError{{Err: runErr}}
	}
	return e.RecordJob(cfg, res, planID)
}
