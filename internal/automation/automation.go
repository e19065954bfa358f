// Package automation evaluates trigger conditions and executes the
// configured actions.
package automation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/notify"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/dkhelifi/planact/internal/report"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultTimeout = 2 * time.Minute

// ErrNotFound reports that no automation exists under the requested id.
var ErrNotFound = errors.New("automation: not found")

// TriggerParams is the JSON payload stored in Automation.TriggerParams.
type TriggerParams struct {
	Cron        string `json:"cron,omitempty"`
	PlanID      *uint  `json:"plan,omitempty"`
	SeverityMin string `json:"severity_min,omitempty"`
	CountMin    int    `json:"count_min,omitempty"`
}

// ActionParams is the JSON payload stored in Automation.ActionParams.
type ActionParams struct {
	TemplateID uint     `json:"template_id,omitempty"`
	Recipients []string `json:"to,omitempty"`
	RuleKeys   []string `json:"rule_keys,omitempty"`
	PlanID     *uint    `json:"plan,omitempty"`
}

// Outcome is the terminal result of one automation invocation.
type Outcome struct {
	Status  string // OK, FAIL, SKIP
	Message string
}

// Engine runs automations against the current store state.
type Engine struct {
	db      *gorm.DB
	sync    *reconcile.Engine
	quality *quality.Engine
	sender  notify.Sender
	timeout time.Duration
	log     *logrus.Logger
}

// New creates an automation engine. timeout bounds action execution;
// zero means the default of two minutes.
func New(gormDB *gorm.DB, syncEngine *reconcile.Engine, qualityEngine *quality.Engine, sender notify.Sender, timeout time.Duration, log *logrus.Logger) *Engine {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if log == nil {
		log = logrus.New()
	}
	return &Engine{
		db:      gormDB,
		sync:    syncEngine,
		quality: qualityEngine,
		sender:  sender,
		timeout: timeout,
		log:     log,
	}
}

// Run evaluates an automation's trigger and, when it fires, executes its
// action under the engine timeout. The outcome is recorded on the
// automation row. Execution failures are converted into FAIL outcomes,
// never propagated: automations must not crash their caller.
func (e *Engine) Run(ctx context.Context, automationID uint) (*Outcome, error) {
	var a models.Automation
	if err := e.db.First(&a, automationID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrNotFound, automationID)
		}
		return nil, fmt.Errorf("automation: load %d: %w", automationID, err)
	}

	var out *Outcome
	switch {
	case !a.Enabled:
		out = &Outcome{Status: models.RunStatusSkip, Message: "automation disabled"}
	default:
		payload, err := e.evaluateTrigger(ctx, &a)
		if err != nil {
			out = &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("trigger evaluation: %v", err)}
		} else if payload == nil {
			out = &Outcome{Status: models.RunStatusSkip, Message: "trigger condition not met"}
		} else {
			out = e.executeAction(ctx, &a, payload)
		}
	}

	now := time.Now()
	if err := e.db.Model(&models.Automation{}).Where("id = ?", a.ID).
		Updates(map[string]interface{}{
			"last_run_at":  now,
			"last_status":  out.Status,
			"last_message": out.Message,
		}).Error; err != nil {
		return out, fmt.Errorf("automation: record run %d: %w", a.ID, err)
	}
	return out, nil
}

// evaluateTrigger returns the trigger payload, or nil when the condition
// does not hold. Manual and cron triggers always fire: their gating (an
// operator's request, the scheduler's clock) happened before this call.
func (e *Engine) evaluateTrigger(ctx context.Context, a *models.Automation) (map[string]interface{}, error) {
	params, err := parseTriggerParams(a.TriggerParams)
	if err != nil {
		return nil, err
	}

	switch a.Trigger {
	case models.TriggerManual, models.TriggerCron:
		return map[string]interface{}{"trigger": a.Trigger, "automation": a.Name}, nil

	case models.TriggerSyncFailure:
		var job models.SyncJob
		err := e.db.Where("status = ?", models.SyncStatusFail).
			Order("created_at DESC, id DESC").First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, fmt.Errorf("latest failed sync: %w", err)
		}
		return map[string]interface{}{
			"trigger":    a.Trigger,
			"automation": a.Name,
			"job_id":     job.ID,
			"error":      job.Error,
			"failed_at":  job.CreatedAt,
		}, nil

	case models.TriggerQualityThreshold:
		stats, err := e.quality.RunChecks(ctx, quality.RunOpts{
			Filter: quality.ScopeFilter{PlanID: params.PlanID},
			DryRun: true,
		})
		if err != nil {
			return nil, err
		}
		minRank := models.SeverityRank(params.SeverityMin)
		total := 0
		for sev, n := range stats.BySeverity {
			if models.SeverityRank(sev) >= minRank {
				total += n
			}
		}
		if total < params.CountMin {
			return nil, nil
		}
		return map[string]interface{}{
			"trigger":     a.Trigger,
			"automation":  a.Name,
			"count":       total,
			"by_severity": stats.BySeverity,
			"by_rule":     stats.ByRule,
		}, nil

	case models.TriggerOverdueCount:
		q := e.db.Model(&models.Action{}).Where("j < 0")
		if params.PlanID != nil {
			q = q.Where("plan_id = ?", *params.PlanID)
		}
		var count int64
		if err := q.Count(&count).Error; err != nil {
			return nil, fmt.Errorf("count overdue actions: %w", err)
		}
		threshold := params.CountMin
		if threshold < 1 {
			threshold = 1
		}
		if int(count) < threshold {
			return nil, nil
		}
		return map[string]interface{}{
			"trigger":    a.Trigger,
			"automation": a.Name,
			"count":      count,
		}, nil

	default:
		return nil, fmt.Errorf("unknown trigger kind %q", a.Trigger)
	}
}

// executeAction runs the automation's action under the engine timeout.
// Panics and timeouts become FAIL outcomes.
func (e *Engine) executeAction(ctx context.Context, a *models.Automation, payload map[string]interface{}) *Outcome {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	done := make(chan *Outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("action panicked: %v", r)}
			}
		}()
		done <- e.dispatchAction(ctx, a, payload)
	}()

	select {
	case out := <-done:
		return out
	case <-ctx.Done():
		return &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("action timed out after %s", e.timeout)}
	}
}

func (e *Engine) dispatchAction(ctx context.Context, a *models.Automation, payload map[string]interface{}) *Outcome {
	params, err := parseActionParams(a.ActionParams)
	if err != nil {
		return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
	}

	switch a.Action {
	case models.ActionNotify:
		return e.actionNotify(ctx, a, params, payload)

	case models.ActionRunQuality:
		stats, err := e.quality.RunChecks(ctx, quality.RunOpts{
			Filter:    quality.ScopeFilter{PlanID: params.PlanID},
			OnlyRules: params.RuleKeys,
		})
		if err != nil {
			return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
		}
		return &Outcome{Status: models.RunStatusOK, Message: fmt.Sprintf("quality checks ran: %d findings", stats.Total)}

	case models.ActionRunSync:
		cfg, err := e.loadSyncConfig()
		if err != nil {
			return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
		}
		res, err := e.sync.Run(ctx, cfg, reconcile.RunOpts{PlanID: params.PlanID})
		if err != nil {
			return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
		}
		if _, err := e.sync.RecordJob(cfg, res, params.PlanID); err != nil {
			return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
		}
		return &Outcome{Status: models.RunStatusOK, Message: fmt.Sprintf(
			"sync %s: read=%d written=%d ignored=%d",
			res.Status, res.Stats.Read, res.Stats.Written, res.Stats.Ignored)}

	case models.ActionExportReport:
		data, err := report.BuildOverview(e.db)
		if err != nil {
			return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
		}
		return &Outcome{Status: models.RunStatusOK, Message: fmt.Sprintf("report built (%d bytes)", len(data))}

	default:
		return &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("unknown action kind %q", a.Action)}
	}
}

// actionNotify renders the configured template against the trigger
// payload and delivers it.
func (e *Engine) actionNotify(ctx context.Context, a *models.Automation, params *ActionParams, payload map[string]interface{}) *Outcome {
	tmpl, err := e.loadTemplate(params.TemplateID, a)
	if err != nil {
		return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
	}

	rendered, err := notify.Render(tmpl, payload)
	if err != nil {
		return &Outcome{Status: models.RunStatusFail, Message: err.Error()}
	}

	msg := &notify.Message{
		Recipients: params.Recipients,
		Subject:    rendered.Subject,
		BodyHTML:   rendered.BodyHTML,
		BodyText:   rendered.BodyText,
	}
	if err := e.sender.Send(ctx, msg); err != nil {
		if errors.Is(err, notify.ErrTransportUnavailable) {
			return &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("transport unavailable: %v", err)}
		}
		return &Outcome{Status: models.RunStatusFail, Message: fmt.Sprintf("send failed: %v", err)}
	}
	return &Outcome{Status: models.RunStatusOK, Message: "notification delivered"}
}

// loadTemplate fetches the configured template, falling back to a plain
// built-in one so notify automations work out of the box.
func (e *Engine) loadTemplate(templateID uint, a *models.Automation) (*models.NotificationTemplate, error) {
	if templateID == 0 {
		return &models.NotificationTemplate{
			Name:     "builtin",
			Subject:  "Planact: {{.automation}} fired",
			BodyText: "Trigger {{.trigger}} fired for automation {{.automation}}.",
		}, nil
	}
	var tmpl models.NotificationTemplate
	if err := e.db.First(&tmpl, templateID).Error; err != nil {
		return nil, fmt.Errorf("load template %d: %w", templateID, err)
	}
	return &tmpl, nil
}

func (e *Engine) loadSyncConfig() (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	if err := e.db.Order("id ASC").First(&cfg).Error; err != nil {
		return nil, fmt.Errorf("load sync config: %w", err)
	}
	return &cfg, nil
}

// CronExpression returns the cron expression stored in an automation's
// trigger params, or "" when none is set.
func CronExpression(a *models.Automation) (string, error) {
	params, err := parseTriggerParams(a.TriggerParams)
	if err != nil {
		return "", fmt.Errorf("automation: %w", err)
	}
	return params.Cron, nil
}

func parseTriggerParams(raw string) (*TriggerParams, error) {
	var p TriggerParams
	if raw == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse trigger params: %w", err)
	}
	return &p, nil
}

func parseActionParams(raw string) (*ActionParams, error) {
	var p ActionParams
	if raw == "" {
		return &p, nil
	}
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("parse action params: %w", err)
	}
	return &p, nil
}
