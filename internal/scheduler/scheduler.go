// Package scheduler owns the recurring sync and quality jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/dkhelifi/planact/internal/automation"
	"github.com/dkhelifi/planact/internal/config"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/notify"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// ValidateCron rejects an unparseable cron expression before it reaches
// the store.
func ValidateCron(expr string) error {
	if _, err := cronParser.Parse(expr); err != nil {
		return fmt.Errorf("scheduler: invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// Service owns the cron job set. All mutation goes through Reconfigure
// and ReloadAutomations so there is never a stale entry: jobs are removed
// before being re-added. Each job is wrapped in SkipIfStillRunning, so a
// tick that fires while the previous run is still going is skipped, never
// run concurrently.
type Service struct {
	db          *gorm.DB
	cfg         config.SchedulerConfig
	syncEngine  *reconcile.Engine
	quality     *quality.Engine
	automations *automation.Engine
	sender      notify.Sender
	log         *logrus.Logger

	cron *cron.Cron

	mu            sync.Mutex
	syncEntry     cron.EntryID
	qualityEntry  cron.EntryID
	automationIDs map[uint]cron.EntryID
}

// New creates a scheduler service. Call Start to begin ticking and Stop
// to shut down; the job set is owned by this value, not by package state.
func New(gormDB *gorm.DB, cfg config.SchedulerConfig, syncEngine *reconcile.Engine, qualityEngine *quality.Engine, automationEngine *automation.Engine, sender notify.Sender, log *logrus.Logger) *Service {
	if log == nil {
		log = logrus.New()
	}
	return &Service{
		db:          gormDB,
		cfg:         cfg,
		syncEngine:  syncEngine,
		quality:     qualityEngine,
		automations: automationEngine,
		sender:      sender,
		log:         log,
		cron: cron.New(
			cron.WithParser(cronParser),
			cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(log))),
		),
		automationIDs: make(map[uint]cron.EntryID),
	}
}

// Start registers the quality tick, applies the current sync policy and
// cron automations, and starts the timer.
func (s *Service) Start() error {
	if err := s.registerQualityTick(); err != nil {
		return err
	}

	var syncCfg models.SyncConfig
	err := s.db.Order("id ASC").First(&syncCfg).Error
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("scheduler: load sync config: %w", err)
	}
	if err == nil {
		if err := s.Reconfigure(&syncCfg); err != nil {
			return err
		}
	}

	if err := s.ReloadAutomations(); err != nil {
		return err
	}

	s.cron.Start()
	return nil
}

// Stop halts the timer and waits for in-flight jobs to finish.
func (s *Service) Stop() {
	<-s.cron.Stop().Done()
}

// Reconfigure applies a sync policy change: the existing sync job is
// removed and, when the policy is enabled, a new one is added under the
// new cron expression. Disabling deterministically removes the job, so
// there is no stale fire after disable.
func (s *Service) Reconfigure(syncCfg *models.SyncConfig) error {
	if syncCfg.Enabled {
		if err := ValidateCron(syncCfg.Cron); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.syncEntry != 0 {
		s.cron.Remove(s.syncEntry)
		s.syncEntry = 0
	}
	if !syncCfg.Enabled {
		s.log.Info("scheduler: sync disabled, job removed")
		return nil
	}

	id, err := s.cron.AddFunc(syncCfg.Cron, s.runSyncTick)
	if err != nil {
		return fmt.Errorf("scheduler: add sync job: %w", err)
	}
	s.syncEntry = id
	s.log.WithField("cron", syncCfg.Cron).Info("scheduler: sync job registered")
	return nil
}

// ReloadAutomations re-registers every enabled cron-triggered automation.
func (s *Service) ReloadAutomations() error {
	var autos []models.Automation
	if err := s.db.Where("enabled = ? AND trigger = ?", true, models.TriggerCron).
		Find(&autos).Error; err != nil {
		return fmt.Errorf("scheduler: load cron automations: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range s.automationIDs {
		s.cron.Remove(id)
	}
	s.automationIDs = make(map[uint]cron.EntryID)

	for _, a := range autos {
		expr, err := automationCron(&a)
		if err != nil {
			s.log.WithField("automation", a.Name).Warnf("scheduler: %v, skipping", err)
			continue
		}
		autoID := a.ID
		entry, err := s.cron.AddFunc(expr, func() { s.runAutomationTick(autoID) })
		if err != nil {
			s.log.WithField("automation", a.Name).Warnf("scheduler: add job: %v, skipping", err)
			continue
		}
		s.automationIDs[autoID] = entry
	}
	return nil
}

func (s *Service) registerQualityTick() error {
	if err := ValidateCron(s.cfg.QualityCron); err != nil {
		return err
	}
	id, err := s.cron.AddFunc(s.cfg.QualityCron, s.runQualityTick)
	if err != nil {
		return fmt.Errorf("scheduler: add quality job: %w", err)
	}
	s.qualityEntry = id
	return nil
}

// runSyncTick executes one scheduled reconciliation. The policy is
// re-derived from the store on every tick, so an operator disable that
// raced a fire still wins: the tick removes its own job and does nothing.
func (s *Service) runSyncTick() {
	var syncCfg models.SyncConfig
	if err := s.db.Order("id ASC").First(&syncCfg).Error; err != nil {
		s.log.Errorf("scheduler: sync tick: load config: %v", err)
		return
	}
	if !syncCfg.Enabled {
		s.mu.Lock()
		if s.syncEntry != 0 {
			s.cron.Remove(s.syncEntry)
			s.syncEntry = 0
		}
		s.mu.Unlock()
		s.log.Info("scheduler: sync disabled, removing job")
		return
	}

	res, err := s.syncEngine.Run(context.Background(), &syncCfg, reconcile.RunOpts{})
	if err != nil {
		s.log.Errorf("scheduler: sync tick failed: %v", err)
		if _, recErr := s.syncEngine.RecordFailure(&syncCfg, nil, false, err); recErr != nil {
			s.log.Errorf("scheduler: record sync failure: %v", recErr)
		}
		return
	}
	if _, err := s.syncEngine.RecordJob(&syncCfg, res, nil); err != nil {
		s.log.Errorf("scheduler: record sync job: %v", err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"status":  res.Status,
		"read":    res.Stats.Read,
		"written": res.Stats.Written,
		"ignored": res.Stats.Ignored,
	}).Info("scheduler: sync tick done")
}

// runQualityTick executes one scheduled check run with full visibility
// (no caller scope narrowing) and raises an alert when severity counts
// meet the configured thresholds.
func (s *Service) runQualityTick() {
	stats, err := s.quality.RunChecks(context.Background(), quality.RunOpts{})
	if err != nil {
		s.log.Errorf("scheduler: quality tick failed: %v", err)
		return
	}

	criticals := stats.BySeverity[models.SeverityCritical]
	highs := stats.BySeverity[models.SeverityHigh]
	s.log.WithFields(logrus.Fields{
		"total":    stats.Total,
		"critical": criticals,
		"high":     highs,
	}).Info("scheduler: quality tick done")

	// Thresholds are meets-or-exceeds; zero disables a threshold.
	alert := false
	if s.cfg.CriticalThreshold > 0 && criticals >= s.cfg.CriticalThreshold {
		alert = true
	}
	if s.cfg.HighThreshold > 0 && highs >= s.cfg.HighThreshold {
		alert = true
	}
	if !alert {
		return
	}

	s.log.WithFields(logrus.Fields{"critical": criticals, "high": highs}).
		Warn("scheduler: quality thresholds breached")
	s.sendAlert(criticals, highs, stats.Total)
}

// sendAlert delivers the threshold alert, swallowing transport failures:
// alerting is best effort and must never take the scheduler down.
func (s *Service) sendAlert(criticals, highs, total int) {
	if s.sender == nil {
		return
	}
	msg := &notify.Message{
		Subject: fmt.Sprintf("Quality alert: %d critical, %d high findings", criticals, highs),
		BodyText: fmt.Sprintf(
			"The scheduled quality run produced %d findings: %d CRITICAL and %d HIGH, meeting the configured alert thresholds.",
			total, criticals, highs),
	}
	if err := s.sender.Send(context.Background(), msg); err != nil {
		if errors.Is(err, notify.ErrTransportUnavailable) {
			s.log.Warnf("scheduler: alert transport unavailable: %v", err)
			return
		}
		s.log.Warnf("scheduler: alert send failed: %v", err)
	}
}

// runAutomationTick runs one cron-triggered automation.
func (s *Service) runAutomationTick(automationID uint) {
	out, err := s.automations.Run(context.Background(), automationID)
	if err != nil {
		s.log.Errorf("scheduler: automation %d: %v", automationID, err)
		return
	}
	s.log.WithFields(logrus.Fields{
		"automation": automationID,
		"status":     out.Status,
	}).Info("scheduler: automation tick done")
}

// automationCron extracts the cron expression from an automation's
// trigger params.
func automationCron(a *models.Automation) (string, error) {
	params, err := automation.CronExpression(a)
	if err != nil {
		return "", err
	}
	if params == "" {
		return "", fmt.Errorf("no cron expression configured")
	}
	if err := ValidateCron(params); err != nil {
		return "", err
	}
	return params, nil
}
