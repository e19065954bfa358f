package models

import "time"

// Automation trigger kinds.
const (
	TriggerManual           = "manual"
	TriggerCron             = "cron"
	TriggerSyncFailure      = "sync-failure"
	TriggerQualityThreshold = "quality-threshold"
	TriggerOverdueCount     = "overdue-count"
)

// Automation action kinds.
const (
	ActionNotify       = "notify"
	ActionRunQuality   = "run-quality"
	ActionRunSync      = "run-sync"
	ActionExportReport = "export-report"
)

// Automation outcome statuses.
const (
	RunStatusOK   = "OK"
	RunStatusFail = "FAIL"
	RunStatusSkip = "SKIP"
)

// Automation pairs a trigger condition with an action. TriggerParams and
// ActionParams are JSON objects interpreted per kind (cron expression,
// filter scope, severity/count thresholds, template and recipients).
type Automation struct {
	ID            uint   `gorm:"primaryKey;autoIncrement"`
	Name          string `gorm:"size:255;not null"`
	Enabled       bool   `gorm:"default:true;index"`
	Trigger       string `gorm:"size:32;not null"`
	TriggerParams string `gorm:"type:json"`
	Action        string `gorm:"size:32;not null"`
	ActionParams  string `gorm:"type:json"`
	LastRunAt     *time.Time
	LastStatus    string `gorm:"size:8"`
	LastMessage   string `gorm:"type:text"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
