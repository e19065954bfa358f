package models

import "time"

// Sync run outcomes.
const (
	SyncStatusOK      = "OK"
	SyncStatusFail    = "FAIL"
	SyncStatusPartial = "PARTIAL"
)

// Sync scoping strategies.
const (
	SyncStrategySingle = "single-plan"
	SyncStrategyActive = "active-only"
	SyncStrategyAll    = "all"
)

// SyncJob is one row per reconciliation execution. Immutable once created.
type SyncJob struct {
	ID           uint   `gorm:"primaryKey;autoIncrement"`
	PlanID       *uint  `gorm:"index"`
	Status       string `gorm:"size:8;index"`
	ReadCount    int
	WrittenCount int
	IgnoredCount int
	DryRun       bool
	Error        string `gorm:"type:text"`
	CreatedAt    time.Time
}

// SyncConfig is the singleton sync policy row, read once per scheduler tick.
type SyncConfig struct {
	ID          uint   `gorm:"primaryKey;autoIncrement"`
	Enabled     bool   `gorm:"default:false"`
	Cron        string `gorm:"size:64;default:*/30 * * * *"`
	Strategy    string `gorm:"size:16;default:active-only"`
	BatchSize   int    `gorm:"default:500"`
	RetryOnLock bool   `gorm:"default:false"`
	Notes       string `gorm:"type:text"`
	LastRunAt   *time.Time
	LastStatus  string `gorm:"size:8"`
	UpdatedAt   time.Time
}
