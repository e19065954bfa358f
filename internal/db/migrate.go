package db

import (
	"errors"
	"fmt"

	"github.com/dkhelifi/planact/internal/config"
	"github.com/dkhelifi/planact/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns the list of all GORM models for migration.
func AllModels() []interface{} {
	return []interface{}{
		&models.Plan{},
		&models.Action{},
		&models.SyncJob{},
		&models.SyncConfig{},
		&models.QualityRule{},
		&models.QualityIssue{},
		&models.Automation{},
		&models.NotificationTemplate{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// BuiltinRules are the quality rule definitions shipped with Planact.
// Operators can disable them or adjust severity per deployment.
var BuiltinRules = []models.QualityRule{
	{Key: "missing_required", Name: "Required fields empty", Severity: models.SeverityHigh, Scope: models.RuleScopeAction},
	{Key: "invalid_dates", Name: "Deadline or completion before creation", Severity: models.SeverityMedium, Scope: models.RuleScopeAction},
	{Key: "deadline_mismatch_j", Name: "J counter disagrees with deadline", Severity: models.SeverityMedium, Scope: models.RuleScopeAction},
	{Key: "actid_duplicate", Name: "Duplicate ACT-ID", Severity: models.SeverityCritical, Scope: models.RuleScopeAction},
	{Key: "orphan_row_index", Name: "Missing source row back-reference", Severity: models.SeverityHigh, Scope: models.RuleScopeAction},
	{Key: "pdca_inconsistent", Name: "PDCA flags disagree with status", Severity: models.SeverityMedium, Scope: models.RuleScopeAction},
	{Key: "owner_missing", Name: "No owner assigned", Severity: models.SeverityMedium, Scope: models.RuleScopeAction},
	{Key: "excel_path_unreachable", Name: "Source workbook unreachable", Severity: models.SeverityCritical, Scope: models.RuleScopePlan},
}

// SeedRules upserts the built-in quality rule definitions. Enabled state is
// left alone for existing rows so operator toggles survive re-migration.
func SeedRules(db *gorm.DB) error {
	for _, r := range BuiltinRules {
		rule := models.QualityRule{
			Key:      r.Key,
			Name:     r.Name,
			Enabled:  true,
			Severity: r.Severity,
			Scope:    r.Scope,
			Params:   "{}",
		}
		result := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "scope"}),
		}).Create(&rule)
		if result.Error != nil {
			return fmt.Errorf("db: seed rule %q: %w", r.Key, result.Error)
		}
	}
	return nil
}

// EnsureSyncConfig returns the singleton sync policy row, creating it from
// configured defaults when absent.
func EnsureSyncConfig(db *gorm.DB, defaults config.SyncDefaults) (*models.SyncConfig, error) {
	var cfg models.SyncConfig
	err := db.Order("id ASC").First(&cfg).Error
	if err == nil {
		return &cfg, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("db: load sync config: %w", err)
	}

	cfg = models.SyncConfig{
		Enabled:   false,
		Cron:      defaults.Cron,
		Strategy:  defaults.Strategy,
		BatchSize: 500,
	}
	if err := db.Create(&cfg).Error; err != nil {
		return nil, fmt.Errorf("db: create sync config: %w", err)
	}
	return &cfg, nil
}
