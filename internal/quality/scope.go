package quality

import (
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"gorm.io/gorm"
)

// ScopeFilter narrows the record and plan sets a check run operates on.
// The same narrowing rules serve operational queries elsewhere; a zero
// filter means full visibility.
type ScopeFilter struct {
	PlanID       *uint
	Status       string
	Priority     string
	Owner        string
	Query        string // free text over act_id, title, comment
	DeadlineFrom *time.Time
	DeadlineTo   *time.Time
}

// ActionsInScope loads the actions matching the filter.
func ActionsInScope(db *gorm.DB, f ScopeFilter) ([]models.Action, error) {
	q := db.Model(&models.Action{}).Order("id ASC")
	if f.PlanID != nil {
		q = q.Where("plan_id = ?", *f.PlanID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Priority != "" {
		q = q.Where("priority = ?", f.Priority)
	}
	if f.Owner != "" {
		q = q.Where("owner = ?", f.Owner)
	}
	if f.Query != "" {
		like := "%" + f.Query + "%"
		q = q.Where("act_id LIKE ? OR title LIKE ? OR comment LIKE ?", like, like, like)
	}
	if f.DeadlineFrom != nil {
		q = q.Where("deadline >= ?", *f.DeadlineFrom)
	}
	if f.DeadlineTo != nil {
		q = q.Where("deadline <= ?", *f.DeadlineTo)
	}

	var actions []models.Action
	if err := q.Find(&actions).Error; err != nil {
		return nil, fmt.Errorf("quality: scope actions: %w", err)
	}
	return actions, nil
}

// PlansInScope loads the plans matching the filter.
func PlansInScope(db *gorm.DB, f ScopeFilter) ([]models.Plan, error) {
	q := db.Model(&models.Plan{}).Order("id ASC")
	if f.PlanID != nil {
		q = q.Where("id = ?", *f.PlanID)
	}

	var plans []models.Plan
	if err := q.Find(&plans).Error; err != nil {
		return nil, fmt.Errorf("quality: scope plans: %w", err)
	}
	return plans, nil
}
