package quality

import (
	"errors"
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"gorm.io/gorm"
)

// ErrIssueNotFound is returned when a lifecycle transition targets an
// issue id with no row.
var ErrIssueNotFound = errors.New("quality: issue not found")

// Resolve marks an OPEN issue RESOLVED, recording who and when. A single
// atomic field update; a later re-detection of the same condition will
// not reopen it.
func Resolve(db *gorm.DB, issueID uint, actor string) error {
	return transition(db, issueID, actor, models.IssueStatusResolved)
}

// Ignore marks an OPEN issue IGNORED, recording who and when.
func Ignore(db *gorm.DB, issueID uint, actor string) error {
	return transition(db, issueID, actor, models.IssueStatusIgnored)
}

func transition(db *gorm.DB, issueID uint, actor, status string) error {
	if actor == "" {
		return fmt.Errorf("quality: actor is required")
	}
	result := db.Model(&models.QualityIssue{}).Where("id = ?", issueID).
		Updates(map[string]interface{}{
			"status":      status,
			"resolved_by": actor,
			"resolved_at": time.Now(),
		})
	if result.Error != nil {
		return fmt.Errorf("quality: %s issue %d: %w", status, issueID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("%w: %d", ErrIssueNotFound, issueID)
	}
	return nil
}

// IssueFilters holds optional filters for listing issues.
type IssueFilters struct {
	Status    string
	Severity  string
	RuleKey   string
	PlanID    *uint
	EntityRef string
}

// ListIssues returns issues matching the filters, most recent first.
func ListIssues(db *gorm.DB, f IssueFilters) ([]models.QualityIssue, error) {
	q := db.Order("detected_at DESC, id DESC")
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Severity != "" {
		q = q.Where("severity = ?", f.Severity)
	}
	if f.RuleKey != "" {
		q = q.Where("rule_key = ?", f.RuleKey)
	}
	if f.PlanID != nil {
		q = q.Where("plan_id = ?", *f.PlanID)
	}
	if f.EntityRef != "" {
		q = q.Where("entity_ref = ?", f.EntityRef)
	}

	var issues []models.QualityIssue
	if err := q.Find(&issues).Error; err != nil {
		return nil, fmt.Errorf("quality: list issues: %w", err)
	}
	return issues, nil
}

// CountOpenBySeverity returns open-issue counts keyed by severity.
func CountOpenBySeverity(db *gorm.DB) (map[string]int, error) {
	type row struct {
		Severity string
		N        int
	}
	var rows []row
	if err := db.Model(&models.QualityIssue{}).
		Select("severity, COUNT(*) as n").
		Where("status = ?", models.IssueStatusOpen).
		Group("severity").Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("quality: count open issues: %w", err)
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.Severity] = r.N
	}
	return out, nil
}
