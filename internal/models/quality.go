package models

import "time"

// Issue severities, highest first.
const (
	SeverityCritical = "CRITICAL"
	SeverityHigh     = "HIGH"
	SeverityMedium   = "MEDIUM"
	SeverityLow      = "LOW"
)

// Rule scopes: what entity set an evaluator runs over.
const (
	RuleScopeAction = "action"
	RuleScopePlan   = "plan"
)

// Issue lifecycle states.
const (
	IssueStatusOpen     = "OPEN"
	IssueStatusResolved = "RESOLVED"
	IssueStatusIgnored  = "IGNORED"
)

// QualityRule is an operator-managed rule definition. Key selects the
// registered evaluator; an unknown key is skipped at run time, not fatal.
type QualityRule struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Key       string `gorm:"size:64;uniqueIndex;not null"`
	Name      string `gorm:"size:255"`
	Enabled   bool   `gorm:"default:true;index"`
	Severity  string `gorm:"size:16;default:MEDIUM"`
	Scope     string `gorm:"size:16;default:action"`
	Params    string `gorm:"type:json"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// QualityIssue is the persisted, deduplicated form of a finding. The
// (RuleKey, EntityType, EntityRef, Message) tuple is the natural key:
// re-detection of the same condition must match an existing row and leave
// it untouched, whatever its status.
type QualityIssue struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	RuleKey    string `gorm:"size:64;uniqueIndex:idx_issue_natural,priority:1"`
	EntityType string `gorm:"size:16;uniqueIndex:idx_issue_natural,priority:2"`
	EntityRef  string `gorm:"size:64;uniqueIndex:idx_issue_natural,priority:3"`
	Message    string `gorm:"size:255;uniqueIndex:idx_issue_natural,priority:4"`
	PlanID     *uint  `gorm:"index"`
	Severity   string `gorm:"size:16;index"`
	Details    string `gorm:"type:json"`
	Status     string `gorm:"size:16;default:OPEN;index"`
	DetectedAt time.Time
	ResolvedBy string `gorm:"size:64"`
	ResolvedAt *time.Time
}

// SeverityRank orders severities for threshold comparisons. Higher is more
// severe; unknown severities rank below LOW.
func SeverityRank(severity string) int {
	switch severity {
	case SeverityCritical:
		return 4
	case SeverityHigh:
		return 3
	case SeverityMedium:
		return 2
	case SeverityLow:
		return 1
	default:
		return 0
	}
}
