package models

import "time"

// Action statuses. The column is free-form (spreadsheets are hand-edited),
// but these are the conventional values the engines reason about.
const (
	ActionStatusOpen       = "open"
	ActionStatusInProgress = "in_progress"
	ActionStatusClosed     = "closed"
	ActionStatusArchived   = "archived"
	ActionStatusRejected   = "rejected"
)

// Action is a tracked unit of corrective/preventive work. Its source of
// truth partially lives in an external spreadsheet row identified by the
// provenance fields (ExcelFile/ExcelSheet/ExcelRow).
type Action struct {
	ID uint `gorm:"primaryKey;autoIncrement"`
	// ActID is unique by convention; the actid_duplicate quality rule
	// polices violations, so the store does not hard-enforce it.
	ActID    string `gorm:"size:16;index;not null"`
	Title    string `gorm:"size:255"`
	Status   string `gorm:"size:50;index"`
	Priority string `gorm:"size:50"`
	Owner    string `gorm:"size:255"`

	// PDCA process-stage flags.
	P bool `gorm:"default:false"`
	D bool `gorm:"default:false"`
	C bool `gorm:"default:false"`
	A bool `gorm:"default:false"`

	// J is the signed days-to-deadline counter carried by the sheet.
	// Negative means overdue.
	J        *int
	Deadline *time.Time
	DoneAt   *time.Time
	Comment  string `gorm:"type:text"`

	PlanID uint `gorm:"index;not null"`

	// Provenance: the source cell range this action was last read from,
	// used for write-back.
	ExcelFile  string `gorm:"size:500"`
	ExcelSheet string `gorm:"size:255"`
	ExcelRow   int

	// Extra holds unmapped source columns as a JSON object.
	Extra string `gorm:"type:json"`

	CreatedAt time.Time
	UpdatedAt time.Time

	Plan Plan `gorm:"foreignKey:PlanID"`
}

// Overdue reports whether the action's days-to-deadline counter is negative.
func (a *Action) Overdue() bool {
	return a.J != nil && *a.J < 0
}
