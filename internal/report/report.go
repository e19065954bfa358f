// Package report builds operator-facing report artifacts.
package report

import (
	"fmt"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

const (
	issuesSheet  = "Issues"
	overdueSheet = "Overdue"
)

// BuildOverview renders a workbook with the current quality picture:
// open issue counts by severity and rule, and the list of overdue
// actions. Returns the serialized workbook bytes.
func BuildOverview(db *gorm.DB) ([]byte, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := writeIssuesSheet(f, db); err != nil {
		return nil, err
	}
	if err := writeOverdueSheet(f, db); err != nil {
		return nil, err
	}

	// Drop the default sheet so the report opens on Issues.
	f.DeleteSheet("Sheet1")

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("report: serialize workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeIssuesSheet(f *excelize.File, db *gorm.DB) error {
	if _, err := f.NewSheet(issuesSheet); err != nil {
		return fmt.Errorf("report: create sheet: %w", err)
	}

	bySeverity, err := quality.CountOpenBySeverity(db)
	if err != nil {
		return err
	}

	f.SetCellValue(issuesSheet, "A1", "Severity")
	f.SetCellValue(issuesSheet, "B1", "Open issues")
	row := 2
	for _, sev := range []string{models.SeverityCritical, models.SeverityHigh, models.SeverityMedium, models.SeverityLow} {
		f.SetCellValue(issuesSheet, fmt.Sprintf("A%d", row), sev)
		f.SetCellValue(issuesSheet, fmt.Sprintf("B%d", row), bySeverity[sev])
		row++
	}

	type ruleCount struct {
		RuleKey string
		N       int
	}
	var byRule []ruleCount
	if err := db.Model(&models.QualityIssue{}).
		Select("rule_key, COUNT(*) as n").
		Where("status = ?", models.IssueStatusOpen).
		Group("rule_key").Order("n DESC").Scan(&byRule).Error; err != nil {
		return fmt.Errorf("report: count by rule: %w", err)
	}

	row++
	f.SetCellValue(issuesSheet, fmt.Sprintf("A%d", row), "Rule")
	f.SetCellValue(issuesSheet, fmt.Sprintf("B%d", row), "Open issues")
	for _, rc := range byRule {
		row++
		f.SetCellValue(issuesSheet, fmt.Sprintf("A%d", row), rc.RuleKey)
		f.SetCellValue(issuesSheet, fmt.Sprintf("B%d", row), rc.N)
	}
	return nil
}

func writeOverdueSheet(f *excelize.File, db *gorm.DB) error {
	if _, err := f.NewSheet(overdueSheet); err != nil {
		return fmt.Errorf("report: create sheet: %w", err)
	}

	var actions []models.Action
	if err := db.Where("j < 0").Order("j ASC").Find(&actions).Error; err != nil {
		return fmt.Errorf("report: load overdue actions: %w", err)
	}

	headers := []string{"ACT-ID", "Title", "Status", "Priority", "Owner", "J"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(overdueSheet, cell, h)
	}
	for i, a := range actions {
		row := i + 2
		j := 0
		if a.J != nil {
			j = *a.J
		}
		values := []interface{}{a.ActID, a.Title, a.Status, a.Priority, a.Owner, j}
		for col, v := range values {
			cell, _ := excelize.CoordinatesToCellName(col+1, row)
			f.SetCellValue(overdueSheet, cell, v)
		}
	}
	return nil
}
