package report

import (
	"bytes"
	"testing"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(&models.Action{}, &models.QualityIssue{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func intPtr(n int) *int { return &n }

func TestBuildOverview(t *testing.T) {
	db := testDB(t)
	now := time.Now()

	issues := []models.QualityIssue{
		{RuleKey: "owner_missing", EntityType: "action", EntityRef: "ACT-0001",
			Message: "m1", Severity: models.SeverityHigh, Status: models.IssueStatusOpen, DetectedAt: now},
		{RuleKey: "owner_missing", EntityType: "action", EntityRef: "ACT-0002",
			Message: "m2", Severity: models.SeverityHigh, Status: models.IssueStatusOpen, DetectedAt: now},
		{RuleKey: "deadline_missing", EntityType: "action", EntityRef: "ACT-0003",
			Message: "m3", Severity: models.SeverityCritical, Status: models.IssueStatusResolved, DetectedAt: now},
	}
	for i := range issues {
		if err := db.Create(&issues[i]).Error; err != nil {
			t.Fatalf("seed issue: %v", err)
		}
	}
	overdue := models.Action{ActID: "ACT-0001", Title: "Late", Status: "EN COURS",
		Priority: "P1", Owner: "dalia", PlanID: 1, J: intPtr(-3),
		ExcelFile: "p.xlsx", ExcelRow: 2, Extra: "{}"}
	onTime := models.Action{ActID: "ACT-0002", Title: "Fine", PlanID: 1, J: intPtr(4),
		ExcelFile: "p.xlsx", ExcelRow: 3, Extra: "{}"}
	for _, a := range []*models.Action{&overdue, &onTime} {
		if err := db.Create(a).Error; err != nil {
			t.Fatalf("seed action: %v", err)
		}
	}

	out, err := BuildOverview(db)
	if err != nil {
		t.Fatalf("BuildOverview() error: %v", err)
	}

	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()

	for _, sheet := range []string{"Issues", "Overdue"} {
		if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
			t.Errorf("missing sheet %q", sheet)
		}
	}
	if idx, _ := f.GetSheetIndex("Sheet1"); idx >= 0 {
		t.Error("default sheet should be dropped")
	}

	// HIGH row carries the open count; the resolved issue is excluded.
	if got, _ := f.GetCellValue("Issues", "B3"); got != "2" {
		t.Errorf("HIGH open count = %q, want 2", got)
	}
	if got, _ := f.GetCellValue("Issues", "B2"); got != "0" {
		t.Errorf("CRITICAL open count = %q, want 0 (resolved issues excluded)", got)
	}

	// Only the overdue action lands on the Overdue sheet.
	if got, _ := f.GetCellValue("Overdue", "A2"); got != "ACT-0001" {
		t.Errorf("overdue A2 = %q", got)
	}
	if got, _ := f.GetCellValue("Overdue", "F2"); got != "-3" {
		t.Errorf("overdue J = %q, want -3", got)
	}
	if got, _ := f.GetCellValue("Overdue", "A3"); got != "" {
		t.Errorf("unexpected second overdue row: %q", got)
	}
}

func TestBuildOverview_EmptyStore(t *testing.T) {
	out, err := BuildOverview(testDB(t))
	if err != nil {
		t.Fatalf("BuildOverview() error: %v", err)
	}
	f, err := excelize.OpenReader(bytes.NewReader(out))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer f.Close()
	if got, _ := f.GetCellValue("Issues", "A1"); got != "Severity" {
		t.Errorf("A1 = %q", got)
	}
}
