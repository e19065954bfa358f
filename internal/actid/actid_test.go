package actid

import (
	"testing"

	"github.com/dkhelifi/planact/internal/models"
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
	if err := db.AutoMigrate(&models.Action{}); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func seed(t *testing.T, db *gorm.DB, actIDs ...string) {
	t.Helper()
	for _, id := range actIDs {
		a := models.Action{ActID: id, PlanID: 1, Extra: "{}"}
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("seed %s: %v", id, err)
		}
	}
}

func TestNext_EmptyStore(t *testing.T) {
	db := testDB(t)
	id, err := Next(db)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if id != "ACT-0001" {
		t.Errorf("Next() = %q, want ACT-0001", id)
	}
}

func TestNext_Sequential(t *testing.T) {
	db := testDB(t)
	seed(t, db, "ACT-0001", "ACT-0007", "ACT-0003")
	id, err := Next(db)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if id != "ACT-0008" {
		t.Errorf("Next() = %q, want ACT-0008", id)
	}
}

func TestNext_IgnoresMalformedIDs(t *testing.T) {
	db := testDB(t)
	seed(t, db, "ACT-0002", "LEGACY-17", "act-9999", "ACT-12", "ACT-ABCD")
	id, err := Next(db)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if id != "ACT-0003" {
		t.Errorf("Next() = %q, want ACT-0003 (malformed ids skipped)", id)
	}
}

func TestNext_WideSequence(t *testing.T) {
	db := testDB(t)
	seed(t, db, "ACT-10000")
	id, err := Next(db)
	if err != nil {
		t.Fatalf("Next() error: %v", err)
	}
	if id != "ACT-10001" {
		t.Errorf("Next() = %q, want ACT-10001 (width grows past 4 digits)", id)
	}
}

func TestFormat(t *testing.T) {
	tests := []struct {
		n    int
		want string
	}{
		{1, "ACT-0001"},
		{42, "ACT-0042"},
		{12345, "ACT-12345"},
	}
	for _, tt := range tests {
		if got := Format(tt.n); got != tt.want {
			t.Errorf("Format(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}
