package automation

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/notify"
	"github.com/dkhelifi/planact/internal/quality"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// recordingSender captures delivered messages.
type recordingSender struct {
	messages []*notify.Message
	err      error
}

func (r *recordingSender) Send(ctx context.Context, msg *notify.Message) error {
	if r.err != nil {
		return r.err
	}
	r.messages = append(r.messages, msg)
	return nil
}

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Plan{},
		&models.Action{},
		&models.SyncJob{},
		&models.SyncConfig{},
		&models.QualityRule{},
		&models.QualityIssue{},
		&models.Automation{},
		&models.NotificationTemplate{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

func testEngine(t *testing.T, db *gorm.DB, sender notify.Sender) *Engine {
	t.Helper()
	if sender == nil {
		sender = &recordingSender{}
	}
	return New(db, nil, quality.New(db, nil, nil), sender, time.Second, nil)
}

func seedAutomation(t *testing.T, db *gorm.DB, a models.Automation) *models.Automation {
	t.Helper()
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed automation: %v", err)
	}
	return &a
}

func TestRun_NotFound(t *testing.T) {
	db := testDB(t)
	eng := testEngine(t, db, nil)

	_, err := eng.Run(context.Background(), 42)
	if err == nil {
		t.Fatal("expected error")
	}
	want := "automation: not found: 42"
	if err.Error() != want {
		t.Errorf("error = %q, want %q", err.Error(), want)
	}
}

func TestRun_DisabledSkips(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)
	a := seedAutomation(t, db, models.Automation{
		Name: "off", Enabled: false,
		Trigger: models.TriggerManual, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusSkip {
		t.Errorf("status = %q, want SKIP", out.Status)
	}
	if len(sender.messages) != 0 {
		t.Error("disabled automation sent a message")
	}

	var stored models.Automation
	db.First(&stored, a.ID)
	if stored.LastStatus != models.RunStatusSkip || stored.LastRunAt == nil {
		t.Errorf("bookkeeping = %q/%v, want SKIP stamped", stored.LastStatus, stored.LastRunAt)
	}
}

func TestRun_ManualNotify(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)
	a := seedAutomation(t, db, models.Automation{
		Name: "ping", Enabled: true,
		Trigger: models.TriggerManual, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusOK {
		t.Fatalf("status = %q (%s), want OK", out.Status, out.Message)
	}
	if len(sender.messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(sender.messages))
	}
	if !strings.Contains(sender.messages[0].Subject, "ping") {
		t.Errorf("subject = %q, want automation name in builtin template", sender.messages[0].Subject)
	}
}

func TestRun_NotifyWithStoredTemplate(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)

	tmpl := models.NotificationTemplate{
		Name:     "custom",
		Subject:  "Custom: {{.automation}}",
		BodyText: "trigger={{.trigger}}",
	}
	if err := db.Create(&tmpl).Error; err != nil {
		t.Fatalf("seed template: %v", err)
	}
	a := seedAutomation(t, db, models.Automation{
		Name: "styled", Enabled: true,
		Trigger:      models.TriggerManual,
		Action:       models.ActionNotify,
		ActionParams: fmt.Sprintf(`{"template_id": %d, "to": ["ops@example.com"]}`, tmpl.ID),
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusOK {
		t.Fatalf("status = %q (%s), want OK", out.Status, out.Message)
	}
	msg := sender.messages[0]
	if msg.Subject != "Custom: styled" {
		t.Errorf("subject = %q", msg.Subject)
	}
	if msg.BodyText != "trigger=manual" {
		t.Errorf("body = %q", msg.BodyText)
	}
	if len(msg.Recipients) != 1 || msg.Recipients[0] != "ops@example.com" {
		t.Errorf("recipients = %v", msg.Recipients)
	}
}

func TestRun_SyncFailureTrigger(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)
	a := seedAutomation(t, db, models.Automation{
		Name: "on-sync-fail", Enabled: true,
		Trigger: models.TriggerSyncFailure, Action: models.ActionNotify,
	})

	// No failed job yet: the trigger does not fire.
	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusSkip {
		t.Errorf("status = %q, want SKIP without a failed job", out.Status)
	}

	job := models.SyncJob{Status: models.SyncStatusFail, Error: "workbook locked", CreatedAt: time.Now()}
	if err := db.Create(&job).Error; err != nil {
		t.Fatalf("seed job: %v", err)
	}

	out, err = eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusOK {
		t.Errorf("status = %q (%s), want OK after a failed job", out.Status, out.Message)
	}
	if len(sender.messages) != 1 {
		t.Errorf("messages = %d, want 1", len(sender.messages))
	}
}

func TestRun_QualityThresholdTrigger(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)

	rule := models.QualityRule{Key: "owner_missing", Name: "owner", Enabled: true,
		Severity: models.SeverityHigh, Scope: models.RuleScopeAction}
	if err := db.Create(&rule).Error; err != nil {
		t.Fatalf("seed rule: %v", err)
	}
	for i := 0; i < 3; i++ {
		a := models.Action{ActID: fmt.Sprintf("ACT-%04d", i+1), Title: "T", PlanID: 1,
			ExcelFile: "p.xlsx", ExcelRow: i + 2, Extra: "{}"}
		if err := db.Create(&a).Error; err != nil {
			t.Fatalf("seed action: %v", err)
		}
	}

	auto := seedAutomation(t, db, models.Automation{
		Name: "quality-gate", Enabled: true,
		Trigger:       models.TriggerQualityThreshold,
		TriggerParams: `{"severity_min": "HIGH", "count_min": 3}`,
		Action:        models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), auto.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusOK {
		t.Errorf("status = %q (%s), want OK at exactly the threshold", out.Status, out.Message)
	}

	// The trigger evaluation dry-runs: no issues persisted by it.
	var count int64
	db.Model(&models.QualityIssue{}).Count(&count)
	if count != 0 {
		t.Errorf("issue count = %d, want 0 from a dry-run trigger", count)
	}

	// Raise the bar above the finding count: the trigger stops firing.
	db.Model(&models.Automation{}).Where("id = ?", auto.ID).
		Update("trigger_params", `{"severity_min": "HIGH", "count_min": 4}`)
	out, err = eng.Run(context.Background(), auto.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusSkip {
		t.Errorf("status = %q, want SKIP below threshold", out.Status)
	}
}

func TestRun_OverdueCountTrigger(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{}
	eng := testEngine(t, db, sender)

	j := -3
	a := models.Action{ActID: "ACT-0001", Title: "Late", J: &j, PlanID: 1, Extra: "{}"}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed action: %v", err)
	}

	auto := seedAutomation(t, db, models.Automation{
		Name: "overdue-watch", Enabled: true,
		Trigger: models.TriggerOverdueCount, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), auto.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusOK {
		t.Errorf("status = %q (%s), want OK with one overdue action", out.Status, out.Message)
	}
}

func TestRun_BadTriggerParamsFail(t *testing.T) {
	db := testDB(t)
	eng := testEngine(t, db, nil)
	a := seedAutomation(t, db, models.Automation{
		Name: "broken", Enabled: true,
		Trigger:       models.TriggerOverdueCount,
		TriggerParams: `{not json`,
		Action:        models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v (bad params must not propagate)", err)
	}
	if out.Status != models.RunStatusFail {
		t.Errorf("status = %q, want FAIL", out.Status)
	}
}

func TestRun_SendFailureBecomesFail(t *testing.T) {
	db := testDB(t)
	sender := &recordingSender{err: fmt.Errorf("slack post: channel_not_found")}
	eng := testEngine(t, db, sender)
	a := seedAutomation(t, db, models.Automation{
		Name: "ping", Enabled: true,
		Trigger: models.TriggerManual, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusFail {
		t.Errorf("status = %q, want FAIL", out.Status)
	}

	var stored models.Automation
	db.First(&stored, a.ID)
	if stored.LastStatus != models.RunStatusFail {
		t.Errorf("last_status = %q, want FAIL stamped", stored.LastStatus)
	}
}

// panickingSender blows up on delivery.
type panickingSender struct{}

func (panickingSender) Send(ctx context.Context, msg *notify.Message) error {
	panic("sender exploded")
}

// blockingSender never returns until the context is cancelled.
type blockingSender struct{}

func (blockingSender) Send(ctx context.Context, msg *notify.Message) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestRun_ActionPanicBecomesFail(t *testing.T) {
	db := testDB(t)
	eng := testEngine(t, db, panickingSender{})
	a := seedAutomation(t, db, models.Automation{
		Name: "ping", Enabled: true,
		Trigger: models.TriggerManual, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v (panics must not propagate)", err)
	}
	if out.Status != models.RunStatusFail {
		t.Fatalf("status = %q, want FAIL", out.Status)
	}
	if !strings.Contains(out.Message, "action panicked") {
		t.Errorf("message = %q, want the panic captured", out.Message)
	}

	var stored models.Automation
	db.First(&stored, a.ID)
	if stored.LastStatus != models.RunStatusFail {
		t.Errorf("last_status = %q, want FAIL stamped", stored.LastStatus)
	}
}

func TestRun_ActionTimeoutBecomesFail(t *testing.T) {
	db := testDB(t)
	eng := New(db, nil, quality.New(db, nil, nil), blockingSender{}, 20*time.Millisecond, nil)
	a := seedAutomation(t, db, models.Automation{
		Name: "slow", Enabled: true,
		Trigger: models.TriggerManual, Action: models.ActionNotify,
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v (timeouts must not propagate)", err)
	}
	if out.Status != models.RunStatusFail {
		t.Fatalf("status = %q, want FAIL", out.Status)
	}
	if !strings.Contains(out.Message, "timed out") {
		t.Errorf("message = %q, want a timeout outcome", out.Message)
	}

	var stored models.Automation
	db.First(&stored, a.ID)
	if stored.LastStatus != models.RunStatusFail {
		t.Errorf("last_status = %q, want FAIL stamped", stored.LastStatus)
	}
}

func TestRun_UnknownActionKind(t *testing.T) {
	db := testDB(t)
	eng := testEngine(t, db, nil)
	a := seedAutomation(t, db, models.Automation{
		Name: "odd", Enabled: true,
		Trigger: models.TriggerManual, Action: "teleport",
	})

	out, err := eng.Run(context.Background(), a.ID)
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if out.Status != models.RunStatusFail {
		t.Errorf("status = %q, want FAIL", out.Status)
	}
	if !strings.Contains(out.Message, `unknown action kind "teleport"`) {
		t.Errorf("message = %q", out.Message)
	}
}
