package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dkhelifi/planact/internal/automation"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

type stubScheduler struct {
	err     error
	calls   int
	lastCfg models.SyncConfig
}

func (s *stubScheduler) Reconfigure(cfg *models.SyncConfig) error {
	s.calls++
	s.lastCfg = *cfg
	return s.err
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

func newTestRouter(t *testing.T, db *gorm.DB, sched SyncScheduler) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	log := logrus.New()
	opts := StartOpts{
		DB:          db,
		Version:     "test",
		Sync:        reconcile.New(db, nil, log),
		Quality:     quality.New(db, nil, log),
		Automations: automation.New(db, nil, nil, nil, time.Second, log),
		Scheduler:   sched,
		Log:         log,
	}
	registerRoutes(router, &opts)
	return router
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealthz(t *testing.T) {
	router := newTestRouter(t, testDB(t), nil)

	w := doJSON(t, router, http.MethodGet, "/healthz", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["status"] != "ok" || body["version"] != "test" {
		t.Errorf("body = %v", body)
	}
}

func TestSyncStatus(t *testing.T) {
	db := testDB(t)
	router := newTestRouter(t, db, nil)

	w := doJSON(t, router, http.MethodGet, "/api/sync/status", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 before init", w.Code)
	}

	cfg := models.SyncConfig{Enabled: true, Cron: "*/15 * * * *", Strategy: models.SyncStrategyAll, BatchSize: 500}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	w = doJSON(t, router, http.MethodGet, "/api/sync/status", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	body := decode(t, w)
	if body["cron"] != "*/15 * * * *" || body["enabled"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestSyncConfigUpdate_Partial(t *testing.T) {
	db := testDB(t)
	cfg := models.SyncConfig{Enabled: true, Cron: "0 * * * *", Strategy: models.SyncStrategyAll, BatchSize: 500}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}
	sched := &stubScheduler{}
	router := newTestRouter(t, db, sched)

	w := doJSON(t, router, http.MethodPut, "/api/sync/config", gin.H{"strategy": "active"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	if sched.calls != 1 {
		t.Errorf("scheduler calls = %d, want 1", sched.calls)
	}

	var got models.SyncConfig
	if err := db.First(&got, cfg.ID).Error; err != nil {
		t.Fatalf("reload config: %v", err)
	}
	if got.Strategy != models.SyncStrategyActive {
		t.Errorf("strategy = %q", got.Strategy)
	}
	// Untouched fields keep their values.
	if got.Cron != "0 * * * *" || got.BatchSize != 500 || !got.Enabled {
		t.Errorf("partial update clobbered other fields: %+v", got)
	}
}

func TestSyncConfigUpdate_Rejections(t *testing.T) {
	db := testDB(t)
	cfg := models.SyncConfig{Enabled: true, Cron: "0 * * * *", Strategy: models.SyncStrategyAll, BatchSize: 500}
	if err := db.Create(&cfg).Error; err != nil {
		t.Fatalf("seed config: %v", err)
	}

	t.Run("unknown strategy", func(t *testing.T) {
		router := newTestRouter(t, db, nil)
		w := doJSON(t, router, http.MethodPut, "/api/sync/config", gin.H{"strategy": "sometimes"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("non-positive batch size", func(t *testing.T) {
		router := newTestRouter(t, db, nil)
		w := doJSON(t, router, http.MethodPut, "/api/sync/config", gin.H{"batch_size": 0})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("bad cron without a scheduler", func(t *testing.T) {
		router := newTestRouter(t, db, nil)
		w := doJSON(t, router, http.MethodPut, "/api/sync/config", gin.H{"enabled": true, "cron": "not a cron"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		var got models.SyncConfig
		if err := db.First(&got, cfg.ID).Error; err != nil {
			t.Fatalf("reload config: %v", err)
		}
		if got.Cron != "0 * * * *" {
			t.Errorf("rejected cron leaked into the store: %q", got.Cron)
		}
	})

	t.Run("scheduler rejects before persist", func(t *testing.T) {
		sched := &stubScheduler{err: errStaleJobSet{}}
		router := newTestRouter(t, db, sched)
		w := doJSON(t, router, http.MethodPut, "/api/sync/config", gin.H{"cron": "*/5 * * * *"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
		if sched.calls != 1 {
			t.Errorf("scheduler calls = %d, want 1", sched.calls)
		}
		var got models.SyncConfig
		if err := db.First(&got, cfg.ID).Error; err != nil {
			t.Fatalf("reload config: %v", err)
		}
		if got.Cron != "0 * * * *" {
			t.Errorf("rejected cron leaked into the store: %q", got.Cron)
		}
	})
}

type errStaleJobSet struct{}

func (errStaleJobSet) Error() string { return "scheduler: job set busy" }

func TestSyncJobs_InvalidLimit(t *testing.T) {
	router := newTestRouter(t, testDB(t), nil)

	w := doJSON(t, router, http.MethodGet, "/api/sync/jobs?limit=zero", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestIssueTransition(t *testing.T) {
	db := testDB(t)
	issue := models.QualityIssue{
		RuleKey:    "owner_missing",
		EntityType: "action",
		EntityRef:  "ACT-0001",
		Message:    "owner is empty",
		Severity:   models.SeverityHigh,
		Status:     models.IssueStatusOpen,
		DetectedAt: time.Now(),
	}
	if err := db.Create(&issue).Error; err != nil {
		t.Fatalf("seed issue: %v", err)
	}
	router := newTestRouter(t, db, nil)

	w := doJSON(t, router, http.MethodPost, "/api/quality/issues/1/resolve", gin.H{"actor": "dalia"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	var got models.QualityIssue
	if err := db.First(&got, issue.ID).Error; err != nil {
		t.Fatalf("reload issue: %v", err)
	}
	if got.Status != models.IssueStatusResolved || got.ResolvedBy != "dalia" {
		t.Errorf("issue after resolve: status=%q resolved_by=%q", got.Status, got.ResolvedBy)
	}

	t.Run("missing actor", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/quality/issues/1/ignore", gin.H{})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("unknown id", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/quality/issues/999/resolve", gin.H{"actor": "dalia"})
		if w.Code != http.StatusNotFound {
			t.Fatalf("status = %d, want 404", w.Code)
		}
	})

	t.Run("bad id", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/quality/issues/abc/resolve", gin.H{"actor": "dalia"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestIssueList_StatusFilter(t *testing.T) {
	db := testDB(t)
	now := time.Now()
	open := models.QualityIssue{RuleKey: "owner_missing", EntityType: "action", EntityRef: "ACT-0001",
		Message: "m1", Severity: models.SeverityHigh, Status: models.IssueStatusOpen, DetectedAt: now}
	resolved := models.QualityIssue{RuleKey: "owner_missing", EntityType: "action", EntityRef: "ACT-0002",
		Message: "m2", Severity: models.SeverityHigh, Status: models.IssueStatusResolved, DetectedAt: now}
	for _, iss := range []*models.QualityIssue{&open, &resolved} {
		if err := db.Create(iss).Error; err != nil {
			t.Fatalf("seed issue: %v", err)
		}
	}
	router := newTestRouter(t, db, nil)

	w := doJSON(t, router, http.MethodGet, "/api/quality/issues?status=OPEN", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	issues, ok := decode(t, w)["issues"].([]any)
	if !ok || len(issues) != 1 {
		t.Fatalf("issues = %v, want exactly the open one", issues)
	}
	first := issues[0].(map[string]any)
	if first["entity_ref"] != "ACT-0001" {
		t.Errorf("entity_ref = %v", first["entity_ref"])
	}
}

func TestRuleUpsert(t *testing.T) {
	db := testDB(t)
	router := newTestRouter(t, db, nil)

	w := doJSON(t, router, http.MethodPost, "/api/quality/rules", gin.H{
		"key": "owner_missing", "name": "Owner missing", "severity": "HIGH",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("create status = %d, body %s", w.Code, w.Body.String())
	}

	disabled := false
	w = doJSON(t, router, http.MethodPost, "/api/quality/rules", gin.H{
		"key": "owner_missing", "name": "Owner missing", "severity": "HIGH", "enabled": disabled,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("toggle status = %d, body %s", w.Code, w.Body.String())
	}

	var got models.QualityRule
	if err := db.Where("key = ?", "owner_missing").First(&got).Error; err != nil {
		t.Fatalf("reload rule: %v", err)
	}
	if got.Enabled {
		t.Error("rule still enabled after toggle")
	}
	var count int64
	db.Model(&models.QualityRule{}).Where("key = ?", "owner_missing").Count(&count)
	if count != 1 {
		t.Errorf("rule rows = %d, want 1 (upsert, not insert)", count)
	}

	t.Run("unknown severity", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/quality/rules", gin.H{"key": "x", "severity": "SEVERE"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})

	t.Run("missing key", func(t *testing.T) {
		w := doJSON(t, router, http.MethodPost, "/api/quality/rules", gin.H{"name": "nameless"})
		if w.Code != http.StatusBadRequest {
			t.Fatalf("status = %d, want 400", w.Code)
		}
	})
}

func TestAutomationRun_NotFound(t *testing.T) {
	router := newTestRouter(t, testDB(t), nil)

	w := doJSON(t, router, http.MethodPost, "/api/automations/42/run", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if !strings.Contains(w.Body.String(), "not found") {
		t.Errorf("body = %s", w.Body.String())
	}

	w = doJSON(t, router, http.MethodPost, "/api/automations/abc/run", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a bad id", w.Code)
	}
}

func TestAutomationList(t *testing.T) {
	db := testDB(t)
	a := models.Automation{Name: "nightly", Enabled: true,
		Trigger: models.TriggerCron, TriggerParams: `{"cron": "0 2 * * *"}`,
		Action: models.ActionRunQuality}
	if err := db.Create(&a).Error; err != nil {
		t.Fatalf("seed automation: %v", err)
	}
	router := newTestRouter(t, db, nil)

	w := doJSON(t, router, http.MethodGet, "/api/automations", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	autos, ok := decode(t, w)["automations"].([]any)
	if !ok || len(autos) != 1 {
		t.Fatalf("automations = %v", autos)
	}
	if autos[0].(map[string]any)["name"] != "nightly" {
		t.Errorf("name = %v", autos[0])
	}
}
