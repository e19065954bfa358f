package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/dkhelifi/planact/internal/automation"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/dkhelifi/planact/internal/scheduler"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func registerRoutes(router *gin.Engine, opts *StartOpts) {
	router.GET("/healthz", handleHealthz(opts.DB, opts.Version))

	api := router.Group("/api")
	{
		api.GET("/sync/status", handleSyncStatus(opts.DB))
		api.PUT("/sync/config", handleSyncConfigUpdate(opts))
		api.POST("/sync/run", handleSyncRun(opts))
		api.GET("/sync/jobs", handleSyncJobs(opts.DB))

		api.POST("/quality/run", handleQualityRun(opts))
		api.GET("/quality/issues", handleIssueList(opts.DB))
		api.POST("/quality/issues/:id/resolve", handleIssueTransition(opts.DB, quality.Resolve))
		api.POST("/quality/issues/:id/ignore", handleIssueTransition(opts.DB, quality.Ignore))
		api.GET("/quality/rules", handleRuleList(opts.DB))
		api.POST("/quality/rules", handleRuleUpsert(opts.DB))

		api.GET("/automations", handleAutomationList(opts.DB))
		api.POST("/automations/:id/run", handleAutomationRun(opts))
	}
}

func handleHealthz(db *gorm.DB, version string) gin.HandlerFunc {
	return func(c *gin.Context) {
		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.Ping()
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "version": version, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok", "version": version})
	}
}

func handleSyncStatus(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var cfg models.SyncConfig
		if err := db.Order("id ASC").First(&cfg).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "sync config not initialized"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		var last models.SyncJob
		var lastJob gin.H
		if err := db.Order("id DESC").First(&last).Error; err == nil {
			lastJob = syncJobJSON(&last)
		}
		c.JSON(http.StatusOK, gin.H{
			"enabled":     cfg.Enabled,
			"cron":        cfg.Cron,
			"strategy":    cfg.Strategy,
			"batch_size":  cfg.BatchSize,
			"last_run_at": cfg.LastRunAt,
			"last_status": cfg.LastStatus,
			"last_job":    lastJob,
		})
	}
}

type syncConfigRequest struct {
	Enabled     *bool   `json:"enabled"`
	Cron        *string `json:"cron"`
	Strategy    *string `json:"strategy"`
	BatchSize   *int    `json:"batch_size"`
	RetryOnLock *bool   `json:"retry_on_lock"`
	Notes       *string `json:"notes"`
}

// handleSyncConfigUpdate applies a partial policy update and, when a
// scheduler is attached, pushes the change into the running job set.
func handleSyncConfigUpdate(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncConfigRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		var cfg models.SyncConfig
		if err := opts.DB.Order("id ASC").First(&cfg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		if req.Enabled != nil {
			cfg.Enabled = *req.Enabled
		}
		if req.Cron != nil {
			cfg.Cron = *req.Cron
		}
		if req.Strategy != nil {
			switch *req.Strategy {
			case models.SyncStrategySingle, models.SyncStrategyActive, models.SyncStrategyAll:
				cfg.Strategy = *req.Strategy
			default:
				c.JSON(http.StatusBadRequest, gin.H{"error": "unknown strategy: " + *req.Strategy})
				return
			}
		}
		if req.BatchSize != nil {
			if *req.BatchSize <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "batch_size must be positive"})
				return
			}
			cfg.BatchSize = *req.BatchSize
		}
		if req.RetryOnLock != nil {
			cfg.RetryOnLock = *req.RetryOnLock
		}
		if req.Notes != nil {
			cfg.Notes = *req.Notes
		}

		// Validate before persisting so a bad cron never lands in the store,
		// whether or not a scheduler is attached.
		if cfg.Enabled {
			if err := scheduler.ValidateCron(cfg.Cron); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if opts.Scheduler != nil {
			if err := opts.Scheduler.Reconfigure(&cfg); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		if err := opts.DB.Save(&cfg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

type syncRunRequest struct {
	DryRun bool  `json:"dry_run"`
	PlanID *uint `json:"plan_id"`
}

func handleSyncRun(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req syncRunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}

		var cfg models.SyncConfig
		if err := opts.DB.Order("id ASC").First(&cfg).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}

		res, err := opts.Sync.Run(c.Request.Context(), &cfg, reconcile.RunOpts{
			DryRun: req.DryRun,
			PlanID: req.PlanID,
		})
		if err != nil {
			if _, recErr := opts.Sync.RecordFailure(&cfg, req.PlanID, req.DryRun, err); recErr != nil {
				opts.Log.Errorf("server: record sync failure: %v", recErr)
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		job, err := opts.Sync.RecordJob(&cfg, res, req.PlanID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"job_id":  job.ID,
			"status":  res.Status,
			"read":    res.Stats.Read,
			"written": res.Stats.Written,
			"ignored": res.Stats.Ignored,
			"dry_run": res.DryRun,
			"errors":  res.ErrorText(),
		})
	}
}

func handleSyncJobs(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 50
		if v := c.Query("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
				return
			}
			limit = n
		}
		var jobs []models.SyncJob
		if err := db.Order("id DESC").Limit(limit).Find(&jobs).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(jobs))
		for i := range jobs {
			out[i] = syncJobJSON(&jobs[i])
		}
		c.JSON(http.StatusOK, gin.H{"jobs": out})
	}
}

func syncJobJSON(job *models.SyncJob) gin.H {
	return gin.H{
		"id":         job.ID,
		"plan_id":    job.PlanID,
		"status":     job.Status,
		"read":       job.ReadCount,
		"written":    job.WrittenCount,
		"ignored":    job.IgnoredCount,
		"dry_run":    job.DryRun,
		"error":      job.Error,
		"created_at": job.CreatedAt,
	}
}

type qualityRunRequest struct {
	DryRun    bool     `json:"dry_run"`
	OnlyRules []string `json:"rules"`
	PlanID    *uint    `json:"plan_id"`
	Status    string   `json:"status"`
	Priority  string   `json:"priority"`
	Owner     string   `json:"owner"`
	Query     string   `json:"query"`
}

func handleQualityRun(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req qualityRunRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
				return
			}
		}
		stats, err := opts.Quality.RunChecks(c.Request.Context(), quality.RunOpts{
			DryRun:    req.DryRun,
			OnlyRules: req.OnlyRules,
			Filter: quality.ScopeFilter{
				PlanID:   req.PlanID,
				Status:   req.Status,
				Priority: req.Priority,
				Owner:    req.Owner,
				Query:    req.Query,
			},
		})
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"total":       stats.Total,
			"by_severity": stats.BySeverity,
			"by_rule":     stats.ByRule,
			"dry_run":     req.DryRun,
		})
	}
}

func handleIssueList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		filters := quality.IssueFilters{
			Status:    c.Query("status"),
			Severity:  c.Query("severity"),
			RuleKey:   c.Query("rule"),
			EntityRef: c.Query("entity"),
		}
		if v := c.Query("plan_id"); v != "" {
			n, err := strconv.ParseUint(v, 10, 32)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid plan_id"})
				return
			}
			id := uint(n)
			filters.PlanID = &id
		}
		issues, err := quality.ListIssues(db, filters)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(issues))
		for i, iss := range issues {
			out[i] = gin.H{
				"id":          iss.ID,
				"rule_key":    iss.RuleKey,
				"entity_type": iss.EntityType,
				"entity_ref":  iss.EntityRef,
				"message":     iss.Message,
				"plan_id":     iss.PlanID,
				"severity":    iss.Severity,
				"status":      iss.Status,
				"detected_at": iss.DetectedAt,
				"resolved_by": iss.ResolvedBy,
				"resolved_at": iss.ResolvedAt,
			}
		}
		c.JSON(http.StatusOK, gin.H{"issues": out})
	}
}

type issueTransitionRequest struct {
	Actor string `json:"actor"`
}

func handleIssueTransition(db *gorm.DB, fn func(db *gorm.DB, issueID uint, actor string) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid issue id"})
			return
		}
		var req issueTransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if err := fn(db, uint(id), req.Actor); err != nil {
			if errors.Is(err, quality.ErrIssueNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated"})
	}
}

func handleRuleList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var rules []models.QualityRule
		if err := db.Order("key ASC").Find(&rules).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(rules))
		for i, r := range rules {
			out[i] = gin.H{
				"key":      r.Key,
				"name":     r.Name,
				"enabled":  r.Enabled,
				"severity": r.Severity,
				"scope":    r.Scope,
			}
		}
		c.JSON(http.StatusOK, gin.H{"rules": out})
	}
}

type ruleUpsertRequest struct {
	Key      string `json:"key" binding:"required"`
	Name     string `json:"name"`
	Enabled  *bool  `json:"enabled"`
	Severity string `json:"severity"`
}

// handleRuleUpsert lets operators toggle a rule or adjust its severity.
// Unknown keys are accepted: the engine skips them at run time, and a
// later deploy may register the evaluator.
func handleRuleUpsert(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req ruleUpsertRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if req.Severity != "" && models.SeverityRank(req.Severity) == 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown severity: " + req.Severity})
			return
		}

		rule := models.QualityRule{
			Key:      req.Key,
			Name:     req.Name,
			Severity: req.Severity,
			Enabled:  true,
		}
		if req.Enabled != nil {
			rule.Enabled = *req.Enabled
		}
		if rule.Severity == "" {
			rule.Severity = models.SeverityMedium
		}

		err := db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "enabled", "severity", "updated_at"}),
		}).Create(&rule).Error
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "updated", "key": rule.Key})
	}
}

func handleAutomationList(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		var autos []models.Automation
		if err := db.Order("id ASC").Find(&autos).Error; err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		out := make([]gin.H, len(autos))
		for i, a := range autos {
			out[i] = gin.H{
				"id":           a.ID,
				"name":         a.Name,
				"enabled":      a.Enabled,
				"trigger":      a.Trigger,
				"action":       a.Action,
				"last_run_at":  a.LastRunAt,
				"last_status":  a.LastStatus,
				"last_message": a.LastMessage,
			}
		}
		c.JSON(http.StatusOK, gin.H{"automations": out})
	}
}

func handleAutomationRun(opts *StartOpts) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid automation id"})
			return
		}
		out, err := opts.Automations.Run(c.Request.Context(), uint(id))
		if err != nil {
			if errors.Is(err, automation.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "automation not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": out.Status, "message": out.Message})
	}
}
