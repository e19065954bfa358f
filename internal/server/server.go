// Package server exposes the engines over HTTP for operator tooling.
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/dkhelifi/planact/internal/automation"
	"github.com/dkhelifi/planact/internal/models"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SyncScheduler is the slice of the scheduler the API needs: applying a
// policy change to the running job set.
type SyncScheduler interface {
	Reconfigure(cfg *models.SyncConfig) error
}

// StartOpts holds configuration for the API server.
type StartOpts struct {
	DB          *gorm.DB
	Port        int
	Version     string
	Sync        *reconcile.Engine
	Quality     *quality.Engine
	Automations *automation.Engine
	Scheduler   SyncScheduler // nil when running without a scheduler
	Log         *logrus.Logger
}

// Start launches the API server. It blocks until ctx is cancelled, then
// shuts down gracefully.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.DB == nil {
		return fmt.Errorf("server: db is required")
	}
	if opts.Port <= 0 {
		opts.Port = 8080
	}
	if opts.Log == nil {
		opts.Log = logrus.New()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	registerRoutes(router, &opts)

	addr := fmt.Sprintf(":%d", opts.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	opts.Log.WithField("addr", addr).Info("server: listening")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
