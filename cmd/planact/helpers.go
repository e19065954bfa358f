package main

import (
	"fmt"
	"time"

	"github.com/dkhelifi/planact/internal/automation"
	"github.com/dkhelifi/planact/internal/config"
	"github.com/dkhelifi/planact/internal/db"
	"github.com/dkhelifi/planact/internal/excel"
	"github.com/dkhelifi/planact/internal/notify"
	"github.com/dkhelifi/planact/internal/quality"
	"github.com/dkhelifi/planact/internal/reconcile"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const defaultConfigPath = "planact.yaml"

// connectFromConfig loads the config file and opens the store.
func connectFromConfig(configPath string) (*config.Config, *gorm.DB, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	gormDB, err := db.Connect(cfg.Database)
	if err != nil {
		return nil, nil, err
	}
	return cfg, gormDB, nil
}

// engines bundles the wired engine set the commands share.
type engines struct {
	sync        *reconcile.Engine
	quality     *quality.Engine
	automations *automation.Engine
	sender      notify.Sender
	log         *logrus.Logger
}

// buildEngines wires the engines the way the daemon does, so one-shot
// commands and scheduled ticks behave identically.
func buildEngines(cfg *config.Config, gormDB *gorm.DB) *engines {
	log := logrus.New()
	reader := excel.FileReader{}
	sender := notify.NewSender(cfg.Notify)

	syncEngine := reconcile.New(gormDB, reader, log)
	qualityEngine := quality.New(gormDB, reader.Reachable, log)
	automationEngine := automation.New(gormDB, syncEngine, qualityEngine, sender,
		time.Duration(cfg.Scheduler.AutomationTimeout)*time.Second, log)

	return &engines{
		sync:        syncEngine,
		quality:     qualityEngine,
		automations: automationEngine,
		sender:      sender,
		log:         log,
	}
}

// parseDate accepts the date formats operators type by hand.
func parseDate(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02", "02/01/2006"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q (want YYYY-MM-DD)", s)
}
