package automation

import (
	"fmt"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

var validate = validator.New()

// cronParser uses standard 5-field cron expressions (minute, hour, dom,
// month, dow).
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// definition is the validatable shape of an automation row.
type definition struct {
	Name        string `validate:"required"`
	Trigger     string `validate:"required,oneof=manual cron sync-failure quality-threshold overdue-count"`
	Action      string `validate:"required,oneof=notify run-quality run-sync export-report"`
	SeverityMin string `validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	CountMin    int    `validate:"gte=0"`
}

// ValidateAutomation rejects a malformed automation before it reaches
// the store: unknown kinds, negative thresholds, unparseable cron
// expressions and params all fail here, synchronously.
func ValidateAutomation(a *models.Automation) error {
	tp, err := parseTriggerParams(a.TriggerParams)
	if err != nil {
		return fmt.Errorf("automation: %w", err)
	}
	if _, err := parseActionParams(a.ActionParams); err != nil {
		return fmt.Errorf("automation: %w", err)
	}

	def := definition{
		Name:        a.Name,
		Trigger:     a.Trigger,
		Action:      a.Action,
		SeverityMin: tp.SeverityMin,
		CountMin:    tp.CountMin,
	}
	if err := validate.Struct(&def); err != nil {
		return fmt.Errorf("automation: invalid definition: %w", err)
	}

	if a.Trigger == models.TriggerCron {
		if tp.Cron == "" {
			return fmt.Errorf("automation: cron trigger requires a cron expression")
		}
		if _, err := cronParser.Parse(tp.Cron); err != nil {
			return fmt.Errorf("automation: invalid cron expression %q: %w", tp.Cron, err)
		}
	}
	return nil
}
