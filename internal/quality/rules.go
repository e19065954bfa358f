package quality

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkhelifi/planact/internal/models"
)

// Finding is an in-memory detection produced by a rule evaluator, before
// persistence.
type Finding struct {
	EntityType string // models.RuleScopeAction or models.RuleScopePlan
	EntityRef  string // act_id for actions, decimal plan id for plans
	PlanID     *uint
	Message    string
	Details    map[string]interface{}
}

// Input is the scoped, read-only state an evaluator sees. Now pins the
// clock and Probe answers source reachability, so every evaluator stays
// pure with respect to its input.
type Input struct {
	Actions []models.Action
	Plans   []models.Plan
	Now     time.Time
	Probe   func(plan *models.Plan) error
}

// EvaluatorFunc inspects the scoped input set and returns zero or more
// findings. Evaluators must not touch the store.
type EvaluatorFunc func(in Input, rule *models.QualityRule) []Finding

// Registry maps rule keys to their evaluators. An enabled rule whose key
// is absent here is skipped at run time with a warning.
var Registry = map[string]EvaluatorFunc{
	"missing_required":       ruleMissingRequired,
	"invalid_dates":          ruleInvalidDates,
	"deadline_mismatch_j":    ruleDeadlineMismatch,
	"actid_duplicate":        ruleActIDDuplicate,
	"orphan_row_index":       ruleOrphanRowIndex,
	"pdca_inconsistent":      rulePDCAInconsistent,
	"owner_missing":          ruleOwnerMissing,
	"excel_path_unreachable": ruleExcelPathUnreachable,
}

func actionFinding(a *models.Action, message string, details map[string]interface{}) Finding {
	planID := a.PlanID
	return Finding{
		EntityType: models.RuleScopeAction,
		EntityRef:  a.ActID,
		PlanID:     &planID,
		Message:    message,
		Details:    details,
	}
}

func ruleMissingRequired(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		if a.Title == "" || a.Priority == "" || a.Deadline == nil {
			out = append(out, actionFinding(a, "Missing required fields", nil))
		}
	}
	return out
}

func ruleInvalidDates(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		if a.Deadline != nil && a.Deadline.Before(a.CreatedAt) {
			out = append(out, actionFinding(a, "Invalid dates", map[string]interface{}{
				"deadline": a.Deadline.Format("2006-01-02"),
			}))
			continue
		}
		if a.DoneAt != nil && a.DoneAt.Before(a.CreatedAt) {
			out = append(out, actionFinding(a, "Invalid dates", map[string]interface{}{
				"done_at": a.DoneAt.Format("2006-01-02"),
			}))
		}
	}
	return out
}

// ruleDeadlineMismatch flags actions whose stored days-to-deadline
// counter disagrees with the deadline date by more than one day.
func ruleDeadlineMismatch(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	today := in.Now.Truncate(24 * time.Hour)
	for i := range in.Actions {
		a := &in.Actions[i]
		if a.Deadline == nil || a.J == nil {
			continue
		}
		expected := int(a.Deadline.Truncate(24*time.Hour).Sub(today).Hours() / 24)
		diff := expected - *a.J
		if diff < 0 {
			diff = -diff
		}
		if diff > 1 {
			out = append(out, actionFinding(a, "Deadline mismatch with J", map[string]interface{}{
				"expected": expected,
				"found":    *a.J,
			}))
		}
	}
	return out
}

// ruleActIDDuplicate reports every action involved in a duplicated
// external identifier, one finding per record.
func ruleActIDDuplicate(in Input, rule *models.QualityRule) []Finding {
	counts := make(map[string]int)
	for i := range in.Actions {
		counts[in.Actions[i].ActID]++
	}

	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		if counts[a.ActID] > 1 {
			planID := a.PlanID
			out = append(out, Finding{
				EntityType: models.RuleScopeAction,
				// Disambiguate by row id: the whole point is that the
				// act_id is not unique within the set.
				EntityRef: fmt.Sprintf("%s#%d", a.ActID, a.ID),
				PlanID:    &planID,
				Message:   "Duplicate ACT-ID",
				Details:   map[string]interface{}{"act_id": a.ActID},
			})
		}
	}
	return out
}

func ruleOrphanRowIndex(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		if a.ExcelRow < 1 || a.ExcelFile == "" {
			out = append(out, actionFinding(a, "Orphan row index", nil))
		}
	}
	return out
}

// rulePDCAInconsistent flags closed actions missing their trailing C/A
// stage flags, and non-closed actions that already carry them.
func rulePDCAInconsistent(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		closed := strings.EqualFold(a.Status, models.ActionStatusClosed)
		switch {
		case closed && (!a.C || !a.A):
			out = append(out, actionFinding(a, "Closed without C/A stages", nil))
		case !closed && (a.C || a.A):
			out = append(out, actionFinding(a, "C/A stages set but not closed", nil))
		}
	}
	return out
}

func ruleOwnerMissing(in Input, rule *models.QualityRule) []Finding {
	var out []Finding
	for i := range in.Actions {
		a := &in.Actions[i]
		if strings.TrimSpace(a.Owner) == "" {
			out = append(out, actionFinding(a, "No owner assigned", nil))
		}
	}
	return out
}

func ruleExcelPathUnreachable(in Input, rule *models.QualityRule) []Finding {
	if in.Probe == nil {
		return nil
	}
	var out []Finding
	for i := range in.Plans {
		p := &in.Plans[i]
		if err := in.Probe(p); err != nil {
			planID := p.ID
			out = append(out, Finding{
				EntityType: models.RuleScopePlan,
				EntityRef:  strconv.FormatUint(uint64(p.ID), 10),
				PlanID:     &planID,
				Message:    "Excel path unreachable",
				Details:    map[string]interface{}{"path": p.ExcelPath, "error": err.Error()},
			})
		}
	}
	return out
}
