package reconcile

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dkhelifi/planact/internal/excel"
	"github.com/dkhelifi/planact/internal/models"
)

// mappedColumns are the source columns bound to action fields. Anything
// else lands in the Extra JSON map.
var mappedColumns = map[string]bool{
	"act_id": true, "title": true, "status": true, "priority": true,
	"owner": true, "p": true, "d": true, "c": true, "a": true,
	"j": true, "deadline": true, "done_at": true, "comment": true,
}

// dateLayouts are tried in order when parsing date cells.
var dateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"2006-01-02 15:04:05",
	"01-02-06",
}

// mapRow converts a source row into the action state it prescribes,
// including provenance pointing at the row just read.
func mapRow(plan *models.Plan, row excel.SourceRow) (*models.Action, error) {
	v := row.Values

	a := &models.Action{
		ActID:      v["act_id"],
		Title:      v["title"],
		Status:     v["status"],
		Priority:   v["priority"],
		Owner:      v["owner"],
		P:          parseFlag(v["p"]),
		D:          parseFlag(v["d"]),
		C:          parseFlag(v["c"]),
		A:          parseFlag(v["a"]),
		Comment:    v["comment"],
		PlanID:     plan.ID,
		ExcelFile:  plan.ExcelPath,
		ExcelSheet: plan.ExcelSheet,
		ExcelRow:   row.Index,
	}

	if s := v["j"]; s != "" {
		j, err := strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("parse j %q: %w", s, err)
		}
		a.J = &j
	}

	var err error
	if a.Deadline, err = parseDate(v["deadline"]); err != nil {
		return nil, fmt.Errorf("parse deadline: %w", err)
	}
	if a.DoneAt, err = parseDate(v["done_at"]); err != nil {
		return nil, fmt.Errorf("parse done_at: %w", err)
	}

	extra := make(map[string]string)
	for name, val := range v {
		if !mappedColumns[name] && val != "" {
			extra[name] = val
		}
	}
	if len(extra) == 0 {
		a.Extra = "{}"
	} else {
		data, err := json.Marshal(extra)
		if err != nil {
			return nil, fmt.Errorf("marshal extra columns: %w", err)
		}
		a.Extra = string(data)
	}
	return a, nil
}

// changed reports whether any mapped field differs between the stored
// action and the state the source row prescribes. Provenance counts: a
// row that moved in the sheet is a write even when its values did not
// change, so the back-reference always points at the row last read.
func changed(existing, desired *models.Action) bool {
	return existing.Title != desired.Title ||
		existing.Status != desired.Status ||
		existing.Priority != desired.Priority ||
		existing.Owner != desired.Owner ||
		existing.P != desired.P ||
		existing.D != desired.D ||
		existing.C != desired.C ||
		existing.A != desired.A ||
		!intPtrEqual(existing.J, desired.J) ||
		!timePtrEqual(existing.Deadline, desired.Deadline) ||
		!timePtrEqual(existing.DoneAt, desired.DoneAt) ||
		existing.Comment != desired.Comment ||
		existing.PlanID != desired.PlanID ||
		existing.ExcelFile != desired.ExcelFile ||
		existing.ExcelSheet != desired.ExcelSheet ||
		existing.ExcelRow != desired.ExcelRow ||
		!extraEqual(existing.Extra, desired.Extra)
}

// applyFields overwrites the stored action's mapped fields with the
// source-derived state, leaving identity and timestamps alone.
func applyFields(existing, desired *models.Action) {
	existing.Title = desired.Title
	existing.Status = desired.Status
	existing.Priority = desired.Priority
	existing.Owner = desired.Owner
	existing.P = desired.P
	existing.D = desired.D
	existing.C = desired.C
	existing.A = desired.A
	existing.J = desired.J
	existing.Deadline = desired.Deadline
	existing.DoneAt = desired.DoneAt
	existing.Comment = desired.Comment
	existing.PlanID = desired.PlanID
	existing.ExcelFile = desired.ExcelFile
	existing.ExcelSheet = desired.ExcelSheet
	existing.ExcelRow = desired.ExcelRow
	existing.Extra = desired.Extra
}

// parseFlag interprets the checkbox-ish cell values humans put in PDCA
// columns.
func parseFlag(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "x", "true", "yes", "y", "oui", "on":
		return true
	}
	return false
}

// parseDate parses a date cell, returning nil for empty cells.
func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("unrecognized date %q", s)
}

func intPtrEqual(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Equal(*b)
}

// extraEqual compares two Extra JSON blobs structurally so key order
// never causes spurious writes.
func extraEqual(a, b string) bool {
	if a == b {
		return true
	}
	var ma, mb map[string]string
	if json.Unmarshal([]byte(orEmpty(a)), &ma) != nil {
		return false
	}
	if json.Unmarshal([]byte(orEmpty(b)), &mb) != nil {
		return false
	}
	if len(ma) != len(mb) {
		return false
	}
	for k, v := range ma {
		if mb[k] != v {
			return false
		}
	}
	return true
}

func orEmpty(s string) string {
	if s == "" {
		return "{}"
	}
	return s
}
