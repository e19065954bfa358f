// Package excel reads and writes plan workbooks.
package excel

import (
	"errors"
	"fmt"
	"strings"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/xuri/excelize/v2"
)

// Sentinel errors for source reading failures. Callers distinguish a
// workbook that cannot be opened from one whose header row is broken.
var (
	ErrSourceUnavailable = errors.New("excel: source unavailable")
	ErrSourceMalformed   = errors.New("excel: source malformed")
)

// SourceRow is one data row read from a plan workbook. Index is the
// 1-based worksheet row number, kept for provenance write-back. Values
// maps header column names to raw cell text.
type SourceRow struct {
	Index  int
	Values map[string]string
}

// Reader produces ordered rows from a plan's source workbook.
type Reader interface {
	ReadPlan(plan *models.Plan) ([]SourceRow, error)
}

// FileReader reads plan workbooks from the local filesystem.
type FileReader struct{}

// ReadPlan opens the plan's workbook and returns its data rows in sheet
// order. The header row sits at plan.HeaderRow (1-based); rows above it
// are skipped. Read-only: the workbook is never modified.
func (FileReader) ReadPlan(plan *models.Plan) ([]SourceRow, error) {
	f, err := excelize.OpenFile(plan.ExcelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, plan.ExcelPath, err)
	}
	defer f.Close()

	rows, err := f.GetRows(plan.ExcelSheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q in %s: %v", ErrSourceUnavailable, plan.ExcelSheet, plan.ExcelPath, err)
	}

	headerIdx := plan.HeaderRow
	if headerIdx < 1 {
		headerIdx = 1
	}
	if headerIdx > len(rows) {
		return nil, fmt.Errorf("%w: header row %d beyond sheet end (%d rows) in %s", ErrSourceMalformed, headerIdx, len(rows), plan.ExcelPath)
	}

	headers := rows[headerIdx-1]
	if !hasHeader(headers) {
		return nil, fmt.Errorf("%w: empty header row %d in %s", ErrSourceMalformed, headerIdx, plan.ExcelPath)
	}

	var out []SourceRow
	for i := headerIdx; i < len(rows); i++ {
		cells := rows[i]
		if isEmptyRow(cells) {
			continue
		}
		values := make(map[string]string, len(headers))
		for col, name := range headers {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if col < len(cells) {
				values[name] = strings.TrimSpace(cells[col])
			} else {
				values[name] = ""
			}
		}
		out = append(out, SourceRow{Index: i + 1, Values: values})
	}
	return out, nil
}

// Reachable reports whether the plan's workbook and sheet can be opened.
// Used by the plan-scoped quality rule.
func (FileReader) Reachable(plan *models.Plan) error {
	f, err := excelize.OpenFile(plan.ExcelPath)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, plan.ExcelPath, err)
	}
	defer f.Close()
	if idx, err := f.GetSheetIndex(plan.ExcelSheet); err != nil || idx < 0 {
		return fmt.Errorf("%w: sheet %q missing in %s", ErrSourceUnavailable, plan.ExcelSheet, plan.ExcelPath)
	}
	return nil
}

func hasHeader(cells []string) bool {
	for _, c := range cells {
		if strings.TrimSpace(c) != "" {
			return true
		}
	}
	return false
}

func isEmptyRow(cells []string) bool {
	return !hasHeader(cells)
}
