package excel

import (
	"fmt"
	"strings"

	"github.com/dkhelifi/planact/internal/models"
	"github.com/xuri/excelize/v2"
	"gorm.io/gorm"
)

// writeBackColumns are the action fields pushed to the source row. The
// remaining columns belong to the sheet's human editors.
var writeBackColumns = []string{"act_id", "title", "status", "priority"}

// WriteBack writes an action's tracked fields to its provenance row and
// reloads them from the saved sheet, so the store reflects exactly what
// the workbook now holds.
func WriteBack(db *gorm.DB, action *models.Action) error {
	if action.ExcelFile == "" || action.ExcelSheet == "" || action.ExcelRow < 1 {
		return fmt.Errorf("excel: action %s has no usable provenance", action.ActID)
	}

	f, err := excelize.OpenFile(action.ExcelFile)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrSourceUnavailable, action.ExcelFile, err)
	}
	defer f.Close()

	var plan models.Plan
	if err := db.First(&plan, action.PlanID).Error; err != nil {
		return fmt.Errorf("excel: load plan %d: %w", action.PlanID, err)
	}

	cols, err := headerColumns(f, action.ExcelSheet, plan.HeaderRow)
	if err != nil {
		return err
	}

	values := map[string]string{
		"act_id":   action.ActID,
		"title":    action.Title,
		"status":   action.Status,
		"priority": action.Priority,
	}
	for _, name := range writeBackColumns {
		col, ok := cols[name]
		if !ok {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(col, action.ExcelRow)
		if err != nil {
			return fmt.Errorf("excel: cell for %s row %d: %w", name, action.ExcelRow, err)
		}
		if err := f.SetCellValue(action.ExcelSheet, cell, values[name]); err != nil {
			return fmt.Errorf("excel: set %s: %w", cell, err)
		}
	}

	if err := f.Save(); err != nil {
		return fmt.Errorf("excel: save %s: %w", action.ExcelFile, err)
	}

	// Reload the written fields from the sheet so any cell formatting
	// applied on save is reflected in the store.
	reloaded, err := readRow(f, action.ExcelSheet, cols, action.ExcelRow)
	if err != nil {
		return err
	}
	if v, ok := reloaded["title"]; ok {
		action.Title = v
	}
	if v, ok := reloaded["status"]; ok {
		action.Status = v
	}
	if v, ok := reloaded["priority"]; ok {
		action.Priority = v
	}
	if err := db.Save(action).Error; err != nil {
		return fmt.Errorf("excel: save action %s: %w", action.ActID, err)
	}
	return nil
}

// ApplyUpdate writes back every occurrence of an ACT-ID per strategy:
// "all" writes every matching action, "active" skips closed ones, and the
// default writes only the first match. Returns the number written.
func ApplyUpdate(db *gorm.DB, actID, strategy string) (int, error) {
	var actions []models.Action
	if err := db.Where("act_id = ?", actID).Order("id ASC").Find(&actions).Error; err != nil {
		return 0, fmt.Errorf("excel: find %s: %w", actID, err)
	}
	if len(actions) == 0 {
		return 0, nil
	}

	var targets []models.Action
	switch strategy {
	case "all":
		targets = actions
	case "active":
		for _, a := range actions {
			if !strings.EqualFold(a.Status, models.ActionStatusClosed) {
				targets = append(targets, a)
			}
		}
	default:
		targets = actions[:1]
	}

	count := 0
	for i := range targets {
		if err := WriteBack(db, &targets[i]); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// headerColumns maps header names to 1-based column numbers.
func headerColumns(f *excelize.File, sheet string, headerRow int) (map[string]int, error) {
	if headerRow < 1 {
		headerRow = 1
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: sheet %q: %v", ErrSourceUnavailable, sheet, err)
	}
	if headerRow > len(rows) {
		return nil, fmt.Errorf("%w: header row %d beyond sheet end", ErrSourceMalformed, headerRow)
	}
	cols := make(map[string]int)
	for i, name := range rows[headerRow-1] {
		name = strings.TrimSpace(name)
		if name != "" {
			cols[name] = i + 1
		}
	}
	if len(cols) == 0 {
		return nil, fmt.Errorf("%w: empty header row %d", ErrSourceMalformed, headerRow)
	}
	return cols, nil
}

// readRow reads the named columns of one worksheet row.
func readRow(f *excelize.File, sheet string, cols map[string]int, row int) (map[string]string, error) {
	out := make(map[string]string, len(cols))
	for name, col := range cols {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return nil, fmt.Errorf("excel: cell for %s row %d: %w", name, row, err)
		}
		v, err := f.GetCellValue(sheet, cell)
		if err != nil {
			return nil, fmt.Errorf("excel: read %s: %w", cell, err)
		}
		out[name] = strings.TrimSpace(v)
	}
	return out, nil
}
