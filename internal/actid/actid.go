// Package actid generates sequential action identifiers.
package actid

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dkhelifi/planact/internal/models"
	"gorm.io/gorm"
)

// Pattern matches well-formed identifiers such as ACT-0042. Rows with
// hand-entered ids that do not match are ignored when computing the next
// sequence number rather than failing the whole generation.
var Pattern = regexp.MustCompile(`^ACT-(\d{4,})$`)

// Format renders a sequence number as an identifier.
func Format(n int) string {
	return fmt.Sprintf("ACT-%04d", n)
}

// Next returns the first unused identifier, one past the highest
// well-formed id currently stored.
func Next(db *gorm.DB) (string, error) {
	var ids []string
	if err := db.Model(&models.Action{}).Pluck("act_id", &ids).Error; err != nil {
		return "", fmt.Errorf("actid: list ids: %w", err)
	}

	highest := 0
	for _, id := range ids {
		m := Pattern.FindStringSubmatch(id)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		if n > highest {
			highest = n
		}
	}
	return Format(highest + 1), nil
}
