package models

import "time"

// NotificationTemplate holds operator-edited notification content. Subject
// and bodies are Go template source rendered against a trigger payload.
type NotificationTemplate struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	Name      string `gorm:"size:255;uniqueIndex;not null"`
	Subject   string `gorm:"size:255"`
	BodyHTML  string `gorm:"type:text"`
	BodyText  string `gorm:"type:text"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
