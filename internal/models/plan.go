package models

import "time"

// Plan identifies one externally sourced action spreadsheet.
type Plan struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Name       string `gorm:"size:255;not null"`
	ExcelPath  string `gorm:"size:500;not null"`
	ExcelSheet string `gorm:"size:255;not null"`
	HeaderRow  int    `gorm:"default:1"`
	Active     bool   `gorm:"default:true;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time

	Actions []Action `gorm:"foreignKey:PlanID"`
}
