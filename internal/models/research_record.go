package models

import "time"

// ResearchSessionRecord persists a ResearchSession as a JSON document keyed by
// a fixed store name.
type ResearchSessionRecord struct {
	StoreName   string `gorm:"primaryKey;size:100"`
	ResearchID  string `gorm:"size:64;index"`
	PayloadJSON string `gorm:"type:text;not null"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (ResearchSessionRecord) TableName() string {
	return "research_sessions"
}
