package models

import "time"

type ResearchSettings struct {
	ID             uint   `gorm:"primaryKey" json:"-"` // single-row table (ID=1)
	Version        int    `gorm:"not null;default:1" json:"version"`
	CoreModel      string `gorm:"size:100;not null" json:"coreModel"`
	TaskModel      string `gorm:"size:100;not null" json:"taskModel"`
	ThinkingBudget int    `gorm:"not null;default:0" json:"thinkingBudget"`
	Depth          int    `gorm:"not null;default:3" json:"depth"`
	Wide           int    `gorm:"not null;default:5" json:"wide"`
	ParallelSearch int    `gorm:"not null;default:3" json:"parallelSearch"`
	ReportTone     string `gorm:"size:100;not null" json:"reportTone"`
	MinWords       int    `gorm:"not null;default:3000" json:"minWords"`
	APIKeyValid    bool   `gorm:"not null;default:false" json:"isApiKeyValid"`
	UpdatedAt      time.Time
}

func (ResearchSettings) TableName() string {
	return "research_settings"
}

// DefaultResearchSettings returns the settings used before the user changes
// anything.
func DefaultResearchSettings() *ResearchSettings {
	return &ResearchSettings{
		ID:             1,
		Version:        1,
		CoreModel:      "gemini-2.5-pro",
		TaskModel:      "gemini-2.5-flash",
		ThinkingBudget: 8192,
		Depth:          3,
		Wide:           5,
		ParallelSearch: 3,
		ReportTone:     "journalist",
		MinWords:       3000,
	}
}
