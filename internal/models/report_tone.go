package models

// ReportTone is a named writing style applied to the final report.
type ReportTone struct {
	ID          uint   `gorm:"primaryKey" json:"id"`
	Name        string `gorm:"size:100;not null;unique" json:"name"`
	Description string `gorm:"size:255" json:"description"`
	Instruction string `gorm:"type:text;not null" json:"instruction"`
	BuiltIn     bool   `gorm:"not null;default:false" json:"builtIn"`
}
