package services

import (
	"go.uber.org/zap"
	"gorm.io/gorm"

	"deepresearch/internal/events"
	"deepresearch/internal/repositories"
)

// DbServices aggregates the services backed by the database.
type DbServices struct {
	Sessions *SessionService
	Settings ResearchSettingsService
	Tones    ReportToneService
}

// NewDbServices constructs the service container using repositories backed by db.
func NewDbServices(db *gorm.DB, catalog ModelCatalogService, emitter *events.Emitter, logger *zap.Logger) *DbServices {
	sessionRepo := repositories.NewResearchSessionRepository(db)
	settingsRepo := repositories.NewResearchSettingsRepository(db)
	toneRepo := repositories.NewReportToneRepository(db)

	tones := NewReportToneService(toneRepo)
	return &DbServices{
		Sessions: NewSessionService(sessionRepo, emitter, logger),
		Settings: NewResearchSettingsService(settingsRepo, catalog, tones),
		Tones:    tones,
	}
}
