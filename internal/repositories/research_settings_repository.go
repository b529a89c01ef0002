package repositories

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"deepresearch/internal/models"
)

type ResearchSettingsRepository interface {
	Get(ctx context.Context) (*models.ResearchSettings, error)
	Update(ctx context.Context, settings *models.ResearchSettings) error
}

type researchSettingsRepository struct {
	db *gorm.DB
}

func NewResearchSettingsRepository(db *gorm.DB) ResearchSettingsRepository {
	return &researchSettingsRepository{db: db}
}

func (r *researchSettingsRepository) Get(ctx context.Context) (*models.ResearchSettings, error) {
	var settings models.ResearchSettings
	if err := r.db.WithContext(ctx).First(&settings, 1).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// Return default settings if not found
			return models.DefaultResearchSettings(), nil
		}
		return nil, err
	}
	return &settings, nil
}

func (r *researchSettingsRepository) Update(ctx context.Context, settings *models.ResearchSettings) error {
	// Ensure ID is set to 1 for single-row table
	settings.ID = 1
	return r.db.WithContext(ctx).Save(settings).Error
}
