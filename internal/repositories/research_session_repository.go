package repositories

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"deepresearch/internal/models"
)

// ResearchSessionRepository stores research sessions as JSON documents keyed
// by store name.
type ResearchSessionRepository interface {
	Load(ctx context.Context, storeName string) (*models.ResearchSession, error)
	Save(ctx context.Context, storeName string, session *models.ResearchSession) error
	Delete(ctx context.Context, storeName string) error
}

type researchSessionRepository struct {
	db *gorm.DB
}

func NewResearchSessionRepository(db *gorm.DB) ResearchSessionRepository {
	return &researchSessionRepository{db: db}
}

// Load returns nil when nothing has been stored under storeName.
func (r *researchSessionRepository) Load(ctx context.Context, storeName string) (*models.ResearchSession, error) {
	var rec models.ResearchSessionRecord
	if err := r.db.WithContext(ctx).Where("store_name = ?", storeName).Take(&rec).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("loading session %s: %w", storeName, err)
	}

	session := models.NewResearchSession()
	if err := json.Unmarshal([]byte(rec.PayloadJSON), session); err != nil {
		return nil, fmt.Errorf("decoding session %s: %w", storeName, err)
	}
	return session, nil
}

func (r *researchSessionRepository) Save(ctx context.Context, storeName string, session *models.ResearchSession) error {
	if storeName == "" {
		return fmt.Errorf("store name is required")
	}
	if session == nil {
		return fmt.Errorf("session is required")
	}
	payload, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("encoding session %s: %w", storeName, err)
	}

	rec := models.ResearchSessionRecord{
		StoreName:   storeName,
		ResearchID:  session.ID,
		PayloadJSON: string(payload),
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "store_name"}},
		DoUpdates: clause.AssignmentColumns([]string{"research_id", "payload_json", "updated_at"}),
	}).Create(&rec).Error; err != nil {
		return fmt.Errorf("saving session %s: %w", storeName, err)
	}
	return nil
}

func (r *researchSessionRepository) Delete(ctx context.Context, storeName string) error {
	if err := r.db.WithContext(ctx).Where("store_name = ?", storeName).Delete(&models.ResearchSessionRecord{}).Error; err != nil {
		return fmt.Errorf("deleting session %s: %w", storeName, err)
	}
	return nil
}
