package repositories

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"deepresearch/internal/models"
)

type ReportToneRepository interface {
	GetByName(ctx context.Context, name string) (*models.ReportTone, error)
	GetAll(ctx context.Context) ([]*models.ReportTone, error)
	Create(ctx context.Context, tone *models.ReportTone) error
	Update(ctx context.Context, tone *models.ReportTone) error
	Delete(ctx context.Context, id uint) error
}

// ErrToneNotFound is returned by GetByName when no tone has that name.
var ErrToneNotFound = errors.New("report tone not found")

type reportToneRepository struct {
	db *gorm.DB
}

func NewReportToneRepository(db *gorm.DB) ReportToneRepository {
	return &reportToneRepository{db: db}
}

func (r *reportToneRepository) GetByName(ctx context.Context, name string) (*models.ReportTone, error) {
	var tone models.ReportTone
	if err := r.db.WithContext(ctx).Where("name = ?", name).Take(&tone).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("tone %q: %w", name, ErrToneNotFound)
		}
		return nil, fmt.Errorf("getting tone %q: %w", name, err)
	}
	return &tone, nil
}

func (r *reportToneRepository) GetAll(ctx context.Context) ([]*models.ReportTone, error) {
	var list []*models.ReportTone
	if err := r.db.WithContext(ctx).Order("id asc").Find(&list).Error; err != nil {
		return nil, fmt.Errorf("listing tones: %w", err)
	}
	return list, nil
}

func (r *reportToneRepository) Create(ctx context.Context, tone *models.ReportTone) error {
	if err := r.db.WithContext(ctx).Create(tone).Error; err != nil {
		return fmt.Errorf("creating tone: %w", err)
	}
	return nil
}

func (r *reportToneRepository) Update(ctx context.Context, tone *models.ReportTone) error {
	if err := r.db.WithContext(ctx).Save(tone).Error; err != nil {
		return fmt.Errorf("updating tone %d: %w", tone.ID, err)
	}
	return nil
}

func (r *reportToneRepository) Delete(ctx context.Context, id uint) error {
	if err := r.db.WithContext(ctx).Delete(&models.ReportTone{}, id).Error; err != nil {
		return fmt.Errorf("deleting tone %d: %w", id, err)
	}
	return nil
}
