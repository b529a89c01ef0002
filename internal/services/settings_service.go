package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"deepresearch/internal/models"
	"deepresearch/internal/repositories"
)

// Research parameter bounds.
const (
	MinDepth          = 1
	MaxDepth          = 10
	MinWide           = 1
	MaxWide           = 20
	MinParallelSearch = 1
	MaxParallelSearch = 5
	MinReportWords    = 100
)

type ResearchSettingsService interface {
	Startup(ctx context.Context)
	Get() (*models.ResearchSettings, error)
	Update(settings *models.ResearchSettings) (*models.ResearchSettings, error)
	Validate(settings *models.ResearchSettings) error
	SetAPIKeyValid(valid bool) error
}

type researchSettingsService struct {
	repo    repositories.ResearchSettingsRepository
	catalog ModelCatalogService
	tones   ReportToneService
	context context.Context
}

func NewResearchSettingsService(repo repositories.ResearchSettingsRepository, catalog ModelCatalogService, tones ReportToneService) ResearchSettingsService {
	return &researchSettingsService{repo: repo, catalog: catalog, tones: tones, context: context.Background()}
}

func (s *researchSettingsService) Startup(ctx context.Context) {
	s.context = ctx
}

func (s *researchSettingsService) Get() (*models.ResearchSettings, error) {
	return s.repo.Get(s.context)
}

// Update validates settings, clamps the reasoning budget to the core model
// and persists them. The stored credential flag is kept as is.
func (s *researchSettingsService) Update(settings *models.ResearchSettings) (*models.ResearchSettings, error) {
	if settings == nil {
		return nil, &ConfigError{Field: "settings", Reason: "required"}
	}
	if err := s.Validate(settings); err != nil {
		return nil, err
	}
	budget, err := s.catalog.ClampThinkingBudget(settings.CoreModel, settings.ThinkingBudget)
	if err != nil {
		return nil, &ConfigError{Field: "coreModel", Reason: err.Error()}
	}

	current, err := s.repo.Get(s.context)
	if err != nil {
		return nil, err
	}
	updated := *settings
	updated.ThinkingBudget = budget
	updated.APIKeyValid = current.APIKeyValid
	updated.Version = current.Version
	updated.UpdatedAt = time.Now()

	if err := s.repo.Update(s.context, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

// Validate returns a *ConfigError naming the first invalid field.
func (s *researchSettingsService) Validate(settings *models.ResearchSettings) error {
	if settings == nil {
		return &ConfigError{Field: "settings", Reason: "required"}
	}
	for _, m := range []struct{ field, name string }{
		{"coreModel", settings.CoreModel},
		{"taskModel", settings.TaskModel},
	} {
		if strings.TrimSpace(m.name) == "" {
			return &ConfigError{Field: m.field, Reason: "required"}
		}
		if _, err := s.catalog.GetModel(m.name); err != nil {
			return &ConfigError{Field: m.field, Reason: fmt.Sprintf("unknown model %q", m.name)}
		}
	}
	if err := checkRange("depth", settings.Depth, MinDepth, MaxDepth); err != nil {
		return err
	}
	if err := checkRange("wide", settings.Wide, MinWide, MaxWide); err != nil {
		return err
	}
	if err := checkRange("parallelSearch", settings.ParallelSearch, MinParallelSearch, MaxParallelSearch); err != nil {
		return err
	}
	if settings.MinWords < MinReportWords {
		return &ConfigError{Field: "minWords", Reason: fmt.Sprintf("must be at least %d", MinReportWords)}
	}
	if settings.ThinkingBudget < DynamicThinkingBudget {
		return &ConfigError{Field: "thinkingBudget", Reason: "must be -1 (dynamic) or non-negative"}
	}
	if strings.TrimSpace(settings.ReportTone) == "" {
		return &ConfigError{Field: "reportTone", Reason: "required"}
	}
	if _, err := s.tones.GetTone(settings.ReportTone); err != nil {
		return &ConfigError{Field: "reportTone", Reason: fmt.Sprintf("unknown tone %q", settings.ReportTone)}
	}
	return nil
}

func checkRange(field string, v, lo, hi int) error {
	if v < lo || v > hi {
		return &ConfigError{Field: field, Reason: fmt.Sprintf("must be between %d and %d, got %d", lo, hi, v)}
	}
	return nil
}

func (s *researchSettingsService) SetAPIKeyValid(valid bool) error {
	current, err := s.repo.Get(s.context)
	if err != nil {
		return err
	}
	current.APIKeyValid = valid
	current.UpdatedAt = time.Now()
	return s.repo.Update(s.context, current)
}
