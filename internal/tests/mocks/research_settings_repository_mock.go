package mocks

import (
	"context"
	"sync"

	"deepresearch/internal/models"
)

type ResearchSettingsRepositoryMock struct {
	GetFunc    func(ctx context.Context) (*models.ResearchSettings, error)
	UpdateFunc func(ctx context.Context, settings *models.ResearchSettings) error

	mu      sync.Mutex
	Current *models.ResearchSettings
}

func (m *ResearchSettingsRepositoryMock) Get(ctx context.Context) (*models.ResearchSettings, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Current == nil {
		return models.DefaultResearchSettings(), nil
	}
	out := *m.Current
	return &out, nil
}

func (m *ResearchSettingsRepositoryMock) Update(ctx context.Context, settings *models.ResearchSettings) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, settings)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *settings
	stored.ID = 1
	m.Current = &stored
	return nil
}
