package mocks

import (
	"context"
	"fmt"
	"sync"

	"deepresearch/internal/models"
	"deepresearch/internal/repositories"
)

// ReportToneRepositoryMock keeps tones in memory unless a Func is set.
type ReportToneRepositoryMock struct {
	GetByNameFunc func(ctx context.Context, name string) (*models.ReportTone, error)
	GetAllFunc    func(ctx context.Context) ([]*models.ReportTone, error)
	CreateFunc    func(ctx context.Context, tone *models.ReportTone) error
	UpdateFunc    func(ctx context.Context, tone *models.ReportTone) error
	DeleteFunc    func(ctx context.Context, id uint) error

	mu     sync.Mutex
	tones  []*models.ReportTone
	nextID uint
}

func (m *ReportToneRepositoryMock) GetByName(ctx context.Context, name string) (*models.ReportTone, error) {
	if m.GetByNameFunc != nil {
		return m.GetByNameFunc(ctx, name)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tones {
		if t.Name == name {
			out := *t
			return &out, nil
		}
	}
	return nil, fmt.Errorf("tone %q: %w", name, repositories.ErrToneNotFound)
}

func (m *ReportToneRepositoryMock) GetAll(ctx context.Context) ([]*models.ReportTone, error) {
	if m.GetAllFunc != nil {
		return m.GetAllFunc(ctx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.ReportTone, 0, len(m.tones))
	for _, t := range m.tones {
		cp := *t
		out = append(out, &cp)
	}
	return out, nil
}

func (m *ReportToneRepositoryMock) Create(ctx context.Context, tone *models.ReportTone) error {
	if m.CreateFunc != nil {
		return m.CreateFunc(ctx, tone)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tones {
		if t.Name == tone.Name {
			return fmt.Errorf("creating tone: UNIQUE constraint failed: report_tones.name")
		}
	}
	m.nextID++
	tone.ID = m.nextID
	cp := *tone
	m.tones = append(m.tones, &cp)
	return nil
}

func (m *ReportToneRepositoryMock) Update(ctx context.Context, tone *models.ReportTone) error {
	if m.UpdateFunc != nil {
		return m.UpdateFunc(ctx, tone)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.tones {
		if t.ID == tone.ID {
			cp := *tone
			m.tones[i] = &cp
			return nil
		}
	}
	return fmt.Errorf("updating tone %d: not found", tone.ID)
}

func (m *ReportToneRepositoryMock) Delete(ctx context.Context, id uint) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.tones[:0]
	for _, t := range m.tones {
		if t.ID != id {
			kept = append(kept, t)
		}
	}
	m.tones = kept
	return nil
}
