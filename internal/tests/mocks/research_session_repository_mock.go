package mocks

import (
	"context"
	"sync"

	"deepresearch/internal/models"
)

// ResearchSessionRepositoryMock keeps sessions in memory unless a Func is set.
type ResearchSessionRepositoryMock struct {
	LoadFunc   func(ctx context.Context, storeName string) (*models.ResearchSession, error)
	SaveFunc   func(ctx context.Context, storeName string, session *models.ResearchSession) error
	DeleteFunc func(ctx context.Context, storeName string) error

	mu     sync.Mutex
	stored map[string]*models.ResearchSession
	Saves  int
}

func (m *ResearchSessionRepositoryMock) Load(ctx context.Context, storeName string) (*models.ResearchSession, error) {
	if m.LoadFunc != nil {
		return m.LoadFunc(ctx, storeName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[storeName].Clone(), nil
}

func (m *ResearchSessionRepositoryMock) Save(ctx context.Context, storeName string, session *models.ResearchSession) error {
	m.mu.Lock()
	m.Saves++
	m.mu.Unlock()
	if m.SaveFunc != nil {
		return m.SaveFunc(ctx, storeName, session)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stored == nil {
		m.stored = make(map[string]*models.ResearchSession)
	}
	m.stored[storeName] = session.Clone()
	return nil
}

func (m *ResearchSessionRepositoryMock) Delete(ctx context.Context, storeName string) error {
	if m.DeleteFunc != nil {
		return m.DeleteFunc(ctx, storeName)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.stored, storeName)
	return nil
}

// Stored returns a copy of what was last saved under storeName.
func (m *ResearchSessionRepositoryMock) Stored(storeName string) *models.ResearchSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stored[storeName].Clone()
}
