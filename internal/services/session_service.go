package services

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/events"
	"deepresearch/internal/models"
	"deepresearch/internal/repositories"
)

// SessionService owns the research session. Every mutation happens under its
// lock and is written through to the repository before the lock is released.
type SessionService struct {
	repo      repositories.ResearchSessionRepository
	storeName string
	emitter   *events.Emitter
	logger    *zap.Logger

	mu      sync.Mutex
	session *models.ResearchSession
}

func NewSessionService(repo repositories.ResearchSessionRepository, emitter *events.Emitter, logger *zap.Logger) *SessionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionService{
		repo:      repo,
		storeName: models.SessionStoreName,
		emitter:   emitter,
		logger:    logger.Named("session"),
		session:   models.NewResearchSession(),
	}
}

// Startup loads the persisted session once. Transient flags left behind by a
// crashed process are cleared.
func (s *SessionService) Startup(ctx context.Context) error {
	stored, err := s.repo.Load(ctx, s.storeName)
	if err != nil {
		return fmt.Errorf("load session: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if stored == nil {
		s.session = models.NewResearchSession()
		return nil
	}
	stored.IsGeneratingQnA = false
	stored.IsGeneratingPlan = false
	stored.IsGeneratingTasks = false
	stored.IsGeneratingReport = false
	stored.IsCancelling = false
	for i := range stored.Tasks {
		stored.Tasks[i].Processing = false
	}
	s.session = stored
	return nil
}

// Snapshot returns a deep copy of the current session.
func (s *SessionService) Snapshot() *models.ResearchSession {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session.Clone()
}

// Update applies fn and persists the result. fn must not block.
func (s *SessionService) Update(ctx context.Context, fn func(*models.ResearchSession)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s.session)
	return s.persistLocked(ctx)
}

func (s *SessionService) persistLocked(ctx context.Context) error {
	step := s.session.DerivedStep()
	if step > s.session.CurrentStep {
		s.session.CurrentStep = step
	}
	if s.session.CurrentStep > models.StepDone {
		s.session.CurrentStep = models.StepDone
	}
	// Cancelling a run must not lose the state it produced.
	if err := s.repo.Save(context.WithoutCancel(ctx), s.storeName, s.session); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

// Log appends a trace line and forwards the event to the emitter.
func (s *SessionService) Log(ctx context.Context, evt events.ResearchEvent) {
	s.mu.Lock()
	evt.SessionKey = s.session.ID
	s.session.Logs = append(s.session.Logs, formatLogLine(evt))
	err := s.persistLocked(ctx)
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("failed to persist log line", zap.Error(err))
	}
	s.emitter.Emit(ctx, events.ResearchEventLog, evt)
}

func formatLogLine(evt events.ResearchEvent) string {
	return fmt.Sprintf("%s [%s] %s", evt.Timestamp.Format(time.TimeOnly), strings.ToUpper(string(evt.Type)), evt.Message)
}

func (s *SessionService) Info(ctx context.Context, format string, args ...any) {
	s.Log(ctx, events.NewInfo(fmt.Sprintf(format, args...)))
}

func (s *SessionService) Warn(ctx context.Context, format string, args ...any) {
	s.Log(ctx, events.NewWarn(fmt.Sprintf(format, args...)))
}

func (s *SessionService) Error(ctx context.Context, format string, args ...any) {
	s.Log(ctx, events.NewError(fmt.Sprintf(format, args...)))
}

func (s *SessionService) Success(ctx context.Context, format string, args ...any) {
	s.Log(ctx, events.NewSuccess(fmt.Sprintf(format, args...)))
}

// AddTasks inserts tasks whose id is not present yet and returns how many
// were added.
func (s *SessionService) AddTasks(ctx context.Context, tasks []models.ResearchTask) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.session.Tasks))
	for _, t := range s.session.Tasks {
		seen[t.ID] = struct{}{}
	}
	added := 0
	for _, t := range tasks {
		if _, dup := seen[t.ID]; dup {
			continue
		}
		seen[t.ID] = struct{}{}
		s.session.Tasks = append(s.session.Tasks, t)
		added++
	}
	if added == 0 {
		return 0, nil
	}
	return added, s.persistLocked(ctx)
}

// UpdateTask applies fn to the task with id.
func (s *SessionService) UpdateTask(ctx context.Context, id string, fn func(*models.ResearchTask)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.session.TaskIndex(id)
	if idx < 0 {
		return fmt.Errorf("task %s not found", id)
	}
	fn(&s.session.Tasks[idx])
	return s.persistLocked(ctx)
}

// AddSources appends URLs not already present, keeping first-seen order.
func (s *SessionService) AddSources(ctx context.Context, urls []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{}, len(s.session.Sources))
	for _, u := range s.session.Sources {
		seen[u] = struct{}{}
	}
	changed := false
	for _, u := range urls {
		u = strings.TrimSpace(u)
		if u == "" {
			continue
		}
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		s.session.Sources = append(s.session.Sources, u)
		changed = true
	}
	if !changed {
		return nil
	}
	return s.persistLocked(ctx)
}

// Reset wipes the session back to defaults.
func (s *SessionService) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = models.NewResearchSession()
	return s.persistLocked(ctx)
}
