package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"deepresearch/internal/events"
	"deepresearch/internal/llm/client"
	"deepresearch/internal/metrics"
	"deepresearch/internal/models"
	"deepresearch/internal/streaming"
	"deepresearch/internal/utils"
)

// ClientFactory builds provider capabilities for an API key.
type ClientFactory func(ctx context.Context, apiKey string) (client.Capabilities, error)

// URLResolver turns a grounding redirect into its final URL. An empty result
// means the source could not be resolved.
type URLResolver interface {
	Resolve(ctx context.Context, uri string) (string, error)
}

// APIKeyProvider reads stored credentials.
type APIKeyProvider interface {
	GetApiKey(provider string) (string, error)
}

// ResearchOptions wires a ResearchService. Resolver, Emitter, Metrics,
// Logger and Scheduler are optional.
type ResearchOptions struct {
	Sessions  *SessionService
	Settings  ResearchSettingsService
	Catalog   ModelCatalogService
	Tones     ReportToneService
	Keys      APIKeyProvider
	NewClient ClientFactory
	Resolver  URLResolver
	Emitter   *events.Emitter
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
	Throttle  streaming.Options
	Scheduler streaming.Scheduler
}

// ResearchService drives a session through its phases. Only one phase, edit
// or reset owns the session at a time.
type ResearchService struct {
	sessions  *SessionService
	settings  ResearchSettingsService
	catalog   ModelCatalogService
	tones     ReportToneService
	keys      APIKeyProvider
	newClient ClientFactory
	resolver  URLResolver
	emitter   *events.Emitter
	metrics   *metrics.Metrics
	logger    *zap.Logger
	now       func() time.Time

	planStream   *streaming.Throttle
	reportStream *streaming.Throttle

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc
	validating bool

	clientMu sync.Mutex
	caps     client.Capabilities
	capsKey  string
}

func NewResearchService(opts ResearchOptions) *ResearchService {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &ResearchService{
		sessions:  opts.Sessions,
		settings:  opts.Settings,
		catalog:   opts.Catalog,
		tones:     opts.Tones,
		keys:      opts.Keys,
		newClient: opts.NewClient,
		resolver:  opts.Resolver,
		emitter:   opts.Emitter,
		metrics:   opts.Metrics,
		logger:    logger.Named("research"),
		now:       time.Now,
	}
	s.planStream = streaming.NewThrottle(s.publishPlan, opts.Scheduler, opts.Throttle)
	s.reportStream = streaming.NewThrottle(s.publishReport, opts.Scheduler, opts.Throttle)
	return s
}

func (s *ResearchService) publishPlan(text string) {
	if err := s.sessions.Update(context.Background(), func(sess *models.ResearchSession) {
		sess.Plan = text
	}); err != nil {
		s.logger.Warn("failed to store streamed plan", zap.Error(err))
	}
}

func (s *ResearchService) publishReport(text string) {
	if err := s.sessions.Update(context.Background(), func(sess *models.ResearchSession) {
		sess.FinalReport = text
	}); err != nil {
		s.logger.Warn("failed to store streamed report", zap.Error(err))
	}
}

// claim takes the run slot. The returned release must be called once.
func (s *ResearchService) claim(ctx context.Context) (context.Context, func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil, nil, ErrRunInProgress
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.running = true
	s.cancel = cancel
	release := func() {
		cancel()
		s.mu.Lock()
		defer s.mu.Unlock()
		// A cancel may land on a run that never raised a phase flag.
		if s.sessions.Snapshot().IsCancelling {
			if err := s.sessions.Update(context.WithoutCancel(ctx), func(sess *models.ResearchSession) {
				sess.IsCancelling = false
			}); err != nil {
				s.logger.Warn("failed to clear cancellation flag", zap.Error(err))
			}
		}
		s.running = false
		s.cancel = nil
	}
	return runCtx, release, nil
}

// Running reports whether a phase currently owns the session.
func (s *ResearchService) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Cancel stops the active phase. It returns false when nothing is running.
func (s *ResearchService) Cancel(ctx context.Context) bool {
	s.mu.Lock()
	cancel := s.cancel
	if cancel == nil {
		s.mu.Unlock()
		return false
	}
	// Flagged under mu so release always sees it.
	if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
		sess.IsCancelling = true
	}); err != nil {
		s.logger.Warn("failed to flag cancellation", zap.Error(err))
	}
	s.mu.Unlock()

	s.sessions.Warn(ctx, "Cancellation requested")
	cancel()
	return true
}

type phase struct {
	name  string
	label string
	flag  func(*models.ResearchSession) *bool
}

var (
	phaseQnA = phase{"qna", "Clarifying questions", func(s *models.ResearchSession) *bool {
		return &s.IsGeneratingQnA
	}}
	phasePlan = phase{"plan", "Research plan", func(s *models.ResearchSession) *bool {
		return &s.IsGeneratingPlan
	}}
	phaseTasks = phase{"tasks", "Research tasks", func(s *models.ResearchSession) *bool {
		return &s.IsGeneratingTasks
	}}
	phaseReport = phase{"report", "Final report", func(s *models.ResearchSession) *bool {
		return &s.IsGeneratingReport
	}}
)

// runPhase brackets fn with the phase flag, log lines and metrics. The caller
// must hold the run slot; ctx is the run context.
func (s *ResearchService) runPhase(ctx context.Context, p phase, fn func(ctx context.Context) error) (err error) {
	start := time.Now()
	if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
		*p.flag(sess) = true
	}); err != nil {
		return err
	}
	s.sessions.Info(ctx, "%s started", p.label)
	s.emitter.Emit(ctx, events.ResearchEventPhase, events.NewInfo(p.name).WithMetadata("status", "started"))

	err = fn(ctx)

	// The run context may be cancelled by now.
	bg := context.WithoutCancel(ctx)
	if clearErr := s.sessions.Update(bg, func(sess *models.ResearchSession) {
		*p.flag(sess) = false
		sess.IsCancelling = false
	}); clearErr != nil && err == nil {
		err = clearErr
	}

	status := "ok"
	switch {
	case err == nil:
		s.sessions.Success(bg, "%s finished", p.label)
	case isCancellation(ctx, err):
		status = "cancelled"
		err = errors.Join(ErrCancelled, err)
		s.sessions.Warn(bg, "%s stopped", p.label)
	default:
		status = "error"
		s.sessions.Error(bg, "%s failed: %v", p.label, err)
	}
	s.metrics.RecordPhase(p.name, status, time.Since(start))
	s.emitter.Emit(bg, events.ResearchEventPhase, events.NewInfo(p.name).WithMetadata("status", status))
	return err
}

// capabilities returns a client for the stored key, reusing the previous one
// while the key is unchanged.
func (s *ResearchService) capabilities(ctx context.Context) (client.Capabilities, error) {
	key, err := s.keys.GetApiKey(ProviderGemini)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: no key stored", ErrInvalidCredential)
	}

	s.clientMu.Lock()
	defer s.clientMu.Unlock()
	if s.caps != nil && s.capsKey == key {
		return s.caps, nil
	}
	caps, err := s.newClient(context.WithoutCancel(ctx), key)
	if err != nil {
		return nil, err
	}
	s.caps, s.capsKey = caps, key
	return caps, nil
}

// prepare loads and validates settings and returns a client. It touches
// nothing.
func (s *ResearchService) prepare(ctx context.Context) (*models.ResearchSettings, client.Capabilities, error) {
	settings, err := s.settings.Get()
	if err != nil {
		return nil, nil, fmt.Errorf("load settings: %w", err)
	}
	if err := s.settings.Validate(settings); err != nil {
		return nil, nil, err
	}
	caps, err := s.capabilities(ctx)
	if err != nil {
		return nil, nil, err
	}
	return settings, caps, nil
}

func (s *ResearchService) budget(model string, settings *models.ResearchSettings) int {
	b, err := s.catalog.ClampThinkingBudget(model, settings.ThinkingBudget)
	if err != nil {
		return settings.ThinkingBudget
	}
	return b
}

func (s *ResearchService) promptData(snap *models.ResearchSession, settings *models.ResearchSettings) client.PromptData {
	return client.PromptData{
		Date:     s.now().Format(time.DateOnly),
		Query:    snap.Query,
		QnA:      snap.QnA,
		Plan:     snap.Plan,
		Wide:     settings.Wide,
		Findings: findings(snap),
		MinWords: settings.MinWords,
		Files:    snap.Files,
	}
}

func findings(snap *models.ResearchSession) []client.Finding {
	var out []client.Finding
	for _, t := range snap.Tasks {
		if t.Done() {
			out = append(out, client.Finding{Title: t.Title, Learning: t.Learning})
		}
	}
	return out
}

func fileRefs(files []models.FileHandle) []client.FileRef {
	refs := make([]client.FileRef, 0, len(files))
	for _, f := range files {
		refs = append(refs, client.FileRef{URI: f.URI, MIMEType: f.MIMEType})
	}
	return refs
}

// SubmitQuery stores the research query and generates clarifying questions.
func (s *ResearchService) SubmitQuery(ctx context.Context, query string) error {
	query = strings.TrimSpace(query)
	if query == "" {
		return notReady("query is empty")
	}

	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	snap := s.sessions.Snapshot()
	if snap.Query != "" && snap.Query != query {
		release()
		return notReady("the session already researches %q; reset it first", snap.Query)
	}
	err = s.sessions.Update(runCtx, func(sess *models.ResearchSession) {
		if sess.ID == "" {
			sess.ID = uuid.NewString()
		}
		sess.Query = query
	})
	release()
	if err != nil {
		return err
	}
	return s.GenerateQnA(ctx)
}

// checkCredential refuses the clarification phase without a validated key.
func (s *ResearchService) checkCredential(settings *models.ResearchSettings) error {
	s.mu.Lock()
	validating := s.validating
	s.mu.Unlock()

	key, err := s.keys.GetApiKey(ProviderGemini)
	switch {
	case err != nil:
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	case validating:
		return fmt.Errorf("%w: validation still in progress", ErrInvalidCredential)
	case key == "":
		return fmt.Errorf("%w: no key stored", ErrInvalidCredential)
	case !settings.APIKeyValid:
		return fmt.Errorf("%w: key has not been validated", ErrInvalidCredential)
	}
	return nil
}

// GenerateQnA asks the core model for clarifying questions with predicted
// answers. It does nothing when questions already exist.
func (s *ResearchService) GenerateQnA(ctx context.Context) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if snap.Query == "" {
		return notReady("no query submitted")
	}
	if len(snap.QnA) > 0 {
		return nil
	}
	settings, err := s.settings.Get()
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	if err := s.checkCredential(settings); err != nil {
		s.sessions.Error(runCtx, "Cannot generate questions: %v", err)
		return err
	}
	settings, caps, err := s.prepare(runCtx)
	if err != nil {
		return err
	}

	return s.runPhase(runCtx, phaseQnA, func(ctx context.Context) error {
		data := s.promptData(snap, settings)
		system, err := client.RenderPrompt(client.PromptSystem, data)
		if err != nil {
			return err
		}
		prompt, err := client.RenderPrompt(client.PromptQnA, data)
		if err != nil {
			return err
		}
		raw, err := caps.GenerateStructured(ctx, client.StructuredRequest{
			Model:             settings.CoreModel,
			SystemInstruction: system,
			UserContent:       prompt,
			Schema:            client.QnASchema,
			ThinkingBudget:    s.budget(settings.CoreModel, settings),
		})
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		var out client.QnAResult
		if err := client.DecodeStructured(client.QnASchema, raw, &out); err != nil {
			return err
		}

		qna := make([]models.QnA, 0, len(out.Questions))
		seen := make(map[string]struct{}, len(out.Questions))
		for _, q := range out.Questions {
			question := strings.TrimSpace(q.Question)
			id := utils.ContentHash(question)
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			qna = append(qna, models.QnA{ID: id, Question: question, Answer: strings.TrimSpace(q.PredictedAnswer)})
		}
		return s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			if len(sess.QnA) == 0 {
				sess.QnA = qna
			}
		})
	})
}

// AnswerQuestion records the user's answer. Answers are frozen once the plan
// is complete.
func (s *ResearchService) AnswerQuestion(ctx context.Context, id, answer string) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if snap.PlanComplete {
		return notReady("the plan was already written from these answers")
	}
	found := false
	for _, q := range snap.QnA {
		if q.ID == id {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrQuestionNotFound, id)
	}
	return s.sessions.Update(runCtx, func(sess *models.ResearchSession) {
		for i := range sess.QnA {
			if sess.QnA[i].ID == id {
				sess.QnA[i].Answer = strings.TrimSpace(answer)
			}
		}
	})
}

// GeneratePlan streams the research plan. Partial text from an interrupted
// run is replaced on retry.
func (s *ResearchService) GeneratePlan(ctx context.Context) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if snap.Query == "" {
		return notReady("no query submitted")
	}
	if !snap.AllQuestionsAnswered() {
		return notReady("every clarifying question needs an answer")
	}
	if snap.PlanComplete {
		return nil
	}
	settings, caps, err := s.prepare(runCtx)
	if err != nil {
		return err
	}

	return s.runPhase(runCtx, phasePlan, func(ctx context.Context) error {
		data := s.promptData(snap, settings)
		system, err := client.RenderPrompt(client.PromptSystem, data)
		if err != nil {
			return err
		}
		prompt, err := client.RenderPrompt(client.PromptPlan, data)
		if err != nil {
			return err
		}

		s.planStream.Reset()
		if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			sess.Plan = ""
		}); err != nil {
			return err
		}
		final, err := s.streamText(ctx, caps, client.StreamRequest{
			Model:             settings.CoreModel,
			SystemInstruction: system,
			UserContent:       prompt,
			Files:             fileRefs(snap.Files),
			ThinkingBudget:    s.budget(settings.CoreModel, settings),
		}, s.planStream, streamSink{logReasoning: true})
		if err != nil {
			return err
		}
		if strings.TrimSpace(final) == "" {
			return errors.New("model returned an empty plan")
		}
		return s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			sess.Plan = final
			sess.PlanComplete = true
		})
	})
}

// UpdatePlan replaces the plan with user text. Editing stops once tasks exist.
func (s *ResearchService) UpdatePlan(ctx context.Context, text string) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if snap.Query == "" {
		return notReady("no query submitted")
	}
	if len(snap.Tasks) > 0 || snap.ResearchCompletedEarly {
		return notReady("research tasks were already generated from the plan")
	}
	if err := s.sessions.Update(runCtx, func(sess *models.ResearchSession) {
		sess.Plan = text
		sess.PlanComplete = strings.TrimSpace(text) != ""
	}); err != nil {
		return err
	}
	s.sessions.Info(runCtx, "Plan edited")
	return nil
}

// RunTasks runs the tiered research loop.
func (s *ResearchService) RunTasks(ctx context.Context) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if !snap.PlanComplete {
		return notReady("the research plan is not complete")
	}
	settings, caps, err := s.prepare(runCtx)
	if err != nil {
		return err
	}

	return s.runPhase(runCtx, phaseTasks, func(ctx context.Context) error {
		return s.runTiers(ctx, caps, settings)
	})
}

// UploadFile sends a local file to the provider and attaches it to the
// session.
func (s *ResearchService) UploadFile(ctx context.Context, path string) (*models.FileHandle, error) {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	head := make([]byte, 512)
	n, err := io.ReadFull(f, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewind %s: %w", path, err)
	}
	mimeType := utils.DetectMIMEType(path, head[:n])

	caps, err := s.capabilities(runCtx)
	if err != nil {
		return nil, err
	}
	handle, err := caps.UploadFile(runCtx, f, mimeType, filepath.Base(path))
	if err != nil {
		s.sessions.Error(runCtx, "Upload of %s failed: %v", filepath.Base(path), err)
		return nil, err
	}
	if err := s.sessions.Update(runCtx, func(sess *models.ResearchSession) {
		sess.Files = append(sess.Files, *handle)
	}); err != nil {
		return nil, err
	}
	s.sessions.Info(runCtx, "Attached %s (%s)", handle.DisplayName, handle.MIMEType)
	return handle, nil
}

// DeleteFile removes an attachment by provider name or display name.
func (s *ResearchService) DeleteFile(ctx context.Context, name string) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	var handle *models.FileHandle
	for i := range snap.Files {
		if snap.Files[i].Name == name || snap.Files[i].DisplayName == name {
			handle = &snap.Files[i]
			break
		}
	}
	if handle == nil {
		return fmt.Errorf("%w: %s", ErrFileNotFound, name)
	}

	caps, err := s.capabilities(runCtx)
	if err != nil {
		return err
	}
	if err := caps.DeleteFile(runCtx, handle.Name); err != nil {
		return err
	}
	if err := s.sessions.Update(runCtx, func(sess *models.ResearchSession) {
		kept := sess.Files[:0]
		for _, f := range sess.Files {
			if f.Name != handle.Name {
				kept = append(kept, f)
			}
		}
		sess.Files = kept
	}); err != nil {
		return err
	}
	s.sessions.Info(runCtx, "Removed %s", handle.DisplayName)
	return nil
}

// Reset discards the session. Uploaded files are deleted from the provider
// on a best-effort basis.
func (s *ResearchService) Reset(ctx context.Context) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if len(snap.Files) > 0 {
		caps, err := s.capabilities(runCtx)
		if err != nil {
			s.logger.Warn("skipping remote file cleanup", zap.Error(err))
		} else {
			for _, f := range snap.Files {
				if err := caps.DeleteFile(runCtx, f.Name); err != nil {
					s.logger.Warn("failed to delete uploaded file", zap.String("file", f.Name), zap.Error(err))
				}
			}
		}
	}
	s.planStream.Reset()
	s.reportStream.Reset()
	return s.sessions.Reset(runCtx)
}

// ValidateAPIKey checks the stored key against the provider and records the
// outcome in the settings.
func (s *ResearchService) ValidateAPIKey(ctx context.Context) error {
	s.mu.Lock()
	if s.validating {
		s.mu.Unlock()
		return fmt.Errorf("%w: validation still in progress", ErrInvalidCredential)
	}
	s.validating = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.validating = false
		s.mu.Unlock()
	}()

	caps, err := s.capabilities(ctx)
	if err == nil {
		err = caps.ValidateKey(ctx)
	}
	if serr := s.settings.SetAPIKeyValid(err == nil); serr != nil {
		return fmt.Errorf("store key status: %w", serr)
	}
	if err != nil {
		s.clientMu.Lock()
		s.caps, s.capsKey = nil, ""
		s.clientMu.Unlock()
		if errors.Is(err, ErrInvalidCredential) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return nil
}
