package unit_tests

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"deepresearch/internal/concurrency"
	"deepresearch/internal/llm/client"
	"deepresearch/internal/metrics"
	"deepresearch/internal/models"
	"deepresearch/internal/services"
	"deepresearch/internal/streaming"
	"deepresearch/internal/tests/mocks"
)

const (
	testQuery = "Impact of remote work on urban real estate"

	qnaJSON = `{"questions":[
		{"question":"Which regions matter most?","predictedAnswer":"North America"},
		{"question":"What time frame?","predictedAnswer":""},
		{"question":"Residential or commercial?","predictedAnswer":"Commercial"}
	]}`
	leadJSON = `{"tasks":[
		{"title":"Office vacancy","direction":"Collect office vacancy rates since 2019","target":"web"},
		{"title":"Remote work adoption","direction":"Measure the remote work share by city","target":"academic"}
	]}`
	deepJSON = `{"tasks":[
		{"title":"Conversions","direction":"Find office-to-residential conversion projects"},
		{"title":"Municipal budgets","direction":"Estimate property tax shortfalls in large cities"}
	]}`
	noTasksJSON = `{"tasks":[]}`
)

type resolverFunc func(ctx context.Context, uri string) (string, error)

func (f resolverFunc) Resolve(ctx context.Context, uri string) (string, error) { return f(ctx, uri) }

// fakeProvider scripts the model. Deep tier responses are consumed in order;
// once exhausted an empty task list is returned.
type fakeProvider struct {
	mu          sync.Mutex
	deep        []string
	lead        string
	structured  map[string]int
	directions  []string
	refCounter  atomic.Int64
	onTask      func(ctx context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error)
	onPlan      func(ctx context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error)
	onStructure func(req client.StructuredRequest)
}

func newFakeProvider(deep ...string) *fakeProvider {
	return &fakeProvider{deep: deep, lead: leadJSON, structured: map[string]int{}}
}

func (f *fakeProvider) calls(schemaName string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.structured[schemaName]
}

func (f *fakeProvider) taskDirections() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.directions...)
}

func direction(req client.StreamRequest) string {
	start := strings.Index(req.UserContent, "<DIRECTION>")
	end := strings.Index(req.UserContent, "</DIRECTION>")
	if start < 0 || end < start {
		return ""
	}
	return strings.TrimSpace(req.UserContent[start+len("<DIRECTION>") : end])
}

func hasTool(req client.StreamRequest, tool client.Tool) bool {
	for _, t := range req.Tools {
		if t == tool {
			return true
		}
	}
	return false
}

func (f *fakeProvider) caps() *mocks.CapabilitiesMock {
	return &mocks.CapabilitiesMock{
		GenerateStructuredFunc: func(ctx context.Context, req client.StructuredRequest) (json.RawMessage, error) {
			if f.onStructure != nil {
				f.onStructure(req)
			}
			f.mu.Lock()
			defer f.mu.Unlock()
			f.structured[req.Schema.Name]++
			switch req.Schema {
			case client.QnASchema:
				return json.RawMessage(qnaJSON), nil
			case client.LeadTasksSchema:
				return json.RawMessage(f.lead), nil
			case client.DeepTasksSchema:
				if len(f.deep) == 0 {
					return json.RawMessage(noTasksJSON), nil
				}
				next := f.deep[0]
				f.deep = f.deep[1:]
				return json.RawMessage(next), nil
			}
			return nil, fmt.Errorf("unexpected schema %s", req.Schema.Name)
		},
		GenerateStreamingFunc: func(ctx context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
			switch {
			case hasTool(req, client.ToolCodeExecution):
				return mocks.StreamOf(
					client.ReasoningFragment{Text: "outline first"},
					client.TextFragment{Text: "# Report\n\nOffice demand fell."},
					client.ExecutableCodeFragment{Language: "PYTHON", Code: "plot(vacancy)"},
					client.CodeResultFragment{Outcome: "OUTCOME_OK", Output: "figure saved"},
					client.InlineDataFragment{MIMEType: "image/png", Data: []byte{1, 2, 3}},
					client.TextFragment{Text: "\nConclusion."},
					client.GroundingFragment{Refs: []models.GroundingRef{{Title: "Report source", URI: "https://redirect.example/report"}}},
				), nil
			case hasTool(req, client.ToolWebSearch):
				f.mu.Lock()
				f.directions = append(f.directions, direction(req))
				f.mu.Unlock()
				if f.onTask != nil {
					return f.onTask(ctx, req)
				}
				n := f.refCounter.Add(1)
				return mocks.StreamOf(
					client.TextFragment{Text: "Learned about "},
					client.TextFragment{Text: direction(req)},
					client.GroundingFragment{Refs: []models.GroundingRef{
						{Title: "src", URI: fmt.Sprintf("https://redirect.example/%d", n)},
						{Title: "dup", URI: fmt.Sprintf("https://redirect.example/%d", n)},
					}},
				), nil
			default:
				if f.onPlan != nil {
					return f.onPlan(ctx, req)
				}
				return mocks.StreamOf(
					client.TextFragment{Text: "1. Office market\n"},
					client.ReasoningFragment{Text: "consider housing"},
					client.TextFragment{Text: "2. Housing market"},
				), nil
			}
		},
	}
}

type harness struct {
	provider     *fakeProvider
	caps         *mocks.CapabilitiesMock
	repo         *mocks.ResearchSessionRepositoryMock
	settingsRepo *mocks.ResearchSettingsRepositoryMock
	keys         *mocks.APIKeyProviderMock
	metrics      *metrics.Metrics
	sessions     *services.SessionService
	settings     services.ResearchSettingsService
	research     *services.ResearchService
	clients      atomic.Int32
}

func newHarness(t *testing.T, provider *fakeProvider, mutate func(*models.ResearchSettings)) *harness {
	t.Helper()
	ctx := context.Background()

	st := models.DefaultResearchSettings()
	st.Depth, st.Wide, st.ParallelSearch = 3, 2, 2
	st.MinWords = 500
	st.APIKeyValid = true
	if mutate != nil {
		mutate(st)
	}

	h := &harness{
		provider:     provider,
		caps:         provider.caps(),
		repo:         &mocks.ResearchSessionRepositoryMock{},
		settingsRepo: &mocks.ResearchSettingsRepositoryMock{Current: st},
		keys:         &mocks.APIKeyProviderMock{},
		metrics:      metrics.New(),
	}

	catalog := services.NewModelCatalogService()
	require.NoError(t, catalog.Startup(ctx))
	tones := services.NewReportToneService(&mocks.ReportToneRepositoryMock{})
	require.NoError(t, tones.Startup(ctx))
	h.settings = services.NewResearchSettingsService(h.settingsRepo, catalog, tones)
	h.settings.Startup(ctx)

	h.sessions = services.NewSessionService(h.repo, nil, zap.NewNop())
	require.NoError(t, h.sessions.Startup(ctx))

	h.research = services.NewResearchService(services.ResearchOptions{
		Sessions: h.sessions,
		Settings: h.settings,
		Catalog:  catalog,
		Tones:    tones,
		Keys:     h.keys,
		NewClient: func(context.Context, string) (client.Capabilities, error) {
			h.clients.Add(1)
			return h.caps, nil
		},
		Resolver: resolverFunc(func(_ context.Context, uri string) (string, error) {
			return strings.Replace(uri, "redirect", "resolved", 1), nil
		}),
		Metrics:  h.metrics,
		Logger:   zap.NewNop(),
		Throttle: streaming.Options{TickInterval: time.Millisecond, MinEmitInterval: time.Millisecond},
	})
	return h
}

// toPlan drives a fresh session up to a complete plan.
func (h *harness) toPlan(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.research.SubmitQuery(ctx, testQuery))
	for _, q := range h.sessions.Snapshot().QnA {
		if q.Answer == "" {
			require.NoError(t, h.research.AnswerQuestion(ctx, q.ID, "Since 2019"))
		}
	}
	require.NoError(t, h.research.GeneratePlan(ctx))
}

func logsContain(snap *models.ResearchSession, substr string) bool {
	for _, line := range snap.Logs {
		if strings.Contains(line, substr) {
			return true
		}
	}
	return false
}

func TestResearchService_HappyPath(t *testing.T) {
	h := newHarness(t, newFakeProvider(deepJSON), nil)
	ctx := context.Background()

	require.NoError(t, h.research.SubmitQuery(ctx, testQuery))
	snap := h.sessions.Snapshot()
	require.Len(t, snap.QnA, 3)
	assert.NotEmpty(t, snap.ID)
	assert.Equal(t, testQuery, snap.Query)
	assert.Equal(t, "North America", snap.QnA[0].Answer)
	assert.Equal(t, models.StepPlan, snap.CurrentStep)

	err := h.research.GeneratePlan(ctx)
	assert.ErrorIs(t, err, services.ErrPhaseNotReady)

	require.NoError(t, h.research.AnswerQuestion(ctx, snap.QnA[1].ID, "Since 2019"))
	require.NoError(t, h.research.GeneratePlan(ctx))
	snap = h.sessions.Snapshot()
	assert.Equal(t, "1. Office market\n2. Housing market", snap.Plan)
	assert.True(t, snap.PlanComplete)
	assert.Equal(t, models.StepTasks, snap.CurrentStep)

	require.NoError(t, h.research.RunTasks(ctx))
	snap = h.sessions.Snapshot()
	require.Len(t, snap.Tasks, 4)
	assert.Len(t, snap.TasksForTier(1), 2)
	assert.Len(t, snap.TasksForTier(2), 2)
	assert.True(t, snap.AllTasksDone())
	for _, task := range snap.Tasks {
		assert.False(t, task.Processing)
		assert.Equal(t, "Learned about "+task.Direction, task.Learning)
		assert.Len(t, task.GroundingRefs, 1)
	}
	assert.Equal(t, models.TargetAcademic, snap.Tasks[1].Target)
	assert.Equal(t, models.TargetWeb, snap.Tasks[2].Target)
	assert.True(t, snap.ResearchCompletedEarly)
	assert.Equal(t, 2, snap.MaxTierReached)
	assert.Len(t, snap.Sources, 4)
	assert.Equal(t, models.StepReport, snap.CurrentStep)

	require.NoError(t, h.research.WriteReport(ctx))
	snap = h.sessions.Snapshot()
	assert.True(t, snap.ReportComplete)
	assert.True(t, strings.HasPrefix(snap.FinalReport, "# Report\n\nOffice demand fell."))
	assert.Contains(t, snap.FinalReport, "![image](data:image/png;base64,AQID)")
	assert.True(t, strings.HasSuffix(snap.FinalReport, "Conclusion."))
	assert.Contains(t, snap.Sources, "https://resolved.example/report")
	assert.Len(t, snap.Sources, 5)
	assert.True(t, logsContain(snap, "plot(vacancy)"))
	assert.True(t, logsContain(snap, "figure saved"))
	assert.Equal(t, models.StepDone, snap.CurrentStep)
	assert.False(t, snap.IsGenerating())

	assert.Equal(t, int32(1), h.clients.Load())
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.EarlyStops))
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.TaskResults.WithLabelValues("ok")))

	stored := h.repo.Stored(models.SessionStoreName)
	require.NotNil(t, stored)
	assert.Equal(t, snap.FinalReport, stored.FinalReport)
}

func TestResearchService_PhasesAreIdempotent(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, nil)
	ctx := context.Background()
	h.toPlan(t)

	require.NoError(t, h.research.GenerateQnA(ctx))
	require.NoError(t, h.research.GeneratePlan(ctx))
	assert.Equal(t, 1, p.calls("qna.json"))

	require.NoError(t, h.research.RunTasks(ctx))
	require.NoError(t, h.research.RunTasks(ctx))
	assert.Equal(t, 1, p.calls("lead_tasks.json"))
	assert.Equal(t, 1, p.calls("deep_tasks.json"))
	assert.Len(t, p.taskDirections(), 2)
}

func TestResearchService_InvalidCredentialBlocksQnA(t *testing.T) {
	cases := []struct {
		name   string
		valid  bool
		apiKey string
	}{
		{"not validated", false, "test-key"},
		{"missing key", true, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := newFakeProvider()
			h := newHarness(t, p, func(s *models.ResearchSettings) { s.APIKeyValid = tc.valid })
			h.keys.GetApiKeyFunc = func(string) (string, error) { return tc.apiKey, nil }

			err := h.research.SubmitQuery(context.Background(), testQuery)
			assert.ErrorIs(t, err, services.ErrInvalidCredential)

			snap := h.sessions.Snapshot()
			assert.Empty(t, snap.QnA)
			assert.False(t, snap.IsGeneratingQnA)
			assert.True(t, logsContain(snap, "[ERROR] Cannot generate questions"))
			assert.Equal(t, 0, p.calls("qna.json"))
		})
	}
}

func TestResearchService_ConfigErrorTouchesNothing(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, nil)
	ctx := context.Background()
	h.toPlan(t)

	h.settingsRepo.Current.Depth = 0
	before := h.sessions.Snapshot()

	err := h.research.RunTasks(ctx)
	var cfgErr *services.ConfigError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "depth", cfgErr.Field)

	after := h.sessions.Snapshot()
	assert.Equal(t, before, after)
	assert.Equal(t, 0, p.calls("lead_tasks.json"))
}

func TestResearchService_EarlyStopAfterFirstTier(t *testing.T) {
	p := newFakeProvider(noTasksJSON)
	h := newHarness(t, p, func(s *models.ResearchSettings) { s.Depth = 4 })
	ctx := context.Background()
	h.toPlan(t)

	require.NoError(t, h.research.RunTasks(ctx))
	snap := h.sessions.Snapshot()
	assert.True(t, snap.ResearchCompletedEarly)
	assert.Equal(t, 1, snap.MaxTierReached)
	assert.Empty(t, snap.TasksForTier(2))
	assert.True(t, logsContain(snap, "Tier 2 produced no new tasks"))

	progress, err := h.research.Progress()
	require.NoError(t, err)
	assert.Equal(t, 2, progress.Expected)
	assert.Equal(t, 2, progress.Completed)
	assert.InDelta(t, 100.0, progress.Percent, 0.001)

	// Resuming never generates past the tier where research stopped.
	require.NoError(t, h.research.RunTasks(ctx))
	assert.Equal(t, 1, p.calls("deep_tasks.json"))
}

func TestResearchService_TierWaitsForPreviousTier(t *testing.T) {
	p := newFakeProvider(deepJSON)
	var h *harness
	p.onStructure = func(req client.StructuredRequest) {
		if req.Schema != client.DeepTasksSchema {
			return
		}
		snap := h.sessions.Snapshot()
		for _, task := range snap.Tasks {
			assert.True(t, task.Done(), "tier %d task %q not done before next tier", task.Tier, task.Title)
		}
		assert.Contains(t, req.UserContent, "<FINDINGS>")
		assert.Contains(t, req.UserContent, "## Office vacancy")
	}
	h = newHarness(t, p, nil)
	h.toPlan(t)

	require.NoError(t, h.research.RunTasks(context.Background()))
	assert.Equal(t, 2, p.calls("deep_tasks.json"))
}

func TestResearchService_TruncatesExtraTasks(t *testing.T) {
	p := newFakeProvider()
	p.lead = `{"tasks":[
		{"title":"a","direction":"da","target":"web"},
		{"title":"b","direction":"db","target":"web"},
		{"title":"a","direction":"da","target":"web"},
		{"title":"c","direction":"dc","target":"web"}
	]}`
	h := newHarness(t, p, func(s *models.ResearchSettings) { s.Wide = 3 })
	h.toPlan(t)

	require.NoError(t, h.research.RunTasks(context.Background()))
	tier1 := h.sessions.Snapshot().TasksForTier(1)
	require.Len(t, tier1, 2)
	assert.Equal(t, "a", tier1[0].Title)
	assert.Equal(t, "b", tier1[1].Title)
}

func TestResearchService_ResumeAfterTaskFailure(t *testing.T) {
	p := newFakeProvider()
	var failed atomic.Bool
	p.onTask = func(_ context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		if direction(req) == "Measure the remote work share by city" && !failed.Swap(true) {
			return mocks.StreamFailing(&client.ProviderError{Op: "generate stream", Err: errors.New("503 unavailable")},
				client.TextFragment{Text: "half a finding"}), nil
		}
		return mocks.StreamOf(client.TextFragment{Text: "done: " + direction(req)}), nil
	}
	h := newHarness(t, p, nil)
	ctx := context.Background()
	h.toPlan(t)

	err := h.research.RunTasks(ctx)
	require.Error(t, err)
	var agg *concurrency.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.Len(t, agg.Errors, 1)
	var pe *client.ProviderError
	assert.ErrorAs(t, err, &pe)
	assert.NotErrorIs(t, err, services.ErrCancelled)

	snap := h.sessions.Snapshot()
	require.Len(t, snap.Tasks, 2)
	assert.Equal(t, "done: Collect office vacancy rates since 2019", snap.Tasks[0].Learning)
	assert.Empty(t, snap.Tasks[1].Learning)
	assert.False(t, snap.Tasks[1].Processing)
	assert.False(t, snap.IsGeneratingTasks)
	assert.Equal(t, 0, p.calls("deep_tasks.json"))
	assert.True(t, logsContain(snap, "[ERROR] Research tasks failed"))

	err = h.research.WriteReport(ctx)
	assert.ErrorIs(t, err, services.ErrPhaseNotReady)

	require.NoError(t, h.research.RunTasks(ctx))
	snap = h.sessions.Snapshot()
	assert.True(t, snap.AllTasksDone())
	assert.Equal(t, []string{
		"Collect office vacancy rates since 2019",
		"Measure the remote work share by city",
		"Measure the remote work share by city",
	}, sortedPrefix(p.taskDirections()))
	assert.Equal(t, 1, p.calls("lead_tasks.json"))
}

// sortedPrefix orders the first two directions, whose order depends on
// scheduling, and keeps the rest as recorded.
func sortedPrefix(dirs []string) []string {
	if len(dirs) >= 2 && dirs[0] > dirs[1] {
		dirs[0], dirs[1] = dirs[1], dirs[0]
	}
	return dirs
}

func TestResearchService_CancelMidTier(t *testing.T) {
	p := newFakeProvider()
	p.lead = `{"tasks":[
		{"title":"a","direction":"da","target":"web"},
		{"title":"b","direction":"db","target":"web"},
		{"title":"c","direction":"dc","target":"web"}
	]}`
	started := make(chan struct{}, 4)
	p.onTask = func(ctx context.Context, _ client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		started <- struct{}{}
		return mocks.StreamUntilDone(ctx, client.TextFragment{Text: "partial"}), nil
	}
	h := newHarness(t, p, func(s *models.ResearchSettings) { s.Wide = 3 })
	ctx := context.Background()
	h.toPlan(t)

	assert.False(t, h.research.Cancel(ctx))

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-started
		<-started
		assert.ErrorIs(t, h.research.Reset(ctx), services.ErrRunInProgress)
		assert.ErrorIs(t, h.research.GeneratePlan(ctx), services.ErrRunInProgress)
		assert.True(t, h.research.Cancel(ctx))
	}()

	err := h.research.RunTasks(ctx)
	<-done
	require.Error(t, err)
	assert.ErrorIs(t, err, services.ErrCancelled)
	assert.ErrorIs(t, err, context.Canceled)

	var agg *concurrency.AggregateError
	require.ErrorAs(t, err, &agg)
	assert.ErrorIs(t, agg.Errors[2], concurrency.ErrNotStarted)

	snap := h.sessions.Snapshot()
	require.Len(t, snap.Tasks, 3)
	for _, task := range snap.Tasks {
		assert.Empty(t, task.Learning)
		assert.False(t, task.Processing)
	}
	assert.Len(t, p.taskDirections(), 2)
	assert.Equal(t, 0, p.calls("deep_tasks.json"))
	assert.False(t, snap.IsGeneratingTasks)
	assert.False(t, snap.IsCancelling)
	assert.Equal(t, testQuery, snap.Query)
	assert.Equal(t, 1, snap.MaxTierReached)
	assert.True(t, logsContain(snap, "Research tasks stopped"))
	assert.False(t, h.research.Running())
}

func TestResearchService_CancelBlockedUploadClearsFlag(t *testing.T) {
	h := newHarness(t, newFakeProvider(), nil)
	uploading := make(chan struct{})
	h.caps.UploadFileFunc = func(ctx context.Context, _ io.Reader, _, _ string) (*models.FileHandle, error) {
		close(uploading)
		<-ctx.Done()
		return nil, ctx.Err()
	}
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "slow.pdf")
	require.NoError(t, os.WriteFile(path, []byte("%PDF-1.4"), 0o600))

	done := make(chan error, 1)
	go func() {
		_, err := h.research.UploadFile(ctx, path)
		done <- err
	}()
	<-uploading
	assert.True(t, h.research.Cancel(ctx))
	err := <-done

	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, h.research.Running())
	snap := h.sessions.Snapshot()
	assert.False(t, snap.IsCancelling)
	assert.Empty(t, snap.Files)
	assert.False(t, h.repo.Stored(models.SessionStoreName).IsCancelling)
	assert.False(t, h.research.Cancel(ctx))
}

func TestResearchService_PlanFlushedWhenStreamPanics(t *testing.T) {
	p := newFakeProvider()
	long := strings.Repeat("Plan section text. ", 100)
	p.onPlan = func(context.Context, client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		src := schema.StreamReaderFromArray([]string{long, "boom"})
		return schema.StreamReaderWithConvert(src, func(s string) (client.Fragment, error) {
			if s == "boom" {
				panic("decoder crashed")
			}
			return client.TextFragment{Text: s}, nil
		}), nil
	}
	h := newHarness(t, p, nil)
	ctx := context.Background()
	require.NoError(t, h.research.SubmitQuery(ctx, testQuery))
	for _, q := range h.sessions.Snapshot().QnA {
		require.NoError(t, h.research.AnswerQuestion(ctx, q.ID, "any"))
	}

	assert.PanicsWithValue(t, "decoder crashed", func() {
		_ = h.research.GeneratePlan(ctx)
	})
	snap := h.sessions.Snapshot()
	assert.Equal(t, long, snap.Plan)
	assert.False(t, snap.PlanComplete)
	assert.False(t, h.research.Running())
}

func TestResearchService_TaskReasoningIsLogged(t *testing.T) {
	p := newFakeProvider()
	p.onTask = func(_ context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		return mocks.StreamOf(
			client.ReasoningFragment{Text: "check city registries"},
			client.TextFragment{Text: "found " + direction(req)},
		), nil
	}
	h := newHarness(t, p, nil)
	h.toPlan(t)

	require.NoError(t, h.research.RunTasks(context.Background()))
	snap := h.sessions.Snapshot()
	assert.True(t, logsContain(snap, "[DEBUG] Reasoning: check city registries"))
	for _, task := range snap.Tasks {
		assert.NotContains(t, task.Learning, "check city registries")
	}
}

func TestResearchService_PlanKeepsPartialTextOnFailure(t *testing.T) {
	p := newFakeProvider()
	var attempts atomic.Int32
	p.onPlan = func(context.Context, client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		if attempts.Add(1) == 1 {
			return mocks.StreamFailing(errors.New("connection reset"), client.TextFragment{Text: "1. Partial section"}), nil
		}
		return mocks.StreamOf(client.TextFragment{Text: "1. Full plan"}), nil
	}
	h := newHarness(t, p, nil)
	ctx := context.Background()
	require.NoError(t, h.research.SubmitQuery(ctx, testQuery))
	for _, q := range h.sessions.Snapshot().QnA {
		require.NoError(t, h.research.AnswerQuestion(ctx, q.ID, "any"))
	}

	require.Error(t, h.research.GeneratePlan(ctx))
	snap := h.sessions.Snapshot()
	assert.Equal(t, "1. Partial section", snap.Plan)
	assert.False(t, snap.PlanComplete)
	assert.False(t, snap.IsGeneratingPlan)
	assert.ErrorIs(t, h.research.RunTasks(ctx), services.ErrPhaseNotReady)

	require.NoError(t, h.research.GeneratePlan(ctx))
	snap = h.sessions.Snapshot()
	assert.Equal(t, "1. Full plan", snap.Plan)
	assert.True(t, snap.PlanComplete)
}

func TestResearchService_UserEdits(t *testing.T) {
	h := newHarness(t, newFakeProvider(), nil)
	ctx := context.Background()

	assert.ErrorIs(t, h.research.UpdatePlan(ctx, "x"), services.ErrPhaseNotReady)
	assert.ErrorIs(t, h.research.SubmitQuery(ctx, "   "), services.ErrPhaseNotReady)

	require.NoError(t, h.research.SubmitQuery(ctx, testQuery))
	assert.ErrorIs(t, h.research.SubmitQuery(ctx, "another topic"), services.ErrPhaseNotReady)
	assert.ErrorIs(t, h.research.AnswerQuestion(ctx, "nope", "x"), services.ErrQuestionNotFound)

	require.NoError(t, h.research.UpdatePlan(ctx, "1. My own plan"))
	snap := h.sessions.Snapshot()
	assert.True(t, snap.PlanComplete)
	assert.ErrorIs(t, h.research.AnswerQuestion(ctx, snap.QnA[0].ID, "late"), services.ErrPhaseNotReady)

	require.NoError(t, h.research.RunTasks(ctx))
	assert.ErrorIs(t, h.research.UpdatePlan(ctx, "too late"), services.ErrPhaseNotReady)
	assert.Equal(t, "1. My own plan", h.sessions.Snapshot().Plan)
}

func TestResearchService_FilesAndReset(t *testing.T) {
	p := newFakeProvider()
	h := newHarness(t, p, nil)
	var deleted []string
	h.caps.DeleteFileFunc = func(_ context.Context, name string) error {
		deleted = append(deleted, name)
		return nil
	}
	var planFiles []client.FileRef
	p.onPlan = func(_ context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
		planFiles = req.Files
		assert.Contains(t, req.UserContent, "a.pdf, b.pdf")
		return mocks.StreamOf(client.TextFragment{Text: "1. Read the files"}), nil
	}
	ctx := context.Background()

	dir := t.TempDir()
	for _, name := range []string{"a.pdf", "b.pdf"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("%PDF-1.4"), 0o600))
		handle, err := h.research.UploadFile(ctx, filepath.Join(dir, name))
		require.NoError(t, err)
		assert.Equal(t, "application/pdf", handle.MIMEType)
	}
	require.Len(t, h.sessions.Snapshot().Files, 2)

	h.toPlan(t)
	assert.Len(t, planFiles, 2)

	require.NoError(t, h.research.DeleteFile(ctx, "a.pdf"))
	assert.ErrorIs(t, h.research.DeleteFile(ctx, "a.pdf"), services.ErrFileNotFound)
	require.Len(t, h.sessions.Snapshot().Files, 1)

	require.NoError(t, h.research.Reset(ctx))
	assert.Equal(t, []string{"files/a.pdf", "files/b.pdf"}, deleted)

	snap := h.sessions.Snapshot()
	assert.Empty(t, snap.Query)
	assert.Empty(t, snap.QnA)
	assert.Empty(t, snap.Files)
	assert.Equal(t, models.StepIdle, snap.CurrentStep)
}

func TestResearchService_ValidateAPIKey(t *testing.T) {
	h := newHarness(t, newFakeProvider(), func(s *models.ResearchSettings) { s.APIKeyValid = false })
	ctx := context.Background()

	require.NoError(t, h.research.ValidateAPIKey(ctx))
	st, err := h.settings.Get()
	require.NoError(t, err)
	assert.True(t, st.APIKeyValid)

	h.caps.ValidateKeyFunc = func(context.Context) error { return errors.New("API key not valid") }
	err = h.research.ValidateAPIKey(ctx)
	assert.ErrorIs(t, err, services.ErrInvalidCredential)
	st, err = h.settings.Get()
	require.NoError(t, err)
	assert.False(t, st.APIKeyValid)
}

func TestComputeProgress(t *testing.T) {
	snap := models.NewResearchSession()
	snap.Tasks = []models.ResearchTask{
		{ID: "1", Tier: 1, Learning: "x"},
		{ID: "2", Tier: 1, Learning: "y"},
		{ID: "3", Tier: 2, Learning: "z"},
		{ID: "4", Tier: 2},
	}

	p := services.ComputeProgress(snap, 3, 2)
	assert.Equal(t, 6, p.Expected)
	assert.Equal(t, 3, p.Completed)
	assert.InDelta(t, 50.0, p.Percent, 0.001)
	require.Len(t, p.Tiers, 2)
	assert.True(t, p.Tiers[0].Complete)
	assert.False(t, p.Tiers[1].Complete)

	snap.ResearchCompletedEarly = true
	p = services.ComputeProgress(snap, 3, 2)
	assert.Equal(t, 4, p.Expected)
	assert.InDelta(t, 75.0, p.Percent, 0.001)
}
