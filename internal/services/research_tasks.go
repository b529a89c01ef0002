package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"deepresearch/internal/concurrency"
	"deepresearch/internal/events"
	"deepresearch/internal/llm/client"
	"deepresearch/internal/models"
	"deepresearch/internal/utils"
)

var errEmptyLearning = errors.New("research call returned no findings")

// runTiers generates and executes tiers in order. A tier is only generated
// once every task of the previous tier has a learning.
func (s *ResearchService) runTiers(ctx context.Context, caps client.Capabilities, settings *models.ResearchSettings) error {
	for tier := 1; tier <= settings.Depth; tier++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		snap := s.sessions.Snapshot()
		if snap.ResearchCompletedEarly && tier > snap.MaxTierReached {
			return nil
		}

		if len(snap.TasksForTier(tier)) == 0 {
			stop, err := s.generateTier(ctx, caps, settings, snap, tier)
			if err != nil {
				return err
			}
			if stop {
				return nil
			}
		}

		if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			if tier > sess.MaxTierReached {
				sess.MaxTierReached = tier
			}
		}); err != nil {
			return err
		}
		if err := s.runTier(ctx, caps, settings, tier); err != nil {
			return err
		}
	}
	return nil
}

// generateTier asks for the tasks of tier and inserts them. It reports stop
// when no new task came back, which ends the research early.
func (s *ResearchService) generateTier(ctx context.Context, caps client.Capabilities, settings *models.ResearchSettings, snap *models.ResearchSession, tier int) (bool, error) {
	schema, promptName, kind := client.LeadTasksSchema, client.PromptLeadTasks, "lead"
	if tier > 1 {
		schema, promptName, kind = client.DeepTasksSchema, client.PromptDeepTasks, "deep"
	}

	data := s.promptData(snap, settings)
	data.Tier = tier
	system, err := client.RenderPrompt(client.PromptSystem, data)
	if err != nil {
		return false, err
	}
	prompt, err := client.RenderPrompt(promptName, data)
	if err != nil {
		return false, err
	}

	s.sessions.Info(ctx, "Generating tier %d tasks", tier)
	raw, err := caps.GenerateStructured(ctx, client.StructuredRequest{
		Model:             settings.CoreModel,
		SystemInstruction: system,
		UserContent:       prompt,
		Schema:            schema,
		ThinkingBudget:    s.budget(settings.CoreModel, settings),
	})
	if err != nil {
		return false, err
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var out client.TasksResult
	if err := client.DecodeStructured(schema, raw, &out); err != nil {
		return false, err
	}

	items := out.Tasks
	if len(items) > settings.Wide {
		s.sessions.Warn(ctx, "Tier %d: keeping %d of %d proposed tasks", tier, settings.Wide, len(items))
		items = items[:settings.Wide]
	}
	tasks := make([]models.ResearchTask, 0, len(items))
	for _, it := range items {
		title, direction := strings.TrimSpace(it.Title), strings.TrimSpace(it.Direction)
		target := it.Target
		if target == "" {
			target = models.TargetWeb
		}
		tasks = append(tasks, models.ResearchTask{
			ID:        utils.ContentHash(title, direction),
			Tier:      tier,
			Title:     title,
			Direction: direction,
			Target:    target,
		})
	}
	s.metrics.RecordTasksGenerated(kind, len(tasks))

	added, err := s.sessions.AddTasks(ctx, tasks)
	if err != nil {
		return false, err
	}
	if added == 0 {
		if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			sess.ResearchCompletedEarly = true
			sess.MaxTierReached = tier - 1
		}); err != nil {
			return false, err
		}
		s.metrics.RecordEarlyStop()
		s.sessions.Success(ctx, "Tier %d produced no new tasks; research completed after %d tier(s)", tier, tier-1)
		return true, nil
	}
	s.sessions.Info(ctx, "Tier %d: %d task(s) queued", tier, added)
	return false, nil
}

// runTier executes the unfinished tasks of tier with bounded parallelism.
// Completed tasks are kept when siblings fail.
func (s *ResearchService) runTier(ctx context.Context, caps client.Capabilities, settings *models.ResearchSettings, tier int) error {
	snap := s.sessions.Snapshot()
	var pending []models.ResearchTask
	for _, t := range snap.TasksForTier(tier) {
		if !t.Done() {
			pending = append(pending, t)
		}
	}
	if len(pending) == 0 {
		return nil
	}

	s.sessions.Info(ctx, "Tier %d: researching %d task(s), %d at a time", tier, len(pending), settings.ParallelSearch)
	_, err := concurrency.Run(ctx, pending, settings.ParallelSearch,
		func(ctx context.Context, _ int, task models.ResearchTask) (struct{}, error) {
			return struct{}{}, s.researchTask(ctx, caps, settings, snap.Files, task)
		})
	s.publishProgress(context.WithoutCancel(ctx), settings)
	return err
}

func (s *ResearchService) researchTask(ctx context.Context, caps client.Capabilities, settings *models.ResearchSettings, files []models.FileHandle, task models.ResearchTask) error {
	if err := s.sessions.UpdateTask(ctx, task.ID, func(t *models.ResearchTask) {
		t.Processing = true
	}); err != nil {
		return err
	}
	s.metrics.TaskStarted()
	s.publishProgress(ctx, settings)
	s.sessions.Info(ctx, "Researching: %s", task.Title)

	learning, refs, err := s.executeTask(ctx, caps, settings, files, task)
	if err == nil {
		// Nothing is committed once the run is cancelled.
		err = ctx.Err()
	}
	if err != nil {
		status := "error"
		if isCancellation(ctx, err) {
			status = "cancelled"
		} else {
			s.sessions.Error(ctx, "Task %q failed: %v", task.Title, err)
		}
		s.metrics.TaskFinished(status)
		if uerr := s.sessions.UpdateTask(ctx, task.ID, func(t *models.ResearchTask) {
			t.Processing = false
		}); uerr != nil {
			s.logger.Warn("failed to clear task state", zap.String("task", task.ID), zap.Error(uerr))
		}
		return fmt.Errorf("task %q: %w", task.Title, err)
	}

	if err := s.sessions.UpdateTask(ctx, task.ID, func(t *models.ResearchTask) {
		t.Learning = learning
		t.GroundingRefs = refs
		t.Processing = false
	}); err != nil {
		return err
	}
	s.metrics.TaskFinished("ok")
	s.addSources(ctx, refs)
	s.sessions.Success(ctx, "Completed: %s", task.Title)
	s.publishProgress(ctx, settings)
	return nil
}

// executeTask performs the web-grounded research call for one task.
func (s *ResearchService) executeTask(ctx context.Context, caps client.Capabilities, settings *models.ResearchSettings, files []models.FileHandle, task models.ResearchTask) (string, []models.GroundingRef, error) {
	data := client.PromptData{
		Date:      s.now().Format(time.DateOnly),
		Direction: task.Direction,
	}
	system, err := client.RenderPrompt(client.PromptSystem, data)
	if err != nil {
		return "", nil, err
	}
	prompt, err := client.RenderPrompt(client.PromptResearchTask, data)
	if err != nil {
		return "", nil, err
	}
	req := client.StreamRequest{
		Model:             settings.TaskModel,
		SystemInstruction: system,
		UserContent:       prompt,
		Tools:             []client.Tool{client.ToolWebSearch},
		ThinkingBudget:    s.budget(settings.TaskModel, settings),
	}
	if task.Target == models.TargetFile {
		req.Files = fileRefs(files)
	}

	var (
		text strings.Builder
		refs []models.GroundingRef
	)
	if err := s.consume(ctx, caps, req, streamSink{
		onText:       func(chunk string) { text.WriteString(chunk) },
		refs:         &refs,
		logReasoning: true,
	}); err != nil {
		return "", nil, err
	}
	learning := strings.TrimSpace(text.String())
	if learning == "" {
		return "", nil, errEmptyLearning
	}
	return learning, dedupeRefs(refs), nil
}

// TierProgress summarises one tier.
type TierProgress struct {
	Tier     int  `json:"tier"`
	Total    int  `json:"total"`
	Done     int  `json:"done"`
	Complete bool `json:"complete"`
}

// ResearchProgress summarises the task phase.
type ResearchProgress struct {
	Completed      int            `json:"completed"`
	Expected       int            `json:"expected"`
	Percent        float64        `json:"percent"`
	CompletedEarly bool           `json:"completedEarly"`
	Tiers          []TierProgress `json:"tiers"`
}

// Progress reports task completion against the configured depth and width.
func (s *ResearchService) Progress() (*ResearchProgress, error) {
	settings, err := s.settings.Get()
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	p := ComputeProgress(s.sessions.Snapshot(), settings.Depth, settings.Wide)
	return &p, nil
}

// ComputeProgress expects depth*wide tasks unless the research completed
// early, in which case the generated tasks are all there will be.
func ComputeProgress(snap *models.ResearchSession, depth, wide int) ResearchProgress {
	p := ResearchProgress{
		Expected:       depth * wide,
		CompletedEarly: snap.ResearchCompletedEarly,
	}
	if snap.ResearchCompletedEarly || len(snap.Tasks) > p.Expected {
		p.Expected = len(snap.Tasks)
	}

	maxTier := 0
	for _, t := range snap.Tasks {
		if t.Done() {
			p.Completed++
		}
		if t.Tier > maxTier {
			maxTier = t.Tier
		}
	}
	for tier := 1; tier <= maxTier; tier++ {
		tp := TierProgress{Tier: tier}
		for _, t := range snap.TasksForTier(tier) {
			tp.Total++
			if t.Done() {
				tp.Done++
			}
		}
		tp.Complete = tp.Total > 0 && tp.Done == tp.Total
		p.Tiers = append(p.Tiers, tp)
	}

	switch {
	case p.Expected > 0:
		p.Percent = float64(p.Completed) / float64(p.Expected) * 100
	case snap.ResearchCompletedEarly:
		p.Percent = 100
	}
	return p
}

func (s *ResearchService) publishProgress(ctx context.Context, settings *models.ResearchSettings) {
	snap := s.sessions.Snapshot()
	p := ComputeProgress(snap, settings.Depth, settings.Wide)

	items := make([]events.TaskProgressItem, 0, len(snap.Tasks))
	for _, t := range snap.Tasks {
		status := events.TaskPending
		switch {
		case t.Done():
			status = events.TaskDone
		case t.Processing:
			status = events.TaskProcessing
		}
		items = append(items, events.TaskProgressItem{ID: t.ID, Tier: t.Tier, Title: t.Title, Status: status})
	}
	s.emitter.Progress(ctx, events.ProgressEvent{
		ID:         snap.ID,
		Completed:  p.Completed,
		Expected:   p.Expected,
		Percent:    p.Percent,
		Items:      items,
		Timestamp:  s.now(),
		SessionKey: snap.ID,
	})
}
