package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/llm/client"
	"deepresearch/internal/models"
)

// WriteReport streams the final report from every task learning. Charts
// produced by code execution are embedded as data-URI images.
func (s *ResearchService) WriteReport(ctx context.Context) error {
	runCtx, release, err := s.claim(ctx)
	if err != nil {
		return err
	}
	defer release()

	snap := s.sessions.Snapshot()
	if len(snap.Tasks) == 0 && !snap.ResearchCompletedEarly {
		return notReady("research tasks have not run")
	}
	if !snap.AllTasksDone() {
		pending := 0
		for _, t := range snap.Tasks {
			if !t.Done() {
				pending++
			}
		}
		return notReady("%d research task(s) have no findings yet", pending)
	}
	if snap.ReportComplete {
		return nil
	}
	settings, caps, err := s.prepare(runCtx)
	if err != nil {
		return err
	}
	tone, err := s.tones.GetTone(settings.ReportTone)
	if err != nil {
		return &ConfigError{Field: "reportTone", Reason: err.Error()}
	}

	return s.runPhase(runCtx, phaseReport, func(ctx context.Context) error {
		data := s.promptData(snap, settings)
		data.ToneInstruction = tone.Instruction
		system, err := client.RenderPrompt(client.PromptSystem, data)
		if err != nil {
			return err
		}
		prompt, err := client.RenderPrompt(client.PromptReport, data)
		if err != nil {
			return err
		}

		s.reportStream.Reset()
		if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			sess.FinalReport = ""
		}); err != nil {
			return err
		}
		var refs []models.GroundingRef
		final, err := s.streamText(ctx, caps, client.StreamRequest{
			Model:             settings.CoreModel,
			SystemInstruction: system,
			UserContent:       prompt,
			Files:             fileRefs(snap.Files),
			Tools:             []client.Tool{client.ToolWebSearch, client.ToolCodeExecution},
			ThinkingBudget:    s.budget(settings.CoreModel, settings),
		}, s.reportStream, streamSink{images: true, refs: &refs, logReasoning: true})
		if err != nil {
			return err
		}
		if strings.TrimSpace(final) == "" {
			return errors.New("model returned an empty report")
		}
		if err := s.sessions.Update(ctx, func(sess *models.ResearchSession) {
			sess.FinalReport = final
			sess.ReportComplete = true
		}); err != nil {
			return err
		}
		s.addSources(ctx, dedupeRefs(refs))
		s.sessions.Info(ctx, "Report written: %s", wordCount(final))
		return nil
	})
}

func wordCount(text string) string {
	return fmt.Sprintf("%d words", len(strings.Fields(text)))
}
