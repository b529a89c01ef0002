package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"deepresearch/internal/events"
	"deepresearch/internal/llm/client"
	"deepresearch/internal/models"
	"deepresearch/internal/streaming"
)

// streamSink receives the decoded fragments of one streaming call.
type streamSink struct {
	onText func(string)
	// images renders inline data as markdown images through onText.
	images       bool
	refs         *[]models.GroundingRef
	logReasoning bool
}

// consume reads the stream until it ends, the provider fails or ctx is done.
func (s *ResearchService) consume(ctx context.Context, caps client.Capabilities, req client.StreamRequest, sink streamSink) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	reader, err := caps.GenerateStreaming(ctx, req)
	if err != nil {
		return err
	}
	defer reader.Close()

	var reasoning strings.Builder
	defer func() {
		if sink.logReasoning && reasoning.Len() > 0 {
			s.sessions.Log(ctx, events.NewDebug("Reasoning: "+strings.TrimSpace(reasoning.String())))
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		frag, err := reader.Recv()
		if errors.Is(err, io.EOF) {
			return ctx.Err()
		}
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		switch f := frag.(type) {
		case client.TextFragment:
			s.metrics.RecordFragment("text")
			if sink.onText != nil {
				sink.onText(f.Text)
			}
		case client.ReasoningFragment:
			s.metrics.RecordFragment("reasoning")
			reasoning.WriteString(f.Text)
		case client.InlineDataFragment:
			s.metrics.RecordFragment("inline_data")
			if sink.images && sink.onText != nil {
				sink.onText(markdownImage(f.MIMEType, f.Data))
			}
		case client.ExecutableCodeFragment:
			s.metrics.RecordFragment("code")
			s.sessions.Info(ctx, "Executing code:\n```%s\n%s\n```", strings.ToLower(f.Language), strings.TrimSpace(f.Code))
		case client.CodeResultFragment:
			s.metrics.RecordFragment("code_result")
			s.sessions.Info(ctx, "Code result (%s):\n%s", f.Outcome, strings.TrimSpace(f.Output))
		case client.GroundingFragment:
			s.metrics.RecordFragment("grounding")
			if sink.refs != nil {
				*sink.refs = append(*sink.refs, f.Refs...)
			}
		default:
			return fmt.Errorf("unexpected stream fragment %T", frag)
		}
	}
}

// streamText feeds the text of one streaming call through t. t is finished on
// every exit and final holds the flushed text.
func (s *ResearchService) streamText(ctx context.Context, caps client.Capabilities, req client.StreamRequest, t *streaming.Throttle, sink streamSink) (final string, err error) {
	defer func() {
		final = t.Finish()
	}()
	sink.onText = t.AddChunk
	return "", s.consume(ctx, caps, req, sink)
}

func markdownImage(mimeType string, data []byte) string {
	return fmt.Sprintf("\n\n![image](data:%s;base64,%s)\n\n", mimeType, base64.StdEncoding.EncodeToString(data))
}

func dedupeRefs(refs []models.GroundingRef) []models.GroundingRef {
	seen := make(map[string]struct{}, len(refs))
	out := make([]models.GroundingRef, 0, len(refs))
	for _, r := range refs {
		if _, dup := seen[r.URI]; dup {
			continue
		}
		seen[r.URI] = struct{}{}
		out = append(out, r)
	}
	return out
}

// addSources resolves grounding URIs into session sources. Without a
// resolver no sources are recorded.
func (s *ResearchService) addSources(ctx context.Context, refs []models.GroundingRef) {
	if s.resolver == nil || len(refs) == 0 {
		return
	}
	var urls []string
	for _, r := range refs {
		u, err := s.resolver.Resolve(ctx, r.URI)
		if err != nil {
			s.logger.Debug("source resolution stopped", zap.Error(err))
			break
		}
		if u != "" {
			urls = append(urls, u)
		}
	}
	if err := s.sessions.AddSources(context.WithoutCancel(ctx), urls); err != nil {
		s.logger.Warn("failed to store sources", zap.Error(err))
	}
}
