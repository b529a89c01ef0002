package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"

	"deepresearch/internal/models"

	"github.com/cloudwego/eino/schema"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const streamBuffer = 16

// GeminiClient implements Capabilities on the Gemini API.
type GeminiClient struct {
	client *genai.Client
	logger *zap.Logger
}

func NewGeminiClient(ctx context.Context, apiKey string, logger *zap.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, ErrMissingAPIKey
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, providerErr("create client", err)
	}
	return &GeminiClient{client: c, logger: logger.Named("gemini")}, nil
}

func thinkingConfig(budget int, includeThoughts bool) *genai.ThinkingConfig {
	if budget == 0 && !includeThoughts {
		return nil
	}
	cfg := &genai.ThinkingConfig{IncludeThoughts: includeThoughts}
	if budget != 0 {
		cfg.ThinkingBudget = genai.Ptr(int32(budget))
	}
	return cfg
}

func systemContent(text string) *genai.Content {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	return genai.NewContentFromText(text, genai.RoleUser)
}

func (c *GeminiClient) GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error) {
	if req.Schema == nil {
		return nil, errors.New("structured request requires a schema")
	}
	cfg := &genai.GenerateContentConfig{
		SystemInstruction:  systemContent(req.SystemInstruction),
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: req.Schema.Document(),
		ThinkingConfig:     thinkingConfig(req.ThinkingBudget, false),
	}

	c.logger.Debug("generate structured", zap.String("model", req.Model), zap.String("schema", req.Schema.Name))
	resp, err := c.client.Models.GenerateContent(ctx, req.Model, genai.Text(req.UserContent), cfg)
	if err != nil {
		return nil, providerErr("generate structured", err)
	}
	return json.RawMessage(resp.Text()), nil
}

func (c *GeminiClient) GenerateStreaming(ctx context.Context, req StreamRequest) (*schema.StreamReader[Fragment], error) {
	parts := make([]*genai.Part, 0, len(req.Files)+1)
	for _, f := range req.Files {
		parts = append(parts, genai.NewPartFromURI(f.URI, f.MIMEType))
	}
	parts = append(parts, genai.NewPartFromText(req.UserContent))
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: systemContent(req.SystemInstruction),
		ThinkingConfig:    thinkingConfig(req.ThinkingBudget, true),
	}
	for _, t := range req.Tools {
		switch t {
		case ToolWebSearch:
			cfg.Tools = append(cfg.Tools, &genai.Tool{GoogleSearch: &genai.GoogleSearch{}})
		case ToolCodeExecution:
			cfg.Tools = append(cfg.Tools, &genai.Tool{CodeExecution: &genai.ToolCodeExecution{}})
		}
	}

	c.logger.Debug("generate streaming", zap.String("model", req.Model), zap.Int("files", len(req.Files)), zap.Int("tools", len(cfg.Tools)))
	reader, writer := schema.Pipe[Fragment](streamBuffer)
	go func() {
		defer writer.Close()
		for resp, err := range c.client.Models.GenerateContentStream(ctx, req.Model, contents, cfg) {
			if err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					err = errors.Join(ctxErr, err)
				}
				writer.Send(nil, providerErr("generate stream", err))
				return
			}
			for _, frag := range fragmentsFromResponse(resp) {
				if closed := writer.Send(frag, nil); closed {
					return
				}
			}
		}
	}()
	return reader, nil
}

// fragmentsFromResponse maps the first candidate of a streamed response to
// fragments, grounding last.
func fragmentsFromResponse(resp *genai.GenerateContentResponse) []Fragment {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0] == nil {
		return nil
	}
	cand := resp.Candidates[0]

	var out []Fragment
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			switch {
			case part.Thought && part.Text != "":
				out = append(out, ReasoningFragment{Text: part.Text})
			case part.Text != "":
				out = append(out, TextFragment{Text: part.Text})
			case part.InlineData != nil:
				out = append(out, InlineDataFragment{MIMEType: part.InlineData.MIMEType, Data: part.InlineData.Data})
			case part.ExecutableCode != nil:
				out = append(out, ExecutableCodeFragment{
					Language: string(part.ExecutableCode.Language),
					Code:     part.ExecutableCode.Code,
				})
			case part.CodeExecutionResult != nil:
				out = append(out, CodeResultFragment{
					Outcome: string(part.CodeExecutionResult.Outcome),
					Output:  part.CodeExecutionResult.Output,
				})
			}
		}
	}

	if gm := cand.GroundingMetadata; gm != nil {
		var refs []models.GroundingRef
		for _, chunk := range gm.GroundingChunks {
			if chunk == nil || chunk.Web == nil || chunk.Web.URI == "" {
				continue
			}
			refs = append(refs, models.GroundingRef{Title: chunk.Web.Title, URI: chunk.Web.URI})
		}
		if len(refs) > 0 {
			out = append(out, GroundingFragment{Refs: refs})
		}
	}
	return out
}

func (c *GeminiClient) UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (*models.FileHandle, error) {
	f, err := c.client.Files.Upload(ctx, r, &genai.UploadFileConfig{
		MIMEType:    mimeType,
		DisplayName: displayName,
	})
	if err != nil {
		return nil, providerErr("upload file", err)
	}
	handle := &models.FileHandle{
		Name:           f.Name,
		DisplayName:    f.DisplayName,
		MIMEType:       f.MIMEType,
		ExpirationTime: f.ExpirationTime,
		URI:            f.URI,
	}
	if f.SizeBytes != nil {
		handle.SizeBytes = *f.SizeBytes
	}
	if handle.DisplayName == "" {
		handle.DisplayName = displayName
	}
	if handle.MIMEType == "" {
		handle.MIMEType = mimeType
	}
	return handle, nil
}

func (c *GeminiClient) DeleteFile(ctx context.Context, name string) error {
	if _, err := c.client.Files.Delete(ctx, name, nil); err != nil {
		return providerErr("delete file", err)
	}
	return nil
}

// ValidateKey performs the cheapest authenticated call available.
func (c *GeminiClient) ValidateKey(ctx context.Context) error {
	if _, err := c.client.Models.List(ctx, &genai.ListModelsConfig{PageSize: 1}); err != nil {
		return providerErr("validate key", err)
	}
	return nil
}
