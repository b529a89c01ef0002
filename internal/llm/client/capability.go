package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"deepresearch/internal/models"

	"github.com/cloudwego/eino/schema"
)

// Tool enables a provider-side capability for a streaming call.
type Tool string

const (
	ToolWebSearch     Tool = "webSearch"
	ToolCodeExecution Tool = "codeExecution"
)

// ErrMissingAPIKey is returned when a client is built without a credential.
var ErrMissingAPIKey = errors.New("api key is required")

// ProviderError wraps every failure coming back from the AI provider.
type ProviderError struct {
	Op  string
	Err error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider %s: %v", e.Op, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

func providerErr(op string, err error) error {
	if err == nil {
		return nil
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &ProviderError{Op: op, Err: err}
}

// FileRef points a generation call at a previously uploaded attachment.
type FileRef struct {
	URI      string
	MIMEType string
}

type StructuredRequest struct {
	Model             string
	SystemInstruction string
	UserContent       string
	Schema            *Schema
	ThinkingBudget    int
}

type StreamRequest struct {
	Model             string
	SystemInstruction string
	UserContent       string
	Files             []FileRef
	Tools             []Tool
	ThinkingBudget    int
}

// Capabilities is the provider surface the research engine depends on.
type Capabilities interface {
	// GenerateStructured returns the raw JSON document produced for req.Schema.
	// Callers decode it with DecodeStructured.
	GenerateStructured(ctx context.Context, req StructuredRequest) (json.RawMessage, error)
	// GenerateStreaming starts a streamed generation. The reader yields
	// fragments until io.EOF and must be closed by the caller.
	GenerateStreaming(ctx context.Context, req StreamRequest) (*schema.StreamReader[Fragment], error)
	UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (*models.FileHandle, error)
	DeleteFile(ctx context.Context, name string) error
	ValidateKey(ctx context.Context) error
}

// Fragment is one streamed piece of a generation. The set of implementations
// is closed: TextFragment, ReasoningFragment, InlineDataFragment,
// ExecutableCodeFragment, CodeResultFragment and GroundingFragment.
type Fragment interface {
	fragment()
}

// TextFragment is visible output.
type TextFragment struct {
	Text string
}

// ReasoningFragment is a thought summary; it belongs in logs, not documents.
type ReasoningFragment struct {
	Text string
}

// InlineDataFragment carries binary output such as a generated chart.
type InlineDataFragment struct {
	MIMEType string
	Data     []byte
}

type ExecutableCodeFragment struct {
	Language string
	Code     string
}

type CodeResultFragment struct {
	Outcome string
	Output  string
}

// GroundingFragment lists the web sources a grounded answer relied on.
type GroundingFragment struct {
	Refs []models.GroundingRef
}

func (TextFragment) fragment()           {}
func (ReasoningFragment) fragment()      {}
func (InlineDataFragment) fragment()     {}
func (ExecutableCodeFragment) fragment() {}
func (CodeResultFragment) fragment()     {}
func (GroundingFragment) fragment()      {}
