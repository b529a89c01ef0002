package mocks

import (
	"context"
	"encoding/json"
	"io"

	"github.com/cloudwego/eino/schema"

	"deepresearch/internal/llm/client"
	"deepresearch/internal/models"
)

type CapabilitiesMock struct {
	GenerateStructuredFunc func(ctx context.Context, req client.StructuredRequest) (json.RawMessage, error)
	GenerateStreamingFunc  func(ctx context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error)
	UploadFileFunc         func(ctx context.Context, r io.Reader, mimeType, displayName string) (*models.FileHandle, error)
	DeleteFileFunc         func(ctx context.Context, name string) error
	ValidateKeyFunc        func(ctx context.Context) error
}

func (m *CapabilitiesMock) GenerateStructured(ctx context.Context, req client.StructuredRequest) (json.RawMessage, error) {
	if m.GenerateStructuredFunc != nil {
		return m.GenerateStructuredFunc(ctx, req)
	}
	return json.RawMessage(`{}`), nil
}

func (m *CapabilitiesMock) GenerateStreaming(ctx context.Context, req client.StreamRequest) (*schema.StreamReader[client.Fragment], error) {
	if m.GenerateStreamingFunc != nil {
		return m.GenerateStreamingFunc(ctx, req)
	}
	return StreamOf(), nil
}

func (m *CapabilitiesMock) UploadFile(ctx context.Context, r io.Reader, mimeType, displayName string) (*models.FileHandle, error) {
	if m.UploadFileFunc != nil {
		return m.UploadFileFunc(ctx, r, mimeType, displayName)
	}
	return &models.FileHandle{Name: "files/" + displayName, DisplayName: displayName, MIMEType: mimeType}, nil
}

func (m *CapabilitiesMock) DeleteFile(ctx context.Context, name string) error {
	if m.DeleteFileFunc != nil {
		return m.DeleteFileFunc(ctx, name)
	}
	return nil
}

func (m *CapabilitiesMock) ValidateKey(ctx context.Context) error {
	if m.ValidateKeyFunc != nil {
		return m.ValidateKeyFunc(ctx)
	}
	return nil
}

// StreamOf returns a finished stream of frags.
func StreamOf(frags ...client.Fragment) *schema.StreamReader[client.Fragment] {
	return schema.StreamReaderFromArray(frags)
}

// StreamFailing returns frags followed by err.
func StreamFailing(err error, frags ...client.Fragment) *schema.StreamReader[client.Fragment] {
	r, w := schema.Pipe[client.Fragment](len(frags) + 1)
	for _, f := range frags {
		w.Send(f, nil)
	}
	w.Send(nil, err)
	w.Close()
	return r
}

// StreamUntilDone returns frags and then blocks until ctx is done, ending
// with the context error.
func StreamUntilDone(ctx context.Context, frags ...client.Fragment) *schema.StreamReader[client.Fragment] {
	r, w := schema.Pipe[client.Fragment](len(frags) + 1)
	for _, f := range frags {
		w.Send(f, nil)
	}
	go func() {
		defer w.Close()
		<-ctx.Done()
		w.Send(nil, ctx.Err())
	}()
	return r
}
