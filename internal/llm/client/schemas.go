package client

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed schemas/*.json
var embeddedSchemas embed.FS

// Schema is a JSON Schema document paired with its compiled validator.
type Schema struct {
	Name     string
	document any
	compiled *jsonschema.Schema
}

// Document returns the parsed schema document sent to the provider.
func (s *Schema) Document() any {
	return s.document
}

var (
	QnASchema       = mustLoadSchema("qna.json")
	LeadTasksSchema = mustLoadSchema("lead_tasks.json")
	DeepTasksSchema = mustLoadSchema("deep_tasks.json")
)

func mustLoadSchema(name string) *Schema {
	raw, err := embeddedSchemas.ReadFile("schemas/" + name)
	if err != nil {
		panic(fmt.Sprintf("failed to read embedded %s: %v", name, err))
	}
	s, err := CompileSchema(name, raw)
	if err != nil {
		panic(err.Error())
	}
	return s
}

// CompileSchema parses and compiles a JSON Schema document.
func CompileSchema(name string, raw []byte) (*Schema, error) {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse schema %s: %w", name, err)
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, doc); err != nil {
		return nil, fmt.Errorf("add schema %s: %w", name, err)
	}
	compiled, err := compiler.Compile(name)
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", name, err)
	}
	return &Schema{Name: name, document: doc, compiled: compiled}, nil
}

// DecodeStructured validates raw against s and unmarshals it into out.
// Failures are reported as provider errors since the provider produced the
// document.
func DecodeStructured(s *Schema, raw []byte, out any) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return &ProviderError{Op: "decode " + s.Name, Err: fmt.Errorf("empty response")}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &ProviderError{Op: "decode " + s.Name, Err: err}
	}
	if err := s.compiled.Validate(inst); err != nil {
		return &ProviderError{Op: "validate " + s.Name, Err: err}
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Op: "decode " + s.Name, Err: err}
	}
	return nil
}

// QnAItem is one clarifying question with the model's guess at the answer.
type QnAItem struct {
	Question        string `json:"question"`
	PredictedAnswer string `json:"predictedAnswer"`
}

type QnAResult struct {
	Questions []QnAItem `json:"questions"`
}

// TaskItem is one generated research task. Target is only set by lead
// generation.
type TaskItem struct {
	Title     string `json:"title"`
	Direction string `json:"direction"`
	Target    string `json:"target,omitempty"`
}

type TasksResult struct {
	Tasks []TaskItem `json:"tasks"`
}
