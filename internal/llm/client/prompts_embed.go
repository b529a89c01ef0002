package client

import (
	"embed"
	"fmt"
	"strings"
	"text/template"

	"deepresearch/internal/models"
)

// embeddedPrompts holds the built-in prompt templates so packaged executables
// can load them without needing access to the source tree.
//
//go:embed prompts/*.txt
var embeddedPrompts embed.FS

var prompts = template.Must(template.ParseFS(embeddedPrompts, "prompts/*.txt"))

// Prompt names.
const (
	PromptSystem       = "system.txt"
	PromptQnA          = "qna.txt"
	PromptPlan         = "plan.txt"
	PromptLeadTasks    = "lead_tasks.txt"
	PromptDeepTasks    = "deep_tasks.txt"
	PromptResearchTask = "research_task.txt"
	PromptReport       = "report.txt"
)

// Finding is a completed task's learning as shown to the model.
type Finding struct {
	Title    string
	Learning string
}

// PromptData feeds every prompt template; each template reads what it needs.
type PromptData struct {
	Date            string
	Query           string
	QnA             []models.QnA
	Plan            string
	Tier            int
	Wide            int
	Findings        []Finding
	Direction       string
	ToneInstruction string
	MinWords        int
	Files           []models.FileHandle
}

// RenderPrompt executes the named prompt template.
func RenderPrompt(name string, data PromptData) (string, error) {
	var b strings.Builder
	if err := prompts.ExecuteTemplate(&b, name, data); err != nil {
		return "", fmt.Errorf("render prompt %s: %w", name, err)
	}
	return strings.TrimSpace(b.String()), nil
}
