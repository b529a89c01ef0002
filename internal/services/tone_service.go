package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"deepresearch/internal/models"
	"deepresearch/internal/repositories"
)

type ReportToneService interface {
	Startup(ctx context.Context) error
	GetTone(name string) (*models.ReportTone, error)
	ListTones() ([]*models.ReportTone, error)
	CreateTone(t *models.ReportTone) (*models.ReportTone, error)
	UpdateTone(t *models.ReportTone) (*models.ReportTone, error)
	DeleteTone(name string) error
}

var ErrBuiltInTone = errors.New("built-in tones cannot be changed")

// BuiltInTones are seeded on first start.
var BuiltInTones = []models.ReportTone{
	{
		Name:        "journalist",
		Description: "Narrative, accessible long-form reporting",
		Instruction: "Write like an investigative journalist: lead with the most important finding, keep paragraphs short, attribute claims to their sources and avoid jargon.",
	},
	{
		Name:        "academic",
		Description: "Formal, citation-heavy analysis",
		Instruction: "Write in a formal academic register: state the research question, review evidence systematically, discuss limitations and cite every factual claim.",
	},
	{
		Name:        "technical",
		Description: "Precise writing for practitioners",
		Instruction: "Write for technical practitioners: prefer precise terminology, include figures, tables and concrete examples, and call out trade-offs explicitly.",
	},
	{
		Name:        "executive",
		Description: "Decision-oriented briefing",
		Instruction: "Write an executive briefing: open with a summary of conclusions and recommendations, then support each with the key evidence.",
	},
	{
		Name:        "casual",
		Description: "Friendly explainer",
		Instruction: "Write a friendly explainer in plain language, using analogies where they help and keeping the tone conversational.",
	},
}

type reportToneService struct {
	repo repositories.ReportToneRepository
	ctx  context.Context
}

func NewReportToneService(repo repositories.ReportToneRepository) ReportToneService {
	return &reportToneService{repo: repo}
}

// Startup stores ctx and inserts any missing built-in tone.
func (s *reportToneService) Startup(ctx context.Context) error {
	s.ctx = ctx
	for _, tone := range BuiltInTones {
		_, err := s.repo.GetByName(ctx, tone.Name)
		if err == nil {
			continue
		}
		if !errors.Is(err, repositories.ErrToneNotFound) {
			return fmt.Errorf("service: seed tone %s: %w", tone.Name, err)
		}
		seed := tone
		seed.BuiltIn = true
		if err := s.repo.Create(ctx, &seed); err != nil {
			return fmt.Errorf("service: seed tone %s: %w", tone.Name, err)
		}
	}
	return nil
}

func (s *reportToneService) GetTone(name string) (*models.ReportTone, error) {
	tone, err := s.repo.GetByName(s.ctx, strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("service: get tone: %w", err)
	}
	return tone, nil
}

func (s *reportToneService) ListTones() ([]*models.ReportTone, error) {
	list, err := s.repo.GetAll(s.ctx)
	if err != nil {
		return nil, fmt.Errorf("service: list tones: %w", err)
	}
	return list, nil
}

func (s *reportToneService) CreateTone(t *models.ReportTone) (*models.ReportTone, error) {
	if t == nil {
		return nil, fmt.Errorf("service: create tone: tone is required")
	}
	t.Name = strings.TrimSpace(t.Name)
	t.Instruction = strings.TrimSpace(t.Instruction)
	if t.Name == "" || t.Instruction == "" {
		return nil, fmt.Errorf("service: create tone: name and instruction are required")
	}
	t.BuiltIn = false
	if err := s.repo.Create(s.ctx, t); err != nil {
		return nil, fmt.Errorf("service: create tone: %w", err)
	}
	return t, nil
}

func (s *reportToneService) UpdateTone(t *models.ReportTone) (*models.ReportTone, error) {
	if t == nil {
		return nil, fmt.Errorf("service: update tone: tone is required")
	}
	existing, err := s.repo.GetByName(s.ctx, strings.TrimSpace(t.Name))
	if err != nil {
		return nil, fmt.Errorf("service: update tone: %w", err)
	}
	if existing.BuiltIn {
		return nil, fmt.Errorf("service: update tone %s: %w", existing.Name, ErrBuiltInTone)
	}
	existing.Description = t.Description
	if instr := strings.TrimSpace(t.Instruction); instr != "" {
		existing.Instruction = instr
	}
	if err := s.repo.Update(s.ctx, existing); err != nil {
		return nil, fmt.Errorf("service: update tone %s: %w", existing.Name, err)
	}
	return existing, nil
}

func (s *reportToneService) DeleteTone(name string) error {
	tone, err := s.repo.GetByName(s.ctx, strings.TrimSpace(name))
	if err != nil {
		return fmt.Errorf("service: delete tone: %w", err)
	}
	if tone.BuiltIn {
		return fmt.Errorf("service: delete tone %s: %w", tone.Name, ErrBuiltInTone)
	}
	if err := s.repo.Delete(s.ctx, tone.ID); err != nil {
		return fmt.Errorf("service: delete tone %s: %w", tone.Name, err)
	}
	return nil
}
