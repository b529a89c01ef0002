package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"deepresearch/internal/assets"
	"deepresearch/internal/models"
)

// DynamicThinkingBudget lets the model scale its reasoning to the request.
const DynamicThinkingBudget = -1

type ModelCatalogService interface {
	Startup(ctx context.Context) error
	ListModelGroups() ([]models.LLMModelGroup, error)
	GetModel(apiName string) (*models.LLMModel, error)
	ClampThinkingBudget(apiName string, budget int) (int, error)
}

type modelCatalogService struct {
	data []byte
	ctx  context.Context

	mu            sync.RWMutex
	providerOrder []string
	providerNames map[string]string
	models        map[string]*models.LLMModel
}

type rawModelFile struct {
	Providers []rawProvider `json:"providers"`
}

type rawProvider struct {
	ID          string     `json:"id"`
	DisplayName string     `json:"displayName"`
	Models      []rawModel `json:"models"`
}

type rawModel struct {
	DisplayName string `json:"displayName"`
	APIName     string `json:"apiName"`
	Thinking    struct {
		Min        int  `json:"min"`
		Max        int  `json:"max"`
		CanDisable bool `json:"canDisable"`
	} `json:"thinking"`
}

// NewModelCatalogService reads the embedded catalog.
func NewModelCatalogService() ModelCatalogService {
	return NewModelCatalogServiceFromJSON(assets.ModelsData)
}

func NewModelCatalogServiceFromJSON(data []byte) ModelCatalogService {
	return &modelCatalogService{
		data:          data,
		models:        make(map[string]*models.LLMModel),
		providerNames: make(map[string]string),
	}
}

func (s *modelCatalogService) Startup(ctx context.Context) error {
	s.ctx = ctx

	var parsed rawModelFile
	if err := json.Unmarshal(s.data, &parsed); err != nil {
		return fmt.Errorf("parse models asset: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.providerOrder = make([]string, 0, len(parsed.Providers))
	for _, provider := range parsed.Providers {
		providerID := strings.TrimSpace(provider.ID)
		if providerID == "" {
			continue
		}
		providerName := strings.TrimSpace(provider.DisplayName)
		s.providerNames[providerID] = providerName
		s.providerOrder = append(s.providerOrder, providerID)
		for _, mdl := range provider.Models {
			apiName := strings.TrimSpace(mdl.APIName)
			if apiName == "" {
				continue
			}
			if mdl.Thinking.Max < mdl.Thinking.Min {
				return fmt.Errorf("model %s: thinking max %d below min %d", apiName, mdl.Thinking.Max, mdl.Thinking.Min)
			}
			s.models[apiName] = &models.LLMModel{
				Key:                providerID + "|" + apiName,
				DisplayName:        strings.TrimSpace(mdl.DisplayName),
				APIName:            apiName,
				ProviderID:         providerID,
				ProviderName:       s.providerName(providerID),
				ThinkingMin:        mdl.Thinking.Min,
				ThinkingMax:        mdl.Thinking.Max,
				ThinkingCanDisable: mdl.Thinking.CanDisable,
			}
		}
	}
	return nil
}

func (s *modelCatalogService) ListModelGroups() ([]models.LLMModelGroup, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	groups := make([]models.LLMModelGroup, 0, len(s.providerOrder))
	for _, providerID := range s.providerOrder {
		group := models.LLMModelGroup{
			ProviderID:   providerID,
			ProviderName: s.providerName(providerID),
		}
		for _, mdl := range s.models {
			if mdl.ProviderID == providerID {
				group.Models = append(group.Models, *mdl)
			}
		}
		sort.SliceStable(group.Models, func(i, j int) bool {
			return strings.ToLower(group.Models[i].DisplayName) < strings.ToLower(group.Models[j].DisplayName)
		})
		groups = append(groups, group)
	}
	return groups, nil
}

func (s *modelCatalogService) GetModel(apiName string) (*models.LLMModel, error) {
	apiName = strings.TrimSpace(apiName)
	if apiName == "" {
		return nil, fmt.Errorf("model name is required")
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	mdl, ok := s.models[apiName]
	if !ok {
		return nil, fmt.Errorf("model %s not found", apiName)
	}
	out := *mdl
	return &out, nil
}

// ClampThinkingBudget fits a positive budget into the model's reasoning
// range. Zero (provider default) and DynamicThinkingBudget pass through.
func (s *modelCatalogService) ClampThinkingBudget(apiName string, budget int) (int, error) {
	mdl, err := s.GetModel(apiName)
	if err != nil {
		return 0, err
	}
	switch {
	case budget <= 0:
		return budget, nil
	case budget < mdl.ThinkingMin:
		return mdl.ThinkingMin, nil
	case budget > mdl.ThinkingMax:
		return mdl.ThinkingMax, nil
	}
	return budget, nil
}

func (s *modelCatalogService) providerName(providerID string) string {
	if name, ok := s.providerNames[providerID]; ok && strings.TrimSpace(name) != "" {
		return name
	}
	return providerID
}
