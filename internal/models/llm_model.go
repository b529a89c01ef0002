package models

// LLMModel is a catalog entry usable as core or task model.
type LLMModel struct {
	Key          string `json:"key"`
	DisplayName  string `json:"displayName"`
	APIName      string `json:"apiName"`
	ProviderID   string `json:"providerId"`
	ProviderName string `json:"providerName"`
	// ThinkingMin and ThinkingMax bound the reasoning budget. A model that can
	// disable reasoning also accepts a budget of 0.
	ThinkingMin        int  `json:"thinkingMin"`
	ThinkingMax        int  `json:"thinkingMax"`
	ThinkingCanDisable bool `json:"thinkingCanDisable"`
}

// LLMModelGroup groups models by their provider for presentation.
type LLMModelGroup struct {
	ProviderID   string     `json:"providerId"`
	ProviderName string     `json:"providerName"`
	Models       []LLMModel `json:"models"`
}
