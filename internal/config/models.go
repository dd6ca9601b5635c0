package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// Model represents a chat model offered by one of the providers
type Model struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Provider  string `json:"provider"`
	Reasoning bool   `json:"reasoning,omitempty"`
}

// ModelsConfig holds the available models configuration
type ModelsConfig struct {
	models []Model
}

// fallbackModel is returned when the catalogue is empty
const fallbackModel = "llama-3.1-8b-instant"

// DefaultModels is the built-in catalogue. Order matters: the first model of a
// provider is that provider's default.
func DefaultModels() []Model {
	return []Model{
		{ID: "llama-3.1-8b-instant", Name: "🟢 Llama 3.1 8B (Latest)", Provider: "groq"},
		{ID: "llama-3.3-70b-versatile", Name: "🟢 Llama 3.3 70B (Latest)", Provider: "groq"},
		{ID: "gemma2-9b-it", Name: "🟢 Gemma2 9B (Latest)", Provider: "groq"},
		{ID: "deepseek-r1-distill-llama-70b", Name: "🧠 DeepSeek R1 (Reasoning)", Provider: "groq", Reasoning: true},
		{ID: "llama3-8b-8192", Name: "🔵 Llama3 8B (Legacy)", Provider: "groq"},
		{ID: "llama3-70b-8192", Name: "🔵 Llama3 70B (Legacy)", Provider: "groq"},
		{ID: "gemini-1.5-flash", Name: "⚡ Gemini 1.5 Flash", Provider: "gemini"},
		{ID: "gemini-1.5-pro", Name: "🚀 Gemini 1.5 Pro", Provider: "gemini"},
	}
}

// NewDefaultModelsConfig returns the built-in catalogue
func NewDefaultModelsConfig() *ModelsConfig {
	return &ModelsConfig{models: DefaultModels()}
}

// NewModelsConfig creates a new models configuration from a file
func NewModelsConfig(configPath string) (*ModelsConfig, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	var models []Model
	err = json.Unmarshal(data, &models)
	if err != nil {
		return nil, err
	}

	for i, m := range models {
		if m.ID == "" || m.Provider == "" {
			return nil, fmt.Errorf("model entry %d: id and provider are required", i)
		}
	}

	return &ModelsConfig{models: models}, nil
}

// GetAvailableModels returns the list of available models
func (mc *ModelsConfig) GetAvailableModels() []Model {
	return mc.models
}

// GetProviderModels returns the models served by one provider, in catalogue order
func (mc *ModelsConfig) GetProviderModels(provider string) []Model {
	var out []Model
	for _, model := range mc.models {
		if model.Provider == provider {
			out = append(out, model)
		}
	}
	return out
}

// IsValidModel checks if a model ID is in the list of available models
func (mc *ModelsConfig) IsValidModel(modelID string) bool {
	for _, model := range mc.models {
		if model.ID == modelID {
			return true
		}
	}
	return false
}

// GetDefaultModel returns the first model as the default
func (mc *ModelsConfig) GetDefaultModel() string {
	if len(mc.models) > 0 {
		return mc.models[0].ID
	}
	return fallbackModel
}
