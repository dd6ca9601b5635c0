// Package provider describes the chat providers the client can talk to, the
// proxy endpoint of each and the models each one serves.
package provider

import (
	"errors"
	"fmt"
	"strings"

	"sati-chat/internal/config"
)

// Provider identifiers
const (
	Groq   = "groq"
	Gemini = "gemini"
)

// ErrUnknownProvider is returned for identifiers outside the registry
var ErrUnknownProvider = errors.New("unknown provider")

// Selection is the provider and model a session currently sends to
type Selection struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
}

// Alternative is a model suggested when the current one is struggling
type Alternative struct {
	Provider string `json:"provider"`
	Model    string `json:"model"`
	Reason   string `json:"reason"`
}

type entry struct {
	endpoint string
	models   []config.Model
}

// Registry is an immutable lookup table built once at start-up
type Registry struct {
	providers map[string]entry
	order     []string
	names     map[string]string
	reasoning map[string]bool
}

// NewRegistry builds the registry for groq and gemini from the model catalogue
func NewRegistry(providers config.ProvidersConfig, models *config.ModelsConfig) (*Registry, error) {
	r := &Registry{
		providers: make(map[string]entry),
		names:     make(map[string]string),
		reasoning: make(map[string]bool),
	}

	endpoints := map[string]string{
		Groq:   providers.GroqEndpoint,
		Gemini: providers.GeminiEndpoint,
	}

	for _, id := range []string{Groq, Gemini} {
		list := models.GetProviderModels(id)
		if len(list) == 0 {
			return nil, fmt.Errorf("provider %s has no models configured", id)
		}
		if endpoints[id] == "" {
			return nil, fmt.Errorf("provider %s has no endpoint configured", id)
		}
		r.providers[id] = entry{endpoint: endpoints[id], models: list}
		r.order = append(r.order, id)
		for _, m := range list {
			if m.Name != "" {
				r.names[m.ID] = m.Name
			}
			if m.Reasoning || strings.HasPrefix(m.ID, "deepseek-r1") {
				r.reasoning[m.ID] = true
			}
		}
	}

	return r, nil
}

// Providers returns the provider identifiers in display order
func (r *Registry) Providers() []string {
	return append([]string(nil), r.order...)
}

// Endpoint returns the proxy URL for a provider
func (r *Registry) Endpoint(id string) (string, error) {
	e, ok := r.providers[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return e.endpoint, nil
}

// Models returns the model identifiers served by a provider, default first
func (r *Registry) Models(id string) ([]string, error) {
	e, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	out := make([]string, len(e.models))
	for i, m := range e.models {
		out[i] = m.ID
	}
	return out, nil
}

// DefaultModel returns the first model of a provider
func (r *Registry) DefaultModel(id string) (string, error) {
	e, ok := r.providers[id]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownProvider, id)
	}
	return e.models[0].ID, nil
}

// Owns reports whether model belongs to provider id
func (r *Registry) Owns(id, model string) bool {
	e, ok := r.providers[id]
	if !ok {
		return false
	}
	for _, m := range e.models {
		if m.ID == model {
			return true
		}
	}
	return false
}

// ResolveModel returns model when the provider serves it and the provider
// default otherwise.
func (r *Registry) ResolveModel(id, model string) (string, error) {
	if r.Owns(id, model) {
		return model, nil
	}
	return r.DefaultModel(id)
}

// IsReasoningModel reports whether replies from model carry <think> blocks
func (r *Registry) IsReasoningModel(model string) bool {
	return r.reasoning[model]
}

// DisplayName returns a human label for model, or the id itself
func (r *Registry) DisplayName(model string) string {
	if name, ok := r.names[model]; ok {
		return name
	}
	return model
}

// Alternatives suggests other models to try when sel is overloaded
func (r *Registry) Alternatives(sel Selection) []Alternative {
	var out []Alternative

	switch sel.Provider {
	case Gemini:
		if sel.Model == "gemini-1.5-flash" && r.Owns(Gemini, "gemini-1.5-pro") {
			out = append(out, Alternative{Provider: Gemini, Model: "gemini-1.5-pro", Reason: "More stable, less likely to be overloaded"})
		}
		if r.Owns(Groq, "llama-3.1-8b-instant") {
			out = append(out, Alternative{Provider: Groq, Model: "llama-3.1-8b-instant", Reason: "Fast and reliable alternative"})
		}
		if r.Owns(Groq, "llama-3.3-70b-versatile") {
			out = append(out, Alternative{Provider: Groq, Model: "llama-3.3-70b-versatile", Reason: "More powerful alternative"})
		}
	case Groq:
		n := 0
		for _, m := range r.providers[Groq].models {
			if m.ID == sel.Model || n == 2 {
				continue
			}
			out = append(out, Alternative{Provider: Groq, Model: m.ID, Reason: "Alternative Groq model"})
			n++
		}
		if def, err := r.DefaultModel(Gemini); err == nil {
			out = append(out, Alternative{Provider: Gemini, Model: def, Reason: "Google AI alternative"})
		}
	}

	return out
}
