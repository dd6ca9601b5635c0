package router

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"sati-chat/internal/provider"
	"sati-chat/internal/service/llm"
)

// FailureKind classifies a failed send for display
type FailureKind string

const (
	KindUnknownProvider FailureKind = "unknown_provider"
	KindConfiguration   FailureKind = "configuration"
	KindOverloaded      FailureKind = "overloaded"
	KindUnavailable     FailureKind = "unavailable"
	KindRateLimited     FailureKind = "rate_limited"
	KindNetwork         FailureKind = "network"
	KindInvalidResponse FailureKind = "invalid_response"
	KindProvider        FailureKind = "provider_error"
)

// Failure describes why no reply could be produced. Text is the markdown
// shown in place of the assistant reply.
type Failure struct {
	Kind         FailureKind            `json:"kind"`
	Status       int                    `json:"status,omitempty"`
	Message      string                 `json:"message"`
	Alternatives []provider.Alternative `json:"alternatives,omitempty"`
	Text         string                 `json:"text"`
}

func (f *Failure) Error() string { return f.Message }

var providerLabels = map[string]string{
	provider.Groq:   "Groq",
	provider.Gemini: "Gemini",
}

func (r *Router) describe(err error, sel provider.Selection) *Failure {
	label := providerLabels[sel.Provider]
	f := &Failure{Kind: KindProvider, Message: err.Error()}

	var pe *llm.ProviderError
	var ne *llm.NetworkError
	switch {
	case errors.Is(err, provider.ErrUnknownProvider):
		f.Kind = KindUnknownProvider
		f.Message = "Invalid API provider selected"
	case errors.As(err, &pe):
		f.Status = pe.Status
		f.Message = fmt.Sprintf("%s %s", label, pe.Error())
		lower := strings.ToLower(pe.Message)
		switch {
		case strings.Contains(lower, "api key") || strings.Contains(lower, "not configured"):
			f.Kind = KindConfiguration
		case pe.Status == http.StatusServiceUnavailable && strings.Contains(lower, "overload"):
			f.Kind = KindOverloaded
			f.Alternatives = r.registry.Alternatives(sel)
		case pe.Status == http.StatusServiceUnavailable:
			f.Kind = KindUnavailable
		case pe.Status == http.StatusTooManyRequests || strings.Contains(lower, "rate limit") || strings.Contains(lower, "quota"):
			f.Kind = KindRateLimited
		}
	case errors.As(err, &ne):
		f.Kind = KindNetwork
	case errors.Is(err, llm.ErrInvalidResponse):
		f.Kind = KindInvalidResponse
		f.Message = fmt.Sprintf("Invalid response from %s serverless function", label)
	}

	f.Text = r.render(f, sel)
	return f
}

func (r *Router) render(f *Failure, sel provider.Selection) string {
	switch f.Kind {
	case KindConfiguration:
		groq, _ := r.registry.Endpoint(provider.Groq)
		gemini, _ := r.registry.Endpoint(provider.Gemini)
		return fmt.Sprintf("❌ **Serverless API Configuration Error**\n\n%s\n\n**Debug Info:**\n- Groq Function: %s\n- Gemini Function: %s\n- Current Provider: %s\n\nPlease check if the serverless functions are deployed properly.",
			f.Message, groq, gemini, sel.Provider)
	case KindOverloaded:
		var suggestions strings.Builder
		if len(f.Alternatives) > 0 {
			suggestions.WriteString("\n\n**Recommended alternatives:**\n")
			for i, alt := range f.Alternatives {
				if i == 3 {
					break
				}
				fmt.Fprintf(&suggestions, "%d. Switch to %s (%s)\n", i+1, r.registry.DisplayName(alt.Model), alt.Reason)
			}
		}
		return "🔄 **Service Temporarily Overloaded**\n\nThe AI model is currently experiencing high demand and is overloaded. The system has automatically attempted to retry your request.\n\n**What you can do:**\n• Wait a few minutes and try again\n• Try one of the alternative models below" +
			suggestions.String() +
			"\n\nThis is a temporary issue on the provider's servers and should resolve shortly."
	case KindUnavailable:
		return "🔄 **Service Unavailable**\n\nThe AI service is temporarily unavailable. The system has automatically attempted to retry your request.\n\n**What you can do:**\n• Wait a few minutes and try again\n• Try switching to a different model or provider\n\nThis is usually a temporary issue that resolves quickly."
	case KindRateLimited:
		return "⏱️ **Rate Limit Exceeded**\n\nYou've reached the API rate limit. The system has automatically attempted to retry your request.\n\n**What you can do:**\n• Wait a moment before sending another message\n• Consider switching to a different provider if available"
	case KindNetwork:
		return "🌐 **Network Error**\n\nPlease check your internet connection and try again. The system has automatically attempted to retry your request."
	default:
		return fmt.Sprintf("❌ **Error**\n\n%s\n\nPlease try again or contact support if the issue persists.", f.Message)
	}
}
