package validation

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	// MaxMessageLength bounds a single chat message, in characters
	MaxMessageLength = 8000
	// MaxTitleLength bounds a conversation title, in characters
	MaxTitleLength = 200
)

// ChatRequestValidator validates chat-related requests
type ChatRequestValidator struct{}

// NewChatRequestValidator creates a new ChatRequestValidator
func NewChatRequestValidator() *ChatRequestValidator {
	return &ChatRequestValidator{}
}

// ValidateMessage validates a chat message
func (v *ChatRequestValidator) ValidateMessage(message string) error {
	if strings.TrimSpace(message) == "" {
		return errors.New("message cannot be empty")
	}
	if n := utf8.RuneCountInString(message); n > MaxMessageLength {
		return fmt.Errorf("message must be at most %d characters long, got %d", MaxMessageLength, n)
	}
	return nil
}

// ValidateTitle validates a conversation title
func (v *ChatRequestValidator) ValidateTitle(title string) error {
	if strings.TrimSpace(title) == "" {
		return errors.New("title cannot be empty")
	}
	if n := utf8.RuneCountInString(title); n > MaxTitleLength {
		return fmt.Errorf("title must be at most %d characters long, got %d", MaxTitleLength, n)
	}
	return nil
}

// ValidateSelection validates an optional provider/model override. Both may
// be empty; a model without a provider is rejected.
func (v *ChatRequestValidator) ValidateSelection(provider, model string) error {
	if provider == "" && model != "" {
		return errors.New("provider is required when model is set")
	}
	if provider != "" && provider != "groq" && provider != "gemini" {
		return fmt.Errorf("provider must be one of: groq, gemini; got %s", provider)
	}
	return nil
}

// ValidateChatRequest validates a complete chat request
func (v *ChatRequestValidator) ValidateChatRequest(message, provider, model string) error {
	if err := v.ValidateMessage(message); err != nil {
		return err
	}

	if err := v.ValidateSelection(provider, model); err != nil {
		return err
	}

	return nil
}
