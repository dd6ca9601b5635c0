package llm

import (
	"bytes"
	"context"
	"encoding/json"
)

// Sender delivers one prompt to a provider proxy and returns its reply
type Sender interface {
	// Send posts prompt for model to endpoint, retrying transient failures.
	// A cancelled ctx yields an error wrapping ErrCancelled.
	Send(ctx context.Context, endpoint, prompt, model string) (*Response, error)
}

// Response is a successful proxy reply
type Response struct {
	Text     string
	KeyUsed  string
	Stats    *KeyStats
	Attempts int
}

// KeyStats describes the proxy's pool of upstream API keys
type KeyStats struct {
	Total     int `json:"total"`
	Available int `json:"available"`
	Failed    int `json:"failed"`
}

type proxyRequest struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model"`
}

type proxyResponse struct {
	Success  bool      `json:"success"`
	Response string    `json:"response"`
	KeyUsed  keyID     `json:"keyUsed"`
	Stats    *KeyStats `json:"stats"`
}

type proxyError struct {
	Error string `json:"error"`
}

// keyID records which upstream key served a reply. Strings are taken as is;
// any other JSON value is kept as its compact text and never fails decoding.
type keyID string

func (k *keyID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*k = keyID(s)
		return nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return nil
	}
	*k = keyID(buf.String())
	return nil
}
