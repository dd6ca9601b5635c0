// Package router turns a user message and the session's provider selection
// into a prompt, sends it, and shapes the outcome into a displayable reply.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"sati-chat/internal/knowledge"
	"sati-chat/internal/logger"
	"sati-chat/internal/notify"
	"sati-chat/internal/provider"
	"sati-chat/internal/service/llm"
	"sati-chat/internal/service/reasoning"

	"github.com/sirupsen/logrus"
)

// connectionTestPrompt is sent by TestConnection
const connectionTestPrompt = "Hello, this is a test message."

// Knowledge classifies queries and builds institution prompts
type Knowledge interface {
	IsRelated(text string) bool
	ContextualPrompt(query string) string
}

// Reply is the outcome of routing one message. Exactly one of Text and
// Failure is meaningful.
type Reply struct {
	Text          string
	Provider      string
	Model         string
	Institutional bool
	Attempts      int
	Failure       *Failure
}

// Display returns what should be shown for the assistant turn
func (r *Reply) Display() string {
	if r.Failure != nil {
		return r.Failure.Text
	}
	return r.Text
}

// KeyStatus is the latest key usage reported by a provider proxy
type KeyStatus struct {
	Provider    string       `json:"provider"`
	LastKeyUsed string       `json:"last_key_used"`
	Stats       llm.KeyStats `json:"stats"`
	LastUpdated time.Time    `json:"last_updated"`
}

// Router dispatches messages to the selected provider
type Router struct {
	registry *provider.Registry
	sender   llm.Sender
	kb       Knowledge

	mu     sync.Mutex
	status map[string]KeyStatus
}

// NewRouter creates a router
func NewRouter(registry *provider.Registry, sender llm.Sender, kb Knowledge) *Router {
	return &Router{
		registry: registry,
		sender:   sender,
		kb:       kb,
		status:   make(map[string]KeyStatus),
	}
}

// Route sends text using sel. Provider failures come back inside the reply;
// the only error returned is a cancellation wrapping llm.ErrCancelled.
func (r *Router) Route(ctx context.Context, text string, sel provider.Selection) (*Reply, error) {
	institutional := r.kb.IsRelated(text)

	var prompt string
	if institutional {
		prompt = r.kb.ContextualPrompt(text)
	} else {
		prompt = knowledge.GeneralPrompt(text)
	}

	reply, err := r.dispatch(ctx, prompt, sel)
	if reply != nil {
		reply.Institutional = institutional
	}
	return reply, err
}

// TestConnection sends a fixed greeting through the selected provider
func (r *Router) TestConnection(ctx context.Context, sel provider.Selection) (*Reply, error) {
	return r.dispatch(ctx, connectionTestPrompt, sel)
}

func (r *Router) dispatch(ctx context.Context, prompt string, sel provider.Selection) (*Reply, error) {
	reply := &Reply{Provider: sel.Provider, Model: sel.Model}

	endpoint, err := r.registry.Endpoint(sel.Provider)
	if err != nil {
		reply.Failure = r.describe(err, sel)
		return reply, nil
	}

	model, err := r.registry.ResolveModel(sel.Provider, sel.Model)
	if err != nil {
		reply.Failure = r.describe(err, sel)
		return reply, nil
	}
	if model != sel.Model {
		logger.Log.WithFields(logrus.Fields{"provider": sel.Provider, "requested": sel.Model, "model": model}).Warn("Model not served by provider, using provider default")
	}
	reply.Model = model

	start := time.Now()
	resp, err := r.sender.Send(ctx, endpoint, prompt, model)
	if err != nil {
		if errors.Is(err, llm.ErrCancelled) {
			logger.Log.WithFields(logrus.Fields{"provider": sel.Provider, "model": model}).Info("Send cancelled")
			return nil, err
		}
		reply.Failure = r.describe(err, provider.Selection{Provider: sel.Provider, Model: model})
		logger.Log.WithFields(logrus.Fields{"provider": sel.Provider, "model": model, "kind": reply.Failure.Kind}).Warn("Send failed")
		return reply, nil
	}

	reply.Attempts = resp.Attempts
	reply.Text = resp.Text
	if r.registry.IsReasoningModel(model) {
		before := len(reply.Text)
		reply.Text = reasoning.Filter(reply.Text)
		logger.Log.WithFields(logrus.Fields{"model": model, "before": before, "after": len(reply.Text)}).Debug("Filtered reasoning blocks")
	}

	r.trackKeys(ctx, sel.Provider, resp)

	logger.Log.WithFields(logrus.Fields{
		"provider": sel.Provider,
		"model":    model,
		"attempts": resp.Attempts,
		"duration": time.Since(start).Milliseconds(),
	}).Info("Reply received")

	return reply, nil
}

func (r *Router) trackKeys(ctx context.Context, providerID string, resp *llm.Response) {
	if resp.KeyUsed == "" || resp.Stats == nil {
		return
	}

	r.mu.Lock()
	prev, seen := r.status[providerID]
	r.status[providerID] = KeyStatus{
		Provider:    providerID,
		LastKeyUsed: resp.KeyUsed,
		Stats:       *resp.Stats,
		LastUpdated: time.Now(),
	}
	r.mu.Unlock()

	if seen && prev.LastKeyUsed != resp.KeyUsed {
		notify.FromContext(ctx).Notify(notify.Notice{
			Level:    notify.Info,
			Message:  fmt.Sprintf("🔄 Switched to %s key %s (%d/%d available)", providerID, resp.KeyUsed, resp.Stats.Available, resp.Stats.Total),
			Duration: 3 * time.Second,
		})
	}
}

// Status returns the last key usage seen per provider
func (r *Router) Status() map[string]KeyStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]KeyStatus, len(r.status))
	for k, v := range r.status {
		out[k] = v
	}
	return out
}
