// Package notify carries short, non-blocking user-facing notices (retry
// countdowns, save warnings) from deep inside a send back to whatever
// surface is showing the conversation.
package notify

import (
	"context"
	"sync"
	"time"
)

// Levels
const (
	Info    = "info"
	Success = "success"
	Warning = "warning"
	Error   = "error"
)

// Notice is a transient message for the user
type Notice struct {
	Level    string        `json:"level"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ms"`
}

// Notifier receives notices. Implementations must not block.
type Notifier interface {
	Notify(Notice)
}

// Func adapts a function to Notifier
type Func func(Notice)

func (f Func) Notify(n Notice) { f(n) }

// Discard drops every notice
var Discard Notifier = Func(func(Notice) {})

// Collector records notices in arrival order
type Collector struct {
	mu      sync.Mutex
	notices []Notice
}

func (c *Collector) Notify(n Notice) {
	c.mu.Lock()
	c.notices = append(c.notices, n)
	c.mu.Unlock()
}

// Notices returns a copy of what has been collected so far
func (c *Collector) Notices() []Notice {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Notice(nil), c.notices...)
}

// Channel forwards notices to ch, dropping them when ch is full
type Channel chan Notice

func (ch Channel) Notify(n Notice) {
	select {
	case ch <- n:
	default:
	}
}

type multi []Notifier

func (m multi) Notify(n Notice) {
	for _, t := range m {
		t.Notify(n)
	}
}

// Multi fans a notice out to every non-nil target
func Multi(targets ...Notifier) Notifier {
	var out multi
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

type ctxKey struct{}

// WithNotifier scopes n to the lifetime of ctx
func WithNotifier(ctx context.Context, n Notifier) context.Context {
	return context.WithValue(ctx, ctxKey{}, n)
}

// FromContext returns the notifier stored in ctx, or Discard
func FromContext(ctx context.Context) Notifier {
	if n, ok := ctx.Value(ctxKey{}).(Notifier); ok && n != nil {
		return n
	}
	return Discard
}
