package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"sati-chat/internal/config"
	"sati-chat/internal/logger"
	"sati-chat/internal/notify"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// maxResponseBytes bounds how much of a proxy reply is read
const maxResponseBytes = 4 << 20

// Client is the retry-aware transport to the provider proxies
type Client struct {
	httpClient     *http.Client
	maxRetries     int
	baseDelay      time.Duration
	requestTimeout time.Duration
	limiter        *rate.Limiter
	notifier       notify.Notifier
	sleep          func(ctx context.Context, d time.Duration) error
}

// Option customises a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithNotifier sets the notifier used when the request context carries none
func WithNotifier(n notify.Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithSleep replaces the backoff wait. It must return ctx.Err() when ctx is
// done before d elapses.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = sleep }
}

// WithLimiter paces outgoing attempts
func WithLimiter(l *rate.Limiter) Option {
	return func(c *Client) { c.limiter = l }
}

var _ Sender = (*Client)(nil)

// NewClient creates a transport from configuration
func NewClient(cfg config.TransportConfig, opts ...Option) *Client {
	c := &Client{
		httpClient:     &http.Client{},
		maxRetries:     cfg.MaxRetries,
		baseDelay:      cfg.BaseDelay,
		requestTimeout: cfg.RequestTimeout,
		notifier:       notify.Discard,
		sleep:          sleepContext,
	}
	if c.requestTimeout <= 0 {
		c.requestTimeout = 30 * time.Second
	}
	if cfg.RateLimit > 0 {
		burst := cfg.RateBurst
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send posts the prompt and retries 503, 429 and network failures with
// exponential backoff. At most maxRetries+1 attempts are made; when they are
// used up the last transient error is returned as is.
func (c *Client) Send(ctx context.Context, endpoint, prompt, model string) (*Response, error) {
	body, err := json.Marshal(proxyRequest{Prompt: prompt, Model: model})
	if err != nil {
		return nil, fmt.Errorf("error marshaling request: %w", err)
	}

	for retry := 0; ; retry++ {
		if err := ctx.Err(); err != nil {
			return nil, cancelled(err)
		}

		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				if ctx.Err() != nil {
					return nil, cancelled(ctx.Err())
				}
				return nil, fmt.Errorf("rate limiter: %w", err)
			}
		}

		logger.Log.WithFields(logrus.Fields{"endpoint": endpoint, "model": model, "attempt": retry + 1}).Debug("Sending prompt to provider")

		resp, err := c.attempt(ctx, endpoint, body)
		if err == nil {
			resp.Attempts = retry + 1
			return resp, nil
		}

		if ctx.Err() != nil {
			return nil, cancelled(ctx.Err())
		}

		if !IsTransient(err) || retry >= c.maxRetries {
			logger.Log.WithError(err).WithFields(logrus.Fields{"endpoint": endpoint, "model": model, "attempts": retry + 1}).Warn("Provider request failed")
			return nil, err
		}

		delay := c.baseDelay * time.Duration(1<<uint(retry))
		logger.Log.WithFields(logrus.Fields{"delay": delay, "attempt": retry + 1, "max_retries": c.maxRetries, "error": err.Error()}).Info("Retrying provider request")
		c.notify(ctx, err, delay, retry)

		if err := c.sleep(ctx, delay); err != nil {
			return nil, cancelled(err)
		}
	}
}

func (c *Client) attempt(ctx context.Context, endpoint string, body []byte) (*Response, error) {
	actx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(actx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("error creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &NetworkError{Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &NetworkError{Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		message := "Unknown error"
		var payload proxyError
		if json.Unmarshal(data, &payload) == nil && payload.Error != "" {
			message = payload.Error
		}
		return nil, &ProviderError{Status: resp.StatusCode, Message: message}
	}

	var payload proxyResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if !payload.Success || payload.Response == "" {
		return nil, ErrInvalidResponse
	}

	return &Response{
		Text:    payload.Response,
		KeyUsed: string(payload.KeyUsed),
		Stats:   payload.Stats,
	}, nil
}

func (c *Client) notify(ctx context.Context, err error, delay time.Duration, retry int) {
	reason := "Network error"
	var pe *ProviderError
	if errors.As(err, &pe) {
		switch pe.Status {
		case http.StatusServiceUnavailable:
			reason = "Service unavailable"
		case http.StatusTooManyRequests:
			reason = "Rate limited"
		}
	}

	n := notify.Notice{
		Level:    notify.Warning,
		Message:  fmt.Sprintf("🔄 %s, retrying in %ds... (%d/%d)", reason, int(math.Round(delay.Seconds())), retry+1, c.maxRetries),
		Duration: delay,
	}
	notify.Multi(c.notifier, notify.FromContext(ctx)).Notify(n)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
