package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"sati-chat/internal/logger"
	"sati-chat/internal/notify"
	"sati-chat/internal/prefs"
	"sati-chat/internal/provider"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/service/conversation"
	"sati-chat/internal/service/router"
	"sati-chat/internal/session"
	"sati-chat/pkg/validation"

	"github.com/sirupsen/logrus"
)

const (
	// StoppedMessage replaces the reply when the user stops a send
	StoppedMessage = "⏹️ **Generation stopped by user**"
	// SaveFailedMessage is the warning shown when a message cannot be persisted
	SaveFailedMessage = "Failed to save message to cloud"

	titleLength = 50
)

var (
	// ErrInvalidRequest wraps rejected user input
	ErrInvalidRequest = errors.New("invalid request")
	// ErrModelNotServed is returned when a model does not belong to the current provider
	ErrModelNotServed = errors.New("model not served by provider")
	// ErrNoStore is returned for signed-in operations when no database is configured
	ErrNoStore = errors.New("conversation storage not configured")
)

// Router is the message router the controller sends through
type Router interface {
	Route(ctx context.Context, text string, sel provider.Selection) (*router.Reply, error)
	TestConnection(ctx context.Context, sel provider.Selection) (*router.Reply, error)
	Status() map[string]router.KeyStatus
}

// ConversationStore is the email-scoped conversation store
type ConversationStore interface {
	ListConversations(ctx context.Context, email string) ([]db.Conversation, error)
	ListBookmarked(ctx context.Context, email string) ([]db.Conversation, error)
	CreateConversation(ctx context.Context, email, title string) (*db.Conversation, error)
	GetConversation(ctx context.Context, email, id string) (*db.Conversation, error)
	RenameConversation(ctx context.Context, email, id, title string) error
	SetBookmark(ctx context.Context, email, id string, bookmarked bool) error
	DeleteConversation(ctx context.Context, email, id string) error
	ListMessages(ctx context.Context, email, conversationID string) ([]db.Message, error)
	AddMessage(ctx context.Context, email, conversationID, role, content, model string) (*db.Message, error)
	DeleteAccount(ctx context.Context, email string) error
}

// SendRequest contains all the parameters needed to send a message
type SendRequest struct {
	Message        string
	ConversationID string
	// UserEmail is empty for anonymous users
	UserEmail string
	// SessionID distinguishes anonymous sessions; ignored when UserEmail is set
	SessionID string
	// Selection overrides the saved provider/model for this send only
	Selection *provider.Selection
}

// SendResult is the outcome of one send
type SendResult struct {
	ConversationID string          `json:"conversation_id,omitempty"`
	SessionID      string          `json:"session_id,omitempty"`
	Title          string          `json:"title,omitempty"`
	Reply          string          `json:"reply"`
	Provider       string          `json:"provider"`
	Model          string          `json:"model"`
	Institutional  bool            `json:"institutional"`
	Attempts       int             `json:"attempts"`
	Failure        *router.Failure `json:"failure,omitempty"`
	Stopped        bool            `json:"stopped"`
	Notices        []notify.Notice `json:"notices,omitempty"`
}

// Controller handles the business logic for chat operations
type Controller struct {
	router    Router
	store     ConversationStore
	prefs     *prefs.Preferences
	registry  *provider.Registry
	sessions  *session.Manager
	notifier  notify.Notifier
	validator *validation.ChatRequestValidator
	now       func() time.Time

	// localHistory keeps anonymous conversations in the preference store
	localHistory bool
	local        *localConversations
}

// Option configures a Controller
type Option func(*Controller)

// WithNotifier sets a notifier that sees every notice, in addition to the
// per-send collection returned in SendResult.
func WithNotifier(n notify.Notifier) Option {
	return func(c *Controller) { c.notifier = n }
}

// WithLocalHistory keeps anonymous conversations in the preference store.
// Only appropriate when the store belongs to a single device.
func WithLocalHistory() Option {
	return func(c *Controller) { c.localHistory = true }
}

// WithClock overrides the clock used for local conversation timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// NewController creates a new Controller
func NewController(r Router, store ConversationStore, p *prefs.Preferences, registry *provider.Registry, opts ...Option) *Controller {
	c := &Controller{
		router:    r,
		store:     store,
		prefs:     p,
		registry:  registry,
		sessions:  session.NewManager(),
		notifier:  notify.Discard,
		validator: validation.NewChatRequestValidator(),
		now:       time.Now,
	}
	if c.store == nil {
		c.store = noStore{}
	}
	for _, opt := range opts {
		opt(c)
	}
	c.local = &localConversations{prefs: p, now: c.now}
	return c
}

// SessionKey identifies the session whose sends replace each other
func SessionKey(email, sessionID string) string {
	if email != "" {
		return "user:" + email
	}
	if sessionID == "" {
		sessionID = "default"
	}
	return "local:" + sessionID
}

// Send routes one user message and persists both sides of the exchange.
// A send started while another is in flight for the same session cancels
// the earlier one.
func (c *Controller) Send(ctx context.Context, req SendRequest) (*SendResult, error) {
	text := strings.TrimSpace(req.Message)
	if err := c.validator.ValidateMessage(text); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}

	sel, err := c.selectionFor(ctx, req.Selection)
	if err != nil {
		return nil, err
	}

	key := SessionKey(req.UserEmail, req.SessionID)
	runCtx, done := c.sessions.Begin(ctx, key)
	defer done()

	collector := &notify.Collector{}
	runCtx = notify.WithNotifier(runCtx, notify.Multi(c.notifier, collector))

	result := &SendResult{Provider: sel.Provider, Model: sel.Model}
	if req.UserEmail == "" {
		result.SessionID = req.SessionID
	}
	defer func() { result.Notices = collector.Notices() }()

	persist, err := c.beginExchange(runCtx, req, text, result)
	if err != nil {
		return nil, err
	}

	logger.Log.WithFields(logrus.Fields{
		"session":         key,
		"conversation_id": result.ConversationID,
		"provider":        sel.Provider,
		"model":           sel.Model,
	}).Debug("Routing message")

	reply, err := c.router.Route(runCtx, text, sel)
	if err != nil {
		logger.Log.WithFields(logrus.Fields{"session": key, "conversation_id": result.ConversationID}).Info("Generation stopped")
		result.Stopped = true
		result.Reply = StoppedMessage
		return result, nil
	}

	result.Reply = reply.Display()
	result.Provider = reply.Provider
	result.Model = reply.Model
	result.Institutional = reply.Institutional
	result.Attempts = reply.Attempts
	result.Failure = reply.Failure

	// the reply is complete; a stop arriving now must not lose it
	persist(context.WithoutCancel(runCtx), result.Reply, reply.Model)

	return result, nil
}

// beginExchange stores the user turn and returns a func that stores the
// assistant turn. Storage failures become warnings; only an inaccessible
// conversation is an error.
func (c *Controller) beginExchange(ctx context.Context, req SendRequest, text string, result *SendResult) (func(context.Context, string, string), error) {
	noop := func(context.Context, string, string) {}

	if req.UserEmail == "" {
		if !c.localHistory {
			return noop, nil
		}
		conv, err := c.local.appendUser(ctx, req.ConversationID, text)
		if err != nil {
			if errors.Is(err, conversation.ErrNotFoundOrDenied) {
				return nil, err
			}
			c.warnSave(ctx, err, req.ConversationID)
			return noop, nil
		}
		result.ConversationID = conv.ID
		result.Title = conv.Title
		return func(ctx context.Context, content, model string) {
			if err := c.local.appendAssistant(ctx, conv.ID, content, model); err != nil {
				c.warnSave(ctx, err, conv.ID)
			}
		}, nil
	}

	conv, err := c.remoteConversation(ctx, req.UserEmail, req.ConversationID)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFoundOrDenied) {
			return nil, err
		}
		c.warnSave(ctx, err, req.ConversationID)
		return noop, nil
	}
	result.ConversationID = conv.ID
	result.Title = conv.Title

	if _, err := c.store.AddMessage(ctx, req.UserEmail, conv.ID, db.RoleUser, text, ""); err != nil {
		c.warnSave(ctx, err, conv.ID)
	} else if conv.Title == conversation.DefaultTitle {
		title := deriveTitle(text)
		if err := c.store.RenameConversation(ctx, req.UserEmail, conv.ID, title); err != nil {
			logger.Log.WithError(err).WithField("conversation_id", conv.ID).Warn("Failed to set conversation title")
		} else {
			result.Title = title
		}
	}

	return func(ctx context.Context, content, model string) {
		if _, err := c.store.AddMessage(ctx, req.UserEmail, conv.ID, db.RoleAssistant, content, model); err != nil {
			c.warnSave(ctx, err, conv.ID)
		}
	}, nil
}

func (c *Controller) remoteConversation(ctx context.Context, email, id string) (*db.Conversation, error) {
	if id != "" {
		return c.store.GetConversation(ctx, email, id)
	}
	return c.store.CreateConversation(ctx, email, conversation.DefaultTitle)
}

func (c *Controller) warnSave(ctx context.Context, err error, conversationID string) {
	logger.Log.WithError(err).WithField("conversation_id", conversationID).Warn("Failed to save message")
	notify.FromContext(ctx).Notify(notify.Notice{
		Level:    notify.Warning,
		Message:  SaveFailedMessage,
		Duration: 3 * time.Second,
	})
}

// deriveTitle is the first 50 characters of text, with "..." when cut
func deriveTitle(text string) string {
	if utf8.RuneCountInString(text) <= titleLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:titleLength]) + "..."
}

// Stop cancels the in-flight send of a session
func (c *Controller) Stop(email, sessionID string) bool {
	stopped := c.sessions.Stop(SessionKey(email, sessionID))
	if stopped {
		logger.Log.WithField("session", SessionKey(email, sessionID)).Info("Stop requested")
	}
	return stopped
}

// IsLoading reports whether a session has a send in flight
func (c *Controller) IsLoading(email, sessionID string) bool {
	return c.sessions.IsLoading(SessionKey(email, sessionID))
}

// Selection returns the saved provider and model
func (c *Controller) Selection(ctx context.Context) (provider.Selection, error) {
	return c.prefs.Selection(ctx)
}

func (c *Controller) selectionFor(ctx context.Context, override *provider.Selection) (provider.Selection, error) {
	if override != nil && override.Provider != "" {
		sel := *override
		if sel.Model == "" {
			model, err := c.registry.DefaultModel(sel.Provider)
			if err != nil {
				return provider.Selection{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
			}
			sel.Model = model
		}
		return sel, nil
	}
	sel, err := c.prefs.Selection(ctx)
	if err != nil {
		return provider.Selection{}, fmt.Errorf("failed to load selection: %w", err)
	}
	return sel, nil
}

// SwitchProvider saves a new provider, resetting the model to the
// provider's default when the current one does not belong to it
func (c *Controller) SwitchProvider(ctx context.Context, id string) (provider.Selection, error) {
	if _, err := c.registry.Endpoint(id); err != nil {
		return provider.Selection{}, err
	}

	current, err := c.prefs.Selection(ctx)
	if err != nil {
		return provider.Selection{}, fmt.Errorf("failed to load selection: %w", err)
	}
	if err := c.prefs.SetProvider(ctx, id); err != nil {
		return provider.Selection{}, fmt.Errorf("failed to save provider: %w", err)
	}

	sel := provider.Selection{Provider: id, Model: current.Model}
	if !c.registry.Owns(id, sel.Model) {
		sel.Model, _ = c.registry.DefaultModel(id)
		if err := c.prefs.SetModel(ctx, sel.Model); err != nil {
			return provider.Selection{}, fmt.Errorf("failed to save model: %w", err)
		}
	}

	logger.Log.WithFields(logrus.Fields{"provider": sel.Provider, "model": sel.Model}).Info("Provider switched")
	notify.FromContext(ctx).Notify(notify.Notice{
		Level:    notify.Success,
		Message:  fmt.Sprintf("Switched to %s", c.registry.DisplayName(sel.Model)),
		Duration: 2 * time.Second,
	})
	return sel, nil
}

// SetModel saves a model of the current provider
func (c *Controller) SetModel(ctx context.Context, model string) (provider.Selection, error) {
	sel, err := c.prefs.Selection(ctx)
	if err != nil {
		return provider.Selection{}, fmt.Errorf("failed to load selection: %w", err)
	}
	if !c.registry.Owns(sel.Provider, model) {
		return provider.Selection{}, fmt.Errorf("%w: %s does not serve %s", ErrModelNotServed, sel.Provider, model)
	}
	if err := c.prefs.SetModel(ctx, model); err != nil {
		return provider.Selection{}, fmt.Errorf("failed to save model: %w", err)
	}
	sel.Model = model
	return sel, nil
}

// TestConnection sends a greeting through the provider's default model
func (c *Controller) TestConnection(ctx context.Context, providerID string) (*router.Reply, error) {
	model, err := c.registry.DefaultModel(providerID)
	if err != nil {
		return nil, err
	}
	return c.router.TestConnection(ctx, provider.Selection{Provider: providerID, Model: model})
}

// Status returns the providers' latest key statistics
func (c *Controller) Status() map[string]router.KeyStatus {
	return c.router.Status()
}

// Conversations lists the user's conversations, most recently updated first
func (c *Controller) Conversations(ctx context.Context, email string) ([]db.Conversation, error) {
	if email == "" {
		return c.local.list(ctx, false)
	}
	return c.store.ListConversations(ctx, email)
}

// Bookmarked lists the user's bookmarked conversations
func (c *Controller) Bookmarked(ctx context.Context, email string) ([]db.Conversation, error) {
	if email == "" {
		return c.local.list(ctx, true)
	}
	return c.store.ListBookmarked(ctx, email)
}

// NewConversation starts an empty conversation
func (c *Controller) NewConversation(ctx context.Context, email, title string) (*db.Conversation, error) {
	if email == "" {
		return c.local.create(ctx, title)
	}
	return c.store.CreateConversation(ctx, email, title)
}

// Conversation returns one conversation
func (c *Controller) Conversation(ctx context.Context, email, id string) (*db.Conversation, error) {
	if email == "" {
		return c.local.get(ctx, id)
	}
	return c.store.GetConversation(ctx, email, id)
}

// History returns a conversation's messages, oldest first
func (c *Controller) History(ctx context.Context, email, conversationID string) ([]db.Message, error) {
	if email == "" {
		return c.local.messages(ctx, conversationID)
	}
	return c.store.ListMessages(ctx, email, conversationID)
}

// ToggleBookmark flips the bookmark flag and returns the new value
func (c *Controller) ToggleBookmark(ctx context.Context, email, id string) (bool, error) {
	conv, err := c.Conversation(ctx, email, id)
	if err != nil {
		return false, err
	}
	next := !conv.IsBookmarked
	if err := c.SetBookmark(ctx, email, id, next); err != nil {
		return false, err
	}
	return next, nil
}

// SetBookmark sets the bookmark flag
func (c *Controller) SetBookmark(ctx context.Context, email, id string, bookmarked bool) error {
	if email == "" {
		return c.local.update(ctx, id, func(lc *prefs.LocalConversation) { lc.IsBookmarked = bookmarked })
	}
	return c.store.SetBookmark(ctx, email, id, bookmarked)
}

// Rename sets a conversation's title
func (c *Controller) Rename(ctx context.Context, email, id, title string) error {
	title = strings.TrimSpace(title)
	if err := c.validator.ValidateTitle(title); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	if email == "" {
		return c.local.update(ctx, id, func(lc *prefs.LocalConversation) { lc.Title = title })
	}
	return c.store.RenameConversation(ctx, email, id, title)
}

// Delete removes a conversation and its messages
func (c *Controller) Delete(ctx context.Context, email, id string) error {
	if email == "" {
		return c.local.delete(ctx, id)
	}
	return c.store.DeleteConversation(ctx, email, id)
}

// DeleteAccount stops the user's send, then removes all their data and the account
func (c *Controller) DeleteAccount(ctx context.Context, email string) error {
	if email == "" {
		return conversation.ErrUnauthenticated
	}
	c.sessions.Delete(SessionKey(email, ""))
	return c.store.DeleteAccount(ctx, email)
}

// noStore stands in when the controller runs without a database
type noStore struct{}

func (noStore) ListConversations(context.Context, string) ([]db.Conversation, error) {
	return nil, ErrNoStore
}

func (noStore) ListBookmarked(context.Context, string) ([]db.Conversation, error) {
	return nil, ErrNoStore
}

func (noStore) CreateConversation(context.Context, string, string) (*db.Conversation, error) {
	return nil, ErrNoStore
}

func (noStore) GetConversation(context.Context, string, string) (*db.Conversation, error) {
	return nil, ErrNoStore
}

func (noStore) RenameConversation(context.Context, string, string, string) error {
	return ErrNoStore
}

func (noStore) SetBookmark(context.Context, string, string, bool) error {
	return ErrNoStore
}

func (noStore) DeleteConversation(context.Context, string, string) error {
	return ErrNoStore
}

func (noStore) ListMessages(context.Context, string, string) ([]db.Message, error) {
	return nil, ErrNoStore
}

func (noStore) AddMessage(context.Context, string, string, string, string, string) (*db.Message, error) {
	return nil, ErrNoStore
}

func (noStore) DeleteAccount(context.Context, string) error {
	return ErrNoStore
}
