package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"sati-chat/internal/app"
	"sati-chat/internal/auth"
	"sati-chat/internal/logger"
	"sati-chat/internal/prefs"
	"sati-chat/internal/provider"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/service/chat"
	"sati-chat/internal/service/conversation"
	"sati-chat/internal/service/router"
	"sati-chat/pkg/validation"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// SessionHeader identifies an anonymous browser session for stop and
// cancel-and-replace.
const SessionHeader = "X-Session-ID"

// maxBodyBytes bounds request bodies; preference values carry editor buffers.
const maxBodyBytes = 1 << 20

// Request/Response types

type ChatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversation_id,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
	Provider       string `json:"provider,omitempty"`
	Model          string `json:"model,omitempty"`
}

type StopRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

type StopResponse struct {
	Stopped bool `json:"stopped"`
}

type ConversationInfo struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	IsBookmarked bool      `json:"is_bookmarked"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ConversationsResponse struct {
	Conversations []ConversationInfo `json:"conversations"`
}

type CreateConversationRequest struct {
	Title string `json:"title"`
}

type RenameRequest struct {
	Title string `json:"title"`
}

type BookmarkRequest struct {
	Bookmarked bool `json:"bookmarked"`
}

type MessageData struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

type MessagesResponse struct {
	Messages []MessageData `json:"messages"`
}

type DeleteResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type ModelInfo struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Reasoning   bool   `json:"reasoning"`
}

type ProviderInfo struct {
	ID           string      `json:"id"`
	DefaultModel string      `json:"default_model"`
	Models       []ModelInfo `json:"models"`
}

type ModelsResponse struct {
	Providers []ProviderInfo     `json:"providers"`
	Selection provider.Selection `json:"selection"`
}

type SelectionRequest struct {
	Provider string `json:"provider,omitempty"`
	Model    string `json:"model,omitempty"`
}

type StatusResponse struct {
	Providers map[string]router.KeyStatus `json:"providers"`
}

type ConnectionTestResponse struct {
	Success  bool            `json:"success"`
	Provider string          `json:"provider"`
	Model    string          `json:"model"`
	Reply    string          `json:"reply,omitempty"`
	Failure  *router.Failure `json:"failure,omitempty"`
}

type PreferenceRequest struct {
	Value string `json:"value"`
}

type PreferenceResponse struct {
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ChatHandlers contains all HTTP handlers for chat operations
type ChatHandlers struct {
	config    *app.Config
	chat      *chat.Controller
	validator *validation.ChatRequestValidator
}

// NewChatHandlers creates a new ChatHandlers instance
func NewChatHandlers(config *app.Config) *ChatHandlers {
	return &ChatHandlers{
		config:    config,
		chat:      config.Chat,
		validator: validation.NewChatRequestValidator(),
	}
}

// HealthHandler reports liveness
func (ch *ChatHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ChatHandler sends one message. Signed-in users get the exchange persisted.
func (ch *ChatHandlers) ChatHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())

	var req ChatRequest
	if err := decode(r, &req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.validator.ValidateChatRequest(req.Message, req.Provider, req.Model); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid chat request", err)
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeader)
	}
	if email == "" && sessionID == "" {
		// each anonymous browser gets its own slot; the id comes back in the reply
		sessionID = uuid.NewString()
	}
	if sessionID != "" {
		w.Header().Set(SessionHeader, sessionID)
	}
	logger.Log.WithFields(logrus.Fields{
		"email":           email,
		"conversation_id": req.ConversationID,
		"provider":        req.Provider,
		"model":           req.Model,
	}).Info("Chat request received")

	sendReq := chat.SendRequest{
		Message:        req.Message,
		ConversationID: req.ConversationID,
		UserEmail:      email,
		SessionID:      sessionID,
	}
	if req.Provider != "" || req.Model != "" {
		sendReq.Selection = &provider.Selection{Provider: req.Provider, Model: req.Model}
	}

	result, err := ch.chat.Send(r.Context(), sendReq)
	if err != nil {
		ch.sendServiceError(w, "Error processing message", err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StopHandler cancels the caller's in-flight send
func (ch *ChatHandlers) StopHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())

	var req StopRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = r.Header.Get(SessionHeader)
	}

	stopped := ch.chat.Stop(email, sessionID)
	logger.Log.WithFields(logrus.Fields{"email": email, "stopped": stopped}).Info("Stop request")
	writeJSON(w, http.StatusOK, StopResponse{Stopped: stopped})
}

// GetConversationsHandler lists the user's conversations, or only the
// bookmarked ones with ?bookmarked=true.
func (ch *ChatHandlers) GetConversationsHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	bookmarked := r.URL.Query().Get("bookmarked") == "true"

	var (
		convs []db.Conversation
		err   error
	)
	if bookmarked {
		convs, err = ch.chat.Bookmarked(r.Context(), email)
	} else {
		convs, err = ch.chat.Conversations(r.Context(), email)
	}
	if err != nil {
		ch.sendServiceError(w, "Error retrieving conversations", err)
		return
	}

	infos := make([]ConversationInfo, 0, len(convs))
	for _, c := range convs {
		infos = append(infos, toConversationInfo(&c))
	}
	writeJSON(w, http.StatusOK, ConversationsResponse{Conversations: infos})
}

// CreateConversationHandler starts an empty conversation
func (ch *ChatHandlers) CreateConversationHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())

	var req CreateConversationRequest
	if err := decode(r, &req); err != nil && !errors.Is(err, io.EOF) {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	conv, err := ch.chat.NewConversation(r.Context(), email, req.Title)
	if err != nil {
		ch.sendServiceError(w, "Error creating conversation", err)
		return
	}
	writeJSON(w, http.StatusCreated, toConversationInfo(conv))
}

// GetConversationHandler returns one conversation
func (ch *ChatHandlers) GetConversationHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())

	conv, err := ch.chat.Conversation(r.Context(), email, r.PathValue("id"))
	if err != nil {
		ch.sendServiceError(w, "Error retrieving conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationInfo(conv))
}

// RenameConversationHandler changes a conversation title
func (ch *ChatHandlers) RenameConversationHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	convID := r.PathValue("id")

	var req RenameRequest
	if err := decode(r, &req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.chat.Rename(r.Context(), email, convID, req.Title); err != nil {
		ch.sendServiceError(w, "Error renaming conversation", err)
		return
	}
	conv, err := ch.chat.Conversation(r.Context(), email, convID)
	if err != nil {
		ch.sendServiceError(w, "Error retrieving conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationInfo(conv))
}

// BookmarkHandler sets or clears the bookmark flag
func (ch *ChatHandlers) BookmarkHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	convID := r.PathValue("id")

	var req BookmarkRequest
	if err := decode(r, &req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := ch.chat.SetBookmark(r.Context(), email, convID, req.Bookmarked); err != nil {
		ch.sendServiceError(w, "Error updating bookmark", err)
		return
	}
	conv, err := ch.chat.Conversation(r.Context(), email, convID)
	if err != nil {
		ch.sendServiceError(w, "Error retrieving conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, toConversationInfo(conv))
}

// GetConversationMessagesHandler returns all messages from a specific conversation
func (ch *ChatHandlers) GetConversationMessagesHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	convID := r.PathValue("id")
	logger.Log.WithFields(logrus.Fields{"email": email, "conversation_id": convID}).Info("Get conversation messages request")

	messages, err := ch.chat.History(r.Context(), email, convID)
	if err != nil {
		ch.sendServiceError(w, "Error retrieving messages", err)
		return
	}

	msgData := make([]MessageData, 0, len(messages))
	for _, msg := range messages {
		msgData = append(msgData, MessageData{
			ID:        msg.ID,
			Role:      msg.Role,
			Content:   msg.Content,
			Model:     msg.Model,
			CreatedAt: msg.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, MessagesResponse{Messages: msgData})
}

// DeleteConversationHandler deletes a specific conversation
func (ch *ChatHandlers) DeleteConversationHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	convID := r.PathValue("id")
	logger.Log.WithFields(logrus.Fields{"email": email, "conversation_id": convID}).Info("Delete conversation request")

	if err := ch.chat.Delete(r.Context(), email, convID); err != nil {
		ch.sendServiceError(w, "Error deleting conversation", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Conversation deleted successfully",
	})
}

// DeleteAccountHandler removes every conversation and the account itself
func (ch *ChatHandlers) DeleteAccountHandler(w http.ResponseWriter, r *http.Request) {
	email := auth.UserFromContext(r.Context())
	logger.Log.WithField("email", email).Warn("Delete account request")

	if err := ch.chat.DeleteAccount(r.Context(), email); err != nil {
		ch.sendServiceError(w, "Error deleting account", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteResponse{
		Success: true,
		Message: "Account deleted successfully",
	})
}

// GetModelsHandler returns the provider catalogue and the saved selection
func (ch *ChatHandlers) GetModelsHandler(w http.ResponseWriter, r *http.Request) {
	registry := ch.config.Registry

	providers := make([]ProviderInfo, 0, len(registry.Providers()))
	for _, id := range registry.Providers() {
		models, err := registry.Models(id)
		if err != nil {
			ch.sendServiceError(w, "Error reading catalogue", err)
			return
		}
		def, _ := registry.DefaultModel(id)
		info := ProviderInfo{ID: id, DefaultModel: def, Models: make([]ModelInfo, 0, len(models))}
		for _, m := range models {
			info.Models = append(info.Models, ModelInfo{
				ID:          m,
				DisplayName: registry.DisplayName(m),
				Reasoning:   registry.IsReasoningModel(m),
			})
		}
		providers = append(providers, info)
	}

	sel, err := ch.chat.Selection(r.Context())
	if err != nil {
		ch.sendServiceError(w, "Error reading selection", err)
		return
	}
	writeJSON(w, http.StatusOK, ModelsResponse{Providers: providers, Selection: sel})
}

// SetSelectionHandler switches provider and/or model. A provider switch
// resets a model the new provider does not serve.
func (ch *ChatHandlers) SetSelectionHandler(w http.ResponseWriter, r *http.Request) {
	var req SelectionRequest
	if err := decode(r, &req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.Provider == "" && req.Model == "" {
		ch.sendError(w, http.StatusBadRequest, "Provider or model is required", nil)
		return
	}

	var (
		sel provider.Selection
		err error
	)
	if req.Provider != "" {
		if sel, err = ch.chat.SwitchProvider(r.Context(), req.Provider); err != nil {
			ch.sendServiceError(w, "Error switching provider", err)
			return
		}
	}
	if req.Model != "" {
		if sel, err = ch.chat.SetModel(r.Context(), req.Model); err != nil {
			ch.sendServiceError(w, "Error selecting model", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, sel)
}

// StatusHandler returns the latest key usage per provider
func (ch *ChatHandlers) StatusHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, StatusResponse{Providers: ch.chat.Status()})
}

// TestConnectionHandler sends the fixed hello prompt to a provider
func (ch *ChatHandlers) TestConnectionHandler(w http.ResponseWriter, r *http.Request) {
	providerID := r.PathValue("provider")

	reply, err := ch.chat.TestConnection(r.Context(), providerID)
	if err != nil {
		ch.sendServiceError(w, "Error testing connection", err)
		return
	}
	writeJSON(w, http.StatusOK, ConnectionTestResponse{
		Success:  reply.Failure == nil,
		Provider: reply.Provider,
		Model:    reply.Model,
		Reply:    reply.Text,
		Failure:  reply.Failure,
	})
}

// GetPreferenceHandler reads one whitelisted preference
func (ch *ChatHandlers) GetPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !prefs.IsKnownKey(key) {
		ch.sendError(w, http.StatusNotFound, "Unknown preference", nil)
		return
	}

	value, found, err := ch.config.Prefs.Store().Get(r.Context(), key)
	if err != nil {
		ch.sendServiceError(w, "Error reading preference", err)
		return
	}
	writeJSON(w, http.StatusOK, PreferenceResponse{Key: key, Value: value, Found: found})
}

// PutPreferenceHandler writes one whitelisted preference. Theme keys go
// through the typed setter so every alias stays in step.
func (ch *ChatHandlers) PutPreferenceHandler(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if !prefs.IsKnownKey(key) {
		ch.sendError(w, http.StatusNotFound, "Unknown preference", nil)
		return
	}

	var req PreferenceRequest
	if err := decode(r, &req); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	var err error
	switch key {
	case prefs.KeyTheme, prefs.KeyThemeLight, prefs.KeyThemeAlias:
		err = ch.config.Prefs.SetTheme(r.Context(), req.Value)
	case prefs.KeyProvider:
		_, err = ch.chat.SwitchProvider(r.Context(), req.Value)
	case prefs.KeySelectedModel:
		_, err = ch.chat.SetModel(r.Context(), req.Value)
	default:
		err = ch.config.Prefs.Store().Set(r.Context(), key, req.Value)
	}
	if err != nil {
		ch.sendServiceError(w, "Error saving preference", err)
		return
	}
	writeJSON(w, http.StatusOK, PreferenceResponse{Key: key, Value: req.Value, Found: true})
}

// statusFor maps service errors onto HTTP status codes
func statusFor(err error) int {
	var inputErr *auth.InputError
	switch {
	case errors.Is(err, conversation.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, conversation.ErrNotFoundOrDenied):
		return http.StatusNotFound
	case errors.Is(err, chat.ErrInvalidRequest),
		errors.Is(err, chat.ErrModelNotServed),
		errors.Is(err, provider.ErrUnknownProvider),
		errors.Is(err, prefs.ErrInvalidTheme),
		errors.As(err, &inputErr):
		return http.StatusBadRequest
	case errors.Is(err, chat.ErrNoStore):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (ch *ChatHandlers) sendServiceError(w http.ResponseWriter, message string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.Log.WithError(err).Error(message)
	}
	ch.sendError(w, status, message, err)
}

// sendError sends a standardized JSON error response
func (ch *ChatHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	writeJSON(w, status, errResp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Log.WithError(err).Warn("Failed to encode response")
	}
}

func decode(r *http.Request, v any) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
}

func toConversationInfo(c *db.Conversation) ConversationInfo {
	return ConversationInfo{
		ID:           c.ID,
		Title:        c.Title,
		IsBookmarked: c.IsBookmarked,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
