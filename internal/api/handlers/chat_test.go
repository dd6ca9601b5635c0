package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"sati-chat/internal/app"
	"sati-chat/internal/auth"
	"sati-chat/internal/config"
	"sati-chat/internal/prefs"
	"sati-chat/internal/provider"
	"sati-chat/internal/repository/sqlite"
	"sati-chat/internal/service/chat"
	"sati-chat/internal/service/llm"
	"sati-chat/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type apiFixture struct {
	t      *testing.T
	mux    *http.ServeMux
	config *app.Config
	sender *testutil.MockSender
}

func newAPIFixture(t *testing.T, withAuth bool) *apiFixture {
	t.Helper()
	store, err := sqlite.NewSQLiteDB(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	cfg := &config.AppConfig{
		Providers: config.ProvidersConfig{
			GroqEndpoint:    "http://proxy.test/api/groq",
			GeminiEndpoint:  "http://proxy.test/api/gemini",
			DefaultProvider: provider.Groq,
			DefaultModel:    "llama-3.1-8b-instant",
		},
		Transport: config.TransportConfig{MaxRetries: 3, BaseDelay: time.Second, RequestTimeout: 30 * time.Second},
		Models:    config.NewDefaultModelsConfig(),
	}
	if withAuth {
		cfg.Auth = config.AuthConfig{JWTSecret: []byte("0123456789abcdef0123456789abcdef"), TokenExpiration: time.Hour}
	}

	sender := &testutil.MockSender{}
	c, err := app.NewConfig(store, prefs.NewMemoryStore(), cfg, sender)
	require.NoError(t, err)

	mux, _ := NewRouter(c)
	return &apiFixture{t: t, mux: mux, config: c, sender: sender}
}

func (f *apiFixture) do(method, path, token string, body any) *httptest.ResponseRecorder {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	return rr
}

func (f *apiFixture) register(email string) string {
	f.t.Helper()
	rr := f.do(http.MethodPost, "/api/register", "", auth.RegisterRequest{Email: email, Password: "secret123"})
	require.Equal(f.t, http.StatusCreated, rr.Code, rr.Body.String())
	var resp auth.RegisterResponse
	require.NoError(f.t, json.Unmarshal(rr.Body.Bytes(), &resp))
	return resp.Token
}

func decodeBody[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

func TestHealthAndCORS(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))

	rr = f.do(http.MethodOptions, "/api/conversations/abc/messages", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Access-Control-Allow-Headers"), SessionHeader)
}

func TestChatHandler_Anonymous(t *testing.T) {
	f := newAPIFixture(t, true)

	rr := f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "What is 2+2?"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	result := decodeBody[chat.SendResult](t, rr)
	assert.Equal(t, "mock reply", result.Reply)
	assert.Empty(t, result.ConversationID, "anonymous server sends are not persisted")
	assert.Equal(t, provider.Groq, result.Provider)
}

func TestChatHandler_Validation(t *testing.T) {
	f := newAPIFixture(t, true)

	rr := f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "   "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "hi", Provider: "openai"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "hi", Model: "gemini-1.5-pro"})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "a model needs its provider")
	assert.Empty(t, f.sender.Calls())

	req := httptest.NewRequest(http.MethodPost, "/api/chat", bytes.NewBufferString("{not json"))
	out := httptest.NewRecorder()
	f.mux.ServeHTTP(out, req)
	assert.Equal(t, http.StatusBadRequest, out.Code)
	errResp := decodeBody[ErrorResponse](t, out)
	assert.Equal(t, http.StatusBadRequest, errResp.Code)
	assert.Equal(t, "Invalid request body", errResp.Message)
}

func TestChatHandler_BadTokenRejected(t *testing.T) {
	f := newAPIFixture(t, true)

	rr := f.do(http.MethodPost, "/api/chat", "garbage", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestConversationLifecycle(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.register("student@satiengg.in")

	rr := f.do(http.MethodPost, "/api/chat", token, ChatRequest{Message: "Tell me about hostel facilities"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	result := decodeBody[chat.SendResult](t, rr)
	require.NotEmpty(t, result.ConversationID)
	assert.Equal(t, "Tell me about hostel facilities", result.Title)
	id := result.ConversationID

	rr = f.do(http.MethodGet, "/api/conversations", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decodeBody[ConversationsResponse](t, rr)
	require.Len(t, list.Conversations, 1)
	assert.Equal(t, id, list.Conversations[0].ID)

	rr = f.do(http.MethodGet, "/api/conversations/"+id+"/messages", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	msgs := decodeBody[MessagesResponse](t, rr)
	require.Len(t, msgs.Messages, 2)
	assert.Equal(t, "user", msgs.Messages[0].Role)
	assert.Equal(t, "assistant", msgs.Messages[1].Role)
	assert.Equal(t, "mock reply", msgs.Messages[1].Content)

	rr = f.do(http.MethodPatch, "/api/conversations/"+id, token, RenameRequest{Title: "Hostel"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "Hostel", decodeBody[ConversationInfo](t, rr).Title)

	rr = f.do(http.MethodPatch, "/api/conversations/"+id, token, RenameRequest{Title: " "})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, "/api/conversations/"+id+"/bookmark", token, BookmarkRequest{Bookmarked: true})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[ConversationInfo](t, rr).IsBookmarked)

	rr = f.do(http.MethodGet, "/api/conversations?bookmarked=true", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Len(t, decodeBody[ConversationsResponse](t, rr).Conversations, 1)

	rr = f.do(http.MethodDelete, "/api/conversations/"+id, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, decodeBody[DeleteResponse](t, rr).Success)

	rr = f.do(http.MethodGet, "/api/conversations/"+id, token, nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestCreateConversationHandler(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.register("a@satiengg.in")

	rr := f.do(http.MethodPost, "/api/conversations", token, nil)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.Equal(t, "New Chat", decodeBody[ConversationInfo](t, rr).Title)
}

func TestConversationsAreOwnerScoped(t *testing.T) {
	f := newAPIFixture(t, true)
	owner := f.register("owner@satiengg.in")
	other := f.register("other@satiengg.in")

	rr := f.do(http.MethodPost, "/api/conversations", owner, CreateConversationRequest{Title: "Mine"})
	require.Equal(t, http.StatusCreated, rr.Code)
	id := decodeBody[ConversationInfo](t, rr).ID

	for _, tc := range []struct {
		method, path string
		body         any
	}{
		{http.MethodGet, "/api/conversations/" + id, nil},
		{http.MethodGet, "/api/conversations/" + id + "/messages", nil},
		{http.MethodPatch, "/api/conversations/" + id, RenameRequest{Title: "Stolen"}},
		{http.MethodPut, "/api/conversations/" + id + "/bookmark", BookmarkRequest{Bookmarked: true}},
		{http.MethodDelete, "/api/conversations/" + id, nil},
		{http.MethodGet, "/api/conversations/missing", nil},
	} {
		rr := f.do(tc.method, tc.path, other, tc.body)
		assert.Equal(t, http.StatusNotFound, rr.Code, "%s %s", tc.method, tc.path)
	}

	rr = f.do(http.MethodPost, "/api/chat", other, ChatRequest{Message: "hi", ConversationID: id})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	f := newAPIFixture(t, true)

	rr := f.do(http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	rr = f.do(http.MethodDelete, "/api/account", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestProtectedRoutesWithoutAuthConfigured(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	rr = f.do(http.MethodPost, "/api/login", "", auth.LoginRequest{Email: "a@x.com", Password: "secret123"})
	assert.NotEqual(t, http.StatusOK, rr.Code, "login is not served without a signing secret")

	rr = f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "hi"})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestDeleteAccountHandler(t *testing.T) {
	f := newAPIFixture(t, true)
	token := f.register("leaving@satiengg.in")

	rr := f.do(http.MethodPost, "/api/chat", token, ChatRequest{Message: "hello"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodDelete, "/api/account", token, nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())

	rr = f.do(http.MethodGet, "/api/conversations", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code, "tokens die with the account")

	rr = f.do(http.MethodPost, "/api/login", "", auth.LoginRequest{Email: "leaving@satiengg.in", Password: "secret123"})
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestChatHandler_AnonymousSendsAreIsolated(t *testing.T) {
	f := newAPIFixture(t, true)

	release := make(chan struct{})
	f.sender.SendFunc = func(ctx context.Context, endpoint, prompt, model string) (*llm.Response, error) {
		select {
		case <-release:
			return &llm.Response{Text: "reply", Attempts: 1}, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var wg sync.WaitGroup
	results := make([]*httptest.ResponseRecorder, 2)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "Explain recursion"})
		}()
		require.Eventually(t, func() bool { return len(f.sender.Calls()) == i+1 }, time.Second, 5*time.Millisecond)
	}

	rr := f.do(http.MethodPost, "/api/chat/stop", "", nil)
	assert.False(t, decodeBody[StopResponse](t, rr).Stopped, "a stop without a session id targets no one")

	close(release)
	wg.Wait()

	var ids []string
	for _, rr := range results {
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		result := decodeBody[chat.SendResult](t, rr)
		assert.False(t, result.Stopped)
		assert.Equal(t, "reply", result.Reply)
		require.NotEmpty(t, result.SessionID)
		assert.Equal(t, result.SessionID, rr.Header().Get(SessionHeader))
		ids = append(ids, result.SessionID)
	}
	assert.NotEqual(t, ids[0], ids[1])
}

func TestChatHandler_ClientSessionID(t *testing.T) {
	f := newAPIFixture(t, true)

	rr := f.do(http.MethodPost, "/api/chat", "", ChatRequest{Message: "hello", SessionID: "tab-7"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "tab-7", decodeBody[chat.SendResult](t, rr).SessionID)
}

func TestStopHandler_NothingInFlight(t *testing.T) {
	f := newAPIFixture(t, true)

	req := httptest.NewRequest(http.MethodPost, "/api/chat/stop", nil)
	req.Header.Set(SessionHeader, "tab-1")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)

	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.False(t, decodeBody[StopResponse](t, rr).Stopped)
}

func TestModelsAndSelection(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodGet, "/api/models", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	models := decodeBody[ModelsResponse](t, rr)
	require.Len(t, models.Providers, 2)
	assert.Equal(t, provider.Selection{Provider: provider.Groq, Model: "llama-3.1-8b-instant"}, models.Selection)

	var reasoning int
	for _, p := range models.Providers {
		for _, m := range p.Models {
			assert.NotEmpty(t, m.DisplayName)
			if m.Reasoning {
				reasoning++
			}
		}
	}
	assert.Equal(t, 1, reasoning)

	rr = f.do(http.MethodPut, "/api/selection", "", SelectionRequest{Provider: provider.Gemini})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, provider.Selection{Provider: provider.Gemini, Model: "gemini-1.5-flash"}, decodeBody[provider.Selection](t, rr))

	rr = f.do(http.MethodPut, "/api/selection", "", SelectionRequest{Model: "gemini-1.5-pro"})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "gemini-1.5-pro", decodeBody[provider.Selection](t, rr).Model)

	rr = f.do(http.MethodPut, "/api/selection", "", SelectionRequest{Model: "gemma2-9b-it"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, "/api/selection", "", SelectionRequest{Provider: "openai"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatusAndConnectionTest(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodPost, "/api/providers/gemini/test", "", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	resp := decodeBody[ConnectionTestResponse](t, rr)
	assert.True(t, resp.Success)
	assert.Equal(t, "gemini-1.5-flash", resp.Model)
	require.Len(t, f.sender.Calls(), 1)
	assert.Equal(t, "http://proxy.test/api/gemini", f.sender.Calls()[0].Endpoint)

	rr = f.do(http.MethodPost, "/api/providers/openai/test", "", nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodGet, "/api/status", "", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestPreferenceHandlers(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodGet, "/api/preferences/sati_materials_branch", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.False(t, decodeBody[PreferenceResponse](t, rr).Found)

	rr = f.do(http.MethodPut, "/api/preferences/sati_materials_branch", "", PreferenceRequest{Value: "cse"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/api/preferences/sati_materials_branch", "", nil)
	got := decodeBody[PreferenceResponse](t, rr)
	assert.True(t, got.Found)
	assert.Equal(t, "cse", got.Value)

	rr = f.do(http.MethodPut, "/api/preferences/sati_programming_code_python", "", PreferenceRequest{Value: "print(1)"})
	require.Equal(t, http.StatusOK, rr.Code)

	rr = f.do(http.MethodGet, "/api/preferences/api_key", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = f.do(http.MethodPut, "/api/preferences/sati_programming_code_PYTHON", "", PreferenceRequest{Value: "x"})
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestPreferenceHandlers_Theme(t *testing.T) {
	f := newAPIFixture(t, false)

	rr := f.do(http.MethodPut, "/api/preferences/theme", "", PreferenceRequest{Value: "light"})
	require.Equal(t, http.StatusOK, rr.Code)

	for _, key := range []string{"sati_theme", "light", "theme"} {
		rr = f.do(http.MethodGet, "/api/preferences/"+key, "", nil)
		assert.Equal(t, "light", decodeBody[PreferenceResponse](t, rr).Value, key)
	}

	rr = f.do(http.MethodPut, "/api/preferences/sati_theme", "", PreferenceRequest{Value: "purple"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = f.do(http.MethodPut, "/api/preferences/sati_api_provider", "", PreferenceRequest{Value: "gemini"})
	require.Equal(t, http.StatusOK, rr.Code)
	sel, err := f.config.Prefs.Selection(t.Context())
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", sel.Model, "switching provider through preferences resets the model")
}
