package chat

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"sati-chat/internal/config"
	"sati-chat/internal/notify"
	"sati-chat/internal/prefs"
	"sati-chat/internal/provider"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/repository/sqlite"
	"sati-chat/internal/service/conversation"
	"sati-chat/internal/service/llm"
	"sati-chat/internal/service/router"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var groqDefault = provider.Selection{Provider: provider.Groq, Model: "llama-3.1-8b-instant"}

// fakeRouter answers with RouteFunc and records every selection it saw
type fakeRouter struct {
	RouteFunc func(ctx context.Context, text string, sel provider.Selection) (*router.Reply, error)

	mu   sync.Mutex
	seen []provider.Selection
}

func (f *fakeRouter) Route(ctx context.Context, text string, sel provider.Selection) (*router.Reply, error) {
	f.mu.Lock()
	f.seen = append(f.seen, sel)
	f.mu.Unlock()
	if f.RouteFunc != nil {
		return f.RouteFunc(ctx, text, sel)
	}
	return &router.Reply{Text: "answer to " + text, Provider: sel.Provider, Model: sel.Model, Attempts: 1}, nil
}

func (f *fakeRouter) TestConnection(ctx context.Context, sel provider.Selection) (*router.Reply, error) {
	return f.Route(ctx, "Hello, this is a test message.", sel)
}

func (f *fakeRouter) Status() map[string]router.KeyStatus {
	return map[string]router.KeyStatus{}
}

func (f *fakeRouter) selections() []provider.Selection {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]provider.Selection(nil), f.seen...)
}

// blockingRoute waits for cancellation, the way the transport does
func blockingRoute(started chan<- struct{}) func(context.Context, string, provider.Selection) (*router.Reply, error) {
	return func(ctx context.Context, _ string, _ provider.Selection) (*router.Reply, error) {
		started <- struct{}{}
		<-ctx.Done()
		return nil, fmt.Errorf("%w: %w", llm.ErrCancelled, ctx.Err())
	}
}

type fixture struct {
	ctrl   *Controller
	router *fakeRouter
	convs  *conversation.ConversationService
	prefs  *prefs.Preferences
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()

	store, err := sqlite.NewSQLiteDB(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	registry, err := provider.NewRegistry(config.ProvidersConfig{
		GroqEndpoint:   "http://proxy.test/api/groq",
		GeminiEndpoint: "http://proxy.test/api/gemini",
	}, config.NewDefaultModelsConfig())
	require.NoError(t, err)

	convs := conversation.NewConversationService(store, nil)
	p := prefs.New(prefs.NewMemoryStore(), groqDefault)
	r := &fakeRouter{}

	return &fixture{
		ctrl:   NewController(r, convs, p, registry, opts...),
		router: r,
		convs:  convs,
		prefs:  p,
	}
}

func TestSend_AuthenticatedFirstMessage(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ctrl.Send(ctx, SendRequest{Message: "  What courses does SATI offer?  ", UserEmail: "a@x.com"})
	require.NoError(t, err)

	assert.False(t, result.Stopped)
	assert.Equal(t, "answer to What courses does SATI offer?", result.Reply)
	assert.Equal(t, "What courses does SATI offer?", result.Title)
	require.NotEmpty(t, result.ConversationID)

	msgs, err := f.convs.ListMessages(ctx, "a@x.com", result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, db.RoleUser, msgs[0].Role)
	assert.Equal(t, "What courses does SATI offer?", msgs[0].Content)
	assert.Equal(t, db.RoleAssistant, msgs[1].Role)
	assert.Equal(t, "llama-3.1-8b-instant", msgs[1].Model)

	// later messages keep the derived title
	result2, err := f.ctrl.Send(ctx, SendRequest{Message: "And the fees?", UserEmail: "a@x.com", ConversationID: result.ConversationID})
	require.NoError(t, err)
	assert.Equal(t, "What courses does SATI offer?", result2.Title)

	assert.False(t, f.ctrl.IsLoading("a@x.com", ""))
}

func TestSend_LongMessageTitle(t *testing.T) {
	f := newFixture(t)
	msg := strings.Repeat("छात्रावास ", 10)

	result, err := f.ctrl.Send(context.Background(), SendRequest{Message: msg, UserEmail: "a@x.com"})
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(result.Title, "..."))
	assert.Equal(t, 53, len([]rune(result.Title)))
	assert.Equal(t, "abc", deriveTitle("abc"))
	assert.Equal(t, strings.Repeat("x", 50), deriveTitle(strings.Repeat("x", 50)))
}

func TestSend_RejectsEmptyMessage(t *testing.T) {
	f := newFixture(t)

	_, err := f.ctrl.Send(context.Background(), SendRequest{Message: " \n ", UserEmail: "a@x.com"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.Empty(t, f.router.selections())
}

func TestSend_ForeignConversation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	conv, err := f.convs.CreateConversation(ctx, "owner@x.com", "")
	require.NoError(t, err)

	_, err = f.ctrl.Send(ctx, SendRequest{Message: "hi", UserEmail: "intruder@x.com", ConversationID: conv.ID})
	assert.ErrorIs(t, err, conversation.ErrNotFoundOrDenied)
	assert.Empty(t, f.router.selections())
}

func TestSend_FailureTextIsPersisted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.router.RouteFunc = func(_ context.Context, _ string, sel provider.Selection) (*router.Reply, error) {
		return &router.Reply{
			Provider: sel.Provider,
			Model:    sel.Model,
			Failure:  &router.Failure{Kind: router.KindRateLimited, Status: 429, Text: "⏱️ Rate limit reached"},
		}, nil
	}

	result, err := f.ctrl.Send(ctx, SendRequest{Message: "hi", UserEmail: "a@x.com"})
	require.NoError(t, err)
	require.NotNil(t, result.Failure)
	assert.Equal(t, "⏱️ Rate limit reached", result.Reply)

	msgs, err := f.convs.ListMessages(ctx, "a@x.com", result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "⏱️ Rate limit reached", msgs[1].Content)
}

// failingStore rejects every message write
type failingStore struct {
	*conversation.ConversationService
}

func (failingStore) AddMessage(context.Context, string, string, string, string, string) (*db.Message, error) {
	return nil, errors.New("disk full")
}

func TestSend_SaveFailureWarnsAndContinues(t *testing.T) {
	f := newFixture(t)
	ctrl := NewController(f.router, failingStore{f.convs}, f.prefs, f.ctrl.registry)

	result, err := ctrl.Send(context.Background(), SendRequest{Message: "hi", UserEmail: "a@x.com"})
	require.NoError(t, err)

	assert.Equal(t, "answer to hi", result.Reply)
	var warnings []string
	for _, n := range result.Notices {
		if n.Level == notify.Warning {
			warnings = append(warnings, n.Message)
		}
	}
	assert.Equal(t, []string{SaveFailedMessage, SaveFailedMessage}, warnings)
	assert.Equal(t, conversation.DefaultTitle, result.Title, "no title without a saved first message")
}

func TestSend_StopCancelsAndSkipsAssistantWrite(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := make(chan struct{}, 1)
	f.router.RouteFunc = blockingRoute(started)

	type outcome struct {
		result *SendResult
		err    error
	}
	out := make(chan outcome, 1)
	go func() {
		r, err := f.ctrl.Send(ctx, SendRequest{Message: "long question", UserEmail: "a@x.com"})
		out <- outcome{r, err}
	}()

	<-started
	assert.True(t, f.ctrl.IsLoading("a@x.com", ""))
	assert.True(t, f.ctrl.Stop("a@x.com", ""))

	got := <-out
	require.NoError(t, got.err)
	assert.True(t, got.result.Stopped)
	assert.Equal(t, StoppedMessage, got.result.Reply)
	assert.False(t, f.ctrl.IsLoading("a@x.com", ""))

	msgs, err := f.convs.ListMessages(ctx, "a@x.com", got.result.ConversationID)
	require.NoError(t, err)
	require.Len(t, msgs, 1, "only the user turn is stored")
	assert.Equal(t, db.RoleUser, msgs[0].Role)
}

func TestSend_NewSendReplacesInFlight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := make(chan struct{}, 1)
	block := blockingRoute(started)

	var calls int
	var mu sync.Mutex
	f.router.RouteFunc = func(ctx context.Context, text string, sel provider.Selection) (*router.Reply, error) {
		mu.Lock()
		calls++
		first := calls == 1
		mu.Unlock()
		if first {
			return block(ctx, text, sel)
		}
		return &router.Reply{Text: "second", Provider: sel.Provider, Model: sel.Model}, nil
	}

	firstDone := make(chan *SendResult, 1)
	go func() {
		r, _ := f.ctrl.Send(ctx, SendRequest{Message: "first", UserEmail: "a@x.com"})
		firstDone <- r
	}()
	<-started

	second, err := f.ctrl.Send(ctx, SendRequest{Message: "second", UserEmail: "a@x.com"})
	require.NoError(t, err)
	assert.Equal(t, "second", second.Reply)

	select {
	case first := <-firstDone:
		assert.True(t, first.Stopped)
	case <-time.After(5 * time.Second):
		t.Fatal("first send was not cancelled")
	}
	assert.False(t, f.ctrl.IsLoading("a@x.com", ""))
}

func TestSend_OtherSessionsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	started := make(chan struct{}, 1)
	f.router.RouteFunc = blockingRoute(started)

	done := make(chan *SendResult, 1)
	go func() {
		r, _ := f.ctrl.Send(ctx, SendRequest{Message: "slow", UserEmail: "a@x.com"})
		done <- r
	}()
	<-started

	assert.False(t, f.ctrl.Stop("b@x.com", ""))
	assert.True(t, f.ctrl.IsLoading("a@x.com", ""))

	f.ctrl.Stop("a@x.com", "")
	assert.True(t, (<-done).Stopped)
}

func TestSend_SelectionIsSnapshotted(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	f.router.RouteFunc = func(_ context.Context, _ string, sel provider.Selection) (*router.Reply, error) {
		started <- struct{}{}
		<-release
		return &router.Reply{Text: "ok", Provider: sel.Provider, Model: sel.Model}, nil
	}

	done := make(chan *SendResult, 1)
	go func() {
		r, _ := f.ctrl.Send(ctx, SendRequest{Message: "hi", UserEmail: "a@x.com"})
		done <- r
	}()
	<-started

	_, err := f.ctrl.SwitchProvider(ctx, provider.Gemini)
	require.NoError(t, err)
	close(release)

	result := <-done
	assert.Equal(t, provider.Groq, result.Provider)
	assert.Equal(t, "llama-3.1-8b-instant", result.Model)
}

func TestSend_SelectionOverride(t *testing.T) {
	f := newFixture(t)

	result, err := f.ctrl.Send(context.Background(), SendRequest{
		Message:   "hi",
		UserEmail: "a@x.com",
		Selection: &provider.Selection{Provider: provider.Gemini},
	})
	require.NoError(t, err)

	assert.Equal(t, provider.Selection{Provider: provider.Gemini, Model: "gemini-1.5-flash"}, f.router.selections()[0])
	assert.Equal(t, provider.Gemini, result.Provider)

	saved, err := f.ctrl.Selection(context.Background())
	require.NoError(t, err)
	assert.Equal(t, groqDefault, saved, "an override is not saved")
}

func TestSwitchProviderAndSetModel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sel, err := f.ctrl.SwitchProvider(ctx, provider.Gemini)
	require.NoError(t, err)
	assert.Equal(t, provider.Selection{Provider: provider.Gemini, Model: "gemini-1.5-flash"}, sel)

	sel, err = f.ctrl.SetModel(ctx, "gemini-1.5-pro")
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-pro", sel.Model)

	_, err = f.ctrl.SetModel(ctx, "gemma2-9b-it")
	assert.ErrorIs(t, err, ErrModelNotServed)

	_, err = f.ctrl.SwitchProvider(ctx, "openai")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)

	sel, err = f.ctrl.SwitchProvider(ctx, provider.Groq)
	require.NoError(t, err)
	assert.Equal(t, groqDefault, sel)

	_, err = f.ctrl.SetModel(ctx, "deepseek-r1-distill-llama-70b")
	require.NoError(t, err)
	sel, err = f.ctrl.SwitchProvider(ctx, provider.Groq)
	require.NoError(t, err)
	assert.Equal(t, "deepseek-r1-distill-llama-70b", sel.Model, "a model that belongs is kept")
}

func TestAnonymousWithoutLocalHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ctrl.Send(ctx, SendRequest{Message: "hi", SessionID: "browser-1"})
	require.NoError(t, err)
	assert.Equal(t, "answer to hi", result.Reply)
	assert.Empty(t, result.ConversationID)
	assert.Equal(t, "browser-1", result.SessionID)
	assert.Nil(t, f.ctrl.sessions.Get(SessionKey("", "browser-1")), "finished sends leave no session behind")

	convs, err := f.ctrl.Conversations(ctx, "")
	require.NoError(t, err)
	assert.Empty(t, convs)
}

func TestAnonymousLocalHistory(t *testing.T) {
	now := time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, WithLocalHistory(), WithClock(func() time.Time { return now }))
	ctx := context.Background()

	first, err := f.ctrl.Send(ctx, SendRequest{Message: "Where is SATI?"})
	require.NoError(t, err)
	require.NotEmpty(t, first.ConversationID)
	assert.Equal(t, "Where is SATI?", first.Title)

	now = now.Add(time.Minute)
	_, err = f.ctrl.Send(ctx, SendRequest{Message: "Thanks", ConversationID: first.ConversationID})
	require.NoError(t, err)

	history, err := f.ctrl.History(ctx, "", first.ConversationID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, db.RoleUser, history[0].Role)
	assert.Equal(t, "answer to Thanks", history[3].Content)

	now = now.Add(time.Minute)
	other, err := f.ctrl.NewConversation(ctx, "", "")
	require.NoError(t, err)

	convs, err := f.ctrl.Conversations(ctx, "")
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, other.ID, convs[0].ID)

	on, err := f.ctrl.ToggleBookmark(ctx, "", first.ConversationID)
	require.NoError(t, err)
	assert.True(t, on)
	bookmarked, err := f.ctrl.Bookmarked(ctx, "")
	require.NoError(t, err)
	require.Len(t, bookmarked, 1)

	require.NoError(t, f.ctrl.Rename(ctx, "", first.ConversationID, "Campus location"))
	conv, err := f.ctrl.Conversation(ctx, "", first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, "Campus location", conv.Title)

	require.NoError(t, f.ctrl.Delete(ctx, "", first.ConversationID))
	_, err = f.ctrl.History(ctx, "", first.ConversationID)
	assert.ErrorIs(t, err, conversation.ErrNotFoundOrDenied)

	_, err = f.ctrl.Send(ctx, SendRequest{Message: "hi", ConversationID: "gone"})
	assert.ErrorIs(t, err, conversation.ErrNotFoundOrDenied)
}

func TestConversationPassThroughs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	result, err := f.ctrl.Send(ctx, SendRequest{Message: "hi", UserEmail: "a@x.com"})
	require.NoError(t, err)
	id := result.ConversationID

	on, err := f.ctrl.ToggleBookmark(ctx, "a@x.com", id)
	require.NoError(t, err)
	assert.True(t, on)
	off, err := f.ctrl.ToggleBookmark(ctx, "a@x.com", id)
	require.NoError(t, err)
	assert.False(t, off)

	assert.ErrorIs(t, f.ctrl.Rename(ctx, "a@x.com", id, "   "), ErrInvalidRequest)
	require.NoError(t, f.ctrl.Rename(ctx, "a@x.com", id, "Greeting"))

	list, err := f.ctrl.Conversations(ctx, "a@x.com")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Greeting", list[0].Title)

	require.NoError(t, f.ctrl.DeleteAccount(ctx, "a@x.com"))
	list, err = f.ctrl.Conversations(ctx, "a@x.com")
	require.NoError(t, err)
	assert.Empty(t, list)

	assert.ErrorIs(t, f.ctrl.DeleteAccount(ctx, ""), conversation.ErrUnauthenticated)
}

func TestTestConnection(t *testing.T) {
	f := newFixture(t)

	reply, err := f.ctrl.TestConnection(context.Background(), provider.Gemini)
	require.NoError(t, err)
	assert.Equal(t, "gemini-1.5-flash", reply.Model)

	_, err = f.ctrl.TestConnection(context.Background(), "openai")
	assert.ErrorIs(t, err, provider.ErrUnknownProvider)
}

func TestNotifierSeesSendNotices(t *testing.T) {
	seen := &notify.Collector{}
	f := newFixture(t, WithNotifier(seen))
	f.router.RouteFunc = func(ctx context.Context, _ string, sel provider.Selection) (*router.Reply, error) {
		notify.FromContext(ctx).Notify(notify.Notice{Level: notify.Warning, Message: "🔄 Rate limited, retrying in 1s... (1/3)"})
		return &router.Reply{Text: "ok", Provider: sel.Provider, Model: sel.Model}, nil
	}

	result, err := f.ctrl.Send(context.Background(), SendRequest{Message: "hi", UserEmail: "a@x.com"})
	require.NoError(t, err)

	require.Len(t, result.Notices, 1)
	assert.Equal(t, result.Notices, seen.Notices())
}
