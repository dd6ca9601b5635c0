package prefs

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"sati-chat/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaultSelection = provider.Selection{Provider: provider.Groq, Model: "llama-3.1-8b-instant"}

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prefs", "prefs.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqliteStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqliteStore,
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.Get(ctx, KeyProvider)
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, store.Set(ctx, KeyProvider, provider.Gemini))
			require.NoError(t, store.Set(ctx, KeyProvider, provider.Groq))

			v, ok, err := store.Get(ctx, KeyProvider)
			require.NoError(t, err)
			assert.True(t, ok)
			assert.Equal(t, provider.Groq, v, "last write wins")

			require.NoError(t, store.Set(ctx, KeyTerminalOutput, ""))
			v, ok, err = store.Get(ctx, KeyTerminalOutput)
			require.NoError(t, err)
			assert.True(t, ok, "empty values are still present")
			assert.Empty(t, v)

			require.NoError(t, store.Delete(ctx, KeyProvider))
			require.NoError(t, store.Delete(ctx, KeyProvider))
			_, ok, err = store.Get(ctx, KeyProvider)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestSQLiteStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "prefs.db")
	ctx := context.Background()

	first, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, first.Set(ctx, KeySelectedModel, "gemini-1.5-pro"))
	require.NoError(t, first.Close())

	second, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer second.Close()

	v, ok, err := second.Get(ctx, KeySelectedModel)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "gemini-1.5-pro", v)
}

func TestTheme(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := New(store, defaultSelection)

	theme, err := p.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, theme)

	require.NoError(t, store.Set(ctx, KeyThemeAlias, ThemeLight))
	theme, err = p.Theme(ctx)
	require.NoError(t, err)
	assert.Equal(t, ThemeLight, theme, "aliases are honoured")

	require.NoError(t, p.SetTheme(ctx, ThemeDark))
	for _, key := range []string{KeyTheme, KeyThemeLight, KeyThemeAlias} {
		v, _, _ := store.Get(ctx, key)
		assert.Equal(t, ThemeDark, v, key)
	}

	assert.ErrorIs(t, p.SetTheme(ctx, "solarized"), ErrInvalidTheme)
}

func TestSelection(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemoryStore(), defaultSelection)

	sel, err := p.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, defaultSelection, sel)

	require.NoError(t, p.SetProvider(ctx, provider.Gemini))
	sel, err = p.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.Selection{Provider: provider.Gemini, Model: "llama-3.1-8b-instant"}, sel, "provider change leaves the model alone")

	require.NoError(t, p.SetModel(ctx, "gemini-1.5-flash"))
	sel, err = p.Selection(ctx)
	require.NoError(t, err)
	assert.Equal(t, provider.Selection{Provider: provider.Gemini, Model: "gemini-1.5-flash"}, sel)
}

func TestEditorAndMaterials(t *testing.T) {
	ctx := context.Background()
	p := New(NewMemoryStore(), defaultSelection)

	require.NoError(t, p.SetCode(ctx, "python", "print('hi')"))
	code, err := p.Code(ctx, "python")
	require.NoError(t, err)
	assert.Equal(t, "print('hi')", code)

	code, err = p.Code(ctx, "c")
	require.NoError(t, err)
	assert.Empty(t, code)

	require.NoError(t, p.SetTerminalHistory(ctx, []string{"ls", "run"}))
	history, err := p.TerminalHistory(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"ls", "run"}, history)

	require.NoError(t, p.SetTerminalOutput(ctx, "ok\n"))
	out, err := p.TerminalOutput(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", out)

	m := Materials{Category: "notes", Branch: "cse", Resource: "dbms"}
	require.NoError(t, p.SetMaterials(ctx, m))
	got, err := p.Materials(ctx)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestLocalConversations(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := New(store, defaultSelection)

	convs, err := p.LocalConversations(ctx)
	require.NoError(t, err)
	assert.NotNil(t, convs)
	assert.Empty(t, convs)

	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	saved := []LocalConversation{{
		ID:        "1",
		Title:     "New Chat",
		Messages:  []LocalMessage{{Role: "user", Content: "hi", CreatedAt: now}},
		CreatedAt: now,
		UpdatedAt: now,
	}}
	require.NoError(t, p.SaveLocalConversations(ctx, saved))

	convs, err = p.LocalConversations(ctx)
	require.NoError(t, err)
	assert.Equal(t, saved, convs)

	require.NoError(t, store.Set(ctx, KeyConversations, "{not json"))
	convs, err = p.LocalConversations(ctx)
	require.NoError(t, err)
	assert.Empty(t, convs)

	require.NoError(t, p.ClearLocalConversations(ctx))
	_, ok, _ := store.Get(ctx, KeyConversations)
	assert.False(t, ok)
}

func TestIsKnownKey(t *testing.T) {
	tests := []struct {
		key  string
		want bool
	}{
		{KeyTheme, true},
		{KeyThemeLight, true},
		{KeyProvider, true},
		{KeyMaterialsResource, true},
		{"sati_programming_code_python", true},
		{"sati_programming_code_c++", true},
		{"sati_programming_code_", false},
		{"sati_programming_code_../../etc", false},
		{"sati_logged_in", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, IsKnownKey(tt.key))
		})
	}
}
