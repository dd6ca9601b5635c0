package prefs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"sati-chat/internal/provider"
)

const (
	ThemeDark  = "dark"
	ThemeLight = "light"
)

// ErrInvalidTheme is returned by SetTheme for values other than light/dark
var ErrInvalidTheme = errors.New("invalid theme")

// LocalMessage is one turn of a conversation kept on this device
type LocalMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

// LocalConversation is a conversation of an unauthenticated user
type LocalConversation struct {
	ID           string         `json:"id"`
	Title        string         `json:"title"`
	Messages     []LocalMessage `json:"messages"`
	IsBookmarked bool           `json:"is_bookmarked"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// Materials is the resource browser's navigation state
type Materials struct {
	Category string `json:"category"`
	Branch   string `json:"branch"`
	Resource string `json:"resource"`
}

// Preferences is a typed view over a Store
type Preferences struct {
	store    Store
	defaults provider.Selection
}

// New wraps store. defaults is the selection used before anything is saved.
func New(store Store, defaults provider.Selection) *Preferences {
	return &Preferences{store: store, defaults: defaults}
}

// Store exposes the underlying key/value store
func (p *Preferences) Store() Store {
	return p.store
}

// Theme returns the saved theme, checking every alias, or dark
func (p *Preferences) Theme(ctx context.Context) (string, error) {
	for _, key := range []string{KeyTheme, KeyThemeLight, KeyThemeAlias} {
		v, ok, err := p.store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		if ok && (v == ThemeDark || v == ThemeLight) {
			return v, nil
		}
	}
	return ThemeDark, nil
}

// SetTheme writes theme under all three aliases
func (p *Preferences) SetTheme(ctx context.Context, theme string) error {
	if theme != ThemeDark && theme != ThemeLight {
		return fmt.Errorf("%w: %q", ErrInvalidTheme, theme)
	}
	for _, key := range []string{KeyTheme, KeyThemeLight, KeyThemeAlias} {
		if err := p.store.Set(ctx, key, theme); err != nil {
			return err
		}
	}
	return nil
}

// Selection returns the saved provider and model, filling gaps from defaults
func (p *Preferences) Selection(ctx context.Context) (provider.Selection, error) {
	sel := p.defaults

	v, ok, err := p.store.Get(ctx, KeyProvider)
	if err != nil {
		return provider.Selection{}, err
	}
	if ok && v != "" {
		sel.Provider = v
	}

	v, ok, err = p.store.Get(ctx, KeySelectedModel)
	if err != nil {
		return provider.Selection{}, err
	}
	if ok && v != "" {
		sel.Model = v
	}
	return sel, nil
}

// SetProvider saves the provider only; the model is left for the caller
func (p *Preferences) SetProvider(ctx context.Context, id string) error {
	return p.store.Set(ctx, KeyProvider, id)
}

// SetModel saves the selected model
func (p *Preferences) SetModel(ctx context.Context, model string) error {
	return p.store.Set(ctx, KeySelectedModel, model)
}

// Code returns the saved editor buffer for language
func (p *Preferences) Code(ctx context.Context, language string) (string, error) {
	v, _, err := p.store.Get(ctx, CodeKey(language))
	return v, err
}

// SetCode saves the editor buffer for language
func (p *Preferences) SetCode(ctx context.Context, language, code string) error {
	return p.store.Set(ctx, CodeKey(language), code)
}

// TerminalHistory returns the saved terminal command history
func (p *Preferences) TerminalHistory(ctx context.Context) ([]string, error) {
	var history []string
	if err := p.getJSON(ctx, KeyTerminalHistory, &history); err != nil {
		return nil, err
	}
	return history, nil
}

// SetTerminalHistory saves the terminal command history
func (p *Preferences) SetTerminalHistory(ctx context.Context, history []string) error {
	return p.setJSON(ctx, KeyTerminalHistory, history)
}

// TerminalOutput returns the saved terminal output
func (p *Preferences) TerminalOutput(ctx context.Context) (string, error) {
	v, _, err := p.store.Get(ctx, KeyTerminalOutput)
	return v, err
}

// SetTerminalOutput saves the terminal output
func (p *Preferences) SetTerminalOutput(ctx context.Context, output string) error {
	return p.store.Set(ctx, KeyTerminalOutput, output)
}

// Materials returns the resource browser state
func (p *Preferences) Materials(ctx context.Context) (Materials, error) {
	var m Materials
	var err error
	if m.Category, _, err = p.store.Get(ctx, KeyMaterialsCategory); err != nil {
		return Materials{}, err
	}
	if m.Branch, _, err = p.store.Get(ctx, KeyMaterialsBranch); err != nil {
		return Materials{}, err
	}
	if m.Resource, _, err = p.store.Get(ctx, KeyMaterialsResource); err != nil {
		return Materials{}, err
	}
	return m, nil
}

// SetMaterials saves the resource browser state
func (p *Preferences) SetMaterials(ctx context.Context, m Materials) error {
	if err := p.store.Set(ctx, KeyMaterialsCategory, m.Category); err != nil {
		return err
	}
	if err := p.store.Set(ctx, KeyMaterialsBranch, m.Branch); err != nil {
		return err
	}
	return p.store.Set(ctx, KeyMaterialsResource, m.Resource)
}

// LocalConversations returns the device-local conversation list. A corrupt
// value reads as empty.
func (p *Preferences) LocalConversations(ctx context.Context) ([]LocalConversation, error) {
	convs := []LocalConversation{}
	if err := p.getJSON(ctx, KeyConversations, &convs); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
			return []LocalConversation{}, nil
		}
		return nil, err
	}
	return convs, nil
}

// SaveLocalConversations replaces the device-local conversation list
func (p *Preferences) SaveLocalConversations(ctx context.Context, convs []LocalConversation) error {
	return p.setJSON(ctx, KeyConversations, convs)
}

// ClearLocalConversations removes the device-local conversation list
func (p *Preferences) ClearLocalConversations(ctx context.Context) error {
	return p.store.Delete(ctx, KeyConversations)
}

func (p *Preferences) getJSON(ctx context.Context, key string, out any) error {
	v, ok, err := p.store.Get(ctx, key)
	if err != nil || !ok || v == "" {
		return err
	}
	if err := json.Unmarshal([]byte(v), out); err != nil {
		return fmt.Errorf("error decoding preference %q: %w", key, err)
	}
	return nil
}

func (p *Preferences) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("error encoding preference %q: %w", key, err)
	}
	return p.store.Set(ctx, key, string(data))
}
