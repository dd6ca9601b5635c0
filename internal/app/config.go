package app

import (
	"fmt"

	"sati-chat/internal/auth"
	"sati-chat/internal/config"
	"sati-chat/internal/knowledge"
	"sati-chat/internal/logger"
	"sati-chat/internal/prefs"
	"sati-chat/internal/provider"
	"sati-chat/internal/repository/db"
	"sati-chat/internal/service/chat"
	"sati-chat/internal/service/conversation"
	"sati-chat/internal/service/llm"
	"sati-chat/internal/service/router"

	"github.com/sirupsen/logrus"
)

// Config holds all application dependencies and configuration
type Config struct {
	// Database interface for data persistence
	DB db.Database
	// Centralized application configuration
	AppConfig *config.AppConfig

	Registry      *provider.Registry
	Prefs         *prefs.Preferences
	Conversations *conversation.ConversationService
	Router        *router.Router
	Chat          *chat.Controller
	// Auth is nil when no signing secret is configured
	Auth *auth.Manager
}

// NewConfig wires every service from its dependencies. A nil database is
// allowed for clients that never sign in.
func NewConfig(database db.Database, prefStore prefs.Store, appConfig *config.AppConfig, sender llm.Sender, opts ...chat.Option) (*Config, error) {
	registry, err := provider.NewRegistry(appConfig.Providers, appConfig.Models)
	if err != nil {
		return nil, fmt.Errorf("failed to build provider registry: %w", err)
	}

	kb := knowledge.Default()
	if appConfig.KnowledgeDir != "" {
		if kb, err = knowledge.LoadDir(appConfig.KnowledgeDir); err != nil {
			return nil, fmt.Errorf("failed to load knowledge base: %w", err)
		}
	}

	if sender == nil {
		sender = llm.NewClient(appConfig.Transport)
	}

	defaults := provider.Selection{
		Provider: appConfig.Providers.DefaultProvider,
		Model:    appConfig.Providers.DefaultModel,
	}
	if !registry.Owns(defaults.Provider, defaults.Model) {
		model, err := registry.DefaultModel(defaults.Provider)
		if err != nil {
			return nil, fmt.Errorf("invalid DEFAULT_PROVIDER: %w", err)
		}
		logger.Log.WithFields(logrus.Fields{"provider": defaults.Provider, "configured": defaults.Model, "model": model}).Warn("DEFAULT_MODEL not served by DEFAULT_PROVIDER, using provider default")
		defaults.Model = model
	}

	c := &Config{
		DB:        database,
		AppConfig: appConfig,
		Registry:  registry,
		Prefs:     prefs.New(prefStore, defaults),
		Router:    router.NewRouter(registry, sender, kb),
	}

	if database != nil {
		if err := appConfig.Auth.Validate(); err == nil {
			if c.Auth, err = auth.NewManager(database, appConfig.Auth); err != nil {
				return nil, err
			}
		} else {
			logger.Log.WithError(err).Warn("Authentication disabled")
		}
	}

	var terminator conversation.SessionTerminator
	if c.Auth != nil {
		terminator = c.Auth
	}
	if database != nil {
		c.Conversations = conversation.NewConversationService(database, terminator)
	}

	var store chat.ConversationStore
	if c.Conversations != nil {
		store = c.Conversations
	}
	c.Chat = chat.NewController(c.Router, store, c.Prefs, registry, opts...)

	return c, nil
}

// ModelsConfig returns the model catalogue
func (c *Config) ModelsConfig() *config.ModelsConfig {
	return c.AppConfig.Models
}
