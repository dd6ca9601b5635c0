package handlers

import (
	"net/http"

	"sati-chat/internal/app"
)

// Route describes one registered endpoint
type Route struct {
	Pattern string
	Auth    string
}

const (
	authNone     = "none"
	authOptional = "optional"
	authRequired = "required"
)

func setCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+SessionHeader)
	w.Header().Set("Access-Control-Expose-Headers", SessionHeader)
}

func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	}
}

// NewRouter registers every API route on a new ServeMux (Go 1.22+ method
// and path-parameter patterns) and returns it with the route table.
func NewRouter(config *app.Config) (*http.ServeMux, []Route) {
	chatHandler := NewChatHandlers(config)
	mux := http.NewServeMux()
	var routes []Route

	required := func(h http.HandlerFunc) http.HandlerFunc {
		if config.Auth == nil {
			return func(w http.ResponseWriter, r *http.Request) {
				chatHandler.sendError(w, http.StatusServiceUnavailable, "Authentication not configured", nil)
			}
		}
		return config.Auth.AuthMiddleware(h)
	}
	optional := func(h http.HandlerFunc) http.HandlerFunc {
		if config.Auth == nil {
			return h
		}
		return config.Auth.OptionalAuthMiddleware(h)
	}
	handle := func(pattern, mode string, h http.HandlerFunc) {
		switch mode {
		case authRequired:
			h = required(h)
		case authOptional:
			h = optional(h)
		}
		mux.HandleFunc(pattern, enableCORS(h))
		routes = append(routes, Route{Pattern: pattern, Auth: mode})
	}

	// CORS preflight for every API path
	mux.HandleFunc("OPTIONS /api/", func(w http.ResponseWriter, r *http.Request) {
		setCORSHeaders(w)
		w.WriteHeader(http.StatusOK)
	})

	// Public routes
	if config.Auth != nil {
		handle("POST /api/login", authNone, config.Auth.LoginHandler)
		handle("POST /api/register", authNone, config.Auth.RegisterHandler)
		handle("POST /api/logout", authNone, config.Auth.AuthMiddleware(config.Auth.LogoutHandler))
	}
	handle("GET /api/health", authNone, chatHandler.HealthHandler)
	handle("GET /api/models", authNone, chatHandler.GetModelsHandler)
	handle("PUT /api/selection", authNone, chatHandler.SetSelectionHandler)
	handle("GET /api/status", authNone, chatHandler.StatusHandler)
	handle("POST /api/providers/{provider}/test", authNone, chatHandler.TestConnectionHandler)
	handle("GET /api/preferences/{key}", authNone, chatHandler.GetPreferenceHandler)
	handle("PUT /api/preferences/{key}", authNone, chatHandler.PutPreferenceHandler)

	// Chat works anonymously; a token makes the exchange persistent
	handle("POST /api/chat", authOptional, chatHandler.ChatHandler)
	handle("POST /api/chat/stop", authOptional, chatHandler.StopHandler)

	// Protected routes
	handle("GET /api/conversations", authRequired, chatHandler.GetConversationsHandler)
	handle("POST /api/conversations", authRequired, chatHandler.CreateConversationHandler)
	handle("GET /api/conversations/{id}", authRequired, chatHandler.GetConversationHandler)
	handle("PATCH /api/conversations/{id}", authRequired, chatHandler.RenameConversationHandler)
	handle("DELETE /api/conversations/{id}", authRequired, chatHandler.DeleteConversationHandler)
	handle("PUT /api/conversations/{id}/bookmark", authRequired, chatHandler.BookmarkHandler)
	handle("GET /api/conversations/{id}/messages", authRequired, chatHandler.GetConversationMessagesHandler)
	handle("DELETE /api/account", authRequired, chatHandler.DeleteAccountHandler)

	return mux, routes
}
