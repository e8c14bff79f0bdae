// Package httpapi exposes the REST and websocket surface of the application.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"

	app "github.com/appforge-labs/appforge/internal/app"
	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/internal/config"
	"github.com/appforge-labs/appforge/internal/httputil"
	"github.com/appforge-labs/appforge/internal/logging"
	"github.com/appforge-labs/appforge/internal/middleware"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const recentLimit = 5

// handler bundles HTTP endpoints for the application services.
type handler struct {
	app *app.Application
	log *logging.Logger
}

// NewHandler returns the router exposing the REST API. Signup, login, health
// and metrics are public; everything else under /api requires a bearer token
// or API key. The websocket route authenticates inside the handler so
// browsers can pass the token as a query parameter.
func NewHandler(application *app.Application, cfg *config.Config, log *logger.Logger) http.Handler {
	if cfg == nil {
		cfg = config.Default()
	}
	h := &handler{app: application, log: logging.NewLogger(log)}

	r := mux.NewRouter()
	r.Use(middleware.NewTracingMiddleware(logging.NewLogger(log)).Handler)
	r.Use(middleware.NewCORSMiddleware(cfg.CORS.AllowedOrigins).Handler)
	if cfg.Metrics.Enabled {
		r.Use(middleware.MetricsMiddleware())
	}
	if application.RateLimiter != nil {
		r.Use(application.RateLimiter.Handler)
	}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	if cfg.Metrics.Enabled {
		r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	}

	// Preflight requests need a matching route for the CORS middleware to run.
	r.PathPrefix("/").Methods(http.MethodOptions).HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	api := r.PathPrefix("/api").Subrouter()
	api.HandleFunc("/auth/signup", h.signup).Methods(http.MethodPost)
	api.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	api.HandleFunc("/conversations/{id}/ws", h.conversationSocket).Methods(http.MethodGet)

	auth := middleware.NewAuthMiddleware(application.Users, logging.NewLogger(log))
	private := api.NewRoute().Subrouter()
	private.Use(auth.Handler)

	private.HandleFunc("/auth/logout", h.logout).Methods(http.MethodPost)
	private.HandleFunc("/auth/profile", h.profile).Methods(http.MethodGet)
	private.HandleFunc("/auth/profile", h.updateProfile).Methods(http.MethodPut)
	private.HandleFunc("/auth/apikeys", h.createAPIKey).Methods(http.MethodPost)
	private.HandleFunc("/auth/apikeys", h.listAPIKeys).Methods(http.MethodGet)
	private.HandleFunc("/auth/apikeys/{keyID}", h.revokeAPIKey).Methods(http.MethodDelete)

	private.HandleFunc("/overview", h.overview).Methods(http.MethodGet)

	private.HandleFunc("/conversations", h.listConversations).Methods(http.MethodGet)
	private.HandleFunc("/conversations", h.createConversation).Methods(http.MethodPost)
	private.HandleFunc("/conversations/{id}", h.getConversation).Methods(http.MethodGet)
	private.HandleFunc("/conversations/{id}", h.updateConversation).Methods(http.MethodPatch)
	private.HandleFunc("/conversations/{id}", h.deleteConversation).Methods(http.MethodDelete)
	private.HandleFunc("/conversations/{id}/messages", h.listMessages).Methods(http.MethodGet)
	private.HandleFunc("/conversations/{id}/messages", h.postMessage).Methods(http.MethodPost)

	private.HandleFunc("/modules", h.listModules).Methods(http.MethodGet)
	private.HandleFunc("/modules", h.createModule).Methods(http.MethodPost)
	private.HandleFunc("/modules/{id}", h.getModule).Methods(http.MethodGet)
	private.HandleFunc("/modules/{id}", h.updateModule).Methods(http.MethodPut)
	private.HandleFunc("/modules/{id}", h.deleteModule).Methods(http.MethodDelete)
	private.HandleFunc("/modules/{id}/generate_ui", h.generateUI).Methods(http.MethodPost)
	private.HandleFunc("/modules/{id}/seed", h.seedModule).Methods(http.MethodPost)
	private.HandleFunc("/modules/{id}/data/{table}", h.queryRecords).Methods(http.MethodGet)
	private.HandleFunc("/modules/{id}/data/{table}", h.insertRecord).Methods(http.MethodPost)
	private.HandleFunc("/modules/{id}/data/{table}/{recordID}", h.getRecord).Methods(http.MethodGet)
	private.HandleFunc("/modules/{id}/data/{table}/{recordID}", h.updateRecord).Methods(http.MethodPut)
	private.HandleFunc("/modules/{id}/data/{table}/{recordID}", h.deleteRecord).Methods(http.MethodDelete)

	private.HandleFunc("/diagnostics/database", h.diagnosticsDatabase).Methods(http.MethodGet)
	private.HandleFunc("/diagnostics/system", h.diagnosticsSystem).Methods(http.MethodGet)

	return r
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   "appforge",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// overview returns the user's most recently touched modules and
// conversations for the dashboard.
func (h *handler) overview(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	mods, err := h.app.Modules.List(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	convs, err := h.app.Chat.List(r.Context(), userID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if len(mods) > recentLimit {
		mods = mods[:recentLimit]
	}
	if len(convs) > recentLimit {
		convs = convs[:recentLimit]
	}

	httputil.WriteJSON(w, http.StatusOK, struct {
		RecentModules       []module.Module             `json:"recent_modules"`
		RecentConversations []conversation.Conversation `json:"recent_conversations"`
	}{RecentModules: mods, RecentConversations: convs})
}

func (h *handler) diagnosticsDatabase(w http.ResponseWriter, r *http.Request) {
	report, err := h.app.Diagnostics.Database(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, report)
}

func (h *handler) diagnosticsSystem(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.app.Diagnostics.System(r.Context()))
}
