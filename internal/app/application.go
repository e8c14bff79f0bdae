package app

import (
	"context"
	"fmt"

	"github.com/appforge-labs/appforge/internal/app/services/chat"
	"github.com/appforge-labs/appforge/internal/app/services/diagnostics"
	"github.com/appforge-labs/appforge/internal/app/services/modules"
	"github.com/appforge-labs/appforge/internal/app/services/users"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/internal/app/storage/memory"
	"github.com/appforge-labs/appforge/internal/app/system"
	"github.com/appforge-labs/appforge/internal/app/ws"
	"github.com/appforge-labs/appforge/internal/cache"
	"github.com/appforge-labs/appforge/internal/config"
	"github.com/appforge-labs/appforge/internal/llm"
	"github.com/appforge-labs/appforge/internal/logging"
	"github.com/appforge-labs/appforge/internal/middleware"
	"github.com/appforge-labs/appforge/internal/scheduler"
	"github.com/appforge-labs/appforge/pkg/logger"
)

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Users         storage.UserStore
	Sessions      storage.SessionStore
	APIKeys       storage.APIKeyStore
	Conversations storage.ConversationStore
	Messages      storage.MessageStore
	Modules       storage.ModuleStore
	Tables        storage.TableStore
	States        storage.StateStore
	Data          storage.DataStore
	Inspector     storage.Inspector
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Users       *users.Service
	Modules     *modules.Service
	Chat        *chat.Service
	Diagnostics *diagnostics.Service

	// Hub fans conversation events out to websocket subscribers. RateLimiter
	// is nil when rate limiting is disabled in the configuration.
	Hub         *ws.Hub
	RateLimiter *middleware.RateLimiter
}

// New builds a fully initialised application with the provided stores. The
// assistant may be nil, in which case the chat and module services refuse
// LLM-backed operations but everything else keeps working.
func New(stores Stores, cfg *config.Config, assistant *llm.Assistant, defCache *cache.Cache, log *logger.Logger) (*Application, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if log == nil {
		log = logger.NewDefault("app")
	}

	mem := memory.New()
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Sessions == nil {
		stores.Sessions = mem
	}
	if stores.APIKeys == nil {
		stores.APIKeys = mem
	}
	if stores.Conversations == nil {
		stores.Conversations = mem
	}
	if stores.Messages == nil {
		stores.Messages = mem
	}
	if stores.Modules == nil {
		stores.Modules = mem
	}
	if stores.Tables == nil {
		stores.Tables = mem
	}
	if stores.States == nil {
		stores.States = mem
	}
	if stores.Data == nil {
		stores.Data = mem
	}
	if stores.Inspector == nil {
		stores.Inspector = mem
	}

	manager := system.NewManager()

	userService := users.New(stores.Users, stores.Sessions, stores.APIKeys, cfg.Auth, log)
	moduleService := modules.New(stores.Modules, stores.Tables, stores.States, stores.Data, assistant, defCache, log)
	hub := ws.NewHub(cfg.CORS.AllowedOrigins, log)
	chatService := chat.New(stores.Conversations, stores.Messages, moduleService, assistant, hub, log)
	diagService := diagnostics.New(stores.Inspector, stores.Tables, log)

	var rateLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		rateLimiter = middleware.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst, logging.NewLogger(log))
	}

	sched := scheduler.New(userService, stores.Modules, stores.Conversations, log)
	if rateLimiter != nil {
		sched.WithRateLimiter(rateLimiter.Cleanup)
	}

	for _, svc := range []system.Service{hub, sched} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Users:       userService,
		Modules:     moduleService,
		Chat:        chatService,
		Diagnostics: diagService,
		Hub:         hub,
		RateLimiter: rateLimiter,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
