// Package main is the AppForge server entry point. It wires configuration,
// storage, the model assistant and the HTTP API together, then runs until
// interrupted.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	app "github.com/appforge-labs/appforge/internal/app"
	"github.com/appforge-labs/appforge/internal/app/httpapi"
	"github.com/appforge-labs/appforge/internal/app/storage/postgres"
	"github.com/appforge-labs/appforge/internal/cache"
	"github.com/appforge-labs/appforge/internal/config"
	"github.com/appforge-labs/appforge/internal/database"
	"github.com/appforge-labs/appforge/internal/llm"
	"github.com/appforge-labs/appforge/pkg/logger"
)

const shutdownTimeout = 30 * time.Second

func main() {
	cfgPath := os.Getenv("APPFORGE_CONFIG")
	if cfgPath == "" {
		cfgPath = "config.yaml"
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.NewDefault("appforge").Fatalf("load configuration: %v", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:      cfg.Logging.Level,
		Format:     cfg.Logging.Format,
		Output:     cfg.Logging.Output,
		FilePrefix: cfg.Logging.FilePrefix,
	}).WithField("service", "appforge")

	stores := app.Stores{}
	var closeDB func() error
	if cfg.Database.DSN != "" {
		db, err := database.Open(cfg.Database)
		if err != nil {
			log.Fatalf("open database: %v", err)
		}
		closeDB = db.Close
		if err := database.Migrate(db, cfg.Database.MigrationsDir); err != nil {
			log.Fatalf("run migrations: %v", err)
		}
		store := postgres.New(db, log)
		stores = app.Stores{
			Users:         store,
			Sessions:      store,
			APIKeys:       store,
			Conversations: store,
			Messages:      store,
			Modules:       store,
			Tables:        store,
			States:        store,
			Data:          store,
			Inspector:     store,
		}
	} else {
		log.Warn("no database configured; falling back to in-memory storage")
	}

	defCache, err := cache.New(cfg.Redis)
	if err != nil {
		log.WithError(err).Warn("redis unavailable; module caching disabled")
	}

	var assistant *llm.Assistant
	if client, err := llm.NewHTTPClient(cfg.LLM, log); err != nil {
		log.WithError(err).Warn("model provider not configured; assistant features disabled")
	} else {
		assistant = llm.NewAssistant(client, log)
	}

	application, err := app.New(stores, cfg, assistant, defCache, log)
	if err != nil {
		log.Fatalf("assemble application: %v", err)
	}
	if err := application.Start(context.Background()); err != nil {
		log.Fatalf("start services: %v", err)
	}

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpapi.NewHandler(application, cfg, log),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("http server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("http server: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http server shutdown")
	}
	if err := application.Stop(shutdownCtx); err != nil {
		log.WithError(err).Error("service shutdown")
	}
	if err := defCache.Close(); err != nil {
		log.WithError(err).Warn("cache close failed")
	}
	if closeDB != nil {
		if err := closeDB(); err != nil {
			log.WithError(err).Warn("database close failed")
		}
	}
	log.Info("stopped")
}
