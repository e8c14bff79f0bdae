// Package scheduler runs the recurring maintenance jobs: expired session
// purges, dashboard gauge refreshes and rate limiter resets.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/internal/app/services/users"
	"github.com/appforge-labs/appforge/internal/app/storage"
	"github.com/appforge-labs/appforge/internal/app/system"
	"github.com/appforge-labs/appforge/pkg/logger"
)

var _ system.Service = (*Scheduler)(nil)

const (
	sessionPurgeSpec = "@hourly"
	statsRefreshSpec = "@every 5m"
	limiterResetSpec = "@every 30m"
	jobTimeout       = 30 * time.Second
)

// Scheduler owns the cron runner and the jobs it executes.
type Scheduler struct {
	users         *users.Service
	modules       storage.ModuleStore
	conversations storage.ConversationStore
	log           *logger.Logger

	mu             sync.Mutex
	runner         *cron.Cron
	limiterCleanup func()
	running        bool
}

// New creates a scheduler for the given services. Stores may be nil, in which
// case the jobs that need them become no-ops.
func New(usersSvc *users.Service, modules storage.ModuleStore, conversations storage.ConversationStore, log *logger.Logger) *Scheduler {
	if log == nil {
		log = logger.NewDefault("scheduler")
	}
	return &Scheduler{
		users:         usersSvc,
		modules:       modules,
		conversations: conversations,
		log:           log,
	}
}

// WithRateLimiter assigns the cleanup hook invoked on the limiter reset
// schedule.
func (s *Scheduler) WithRateLimiter(cleanup func()) {
	s.mu.Lock()
	s.limiterCleanup = cleanup
	s.mu.Unlock()
}

func (s *Scheduler) Name() string { return "scheduler" }

// Start registers the cron entries and begins executing them. The gauge
// refresh also runs once immediately so dashboards are populated without
// waiting for the first tick.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runner := cron.New(cron.WithChain(cron.Recover(cronLogger{log: s.log})))

	jobs := []struct {
		spec string
		name string
		run  func(context.Context)
	}{
		{sessionPurgeSpec, "sessions.purge", s.purgeSessions},
		{statsRefreshSpec, "stats.refresh", s.refreshStats},
		{limiterResetSpec, "ratelimit.reset", s.resetLimiter},
	}
	for _, job := range jobs {
		job := job
		if _, err := runner.AddFunc(job.spec, func() { s.runJob(job.name, job.run) }); err != nil {
			return fmt.Errorf("schedule %s: %w", job.name, err)
		}
	}

	runner.Start()
	s.runner = runner
	s.running = true

	go s.runJob("stats.refresh", s.refreshStats)

	s.log.Info("scheduler started")
	return nil
}

// Stop halts the cron runner and waits for in-flight jobs to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	runner := s.runner
	s.runner = nil
	s.running = false
	s.mu.Unlock()

	select {
	case <-runner.Stop().Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) runJob(name string, run func(context.Context)) {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	start := time.Now()
	run(ctx)
	s.log.WithFields(logger.Fields{
		"job":      name,
		"duration": time.Since(start).String(),
	}).Debug("scheduled job finished")
}

func (s *Scheduler) purgeSessions(ctx context.Context) {
	if s.users == nil {
		return
	}
	purged, err := s.users.PurgeExpiredSessions(ctx)
	if err != nil {
		s.log.WithError(err).Warn("session purge failed")
		return
	}
	if purged > 0 {
		s.log.WithField("purged", purged).Info("expired sessions removed")
	}
}

func (s *Scheduler) refreshStats(ctx context.Context) {
	if s.modules != nil {
		if n, err := s.modules.CountModules(ctx); err != nil {
			s.log.WithError(err).Warn("module count failed")
		} else {
			metrics.SetModulesTotal(n)
		}
	}
	if s.conversations != nil {
		if n, err := s.conversations.CountConversations(ctx); err != nil {
			s.log.WithError(err).Warn("conversation count failed")
		} else {
			metrics.SetConversationsTotal(n)
		}
	}
}

func (s *Scheduler) resetLimiter(_ context.Context) {
	s.mu.Lock()
	cleanup := s.limiterCleanup
	s.mu.Unlock()
	if cleanup != nil {
		cleanup()
	}
}

// cronLogger adapts the application logger to the interface cron.Recover
// expects.
type cronLogger struct {
	log *logger.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...interface{}) {
	c.log.WithField("detail", fmt.Sprint(keysAndValues...)).Debug(msg)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	c.log.WithError(err).WithField("detail", fmt.Sprint(keysAndValues...)).Error(msg)
}
