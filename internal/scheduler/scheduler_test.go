package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/appforge-labs/appforge/internal/app/domain/conversation"
	"github.com/appforge-labs/appforge/internal/app/domain/module"
	"github.com/appforge-labs/appforge/internal/app/domain/user"
	"github.com/appforge-labs/appforge/internal/app/metrics"
	"github.com/appforge-labs/appforge/internal/app/services/users"
	"github.com/appforge-labs/appforge/internal/app/storage/memory"
	"github.com/appforge-labs/appforge/internal/config"
)

func gaugeValue(t *testing.T, name string) float64 {
	t.Helper()
	families, err := metrics.Registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range families {
		if mf.GetName() == name {
			return mf.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatalf("metric %s not registered", name)
	return 0
}

func TestSchedulerLifecycle(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()

	if err := s.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := s.Start(ctx); err != nil {
		t.Fatalf("second start should be a no-op: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if err := s.Stop(ctx); err != nil {
		t.Fatalf("second stop should be a no-op: %v", err)
	}
}

func TestRefreshStatsUpdatesGauges(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	for _, name := range []string{"Inventory", "CRM"} {
		if _, err := store.CreateModule(ctx, module.Module{UserID: "u1", Name: name}); err != nil {
			t.Fatalf("create module: %v", err)
		}
	}
	if _, err := store.CreateConversation(ctx, conversation.Conversation{UserID: "u1", Title: "Chat"}); err != nil {
		t.Fatalf("create conversation: %v", err)
	}

	s := New(nil, store, store, nil)
	s.refreshStats(ctx)

	if got := gaugeValue(t, "appforge_modules_total"); got != 2 {
		t.Fatalf("modules gauge = %v, want 2", got)
	}
	if got := gaugeValue(t, "appforge_conversations_total"); got != 1 {
		t.Fatalf("conversations gauge = %v, want 1", got)
	}
}

func TestPurgeSessionsRemovesExpired(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "stale", ExpiresAt: now.Add(-time.Hour)}); err != nil {
		t.Fatalf("create expired session: %v", err)
	}
	if _, err := store.CreateSession(ctx, user.Session{UserID: "u1", TokenHash: "live", ExpiresAt: now.Add(time.Hour)}); err != nil {
		t.Fatalf("create live session: %v", err)
	}

	userSvc := users.New(store, store, store, config.AuthConfig{JWTSecret: "test-secret"}, nil)
	s := New(userSvc, nil, nil, nil)
	s.purgeSessions(ctx)

	if n, err := userSvc.PurgeExpiredSessions(ctx); err != nil || n != 0 {
		t.Fatalf("expected nothing left to purge, got n=%d err=%v", n, err)
	}
	if _, err := store.GetSessionByTokenHash(ctx, "live"); err != nil {
		t.Fatalf("live session should survive the purge: %v", err)
	}
	if _, err := store.GetSessionByTokenHash(ctx, "stale"); err == nil {
		t.Fatal("expired session should be gone")
	}
}

func TestLimiterResetCallsHook(t *testing.T) {
	s := New(nil, nil, nil, nil)

	s.resetLimiter(context.Background())

	calls := 0
	s.WithRateLimiter(func() { calls++ })
	s.resetLimiter(context.Background())
	if calls != 1 {
		t.Fatalf("cleanup hook calls = %d, want 1", calls)
	}
}
