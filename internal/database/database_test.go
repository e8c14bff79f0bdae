package database

import (
	"testing"

	"github.com/appforge-labs/appforge/internal/config"
)

func TestOpenRequiresDSN(t *testing.T) {
	if _, err := Open(config.DatabaseConfig{}); err == nil {
		t.Fatal("expected error for missing dsn")
	}
}

func TestMigrateSkipsWithoutDir(t *testing.T) {
	if err := Migrate(nil, ""); err != nil {
		t.Fatalf("expected nil for empty migrations dir, got %v", err)
	}
}
