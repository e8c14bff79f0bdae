package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadAppliesFileOverDefaults(t *testing.T) {
	t.Setenv("APPFORGE_JWT_SECRET", "")
	path := writeConfig(t, `
server:
  addr: ":9090"
auth:
  jwt_secret: test-secret
llm:
  provider: openai
  model: gpt-4o
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":9090" {
		t.Fatalf("addr: got %q", cfg.Server.Addr)
	}
	if cfg.LLM.Model != "gpt-4o" {
		t.Fatalf("model: got %q", cfg.LLM.Model)
	}
	// defaults survive where the file is silent
	if cfg.Server.ReadTimeout != 30*time.Second {
		t.Fatalf("read timeout default lost: %v", cfg.Server.ReadTimeout)
	}
	if cfg.RateLimit.RequestsPerSecond != 10 {
		t.Fatalf("rate limit default lost: %d", cfg.RateLimit.RequestsPerSecond)
	}
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := writeConfig(t, `
auth:
  jwt_secret: file-secret
`)
	t.Setenv("APPFORGE_JWT_SECRET", "env-secret")
	t.Setenv("APPFORGE_ADDR", ":7070")
	t.Setenv("APPFORGE_CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Fatalf("jwt secret: got %q", cfg.Auth.JWTSecret)
	}
	if cfg.Server.Addr != ":7070" {
		t.Fatalf("addr: got %q", cfg.Server.Addr)
	}
	if len(cfg.CORS.AllowedOrigins) != 2 || cfg.CORS.AllowedOrigins[1] != "https://b.example" {
		t.Fatalf("cors origins: got %v", cfg.CORS.AllowedOrigins)
	}
}

func TestValidateRejectsMissingSecret(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing jwt secret")
	}
}

func TestValidateAzureRequiresEndpoint(t *testing.T) {
	cfg := Default()
	cfg.Auth.JWTSecret = "s"
	cfg.LLM.Provider = "azure"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for azure provider without endpoint")
	}

	cfg.LLM.Endpoint = "https://example.openai.azure.com"
	cfg.LLM.Deployment = "gpt-4o"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv("APPFORGE_JWT_SECRET", "env-secret")
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("addr default lost: %q", cfg.Server.Addr)
	}
}
