// Package config loads platform configuration from a YAML file with
// environment overrides. A .env file is honored when present.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Model providers.
const (
	ProviderOpenAI = "openai"
	ProviderAzure  = "azure"
)

// Config is the full platform configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	LLM       LLMConfig       `yaml:"llm"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	CORS      CORSConfig      `yaml:"cors"`
	Logging   LoggingConfig   `yaml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Addr         string        `yaml:"addr" env:"APPFORGE_ADDR"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"APPFORGE_READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"APPFORGE_WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"APPFORGE_IDLE_TIMEOUT"`
}

// DatabaseConfig controls the PostgreSQL connection and migrations.
type DatabaseConfig struct {
	DSN             string        `yaml:"dsn" env:"APPFORGE_DATABASE_DSN"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"APPFORGE_DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"APPFORGE_DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"APPFORGE_DATABASE_CONN_MAX_LIFETIME"`
	MigrationsDir   string        `yaml:"migrations_dir" env:"APPFORGE_MIGRATIONS_DIR"`
}

// RedisConfig controls the optional definition cache. An empty Addr disables
// caching entirely.
type RedisConfig struct {
	Addr     string        `yaml:"addr" env:"APPFORGE_REDIS_ADDR"`
	Password string        `yaml:"password" env:"APPFORGE_REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"APPFORGE_REDIS_DB"`
	TTL      time.Duration `yaml:"ttl" env:"APPFORGE_REDIS_TTL"`
}

// LLMConfig configures the hosted model client.
type LLMConfig struct {
	Provider    string        `yaml:"provider" env:"APPFORGE_LLM_PROVIDER"` // openai or azure
	APIKey      string        `yaml:"api_key" env:"APPFORGE_LLM_API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"APPFORGE_LLM_BASE_URL"`
	Model       string        `yaml:"model" env:"APPFORGE_LLM_MODEL"`
	Endpoint    string        `yaml:"endpoint" env:"APPFORGE_LLM_ENDPOINT"`       // azure resource endpoint
	Deployment  string        `yaml:"deployment" env:"APPFORGE_LLM_DEPLOYMENT"`   // azure deployment name
	APIVersion  string        `yaml:"api_version" env:"APPFORGE_LLM_API_VERSION"` // azure api version
	MaxTokens   int           `yaml:"max_tokens" env:"APPFORGE_LLM_MAX_TOKENS"`
	MinInterval time.Duration `yaml:"min_interval" env:"APPFORGE_LLM_MIN_INTERVAL"`
	MaxRetries  int           `yaml:"max_retries" env:"APPFORGE_LLM_MAX_RETRIES"`
	Timeout     time.Duration `yaml:"timeout" env:"APPFORGE_LLM_TIMEOUT"`
}

// AuthConfig controls token issuance and password hashing.
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" env:"APPFORGE_JWT_SECRET"`
	TokenTTL   time.Duration `yaml:"token_ttl" env:"APPFORGE_TOKEN_TTL"`
	BcryptCost int           `yaml:"bcrypt_cost" env:"APPFORGE_BCRYPT_COST"`
}

// RateLimitConfig controls the per-caller request budget.
type RateLimitConfig struct {
	RequestsPerSecond int  `yaml:"requests_per_second" env:"APPFORGE_RATE_LIMIT_RPS"`
	Burst             int  `yaml:"burst" env:"APPFORGE_RATE_LIMIT_BURST"`
	Enabled           bool `yaml:"enabled" env:"APPFORGE_RATE_LIMIT_ENABLED"`
}

// CORSConfig lists allowed browser origins. "*" allows all.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// LoggingConfig mirrors the platform logger configuration.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"APPFORGE_LOG_LEVEL"`
	Format     string `yaml:"format" env:"APPFORGE_LOG_FORMAT"`
	Output     string `yaml:"output" env:"APPFORGE_LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"APPFORGE_LOG_FILE_PREFIX"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" env:"APPFORGE_METRICS_ENABLED"`
}

// Default returns the baseline configuration before file and environment
// overlays.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         ":8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		},
		Database: DatabaseConfig{
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			MigrationsDir:   "migrations",
		},
		Redis: RedisConfig{
			TTL: 10 * time.Minute,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			BaseURL:     "https://api.openai.com/v1",
			Model:       "gpt-4o-mini",
			APIVersion:  "2024-02-01",
			MaxTokens:   1000,
			MinInterval: 500 * time.Millisecond,
			MaxRetries:  3,
			Timeout:     60 * time.Second,
		},
		Auth: AuthConfig{
			TokenTTL:   24 * time.Hour,
			BcryptCost: 10,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 10,
			Burst:             20,
			Enabled:           true,
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{Enabled: true},
	}
}

// Load builds the configuration: defaults, then the YAML file at path (when
// it exists), then environment variables. A .env file in the working
// directory is loaded first so env overrides can come from it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// defaults + env only
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := envdecode.Decode(cfg); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if raw := strings.TrimSpace(os.Getenv("APPFORGE_CORS_ALLOWED_ORIGINS")); raw != "" {
		origins := make([]string, 0)
		for _, origin := range strings.Split(raw, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				origins = append(origins, trimmed)
			}
		}
		cfg.CORS.AllowedOrigins = origins
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the platform cannot run with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Addr) == "" {
		return fmt.Errorf("server.addr is required")
	}
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	switch c.LLM.Provider {
	case ProviderOpenAI, ProviderAzure:
	default:
		return fmt.Errorf("llm.provider must be openai or azure, got %q", c.LLM.Provider)
	}
	if c.LLM.Provider == ProviderAzure && (c.LLM.Endpoint == "" || c.LLM.Deployment == "") {
		return fmt.Errorf("llm.endpoint and llm.deployment are required for the azure provider")
	}
	return nil
}
