// Package config loads Estrateo configuration from defaults, an optional YAML
// file, an optional .env file and the process environment, in that order of
// increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/estrateo/estrateo/pkg/logger"
)

// ConfigFileEnv names the environment variable pointing at a YAML config file.
const ConfigFileEnv = "ESTRATEO_CONFIG"

// Config is the API server configuration.
type Config struct {
	Env       string               `yaml:"env" env:"ESTRATEO_ENV"`
	Server    ServerConfig         `yaml:"server"`
	Database  DatabaseConfig       `yaml:"database"`
	Auth      AuthConfig           `yaml:"auth"`
	Logging   logger.LoggingConfig `yaml:"logging"`
	RateLimit RateLimitConfig      `yaml:"rate_limit"`
	Inventory InventoryConfig      `yaml:"inventory"`
	Assistant AssistantConfig      `yaml:"assistant"`
	Audit     AuditConfig          `yaml:"audit"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	Host            string        `yaml:"host" env:"SERVER_HOST"`
	Port            int           `yaml:"port" env:"SERVER_PORT"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT"`
	CORSOrigins     string        `yaml:"cors_origins" env:"CORS_ALLOWED_ORIGINS"`
}

// Addr returns the host:port listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// AllowedOrigins splits the comma separated CORS origin list.
func (s ServerConfig) AllowedOrigins() []string {
	return SplitList(s.CORSOrigins)
}

// DatabaseConfig selects and tunes the relational store.
type DatabaseConfig struct {
	Driver          string        `yaml:"driver" env:"DATABASE_DRIVER"`
	DSN             string        `yaml:"dsn" env:"DATABASE_URL"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DATABASE_MAX_OPEN_CONNS"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DATABASE_MAX_IDLE_CONNS"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DATABASE_CONN_MAX_LIFETIME"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DATABASE_AUTO_MIGRATE"`
}

// AuthConfig controls JWT issuance.
type AuthConfig struct {
	JWTSecret string        `yaml:"jwt_secret" env:"JWT_SECRET"`
	TokenTTL  time.Duration `yaml:"token_ttl" env:"JWT_TTL"`
	Issuer    string        `yaml:"issuer" env:"JWT_ISSUER"`
}

// RateLimitConfig throttles API clients.
type RateLimitConfig struct {
	RequestsPerSecond float64 `yaml:"requests_per_second" env:"RATE_LIMIT_RPS"`
	Burst             int     `yaml:"burst" env:"RATE_LIMIT_BURST"`
}

// InventoryConfig drives the background stock scanner.
type InventoryConfig struct {
	ScanSchedule string        `yaml:"scan_schedule" env:"INVENTORY_SCAN_SCHEDULE"`
	ExpiryWindow time.Duration `yaml:"expiry_window" env:"INVENTORY_EXPIRY_WINDOW"`
}

// AssistantConfig points the business assistant at the AI proxy.
type AssistantConfig struct {
	ProxyURL string        `yaml:"proxy_url" env:"ASSISTANT_PROXY_URL"`
	Model    string        `yaml:"model" env:"ASSISTANT_MODEL"`
	Timeout  time.Duration `yaml:"timeout" env:"ASSISTANT_TIMEOUT"`
}

// AuditConfig controls the request audit trail.
type AuditConfig struct {
	FilePath   string `yaml:"file_path" env:"AUDIT_LOG_FILE"`
	MaxEntries int    `yaml:"max_entries" env:"AUDIT_MAX_ENTRIES"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Env: "development",
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
			CORSOrigins:     "http://localhost:3000,http://localhost:5173",
		},
		Database: DatabaseConfig{
			Driver:          "memory",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 30 * time.Minute,
			AutoMigrate:     true,
		},
		Auth: AuthConfig{
			TokenTTL: 24 * time.Hour,
			Issuer:   "estrateo",
		},
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stdout",
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 20,
			Burst:             40,
		},
		Inventory: InventoryConfig{
			ScanSchedule: "@every 15m",
			ExpiryWindow: 72 * time.Hour,
		},
		Assistant: AssistantConfig{
			Model:   "gpt-4o-mini",
			Timeout: 30 * time.Second,
		},
		Audit: AuditConfig{
			MaxEntries: 500,
		},
	}
}

// Load builds the API configuration. An empty path falls back to the
// ESTRATEO_CONFIG environment variable; no file at all is fine.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := Default()
	if err := loadFile(firstNonEmpty(path, os.Getenv(ConfigFileEnv)), cfg); err != nil {
		return nil, err
	}
	if err := decodeEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that would otherwise surface as runtime failures.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "memory", "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	if c.Database.Driver != "memory" && strings.TrimSpace(c.Database.DSN) == "" {
		return fmt.Errorf("database dsn is required for driver %s", c.Database.Driver)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("jwt token ttl must be positive")
	}
	secret := strings.TrimSpace(c.Auth.JWTSecret)
	if secret == "" {
		if !c.IsDevelopment() {
			return fmt.Errorf("JWT_SECRET is required outside development")
		}
		c.Auth.JWTSecret = "estrateo-development-secret"
	} else if len(secret) < 16 {
		return fmt.Errorf("JWT_SECRET must be at least 16 bytes")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	return nil
}

// IsDevelopment reports whether the server runs in the development environment.
func (c *Config) IsDevelopment() bool {
	env := strings.ToLower(strings.TrimSpace(c.Env))
	return env == "" || env == "development" || env == "dev" || env == "test"
}

// SplitList splits a comma separated list, dropping empty items.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func loadFile(path string, target interface{}) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func decodeEnv(target interface{}) error {
	if err := envdecode.Decode(target); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return fmt.Errorf("decode environment: %w", err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
