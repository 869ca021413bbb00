package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/estrateo/estrateo/pkg/logger"
)

// ProxyConfigFileEnv names the environment variable pointing at the proxy's
// YAML config file.
const ProxyConfigFileEnv = "AIPROXY_CONFIG"

// ProxyConfig configures the chat-completion proxy.
type ProxyConfig struct {
	Listen          string        `yaml:"listen" env:"PROXY_LISTEN"`
	UpstreamURL     string        `yaml:"upstream_url" env:"OPENAI_BASE_URL"`
	UpstreamAPIKey  string        `yaml:"upstream_api_key" env:"OPENAI_API_KEY"`
	RequestTimeout  time.Duration `yaml:"request_timeout" env:"PROXY_UPSTREAM_TIMEOUT"`
	MaxConcurrent   int           `yaml:"max_concurrent" env:"PROXY_MAX_CONCURRENT"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes" env:"PROXY_MAX_BODY_BYTES"`
	AllowedModels   string        `yaml:"allowed_models" env:"PROXY_ALLOWED_MODELS"`
	CORSOrigins     string        `yaml:"cors_origins" env:"PROXY_CORS_ORIGINS"`
	CacheTTL        time.Duration `yaml:"cache_ttl" env:"PROXY_CACHE_TTL"`
	CacheMaxEntries int           `yaml:"cache_max_entries" env:"PROXY_CACHE_MAX_ENTRIES"`
	RedisURL        string        `yaml:"redis_url" env:"REDIS_URL"`
	DataDir         string        `yaml:"data_dir" env:"PROXY_DATA_DIR"`
	PersistSchedule string        `yaml:"persist_schedule" env:"PROXY_PERSIST_SCHEDULE"`
	RatePerMinute   int           `yaml:"rate_per_minute" env:"PROXY_RATE_LIMIT"`
	RateBurst       int           `yaml:"rate_burst" env:"PROXY_RATE_BURST"`
	AdminUser       string        `yaml:"admin_user" env:"PROXY_ADMIN_USER"`
	AdminPassword   string        `yaml:"admin_password" env:"PROXY_ADMIN_PASSWORD"`

	// TrustProxyHeaders takes the client address from X-Forwarded-For and
	// X-Real-IP. Only enable behind a reverse proxy that overwrites them.
	TrustProxyHeaders bool `yaml:"trust_proxy_headers" env:"PROXY_TRUST_PROXY_HEADERS"`

	Logging logger.LoggingConfig `yaml:"logging"`
}

// DefaultProxy returns the built-in proxy configuration.
func DefaultProxy() *ProxyConfig {
	return &ProxyConfig{
		Listen:          ":8787",
		UpstreamURL:     "https://api.openai.com/v1",
		RequestTimeout:  60 * time.Second,
		MaxConcurrent:   16,
		MaxBodyBytes:    1 << 20,
		CORSOrigins:     "*",
		CacheTTL:        time.Hour,
		CacheMaxEntries: 1000,
		DataDir:         "data",
		PersistSchedule: "@every 5m",
		RatePerMinute:   60,
		RateBurst:       10,
		AdminUser:       "admin",
		Logging: logger.LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// LoadProxy builds the proxy configuration using the same layering as Load.
func LoadProxy(path string) (*ProxyConfig, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	cfg := DefaultProxy()
	if err := loadFile(firstNonEmpty(path, os.Getenv(ProxyConfigFileEnv)), cfg); err != nil {
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

// Validate checks the proxy configuration.
func (c *ProxyConfig) Validate() error {
	u, err := url.Parse(strings.TrimSpace(c.UpstreamURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("invalid upstream url %q", c.UpstreamURL)
	}
	if c.RequestTimeout <= 0 {
		return fmt.Errorf("upstream timeout must be positive")
	}
	if c.RatePerMinute < 0 || c.RateBurst < 0 {
		return fmt.Errorf("rate limit values must not be negative")
	}
	if c.CacheMaxEntries < 0 {
		return fmt.Errorf("cache max entries must not be negative")
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 1 << 20
	}
	c.UpstreamURL = strings.TrimRight(strings.TrimSpace(c.UpstreamURL), "/")
	return nil
}

// Models returns the model allowlist; empty means every model is allowed.
func (c *ProxyConfig) Models() []string {
	return SplitList(c.AllowedModels)
}

// AdminEnabled reports whether admin endpoints are reachable.
func (c *ProxyConfig) AdminEnabled() bool {
	return c.AdminUser != "" && c.AdminPassword != ""
}
