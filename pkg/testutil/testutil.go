// Package testutil provides helpers shared by package tests.
package testutil

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/pkg/logger"
)

// TestJWTSecret signs tokens in tests.
const TestJWTSecret = "estrateo-test-secret-0123456789"

// Logger returns a logger that discards its output.
func Logger() *logger.Logger {
	log := logger.NewDefault("test")
	log.SetOutput(io.Discard)
	return log
}

// Config returns the default configuration with a test JWT secret, already
// validated. mutate may adjust it before validation.
func Config(t testing.TB, mutate ...func(*config.Config)) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = TestJWTSecret
	cfg.Server.ShutdownTimeout = 5 * time.Second
	for _, m := range mutate {
		m(cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("invalid test config: %v", err)
	}
	return cfg
}

// Clock is a manually advanced time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock starts a clock at t.
func NewClock(t time.Time) *Clock {
	return &Clock{now: t}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t.
func (c *Clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
