// Package logger provides the structured logger shared by every Estrateo
// component. It is a thin layer over logrus that adds a component name,
// configurable sinks and request-scoped context fields.
package logger

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type ctxKey string

const (
	// TraceIDKey carries the request trace identifier.
	TraceIDKey ctxKey = "trace_id"
	// UserIDKey carries the authenticated user identifier.
	UserIDKey ctxKey = "user_id"
	// RoleKey carries the authenticated user's role.
	RoleKey ctxKey = "role"
	// RestaurantIDKey carries the tenant (restaurant) of the authenticated user.
	RestaurantIDKey ctxKey = "restaurant_id"
)

// LoggingConfig configures a Logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL"`
	Format     string `yaml:"format" env:"LOG_FORMAT"`
	Output     string `yaml:"output" env:"LOG_OUTPUT"`
	FilePrefix string `yaml:"file_prefix" env:"LOG_FILE_PREFIX"`
}

// Logger wraps a logrus logger tagged with a component name.
type Logger struct {
	*logrus.Logger
	name string
}

// New builds a logger from configuration. Unknown levels fall back to info
// and an unusable file output falls back to stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(strings.TrimSpace(cfg.Format)) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	base.SetOutput(openOutput(cfg))
	return &Logger{Logger: base, name: "estrateo"}
}

// NewDefault returns an info-level text logger for the named component.
func NewDefault(name string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	return l.Named(name)
}

// Named returns a logger sharing the same sink whose entries carry the given
// component name.
func (l *Logger) Named(name string) *Logger {
	name = strings.TrimSpace(name)
	if name == "" {
		return l
	}
	child := logrus.New()
	child.SetLevel(l.Logger.GetLevel())
	child.SetFormatter(l.Logger.Formatter)
	child.SetOutput(l.Logger.Out)
	child.AddHook(componentHook{name: name})
	return &Logger{Logger: child, name: name}
}

// Name reports the component name.
func (l *Logger) Name() string { return l.name }

// WithContext returns an entry carrying the trace, user and restaurant found
// on ctx.
func (l *Logger) WithContext(ctx context.Context) *logrus.Entry {
	entry := logrus.NewEntry(l.Logger)
	if ctx == nil {
		return entry
	}
	fields := logrus.Fields{}
	if v := TraceID(ctx); v != "" {
		fields["trace_id"] = v
	}
	if v := UserID(ctx); v != "" {
		fields["user_id"] = v
	}
	if v := RestaurantID(ctx); v != "" {
		fields["restaurant_id"] = v
	}
	return entry.WithContext(ctx).WithFields(fields)
}

// LogRequest records a completed HTTP request.
func (l *Logger) LogRequest(ctx context.Context, method, path string, status int, duration time.Duration) {
	entry := l.WithContext(ctx).WithFields(logrus.Fields{
		"method":      method,
		"path":        path,
		"status":      status,
		"duration_ms": duration.Milliseconds(),
	})
	switch {
	case status >= 500:
		entry.Error("request failed")
	case status >= 400:
		entry.Warn("request rejected")
	default:
		entry.Debug("request completed")
	}
}

// LogSecurityEvent records authentication and throttling decisions.
func (l *Logger) LogSecurityEvent(ctx context.Context, event string, fields map[string]interface{}) {
	l.WithContext(ctx).WithFields(fields).WithField("security_event", event).Warn("security event")
}

// NewTraceID generates a fresh trace identifier.
func NewTraceID() string {
	return uuid.NewString()
}

// WithTraceID stores a trace identifier on the context.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		return ctx
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// TraceID returns the trace identifier carried by ctx.
func TraceID(ctx context.Context) string { return stringValue(ctx, TraceIDKey) }

// UserID returns the authenticated user carried by ctx.
func UserID(ctx context.Context) string { return stringValue(ctx, UserIDKey) }

// Role returns the authenticated role carried by ctx.
func Role(ctx context.Context) string { return stringValue(ctx, RoleKey) }

// RestaurantID returns the authenticated tenant carried by ctx.
func RestaurantID(ctx context.Context) string { return stringValue(ctx, RestaurantIDKey) }

func stringValue(ctx context.Context, key ctxKey) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

func openOutput(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(strings.TrimSpace(cfg.Output)) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "estrateo"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		if dir := filepath.Dir(prefix); dir != "." {
			_ = os.MkdirAll(dir, 0o755)
		}
		f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
		if err != nil {
			return os.Stdout
		}
		return f
	default:
		return os.Stdout
	}
}

type componentHook struct {
	name string
}

func (h componentHook) Levels() []logrus.Level { return logrus.AllLevels }

func (h componentHook) Fire(entry *logrus.Entry) error {
	if _, ok := entry.Data["component"]; !ok {
		entry.Data["component"] = h.name
	}
	return nil
}
