package aiproxy

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"
	"os"
	"runtime"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/app/system"
	"github.com/estrateo/estrateo/internal/config"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/internal/middleware"
	"github.com/estrateo/estrateo/pkg/logger"
)

// Options carries the optional collaborators of a Server.
type Options struct {
	// Cache overrides the response cache; nil selects an in-memory cache.
	Cache Cache
	// Client is used for upstream calls; nil means http.DefaultClient.
	Client *http.Client
	// AccessLog receives one JSON line per request; nil means stdout.
	AccessLog io.Writer
	Logger    *logger.Logger
}

// Server wires the proxy handler, its admin surface and background jobs.
type Server struct {
	cfg      *config.ProxyConfig
	proxy    *Proxy
	cache    Cache
	usage    *Usage
	limiter  *Limiter
	rate     *middleware.RateLimiter
	manager  *system.Manager
	log      *logger.Logger
	access   zerolog.Logger
	started  time.Time
	router   http.Handler
	stopRate context.CancelFunc
}

// NewServer builds a proxy server from cfg.
func NewServer(cfg *config.ProxyConfig, opts Options) (*Server, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("aiproxy")
	}
	accessOut := opts.AccessLog
	if accessOut == nil {
		accessOut = os.Stdout
	}

	cache := opts.Cache
	var memory *MemoryCache
	if cache == nil {
		memory = NewMemoryCache(cfg.CacheMaxEntries)
		cache = memory
	} else if mc, ok := cache.(*MemoryCache); ok {
		memory = mc
	}

	usage := NewUsage()
	limiter := NewLimiter(LimiterConfig{
		MaxConcurrent:  cfg.MaxConcurrent,
		AcquireTimeout: cfg.RequestTimeout,
		QueueSize:      cfg.MaxConcurrent * 8,
	})

	s := &Server{
		cfg:     cfg,
		proxy:   NewProxy(cfg, cache, usage, limiter, opts.Client, log),
		cache:   cache,
		usage:   usage,
		limiter: limiter,
		manager: system.NewManager(),
		log:     log,
		access:  zerolog.New(accessOut).With().Timestamp().Str("component", "aiproxy").Logger(),
		started: time.Now(),
	}

	if cfg.DataDir != "" {
		persister, err := NewPersister(memory, usage, cfg.DataDir, cfg.PersistSchedule, log.Named("aiproxy-persister"))
		if err != nil {
			return nil, err
		}
		if err := s.manager.Register(persister); err != nil {
			return nil, err
		}
	}
	if cfg.RatePerMinute > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		s.rate = middleware.NewRateLimiter(float64(cfg.RatePerMinute)/60, burst, log)
	}

	s.router = s.routes()
	return s, nil
}

// OpenCache returns a Redis cache when cfg names one, or nil for the default
// in-memory cache.
func OpenCache(ctx context.Context, cfg *config.ProxyConfig) (Cache, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	return NewRedisCache(ctx, cfg.RedisURL, "")
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Usage exposes the traffic counters.
func (s *Server) Usage() *Usage { return s.usage }

// Start launches background jobs.
func (s *Server) Start(ctx context.Context) error {
	if s.rate != nil && s.stopRate == nil {
		rctx, cancel := context.WithCancel(context.Background())
		s.stopRate = cancel
		s.rate.StartCleanup(rctx, 5*time.Minute)
	}
	return s.manager.Start(ctx)
}

// Stop halts background jobs, flushing persisted state.
func (s *Server) Stop(ctx context.Context) error {
	if s.stopRate != nil {
		s.stopRate()
		s.stopRate = nil
	}
	err := s.manager.Stop(ctx)
	s.limiter.Close()
	if closer, ok := s.cache.(io.Closer); ok {
		if cerr := closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	if s.cfg.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(s.accessLog)
	r.Use(chimw.Recoverer)
	r.Use(metrics.InstrumentHandler)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.NewCORSMiddleware(config.SplitList(s.cfg.CORSOrigins)).Handler)

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, http.StatusNotFound, "not_found", "route not found", nil)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler())

	r.Group(func(r chi.Router) {
		if s.rate != nil {
			r.Use(s.rate.Handler)
		}
		r.Method(http.MethodPost, "/v1/chat/completions", s.proxy)
	})

	if s.cfg.AdminEnabled() {
		r.Route("/admin", func(r chi.Router) {
			r.Use(s.adminAuth)
			r.Get("/stats", s.stats)
			r.Get("/usage", s.getUsage)
			r.Delete("/usage", s.resetUsage)
			r.Post("/cache/flush", s.flushCache)
		})
	}
	return r
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.access.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Str("cache", ww.Header().Get("X-Cache")).
			Str("remote_ip", r.RemoteAddr).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}

func (s *Server) adminAuth(next http.Handler) http.Handler {
	wantUser := []byte(s.cfg.AdminUser)
	wantPass := []byte(s.cfg.AdminPassword)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(user), wantUser) == 1
		passOK := subtle.ConstantTimeCompare([]byte(pass), wantPass) == 1
		if !ok || !userOK || !passOK {
			s.log.LogSecurityEvent(r.Context(), "admin_auth_failed", map[string]interface{}{
				"remote_ip": httputil.ClientIP(r),
				"path":      r.URL.Path,
			})
			w.Header().Set("WWW-Authenticate", `Basic realm="aiproxy"`)
			httputil.WriteError(w, apperr.Unauthorized("admin credentials required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ProcessStats describes the proxy process.
type ProcessStats struct {
	PID                 int32   `json:"pid"`
	RSSBytes            uint64  `json:"rss_bytes"`
	VMSBytes            uint64  `json:"vms_bytes"`
	CPUPercent          float64 `json:"cpu_percent"`
	Goroutines          int     `json:"goroutines"`
	SystemMemoryPercent float64 `json:"system_memory_percent"`
}

func collectProcessStats(ctx context.Context) ProcessStats {
	stats := ProcessStats{PID: int32(os.Getpid()), Goroutines: runtime.NumGoroutine()}
	if proc, err := process.NewProcessWithContext(ctx, stats.PID); err == nil {
		if mi, err := proc.MemoryInfoWithContext(ctx); err == nil {
			stats.RSSBytes = mi.RSS
			stats.VMSBytes = mi.VMS
		}
		if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
			stats.CPUPercent = cpu
		}
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		stats.SystemMemoryPercent = vm.UsedPercent
	}
	return stats
}

func (s *Server) stats(w http.ResponseWriter, r *http.Request) {
	entries, err := s.cache.Len(r.Context())
	if err != nil {
		httputil.WriteError(w, apperr.Unavailable("cache unavailable", err))
		return
	}
	backend := "memory"
	if _, ok := s.cache.(*RedisCache); ok {
		backend = "redis"
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
		"usage":          s.usage.Snapshot(),
		"cache":          map[string]any{"backend": backend, "entries": entries, "ttl_seconds": int64(s.cfg.CacheTTL.Seconds())},
		"upstream":       s.limiter.Stats(),
		"process":        collectProcessStats(r.Context()),
	})
}

func (s *Server) getUsage(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, s.usage.Snapshot())
}

func (s *Server) resetUsage(w http.ResponseWriter, _ *http.Request) {
	s.usage.Reset()
	s.log.Info("usage counters reset")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) flushCache(w http.ResponseWriter, r *http.Request) {
	n, err := s.cache.Flush(r.Context())
	if err != nil {
		httputil.WriteError(w, apperr.Unavailable("cache unavailable", err))
		return
	}
	s.log.WithField("entries", n).Info("response cache flushed")
	httputil.WriteJSON(w, http.StatusOK, map[string]int{"flushed": n})
}
