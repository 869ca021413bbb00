package aiproxy

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/pkg/testutil"
)

const completionBody = `{"id":"chatcmpl-1","model":"gpt-4o-mini","choices":[{"message":{"role":"assistant","content":"hola"}}],"usage":{"prompt_tokens":12,"completion_tokens":3,"total_tokens":15}}`

type upstream struct {
	server *httptest.Server
	calls  atomic.Int64
	auth   atomic.Value
}

func newUpstream(t *testing.T, handler http.HandlerFunc) *upstream {
	t.Helper()
	u := &upstream{}
	u.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u.calls.Add(1)
		u.auth.Store(r.Header.Get("Authorization"))
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		handler(w, r)
	}))
	t.Cleanup(u.server.Close)
	return u
}

func newTestServer(t *testing.T, upstreamURL string, mutate func(*config.ProxyConfig)) *Server {
	t.Helper()
	log := testutil.Logger()

	cfg := config.DefaultProxy()
	cfg.UpstreamURL = upstreamURL + "/v1"
	cfg.UpstreamAPIKey = "sk-test"
	cfg.DataDir = ""
	cfg.RatePerMinute = 0
	cfg.AdminPassword = "hunter22"
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, cfg.Validate())

	s, err := NewServer(cfg, Options{AccessLog: io.Discard, Logger: log})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Stop(context.Background()) })
	return s
}

func post(s http.Handler, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func TestCacheKeyIgnoresFormattingAndExtraFields(t *testing.T) {
	a, err := CacheKey([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":0.5,"user":"x"}`))
	require.NoError(t, err)
	b, err := CacheKey([]byte(`{ "temperature": 0.50, "messages": [ {"content":"hi","role":"user"} ], "model": "m" }`))
	require.NoError(t, err)
	c, err := CacheKey([]byte(`{"model":"m","messages":[{"role":"user","content":"hi"}],"temperature":0.7}`))
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)
}

func TestProxyCachesCompletions(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})
	s := newTestServer(t, up.server.URL, nil)
	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`

	first := post(s, body)
	require.Equal(t, http.StatusOK, first.Code, first.Body.String())
	assert.Equal(t, CacheMiss, first.Header().Get("X-Cache"))
	assert.JSONEq(t, completionBody, first.Body.String())
	assert.Equal(t, "Bearer sk-test", up.auth.Load())

	second := post(s, body)
	require.Equal(t, http.StatusOK, second.Code)
	assert.Equal(t, CacheHit, second.Header().Get("X-Cache"))
	assert.JSONEq(t, completionBody, second.Body.String())
	assert.Equal(t, int64(1), up.calls.Load())

	usage := s.Usage().Snapshot()
	assert.Equal(t, int64(2), usage.Requests)
	assert.Equal(t, int64(1), usage.Hits)
	assert.Equal(t, int64(1), usage.Misses)
	assert.Equal(t, ModelUsage{Requests: 1, PromptTokens: 12, CompletionTokens: 3, TotalTokens: 15}, usage.Models["gpt-4o-mini"])
}

func TestProxyRelaysUpstreamErrors(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = io.WriteString(w, `{"error":{"message":"slow down"}}`)
	})
	s := newTestServer(t, up.server.URL, nil)
	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`

	rec := post(s, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.JSONEq(t, `{"error":{"message":"slow down"}}`, rec.Body.String())

	// errors are never cached
	post(s, body)
	assert.Equal(t, int64(2), up.calls.Load())
	assert.Equal(t, int64(2), s.Usage().Snapshot().UpstreamErrors)
}

func TestProxyTransportFailure(t *testing.T) {
	up := newUpstream(t, func(http.ResponseWriter, *http.Request) {})
	url := up.server.URL
	up.server.Close()

	s := newTestServer(t, url, nil)
	rec := post(s, `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "bad_gateway")
}

func TestProxyRejectsOversizedUpstreamBody(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, completionBody)
	})
	s := newTestServer(t, up.server.URL, nil)
	s.proxy.maxUpstream = int64(len(completionBody)) - 1
	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`

	rec := post(s, body)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, rec.Body.String(), "upstream response too large")
	assert.Equal(t, int64(1), s.Usage().Snapshot().UpstreamErrors)

	s.proxy.maxUpstream = int64(len(completionBody))
	rec = post(s, body)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, CacheMiss, rec.Header().Get("X-Cache"))
	assert.JSONEq(t, completionBody, rec.Body.String())
}

func TestProxyStreamsWithoutCaching(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, chunk := range []string{"data: {\"a\":1}\n\n", "data: [DONE]\n\n"} {
			_, _ = io.WriteString(w, chunk)
			flusher.Flush()
		}
	})
	s := newTestServer(t, up.server.URL, nil)
	body := `{"model":"gpt-4o-mini","stream":true,"messages":[{"role":"user","content":"hola"}]}`

	for i := 0; i < 2; i++ {
		rec := post(s, body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, CacheBypass, rec.Header().Get("X-Cache"))
		assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
		assert.Equal(t, "data: {\"a\":1}\n\ndata: [DONE]\n\n", rec.Body.String())
	}
	assert.Equal(t, int64(2), up.calls.Load())
	assert.Equal(t, int64(2), s.Usage().Snapshot().Bypassed)
}

func TestProxyValidation(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionBody)
	})
	s := newTestServer(t, up.server.URL, func(c *config.ProxyConfig) {
		c.AllowedModels = "gpt-4o-mini"
		c.MaxBodyBytes = 256
	})

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"not json", `{nope`, http.StatusBadRequest},
		{"array body", `[]`, http.StatusBadRequest},
		{"missing model", `{"messages":[{"role":"user","content":"x"}]}`, http.StatusBadRequest},
		{"empty messages", `{"model":"gpt-4o-mini","messages":[]}`, http.StatusBadRequest},
		{"model not allowed", `{"model":"gpt-4","messages":[{"role":"user","content":"x"}]}`, http.StatusForbidden},
		{"too large", `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"` + strings.Repeat("x", 300) + `"}]}`, http.StatusRequestEntityTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := post(s, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, int64(0), up.calls.Load())
}

func TestRateLimit(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionBody)
	})
	s := newTestServer(t, up.server.URL, func(c *config.ProxyConfig) {
		c.RatePerMinute = 1
		c.RateBurst = 1
	})
	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`

	assert.Equal(t, http.StatusOK, post(s, body).Code)
	rec := post(s, body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestRateLimitKeysOnPeerAddress(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionBody)
	})
	body := `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`
	send := func(s http.Handler, forwarded string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(body))
		req.Header.Set("X-Real-IP", forwarded)
		req.Header.Set("X-Forwarded-For", forwarded)
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec.Code
	}

	direct := newTestServer(t, up.server.URL, func(c *config.ProxyConfig) {
		c.RatePerMinute = 1
		c.RateBurst = 1
	})
	assert.Equal(t, http.StatusOK, send(direct, "203.0.113.1"))
	for _, ip := range []string{"203.0.113.2", "203.0.113.3", "203.0.113.4"} {
		assert.Equal(t, http.StatusTooManyRequests, send(direct, ip), "forwarded %s", ip)
	}

	behindProxy := newTestServer(t, up.server.URL, func(c *config.ProxyConfig) {
		c.RatePerMinute = 1
		c.RateBurst = 1
		c.TrustProxyHeaders = true
	})
	assert.Equal(t, http.StatusOK, send(behindProxy, "198.51.100.1"))
	assert.Equal(t, http.StatusOK, send(behindProxy, "198.51.100.2"))
	assert.Equal(t, http.StatusTooManyRequests, send(behindProxy, "198.51.100.1"))
}

func TestAdminEndpoints(t *testing.T) {
	up := newUpstream(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, completionBody)
	})
	s := newTestServer(t, up.server.URL, nil)
	post(s, `{"model":"gpt-4o-mini","messages":[{"role":"user","content":"hola"}]}`)

	do := func(method, path string, authed bool) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if authed {
			req.SetBasicAuth("admin", "hunter22")
		}
		rec := httptest.NewRecorder()
		s.ServeHTTP(rec, req)
		return rec
	}

	unauth := do(http.MethodGet, "/admin/stats", false)
	assert.Equal(t, http.StatusUnauthorized, unauth.Code)
	assert.NotEmpty(t, unauth.Header().Get("WWW-Authenticate"))

	stats := do(http.MethodGet, "/admin/stats", true)
	require.Equal(t, http.StatusOK, stats.Code, stats.Body.String())
	var payload struct {
		Usage UsageSnapshot `json:"usage"`
		Cache struct {
			Backend string `json:"backend"`
			Entries int    `json:"entries"`
		} `json:"cache"`
		Process ProcessStats `json:"process"`
	}
	require.NoError(t, json.Unmarshal(stats.Body.Bytes(), &payload))
	assert.Equal(t, "memory", payload.Cache.Backend)
	assert.Equal(t, 1, payload.Cache.Entries)
	assert.Equal(t, int64(1), payload.Usage.Misses)
	assert.NotZero(t, payload.Process.PID)

	flush := do(http.MethodPost, "/admin/cache/flush", true)
	require.Equal(t, http.StatusOK, flush.Code)
	assert.JSONEq(t, `{"flushed":1}`, flush.Body.String())

	assert.Equal(t, http.StatusNoContent, do(http.MethodDelete, "/admin/usage", true).Code)
	var usage UsageSnapshot
	require.NoError(t, json.Unmarshal(do(http.MethodGet, "/admin/usage", true).Body.Bytes(), &usage))
	assert.Zero(t, usage.Requests)
}

func TestAdminDisabledWithoutPassword(t *testing.T) {
	s := newTestServer(t, "http://127.0.0.1:1", func(c *config.ProxyConfig) { c.AdminPassword = "" })
	req := httptest.NewRequest(http.MethodGet, "/admin/stats", nil)
	req.SetBasicAuth("admin", "")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	health := httptest.NewRecorder()
	s.ServeHTTP(health, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, health.Code)
	assert.Equal(t, "nosniff", health.Header().Get("X-Content-Type-Options"))
}

func TestServerStartStop(t *testing.T) {
	dir := t.TempDir()
	s := newTestServer(t, "http://127.0.0.1:1", func(c *config.ProxyConfig) {
		c.DataDir = dir
		c.RatePerMinute = 60
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, s.Start(ctx))
	require.NoError(t, s.Stop(ctx))
}
