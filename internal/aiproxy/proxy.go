package aiproxy

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/tidwall/gjson"

	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/config"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/pkg/logger"
)

// maxUpstreamBody bounds buffered (non-streaming) upstream responses.
const maxUpstreamBody = 8 << 20

// cacheKeyFields are the request fields that determine a completion.
var cacheKeyFields = []string{"model", "messages", "temperature", "top_p", "max_tokens", "n", "stop"}

// Proxy forwards chat completion requests upstream, caching non-streaming
// answers.
type Proxy struct {
	endpoint    string
	apiKey      string
	timeout     time.Duration
	maxBody     int64
	maxUpstream int64
	ttl         time.Duration
	models      map[string]bool

	cache   Cache
	usage   *Usage
	limiter *Limiter
	client  *http.Client
	log     *logger.Logger
}

// NewProxy builds the chat completion handler. A nil client uses
// http.DefaultClient.
func NewProxy(cfg *config.ProxyConfig, cache Cache, usage *Usage, limiter *Limiter, client *http.Client, log *logger.Logger) *Proxy {
	if log == nil {
		log = logger.NewDefault("aiproxy")
	}
	if client == nil {
		client = http.DefaultClient
	}
	if usage == nil {
		usage = NewUsage()
	}
	if limiter == nil {
		limiter = NewLimiter(LimiterConfig{MaxConcurrent: cfg.MaxConcurrent})
	}
	models := make(map[string]bool)
	for _, m := range cfg.Models() {
		models[m] = true
	}
	return &Proxy{
		endpoint:    cfg.UpstreamURL + "/chat/completions",
		apiKey:      cfg.UpstreamAPIKey,
		timeout:     cfg.RequestTimeout,
		maxBody:     cfg.MaxBodyBytes,
		maxUpstream: maxUpstreamBody,
		ttl:         cfg.CacheTTL,
		models:      models,
		cache:       cache,
		usage:       usage,
		limiter:     limiter,
		client:      client,
		log:         log,
	}
}

// CacheKey fingerprints a chat completion request body. Fields that do not
// change the answer are ignored and the rest are compared as canonical JSON,
// so whitespace and key order do not matter.
func CacheKey(body []byte) (string, error) {
	var request map[string]any
	if err := json.Unmarshal(body, &request); err != nil {
		return "", err
	}
	subset := make(map[string]any, len(cacheKeyFields))
	for _, field := range cacheKeyFields {
		if v, ok := request[field]; ok {
			subset[field] = v
		}
	}
	canonical, err := json.Marshal(subset)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func (p *Proxy) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, p.maxBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteError(w, apperr.PayloadTooLarge(p.maxBody))
			return
		}
		httputil.WriteError(w, apperr.Validation("read request body: %v", err))
		return
	}

	model, stream, err := p.validate(body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if stream {
		p.usage.RecordRequest(CacheBypass)
		p.forwardStream(w, r, body)
		return
	}

	key, err := CacheKey(body)
	if err != nil {
		httputil.WriteError(w, apperr.Validation("invalid JSON body"))
		return
	}
	if p.cache != nil {
		cached, ok, err := p.cache.Get(r.Context(), key)
		if err != nil {
			p.log.WithError(err).Warn("cache lookup failed")
		}
		if ok {
			p.usage.RecordRequest(CacheHit)
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", CacheHit)
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write(cached)
			return
		}
	}

	p.usage.RecordRequest(CacheMiss)
	p.forward(w, r, body, model, key)
}

func (p *Proxy) validate(body []byte) (string, bool, error) {
	if !gjson.ValidBytes(body) {
		return "", false, apperr.Validation("invalid JSON body")
	}
	parsed := gjson.ParseBytes(body)
	if !parsed.IsObject() {
		return "", false, apperr.Validation("request body must be a JSON object")
	}
	model := parsed.Get("model").String()
	if model == "" {
		return "", false, apperr.Validation("model is required")
	}
	if len(p.models) > 0 && !p.models[model] {
		return "", false, apperr.Forbidden(fmt.Sprintf("model %s is not allowed", model))
	}
	messages := parsed.Get("messages")
	if !messages.IsArray() || len(messages.Array()) == 0 {
		return "", false, apperr.Validation("messages must be a non-empty array")
	}
	return model, parsed.Get("stream").Bool(), nil
}

// call acquires an upstream slot and sends body. The caller must close the
// response body and then call release.
func (p *Proxy) call(ctx context.Context, body []byte) (resp *http.Response, release func(), err error) {
	if err := p.limiter.Acquire(ctx); err != nil {
		return nil, nil, apperr.Unavailable("upstream is busy", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		p.limiter.Release()
		return nil, nil, apperr.Internal("build upstream request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	start := time.Now()
	resp, err = p.client.Do(req)
	failed := err != nil || resp.StatusCode < 200 || resp.StatusCode > 299
	metrics.RecordUpstream(time.Since(start), failed)
	if failed {
		p.usage.RecordUpstreamError()
	}
	if err != nil {
		p.limiter.Release()
		p.log.WithError(err).Warn("upstream request failed")
		return nil, nil, apperr.BadGateway("upstream request failed", err)
	}
	return resp, p.limiter.Release, nil
}

func (p *Proxy) forward(w http.ResponseWriter, r *http.Request, body []byte, model, key string) {
	ctx := r.Context()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	resp, release, err := p.call(ctx, body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer release()
	defer resp.Body.Close()

	payload, err := io.ReadAll(io.LimitReader(resp.Body, p.maxUpstream+1))
	if err != nil {
		p.usage.RecordUpstreamError()
		httputil.WriteError(w, apperr.BadGateway("read upstream response", err))
		return
	}
	if int64(len(payload)) > p.maxUpstream {
		p.usage.RecordUpstreamError()
		p.log.WithField("limit", p.maxUpstream).Warn("upstream response too large")
		httputil.WriteError(w, apperr.BadGateway("upstream response too large", nil))
		return
	}

	ok := resp.StatusCode >= 200 && resp.StatusCode <= 299
	if ok {
		p.usage.RecordCompletion(model, payload)
		if p.cache != nil && json.Valid(payload) {
			if err := p.cache.Set(ctx, key, payload, p.ttl); err != nil {
				p.log.WithError(err).Warn("cache store failed")
			}
		}
	} else {
		p.log.WithField("status", resp.StatusCode).
			WithField("model", model).
			Warn("upstream returned an error")
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	w.Header().Set("X-Cache", CacheMiss)
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(payload)
}

func (p *Proxy) forwardStream(w http.ResponseWriter, r *http.Request, body []byte) {
	resp, release, err := p.call(r.Context(), body)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	defer release()
	defer resp.Body.Close()

	for _, h := range []string{"Content-Type", "Cache-Control"} {
		if v := resp.Header.Get(h); v != "" {
			w.Header().Set(h, v)
		}
	}
	w.Header().Set("X-Cache", CacheBypass)
	w.WriteHeader(resp.StatusCode)

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 4096)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := w.Write(buf[:n]); err != nil {
				return
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				p.log.WithError(readErr).Warn("upstream stream interrupted")
			}
			return
		}
	}
}
