package aiproxy

import (
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"github.com/estrateo/estrateo/internal/app/metrics"
)

// Cache outcomes reported in the X-Cache header.
const (
	CacheHit    = "HIT"
	CacheMiss   = "MISS"
	CacheBypass = "BYPASS"
)

// ModelUsage accumulates token counts for one model.
type ModelUsage struct {
	Requests         int64 `json:"requests"`
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

// UsageSnapshot is the serialisable state of a Usage tracker.
type UsageSnapshot struct {
	Requests       int64                 `json:"requests"`
	Hits           int64                 `json:"hits"`
	Misses         int64                 `json:"misses"`
	Bypassed       int64                 `json:"bypassed"`
	UpstreamErrors int64                 `json:"upstream_errors"`
	Models         map[string]ModelUsage `json:"models"`
	Since          time.Time             `json:"since"`
}

// Usage counts proxy traffic and upstream token consumption.
type Usage struct {
	mu    sync.Mutex
	state UsageSnapshot
	now   func() time.Time
}

// NewUsage returns an empty tracker.
func NewUsage() *Usage {
	u := &Usage{now: time.Now}
	u.state = u.empty()
	return u
}

func (u *Usage) empty() UsageSnapshot {
	return UsageSnapshot{Models: make(map[string]ModelUsage), Since: u.now().UTC()}
}

// RecordRequest counts one request by cache outcome.
func (u *Usage) RecordRequest(outcome string) {
	u.mu.Lock()
	u.state.Requests++
	switch outcome {
	case CacheHit:
		u.state.Hits++
	case CacheMiss:
		u.state.Misses++
	case CacheBypass:
		u.state.Bypassed++
	}
	u.mu.Unlock()
	metrics.RecordProxyRequest(outcomeLabel(outcome))
}

// RecordUpstreamError counts a failed or non-2xx upstream call.
func (u *Usage) RecordUpstreamError() {
	u.mu.Lock()
	u.state.UpstreamErrors++
	u.mu.Unlock()
}

// RecordCompletion reads the usage block of an upstream response body and
// adds it to the per-model totals. Bodies without usage are ignored.
func (u *Usage) RecordCompletion(requestModel string, body []byte) {
	if !gjson.ValidBytes(body) {
		return
	}
	parsed := gjson.ParseBytes(body)
	model := parsed.Get("model").String()
	if model == "" {
		model = requestModel
	}
	usage := parsed.Get("usage")
	if !usage.Exists() {
		return
	}
	prompt := usage.Get("prompt_tokens").Int()
	completion := usage.Get("completion_tokens").Int()
	total := usage.Get("total_tokens").Int()
	if total == 0 {
		total = prompt + completion
	}

	u.mu.Lock()
	m := u.state.Models[model]
	m.Requests++
	m.PromptTokens += prompt
	m.CompletionTokens += completion
	m.TotalTokens += total
	u.state.Models[model] = m
	u.mu.Unlock()

	metrics.RecordTokens(model, prompt, completion)
}

// Snapshot returns a copy of the counters.
func (u *Usage) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := u.state
	out.Models = make(map[string]ModelUsage, len(u.state.Models))
	for k, v := range u.state.Models {
		out.Models[k] = v
	}
	return out
}

// Restore replaces the counters with a saved snapshot.
func (u *Usage) Restore(snap UsageSnapshot) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if snap.Models == nil {
		snap.Models = make(map[string]ModelUsage)
	}
	if snap.Since.IsZero() {
		snap.Since = u.now().UTC()
	}
	u.state = snap
}

// Reset clears every counter.
func (u *Usage) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.state = u.empty()
}

func outcomeLabel(outcome string) string {
	switch outcome {
	case CacheHit:
		return "hit"
	case CacheMiss:
		return "miss"
	default:
		return "bypass"
	}
}
