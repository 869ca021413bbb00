package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "estrateo",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "estrateo",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	paymentsRecorded = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "payments",
			Name:      "recorded_total",
			Help:      "Payments recorded by direction and category.",
		},
		[]string{"direction", "category"},
	)

	stockMovements = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "inventory",
			Name:      "movements_total",
			Help:      "Stock movements applied by kind.",
		},
		[]string{"kind"},
	)

	lowStockItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "estrateo",
			Subsystem: "inventory",
			Name:      "low_stock_items",
			Help:      "Items at or below their reorder threshold, per restaurant.",
		},
		[]string{"restaurant"},
	)

	expiringItems = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "estrateo",
			Subsystem: "inventory",
			Name:      "expiring_items",
			Help:      "Items expiring within the scan window, per restaurant.",
		},
		[]string{"restaurant"},
	)

	proxyRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "aiproxy",
			Name:      "requests_total",
			Help:      "Chat completion requests by cache outcome.",
		},
		[]string{"cache"},
	)

	proxyUpstreamErrors = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "aiproxy",
			Name:      "upstream_errors_total",
			Help:      "Upstream transport failures and non-2xx responses.",
		},
	)

	proxyTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "estrateo",
			Subsystem: "aiproxy",
			Name:      "tokens_total",
			Help:      "Tokens reported by the upstream, by model and kind.",
		},
		[]string{"model", "kind"},
	)

	proxyUpstreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "estrateo",
			Subsystem: "aiproxy",
			Name:      "upstream_duration_seconds",
			Help:      "Latency of upstream chat completion calls.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		paymentsRecorded,
		stockMovements,
		lowStockItems,
		expiringItems,
		proxyRequests,
		proxyUpstreamErrors,
		proxyTokens,
		proxyUpstreamDuration,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordPayment counts a recorded payment.
func RecordPayment(direction, category string) {
	paymentsRecorded.WithLabelValues(direction, category).Inc()
}

// RecordMovement counts an applied stock movement.
func RecordMovement(kind string) {
	stockMovements.WithLabelValues(kind).Inc()
}

// SetInventoryHealth publishes the latest scan result for a restaurant.
func SetInventoryHealth(restaurantID string, lowStock, expiring int) {
	lowStockItems.WithLabelValues(restaurantID).Set(float64(lowStock))
	expiringItems.WithLabelValues(restaurantID).Set(float64(expiring))
}

// RecordProxyRequest counts a chat completion by cache outcome (hit, miss, bypass).
func RecordProxyRequest(cache string) {
	proxyRequests.WithLabelValues(cache).Inc()
}

// RecordUpstream observes one upstream call.
func RecordUpstream(duration time.Duration, failed bool) {
	proxyUpstreamDuration.Observe(duration.Seconds())
	if failed {
		proxyUpstreamErrors.Inc()
	}
}

// RecordTokens adds the token usage reported for model.
func RecordTokens(model string, prompt, completion int64) {
	if model == "" {
		model = "unknown"
	}
	if prompt > 0 {
		proxyTokens.WithLabelValues(model, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		proxyTokens.WithLabelValues(model, "completion").Add(float64(completion))
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// canonicalPath collapses identifiers so label cardinality stays bounded:
// /restaurants/<id>/payments/<id>/complete -> /restaurants/:rid/payments/:id/complete.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	if parts[0] != "restaurants" {
		return "/" + strings.Join(parts[:min(len(parts), 2)], "/")
	}
	out := []string{"restaurants"}
	if len(parts) > 1 {
		out = append(out, ":rid")
	}
	if len(parts) > 2 {
		out = append(out, parts[2])
	}
	if len(parts) > 3 {
		if isStatic(parts[3]) {
			out = append(out, parts[3])
		} else {
			out = append(out, ":id")
		}
	}
	if len(parts) > 4 {
		out = append(out, parts[4])
	}
	return "/" + strings.Join(out, "/")
}

func isStatic(segment string) bool {
	switch segment {
	case "low-stock", "live":
		return true
	}
	return false
}
