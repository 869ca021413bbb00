package httpapi

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	app "github.com/estrateo/estrateo/internal/app"
	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/config"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/internal/middleware"
	"github.com/estrateo/estrateo/pkg/logger"
)

// publicPaths skip authentication.
var publicPaths = []string{"/healthz", "/metrics", "/auth/register", "/auth/login"}

// Options tune the HTTP surface.
type Options struct {
	CORSOrigins []string
	RateLimit   config.RateLimitConfig
	AuditSize   int
	AuditFile   string
	Logger      *logger.Logger
}

// Handler serves the REST API.
type Handler struct {
	app    *app.Application
	log    *logger.Logger
	audit  *auditLog
	sink   *fileAuditSink
	live   *liveHub
	rate   *middleware.RateLimiter
	router *mux.Router
	chain  http.Handler
}

// NewHandler builds the router and its middleware chain.
func NewHandler(application *app.Application, opts Options) (*Handler, error) {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("http")
	}
	sink, err := newFileAuditSink(opts.AuditFile)
	if err != nil {
		return nil, err
	}

	h := &Handler{
		app:   application,
		log:   log,
		audit: newAuditLog(opts.AuditSize, sink),
		sink:  sink,
		live:  newLiveHub(application, opts.CORSOrigins, log),
	}
	h.router = h.routes()

	var chain http.Handler = h.router
	chain = h.audit.middleware(chain)
	if opts.RateLimit.RequestsPerSecond > 0 {
		h.rate = middleware.NewRateLimiter(opts.RateLimit.RequestsPerSecond, opts.RateLimit.Burst, log)
		chain = h.rate.Handler(chain)
	}
	chain = middleware.NewAuthMiddleware(application.Auth.Tokens(), log, publicPaths).Handler(chain)
	chain = middleware.NewCORSMiddleware(opts.CORSOrigins).Handler(chain)
	chain = middleware.SecurityHeaders(chain)
	chain = metrics.InstrumentHandler(chain)
	chain = middleware.Recoverer(log)(chain)
	chain = middleware.NewTracingMiddleware(log).Handler(chain)
	h.chain = chain
	return h, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.chain.ServeHTTP(w, r)
}

// StartCleanup evicts idle rate-limit visitors until ctx ends.
func (h *Handler) StartCleanup(ctx context.Context, interval time.Duration) {
	if h.rate != nil {
		h.rate.StartCleanup(ctx, interval)
	}
}

// Close releases the audit file.
func (h *Handler) Close() error {
	return h.sink.Close()
}

func (h *Handler) routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, http.StatusNotFound, string(apperr.CodeNotFound), "route not found", nil)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteErrorResponse(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed", nil)
	})

	r.HandleFunc("/healthz", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	r.HandleFunc("/auth/register", h.register).Methods(http.MethodPost)
	r.HandleFunc("/auth/login", h.login).Methods(http.MethodPost)
	r.HandleFunc("/auth/refresh", h.refresh).Methods(http.MethodPost)
	r.HandleFunc("/auth/me", h.me).Methods(http.MethodGet)
	r.HandleFunc("/auth/password", h.changePassword).Methods(http.MethodPost)

	rest := r.PathPrefix("/restaurants/{rid}").Subrouter()
	rest.Use(tenantGuard)

	rest.Handle("", requireRole(user.RoleStaff, h.getRestaurant)).Methods(http.MethodGet)
	rest.Handle("", requireRole(user.RoleManager, h.updateRestaurant)).Methods(http.MethodPut)

	rest.Handle("/users", requireRole(user.RoleOwner, h.listUsers)).Methods(http.MethodGet)
	rest.Handle("/users", requireRole(user.RoleOwner, h.createUser)).Methods(http.MethodPost)
	rest.Handle("/users/{uid}", requireRole(user.RoleOwner, h.updateUser)).Methods(http.MethodPatch)

	rest.Handle("/employees", requireRole(user.RoleManager, h.listEmployees)).Methods(http.MethodGet)
	rest.Handle("/employees", requireRole(user.RoleManager, h.createEmployee)).Methods(http.MethodPost)
	rest.Handle("/employees/{eid}", requireRole(user.RoleManager, h.getEmployee)).Methods(http.MethodGet)
	rest.Handle("/employees/{eid}", requireRole(user.RoleManager, h.updateEmployee)).Methods(http.MethodPut)
	rest.Handle("/employees/{eid}", requireRole(user.RoleManager, h.deleteEmployee)).Methods(http.MethodDelete)
	rest.Handle("/employees/{eid}/status", requireRole(user.RoleManager, h.setEmployeeStatus)).Methods(http.MethodPost)
	rest.Handle("/employees/{eid}/salary-payments", requireRole(user.RoleManager, h.paySalary)).Methods(http.MethodPost)

	rest.Handle("/payments", requireRole(user.RoleManager, h.listPayments)).Methods(http.MethodGet)
	rest.Handle("/payments", requireRole(user.RoleManager, h.recordPayment)).Methods(http.MethodPost)
	rest.Handle("/payments/{pid}", requireRole(user.RoleManager, h.getPayment)).Methods(http.MethodGet)
	rest.Handle("/payments/{pid}", requireRole(user.RoleManager, h.updatePayment)).Methods(http.MethodPut)
	rest.Handle("/payments/{pid}", requireRole(user.RoleManager, h.deletePayment)).Methods(http.MethodDelete)
	rest.Handle("/payments/{pid}/complete", requireRole(user.RoleManager, h.completePayment)).Methods(http.MethodPost)
	rest.Handle("/payments/{pid}/cancel", requireRole(user.RoleManager, h.cancelPayment)).Methods(http.MethodPost)
	rest.Handle("/cashflow", requireRole(user.RoleManager, h.cashFlow)).Methods(http.MethodGet)

	rest.Handle("/inventory", requireRole(user.RoleStaff, h.listItems)).Methods(http.MethodGet)
	rest.Handle("/inventory", requireRole(user.RoleManager, h.createItem)).Methods(http.MethodPost)
	rest.Handle("/inventory/low-stock", requireRole(user.RoleStaff, h.lowStock)).Methods(http.MethodGet)
	rest.Handle("/inventory/valuation", requireRole(user.RoleManager, h.valuation)).Methods(http.MethodGet)
	rest.Handle("/inventory/{iid}", requireRole(user.RoleStaff, h.getItem)).Methods(http.MethodGet)
	rest.Handle("/inventory/{iid}", requireRole(user.RoleManager, h.updateItem)).Methods(http.MethodPut)
	rest.Handle("/inventory/{iid}", requireRole(user.RoleManager, h.deleteItem)).Methods(http.MethodDelete)
	rest.Handle("/inventory/{iid}/movements", requireRole(user.RoleStaff, h.listMovements)).Methods(http.MethodGet)
	rest.Handle("/inventory/{iid}/movements", requireRole(user.RoleStaff, h.adjustStock)).Methods(http.MethodPost)
	rest.Handle("/inventory/{iid}/purchases", requireRole(user.RoleManager, h.recordPurchase)).Methods(http.MethodPost)

	rest.Handle("/dashboard", requireRole(user.RoleManager, h.dashboard)).Methods(http.MethodGet)
	rest.Handle("/dashboard/live", requireRole(user.RoleManager, h.live.serve)).Methods(http.MethodGet)
	rest.Handle("/activity", requireRole(user.RoleManager, h.activity)).Methods(http.MethodGet)
	rest.Handle("/audit", requireRole(user.RoleOwner, h.auditEntries)).Methods(http.MethodGet)
	rest.Handle("/assistant", requireRole(user.RoleManager, h.ask)).Methods(http.MethodPost)
	return r
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC(),
	})
}

func requireRole(min user.Role, fn http.HandlerFunc) http.Handler {
	return middleware.RequireRole(min)(fn)
}

func restaurantID(r *http.Request) string {
	return mux.Vars(r)["rid"]
}

func pathVar(r *http.Request, name string) string {
	return mux.Vars(r)[name]
}

func actor(r *http.Request) string {
	if claims, ok := middleware.ClaimsFrom(r.Context()); ok {
		return claims.UserID
	}
	return ""
}

func queryInt(r *http.Request, name string, fallback int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Validation("%s must be an integer", name)
	}
	return v, nil
}

// parseTime accepts RFC 3339 timestamps and YYYY-MM-DD dates; dates are
// midnight in loc.
func parseTime(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	t, err := time.ParseInLocation("2006-01-02", raw, loc)
	if err != nil {
		return time.Time{}, apperr.Validation("invalid date %q: use YYYY-MM-DD or RFC 3339", raw)
	}
	return t, nil
}

func parseOptionalTime(raw *string, loc *time.Location) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseTime(*raw, loc)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// location returns the restaurant's timezone, UTC when it cannot be loaded.
func (h *Handler) location(r *http.Request) *time.Location {
	rest, err := h.app.Restaurants.Get(r.Context(), restaurantID(r))
	if err != nil {
		return time.UTC
	}
	return rest.Location()
}
