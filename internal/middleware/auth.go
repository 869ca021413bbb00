// Package middleware provides HTTP middleware for the Estrateo API.
package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/services/auth"
	"github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/pkg/logger"
)

type claimsKey struct{}

// TokenParser validates session tokens. Satisfied by *auth.Tokens.
type TokenParser interface {
	Parse(raw string) (*auth.Claims, error)
}

// AuthMiddleware provides JWT authentication
type AuthMiddleware struct {
	tokens    TokenParser
	logger    *logger.Logger
	skipPaths map[string]bool
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(tokens TokenParser, log *logger.Logger, skipPaths []string) *AuthMiddleware {
	if log == nil {
		log = logger.NewDefault("auth-middleware")
	}
	skip := make(map[string]bool)
	for _, path := range skipPaths {
		skip[path] = true
	}

	return &AuthMiddleware{
		tokens:    tokens,
		logger:    log,
		skipPaths: skip,
	}
}

// Handler returns the middleware handler
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || m.skipPaths[r.URL.Path] {
			next.ServeHTTP(w, r)
			return
		}

		raw, err := httputil.BearerToken(r)
		if err != nil {
			// Browsers cannot set headers on WebSocket handshakes.
			if isWebSocket(r) && r.URL.Query().Get("access_token") != "" {
				raw, err = r.URL.Query().Get("access_token"), nil
			}
		}
		if err != nil {
			m.respondError(w, r, errors.Unauthorized(err.Error()))
			return
		}

		claims, err := m.tokens.Parse(raw)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		ctx := WithClaims(r.Context(), claims)
		m.logger.WithContext(ctx).Debug("authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("authentication failed", err)
	}
	httputil.WriteErrorResponse(w, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.LogSecurityEvent(r.Context(), "authentication_failed", map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
		"reason": err.Error(),
	})
}

// WithClaims stores claims on ctx along with the logger's user, role and
// restaurant keys.
func WithClaims(ctx context.Context, claims *auth.Claims) context.Context {
	ctx = context.WithValue(ctx, claimsKey{}, claims)
	ctx = context.WithValue(ctx, logger.UserIDKey, claims.UserID)
	ctx = context.WithValue(ctx, logger.RoleKey, string(claims.Role))
	return context.WithValue(ctx, logger.RestaurantIDKey, claims.RestaurantID)
}

// ClaimsFrom returns the authenticated claims carried by ctx.
func ClaimsFrom(ctx context.Context) (*auth.Claims, bool) {
	claims, ok := ctx.Value(claimsKey{}).(*auth.Claims)
	return claims, ok && claims != nil
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.UserID(ctx)
}

// RequireRole rejects authenticated users whose role ranks below min.
func RequireRole(min user.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := ClaimsFrom(r.Context())
			if !ok {
				httputil.WriteError(w, errors.Unauthorized("authentication required"))
				return
			}
			if !claims.Role.AtLeast(min) {
				httputil.WriteError(w, errors.Forbidden("requires "+string(min)+" role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func isWebSocket(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
