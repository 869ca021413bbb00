package httpapi

import (
	"net/http"

	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/internal/middleware"
)

// tenantGuard confines users to their own restaurant.
func tenantGuard(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.ClaimsFrom(r.Context())
		if !ok {
			httputil.WriteError(w, apperr.Unauthorized("authentication required"))
			return
		}
		if claims.RestaurantID != restaurantID(r) {
			httputil.WriteError(w, apperr.Forbidden("restaurant access denied"))
			return
		}
		next.ServeHTTP(w, r)
	})
}
