package httpapi

import (
	"net/http"

	"github.com/estrateo/estrateo/internal/app/services/auth"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
	"github.com/estrateo/estrateo/internal/middleware"
)

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	var payload auth.RegisterInput
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	session, err := h.app.Auth.Register(r.Context(), payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, session)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	session, err := h.app.Auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.log.LogSecurityEvent(r.Context(), "login_failed", map[string]interface{}{
			"remote_ip": httputil.ClientIP(r),
		})
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) refresh(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFrom(r.Context())
	if !ok {
		httputil.WriteError(w, apperr.Unauthorized("authentication required"))
		return
	}
	session, err := h.app.Auth.Refresh(r.Context(), claims)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, session)
}

func (h *Handler) me(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Auth.Me(r.Context(), actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	rest, err := h.app.Restaurants.Get(r.Context(), u.RestaurantID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"user": u, "restaurant": rest})
}

func (h *Handler) changePassword(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		CurrentPassword string `json:"current_password"`
		NewPassword     string `json:"new_password"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	if err := h.app.Auth.ChangePassword(r.Context(), actor(r), payload.CurrentPassword, payload.NewPassword); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
