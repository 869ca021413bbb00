package httpapi

import (
	"net/http"

	"github.com/estrateo/estrateo/internal/app/services/auth"
	"github.com/estrateo/estrateo/internal/app/services/restaurants"
	"github.com/estrateo/estrateo/internal/httputil"
)

func (h *Handler) getRestaurant(w http.ResponseWriter, r *http.Request) {
	rest, err := h.app.Restaurants.Get(r.Context(), restaurantID(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rest)
}

func (h *Handler) updateRestaurant(w http.ResponseWriter, r *http.Request) {
	var payload restaurants.Update
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	rest, err := h.app.Restaurants.Update(r.Context(), restaurantID(r), payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rest)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.app.Auth.ListUsers(r.Context(), restaurantID(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (h *Handler) createUser(w http.ResponseWriter, r *http.Request) {
	var payload auth.UserInput
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.app.Auth.CreateUser(r.Context(), restaurantID(r), payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, u)
}

func (h *Handler) updateUser(w http.ResponseWriter, r *http.Request) {
	var payload auth.UserUpdate
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	u, err := h.app.Auth.UpdateUser(r.Context(), restaurantID(r), pathVar(r, "uid"), payload)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}
