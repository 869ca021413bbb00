package httpapi

import (
	"net/http"

	"github.com/estrateo/estrateo/internal/httputil"
)

const maxActivity = 200

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	months, err := queryInt(r, "months", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	summary, err := h.app.Dashboard.Summary(r.Context(), restaurantID(r), months)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, summary)
}

func (h *Handler) activity(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if limit <= 0 || limit > maxActivity {
		limit = maxActivity
	}
	httputil.WriteJSON(w, http.StatusOK, h.app.Events.RecentByRestaurant(restaurantID(r), limit))
}

func (h *Handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.audit.forTenant(restaurantID(r), limit))
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Question string `json:"question"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	answer, err := h.app.Assistant.Ask(r.Context(), restaurantID(r), payload.Question)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, answer)
}
