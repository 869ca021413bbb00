package httpapi

import (
	"net/http"

	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/services/payments"
	"github.com/estrateo/estrateo/internal/httputil"
)

type paymentRequest struct {
	Direction   payment.Direction `json:"direction"`
	Category    payment.Category  `json:"category"`
	Method      payment.Method    `json:"method"`
	AmountCents int64             `json:"amount_cents"`
	Description string            `json:"description"`
	Reference   string            `json:"reference"`
	EmployeeID  string            `json:"employee_id"`
	Status      payment.Status    `json:"status"`
	OccurredAt  string            `json:"occurred_at"`
}

func (h *Handler) decodePayment(r *http.Request) (payments.Input, error) {
	var payload paymentRequest
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		return payments.Input{}, err
	}
	occurred, err := parseTime(payload.OccurredAt, h.location(r))
	if err != nil {
		return payments.Input{}, err
	}
	return payments.Input{
		Direction:   payload.Direction,
		Category:    payload.Category,
		Method:      payload.Method,
		AmountCents: payload.AmountCents,
		Description: payload.Description,
		Reference:   payload.Reference,
		EmployeeID:  payload.EmployeeID,
		Status:      payload.Status,
		OccurredAt:  occurred,
	}, nil
}

func (h *Handler) listPayments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.location(r)
	from, err := parseTime(q.Get("from"), loc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"), loc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	list, err := h.app.Payments.List(r.Context(), restaurantID(r), payment.Filter{
		Direction:  payment.Direction(q.Get("direction")),
		Category:   payment.Category(q.Get("category")),
		Status:     payment.Status(q.Get("status")),
		EmployeeID: q.Get("employee_id"),
		From:       from,
		To:         to,
		Limit:      limit,
	})
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) recordPayment(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodePayment(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Payments.Record(r.Context(), restaurantID(r), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (h *Handler) getPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.Get(r.Context(), restaurantID(r), pathVar(r, "pid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) updatePayment(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodePayment(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Payments.Update(r.Context(), restaurantID(r), pathVar(r, "pid"), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) deletePayment(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Payments.Delete(r.Context(), restaurantID(r), pathVar(r, "pid")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) completePayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.Complete(r.Context(), restaurantID(r), pathVar(r, "pid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) cancelPayment(w http.ResponseWriter, r *http.Request) {
	p, err := h.app.Payments.Cancel(r.Context(), restaurantID(r), pathVar(r, "pid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (h *Handler) cashFlow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	loc := h.location(r)
	from, err := parseTime(q.Get("from"), loc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	to, err := parseTime(q.Get("to"), loc)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	flow, err := h.app.Payments.CashFlow(r.Context(), restaurantID(r), from, to)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, flow)
}
