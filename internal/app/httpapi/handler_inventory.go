package httpapi

import (
	"net/http"
	"strings"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	inventorysvc "github.com/estrateo/estrateo/internal/app/services/inventory"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/internal/httputil"
)

type itemRequest struct {
	Name          string             `json:"name"`
	SKU           string             `json:"sku"`
	Category      inventory.Category `json:"category"`
	Unit          inventory.Unit     `json:"unit"`
	Quantity      float64            `json:"quantity"`
	MinQuantity   float64            `json:"min_quantity"`
	UnitCostCents int64              `json:"unit_cost_cents"`
	Supplier      string             `json:"supplier"`
	ExpiresAt     *string            `json:"expires_at"`
}

func (h *Handler) decodeItem(r *http.Request) (inventorysvc.ItemInput, error) {
	var payload itemRequest
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		return inventorysvc.ItemInput{}, err
	}
	expires, err := parseOptionalTime(payload.ExpiresAt, h.location(r))
	if err != nil {
		return inventorysvc.ItemInput{}, err
	}
	return inventorysvc.ItemInput{
		Name:          payload.Name,
		SKU:           payload.SKU,
		Category:      payload.Category,
		Unit:          payload.Unit,
		Quantity:      payload.Quantity,
		MinQuantity:   payload.MinQuantity,
		UnitCostCents: payload.UnitCostCents,
		Supplier:      payload.Supplier,
		ExpiresAt:     expires,
	}, nil
}

func (h *Handler) listItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := inventory.Filter{
		Category:     inventory.Category(q.Get("category")),
		Search:       q.Get("q"),
		LowStockOnly: q.Get("low_stock") == "true",
	}
	if raw := strings.TrimSpace(q.Get("expiring_within")); raw != "" {
		window, err := time.ParseDuration(raw)
		if err != nil || window <= 0 {
			httputil.WriteError(w, apperr.Validation("expiring_within must be a positive duration such as 72h"))
			return
		}
		filter.ExpiringWithin = window
	}
	items, err := h.app.Inventory.ListItems(r.Context(), restaurantID(r), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) createItem(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeItem(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.app.Inventory.CreateItem(r.Context(), restaurantID(r), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, item)
}

func (h *Handler) lowStock(w http.ResponseWriter, r *http.Request) {
	items, err := h.app.Inventory.LowStock(r.Context(), restaurantID(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, items)
}

func (h *Handler) valuation(w http.ResponseWriter, r *http.Request) {
	v, err := h.app.Inventory.Valuation(r.Context(), restaurantID(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (h *Handler) getItem(w http.ResponseWriter, r *http.Request) {
	item, err := h.app.Inventory.GetItem(r.Context(), restaurantID(r), pathVar(r, "iid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) updateItem(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeItem(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, err := h.app.Inventory.UpdateItem(r.Context(), restaurantID(r), pathVar(r, "iid"), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, item)
}

func (h *Handler) deleteItem(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Inventory.DeleteItem(r.Context(), restaurantID(r), pathVar(r, "iid")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	list, err := h.app.Inventory.ListMovements(r.Context(), restaurantID(r), pathVar(r, "iid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

func (h *Handler) adjustStock(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Kind     inventory.MovementKind `json:"kind"`
		Quantity float64                `json:"quantity"`
		Reason   string                 `json:"reason"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	item, movement, err := h.app.Inventory.AdjustStock(r.Context(), restaurantID(r), pathVar(r, "iid"), payload.Kind, payload.Quantity, payload.Reason, actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]any{"item": item, "movement": movement})
}

func (h *Handler) recordPurchase(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Quantity      float64        `json:"quantity"`
		UnitCostCents int64          `json:"unit_cost_cents"`
		Method        payment.Method `json:"method"`
		Supplier      string         `json:"supplier"`
		ExpiresAt     *string        `json:"expires_at"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	expires, err := parseOptionalTime(payload.ExpiresAt, h.location(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	purchase, err := h.app.Inventory.RecordPurchase(r.Context(), restaurantID(r), pathVar(r, "iid"), inventorysvc.PurchaseInput{
		Quantity:      payload.Quantity,
		UnitCostCents: payload.UnitCostCents,
		Method:        payload.Method,
		Supplier:      payload.Supplier,
		ExpiresAt:     expires,
	}, actor(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, purchase)
}
