package inventory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/app/services/payments"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

// PaymentRecorder records the expense side of a purchase. Satisfied by
// *payments.Service.
type PaymentRecorder interface {
	Record(ctx context.Context, restaurantID string, in payments.Input) (payment.Payment, error)
}

// ItemInput holds the editable item fields. Quantity is only honoured on
// create; later changes go through AdjustStock so they leave a movement.
type ItemInput struct {
	Name          string             `json:"name"`
	SKU           string             `json:"sku,omitempty"`
	Category      inventory.Category `json:"category"`
	Unit          inventory.Unit     `json:"unit"`
	Quantity      float64            `json:"quantity"`
	MinQuantity   float64            `json:"min_quantity"`
	UnitCostCents int64              `json:"unit_cost_cents"`
	Supplier      string             `json:"supplier,omitempty"`
	ExpiresAt     *time.Time         `json:"expires_at,omitempty"`
}

// PurchaseInput describes a supplier delivery.
type PurchaseInput struct {
	Quantity      float64        `json:"quantity"`
	UnitCostCents int64          `json:"unit_cost_cents"`
	Method        payment.Method `json:"method,omitempty"`
	Supplier      string         `json:"supplier,omitempty"`
	ExpiresAt     *time.Time     `json:"expires_at,omitempty"`
}

// Purchase is the outcome of RecordPurchase.
type Purchase struct {
	Item     inventory.Item     `json:"item"`
	Movement inventory.Movement `json:"movement"`
	Payment  payment.Payment    `json:"payment"`
}

// Valuation is the stock value of a restaurant.
type Valuation struct {
	RestaurantID string                       `json:"restaurant_id"`
	TotalCents   int64                        `json:"total_cents"`
	Items        int                          `json:"items"`
	ByCategory   map[inventory.Category]int64 `json:"by_category"`
}

// Service tracks stock items and their movements.
type Service struct {
	store    storage.InventoryStore
	payments PaymentRecorder
	events   events.Publisher
	log      *logger.Logger
	now      func() time.Time

	// lowMu guards low, the items already announced as low on stock.
	lowMu sync.Mutex
	low   map[string]struct{}
}

// New constructs an inventory service. payments may be nil, in which case
// RecordPurchase is unavailable.
func New(store storage.InventoryStore, payments PaymentRecorder, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("inventory")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:    store,
		payments: payments,
		events:   publisher,
		log:      log,
		now:      time.Now,
		low:      make(map[string]struct{}),
	}
}

// CreateItem adds a stock item.
func (s *Service) CreateItem(ctx context.Context, restaurantID string, in ItemInput) (inventory.Item, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return inventory.Item{}, apperr.Validation("restaurant_id is required")
	}
	if in.Quantity < 0 || math.IsNaN(in.Quantity) {
		return inventory.Item{}, apperr.Validation("quantity cannot be negative")
	}
	item := inventory.Item{RestaurantID: restaurantID, Quantity: in.Quantity}
	if err := applyItem(&item, in); err != nil {
		return inventory.Item{}, err
	}

	item, err := s.store.CreateItem(ctx, item)
	if err != nil {
		return inventory.Item{}, err
	}
	s.publish(ctx, events.InventoryItemCreated, item, nil)
	s.log.WithField("item_id", item.ID).
		WithField("restaurant_id", restaurantID).
		Info("inventory item created")
	return item, nil
}

// GetItem returns an item of the restaurant.
func (s *Service) GetItem(ctx context.Context, restaurantID, id string) (inventory.Item, error) {
	item, err := s.store.GetItem(ctx, id)
	if err != nil {
		return inventory.Item{}, err
	}
	if item.RestaurantID != restaurantID {
		return inventory.Item{}, apperr.NotFound("item", id)
	}
	return item, nil
}

// ListItems returns items matching filter, sorted by name.
func (s *Service) ListItems(ctx context.Context, restaurantID string, filter inventory.Filter) ([]inventory.Item, error) {
	if filter.Category != "" && !filter.Category.Valid() {
		return nil, apperr.Validation("unknown category %q", filter.Category)
	}
	items, err := s.store.ListItems(ctx, restaurantID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	result := make([]inventory.Item, 0, len(items))
	for _, item := range items {
		if filter.Matches(item, now) {
			result = append(result, item)
		}
	}
	return result, nil
}

// UpdateItem edits descriptive fields. Quantity is left untouched.
func (s *Service) UpdateItem(ctx context.Context, restaurantID, id string, in ItemInput) (inventory.Item, error) {
	item, err := s.GetItem(ctx, restaurantID, id)
	if err != nil {
		return inventory.Item{}, err
	}
	if err := applyItem(&item, in); err != nil {
		return inventory.Item{}, err
	}
	item, err = s.store.UpdateItem(ctx, item)
	if err != nil {
		return inventory.Item{}, err
	}
	s.publish(ctx, events.InventoryItemUpdated, item, nil)
	s.log.WithField("item_id", item.ID).Info("inventory item updated")
	return item, nil
}

// DeleteItem removes an item and its movement history.
func (s *Service) DeleteItem(ctx context.Context, restaurantID, id string) error {
	item, err := s.GetItem(ctx, restaurantID, id)
	if err != nil {
		return err
	}
	if err := s.store.DeleteItem(ctx, id); err != nil {
		return err
	}
	s.clearLow(id)
	s.publish(ctx, events.InventoryItemDeleted, item, nil)
	s.log.WithField("item_id", id).Info("inventory item deleted")
	return nil
}

// AdjustStock applies a movement. in adds, out and waste subtract and fail
// with a conflict when stock is insufficient, adjust sets the absolute count.
func (s *Service) AdjustStock(ctx context.Context, restaurantID, id string, kind inventory.MovementKind, qty float64, reason, actor string) (inventory.Item, inventory.Movement, error) {
	if !kind.Valid() {
		return inventory.Item{}, inventory.Movement{}, apperr.Validation("unknown movement kind %q", kind)
	}
	if math.IsNaN(qty) || math.IsInf(qty, 0) {
		return inventory.Item{}, inventory.Movement{}, apperr.Validation("quantity must be a number")
	}
	if kind == inventory.MovementAdjust {
		if qty < 0 {
			return inventory.Item{}, inventory.Movement{}, apperr.Validation("adjusted quantity cannot be negative")
		}
	} else if qty <= 0 {
		return inventory.Item{}, inventory.Movement{}, apperr.Validation("quantity must be positive")
	}

	item, err := s.GetItem(ctx, restaurantID, id)
	if err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	}
	after := roundQty(kind.Apply(item.Quantity, qty))
	if after < 0 {
		return inventory.Item{}, inventory.Movement{}, apperr.Conflict("insufficient stock: %s has %g %s", item.Name, item.Quantity, item.Unit)
	}

	item, movement, err := s.store.ApplyMovement(ctx, inventory.Movement{
		ItemID:         item.ID,
		Kind:           kind,
		Quantity:       qty,
		QuantityBefore: item.Quantity,
		QuantityAfter:  after,
		Reason:         strings.TrimSpace(reason),
		CreatedBy:      actor,
	})
	if err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	}

	metrics.RecordMovement(string(kind))
	s.publish(ctx, events.InventoryMovement, item, map[string]string{
		"kind":     string(kind),
		"quantity": fmt.Sprintf("%g", qty),
		"after":    fmt.Sprintf("%g", after),
	})
	s.checkLow(ctx, item, s.events)
	s.log.WithField("item_id", item.ID).
		WithField("kind", kind).
		WithField("quantity", qty).
		Info("stock movement applied")
	return item, movement, nil
}

// RecordPurchase books a delivery: stock comes in, the unit cost is updated
// and a completed suppliers expense is recorded. When the expense cannot be
// recorded the stock-in is reverted and the item restored.
func (s *Service) RecordPurchase(ctx context.Context, restaurantID, id string, in PurchaseInput, actor string) (Purchase, error) {
	if s.payments == nil {
		return Purchase{}, apperr.NotConfigured("purchase payments")
	}
	if in.Quantity <= 0 || math.IsNaN(in.Quantity) || math.IsInf(in.Quantity, 0) {
		return Purchase{}, apperr.Validation("quantity must be positive")
	}
	if in.UnitCostCents < 0 {
		return Purchase{}, apperr.Validation("unit_cost_cents cannot be negative")
	}
	method := in.Method
	if method == "" {
		method = payment.MethodCash
	}
	if !method.Valid() {
		return Purchase{}, apperr.Validation("unknown method %q", method)
	}
	original, err := s.GetItem(ctx, restaurantID, id)
	if err != nil {
		return Purchase{}, err
	}

	item := original
	if in.UnitCostCents > 0 {
		item.UnitCostCents = in.UnitCostCents
	}
	if supplier := strings.TrimSpace(in.Supplier); supplier != "" {
		item.Supplier = supplier
	}
	if in.ExpiresAt != nil {
		item.ExpiresAt = in.ExpiresAt
	}
	total, err := inventory.CostCents(in.Quantity, item.UnitCostCents)
	if err != nil {
		return Purchase{}, apperr.Validation("purchase total: %v", err)
	}

	if in.UnitCostCents > 0 || in.Supplier != "" || in.ExpiresAt != nil {
		if _, err := s.store.UpdateItem(ctx, item); err != nil {
			return Purchase{}, err
		}
	}

	updated, movement, err := s.AdjustStock(ctx, restaurantID, id, inventory.MovementIn, in.Quantity, "purchase", actor)
	if err != nil {
		s.revertPurchase(ctx, original, inventory.Movement{})
		return Purchase{}, err
	}
	if total == 0 {
		return Purchase{Item: updated, Movement: movement}, nil
	}

	p, err := s.payments.Record(ctx, restaurantID, payments.Input{
		Direction:   payment.DirectionExpense,
		Category:    payment.CategorySuppliers,
		Status:      payment.StatusCompleted,
		AmountCents: total,
		Method:      method,
		Description: fmt.Sprintf("Purchase %g %s %s", in.Quantity, updated.Unit, updated.Name),
		Reference:   "purchase:" + movement.ID,
		OccurredAt:  movement.CreatedAt,
	})
	if err != nil {
		s.revertPurchase(ctx, original, movement)
		return Purchase{}, err
	}
	return Purchase{Item: updated, Movement: movement, Payment: p}, nil
}

// revertPurchase takes back a purchase stock-in (when movement is set) and
// restores the descriptive fields of original.
func (s *Service) revertPurchase(ctx context.Context, original inventory.Item, movement inventory.Movement) {
	log := s.log.WithField("item_id", original.ID)
	current, err := s.store.GetItem(ctx, original.ID)
	if err != nil {
		log.WithError(err).Error("revert purchase: load item failed")
		return
	}
	if movement.ID != "" {
		after := max(roundQty(current.Quantity-movement.Quantity), 0)
		current, _, err = s.store.ApplyMovement(ctx, inventory.Movement{
			ItemID:         current.ID,
			Kind:           inventory.MovementOut,
			Quantity:       movement.Quantity,
			QuantityBefore: current.Quantity,
			QuantityAfter:  after,
			Reason:         "purchase reverted",
			CreatedBy:      movement.CreatedBy,
		})
		if err != nil {
			log.WithError(err).Error("revert purchase: stock-out failed")
			return
		}
		metrics.RecordMovement(string(inventory.MovementOut))
	}
	current.UnitCostCents = original.UnitCostCents
	current.Supplier = original.Supplier
	current.ExpiresAt = original.ExpiresAt
	if _, err := s.store.UpdateItem(ctx, current); err != nil {
		log.WithError(err).Error("revert purchase: restore item failed")
		return
	}
	log.Warn("purchase reverted")
}

// ListMovements returns the movement history of an item, newest first.
func (s *Service) ListMovements(ctx context.Context, restaurantID, id string) ([]inventory.Movement, error) {
	if _, err := s.GetItem(ctx, restaurantID, id); err != nil {
		return nil, err
	}
	return s.store.ListMovements(ctx, id)
}

// LowStock returns items at or below their reorder threshold, lowest
// coverage first.
func (s *Service) LowStock(ctx context.Context, restaurantID string) ([]inventory.Item, error) {
	items, err := s.ListItems(ctx, restaurantID, inventory.Filter{LowStockOnly: true})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		return coverage(items[i]) < coverage(items[j])
	})
	return items, nil
}

// Valuation sums stock value at unit cost.
func (s *Service) Valuation(ctx context.Context, restaurantID string) (Valuation, error) {
	items, err := s.store.ListItems(ctx, restaurantID)
	if err != nil {
		return Valuation{}, err
	}
	v := Valuation{RestaurantID: restaurantID, Items: len(items), ByCategory: make(map[inventory.Category]int64)}
	for _, item := range items {
		value := item.ValueCents()
		v.TotalCents += value
		v.ByCategory[item.Category] += value
	}
	return v, nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, item inventory.Item, meta map[string]string) {
	s.events.Publish(ctx, events.Event{
		Type:         typ,
		RestaurantID: item.RestaurantID,
		Subject:      item.ID,
		Message:      item.Name,
		Metadata:     meta,
	})
}

// checkLow announces an item the first time it is seen at or below its
// threshold and forgets it once it recovers.
func (s *Service) checkLow(ctx context.Context, item inventory.Item, publisher events.Publisher) {
	if !item.LowStock() {
		s.clearLow(item.ID)
		return
	}
	if s.markLow(item.ID) {
		publisher.Publish(ctx, lowStockEvent(item))
	}
}

func lowStockEvent(item inventory.Item) events.Event {
	return events.Event{
		Type:         events.InventoryLowStock,
		RestaurantID: item.RestaurantID,
		Subject:      item.ID,
		Message:      item.Name,
		Metadata:     map[string]string{"quantity": fmt.Sprintf("%g", item.Quantity)},
	}
}

// markLow records a low item and reports whether it was not already known.
func (s *Service) markLow(id string) bool {
	s.lowMu.Lock()
	defer s.lowMu.Unlock()
	if _, ok := s.low[id]; ok {
		return false
	}
	s.low[id] = struct{}{}
	return true
}

func (s *Service) clearLow(id string) {
	s.lowMu.Lock()
	delete(s.low, id)
	s.lowMu.Unlock()
}

// retainLow drops flags for items not in seen.
func (s *Service) retainLow(seen map[string]struct{}) {
	s.lowMu.Lock()
	defer s.lowMu.Unlock()
	for id := range s.low {
		if _, ok := seen[id]; !ok {
			delete(s.low, id)
		}
	}
}

func applyItem(item *inventory.Item, in ItemInput) error {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return apperr.Validation("name is required")
	}
	if in.Category == "" {
		in.Category = inventory.CategoryOther
	}
	if !in.Category.Valid() {
		return apperr.Validation("unknown category %q", in.Category)
	}
	if in.Unit == "" {
		in.Unit = inventory.UnitPiece
	}
	if !in.Unit.Valid() {
		return apperr.Validation("unknown unit %q", in.Unit)
	}
	if in.MinQuantity < 0 || math.IsNaN(in.MinQuantity) {
		return apperr.Validation("min_quantity cannot be negative")
	}
	if in.UnitCostCents < 0 {
		return apperr.Validation("unit_cost_cents cannot be negative")
	}

	item.Name = in.Name
	item.SKU = strings.TrimSpace(in.SKU)
	item.Category = in.Category
	item.Unit = in.Unit
	item.MinQuantity = in.MinQuantity
	item.UnitCostCents = in.UnitCostCents
	item.Supplier = strings.TrimSpace(in.Supplier)
	item.ExpiresAt = in.ExpiresAt
	return nil
}

func coverage(item inventory.Item) float64 {
	if item.MinQuantity <= 0 {
		return math.Inf(1)
	}
	return item.Quantity / item.MinQuantity
}

// roundQty trims float noise from repeated additions (0.1+0.2 and friends).
func roundQty(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}
