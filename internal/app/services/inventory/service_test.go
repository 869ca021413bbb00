package inventory

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/services/payments"
	"github.com/estrateo/estrateo/internal/app/storage/memory"
	apperr "github.com/estrateo/estrateo/internal/errors"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	feed  *events.Log
	rid   string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	store := memory.New()
	r, err := store.CreateRestaurant(context.Background(), restaurant.Restaurant{Name: "Casa", Currency: "EUR", Timezone: "UTC"})
	require.NoError(t, err)
	feed := events.New(100)
	pay := payments.New(store, store, store, feed, nil)
	return fixture{svc: New(store, pay, feed, nil), store: store, feed: feed, rid: r.ID}
}

func countEvents(feed *events.Log, typ events.Type) int {
	n := 0
	for _, ev := range feed.Recent(feed.Count()) {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func TestService_AdjustStock(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	item, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Tomatoes", Category: inventory.CategoryProduce, Unit: inventory.UnitKilogram, Quantity: 10, MinQuantity: 3, UnitCostCents: 180})
	require.NoError(t, err)
	assert.Equal(t, 10.0, item.Quantity)

	item, mv, err := fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementOut, 8, "service", "chef")
	require.NoError(t, err)
	assert.Equal(t, 2.0, item.Quantity)
	assert.Equal(t, 10.0, mv.QuantityBefore)
	assert.Equal(t, 2.0, mv.QuantityAfter)
	assert.Equal(t, "chef", mv.CreatedBy)
	assert.Equal(t, 1, countEvents(fx.feed, events.InventoryLowStock))

	_, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementWaste, 5, "spoiled", "chef")
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "insufficient stock: %v", err)

	_, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementAdjust, -1, "", "chef")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementIn, 0, "", "chef")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, "borrow", 1, "", "chef")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	item, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementAdjust, 0.5, "count", "chef")
	require.NoError(t, err)
	assert.Equal(t, 0.5, item.Quantity)

	item, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementIn, 0.1, "", "chef")
	require.NoError(t, err)
	item, _, err = fx.svc.AdjustStock(ctx, fx.rid, item.ID, inventory.MovementIn, 0.2, "", "chef")
	require.NoError(t, err)
	assert.Equal(t, 0.8, item.Quantity)

	history, err := fx.svc.ListMovements(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 4)
	assert.Equal(t, inventory.MovementIn, history[0].Kind)
	assert.Equal(t, inventory.MovementOut, history[3].Kind)
}

func TestService_ItemValidationAndTenancy(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	cases := []ItemInput{
		{Name: ""},
		{Name: "Flour", Category: "bakery"},
		{Name: "Flour", Unit: "cup"},
		{Name: "Flour", MinQuantity: -1},
		{Name: "Flour", UnitCostCents: -5},
		{Name: "Flour", Quantity: -2},
	}
	for _, in := range cases {
		_, err := fx.svc.CreateItem(ctx, fx.rid, in)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "input %+v: %v", in, err)
	}

	item, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Flour", SKU: "FL-1"})
	require.NoError(t, err)
	assert.Equal(t, inventory.CategoryOther, item.Category)
	assert.Equal(t, inventory.UnitPiece, item.Unit)

	_, err = fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Other flour", SKU: "fl-1"})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict))

	other, err := fx.store.CreateRestaurant(ctx, restaurant.Restaurant{Name: "Other", Currency: "EUR", Timezone: "UTC"})
	require.NoError(t, err)
	_, err = fx.svc.GetItem(ctx, other.ID, item.ID)
	assert.True(t, apperr.IsNotFound(err))
	assert.True(t, apperr.IsNotFound(fx.svc.DeleteItem(ctx, other.ID, item.ID)))

	updated, err := fx.svc.UpdateItem(ctx, fx.rid, item.ID, ItemInput{Name: "Flour 00", SKU: "FL-1", Quantity: 99})
	require.NoError(t, err)
	assert.Equal(t, "Flour 00", updated.Name)
	assert.Equal(t, 0.0, updated.Quantity)

	require.NoError(t, fx.svc.DeleteItem(ctx, fx.rid, item.ID))
	_, err = fx.svc.GetItem(ctx, fx.rid, item.ID)
	assert.True(t, apperr.IsNotFound(err))
}

func TestService_RecordPurchase(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	item, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Olive oil", Unit: inventory.UnitLitre, Quantity: 2, UnitCostCents: 250})
	require.NoError(t, err)

	purchase, err := fx.svc.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 4, UnitCostCents: 300, Supplier: "Almazara", Method: payment.MethodTransfer}, "manager")
	require.NoError(t, err)
	assert.Equal(t, 6.0, purchase.Item.Quantity)
	assert.Equal(t, int64(300), purchase.Item.UnitCostCents)
	assert.Equal(t, "Almazara", purchase.Item.Supplier)
	assert.Equal(t, inventory.MovementIn, purchase.Movement.Kind)

	assert.Equal(t, int64(1200), purchase.Payment.AmountCents)
	assert.Equal(t, payment.DirectionExpense, purchase.Payment.Direction)
	assert.Equal(t, payment.CategorySuppliers, purchase.Payment.Category)
	assert.Equal(t, payment.StatusCompleted, purchase.Payment.Status)
	assert.Equal(t, payment.MethodTransfer, purchase.Payment.Method)
	assert.Equal(t, "purchase:"+purchase.Movement.ID, purchase.Payment.Reference)

	_, err = fx.svc.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 0}, "manager")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	noPayments := New(fx.store, nil, nil, nil)
	_, err = noPayments.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 1}, "manager")
	assert.True(t, apperr.IsCode(err, apperr.CodeNotConfigured))
}

type failingRecorder struct{ calls int }

func (f *failingRecorder) Record(context.Context, string, payments.Input) (payment.Payment, error) {
	f.calls++
	return payment.Payment{}, errors.New("ledger unavailable")
}

func TestService_RecordPurchaseLeavesNothingBehindOnFailure(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	item, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Flour", Unit: inventory.UnitKilogram, Quantity: 5, UnitCostCents: 100, Supplier: "Molino"})
	require.NoError(t, err)

	_, err = fx.svc.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 10, UnitCostCents: 250, Method: "bitcoin"}, "manager")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "unknown method: %v", err)

	got, err := fx.svc.GetItem(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Quantity)
	assert.Equal(t, int64(100), got.UnitCostCents)
	history, err := fx.svc.ListMovements(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	assert.Empty(t, history)

	recorder := &failingRecorder{}
	svc := New(fx.store, recorder, nil, nil)
	_, err = svc.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 10, UnitCostCents: 250, Supplier: "Harinera"}, "manager")
	require.Error(t, err)
	assert.Equal(t, 1, recorder.calls)

	got, err = fx.svc.GetItem(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 5.0, got.Quantity)
	assert.Equal(t, int64(100), got.UnitCostCents)
	assert.Equal(t, "Molino", got.Supplier)

	history, err = fx.svc.ListMovements(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, inventory.MovementOut, history[0].Kind)
	assert.Equal(t, "purchase reverted", history[0].Reason)
	assert.Equal(t, inventory.MovementIn, history[1].Kind)

	list, err := fx.store.ListPayments(ctx, fx.rid, payment.Filter{})
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestService_RecordPurchaseRejectsOverflowingTotal(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	item, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Saffron", Quantity: 1})
	require.NoError(t, err)

	_, err = fx.svc.RecordPurchase(ctx, fx.rid, item.ID, PurchaseInput{Quantity: 1e12, UnitCostCents: math.MaxInt64 / 2}, "manager")
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "overflow: %v", err)

	got, err := fx.svc.GetItem(ctx, fx.rid, item.ID)
	require.NoError(t, err)
	assert.Equal(t, 1.0, got.Quantity)
	assert.Equal(t, int64(0), got.UnitCostCents)
}

func TestService_LowStockAndValuation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	fx.svc.now = func() time.Time { return now }
	soon := now.Add(24 * time.Hour)

	_, err := fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Milk", Category: inventory.CategoryDairy, Unit: inventory.UnitLitre, Quantity: 4, MinQuantity: 5, UnitCostCents: 100, ExpiresAt: &soon})
	require.NoError(t, err)
	_, err = fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Butter", Category: inventory.CategoryDairy, Quantity: 1, MinQuantity: 4, UnitCostCents: 350})
	require.NoError(t, err)
	_, err = fx.svc.CreateItem(ctx, fx.rid, ItemInput{Name: "Rice", Category: inventory.CategoryDryGoods, Unit: inventory.UnitKilogram, Quantity: 20, MinQuantity: 5, UnitCostCents: 120})
	require.NoError(t, err)

	low, err := fx.svc.LowStock(ctx, fx.rid)
	require.NoError(t, err)
	require.Len(t, low, 2)
	assert.Equal(t, "Butter", low[0].Name)
	assert.Equal(t, "Milk", low[1].Name)

	expiring, err := fx.svc.ListItems(ctx, fx.rid, inventory.Filter{ExpiringWithin: 48 * time.Hour})
	require.NoError(t, err)
	require.Len(t, expiring, 1)
	assert.Equal(t, "Milk", expiring[0].Name)

	_, err = fx.svc.ListItems(ctx, fx.rid, inventory.Filter{Category: "bakery"})
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	v, err := fx.svc.Valuation(ctx, fx.rid)
	require.NoError(t, err)
	assert.Equal(t, 3, v.Items)
	assert.Equal(t, int64(400+350+2400), v.TotalCents)
	assert.Equal(t, int64(750), v.ByCategory[inventory.CategoryDairy])
	assert.Equal(t, int64(2400), v.ByCategory[inventory.CategoryDryGoods])
}
