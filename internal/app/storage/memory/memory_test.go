package memory

import (
	"context"
	"testing"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/domain/user"
	apperr "github.com/estrateo/estrateo/internal/errors"
)

func TestStoreUsers(t *testing.T) {
	store := New()
	ctx := context.Background()

	r, err := store.CreateRestaurant(ctx, restaurant.Restaurant{Name: "Casa"})
	if err != nil {
		t.Fatalf("create restaurant: %v", err)
	}
	u, err := store.CreateUser(ctx, user.User{RestaurantID: r.ID, Email: "Owner@Casa.test", Role: user.RoleOwner})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	if u.Email != "owner@casa.test" {
		t.Fatalf("expected normalized email, got %q", u.Email)
	}
	if _, err := store.CreateUser(ctx, user.User{RestaurantID: r.ID, Email: "owner@casa.test"}); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}

	second, err := store.CreateUser(ctx, user.User{RestaurantID: r.ID, Email: "staff@casa.test", Role: user.RoleStaff})
	if err != nil {
		t.Fatalf("create second user: %v", err)
	}
	second.Email = "owner@casa.test"
	if _, err := store.UpdateUser(ctx, second); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict on email change, got %v", err)
	}
	second.Email = "renamed@casa.test"
	if _, err := store.UpdateUser(ctx, second); err != nil {
		t.Fatalf("rename: %v", err)
	}
	if _, err := store.GetUserByEmail(ctx, "staff@casa.test"); !apperr.IsNotFound(err) {
		t.Fatalf("old email should be released, got %v", err)
	}

	users, _ := store.ListUsers(ctx, r.ID)
	if len(users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(users))
	}
}

func TestStoreCloneIsolation(t *testing.T) {
	store := New()
	ctx := context.Background()

	expires := time.Now().Add(time.Hour)
	item, err := store.CreateItem(ctx, inventory.Item{RestaurantID: "r", Name: "Milk", ExpiresAt: &expires})
	if err != nil {
		t.Fatalf("create item: %v", err)
	}
	*item.ExpiresAt = time.Time{}

	got, _ := store.GetItem(ctx, item.ID)
	if got.ExpiresAt == nil || got.ExpiresAt.IsZero() {
		t.Fatalf("stored item mutated through returned pointer")
	}
}

func TestListPaymentsOrderingAndLimit(t *testing.T) {
	store := New()
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.CreatePayment(ctx, payment.Payment{
			RestaurantID: "r",
			Direction:    payment.DirectionExpense,
			AmountCents:  int64(100 * (i + 1)),
			OccurredAt:   base.AddDate(0, 0, i),
		})
		if err != nil {
			t.Fatalf("create payment: %v", err)
		}
	}
	if _, err := store.CreatePayment(ctx, payment.Payment{RestaurantID: "other", OccurredAt: base}); err != nil {
		t.Fatalf("create payment: %v", err)
	}

	list, err := store.ListPayments(ctx, "r", payment.Filter{Limit: 3})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 3 || list[0].AmountCents != 500 || list[2].AmountCents != 300 {
		t.Fatalf("unexpected ordering: %+v", list)
	}

	window, _ := store.ListPayments(ctx, "r", payment.Filter{From: base.AddDate(0, 0, 1), To: base.AddDate(0, 0, 3)})
	if len(window) != 2 {
		t.Fatalf("expected 2 payments in window, got %d", len(window))
	}
}

func TestEmployeesFilterAndDelete(t *testing.T) {
	store := New()
	ctx := context.Background()

	a, _ := store.CreateEmployee(ctx, employee.Employee{RestaurantID: "r", FirstName: "Ana", LastName: "Ruiz", Position: employee.PositionChef, Status: employee.StatusActive})
	_, _ = store.CreateEmployee(ctx, employee.Employee{RestaurantID: "r", FirstName: "Luis", LastName: "Alba", Position: employee.PositionWaiter, Status: employee.StatusTerminated})

	all, _ := store.ListEmployees(ctx, "r", employee.Filter{})
	if len(all) != 2 || all[0].LastName != "Alba" {
		t.Fatalf("expected sorted by last name, got %+v", all)
	}
	active, _ := store.ListEmployees(ctx, "r", employee.Filter{Status: employee.StatusActive})
	if len(active) != 1 || active[0].ID != a.ID {
		t.Fatalf("unexpected filter result: %+v", active)
	}

	if err := store.DeleteEmployee(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.DeleteEmployee(ctx, a.ID); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestApplyMovement(t *testing.T) {
	store := New()
	ctx := context.Background()

	item, _ := store.CreateItem(ctx, inventory.Item{RestaurantID: "r", Name: "Rice", Quantity: 5})

	updated, mv, err := store.ApplyMovement(ctx, inventory.Movement{ItemID: item.ID, Kind: inventory.MovementIn, Quantity: 2, QuantityBefore: 5, QuantityAfter: 7})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if updated.Quantity != 7 || mv.ID == "" || mv.RestaurantID != "r" {
		t.Fatalf("unexpected result %+v %+v", updated, mv)
	}
	if _, _, err := store.ApplyMovement(ctx, inventory.Movement{ItemID: item.ID, QuantityBefore: 5, QuantityAfter: 1}); !apperr.IsCode(err, apperr.CodeConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
	if _, _, err := store.ApplyMovement(ctx, inventory.Movement{ItemID: "missing"}); !apperr.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}

	_, _, _ = store.ApplyMovement(ctx, inventory.Movement{ItemID: item.ID, Kind: inventory.MovementOut, Quantity: 1, QuantityBefore: 7, QuantityAfter: 6})
	history, _ := store.ListMovements(ctx, item.ID)
	if len(history) != 2 || history[0].QuantityAfter != 6 {
		t.Fatalf("expected newest first history, got %+v", history)
	}
}
