package storage

import (
	"context"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/domain/user"
)

// RestaurantStore persists restaurants.
type RestaurantStore interface {
	CreateRestaurant(ctx context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error)
	UpdateRestaurant(ctx context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error)
	GetRestaurant(ctx context.Context, id string) (restaurant.Restaurant, error)
	ListRestaurants(ctx context.Context) ([]restaurant.Restaurant, error)
	// DeleteRestaurant removes a restaurant that owns no other rows.
	DeleteRestaurant(ctx context.Context, id string) error
}

// UserStore persists application users. Emails are unique across restaurants.
type UserStore interface {
	CreateUser(ctx context.Context, u user.User) (user.User, error)
	UpdateUser(ctx context.Context, u user.User) (user.User, error)
	GetUser(ctx context.Context, id string) (user.User, error)
	GetUserByEmail(ctx context.Context, email string) (user.User, error)
	ListUsers(ctx context.Context, restaurantID string) ([]user.User, error)
}

// EmployeeStore persists the employee registry.
type EmployeeStore interface {
	CreateEmployee(ctx context.Context, e employee.Employee) (employee.Employee, error)
	UpdateEmployee(ctx context.Context, e employee.Employee) (employee.Employee, error)
	GetEmployee(ctx context.Context, id string) (employee.Employee, error)
	ListEmployees(ctx context.Context, restaurantID string, filter employee.Filter) ([]employee.Employee, error)
	DeleteEmployee(ctx context.Context, id string) error
}

// PaymentStore persists cash-flow entries. ListPayments returns newest first.
type PaymentStore interface {
	CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error)
	GetPayment(ctx context.Context, id string) (payment.Payment, error)
	ListPayments(ctx context.Context, restaurantID string, filter payment.Filter) ([]payment.Payment, error)
	DeletePayment(ctx context.Context, id string) error
}

// InventoryStore persists stock items and their movement history.
type InventoryStore interface {
	CreateItem(ctx context.Context, item inventory.Item) (inventory.Item, error)
	UpdateItem(ctx context.Context, item inventory.Item) (inventory.Item, error)
	GetItem(ctx context.Context, id string) (inventory.Item, error)
	ListItems(ctx context.Context, restaurantID string) ([]inventory.Item, error)
	DeleteItem(ctx context.Context, id string) error

	// ApplyMovement records the movement and sets the item quantity to
	// movement.QuantityAfter in one step. It fails with a conflict when the
	// stored quantity no longer equals movement.QuantityBefore.
	ApplyMovement(ctx context.Context, movement inventory.Movement) (inventory.Item, inventory.Movement, error)
	ListMovements(ctx context.Context, itemID string) ([]inventory.Movement, error)
}

// Stores bundles every store interface, satisfied by memory.Store and
// sqlstore.Store.
type Stores interface {
	RestaurantStore
	UserStore
	EmployeeStore
	PaymentStore
	InventoryStore
}
