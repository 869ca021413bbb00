package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
)

// Store is an in-memory implementation of the storage interfaces. It is safe
// for concurrent use and is primarily intended for tests and local development.
type Store struct {
	mu           sync.RWMutex
	restaurants  map[string]restaurant.Restaurant
	users        map[string]user.User
	usersByEmail map[string]string
	employees    map[string]employee.Employee
	payments     map[string]payment.Payment
	items        map[string]inventory.Item
	movements    map[string][]inventory.Movement
}

var _ storage.Stores = (*Store)(nil)

// New creates an empty store.
func New() *Store {
	return &Store{
		restaurants:  make(map[string]restaurant.Restaurant),
		users:        make(map[string]user.User),
		usersByEmail: make(map[string]string),
		employees:    make(map[string]employee.Employee),
		payments:     make(map[string]payment.Payment),
		items:        make(map[string]inventory.Item),
		movements:    make(map[string][]inventory.Movement),
	}
}

func now() time.Time { return time.Now().UTC() }

// RestaurantStore implementation ----------------------------------------------

func (s *Store) CreateRestaurant(_ context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.ID == "" {
		r.ID = uuid.NewString()
	} else if _, exists := s.restaurants[r.ID]; exists {
		return restaurant.Restaurant{}, apperr.Conflict("restaurant %s already exists", r.ID)
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts
	s.restaurants[r.ID] = r
	return r, nil
}

func (s *Store) UpdateRestaurant(_ context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.restaurants[r.ID]
	if !ok {
		return restaurant.Restaurant{}, apperr.NotFound("restaurant", r.ID)
	}
	r.CreatedAt = original.CreatedAt
	r.UpdatedAt = now()
	s.restaurants[r.ID] = r
	return r, nil
}

func (s *Store) GetRestaurant(_ context.Context, id string) (restaurant.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.restaurants[id]
	if !ok {
		return restaurant.Restaurant{}, apperr.NotFound("restaurant", id)
	}
	return r, nil
}

func (s *Store) ListRestaurants(_ context.Context) ([]restaurant.Restaurant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]restaurant.Restaurant, 0, len(s.restaurants))
	for _, r := range s.restaurants {
		result = append(result, r)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}

func (s *Store) DeleteRestaurant(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.restaurants[id]; !ok {
		return apperr.NotFound("restaurant", id)
	}
	delete(s.restaurants, id)
	return nil
}

// UserStore implementation ----------------------------------------------------

func (s *Store) CreateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	email := normalizeEmail(u.Email)
	if _, taken := s.usersByEmail[email]; taken {
		return user.User{}, apperr.Conflict("email %s already registered", email)
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	} else if _, exists := s.users[u.ID]; exists {
		return user.User{}, apperr.Conflict("user %s already exists", u.ID)
	}
	ts := now()
	u.Email = email
	u.CreatedAt, u.UpdatedAt = ts, ts
	s.users[u.ID] = cloneUser(u)
	s.usersByEmail[email] = u.ID
	return cloneUser(u), nil
}

func (s *Store) UpdateUser(_ context.Context, u user.User) (user.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.users[u.ID]
	if !ok {
		return user.User{}, apperr.NotFound("user", u.ID)
	}
	email := normalizeEmail(u.Email)
	if email != original.Email {
		if _, taken := s.usersByEmail[email]; taken {
			return user.User{}, apperr.Conflict("email %s already registered", email)
		}
		delete(s.usersByEmail, original.Email)
		s.usersByEmail[email] = u.ID
	}
	u.Email = email
	u.RestaurantID = original.RestaurantID
	u.CreatedAt = original.CreatedAt
	u.UpdatedAt = now()
	s.users[u.ID] = cloneUser(u)
	return cloneUser(u), nil
}

func (s *Store) GetUser(_ context.Context, id string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return user.User{}, apperr.NotFound("user", id)
	}
	return cloneUser(u), nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	email = normalizeEmail(email)
	id, ok := s.usersByEmail[email]
	if !ok {
		return user.User{}, apperr.NotFound("user", email)
	}
	return cloneUser(s.users[id]), nil
}

func (s *Store) ListUsers(_ context.Context, restaurantID string) ([]user.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]user.User, 0)
	for _, u := range s.users {
		if restaurantID == "" || u.RestaurantID == restaurantID {
			result = append(result, cloneUser(u))
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Email < result[j].Email })
	return result, nil
}

// EmployeeStore implementation ------------------------------------------------

func (s *Store) CreateEmployee(_ context.Context, e employee.Employee) (employee.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if e.ID == "" {
		e.ID = uuid.NewString()
	} else if _, exists := s.employees[e.ID]; exists {
		return employee.Employee{}, apperr.Conflict("employee %s already exists", e.ID)
	}
	ts := now()
	e.CreatedAt, e.UpdatedAt = ts, ts
	s.employees[e.ID] = cloneEmployee(e)
	return cloneEmployee(e), nil
}

func (s *Store) UpdateEmployee(_ context.Context, e employee.Employee) (employee.Employee, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.employees[e.ID]
	if !ok {
		return employee.Employee{}, apperr.NotFound("employee", e.ID)
	}
	e.RestaurantID = original.RestaurantID
	e.CreatedAt = original.CreatedAt
	e.UpdatedAt = now()
	s.employees[e.ID] = cloneEmployee(e)
	return cloneEmployee(e), nil
}

func (s *Store) GetEmployee(_ context.Context, id string) (employee.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.employees[id]
	if !ok {
		return employee.Employee{}, apperr.NotFound("employee", id)
	}
	return cloneEmployee(e), nil
}

func (s *Store) ListEmployees(_ context.Context, restaurantID string, filter employee.Filter) ([]employee.Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]employee.Employee, 0)
	for _, e := range s.employees {
		if restaurantID != "" && e.RestaurantID != restaurantID {
			continue
		}
		if filter.Matches(e) {
			result = append(result, cloneEmployee(e))
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].LastName != result[j].LastName {
			return result[i].LastName < result[j].LastName
		}
		return result[i].FirstName < result[j].FirstName
	})
	return result, nil
}

func (s *Store) DeleteEmployee(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.employees[id]; !ok {
		return apperr.NotFound("employee", id)
	}
	delete(s.employees, id)
	return nil
}

// PaymentStore implementation -------------------------------------------------

func (s *Store) CreatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	} else if _, exists := s.payments[p.ID]; exists {
		return payment.Payment{}, apperr.Conflict("payment %s already exists", p.ID)
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) UpdatePayment(_ context.Context, p payment.Payment) (payment.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.payments[p.ID]
	if !ok {
		return payment.Payment{}, apperr.NotFound("payment", p.ID)
	}
	p.RestaurantID = original.RestaurantID
	p.CreatedAt = original.CreatedAt
	p.UpdatedAt = now()
	s.payments[p.ID] = p
	return p, nil
}

func (s *Store) GetPayment(_ context.Context, id string) (payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.payments[id]
	if !ok {
		return payment.Payment{}, apperr.NotFound("payment", id)
	}
	return p, nil
}

func (s *Store) ListPayments(_ context.Context, restaurantID string, filter payment.Filter) ([]payment.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]payment.Payment, 0)
	for _, p := range s.payments {
		if restaurantID != "" && p.RestaurantID != restaurantID {
			continue
		}
		if filter.Matches(p) {
			result = append(result, p)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].OccurredAt.Equal(result[j].OccurredAt) {
			return result[i].OccurredAt.After(result[j].OccurredAt)
		}
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) DeletePayment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.payments[id]; !ok {
		return apperr.NotFound("payment", id)
	}
	delete(s.payments, id)
	return nil
}

// InventoryStore implementation -----------------------------------------------

func (s *Store) CreateItem(_ context.Context, item inventory.Item) (inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkSKULocked(item); err != nil {
		return inventory.Item{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	} else if _, exists := s.items[item.ID]; exists {
		return inventory.Item{}, apperr.Conflict("item %s already exists", item.ID)
	}
	ts := now()
	item.CreatedAt, item.UpdatedAt = ts, ts
	s.items[item.ID] = cloneItem(item)
	return cloneItem(item), nil
}

func (s *Store) UpdateItem(_ context.Context, item inventory.Item) (inventory.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	original, ok := s.items[item.ID]
	if !ok {
		return inventory.Item{}, apperr.NotFound("item", item.ID)
	}
	item.RestaurantID = original.RestaurantID
	if err := s.checkSKULocked(item); err != nil {
		return inventory.Item{}, err
	}
	item.CreatedAt = original.CreatedAt
	item.UpdatedAt = now()
	s.items[item.ID] = cloneItem(item)
	return cloneItem(item), nil
}

func (s *Store) GetItem(_ context.Context, id string) (inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return inventory.Item{}, apperr.NotFound("item", id)
	}
	return cloneItem(item), nil
}

func (s *Store) ListItems(_ context.Context, restaurantID string) ([]inventory.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]inventory.Item, 0)
	for _, item := range s.items {
		if restaurantID == "" || item.RestaurantID == restaurantID {
			result = append(result, cloneItem(item))
		}
	}
	sort.Slice(result, func(i, j int) bool { return strings.ToLower(result[i].Name) < strings.ToLower(result[j].Name) })
	return result, nil
}

func (s *Store) DeleteItem(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.items[id]; !ok {
		return apperr.NotFound("item", id)
	}
	delete(s.items, id)
	delete(s.movements, id)
	return nil
}

func (s *Store) ApplyMovement(_ context.Context, m inventory.Movement) (inventory.Item, inventory.Movement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[m.ItemID]
	if !ok {
		return inventory.Item{}, inventory.Movement{}, apperr.NotFound("item", m.ItemID)
	}
	if item.Quantity != m.QuantityBefore {
		return inventory.Item{}, inventory.Movement{}, apperr.Conflict("item %s changed concurrently", m.ItemID)
	}
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	ts := now()
	m.RestaurantID = item.RestaurantID
	m.CreatedAt = ts
	item.Quantity = m.QuantityAfter
	item.UpdatedAt = ts

	s.items[item.ID] = item
	s.movements[item.ID] = append(s.movements[item.ID], m)
	return cloneItem(item), m, nil
}

func (s *Store) ListMovements(_ context.Context, itemID string) ([]inventory.Movement, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.movements[itemID]
	result := make([]inventory.Movement, len(history))
	// newest first
	for i, m := range history {
		result[len(history)-1-i] = m
	}
	return result, nil
}

// Helpers ---------------------------------------------------------------------

func (s *Store) checkSKULocked(item inventory.Item) error {
	if item.SKU == "" {
		return nil
	}
	for id, existing := range s.items {
		if id != item.ID && existing.RestaurantID == item.RestaurantID && strings.EqualFold(existing.SKU, item.SKU) {
			return apperr.Conflict("sku %s already in use", item.SKU)
		}
	}
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func cloneUser(u user.User) user.User {
	u.LastLoginAt = cloneTime(u.LastLoginAt)
	return u
}

func cloneEmployee(e employee.Employee) employee.Employee {
	e.TerminatedAt = cloneTime(e.TerminatedAt)
	return e
}

func cloneItem(item inventory.Item) inventory.Item {
	item.ExpiresAt = cloneTime(item.ExpiresAt)
	return item
}
