// Package sqlstore implements the storage interfaces on top of sqlx. The same
// queries run against PostgreSQL (lib/pq) and SQLite (modernc.org/sqlite);
// placeholders are written as ? and rebound for the active driver.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/domain/user"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
)

// Store implements storage.Stores backed by a SQL database.
type Store struct {
	db *sqlx.DB
}

var _ storage.Stores = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// DB exposes the underlying handle, used by health checks.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	return res, constraintError(err)
}

func (s *Store) get(ctx context.Context, dst any, query string, args ...any) error {
	return s.db.GetContext(ctx, dst, s.db.Rebind(query), args...)
}

func (s *Store) selectAll(ctx context.Context, dst any, query string, args ...any) error {
	return s.db.SelectContext(ctx, dst, s.db.Rebind(query), args...)
}

func notFound(err error, resource, id string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(resource, id)
	}
	return err
}

// constraintError maps unique and primary key violations of either driver
// onto a conflict. Other errors pass through.
func constraintError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return apperr.Conflict("duplicate record: %s", pqErr.Constraint)
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		switch liteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return apperr.Conflict("duplicate record")
		}
	}
	return err
}

func requireRow(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperr.NotFound(resource, id)
	}
	return nil
}

func now() time.Time { return time.Now().UTC() }

// --- RestaurantStore --------------------------------------------------------

const restaurantColumns = `id, name, currency, timezone, address, phone, created_at, updated_at`

func (s *Store) CreateRestaurant(ctx context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	ts := now()
	r.CreatedAt, r.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO restaurants (`+restaurantColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, r.ID, r.Name, r.Currency, r.Timezone, r.Address, r.Phone, r.CreatedAt, r.UpdatedAt)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	return r, nil
}

func (s *Store) UpdateRestaurant(ctx context.Context, r restaurant.Restaurant) (restaurant.Restaurant, error) {
	existing, err := s.GetRestaurant(ctx, r.ID)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	r.CreatedAt = existing.CreatedAt
	r.UpdatedAt = now()

	res, err := s.exec(ctx, `
		UPDATE restaurants
		SET name = ?, currency = ?, timezone = ?, address = ?, phone = ?, updated_at = ?
		WHERE id = ?
	`, r.Name, r.Currency, r.Timezone, r.Address, r.Phone, r.UpdatedAt, r.ID)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	if err := requireRow(res, "restaurant", r.ID); err != nil {
		return restaurant.Restaurant{}, err
	}
	return r, nil
}

func (s *Store) GetRestaurant(ctx context.Context, id string) (restaurant.Restaurant, error) {
	var r restaurant.Restaurant
	err := s.get(ctx, &r, `SELECT `+restaurantColumns+` FROM restaurants WHERE id = ?`, id)
	if err != nil {
		return restaurant.Restaurant{}, notFound(err, "restaurant", id)
	}
	return r, nil
}

func (s *Store) ListRestaurants(ctx context.Context) ([]restaurant.Restaurant, error) {
	result := make([]restaurant.Restaurant, 0)
	if err := s.selectAll(ctx, &result, `SELECT `+restaurantColumns+` FROM restaurants ORDER BY created_at`); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteRestaurant(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM restaurants WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "restaurant", id)
}

// --- UserStore --------------------------------------------------------------

const userColumns = `id, restaurant_id, email, name, password_hash, role, active, last_login_at, created_at, updated_at`

func (s *Store) CreateUser(ctx context.Context, u user.User) (user.User, error) {
	u.Email = normalizeEmail(u.Email)
	if err := s.ensureEmailFree(ctx, u.Email, ""); err != nil {
		return user.User{}, err
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	ts := now()
	u.CreatedAt, u.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO users (`+userColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, u.ID, u.RestaurantID, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Active, nullTime(u.LastLoginAt), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) UpdateUser(ctx context.Context, u user.User) (user.User, error) {
	existing, err := s.GetUser(ctx, u.ID)
	if err != nil {
		return user.User{}, err
	}
	u.Email = normalizeEmail(u.Email)
	if u.Email != existing.Email {
		if err := s.ensureEmailFree(ctx, u.Email, u.ID); err != nil {
			return user.User{}, err
		}
	}
	u.RestaurantID = existing.RestaurantID
	u.CreatedAt = existing.CreatedAt
	u.UpdatedAt = now()

	_, err = s.exec(ctx, `
		UPDATE users
		SET email = ?, name = ?, password_hash = ?, role = ?, active = ?, last_login_at = ?, updated_at = ?
		WHERE id = ?
	`, u.Email, u.Name, u.PasswordHash, string(u.Role), u.Active, nullTime(u.LastLoginAt), u.UpdatedAt, u.ID)
	if err != nil {
		return user.User{}, err
	}
	return u, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (user.User, error) {
	var u user.User
	if err := s.get(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id); err != nil {
		return user.User{}, notFound(err, "user", id)
	}
	return u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	email = normalizeEmail(email)
	var u user.User
	if err := s.get(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = ?`, email); err != nil {
		return user.User{}, notFound(err, "user", email)
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context, restaurantID string) ([]user.User, error) {
	result := make([]user.User, 0)
	query := `SELECT ` + userColumns + ` FROM users`
	var args []any
	if restaurantID != "" {
		query += ` WHERE restaurant_id = ?`
		args = append(args, restaurantID)
	}
	if err := s.selectAll(ctx, &result, query+` ORDER BY email`, args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ensureEmailFree(ctx context.Context, email, selfID string) error {
	var id string
	err := s.get(ctx, &id, `SELECT id FROM users WHERE email = ?`, email)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return nil
	case err != nil:
		return err
	case id != selfID:
		return apperr.Conflict("email %s already registered", email)
	}
	return nil
}

// --- EmployeeStore ----------------------------------------------------------

const employeeColumns = `id, restaurant_id, first_name, last_name, email, phone, position, salary_cents, hire_date, status, terminated_at, notes, created_at, updated_at`

func (s *Store) CreateEmployee(ctx context.Context, e employee.Employee) (employee.Employee, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	ts := now()
	e.CreatedAt, e.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO employees (`+employeeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.ID, e.RestaurantID, e.FirstName, e.LastName, e.Email, e.Phone, string(e.Position), e.SalaryCents,
		e.HireDate, string(e.Status), nullTime(e.TerminatedAt), e.Notes, e.CreatedAt, e.UpdatedAt)
	if err != nil {
		return employee.Employee{}, err
	}
	return e, nil
}

func (s *Store) UpdateEmployee(ctx context.Context, e employee.Employee) (employee.Employee, error) {
	existing, err := s.GetEmployee(ctx, e.ID)
	if err != nil {
		return employee.Employee{}, err
	}
	e.RestaurantID = existing.RestaurantID
	e.CreatedAt = existing.CreatedAt
	e.UpdatedAt = now()

	_, err = s.exec(ctx, `
		UPDATE employees
		SET first_name = ?, last_name = ?, email = ?, phone = ?, position = ?, salary_cents = ?,
		    hire_date = ?, status = ?, terminated_at = ?, notes = ?, updated_at = ?
		WHERE id = ?
	`, e.FirstName, e.LastName, e.Email, e.Phone, string(e.Position), e.SalaryCents,
		e.HireDate, string(e.Status), nullTime(e.TerminatedAt), e.Notes, e.UpdatedAt, e.ID)
	if err != nil {
		return employee.Employee{}, err
	}
	return e, nil
}

func (s *Store) GetEmployee(ctx context.Context, id string) (employee.Employee, error) {
	var e employee.Employee
	if err := s.get(ctx, &e, `SELECT `+employeeColumns+` FROM employees WHERE id = ?`, id); err != nil {
		return employee.Employee{}, notFound(err, "employee", id)
	}
	return e, nil
}

func (s *Store) ListEmployees(ctx context.Context, restaurantID string, filter employee.Filter) ([]employee.Employee, error) {
	var (
		clauses []string
		args    []any
	)
	if restaurantID != "" {
		clauses = append(clauses, "restaurant_id = ?")
		args = append(args, restaurantID)
	}
	if filter.Status != "" {
		clauses = append(clauses, "status = ?")
		args = append(args, string(filter.Status))
	}
	if filter.Position != "" {
		clauses = append(clauses, "position = ?")
		args = append(args, string(filter.Position))
	}

	var rows []employee.Employee
	query := `SELECT ` + employeeColumns + ` FROM employees` + where(clauses) + ` ORDER BY last_name, first_name`
	if err := s.selectAll(ctx, &rows, query, args...); err != nil {
		return nil, err
	}
	result := make([]employee.Employee, 0, len(rows))
	for _, e := range rows {
		if filter.Matches(e) {
			result = append(result, e)
		}
	}
	return result, nil
}

func (s *Store) DeleteEmployee(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM employees WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "employee", id)
}

// --- PaymentStore -----------------------------------------------------------

const paymentColumns = `id, restaurant_id, direction, category, method, amount_cents, description, reference, employee_id, status, occurred_at, created_at, updated_at`

func (s *Store) CreatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	ts := now()
	p.CreatedAt, p.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO payments (`+paymentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, p.ID, p.RestaurantID, string(p.Direction), string(p.Category), string(p.Method), p.AmountCents, p.Description,
		p.Reference, p.EmployeeID, string(p.Status), p.OccurredAt, p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) UpdatePayment(ctx context.Context, p payment.Payment) (payment.Payment, error) {
	existing, err := s.GetPayment(ctx, p.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	p.RestaurantID = existing.RestaurantID
	p.CreatedAt = existing.CreatedAt
	p.UpdatedAt = now()

	_, err = s.exec(ctx, `
		UPDATE payments
		SET direction = ?, category = ?, method = ?, amount_cents = ?, description = ?, reference = ?,
		    employee_id = ?, status = ?, occurred_at = ?, updated_at = ?
		WHERE id = ?
	`, string(p.Direction), string(p.Category), string(p.Method), p.AmountCents, p.Description, p.Reference,
		p.EmployeeID, string(p.Status), p.OccurredAt, p.UpdatedAt, p.ID)
	if err != nil {
		return payment.Payment{}, err
	}
	return p, nil
}

func (s *Store) GetPayment(ctx context.Context, id string) (payment.Payment, error) {
	var p payment.Payment
	if err := s.get(ctx, &p, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id); err != nil {
		return payment.Payment{}, notFound(err, "payment", id)
	}
	return p, nil
}

// ListPayments narrows on the indexed equality columns in SQL and applies the
// time window in Go, since SQLite compares timestamps as text.
func (s *Store) ListPayments(ctx context.Context, restaurantID string, filter payment.Filter) ([]payment.Payment, error) {
	var (
		clauses []string
		args    []any
	)
	if restaurantID != "" {
		clauses = append(clauses, "restaurant_id = ?")
		args = append(args, restaurantID)
	}
	for _, eq := range []struct{ column, value string }{
		{"direction", string(filter.Direction)},
		{"category", string(filter.Category)},
		{"status", string(filter.Status)},
		{"employee_id", filter.EmployeeID},
		{"reference", filter.Reference},
	} {
		if eq.value != "" {
			clauses = append(clauses, eq.column+" = ?")
			args = append(args, eq.value)
		}
	}

	var rows []payment.Payment
	if err := s.selectAll(ctx, &rows, `SELECT `+paymentColumns+` FROM payments`+where(clauses), args...); err != nil {
		return nil, err
	}
	result := make([]payment.Payment, 0, len(rows))
	for _, p := range rows {
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

func (s *Store) DeletePayment(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return requireRow(res, "payment", id)
}

// --- InventoryStore ---------------------------------------------------------

const itemColumns = `id, restaurant_id, name, sku, category, unit, quantity, min_quantity, unit_cost_cents, supplier, expires_at, created_at, updated_at`

const movementColumns = `id, item_id, restaurant_id, kind, quantity, quantity_before, quantity_after, reason, created_by, created_at`

func (s *Store) CreateItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	if err := s.ensureSKUFree(ctx, item); err != nil {
		return inventory.Item{}, err
	}
	if item.ID == "" {
		item.ID = uuid.NewString()
	}
	ts := now()
	item.CreatedAt, item.UpdatedAt = ts, ts

	_, err := s.exec(ctx, `
		INSERT INTO inventory_items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, item.ID, item.RestaurantID, item.Name, item.SKU, string(item.Category), string(item.Unit), item.Quantity,
		item.MinQuantity, item.UnitCostCents, item.Supplier, nullTime(item.ExpiresAt), item.CreatedAt, item.UpdatedAt)
	if err != nil {
		return inventory.Item{}, err
	}
	return item, nil
}

func (s *Store) UpdateItem(ctx context.Context, item inventory.Item) (inventory.Item, error) {
	existing, err := s.GetItem(ctx, item.ID)
	if err != nil {
		return inventory.Item{}, err
	}
	item.RestaurantID = existing.RestaurantID
	if err := s.ensureSKUFree(ctx, item); err != nil {
		return inventory.Item{}, err
	}
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = now()

	_, err = s.exec(ctx, `
		UPDATE inventory_items
		SET name = ?, sku = ?, category = ?, unit = ?, quantity = ?, min_quantity = ?,
		    unit_cost_cents = ?, supplier = ?, expires_at = ?, updated_at = ?
		WHERE id = ?
	`, item.Name, item.SKU, string(item.Category), string(item.Unit), item.Quantity, item.MinQuantity,
		item.UnitCostCents, item.Supplier, nullTime(item.ExpiresAt), item.UpdatedAt, item.ID)
	if err != nil {
		return inventory.Item{}, err
	}
	return item, nil
}

func (s *Store) GetItem(ctx context.Context, id string) (inventory.Item, error) {
	var item inventory.Item
	if err := s.get(ctx, &item, `SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`, id); err != nil {
		return inventory.Item{}, notFound(err, "item", id)
	}
	return item, nil
}

func (s *Store) ListItems(ctx context.Context, restaurantID string) ([]inventory.Item, error) {
	result := make([]inventory.Item, 0)
	query := `SELECT ` + itemColumns + ` FROM inventory_items`
	var args []any
	if restaurantID != "" {
		query += ` WHERE restaurant_id = ?`
		args = append(args, restaurantID)
	}
	if err := s.selectAll(ctx, &result, query+` ORDER BY LOWER(name)`, args...); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) DeleteItem(ctx context.Context, id string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM inventory_movements WHERE item_id = ?`), id); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM inventory_items WHERE id = ?`), id)
	if err != nil {
		return err
	}
	if err := requireRow(res, "item", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) ApplyMovement(ctx context.Context, m inventory.Movement) (inventory.Item, inventory.Movement, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	}
	defer tx.Rollback() //nolint:errcheck

	var item inventory.Item
	if err := tx.GetContext(ctx, &item, tx.Rebind(`SELECT `+itemColumns+` FROM inventory_items WHERE id = ?`), m.ItemID); err != nil {
		return inventory.Item{}, inventory.Movement{}, notFound(err, "item", m.ItemID)
	}

	ts := now()
	res, err := tx.ExecContext(ctx, tx.Rebind(`
		UPDATE inventory_items SET quantity = ?, updated_at = ?
		WHERE id = ? AND quantity = ?
	`), m.QuantityAfter, ts, m.ItemID, m.QuantityBefore)
	if err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	}
	if n, err := res.RowsAffected(); err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	} else if n == 0 {
		return inventory.Item{}, inventory.Movement{}, apperr.Conflict("item %s changed concurrently", m.ItemID)
	}

	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	m.RestaurantID = item.RestaurantID
	m.CreatedAt = ts
	_, err = tx.ExecContext(ctx, tx.Rebind(`
		INSERT INTO inventory_movements (`+movementColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`), m.ID, m.ItemID, m.RestaurantID, string(m.Kind), m.Quantity, m.QuantityBefore, m.QuantityAfter, m.Reason, m.CreatedBy, m.CreatedAt)
	if err != nil {
		return inventory.Item{}, inventory.Movement{}, err
	}
	if err := tx.Commit(); err != nil {
		return inventory.Item{}, inventory.Movement{}, fmt.Errorf("commit movement: %w", err)
	}

	item.Quantity = m.QuantityAfter
	item.UpdatedAt = ts
	return item, m, nil
}

func (s *Store) ListMovements(ctx context.Context, itemID string) ([]inventory.Movement, error) {
	result := make([]inventory.Movement, 0)
	err := s.selectAll(ctx, &result, `
		SELECT `+movementColumns+` FROM inventory_movements
		WHERE item_id = ?
		ORDER BY created_at DESC
	`, itemID)
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (s *Store) ensureSKUFree(ctx context.Context, item inventory.Item) error {
	if item.SKU == "" {
		return nil
	}
	var ids []string
	err := s.selectAll(ctx, &ids, `
		SELECT id FROM inventory_items
		WHERE restaurant_id = ? AND LOWER(sku) = LOWER(?)
	`, item.RestaurantID, item.SKU)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if id != item.ID {
			return apperr.Conflict("sku %s already in use", item.SKU)
		}
	}
	return nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func where(clauses []string) string {
	if len(clauses) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(clauses, " AND ")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
