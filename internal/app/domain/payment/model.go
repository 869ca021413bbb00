package payment

import "time"

// Direction says whether money comes in or goes out.
type Direction string

const (
	DirectionIncome  Direction = "income"
	DirectionExpense Direction = "expense"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionIncome || d == DirectionExpense
}

// Category classifies a cash movement.
type Category string

const (
	CategorySales       Category = "sales"
	CategoryCatering    Category = "catering"
	CategorySalaries    Category = "salaries"
	CategorySuppliers   Category = "suppliers"
	CategoryRent        Category = "rent"
	CategoryUtilities   Category = "utilities"
	CategoryTaxes       Category = "taxes"
	CategoryMaintenance Category = "maintenance"
	CategoryMarketing   Category = "marketing"
	CategoryOther       Category = "other"
)

// Categories lists every known category.
var Categories = []Category{
	CategorySales, CategoryCatering, CategorySalaries, CategorySuppliers, CategoryRent,
	CategoryUtilities, CategoryTaxes, CategoryMaintenance, CategoryMarketing, CategoryOther,
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Method is how the money moved.
type Method string

const (
	MethodCash     Method = "cash"
	MethodCard     Method = "card"
	MethodTransfer Method = "transfer"
	MethodOther    Method = "other"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCash, MethodCard, MethodTransfer, MethodOther:
		return true
	}
	return false
}

// Status tracks settlement.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Payment is a single cash-flow entry.
type Payment struct {
	ID           string    `json:"id" db:"id"`
	RestaurantID string    `json:"restaurant_id" db:"restaurant_id"`
	Direction    Direction `json:"direction" db:"direction"`
	Category     Category  `json:"category" db:"category"`
	Method       Method    `json:"method" db:"method"`
	AmountCents  int64     `json:"amount_cents" db:"amount_cents"`
	Description  string    `json:"description,omitempty" db:"description"`
	Reference    string    `json:"reference,omitempty" db:"reference"`
	EmployeeID   string    `json:"employee_id,omitempty" db:"employee_id"`
	Status       Status    `json:"status" db:"status"`
	OccurredAt   time.Time `json:"occurred_at" db:"occurred_at"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// SignedAmount is positive for income and negative for expenses.
func (p Payment) SignedAmount() int64 {
	if p.Direction == DirectionExpense {
		return -p.AmountCents
	}
	return p.AmountCents
}

// Filter narrows payment listings. Zero values match everything; From is
// inclusive and To exclusive.
type Filter struct {
	Direction  Direction
	Category   Category
	Status     Status
	EmployeeID string
	Reference  string
	From       time.Time
	To         time.Time
	Limit      int
}

// Matches reports whether p passes the filter, ignoring Limit.
func (f Filter) Matches(p Payment) bool {
	if f.Direction != "" && p.Direction != f.Direction {
		return false
	}
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.Status != "" && p.Status != f.Status {
		return false
	}
	if f.EmployeeID != "" && p.EmployeeID != f.EmployeeID {
		return false
	}
	if f.Reference != "" && p.Reference != f.Reference {
		return false
	}
	if !f.From.IsZero() && p.OccurredAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !p.OccurredAt.Before(f.To) {
		return false
	}
	return true
}

// CashFlow aggregates completed payments over a period.
type CashFlow struct {
	RestaurantID string             `json:"restaurant_id"`
	From         time.Time          `json:"from"`
	To           time.Time          `json:"to"`
	IncomeCents  int64              `json:"income_cents"`
	ExpenseCents int64              `json:"expense_cents"`
	NetCents     int64              `json:"net_cents"`
	Income       map[Category]int64 `json:"income_by_category"`
	Expenses     map[Category]int64 `json:"expense_by_category"`
	Daily        []DailyPoint       `json:"daily"`
}

// DailyPoint is one day of a cash-flow series.
type DailyPoint struct {
	Date         string `json:"date"`
	IncomeCents  int64  `json:"income_cents"`
	ExpenseCents int64  `json:"expense_cents"`
	NetCents     int64  `json:"net_cents"`
}
