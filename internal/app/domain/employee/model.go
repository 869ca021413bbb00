package employee

import (
	"strings"
	"time"
)

// Position is the job an employee holds.
type Position string

const (
	PositionChef      Position = "chef"
	PositionCook      Position = "cook"
	PositionWaiter    Position = "waiter"
	PositionBartender Position = "bartender"
	PositionHost      Position = "host"
	PositionCleaner   Position = "cleaner"
	PositionManager   Position = "manager"
	PositionOther     Position = "other"
)

// Positions lists every known position.
var Positions = []Position{
	PositionChef, PositionCook, PositionWaiter, PositionBartender,
	PositionHost, PositionCleaner, PositionManager, PositionOther,
}

// Valid reports whether p is a known position.
func (p Position) Valid() bool {
	for _, known := range Positions {
		if p == known {
			return true
		}
	}
	return false
}

// Status is the employment state.
type Status string

const (
	StatusActive     Status = "active"
	StatusOnLeave    Status = "on_leave"
	StatusTerminated Status = "terminated"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusOnLeave, StatusTerminated:
		return true
	}
	return false
}

// Employee is a member of restaurant staff on the payroll. Employees are not
// necessarily application users.
type Employee struct {
	ID           string     `json:"id" db:"id"`
	RestaurantID string     `json:"restaurant_id" db:"restaurant_id"`
	FirstName    string     `json:"first_name" db:"first_name"`
	LastName     string     `json:"last_name" db:"last_name"`
	Email        string     `json:"email,omitempty" db:"email"`
	Phone        string     `json:"phone,omitempty" db:"phone"`
	Position     Position   `json:"position" db:"position"`
	SalaryCents  int64      `json:"salary_cents" db:"salary_cents"`
	HireDate     time.Time  `json:"hire_date" db:"hire_date"`
	Status       Status     `json:"status" db:"status"`
	TerminatedAt *time.Time `json:"terminated_at,omitempty" db:"terminated_at"`
	Notes        string     `json:"notes,omitempty" db:"notes"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at" db:"updated_at"`
}

// FullName joins first and last name.
func (e Employee) FullName() string {
	return strings.TrimSpace(e.FirstName + " " + e.LastName)
}

// OnPayroll reports whether the employee still draws a salary.
func (e Employee) OnPayroll() bool {
	return e.Status == StatusActive || e.Status == StatusOnLeave
}

// Filter narrows employee listings.
type Filter struct {
	Status   Status
	Position Position
	Search   string
}

// Matches reports whether e passes the filter.
func (f Filter) Matches(e Employee) bool {
	if f.Status != "" && e.Status != f.Status {
		return false
	}
	if f.Position != "" && e.Position != f.Position {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(e.FullName() + " " + e.Email)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	return true
}
