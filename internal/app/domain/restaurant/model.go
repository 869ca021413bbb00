package restaurant

import "time"

// DefaultCurrency is applied when a restaurant registers without one.
const DefaultCurrency = "EUR"

// Restaurant is the tenant that owns every other Estrateo record.
type Restaurant struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Currency  string    `json:"currency" db:"currency"`
	Timezone  string    `json:"timezone" db:"timezone"`
	Address   string    `json:"address,omitempty" db:"address"`
	Phone     string    `json:"phone,omitempty" db:"phone"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// Location resolves the restaurant timezone, defaulting to UTC.
func (r Restaurant) Location() *time.Location {
	if r.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(r.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
