package inventory

import (
	"errors"
	"math"
	"strings"
	"time"
)

// Category groups stock items.
type Category string

const (
	CategoryProduce   Category = "produce"
	CategoryMeat      Category = "meat"
	CategorySeafood   Category = "seafood"
	CategoryDairy     Category = "dairy"
	CategoryDryGoods  Category = "dry_goods"
	CategoryBeverages Category = "beverages"
	CategoryCleaning  Category = "cleaning"
	CategoryOther     Category = "other"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryProduce, CategoryMeat, CategorySeafood, CategoryDairy,
		CategoryDryGoods, CategoryBeverages, CategoryCleaning, CategoryOther:
		return true
	}
	return false
}

// Unit is the measure an item is counted in.
type Unit string

const (
	UnitKilogram   Unit = "kg"
	UnitGram       Unit = "g"
	UnitLitre      Unit = "l"
	UnitMillilitre Unit = "ml"
	UnitPiece      Unit = "unit"
	UnitBox        Unit = "box"
)

// Valid reports whether u is a known unit.
func (u Unit) Valid() bool {
	switch u {
	case UnitKilogram, UnitGram, UnitLitre, UnitMillilitre, UnitPiece, UnitBox:
		return true
	}
	return false
}

// Item is a tracked stock item.
type Item struct {
	ID            string     `json:"id" db:"id"`
	RestaurantID  string     `json:"restaurant_id" db:"restaurant_id"`
	Name          string     `json:"name" db:"name"`
	SKU           string     `json:"sku,omitempty" db:"sku"`
	Category      Category   `json:"category" db:"category"`
	Unit          Unit       `json:"unit" db:"unit"`
	Quantity      float64    `json:"quantity" db:"quantity"`
	MinQuantity   float64    `json:"min_quantity" db:"min_quantity"`
	UnitCostCents int64      `json:"unit_cost_cents" db:"unit_cost_cents"`
	Supplier      string     `json:"supplier,omitempty" db:"supplier"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// LowStock reports whether the item is at or below its reorder threshold.
func (i Item) LowStock() bool {
	return i.MinQuantity > 0 && i.Quantity <= i.MinQuantity
}

// ErrCostOverflow is returned when a cost does not fit in int64 cents.
var ErrCostOverflow = errors.New("cost exceeds the representable amount")

// CostCents is qty units at unitCents each, rounded to the nearest cent.
func CostCents(qty float64, unitCents int64) (int64, error) {
	v := math.Round(qty * float64(unitCents))
	if math.IsNaN(v) || v >= math.MaxInt64 || v <= math.MinInt64 {
		return 0, ErrCostOverflow
	}
	return int64(v), nil
}

// ValueCents is the stock value at unit cost, rounded to the nearest cent and
// capped at math.MaxInt64.
func (i Item) ValueCents() int64 {
	v, err := CostCents(i.Quantity, i.UnitCostCents)
	if err != nil {
		return math.MaxInt64
	}
	return v
}

// ExpiresWithin reports whether the item expires before now+window.
func (i Item) ExpiresWithin(now time.Time, window time.Duration) bool {
	if i.ExpiresAt == nil {
		return false
	}
	return i.ExpiresAt.Before(now.Add(window))
}

// MovementKind is the kind of stock change.
type MovementKind string

const (
	MovementIn     MovementKind = "in"
	MovementOut    MovementKind = "out"
	MovementWaste  MovementKind = "waste"
	MovementAdjust MovementKind = "adjust"
)

// Valid reports whether k is a known movement kind.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementIn, MovementOut, MovementWaste, MovementAdjust:
		return true
	}
	return false
}

// Movement records one change to an item's quantity. For adjust movements
// Quantity is the new absolute count; otherwise it is the amount moved.
type Movement struct {
	ID             string       `json:"id" db:"id"`
	ItemID         string       `json:"item_id" db:"item_id"`
	RestaurantID   string       `json:"restaurant_id" db:"restaurant_id"`
	Kind           MovementKind `json:"kind" db:"kind"`
	Quantity       float64      `json:"quantity" db:"quantity"`
	QuantityBefore float64      `json:"quantity_before" db:"quantity_before"`
	QuantityAfter  float64      `json:"quantity_after" db:"quantity_after"`
	Reason         string       `json:"reason,omitempty" db:"reason"`
	CreatedBy      string       `json:"created_by,omitempty" db:"created_by"`
	CreatedAt      time.Time    `json:"created_at" db:"created_at"`
}

// Apply returns the quantity after applying a movement of this kind.
func (k MovementKind) Apply(current, qty float64) float64 {
	switch k {
	case MovementIn:
		return current + qty
	case MovementOut, MovementWaste:
		return current - qty
	case MovementAdjust:
		return qty
	}
	return current
}

// Filter narrows item listings.
type Filter struct {
	Category       Category
	Search         string
	LowStockOnly   bool
	ExpiringWithin time.Duration
}

// Matches reports whether item passes the filter at time now.
func (f Filter) Matches(item Item, now time.Time) bool {
	if f.Category != "" && item.Category != f.Category {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		haystack := strings.ToLower(item.Name + " " + item.SKU + " " + item.Supplier)
		if !strings.Contains(haystack, q) {
			return false
		}
	}
	if f.LowStockOnly && !item.LowStock() {
		return false
	}
	if f.ExpiringWithin > 0 && !item.ExpiresWithin(now, f.ExpiringWithin) {
		return false
	}
	return true
}
