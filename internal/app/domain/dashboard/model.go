package dashboard

import (
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
)

// Summary is the restaurant overview rendered on the dashboard.
type Summary struct {
	RestaurantID        string                     `json:"restaurant_id"`
	Currency            string                     `json:"currency"`
	From                time.Time                  `json:"from"`
	To                  time.Time                  `json:"to"`
	IncomeCents         int64                      `json:"income_cents"`
	ExpenseCents        int64                      `json:"expense_cents"`
	NetCents            int64                      `json:"net_cents"`
	PendingCount        int                        `json:"pending_count"`
	PendingCents        int64                      `json:"pending_cents"`
	ActiveEmployees     int                        `json:"active_employees"`
	MonthlyPayrollCents int64                      `json:"monthly_payroll_cents"`
	InventoryValueCents int64                      `json:"inventory_value_cents"`
	InventoryItems      int                        `json:"inventory_items"`
	LowStockCount       int                        `json:"low_stock_count"`
	ExpiringSoonCount   int                        `json:"expiring_soon_count"`
	IncomeByCategory    map[payment.Category]int64 `json:"income_by_category"`
	ExpenseByCategory   map[payment.Category]int64 `json:"expense_by_category"`
	Monthly             []MonthPoint               `json:"monthly"`
	RecentPayments      []payment.Payment          `json:"recent_payments"`
	LowStockItems       []inventory.Item           `json:"low_stock_items"`
	GeneratedAt         time.Time                  `json:"generated_at"`
}

// MonthPoint is one calendar month of income and expenses.
type MonthPoint struct {
	Month        string `json:"month"`
	IncomeCents  int64  `json:"income_cents"`
	ExpenseCents int64  `json:"expense_cents"`
	NetCents     int64  `json:"net_cents"`
}
