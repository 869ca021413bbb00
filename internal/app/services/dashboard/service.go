package dashboard

import (
	"context"
	"sort"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/dashboard"
	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/services/payments"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

const (
	DefaultMonths  = 6
	MaxMonths      = 24
	recentPayments = 10
	lowStockShown  = 10
)

// Service composes the restaurant overview.
type Service struct {
	restaurants storage.RestaurantStore
	payments    storage.PaymentStore
	employees   storage.EmployeeStore
	inventory   storage.InventoryStore
	window      time.Duration
	log         *logger.Logger
	now         func() time.Time
}

// New constructs a dashboard service. expiryWindow defines "expiring soon".
func New(restaurants storage.RestaurantStore, payments storage.PaymentStore, employees storage.EmployeeStore, inventory storage.InventoryStore, expiryWindow time.Duration, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("dashboard")
	}
	if expiryWindow <= 0 {
		expiryWindow = 72 * time.Hour
	}
	return &Service{
		restaurants: restaurants,
		payments:    payments,
		employees:   employees,
		inventory:   inventory,
		window:      expiryWindow,
		log:         log,
		now:         time.Now,
	}
}

// Summary covers the current month and the months-1 before it, in the
// restaurant's timezone, up to now.
func (s *Service) Summary(ctx context.Context, restaurantID string, months int) (dashboard.Summary, error) {
	if months == 0 {
		months = DefaultMonths
	}
	if months < 1 || months > MaxMonths {
		return dashboard.Summary{}, apperr.Validation("months must be between 1 and %d", MaxMonths)
	}

	r, err := s.restaurants.GetRestaurant(ctx, restaurantID)
	if err != nil {
		return dashboard.Summary{}, err
	}
	loc := r.Location()
	now := s.now().In(loc)
	from := time.Date(now.Year(), now.Month()-time.Month(months-1), 1, 0, 0, 0, 0, loc)
	to := now.Add(time.Nanosecond)

	summary := dashboard.Summary{
		RestaurantID: restaurantID,
		Currency:     r.Currency,
		From:         from,
		To:           now,
		GeneratedAt:  now,
	}

	if err := s.fillPayments(ctx, &summary, from, to, loc, months); err != nil {
		return dashboard.Summary{}, err
	}
	if err := s.fillEmployees(ctx, &summary); err != nil {
		return dashboard.Summary{}, err
	}
	if err := s.fillInventory(ctx, &summary, now); err != nil {
		return dashboard.Summary{}, err
	}

	s.log.WithContext(ctx).
		WithField("restaurant_id", restaurantID).
		WithField("months", months).
		Debug("dashboard summary built")
	return summary, nil
}

func (s *Service) fillPayments(ctx context.Context, summary *dashboard.Summary, from, to time.Time, loc *time.Location, months int) error {
	list, err := s.payments.ListPayments(ctx, summary.RestaurantID, payment.Filter{From: from, To: to})
	if err != nil {
		return err
	}
	flow := payments.Aggregate(summary.RestaurantID, from, to, loc, list)
	summary.IncomeCents = flow.IncomeCents
	summary.ExpenseCents = flow.ExpenseCents
	summary.NetCents = flow.NetCents
	summary.IncomeByCategory = flow.Income
	summary.ExpenseByCategory = flow.Expenses

	index := make(map[string]int, months)
	for i := 0; i < months; i++ {
		key := from.AddDate(0, i, 0).Format("2006-01")
		index[key] = i
		summary.Monthly = append(summary.Monthly, dashboard.MonthPoint{Month: key})
	}
	for _, p := range list {
		if p.Status != payment.StatusCompleted {
			continue
		}
		i, ok := index[p.OccurredAt.In(loc).Format("2006-01")]
		if !ok {
			continue
		}
		point := &summary.Monthly[i]
		if p.Direction == payment.DirectionIncome {
			point.IncomeCents += p.AmountCents
		} else {
			point.ExpenseCents += p.AmountCents
		}
		point.NetCents = point.IncomeCents - point.ExpenseCents
	}

	pending, err := s.payments.ListPayments(ctx, summary.RestaurantID, payment.Filter{Status: payment.StatusPending})
	if err != nil {
		return err
	}
	summary.PendingCount = len(pending)
	for _, p := range pending {
		summary.PendingCents += p.AmountCents
	}

	recent, err := s.payments.ListPayments(ctx, summary.RestaurantID, payment.Filter{Limit: recentPayments})
	if err != nil {
		return err
	}
	summary.RecentPayments = recent
	return nil
}

func (s *Service) fillEmployees(ctx context.Context, summary *dashboard.Summary) error {
	list, err := s.employees.ListEmployees(ctx, summary.RestaurantID, employee.Filter{})
	if err != nil {
		return err
	}
	for _, e := range list {
		if e.Status == employee.StatusActive {
			summary.ActiveEmployees++
		}
		if e.OnPayroll() {
			summary.MonthlyPayrollCents += e.SalaryCents
		}
	}
	return nil
}

func (s *Service) fillInventory(ctx context.Context, summary *dashboard.Summary, now time.Time) error {
	items, err := s.inventory.ListItems(ctx, summary.RestaurantID)
	if err != nil {
		return err
	}
	summary.InventoryItems = len(items)
	low := make([]inventory.Item, 0)
	for _, item := range items {
		summary.InventoryValueCents += item.ValueCents()
		if item.ExpiresWithin(now, s.window) {
			summary.ExpiringSoonCount++
		}
		if item.LowStock() {
			low = append(low, item)
		}
	}
	summary.LowStockCount = len(low)
	sort.SliceStable(low, func(i, j int) bool {
		return low[i].Quantity/low[i].MinQuantity < low[j].Quantity/low[j].MinQuantity
	})
	if len(low) > lowStockShown {
		low = low[:lowStockShown]
	}
	summary.LowStockItems = low
	return nil
}
