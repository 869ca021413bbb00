package payments

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/storage/memory"
	apperr "github.com/estrateo/estrateo/internal/errors"
)

type fixture struct {
	svc   *Service
	store *memory.Store
	feed  *events.Log
	rid   string
}

func newFixture(t *testing.T, now time.Time) fixture {
	t.Helper()
	store := memory.New()
	r, err := store.CreateRestaurant(context.Background(), restaurant.Restaurant{Name: "Casa", Currency: "EUR", Timezone: "Europe/Madrid"})
	require.NoError(t, err)
	feed := events.New(100)
	svc := New(store, store, store, feed, nil)
	svc.now = func() time.Time { return now }
	return fixture{svc: svc, store: store, feed: feed, rid: r.ID}
}

func TestService_StatusTransitions(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC))
	ctx := context.Background()

	pending, err := fx.svc.Record(ctx, fx.rid, Input{Direction: payment.DirectionExpense, Category: payment.CategoryRent, AmountCents: 90000, Status: payment.StatusPending})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, pending.Status)
	assert.Equal(t, payment.MethodCash, pending.Method)

	edited, err := fx.svc.Update(ctx, fx.rid, pending.ID, Input{Direction: payment.DirectionExpense, Category: payment.CategoryRent, AmountCents: 95000, Description: "June rent"})
	require.NoError(t, err)
	assert.Equal(t, int64(95000), edited.AmountCents)
	assert.Equal(t, pending.OccurredAt, edited.OccurredAt)

	completed, err := fx.svc.Complete(ctx, fx.rid, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, completed.Status)

	_, err = fx.svc.Cancel(ctx, fx.rid, pending.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "cancel completed: %v", err)
	_, err = fx.svc.Update(ctx, fx.rid, pending.ID, Input{Direction: payment.DirectionExpense, AmountCents: 1})
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "edit completed: %v", err)
	assert.True(t, apperr.IsCode(fx.svc.Delete(ctx, fx.rid, pending.ID), apperr.CodeConflict))

	other, err := fx.svc.Record(ctx, fx.rid, Input{Direction: payment.DirectionIncome, Category: payment.CategorySales, AmountCents: 100, Status: payment.StatusPending})
	require.NoError(t, err)
	cancelled, err := fx.svc.Cancel(ctx, fx.rid, other.ID)
	require.NoError(t, err)
	_, err = fx.svc.Complete(ctx, fx.rid, cancelled.ID)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "complete cancelled: %v", err)
	require.NoError(t, fx.svc.Delete(ctx, fx.rid, cancelled.ID))

	_, err = fx.svc.Get(ctx, "other-restaurant", completed.ID)
	assert.True(t, apperr.IsNotFound(err))

	types := map[events.Type]int{}
	for _, e := range fx.feed.RecentByRestaurant(fx.rid, 100) {
		types[e.Type]++
	}
	assert.Equal(t, 2, types[events.PaymentRecorded])
	assert.Equal(t, 1, types[events.PaymentCompleted])
	assert.Equal(t, 1, types[events.PaymentCancelled])
	assert.Equal(t, 1, types[events.PaymentDeleted])
}

func TestService_RecordValidation(t *testing.T) {
	fx := newFixture(t, time.Now())
	cases := []Input{
		{Direction: "sideways", AmountCents: 1},
		{Direction: payment.DirectionIncome, AmountCents: 0},
		{Direction: payment.DirectionIncome, AmountCents: 1, Category: "gambling"},
		{Direction: payment.DirectionIncome, AmountCents: 1, Method: "crypto"},
		{Direction: payment.DirectionIncome, AmountCents: 1, Status: payment.StatusCancelled},
		{Direction: payment.DirectionExpense, AmountCents: 1, EmployeeID: "ghost"},
	}
	for i, in := range cases {
		_, err := fx.svc.Record(context.Background(), fx.rid, in)
		assert.True(t, apperr.IsCode(err, apperr.CodeValidation), "case %d: %v", i, err)
	}
}

func TestService_PaySalary(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	e, err := fx.store.CreateEmployee(ctx, employee.Employee{RestaurantID: fx.rid, FirstName: "Ana", LastName: "Ruiz", SalaryCents: 210000, Status: employee.StatusActive})
	require.NoError(t, err)

	p, err := fx.svc.PaySalary(ctx, fx.rid, e.ID, "2024-06", payment.MethodTransfer)
	require.NoError(t, err)
	assert.Equal(t, payment.CategorySalaries, p.Category)
	assert.Equal(t, payment.DirectionExpense, p.Direction)
	assert.Equal(t, int64(210000), p.AmountCents)
	assert.Equal(t, SalaryReference(e.ID, "2024-06"), p.Reference)
	assert.Equal(t, time.June, p.OccurredAt.Month(), "salary for a past month is dated inside that month")

	_, err = fx.svc.PaySalary(ctx, fx.rid, e.ID, "2024-06", payment.MethodCash)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "duplicate salary: %v", err)

	_, err = fx.svc.PaySalary(ctx, fx.rid, e.ID, "June", payment.MethodCash)
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))

	e.Status = employee.StatusTerminated
	_, err = fx.store.UpdateEmployee(ctx, e)
	require.NoError(t, err)
	_, err = fx.svc.PaySalary(ctx, fx.rid, e.ID, "2024-07", payment.MethodCash)
	assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "terminated employee: %v", err)
}

func TestService_PaySalaryDatesInsideThePeriod(t *testing.T) {
	now := time.Date(2026, 10, 17, 12, 0, 0, 0, time.UTC)
	fx := newFixture(t, now)
	ctx := context.Background()
	madrid, _ := time.LoadLocation("Europe/Madrid")

	e, err := fx.store.CreateEmployee(ctx, employee.Employee{RestaurantID: fx.rid, FirstName: "Luis", LastName: "Gil", SalaryCents: 180000, Status: employee.StatusActive})
	require.NoError(t, err)

	cases := []struct {
		period string
		want   time.Time
	}{
		{"2027-03", time.Date(2027, 3, 1, 0, 0, 0, 0, madrid)},
		{"2026-10", now},
		{"2026-09", time.Date(2026, 10, 1, 0, 0, 0, 0, madrid).Add(-time.Second)},
	}
	for _, tc := range cases {
		p, err := fx.svc.PaySalary(ctx, fx.rid, e.ID, tc.period, payment.MethodTransfer)
		require.NoError(t, err, tc.period)
		assert.True(t, tc.want.Equal(p.OccurredAt), "%s dated %s, want %s", tc.period, p.OccurredAt, tc.want)
		assert.Equal(t, tc.period, p.OccurredAt.In(madrid).Format("2006-01"))
	}

	flow, err := fx.svc.CashFlow(ctx, fx.rid, time.Date(2027, 3, 1, 0, 0, 0, 0, madrid), time.Date(2027, 4, 1, 0, 0, 0, 0, madrid))
	require.NoError(t, err)
	assert.Equal(t, int64(180000), flow.Expenses[payment.CategorySalaries])
}

func TestService_PaySalaryConcurrentRequestsPayOnce(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 7, 3, 9, 0, 0, 0, time.UTC))
	ctx := context.Background()

	e, err := fx.store.CreateEmployee(ctx, employee.Employee{RestaurantID: fx.rid, FirstName: "Eva", LastName: "Sanz", SalaryCents: 195000, Status: employee.StatusActive})
	require.NoError(t, err)

	const workers = 8
	errs := make([]error, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = fx.svc.PaySalary(ctx, fx.rid, e.ID, "2024-06", payment.MethodTransfer)
		}()
	}
	wg.Wait()

	paid := 0
	for _, err := range errs {
		if err == nil {
			paid++
			continue
		}
		assert.True(t, apperr.IsCode(err, apperr.CodeConflict), "loser: %v", err)
	}
	assert.Equal(t, 1, paid)

	list, err := fx.store.ListPayments(ctx, fx.rid, payment.Filter{Reference: SalaryReference(e.ID, "2024-06")})
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

func TestService_CashFlow(t *testing.T) {
	fx := newFixture(t, time.Date(2024, 6, 20, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	madrid, _ := time.LoadLocation("Europe/Madrid")

	record := func(dir payment.Direction, cat payment.Category, amount int64, status payment.Status, at time.Time) {
		_, err := fx.svc.Record(ctx, fx.rid, Input{Direction: dir, Category: cat, AmountCents: amount, Status: status, OccurredAt: at})
		require.NoError(t, err)
	}
	record(payment.DirectionIncome, payment.CategorySales, 10000, payment.StatusCompleted, time.Date(2024, 6, 1, 12, 0, 0, 0, madrid))
	record(payment.DirectionIncome, payment.CategoryCatering, 5000, payment.StatusCompleted, time.Date(2024, 6, 2, 12, 0, 0, 0, madrid))
	record(payment.DirectionExpense, payment.CategorySuppliers, 3000, payment.StatusCompleted, time.Date(2024, 6, 2, 18, 0, 0, 0, madrid))
	record(payment.DirectionExpense, payment.CategoryRent, 7000, payment.StatusPending, time.Date(2024, 6, 3, 9, 0, 0, 0, madrid))
	// 23:30 UTC on May 31 is already June 1 in Madrid.
	record(payment.DirectionIncome, payment.CategorySales, 100, payment.StatusCompleted, time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC))
	record(payment.DirectionIncome, payment.CategorySales, 999, payment.StatusCompleted, time.Date(2024, 7, 1, 0, 30, 0, 0, madrid))

	flow, err := fx.svc.CashFlow(ctx, fx.rid, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, int64(15100), flow.IncomeCents)
	assert.Equal(t, int64(3000), flow.ExpenseCents)
	assert.Equal(t, int64(12100), flow.NetCents)
	assert.Equal(t, int64(10100), flow.Income[payment.CategorySales])
	assert.Equal(t, int64(3000), flow.Expenses[payment.CategorySuppliers])
	assert.Zero(t, flow.Expenses[payment.CategoryRent], "pending payments do not count")
	require.Len(t, flow.Daily, 30)
	assert.Equal(t, "2024-06-01", flow.Daily[0].Date)
	assert.Equal(t, int64(10100), flow.Daily[0].IncomeCents)
	assert.Equal(t, int64(2000), flow.Daily[1].NetCents)

	_, err = fx.svc.CashFlow(ctx, fx.rid, time.Date(2024, 6, 2, 0, 0, 0, 0, time.UTC), time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
	_, err = fx.svc.CashFlow(ctx, fx.rid, time.Date(2022, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	assert.True(t, apperr.IsCode(err, apperr.CodeValidation))
}
