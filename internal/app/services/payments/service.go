package payments

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

// maxCashFlowRange bounds the daily series length.
const maxCashFlowRange = 366 * 24 * time.Hour

// Input holds the fields of a new or edited payment.
type Input struct {
	Direction   payment.Direction `json:"direction"`
	Category    payment.Category  `json:"category"`
	Method      payment.Method    `json:"method"`
	AmountCents int64             `json:"amount_cents"`
	Description string            `json:"description,omitempty"`
	Reference   string            `json:"reference,omitempty"`
	EmployeeID  string            `json:"employee_id,omitempty"`
	Status      payment.Status    `json:"status,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Service records cash movements and aggregates cash flow.
type Service struct {
	store       storage.PaymentStore
	employees   storage.EmployeeStore
	restaurants storage.RestaurantStore
	events      events.Publisher
	log         *logger.Logger
	now         func() time.Time

	// salaryMu serializes the duplicate check and insert of PaySalary.
	salaryMu sync.Mutex
}

// New constructs a payments service.
func New(store storage.PaymentStore, employees storage.EmployeeStore, restaurants storage.RestaurantStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("payments")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{
		store:       store,
		employees:   employees,
		restaurants: restaurants,
		events:      publisher,
		log:         log,
		now:         time.Now,
	}
}

// Record stores a payment. Status defaults to completed and OccurredAt to now.
func (s *Service) Record(ctx context.Context, restaurantID string, in Input) (payment.Payment, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return payment.Payment{}, apperr.Validation("restaurant_id is required")
	}
	if in.Status == "" {
		in.Status = payment.StatusCompleted
	}
	if in.Status == payment.StatusCancelled {
		return payment.Payment{}, apperr.Validation("a new payment cannot be cancelled")
	}
	p := payment.Payment{RestaurantID: restaurantID, Status: in.Status}
	if err := s.apply(ctx, &p, in); err != nil {
		return payment.Payment{}, err
	}

	p, err := s.store.CreatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, err
	}
	metrics.RecordPayment(string(p.Direction), string(p.Category))
	s.publish(ctx, events.PaymentRecorded, p)
	s.log.WithField("payment_id", p.ID).
		WithField("restaurant_id", restaurantID).
		WithField("direction", p.Direction).
		WithField("amount_cents", p.AmountCents).
		Info("payment recorded")
	return p, nil
}

// Get returns a payment of the restaurant.
func (s *Service) Get(ctx context.Context, restaurantID, id string) (payment.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.RestaurantID != restaurantID {
		return payment.Payment{}, apperr.NotFound("payment", id)
	}
	return p, nil
}

// List returns payments matching filter, newest first.
func (s *Service) List(ctx context.Context, restaurantID string, filter payment.Filter) ([]payment.Payment, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	return s.store.ListPayments(ctx, restaurantID, filter)
}

// Update edits a pending payment.
func (s *Service) Update(ctx context.Context, restaurantID, id string, in Input) (payment.Payment, error) {
	p, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, apperr.Conflict("only pending payments can be edited")
	}
	occurred := p.OccurredAt
	in.Status = ""
	if err := s.apply(ctx, &p, in); err != nil {
		return payment.Payment{}, err
	}
	if in.OccurredAt.IsZero() {
		p.OccurredAt = occurred
	}

	p, err = s.store.UpdatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, err
	}
	s.publish(ctx, events.PaymentUpdated, p)
	s.log.WithField("payment_id", p.ID).Info("payment updated")
	return p, nil
}

// Complete settles a pending payment.
func (s *Service) Complete(ctx context.Context, restaurantID, id string) (payment.Payment, error) {
	return s.transition(ctx, restaurantID, id, payment.StatusCompleted, events.PaymentCompleted)
}

// Cancel voids a pending payment. Completed payments cannot be cancelled.
func (s *Service) Cancel(ctx context.Context, restaurantID, id string) (payment.Payment, error) {
	return s.transition(ctx, restaurantID, id, payment.StatusCancelled, events.PaymentCancelled)
}

// Delete removes a pending or cancelled payment.
func (s *Service) Delete(ctx context.Context, restaurantID, id string) error {
	p, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return err
	}
	if p.Status == payment.StatusCompleted {
		return apperr.Conflict("completed payments cannot be deleted")
	}
	if err := s.store.DeletePayment(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.PaymentDeleted, p)
	s.log.WithField("payment_id", id).Info("payment deleted")
	return nil
}

// SalaryReference is the reference stamped on salary payments.
func SalaryReference(employeeID, period string) string {
	return fmt.Sprintf("salary:%s:%s", employeeID, period)
}

// PaySalary records a completed salaries expense for one employee and month
// (period formatted YYYY-MM, in the restaurant's timezone). Each employee is
// paid at most once per period. The payment is dated now, clamped into the
// period.
func (s *Service) PaySalary(ctx context.Context, restaurantID, employeeID, period string, method payment.Method) (payment.Payment, error) {
	period = strings.TrimSpace(period)
	loc := time.UTC
	if s.restaurants != nil {
		r, err := s.restaurants.GetRestaurant(ctx, restaurantID)
		if err != nil {
			return payment.Payment{}, err
		}
		loc = r.Location()
	}
	month, err := time.ParseInLocation("2006-01", period, loc)
	if err != nil {
		return payment.Payment{}, apperr.Validation("period must be formatted YYYY-MM")
	}
	if method == "" {
		method = payment.MethodTransfer
	}
	if s.employees == nil {
		return payment.Payment{}, apperr.Unavailable("employee registry unavailable", nil)
	}
	e, err := s.employees.GetEmployee(ctx, employeeID)
	if err != nil {
		return payment.Payment{}, err
	}
	if e.RestaurantID != restaurantID {
		return payment.Payment{}, apperr.NotFound("employee", employeeID)
	}
	if e.Status == employee.StatusTerminated {
		return payment.Payment{}, apperr.Conflict("employee %s is terminated", employeeID)
	}
	if e.SalaryCents <= 0 {
		return payment.Payment{}, apperr.Validation("employee %s has no salary configured", employeeID)
	}

	s.salaryMu.Lock()
	defer s.salaryMu.Unlock()

	reference := SalaryReference(e.ID, period)
	existing, err := s.store.ListPayments(ctx, restaurantID, payment.Filter{Reference: reference})
	if err != nil {
		return payment.Payment{}, err
	}
	for _, p := range existing {
		if p.Status != payment.StatusCancelled {
			return payment.Payment{}, apperr.Conflict("salary for %s already paid for %s", e.FullName(), period)
		}
	}

	occurred := s.now().In(loc)
	if monthEnd := month.AddDate(0, 1, 0); !occurred.Before(monthEnd) {
		occurred = monthEnd.Add(-time.Second)
	} else if occurred.Before(month) {
		occurred = month
	}
	return s.Record(ctx, restaurantID, Input{
		Direction:   payment.DirectionExpense,
		Category:    payment.CategorySalaries,
		Method:      method,
		AmountCents: e.SalaryCents,
		Description: fmt.Sprintf("Salary %s %s", period, e.FullName()),
		Reference:   reference,
		EmployeeID:  e.ID,
		Status:      payment.StatusCompleted,
		OccurredAt:  occurred.UTC(),
	})
}

// CashFlow aggregates completed payments in [from, to). Zero bounds default to
// the current month in the restaurant's timezone. Days are bucketed in that
// timezone too.
func (s *Service) CashFlow(ctx context.Context, restaurantID string, from, to time.Time) (payment.CashFlow, error) {
	loc := time.UTC
	if s.restaurants != nil {
		r, err := s.restaurants.GetRestaurant(ctx, restaurantID)
		if err != nil {
			return payment.CashFlow{}, err
		}
		loc = r.Location()
	}
	now := s.now().In(loc)
	if from.IsZero() {
		from = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc)
	}
	if to.IsZero() {
		to = from.AddDate(0, 1, 0)
	}
	if !from.Before(to) {
		return payment.CashFlow{}, apperr.Validation("from must be before to")
	}
	if to.Sub(from) > maxCashFlowRange {
		return payment.CashFlow{}, apperr.Validation("range cannot exceed 366 days")
	}

	list, err := s.store.ListPayments(ctx, restaurantID, payment.Filter{Status: payment.StatusCompleted, From: from, To: to})
	if err != nil {
		return payment.CashFlow{}, err
	}
	return Aggregate(restaurantID, from, to, loc, list), nil
}

// Aggregate builds a cash-flow report from payments. Only completed payments
// inside [from, to) count.
func Aggregate(restaurantID string, from, to time.Time, loc *time.Location, list []payment.Payment) payment.CashFlow {
	if loc == nil {
		loc = time.UTC
	}
	flow := payment.CashFlow{
		RestaurantID: restaurantID,
		From:         from,
		To:           to,
		Income:       make(map[payment.Category]int64),
		Expenses:     make(map[payment.Category]int64),
	}

	index := make(map[string]int)
	start := from.In(loc)
	for day := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, loc); day.Before(to); day = day.AddDate(0, 0, 1) {
		key := day.Format("2006-01-02")
		index[key] = len(flow.Daily)
		flow.Daily = append(flow.Daily, payment.DailyPoint{Date: key})
	}

	for _, p := range list {
		if p.Status != payment.StatusCompleted || p.OccurredAt.Before(from) || !p.OccurredAt.Before(to) {
			continue
		}
		var point *payment.DailyPoint
		if i, ok := index[p.OccurredAt.In(loc).Format("2006-01-02")]; ok {
			point = &flow.Daily[i]
		} else {
			point = &payment.DailyPoint{}
		}
		switch p.Direction {
		case payment.DirectionIncome:
			flow.IncomeCents += p.AmountCents
			flow.Income[p.Category] += p.AmountCents
			point.IncomeCents += p.AmountCents
		case payment.DirectionExpense:
			flow.ExpenseCents += p.AmountCents
			flow.Expenses[p.Category] += p.AmountCents
			point.ExpenseCents += p.AmountCents
		}
		point.NetCents = point.IncomeCents - point.ExpenseCents
	}
	flow.NetCents = flow.IncomeCents - flow.ExpenseCents
	return flow
}

func (s *Service) transition(ctx context.Context, restaurantID, id string, to payment.Status, typ events.Type) (payment.Payment, error) {
	p, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return payment.Payment{}, err
	}
	if p.Status == to {
		return p, nil
	}
	if p.Status != payment.StatusPending {
		return payment.Payment{}, apperr.Conflict("payment is %s and cannot become %s", p.Status, to)
	}
	p.Status = to
	p, err = s.store.UpdatePayment(ctx, p)
	if err != nil {
		return payment.Payment{}, err
	}
	s.publish(ctx, typ, p)
	s.log.WithField("payment_id", p.ID).
		WithField("status", to).
		Info("payment status changed")
	return p, nil
}

func (s *Service) apply(ctx context.Context, p *payment.Payment, in Input) error {
	if !in.Direction.Valid() {
		return apperr.Validation("direction must be income or expense")
	}
	if in.Category == "" {
		in.Category = payment.CategoryOther
	}
	if !in.Category.Valid() {
		return apperr.Validation("unknown category %q", in.Category)
	}
	if in.Method == "" {
		in.Method = payment.MethodCash
	}
	if !in.Method.Valid() {
		return apperr.Validation("unknown method %q", in.Method)
	}
	if in.AmountCents <= 0 {
		return apperr.Validation("amount_cents must be positive")
	}
	if in.Status != "" && !in.Status.Valid() {
		return apperr.Validation("unknown status %q", in.Status)
	}
	in.EmployeeID = strings.TrimSpace(in.EmployeeID)
	if in.EmployeeID != "" && s.employees != nil {
		e, err := s.employees.GetEmployee(ctx, in.EmployeeID)
		if err != nil || e.RestaurantID != p.RestaurantID {
			return apperr.Validation("employee %s does not exist", in.EmployeeID)
		}
	}

	p.Direction = in.Direction
	p.Category = in.Category
	p.Method = in.Method
	p.AmountCents = in.AmountCents
	p.Description = strings.TrimSpace(in.Description)
	p.Reference = strings.TrimSpace(in.Reference)
	p.EmployeeID = in.EmployeeID
	if in.OccurredAt.IsZero() {
		p.OccurredAt = s.now().UTC()
	} else {
		p.OccurredAt = in.OccurredAt.UTC()
	}
	return nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, p payment.Payment) {
	s.events.Publish(ctx, events.Event{
		Type:         typ,
		RestaurantID: p.RestaurantID,
		Subject:      p.ID,
		Message:      p.Description,
		Metadata: map[string]string{
			"direction":    string(p.Direction),
			"category":     string(p.Category),
			"status":       string(p.Status),
			"amount_cents": fmt.Sprintf("%d", p.AmountCents),
		},
	})
}

func validateFilter(f payment.Filter) error {
	switch {
	case f.Direction != "" && !f.Direction.Valid():
		return apperr.Validation("unknown direction %q", f.Direction)
	case f.Category != "" && !f.Category.Valid():
		return apperr.Validation("unknown category %q", f.Category)
	case f.Status != "" && !f.Status.Valid():
		return apperr.Validation("unknown status %q", f.Status)
	case f.Limit < 0:
		return apperr.Validation("limit cannot be negative")
	case !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To):
		return apperr.Validation("from must be before to")
	}
	return nil
}
