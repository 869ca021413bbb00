package employees

import (
	"context"
	"net/mail"
	"strings"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

// Input holds the editable employee fields.
type Input struct {
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	Email       string            `json:"email,omitempty"`
	Phone       string            `json:"phone,omitempty"`
	Position    employee.Position `json:"position"`
	SalaryCents int64             `json:"salary_cents"`
	HireDate    time.Time         `json:"hire_date"`
	Notes       string            `json:"notes,omitempty"`
}

// Service manages the employee registry.
type Service struct {
	store    storage.EmployeeStore
	payments storage.PaymentStore
	events   events.Publisher
	log      *logger.Logger
	now      func() time.Time
}

// New constructs an employee service. payments is consulted before deletes.
func New(store storage.EmployeeStore, payments storage.PaymentStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("employees")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, payments: payments, events: publisher, log: log, now: time.Now}
}

// Create registers an active employee.
func (s *Service) Create(ctx context.Context, restaurantID string, in Input) (employee.Employee, error) {
	restaurantID = strings.TrimSpace(restaurantID)
	if restaurantID == "" {
		return employee.Employee{}, apperr.Validation("restaurant_id is required")
	}
	e := employee.Employee{RestaurantID: restaurantID, Status: employee.StatusActive}
	if err := apply(&e, in); err != nil {
		return employee.Employee{}, err
	}
	if e.HireDate.IsZero() {
		e.HireDate = truncateDay(s.now())
	}

	e, err := s.store.CreateEmployee(ctx, e)
	if err != nil {
		return employee.Employee{}, err
	}
	s.publish(ctx, events.EmployeeCreated, e)
	s.log.WithField("employee_id", e.ID).
		WithField("restaurant_id", restaurantID).
		Info("employee created")
	return e, nil
}

// Get returns an employee of the restaurant.
func (s *Service) Get(ctx context.Context, restaurantID, id string) (employee.Employee, error) {
	e, err := s.store.GetEmployee(ctx, id)
	if err != nil {
		return employee.Employee{}, err
	}
	if e.RestaurantID != restaurantID {
		return employee.Employee{}, apperr.NotFound("employee", id)
	}
	return e, nil
}

// List returns employees matching filter, sorted by name.
func (s *Service) List(ctx context.Context, restaurantID string, filter employee.Filter) ([]employee.Employee, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", filter.Status)
	}
	if filter.Position != "" && !filter.Position.Valid() {
		return nil, apperr.Validation("unknown position %q", filter.Position)
	}
	return s.store.ListEmployees(ctx, restaurantID, filter)
}

// Update replaces the editable fields.
func (s *Service) Update(ctx context.Context, restaurantID, id string, in Input) (employee.Employee, error) {
	e, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return employee.Employee{}, err
	}
	hireDate := e.HireDate
	if err := apply(&e, in); err != nil {
		return employee.Employee{}, err
	}
	if e.HireDate.IsZero() {
		e.HireDate = hireDate
	}

	e, err = s.store.UpdateEmployee(ctx, e)
	if err != nil {
		return employee.Employee{}, err
	}
	s.publish(ctx, events.EmployeeUpdated, e)
	s.log.WithField("employee_id", e.ID).Info("employee updated")
	return e, nil
}

// SetStatus changes the employment status. Terminating stamps TerminatedAt;
// any other status clears it.
func (s *Service) SetStatus(ctx context.Context, restaurantID, id string, status employee.Status) (employee.Employee, error) {
	if !status.Valid() {
		return employee.Employee{}, apperr.Validation("unknown status %q", status)
	}
	e, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return employee.Employee{}, err
	}
	if e.Status == status {
		return e, nil
	}

	previous := e.Status
	e.Status = status
	if status == employee.StatusTerminated {
		at := s.now().UTC()
		e.TerminatedAt = &at
	} else {
		e.TerminatedAt = nil
	}

	e, err = s.store.UpdateEmployee(ctx, e)
	if err != nil {
		return employee.Employee{}, err
	}
	s.events.Publish(ctx, events.Event{
		Type:         events.EmployeeStatusChanged,
		RestaurantID: e.RestaurantID,
		Subject:      e.ID,
		Message:      e.FullName(),
		Metadata:     map[string]string{"from": string(previous), "to": string(status)},
	})
	s.log.WithField("employee_id", e.ID).
		WithField("status", status).
		Info("employee status changed")
	return e, nil
}

// Delete removes an employee that no payment references. Employees with
// payment history must be terminated instead.
func (s *Service) Delete(ctx context.Context, restaurantID, id string) error {
	e, err := s.Get(ctx, restaurantID, id)
	if err != nil {
		return err
	}
	if s.payments != nil {
		refs, err := s.payments.ListPayments(ctx, restaurantID, payment.Filter{EmployeeID: id, Limit: 1})
		if err != nil {
			return err
		}
		if len(refs) > 0 {
			return apperr.Conflict("employee %s has payment history; terminate instead", id)
		}
	}
	if err := s.store.DeleteEmployee(ctx, id); err != nil {
		return err
	}
	s.publish(ctx, events.EmployeeDeleted, e)
	s.log.WithField("employee_id", id).Info("employee deleted")
	return nil
}

// MonthlyPayroll sums the monthly salaries of active and on-leave employees.
func (s *Service) MonthlyPayroll(ctx context.Context, restaurantID string) (int64, error) {
	list, err := s.store.ListEmployees(ctx, restaurantID, employee.Filter{})
	if err != nil {
		return 0, err
	}
	var total int64
	for _, e := range list {
		if e.OnPayroll() {
			total += e.SalaryCents
		}
	}
	return total, nil
}

func (s *Service) publish(ctx context.Context, typ events.Type, e employee.Employee) {
	s.events.Publish(ctx, events.Event{
		Type:         typ,
		RestaurantID: e.RestaurantID,
		Subject:      e.ID,
		Message:      e.FullName(),
	})
}

func apply(e *employee.Employee, in Input) error {
	in.FirstName = strings.TrimSpace(in.FirstName)
	in.LastName = strings.TrimSpace(in.LastName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))

	if in.FirstName == "" || in.LastName == "" {
		return apperr.Validation("first_name and last_name are required")
	}
	if in.SalaryCents < 0 {
		return apperr.Validation("salary_cents cannot be negative")
	}
	if in.Position == "" {
		in.Position = employee.PositionOther
	}
	if !in.Position.Valid() {
		return apperr.Validation("unknown position %q", in.Position)
	}
	if in.Email != "" {
		if _, err := mail.ParseAddress(in.Email); err != nil {
			return apperr.Validation("email %q is not valid", in.Email)
		}
	}

	e.FirstName = in.FirstName
	e.LastName = in.LastName
	e.Email = in.Email
	e.Phone = strings.TrimSpace(in.Phone)
	e.Position = in.Position
	e.SalaryCents = in.SalaryCents
	e.Notes = strings.TrimSpace(in.Notes)
	if !in.HireDate.IsZero() {
		e.HireDate = truncateDay(in.HireDate)
	}
	return nil
}

func truncateDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
