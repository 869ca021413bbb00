package httpapi

import (
	"net/http"

	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/services/employees"
	"github.com/estrateo/estrateo/internal/httputil"
)

type employeeRequest struct {
	FirstName   string            `json:"first_name"`
	LastName    string            `json:"last_name"`
	Email       string            `json:"email"`
	Phone       string            `json:"phone"`
	Position    employee.Position `json:"position"`
	SalaryCents int64             `json:"salary_cents"`
	HireDate    string            `json:"hire_date"`
	Notes       string            `json:"notes"`
}

func (h *Handler) decodeEmployee(r *http.Request) (employees.Input, error) {
	var payload employeeRequest
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		return employees.Input{}, err
	}
	hired, err := parseTime(payload.HireDate, h.location(r))
	if err != nil {
		return employees.Input{}, err
	}
	return employees.Input{
		FirstName:   payload.FirstName,
		LastName:    payload.LastName,
		Email:       payload.Email,
		Phone:       payload.Phone,
		Position:    payload.Position,
		SalaryCents: payload.SalaryCents,
		HireDate:    hired,
		Notes:       payload.Notes,
	}, nil
}

func (h *Handler) listEmployees(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := employee.Filter{
		Status:   employee.Status(q.Get("status")),
		Position: employee.Position(q.Get("position")),
		Search:   q.Get("q"),
	}
	list, err := h.app.Employees.List(r.Context(), restaurantID(r), filter)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	payroll, err := h.app.Employees.MonthlyPayroll(r.Context(), restaurantID(r))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{
		"employees":             list,
		"monthly_payroll_cents": payroll,
	})
}

func (h *Handler) createEmployee(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeEmployee(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.app.Employees.Create(r.Context(), restaurantID(r), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, e)
}

func (h *Handler) getEmployee(w http.ResponseWriter, r *http.Request) {
	e, err := h.app.Employees.Get(r.Context(), restaurantID(r), pathVar(r, "eid"))
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) updateEmployee(w http.ResponseWriter, r *http.Request) {
	in, err := h.decodeEmployee(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.app.Employees.Update(r.Context(), restaurantID(r), pathVar(r, "eid"), in)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) deleteEmployee(w http.ResponseWriter, r *http.Request) {
	if err := h.app.Employees.Delete(r.Context(), restaurantID(r), pathVar(r, "eid")); err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setEmployeeStatus(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Status employee.Status `json:"status"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	e, err := h.app.Employees.SetStatus(r.Context(), restaurantID(r), pathVar(r, "eid"), payload.Status)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

func (h *Handler) paySalary(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Period string         `json:"period"`
		Method payment.Method `json:"method"`
	}
	if err := httputil.DecodeJSON(r.Body, &payload); err != nil {
		httputil.WriteError(w, err)
		return
	}
	p, err := h.app.Payments.PaySalary(r.Context(), restaurantID(r), pathVar(r, "eid"), payload.Period, payload.Method)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}
