package runtime

import (
	"context"
	"fmt"
	"time"

	app "github.com/estrateo/estrateo/internal/app"
	"github.com/estrateo/estrateo/internal/app/domain/employee"
	"github.com/estrateo/estrateo/internal/app/domain/inventory"
	"github.com/estrateo/estrateo/internal/app/domain/payment"
	"github.com/estrateo/estrateo/internal/app/services/auth"
	"github.com/estrateo/estrateo/internal/app/services/employees"
	inventorysvc "github.com/estrateo/estrateo/internal/app/services/inventory"
	"github.com/estrateo/estrateo/internal/app/services/payments"
)

// SeedInput names the demo owner account.
type SeedInput struct {
	RestaurantName string
	Email          string
	Password       string
	Timezone       string
}

// SeedReport summarises what Seed created.
type SeedReport struct {
	Session   auth.Session
	Employees int
	Payments  int
	Items     int
}

// Seed creates a demo restaurant with staff, three months of cash flow and a
// stocked pantry. It is not idempotent: the owner email must be unused.
func Seed(ctx context.Context, a *app.Application, in SeedInput, now time.Time) (SeedReport, error) {
	session, err := a.Auth.Register(ctx, auth.RegisterInput{
		RestaurantName: in.RestaurantName,
		Name:           "Demo Owner",
		Email:          in.Email,
		Password:       in.Password,
		Currency:       "EUR",
		Timezone:       in.Timezone,
	})
	if err != nil {
		return SeedReport{}, fmt.Errorf("register owner: %w", err)
	}
	rid := session.Restaurant.ID
	report := SeedReport{Session: session}

	staff := []employees.Input{
		{FirstName: "Lucía", LastName: "Martín", Position: employee.PositionChef, SalaryCents: 240000},
		{FirstName: "Javier", LastName: "Gómez", Position: employee.PositionCook, SalaryCents: 180000},
		{FirstName: "Marta", LastName: "Sanz", Position: employee.PositionWaiter, SalaryCents: 150000},
		{FirstName: "Pablo", LastName: "Ruiz", Position: employee.PositionBartender, SalaryCents: 155000},
	}
	var hired []employee.Employee
	for _, in := range staff {
		in.HireDate = now.AddDate(-1, 0, 0)
		e, err := a.Employees.Create(ctx, rid, in)
		if err != nil {
			return report, fmt.Errorf("create employee %s: %w", in.FirstName, err)
		}
		hired = append(hired, e)
		report.Employees++
	}

	for back := 2; back >= 0; back-- {
		month := time.Date(now.Year(), now.Month(), 1, 12, 0, 0, 0, time.UTC).AddDate(0, -back, 0)
		days := 28
		if back == 0 {
			days = now.Day()
		}
		for day := 0; day < days; day++ {
			sales := int64(90000 + (day%7)*15000)
			if _, err := a.Payments.Record(ctx, rid, payments.Input{
				Direction:   payment.DirectionIncome,
				Category:    payment.CategorySales,
				Method:      payment.MethodCard,
				AmountCents: sales,
				Description: "daily takings",
				OccurredAt:  month.AddDate(0, 0, day),
			}); err != nil {
				return report, fmt.Errorf("record sales: %w", err)
			}
			report.Payments++
		}
		fixed := []payments.Input{
			{Direction: payment.DirectionExpense, Category: payment.CategoryRent, Method: payment.MethodTransfer, AmountCents: 350000, Description: "rent"},
			{Direction: payment.DirectionExpense, Category: payment.CategoryUtilities, Method: payment.MethodTransfer, AmountCents: 62000, Description: "electricity and water"},
		}
		for _, in := range fixed {
			in.OccurredAt = month.AddDate(0, 0, 4)
			if back == 0 && now.Day() < 5 {
				in.Status = payment.StatusPending
			}
			if _, err := a.Payments.Record(ctx, rid, in); err != nil {
				return report, fmt.Errorf("record %s: %w", in.Description, err)
			}
			report.Payments++
		}
		if back > 0 {
			period := month.Format("2006-01")
			for _, e := range hired {
				if _, err := a.Payments.PaySalary(ctx, rid, e.ID, period, payment.MethodTransfer); err != nil {
					return report, fmt.Errorf("pay salary %s: %w", e.FullName(), err)
				}
				report.Payments++
			}
		}
	}

	expiry := now.AddDate(0, 0, 2)
	pantry := []inventorysvc.ItemInput{
		{Name: "Tomatoes", Category: inventory.CategoryProduce, Unit: inventory.UnitKilogram, Quantity: 12, MinQuantity: 5, UnitCostCents: 180, Supplier: "Huerta Sur", ExpiresAt: &expiry},
		{Name: "Olive oil", Category: inventory.CategoryDryGoods, Unit: inventory.UnitLitre, Quantity: 4, MinQuantity: 6, UnitCostCents: 850, Supplier: "Almazara"},
		{Name: "Chicken breast", Category: inventory.CategoryMeat, Unit: inventory.UnitKilogram, Quantity: 8, MinQuantity: 4, UnitCostCents: 720, Supplier: "Avícola Norte", ExpiresAt: &expiry},
		{Name: "Manchego", Category: inventory.CategoryDairy, Unit: inventory.UnitKilogram, Quantity: 3, MinQuantity: 1, UnitCostCents: 1900},
		{Name: "House red", Category: inventory.CategoryBeverages, Unit: inventory.UnitPiece, Quantity: 30, MinQuantity: 12, UnitCostCents: 450},
		{Name: "Dish soap", Category: inventory.CategoryCleaning, Unit: inventory.UnitLitre, Quantity: 1, MinQuantity: 2, UnitCostCents: 300},
	}
	for _, in := range pantry {
		if _, err := a.Inventory.CreateItem(ctx, rid, in); err != nil {
			return report, fmt.Errorf("create item %s: %w", in.Name, err)
		}
		report.Items++
	}
	return report, nil
}
