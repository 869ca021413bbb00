package app

import (
	"context"
	"fmt"

	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/services/assistant"
	"github.com/estrateo/estrateo/internal/app/services/auth"
	"github.com/estrateo/estrateo/internal/app/services/dashboard"
	"github.com/estrateo/estrateo/internal/app/services/employees"
	"github.com/estrateo/estrateo/internal/app/services/inventory"
	"github.com/estrateo/estrateo/internal/app/services/payments"
	"github.com/estrateo/estrateo/internal/app/services/restaurants"
	"github.com/estrateo/estrateo/internal/app/storage"
	"github.com/estrateo/estrateo/internal/app/storage/memory"
	"github.com/estrateo/estrateo/internal/app/system"
	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/pkg/logger"
)

// eventBufferSize bounds the in-process activity feed.
const eventBufferSize = 1000

// Stores encapsulates persistence dependencies. Nil stores default to the
// in-memory implementation.
type Stores struct {
	Restaurants storage.RestaurantStore
	Users       storage.UserStore
	Employees   storage.EmployeeStore
	Payments    storage.PaymentStore
	Inventory   storage.InventoryStore
}

// StoresFrom uses one backend for every concern.
func StoresFrom(s storage.Stores) Stores {
	return Stores{Restaurants: s, Users: s, Employees: s, Payments: s, Inventory: s}
}

// Application ties domain services together and manages their lifecycle.
type Application struct {
	manager *system.Manager
	log     *logger.Logger

	Events      *events.Log
	Auth        *auth.Service
	Restaurants *restaurants.Service
	Employees   *employees.Service
	Payments    *payments.Service
	Inventory   *inventory.Service
	Scanner     *inventory.Scanner
	Dashboard   *dashboard.Service
	Assistant   *assistant.Service
}

// New builds a fully initialised application with the provided stores.
func New(stores Stores, cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.NewDefault("app")
	}
	if cfg == nil {
		cfg = config.Default()
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}

	mem := memory.New()
	if stores.Restaurants == nil {
		stores.Restaurants = mem
	}
	if stores.Users == nil {
		stores.Users = mem
	}
	if stores.Employees == nil {
		stores.Employees = mem
	}
	if stores.Payments == nil {
		stores.Payments = mem
	}
	if stores.Inventory == nil {
		stores.Inventory = mem
	}

	tokens, err := auth.NewTokens(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL, cfg.Auth.Issuer)
	if err != nil {
		return nil, fmt.Errorf("configure tokens: %w", err)
	}

	feed := events.New(eventBufferSize)
	authService := auth.New(stores.Restaurants, stores.Users, tokens, log)
	restaurantService := restaurants.New(stores.Restaurants, feed, log)
	employeeService := employees.New(stores.Employees, stores.Payments, feed, log)
	paymentService := payments.New(stores.Payments, stores.Employees, stores.Restaurants, feed, log)
	inventoryService := inventory.New(stores.Inventory, paymentService, feed, log)
	dashboardService := dashboard.New(stores.Restaurants, stores.Payments, stores.Employees, stores.Inventory, cfg.Inventory.ExpiryWindow, log)

	assistantService, err := assistant.New(cfg.Assistant, dashboardService, nil, log)
	if err != nil {
		return nil, fmt.Errorf("configure assistant: %w", err)
	}
	if !assistantService.Enabled() {
		log.Warn("ASSISTANT_PROXY_URL not set; assistant disabled")
	}

	scanner, err := inventory.NewScanner(inventoryService, stores.Restaurants, cfg.Inventory, feed, log)
	if err != nil {
		return nil, err
	}

	manager := system.NewManager()
	for _, svc := range []system.Service{
		system.NoopService{ServiceName: "auth"},
		system.NoopService{ServiceName: "payments"},
		scanner,
	} {
		if err := manager.Register(svc); err != nil {
			return nil, fmt.Errorf("register %s: %w", svc.Name(), err)
		}
	}

	return &Application{
		manager:     manager,
		log:         log,
		Events:      feed,
		Auth:        authService,
		Restaurants: restaurantService,
		Employees:   employeeService,
		Payments:    paymentService,
		Inventory:   inventoryService,
		Scanner:     scanner,
		Dashboard:   dashboardService,
		Assistant:   assistantService,
	}, nil
}

// Attach registers an additional lifecycle-managed service. Call before Start.
func (a *Application) Attach(service system.Service) error {
	return a.manager.Register(service)
}

// Start begins all registered services.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Stop stops all services.
func (a *Application) Stop(ctx context.Context) error {
	return a.manager.Stop(ctx)
}
