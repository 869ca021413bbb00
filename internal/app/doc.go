// Package app provides the application composition layer for Estrateo.
//
// # Architecture Role
//
// The app package sits above the domain services and is responsible for
// composing them into a running application. It is NOT a business logic
// layer; business rules belong in internal/app/services/.
//
// # Package Structure
//
//	internal/app/
//	├── application.go      # Application struct, wiring, and lifecycle
//	├── domain/             # Domain models (pure data structures)
//	│   ├── restaurant/     # Tenants
//	│   ├── user/           # Logins and roles
//	│   ├── employee/       # Staff registry
//	│   ├── payment/        # Cash-flow entries and reports
//	│   ├── inventory/      # Stock items and movements
//	│   └── dashboard/      # Overview read model
//	├── storage/            # Store interfaces and implementations
//	│   ├── interfaces.go   # RestaurantStore, PaymentStore, ...
//	│   ├── memory/         # In-memory implementation for tests and demos
//	│   └── sqlstore/       # sqlx implementation (PostgreSQL, SQLite)
//	├── services/           # Business logic per domain
//	├── events/             # In-process activity feed
//	├── httpapi/            # HTTP API handlers and routing
//	├── runtime/            # Process bootstrap (config, DB, server)
//	├── system/             # Lifecycle manager for background services
//	└── metrics/            # Prometheus collectors
//
// # Dependency Direction
//
//	cmd/estrateo/
//	      │
//	      ▼
//	internal/app/runtime ──► internal/app (composition)
//	                               │
//	                               ├──► internal/app/services/* ──► storage interfaces
//	                               │
//	                               └──► internal/app/httpapi
//
// # Adding a New Domain
//
//  1. Create domain models in internal/app/domain/<name>/
//  2. Add the store interface to internal/app/storage/interfaces.go
//  3. Implement it in storage/memory and storage/sqlstore, with a migration
//  4. Create the service in internal/app/services/<name>/
//  5. Wire the service in internal/app/application.go
//  6. Add HTTP handlers in internal/app/httpapi/
package app
