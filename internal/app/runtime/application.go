// Package runtime assembles the Estrateo server process: configuration,
// logging, storage, services and the HTTP listener.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	app "github.com/estrateo/estrateo/internal/app"
	"github.com/estrateo/estrateo/internal/app/httpapi"
	"github.com/estrateo/estrateo/internal/app/storage"
	"github.com/estrateo/estrateo/internal/app/storage/memory"
	"github.com/estrateo/estrateo/internal/app/storage/sqlstore"
	"github.com/estrateo/estrateo/internal/config"
	"github.com/estrateo/estrateo/internal/platform/migrations"
	"github.com/estrateo/estrateo/pkg/logger"
)

// Application wires core dependencies and manages the HTTP server lifecycle.
type Application struct {
	cfg     *config.Config
	log     *logger.Logger
	app     *app.Application
	handler *httpapi.Handler
	server  *http.Server
	db      *sqlx.DB
}

// NewApplication loads configuration from path (or the environment) and
// builds the application.
func NewApplication(path string) (*Application, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return Build(cfg, logger.New(cfg.Logging))
}

// Build assembles the application from an already loaded configuration.
func Build(cfg *config.Config, log *logger.Logger) (*Application, error) {
	if log == nil {
		log = logger.New(cfg.Logging)
	}

	stores, db, err := OpenStores(context.Background(), cfg.Database, log)
	if err != nil {
		return nil, fmt.Errorf("configure stores: %w", err)
	}

	application, err := app.New(app.StoresFrom(stores), cfg, log)
	if err != nil {
		closeDB(db, log)
		return nil, err
	}

	handler, err := httpapi.NewHandler(application, httpapi.Options{
		CORSOrigins: cfg.Server.AllowedOrigins(),
		RateLimit:   cfg.RateLimit,
		AuditSize:   cfg.Audit.MaxEntries,
		AuditFile:   cfg.Audit.FilePath,
		Logger:      log.Named("http"),
	})
	if err != nil {
		closeDB(db, log)
		return nil, fmt.Errorf("build http handler: %w", err)
	}

	return &Application{
		cfg:     cfg,
		log:     log,
		app:     application,
		handler: handler,
		db:      db,
		server: &http.Server{
			Addr:              cfg.Server.Addr(),
			Handler:           handler,
			ReadTimeout:       cfg.Server.ReadTimeout,
			ReadHeaderTimeout: 10 * time.Second,
			WriteTimeout:      cfg.Server.WriteTimeout,
		},
	}, nil
}

// App exposes the service container, used by the seed command and tests.
func (a *Application) App() *app.Application { return a.app }

// Handler exposes the HTTP handler.
func (a *Application) Handler() http.Handler { return a.handler }

// Run starts background services and the HTTP server and blocks until ctx is
// cancelled or the listener fails. It always shuts down before returning.
func (a *Application) Run(ctx context.Context) error {
	listener, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, listener)
}

// Serve is Run on an existing listener.
func (a *Application) Serve(ctx context.Context, listener net.Listener) error {
	if err := a.app.Start(ctx); err != nil {
		listener.Close()
		return fmt.Errorf("start services: %w", err)
	}
	bg, cancel := context.WithCancel(ctx)
	defer cancel()
	a.handler.StartCleanup(bg, 5*time.Minute)

	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("HTTP server listening on %s", listener.Addr())
		if err := a.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errCh:
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer stop()
	if err := a.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = err
	}
	return serveErr
}

// Shutdown drains the HTTP server, stops background services and closes the
// database.
func (a *Application) Shutdown(ctx context.Context) error {
	var errs []error
	if err := a.server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("shutdown http: %w", err))
	}
	if err := a.app.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("stop services: %w", err))
	}
	if err := a.handler.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close audit log: %w", err))
	}
	closeDB(a.db, a.log)
	a.db = nil
	return errors.Join(errs...)
}

// OpenStores returns the store backing cfg. The memory driver needs no
// database and returns a nil *sqlx.DB.
func OpenStores(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) (storage.Stores, *sqlx.DB, error) {
	if cfg.Driver == "" || cfg.Driver == "memory" {
		log.Warn("using in-memory storage; data is lost on restart")
		return memory.New(), nil, nil
	}
	db, err := OpenDatabase(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	if cfg.AutoMigrate {
		if err := migrations.Apply(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
		log.Info("database schema is up to date")
	}
	return sqlstore.New(db), db, nil
}

// OpenDatabase connects to postgres (lib/pq) or sqlite (modernc.org/sqlite).
func OpenDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	var driver string
	switch cfg.Driver {
	case "postgres":
		driver = "postgres"
	case "sqlite":
		driver = "sqlite"
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
	if cfg.DSN == "" {
		return nil, fmt.Errorf("database dsn not configured")
	}

	db, err := sqlx.Open(driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if driver == "sqlite" {
		// sqlite allows a single writer
		db.SetMaxOpenConns(1)
	} else {
		if cfg.MaxOpenConns > 0 {
			db.SetMaxOpenConns(cfg.MaxOpenConns)
		}
		if cfg.MaxIdleConns > 0 {
			db.SetMaxIdleConns(cfg.MaxIdleConns)
		}
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func closeDB(db *sqlx.DB, log *logger.Logger) {
	if db == nil {
		return
	}
	if err := db.Close(); err != nil {
		log.WithError(err).Warn("error closing database connection")
	}
}
