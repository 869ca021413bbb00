package inventory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/metrics"
	"github.com/estrateo/estrateo/internal/app/storage"
	"github.com/estrateo/estrateo/internal/app/system"
	"github.com/estrateo/estrateo/internal/config"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

var _ system.Service = (*Scanner)(nil)

// Health is the result of scanning one restaurant.
type Health struct {
	RestaurantID string `json:"restaurant_id"`
	LowStock     int    `json:"low_stock"`
	Expiring     int    `json:"expiring"`
}

// Scanner periodically checks every restaurant's stock, updates the
// inventory gauges and raises low_stock events for items that newly crossed
// their threshold.
type Scanner struct {
	service     *Service
	restaurants storage.RestaurantStore
	events      events.Publisher
	log         *logger.Logger
	schedule    string
	window      time.Duration

	mu   sync.Mutex
	cron *cron.Cron
}

// NewScanner validates the cron schedule and builds a scanner.
func NewScanner(service *Service, restaurants storage.RestaurantStore, cfg config.InventoryConfig, publisher events.Publisher, log *logger.Logger) (*Scanner, error) {
	if log == nil {
		log = logger.NewDefault("inventory-scanner")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	schedule := cfg.ScanSchedule
	if schedule == "" {
		schedule = "@every 15m"
	}
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, apperr.Validation("invalid inventory scan schedule %q: %v", schedule, err)
	}
	window := cfg.ExpiryWindow
	if window <= 0 {
		window = 72 * time.Hour
	}
	return &Scanner{
		service:     service,
		restaurants: restaurants,
		events:      publisher,
		log:         log,
		schedule:    schedule,
		window:      window,
	}, nil
}

func (s *Scanner) Name() string { return "inventory-scanner" }

func (s *Scanner) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return nil
	}

	c := cron.New()
	if _, err := c.AddFunc(s.schedule, func() {
		scanCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		if _, err := s.Scan(scanCtx); err != nil {
			s.log.WithError(err).Warn("inventory scan failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule inventory scan: %w", err)
	}
	c.Start()
	s.cron = c

	s.log.WithField("schedule", s.schedule).Info("inventory scanner started")
	return nil
}

func (s *Scanner) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.cron
	s.cron = nil
	s.mu.Unlock()
	if c == nil {
		return nil
	}

	done := c.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("inventory scanner stopped")
	return nil
}

// Scan checks every restaurant once. Low-stock announcements are shared with
// the service, so an item already reported by a stock movement is not
// reported again.
func (s *Scanner) Scan(ctx context.Context) ([]Health, error) {
	list, err := s.restaurants.ListRestaurants(ctx)
	if err != nil {
		return nil, err
	}
	now := s.service.now()

	report := make([]Health, 0, len(list))
	seen := make(map[string]struct{})
	complete := true
	for _, r := range list {
		items, err := s.service.store.ListItems(ctx, r.ID)
		if err != nil {
			s.log.WithError(err).WithField("restaurant_id", r.ID).Warn("list items for scan failed")
			complete = false
			continue
		}
		h := Health{RestaurantID: r.ID}
		for _, item := range items {
			seen[item.ID] = struct{}{}
			if item.ExpiresWithin(now, s.window) {
				h.Expiring++
			}
			if item.LowStock() {
				h.LowStock++
			}
			s.service.checkLow(ctx, item, s.events)
		}
		metrics.SetInventoryHealth(r.ID, h.LowStock, h.Expiring)
		report = append(report, h)
	}
	if complete {
		s.service.retainLow(seen)
	}
	return report, nil
}
