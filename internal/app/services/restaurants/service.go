package restaurants

import (
	"context"
	"strings"
	"time"

	"github.com/estrateo/estrateo/internal/app/domain/restaurant"
	"github.com/estrateo/estrateo/internal/app/events"
	"github.com/estrateo/estrateo/internal/app/services/auth"
	"github.com/estrateo/estrateo/internal/app/storage"
	apperr "github.com/estrateo/estrateo/internal/errors"
	"github.com/estrateo/estrateo/pkg/logger"
)

// Update carries optional restaurant profile changes.
type Update struct {
	Name     *string `json:"name,omitempty"`
	Currency *string `json:"currency,omitempty"`
	Timezone *string `json:"timezone,omitempty"`
	Address  *string `json:"address,omitempty"`
	Phone    *string `json:"phone,omitempty"`
}

// Service manages the restaurant profile.
type Service struct {
	store  storage.RestaurantStore
	events events.Publisher
	log    *logger.Logger
}

// New constructs a restaurant service.
func New(store storage.RestaurantStore, publisher events.Publisher, log *logger.Logger) *Service {
	if log == nil {
		log = logger.NewDefault("restaurants")
	}
	if publisher == nil {
		publisher = events.Nop{}
	}
	return &Service{store: store, events: publisher, log: log}
}

// Get returns a restaurant by id.
func (s *Service) Get(ctx context.Context, id string) (restaurant.Restaurant, error) {
	return s.store.GetRestaurant(ctx, strings.TrimSpace(id))
}

// List returns every restaurant. Used by background scans.
func (s *Service) List(ctx context.Context) ([]restaurant.Restaurant, error) {
	return s.store.ListRestaurants(ctx)
}

// Update applies profile changes.
func (s *Service) Update(ctx context.Context, id string, upd Update) (restaurant.Restaurant, error) {
	r, err := s.store.GetRestaurant(ctx, id)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	if upd.Name != nil {
		name := strings.TrimSpace(*upd.Name)
		if name == "" {
			return restaurant.Restaurant{}, apperr.Validation("name cannot be empty")
		}
		r.Name = name
	}
	if upd.Currency != nil {
		currency := strings.ToUpper(strings.TrimSpace(*upd.Currency))
		if !auth.ValidCurrency(currency) {
			return restaurant.Restaurant{}, apperr.Validation("currency must be a 3-letter ISO code")
		}
		r.Currency = currency
	}
	if upd.Timezone != nil {
		tz := strings.TrimSpace(*upd.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return restaurant.Restaurant{}, apperr.Validation("unknown timezone %q", tz)
		}
		r.Timezone = tz
	}
	if upd.Address != nil {
		r.Address = strings.TrimSpace(*upd.Address)
	}
	if upd.Phone != nil {
		r.Phone = strings.TrimSpace(*upd.Phone)
	}

	r, err = s.store.UpdateRestaurant(ctx, r)
	if err != nil {
		return restaurant.Restaurant{}, err
	}
	s.events.Publish(ctx, events.Event{Type: events.RestaurantUpdated, RestaurantID: r.ID, Subject: r.ID})
	s.log.WithField("restaurant_id", r.ID).Info("restaurant updated")
	return r, nil
}
