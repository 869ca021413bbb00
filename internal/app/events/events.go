// Package events keeps a bounded, in-process log of domain events. The
// activity feed and the live dashboard read from it; services publish to it.
package events

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/estrateo/estrateo/pkg/logger"
)

// Type classifies a domain event.
type Type string

const (
	PaymentRecorded  Type = "payment.recorded"
	PaymentUpdated   Type = "payment.updated"
	PaymentCompleted Type = "payment.completed"
	PaymentCancelled Type = "payment.cancelled"
	PaymentDeleted   Type = "payment.deleted"

	EmployeeCreated       Type = "employee.created"
	EmployeeUpdated       Type = "employee.updated"
	EmployeeStatusChanged Type = "employee.status_changed"
	EmployeeDeleted       Type = "employee.deleted"

	InventoryItemCreated Type = "inventory.item_created"
	InventoryItemUpdated Type = "inventory.item_updated"
	InventoryItemDeleted Type = "inventory.item_deleted"
	InventoryMovement    Type = "inventory.movement"
	InventoryLowStock    Type = "inventory.low_stock"

	RestaurantUpdated Type = "restaurant.updated"
)

// Event is a single domain occurrence scoped to a restaurant.
type Event struct {
	ID           string            `json:"id"`
	Type         Type              `json:"type"`
	RestaurantID string            `json:"restaurant_id"`
	Subject      string            `json:"subject,omitempty"`
	Actor        string            `json:"actor,omitempty"`
	Message      string            `json:"message,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	TraceID      string            `json:"trace_id,omitempty"`
	Timestamp    time.Time         `json:"timestamp"`
}

// String returns the JSON form of the event.
func (e Event) String() string {
	data, _ := json.Marshal(e)
	return string(data)
}

// Handler processes events as they are published.
type Handler func(Event)

// Filter decides whether an event should reach a handler.
type Filter func(Event) bool

// Publisher is the narrow interface services depend on.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

// ForRestaurant matches events of one restaurant.
func ForRestaurant(restaurantID string) Filter {
	return func(e Event) bool { return e.RestaurantID == restaurantID }
}

// Log is a thread-safe circular buffer of events.
type Log struct {
	mu       sync.RWMutex
	events   []Event
	size     int
	head     int
	count    int
	handlers []handlerEntry
	nextID   int64
}

type handlerEntry struct {
	id      int64
	filter  Filter
	handler Handler
}

var _ Publisher = (*Log)(nil)

// New creates a log holding at most size events.
func New(size int) *Log {
	if size <= 0 {
		size = 1000
	}
	return &Log{
		events: make([]Event, size),
		size:   size,
	}
}

// Publish stamps the event, stores it and notifies subscribers. Handlers run
// synchronously outside the lock and must not block.
func (l *Log) Publish(ctx context.Context, event Event) {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	if event.TraceID == "" && ctx != nil {
		event.TraceID = logger.TraceID(ctx)
	}
	if event.Actor == "" && ctx != nil {
		event.Actor = logger.UserID(ctx)
	}

	l.mu.Lock()
	l.events[l.head] = event
	l.head = (l.head + 1) % l.size
	if l.count < l.size {
		l.count++
	}
	handlers := make([]handlerEntry, len(l.handlers))
	copy(handlers, l.handlers)
	l.mu.Unlock()

	for _, h := range handlers {
		if h.filter == nil || h.filter(event) {
			h.handler(event)
		}
	}
}

// Subscribe registers a handler for all events and returns its cancel func.
func (l *Log) Subscribe(handler Handler) func() {
	return l.SubscribeFiltered(nil, handler)
}

// SubscribeFiltered registers a handler that only sees events passing filter.
func (l *Log) SubscribeFiltered(filter Filter, handler Handler) func() {
	l.mu.Lock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, handlerEntry{id: id, filter: filter, handler: handler})
	l.mu.Unlock()

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		for i, h := range l.handlers {
			if h.id == id {
				l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
				return
			}
		}
	}
}

// Recent returns up to n events, newest first.
func (l *Log) Recent(n int) []Event {
	return l.recent(n, nil)
}

// RecentByRestaurant returns up to n events of one restaurant, newest first.
func (l *Log) RecentByRestaurant(restaurantID string, n int) []Event {
	return l.recent(n, ForRestaurant(restaurantID))
}

func (l *Log) recent(n int, filter Filter) []Event {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if n <= 0 || l.count == 0 {
		return nil
	}
	result := make([]Event, 0, min(n, l.count))
	for i := 0; i < l.count && len(result) < n; i++ {
		idx := (l.head - 1 - i + l.size) % l.size
		if filter == nil || filter(l.events[idx]) {
			result = append(result, l.events[idx])
		}
	}
	return result
}

// Count returns the number of buffered events.
func (l *Log) Count() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.count
}

// Subscribers returns the number of registered handlers.
func (l *Log) Subscribers() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
