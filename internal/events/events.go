package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"meetbook/internal/models"
)

const (
	EventBookingRequested       = "booking_requested"
	EventBookingApproved        = "booking_approved"
	EventBookingDeclined        = "booking_declined"
	EventBookingCalendarCreated = "booking_calendar_created"
	EventBookingCalendarFailed  = "booking_calendar_failed"
)

// BookingEvents lists every event type published by the booking service.
var BookingEvents = []string{
	EventBookingRequested,
	EventBookingApproved,
	EventBookingDeclined,
	EventBookingCalendarCreated,
	EventBookingCalendarFailed,
}

// BookingEventPayload is the booking snapshot handed to consumers.
// It never carries the approval token.
type BookingEventPayload struct {
	Reference       string    `json:"reference"`
	Status          string    `json:"status"`
	RequesterName   string    `json:"requester_name"`
	RequesterEmail  string    `json:"requester_email"`
	MeetingDate     string    `json:"meeting_date"`
	MeetingTime     string    `json:"meeting_time"`
	DurationMinutes int       `json:"duration_minutes"`
	Purpose         string    `json:"purpose,omitempty"`
	CalendarEventID string    `json:"calendar_event_id,omitempty"`
	Detail          string    `json:"detail,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewBookingPayload snapshots b at the given time.
func NewBookingPayload(b *models.BookingRequest, at time.Time) BookingEventPayload {
	return BookingEventPayload{
		Reference:       b.Reference,
		Status:          string(b.Status),
		RequesterName:   b.RequesterName,
		RequesterEmail:  b.RequesterEmail,
		MeetingDate:     b.MeetingDate,
		MeetingTime:     b.MeetingTime,
		DurationMinutes: b.DurationMinutes,
		Purpose:         b.Purpose,
		CalendarEventID: b.CalendarEventID,
		Detail:          b.CalendarError,
		OccurredAt:      at,
	}
}

// Event is one published occurrence. Payload holds JSON.
type Event struct {
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Handler consumes an event. Handlers run on the publisher's goroutine,
// so anything slow belongs behind a queue.
type Handler func(event *Event) error

// EventBus is an in-process fan-out keyed by event type.
type EventBus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewEventBus() *EventBus {
	return &EventBus{handlers: make(map[string][]Handler)}
}

func (b *EventBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
	b.mu.Unlock()
}

// Publish delivers event to every handler of its type. One failing or
// panicking handler does not stop the rest; their errors come back joined.
func (b *EventBus) Publish(event *Event) error {
	b.mu.RLock()
	targets := b.handlers[event.Type]
	b.mu.RUnlock()

	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	var errs []error
	for _, h := range targets {
		if err := deliver(h, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deliver(h Handler, event *Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s handler panic: %v", event.Type, r)
		}
	}()
	return h(event)
}

// PublishJSON encodes payload and publishes it. A nil bus drops the event.
func (b *EventBus) PublishJSON(eventType string, payload interface{}) error {
	if b == nil {
		return nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", eventType, err)
	}
	return b.Publish(&Event{Type: eventType, Payload: raw})
}
