package domain

import (
	"context"
	"time"

	"meetbook/internal/models"
)

// BookingStore is the durable store of booking requests.
type BookingStore interface {
	CreateBooking(ctx context.Context, booking *models.BookingRequest) error
	GetBooking(ctx context.Context, token string) (*models.BookingRequest, error)
	GetBookingByReference(ctx context.Context, reference string) (*models.BookingRequest, error)
	TransitionBooking(ctx context.Context, token string, to models.Status, at time.Time) error
	RecordCalendarEvent(ctx context.Context, token, eventID string) error
	RecordCalendarFailure(ctx context.Context, token, reason string) error
	ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.BookingRequest, error)
	TokenExists(ctx context.Context, token string) (bool, error)
	ReferenceExists(ctx context.Context, reference string) (bool, error)
}

// AvailabilityChecker answers free/busy for one calendar.
type AvailabilityChecker interface {
	IsFree(ctx context.Context, calendarID string, start, end time.Time) (bool, error)
}

// EventRequest is what the calendar needs to create a meeting.
type EventRequest struct {
	Summary       string
	Description   string
	Start         time.Time
	End           time.Time
	AttendeeEmail string
}

// EventCreator creates calendar events and returns their id.
type EventCreator interface {
	CreateEvent(ctx context.Context, calendarID string, event EventRequest) (string, error)
}

// Calendar is the full calendar collaborator used by the booking service.
type Calendar interface {
	AvailabilityChecker
	EventCreator
}

// TokenIssuer mints unique opaque identifiers.
type TokenIssuer interface {
	Issue(ctx context.Context) (string, error)
}

// Notifier delivers booking messages. Every method is best-effort for the caller.
type Notifier interface {
	SendApprovalRequest(ctx context.Context, booking *models.BookingRequest, approveURL, declineURL string) error
	SendConfirmation(ctx context.Context, booking *models.BookingRequest) error
	SendDeclineNotice(ctx context.Context, booking *models.BookingRequest) error
	AlertOperator(ctx context.Context, subject, text string) error
}

// Message is one outbound email.
type Message struct {
	To       string
	Subject  string
	HTMLBody string
}

// MailSender sends a single email.
type MailSender interface {
	Send(ctx context.Context, msg Message) error
}

// OperatorAlerter pushes short plain-text alerts to the operator.
type OperatorAlerter interface {
	Alert(ctx context.Context, text string) error
}

// EventPublisher fans out domain events.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}

// RateLimiter counts hits per key within a window.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}

// AuditAppender appends rows to the external audit log.
type AuditAppender interface {
	AppendAuditRow(ctx context.Context, row []interface{}) error
}
