package models

import "time"

// BookingRequest is a meeting request awaiting, or past, an operator decision.
type BookingRequest struct {
	ID              int64      `json:"id"`
	ApprovalToken   string     `json:"-"`
	Reference       string     `json:"reference"`
	Status          Status     `json:"status"`
	RequesterName   string     `json:"requester_name"`
	RequesterEmail  string     `json:"requester_email"`
	MeetingDate     string     `json:"meeting_date"` // YYYY-MM-DD
	MeetingTime     string     `json:"meeting_time"` // HH:MM, booking timezone
	DurationMinutes int        `json:"duration_minutes"`
	Purpose         string     `json:"purpose"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
	DecidedAt       *time.Time `json:"decided_at,omitempty"`
	CalendarEventID string     `json:"calendar_event_id,omitempty"`
	CalendarError   string     `json:"calendar_error,omitempty"`
}

// IsTerminal reports whether the request has been decided.
func (b *BookingRequest) IsTerminal() bool {
	return b.Status.IsTerminal()
}

// Interval returns the meeting start and end in loc.
func (b *BookingRequest) Interval(loc *time.Location) (time.Time, time.Time, error) {
	start, err := time.ParseInLocation(DateTimeLayout, b.MeetingDate+" "+b.MeetingTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, start.Add(time.Duration(b.DurationMinutes) * time.Minute), nil
}

// BookingFilter narrows ListBookings. Zero values mean "any".
type BookingFilter struct {
	Status Status
	From   string // inclusive meeting date, YYYY-MM-DD
	To     string // inclusive meeting date, YYYY-MM-DD
	Limit  int
}
