package models

// Status is the lifecycle state of a BookingRequest.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusDeclined Status = "declined"
)

// IsTerminal reports whether no further transitions are allowed.
func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusDeclined
}

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusApproved, StatusDeclined:
		return true
	}
	return false
}

const (
	DateLayout     = "2006-01-02"
	TimeLayout     = "15:04"
	DateTimeLayout = "2006-01-02 15:04"
)

const (
	// DefaultTimezone is the zone every meeting time is interpreted in.
	DefaultTimezone = "America/New_York"

	// DefaultMaxDurationMinutes bounds a single meeting.
	DefaultMaxDurationMinutes = 480

	// DefaultListLimit caps ListBookings when no limit is given.
	DefaultListLimit = 100

	// TokenLength is the approval token length in nanoid symbols.
	TokenLength = 32

	// ReferenceLength is the public booking reference length.
	ReferenceLength = 12
)
