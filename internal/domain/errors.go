package domain

import (
	"errors"
	"fmt"
	"strings"

	"meetbook/internal/models"
)

var (
	ErrValidation          = errors.New("invalid booking request")
	ErrSlotUnavailable     = errors.New("time slot is not available")
	ErrCalendarUnavailable = errors.New("calendar is unavailable")
	ErrNotFound            = errors.New("booking not found")
	ErrStaleTransition     = errors.New("booking already decided")
	ErrDuplicateToken      = errors.New("duplicate booking token")
	ErrNotificationFailure = errors.New("notification failed")
	ErrTokenExpired        = errors.New("approval link expired")
	ErrRateLimited         = errors.New("too many booking requests")
)

// FieldError describes one rejected input field.
type FieldError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// ValidationError lists every rejected field of a request.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Add(field, reason string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Reason: reason})
}

func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, f.Field+": "+f.Reason)
	}
	return fmt.Sprintf("%s: %s", ErrValidation.Error(), strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// StaleTransitionError reports the status that blocked a transition.
type StaleTransitionError struct {
	Current models.Status
}

func (e *StaleTransitionError) Error() string {
	return fmt.Sprintf("%s: already %s", ErrStaleTransition.Error(), e.Current)
}

func (e *StaleTransitionError) Unwrap() error {
	return ErrStaleTransition
}

// SlotUnavailableError carries the conflicting busy interval when known.
type SlotUnavailableError struct {
	Conflict string
}

func (e *SlotUnavailableError) Error() string {
	if e.Conflict == "" {
		return ErrSlotUnavailable.Error()
	}
	return fmt.Sprintf("%s: %s", ErrSlotUnavailable.Error(), e.Conflict)
}

func (e *SlotUnavailableError) Unwrap() error {
	return ErrSlotUnavailable
}
