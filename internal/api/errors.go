package api

import (
	"errors"
	"fmt"
	"net/http"

	"meetbook/internal/domain"
)

// statusFor maps the booking error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSlotUnavailable), errors.Is(err, domain.ErrStaleTransition):
		return http.StatusConflict
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrTokenExpired):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrCalendarUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

var publicErrors = []error{
	domain.ErrValidation,
	domain.ErrNotFound,
	domain.ErrTokenExpired,
	domain.ErrRateLimited,
	domain.ErrCalendarUnavailable,
	domain.ErrStaleTransition,
}

// messageFor returns a caller-safe reason. Unknown errors never leak their text.
func messageFor(err error) string {
	var stale *domain.StaleTransitionError
	if errors.As(err, &stale) {
		return fmt.Sprintf("Booking already %s.", stale.Current)
	}
	var slot *domain.SlotUnavailableError
	if errors.As(err, &slot) {
		return slot.Error()
	}
	if errors.Is(err, domain.ErrSlotUnavailable) {
		return domain.ErrSlotUnavailable.Error()
	}
	for _, known := range publicErrors {
		if errors.Is(err, known) {
			return known.Error()
		}
	}
	return "internal error"
}

// writeServiceError renders a service error as JSON, with field detail for validation errors.
func writeServiceError(w http.ResponseWriter, err error) {
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":  domain.ErrValidation.Error(),
			"fields": verr.Fields,
		})
		return
	}
	writeError(w, statusFor(err), messageFor(err))
}
