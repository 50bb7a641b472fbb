package database

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"
)

// legacyTimeLayouts covers the naive UTC ISO timestamps of the old bookings table.
var legacyTimeLayouts = []string{
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

func parseLegacyTime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	for _, layout := range legacyTimeLayouts {
		if t, err := time.ParseInLocation(layout, raw, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", raw)
}

// ReadLegacyBookings loads every row of the old single-table store at path.
// Rows come back without a reference; the caller assigns one.
func ReadLegacyBookings(ctx context.Context, path string) ([]*models.BookingRequest, error) {
	legacy, err := sql.Open("sqlite3", "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open legacy db: %w", err)
	}
	defer legacy.Close()

	rows, err := legacy.QueryContext(ctx, `SELECT approval_token, status, COALESCE(requester_name, ''),
		COALESCE(requester_email, ''), meeting_date, meeting_time, duration_minutes,
		COALESCE(purpose, ''), created_at, approved_at, calendar_event_id
		FROM bookings ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query legacy bookings: %w", err)
	}
	defer rows.Close()

	var out []*models.BookingRequest
	for rows.Next() {
		var (
			b          models.BookingRequest
			status     string
			createdAt  string
			approvedAt sql.NullString
			eventID    sql.NullString
		)
		if err := rows.Scan(&b.ApprovalToken, &status, &b.RequesterName, &b.RequesterEmail,
			&b.MeetingDate, &b.MeetingTime, &b.DurationMinutes, &b.Purpose,
			&createdAt, &approvedAt, &eventID); err != nil {
			return nil, fmt.Errorf("scan legacy booking: %w", err)
		}

		b.Status = models.Status(status)
		if !b.Status.Valid() {
			return nil, fmt.Errorf("legacy booking has unknown status %q", status)
		}
		if b.CreatedAt, err = parseLegacyTime(createdAt); err != nil {
			return nil, fmt.Errorf("legacy created_at: %w", err)
		}
		b.UpdatedAt = b.CreatedAt
		if approvedAt.Valid && approvedAt.String != "" {
			at, err := parseLegacyTime(approvedAt.String)
			if err != nil {
				return nil, fmt.Errorf("legacy approved_at: %w", err)
			}
			b.DecidedAt = &at
			b.UpdatedAt = at
		}
		b.CalendarEventID = eventID.String
		out = append(out, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate legacy bookings: %w", err)
	}
	return out, nil
}

// ImportBooking inserts a row as-is, keeping its status and decision audit fields.
func (db *DB) ImportBooking(ctx context.Context, booking *models.BookingRequest) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}
	if booking.ApprovalToken == "" || booking.Reference == "" {
		return fmt.Errorf("booking token and reference are required")
	}
	if !booking.Status.Valid() {
		return fmt.Errorf("invalid status %q", booking.Status)
	}

	var eventID sql.NullString
	if booking.CalendarEventID != "" {
		eventID = sql.NullString{String: booking.CalendarEventID, Valid: true}
	}
	var decidedAt sql.NullTime
	if booking.DecidedAt != nil {
		decidedAt = sql.NullTime{Time: *booking.DecidedAt, Valid: true}
	}
	updatedAt := booking.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = booking.CreatedAt
	}

	query := `INSERT INTO booking_requests (
				approval_token, reference, status, requester_name, requester_email,
				meeting_date, meeting_time, duration_minutes, purpose, created_at, updated_at,
				decided_at, calendar_event_id
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		booking.ApprovalToken,
		booking.Reference,
		booking.Status,
		booking.RequesterName,
		booking.RequesterEmail,
		booking.MeetingDate,
		booking.MeetingTime,
		booking.DurationMinutes,
		booking.Purpose,
		booking.CreatedAt,
		updatedAt,
		decidedAt,
		eventID,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateToken, err)
		}
		return fmt.Errorf("failed to import booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	return nil
}
