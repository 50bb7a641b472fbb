package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/mattn/go-sqlite3"
)

const bookingColumns = `id, approval_token, reference, status, requester_name, requester_email,
	meeting_date, meeting_time, duration_minutes, purpose, created_at, updated_at,
	decided_at, calendar_event_id, calendar_error`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (*models.BookingRequest, error) {
	var (
		b         models.BookingRequest
		status    string
		decidedAt sql.NullTime
		eventID   sql.NullString
		calErr    sql.NullString
	)
	err := row.Scan(
		&b.ID, &b.ApprovalToken, &b.Reference, &status, &b.RequesterName, &b.RequesterEmail,
		&b.MeetingDate, &b.MeetingTime, &b.DurationMinutes, &b.Purpose, &b.CreatedAt, &b.UpdatedAt,
		&decidedAt, &eventID, &calErr,
	)
	if err != nil {
		return nil, err
	}
	b.Status = models.Status(status)
	if decidedAt.Valid {
		t := decidedAt.Time
		b.DecidedAt = &t
	}
	b.CalendarEventID = eventID.String
	b.CalendarError = calErr.String
	return &b, nil
}

// CreateBooking inserts a new pending request. The approval token and the
// reference are UNIQUE columns; a clash is reported as ErrDuplicateToken.
func (db *DB) CreateBooking(ctx context.Context, booking *models.BookingRequest) error {
	if booking == nil {
		return fmt.Errorf("booking is nil")
	}
	if booking.ApprovalToken == "" || booking.Reference == "" {
		return fmt.Errorf("booking token and reference are required")
	}

	now := booking.CreatedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}

	query := `INSERT INTO booking_requests (
				approval_token, reference, status, requester_name, requester_email,
				meeting_date, meeting_time, duration_minutes, purpose, created_at, updated_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		booking.ApprovalToken,
		booking.Reference,
		models.StatusPending,
		booking.RequesterName,
		booking.RequesterEmail,
		booking.MeetingDate,
		booking.MeetingTime,
		booking.DurationMinutes,
		booking.Purpose,
		now,
		now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %v", domain.ErrDuplicateToken, err)
		}
		return fmt.Errorf("failed to create booking: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	booking.ID = id
	booking.Status = models.StatusPending
	booking.CreatedAt = now
	booking.UpdatedAt = now
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func (db *DB) GetBooking(ctx context.Context, token string) (*models.BookingRequest, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE approval_token = ?`, token)
	return db.scanOne(row)
}

func (db *DB) GetBookingByReference(ctx context.Context, reference string) (*models.BookingRequest, error) {
	row := db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM booking_requests WHERE reference = ?`, reference)
	return db.scanOne(row)
}

func (db *DB) scanOne(row *sql.Row) (*models.BookingRequest, error) {
	booking, err := scanBooking(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get booking: %w", err)
	}
	return booking, nil
}

// TransitionBooking moves a pending request to a terminal status as one
// conditional update. Exactly one of several concurrent callers wins; the
// others get a StaleTransitionError naming the status they lost to.
func (db *DB) TransitionBooking(ctx context.Context, token string, to models.Status, at time.Time) error {
	if !to.IsTerminal() {
		return fmt.Errorf("invalid target status %q", to)
	}

	query := `UPDATE booking_requests SET status = ?, decided_at = ?, updated_at = ?
              WHERE approval_token = ? AND status = ?`
	result, err := db.ExecContext(ctx, query, to, at, at, token, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to update booking status: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows == 1 {
		return nil
	}

	var current string
	err = db.QueryRowContext(ctx, `SELECT status FROM booking_requests WHERE approval_token = ?`, token).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to read booking status: %w", err)
	}
	return &domain.StaleTransitionError{Current: models.Status(current)}
}

func (db *DB) RecordCalendarEvent(ctx context.Context, token, eventID string) error {
	query := `UPDATE booking_requests SET calendar_event_id = ?, calendar_error = NULL, updated_at = ?
              WHERE approval_token = ? AND status = ?`
	return db.execOne(ctx, query, eventID, time.Now().UTC(), token, models.StatusApproved)
}

func (db *DB) RecordCalendarFailure(ctx context.Context, token, reason string) error {
	query := `UPDATE booking_requests SET calendar_error = ?, updated_at = ?
              WHERE approval_token = ? AND status = ?`
	return db.execOne(ctx, query, reason, time.Now().UTC(), token, models.StatusApproved)
}

func (db *DB) execOne(ctx context.Context, query string, args ...any) error {
	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update booking: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return domain.ErrNotFound
	}
	return nil
}

func (db *DB) TokenExists(ctx context.Context, token string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM booking_requests WHERE approval_token = ?)`, token)
}

func (db *DB) ReferenceExists(ctx context.Context, reference string) (bool, error) {
	return db.exists(ctx, `SELECT EXISTS(SELECT 1 FROM booking_requests WHERE reference = ?)`, reference)
}

func (db *DB) exists(ctx context.Context, query, arg string) (bool, error) {
	var found bool
	if err := db.QueryRowContext(ctx, query, arg).Scan(&found); err != nil {
		return false, fmt.Errorf("failed to check existence: %w", err)
	}
	return found, nil
}

// ListBookings returns requests ordered by meeting date and time.
func (db *DB) ListBookings(ctx context.Context, filter models.BookingFilter) ([]*models.BookingRequest, error) {
	var (
		where []string
		args  []any
	)
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.From != "" {
		where = append(where, "meeting_date >= ?")
		args = append(args, filter.From)
	}
	if filter.To != "" {
		where = append(where, "meeting_date <= ?")
		args = append(args, filter.To)
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = models.DefaultListLimit
	}

	query := `SELECT ` + bookingColumns + ` FROM booking_requests`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY meeting_date ASC, meeting_time ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bookings: %w", err)
	}
	defer rows.Close()

	var bookings []*models.BookingRequest
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan booking: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bookings: %w", err)
	}
	return bookings, nil
}
