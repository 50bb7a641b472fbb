package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"meetbook/internal/domain"
	"meetbook/internal/events"
	"meetbook/internal/metrics"
	"meetbook/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

const maxCreateAttempts = 3

// Config is everything the booking service would otherwise read from process state.
type Config struct {
	Location           *time.Location
	CalendarID         string
	BaseURL            string
	MaxDurationMinutes int
	ExternalTimeout    time.Duration
	// TokenTTL limits how long approve/decline links stay valid. Zero disables expiry.
	TokenTTL        time.Duration
	NotifyDeclines  bool
	RequestsPerHour int
	Now             func() time.Time
}

// Deps are the collaborators of BookingService. Limiter and Events may be nil.
type Deps struct {
	Store      domain.BookingStore
	Calendar   domain.Calendar
	Tokens     domain.TokenIssuer
	References domain.TokenIssuer
	Notifier   domain.Notifier
	Limiter    domain.RateLimiter
	Events     domain.EventPublisher
}

// CreateResult is returned by a successful Create. NotificationErr is set when
// the booking was stored but the approval request could not be sent.
type CreateResult struct {
	Token           string
	Reference       string
	Status          models.Status
	NotificationErr error
}

// Outcome is returned by a successful Approve or Decline. The decision is
// recorded even when CalendarErr or NotificationErr is set.
type Outcome struct {
	Booking         *models.BookingRequest
	CalendarErr     error
	NotificationErr error
}

type BookingService struct {
	deps     Deps
	cfg      Config
	validate *validator.Validate
	logger   *zerolog.Logger
}

func NewBookingService(deps Deps, cfg Config, logger *zerolog.Logger) *BookingService {
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	if cfg.CalendarID == "" {
		cfg.CalendarID = "primary"
	}
	if cfg.MaxDurationMinutes <= 0 {
		cfg.MaxDurationMinutes = models.DefaultMaxDurationMinutes
	}
	if cfg.ExternalTimeout <= 0 {
		cfg.ExternalTimeout = 10 * time.Second
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &BookingService{
		deps:     deps,
		cfg:      cfg,
		validate: newValidator(),
		logger:   logger,
	}
}

// Create validates the request, checks the calendar and stores a pending
// booking, then asks the operator for a decision.
func (s *BookingService) Create(ctx context.Context, in CreateInput) (*CreateResult, error) {
	in.normalize()

	start, end, err := s.validateCreate(in)
	if err != nil {
		metrics.IncBookingRejected("validation")
		return nil, err
	}

	if err := s.checkRateLimit(ctx, in.RequesterEmail); err != nil {
		metrics.IncBookingRejected("rate_limited")
		return nil, err
	}

	if err := s.checkAvailability(ctx, start, end); err != nil {
		if errors.Is(err, domain.ErrSlotUnavailable) {
			metrics.IncBookingRejected("slot_unavailable")
		} else {
			metrics.IncBookingRejected("calendar_unavailable")
		}
		return nil, err
	}

	booking := &models.BookingRequest{
		RequesterName:   in.RequesterName,
		RequesterEmail:  in.RequesterEmail,
		MeetingDate:     in.MeetingDate,
		MeetingTime:     in.MeetingTime,
		DurationMinutes: in.DurationMinutes,
		Purpose:         in.Purpose,
		CreatedAt:       s.cfg.Now(),
	}
	if err := s.store(ctx, booking); err != nil {
		metrics.IncBookingRejected("store")
		return nil, err
	}

	log := s.bookingLogger(booking)
	log.Info().Str("date", booking.MeetingDate).Str("time", booking.MeetingTime).Int("duration", booking.DurationMinutes).Msg("booking request created")
	metrics.IncBookingCreated()
	s.publish(events.EventBookingRequested, booking)

	result := &CreateResult{
		Token:     booking.ApprovalToken,
		Reference: booking.Reference,
		Status:    booking.Status,
	}

	// The row is the source of truth from here on; delivery problems are reported, not fatal.
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExternalTimeout)
	defer cancel()
	err = s.deps.Notifier.SendApprovalRequest(sendCtx, booking, s.ApproveURL(booking.ApprovalToken), s.DeclineURL(booking.ApprovalToken))
	metrics.IncNotification("approval_request", err)
	if err != nil {
		log.Error().Err(err).Msg("approval request not delivered")
		result.NotificationErr = err
	}

	return result, nil
}

// Approve records the approval, creates the calendar event and confirms to the requester.
func (s *BookingService) Approve(ctx context.Context, token string) (*Outcome, error) {
	booking, err := s.decide(ctx, token, models.StatusApproved)
	if err != nil {
		return nil, err
	}

	// Side effects run to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	log := s.bookingLogger(booking)
	outcome := &Outcome{Booking: booking}

	eventID, err := s.createEvent(ctx, booking)
	if err != nil {
		outcome.CalendarErr = err
		s.reportCalendarFailure(ctx, booking, err)
	} else {
		booking.CalendarEventID = eventID
		if err := s.deps.Store.RecordCalendarEvent(ctx, token, eventID); err != nil {
			log.Error().Err(err).Str("event_id", eventID).Msg("failed to record calendar event id")
		}
		log.Info().Str("event_id", eventID).Msg("calendar event created")
		s.publish(events.EventBookingCalendarCreated, booking)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()
	err = s.deps.Notifier.SendConfirmation(sendCtx, booking)
	metrics.IncNotification("confirmation", err)
	if err != nil {
		log.Error().Err(err).Msg("confirmation not delivered")
		outcome.NotificationErr = err
	}

	return outcome, nil
}

// Decline records the decline and optionally tells the requester.
func (s *BookingService) Decline(ctx context.Context, token string) (*Outcome, error) {
	booking, err := s.decide(ctx, token, models.StatusDeclined)
	if err != nil {
		return nil, err
	}

	outcome := &Outcome{Booking: booking}
	if !s.cfg.NotifyDeclines {
		return outcome, nil
	}

	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ExternalTimeout)
	defer cancel()
	err = s.deps.Notifier.SendDeclineNotice(sendCtx, booking)
	metrics.IncNotification("decline_notice", err)
	if err != nil {
		s.bookingLogger(booking).Error().Err(err).Msg("decline notice not delivered")
		outcome.NotificationErr = err
	}
	return outcome, nil
}

// Status returns the booking behind an approval token.
func (s *BookingService) Status(ctx context.Context, token string) (*models.BookingRequest, error) {
	return s.deps.Store.GetBooking(ctx, token)
}

// Pending returns the booking behind token only while its links can still
// decide it: a decided booking yields *domain.StaleTransitionError and an
// expired link domain.ErrTokenExpired. Nothing is changed.
func (s *BookingService) Pending(ctx context.Context, token string) (*models.BookingRequest, error) {
	booking, err := s.deps.Store.GetBooking(ctx, token)
	if err != nil {
		return nil, err
	}
	if err := s.decidable(booking, s.cfg.Now()); err != nil {
		return nil, err
	}
	return booking, nil
}

func (s *BookingService) decidable(booking *models.BookingRequest, now time.Time) error {
	if booking.IsTerminal() {
		return &domain.StaleTransitionError{Current: booking.Status}
	}
	if s.cfg.TokenTTL > 0 && now.Sub(booking.CreatedAt) > s.cfg.TokenTTL {
		return domain.ErrTokenExpired
	}
	return nil
}

// StatusByReference returns the booking behind a public reference.
func (s *BookingService) StatusByReference(ctx context.Context, reference string) (*models.BookingRequest, error) {
	return s.deps.Store.GetBookingByReference(ctx, reference)
}

func (s *BookingService) List(ctx context.Context, filter models.BookingFilter) ([]*models.BookingRequest, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		verr := &domain.ValidationError{}
		verr.Add("status", "must be pending, approved or declined")
		return nil, verr
	}
	return s.deps.Store.ListBookings(ctx, filter)
}

func (s *BookingService) ApproveURL(token string) string {
	return s.cfg.BaseURL + "/approve-booking/" + token
}

func (s *BookingService) DeclineURL(token string) string {
	return s.cfg.BaseURL + "/decline-booking/" + token
}

// decide performs the guarded pending -> to transition.
func (s *BookingService) decide(ctx context.Context, token string, to models.Status) (*models.BookingRequest, error) {
	booking, err := s.deps.Store.GetBooking(ctx, token)
	if err != nil {
		metrics.IncTransition(string(to), "not_found")
		return nil, err
	}
	now := s.cfg.Now()
	if err := s.decidable(booking, now); err != nil {
		if errors.Is(err, domain.ErrTokenExpired) {
			metrics.IncTransition(string(to), "expired")
		} else {
			metrics.IncTransition(string(to), "stale")
		}
		return nil, err
	}

	if err := s.deps.Store.TransitionBooking(ctx, token, to, now); err != nil {
		if errors.Is(err, domain.ErrStaleTransition) {
			metrics.IncTransition(string(to), "stale")
		} else {
			metrics.IncTransition(string(to), "error")
		}
		return nil, err
	}

	booking.Status = to
	booking.DecidedAt = &now
	booking.UpdatedAt = now
	metrics.IncTransition(string(to), "ok")
	s.bookingLogger(booking).Info().Str("status", string(to)).Msg("booking decided")

	eventType := events.EventBookingApproved
	if to == models.StatusDeclined {
		eventType = events.EventBookingDeclined
	}
	s.publish(eventType, booking)
	return booking, nil
}

func (s *BookingService) checkRateLimit(ctx context.Context, email string) error {
	if s.deps.Limiter == nil || s.cfg.RequestsPerHour <= 0 {
		return nil
	}
	allowed, err := s.deps.Limiter.Allow(ctx, "create:"+strings.ToLower(email), s.cfg.RequestsPerHour, time.Hour)
	if err != nil {
		// An unavailable limiter must not block bookings.
		s.logger.Warn().Err(err).Msg("rate limiter unavailable")
		return nil
	}
	if !allowed {
		return domain.ErrRateLimited
	}
	return nil
}

func (s *BookingService) checkAvailability(ctx context.Context, start, end time.Time) error {
	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()

	started := time.Now()
	free, err := s.deps.Calendar.IsFree(callCtx, s.cfg.CalendarID, start, end)
	metrics.ObserveExternal("freebusy", started, err)
	if err != nil {
		s.logger.Error().Err(err).Msg("availability check failed")
		return fmt.Errorf("%w: %v", domain.ErrCalendarUnavailable, err)
	}
	if !free {
		return &domain.SlotUnavailableError{Conflict: start.Format("2006-01-02 15:04 MST")}
	}
	return nil
}

// store issues identifiers and persists the pending row, retrying on the
// unlikely race where another request claimed the same identifier.
func (s *BookingService) store(ctx context.Context, booking *models.BookingRequest) error {
	var err error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		if booking.ApprovalToken, err = s.deps.Tokens.Issue(ctx); err != nil {
			return fmt.Errorf("issue approval token: %w", err)
		}
		if booking.Reference, err = s.deps.References.Issue(ctx); err != nil {
			return fmt.Errorf("issue reference: %w", err)
		}

		err = s.deps.Store.CreateBooking(ctx, booking)
		if !errors.Is(err, domain.ErrDuplicateToken) {
			return err
		}
		s.logger.Warn().Int("attempt", attempt+1).Msg("identifier collision, reissuing")
	}
	return err
}

func (s *BookingService) createEvent(ctx context.Context, booking *models.BookingRequest) (string, error) {
	start, end, err := booking.Interval(s.cfg.Location)
	if err != nil {
		return "", fmt.Errorf("derive interval: %w", err)
	}

	purpose := booking.Purpose
	if purpose == "" {
		purpose = "N/A"
	}

	callCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()

	started := time.Now()
	eventID, err := s.deps.Calendar.CreateEvent(callCtx, s.cfg.CalendarID, domain.EventRequest{
		Summary:       "Meeting with " + booking.RequesterName,
		Description:   fmt.Sprintf("Purpose: %s\nRequester email: %s\nReference: %s", purpose, booking.RequesterEmail, booking.Reference),
		Start:         start,
		End:           end,
		AttendeeEmail: booking.RequesterEmail,
	})
	metrics.ObserveExternal("create_event", started, err)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrCalendarUnavailable, err)
	}
	return eventID, nil
}

// reportCalendarFailure keeps the approval and makes the missing event visible.
func (s *BookingService) reportCalendarFailure(ctx context.Context, booking *models.BookingRequest, cause error) {
	log := s.bookingLogger(booking)
	log.Error().Err(cause).Msg("booking approved but calendar event was not created")

	booking.CalendarError = cause.Error()
	if err := s.deps.Store.RecordCalendarFailure(ctx, booking.ApprovalToken, booking.CalendarError); err != nil {
		log.Error().Err(err).Msg("failed to record calendar failure")
	}
	s.publish(events.EventBookingCalendarFailed, booking)

	text := fmt.Sprintf(
		"Booking %s for %s <%s> on %s at %s (%d min) was approved, but the calendar event could not be created.\nError: %v\nCreate the event manually.",
		booking.Reference, booking.RequesterName, booking.RequesterEmail,
		booking.MeetingDate, booking.MeetingTime, booking.DurationMinutes, cause,
	)

	alertCtx, cancel := context.WithTimeout(ctx, s.cfg.ExternalTimeout)
	defer cancel()
	err := s.deps.Notifier.AlertOperator(alertCtx, "Calendar event missing for booking "+booking.Reference, text)
	metrics.IncNotification("operator_alert", err)
	if err != nil {
		log.Error().Err(err).Msg("operator alert not delivered")
	}
}

func (s *BookingService) publish(eventType string, booking *models.BookingRequest) {
	if s.deps.Events == nil {
		return
	}
	if err := s.deps.Events.PublishJSON(eventType, events.NewBookingPayload(booking, s.cfg.Now())); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Str("reference", booking.Reference).Msg("publish event error")
	}
}

func (s *BookingService) bookingLogger(booking *models.BookingRequest) *zerolog.Logger {
	l := s.logger.With().Str("reference", booking.Reference).Logger()
	return &l
}
