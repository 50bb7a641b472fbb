package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/logging"
	"meetbook/internal/models"
	"meetbook/internal/service"

	"github.com/rs/zerolog"
)

const maxBodyBytes = 64 << 10

// Bookings is the slice of the booking service the HTTP layer drives.
type Bookings interface {
	Create(ctx context.Context, in service.CreateInput) (*service.CreateResult, error)
	Approve(ctx context.Context, token string) (*service.Outcome, error)
	Decline(ctx context.Context, token string) (*service.Outcome, error)
	Status(ctx context.Context, token string) (*models.BookingRequest, error)
	Pending(ctx context.Context, token string) (*models.BookingRequest, error)
	StatusByReference(ctx context.Context, reference string) (*models.BookingRequest, error)
	List(ctx context.Context, filter models.BookingFilter) ([]*models.BookingRequest, error)
}

// Pinger reports storage readiness.
type Pinger interface {
	Ready(ctx context.Context) error
}

// HTTPServer serves the approval links and the operator API.
type HTTPServer struct {
	bookings      Bookings
	db            Pinger
	confirmClicks bool
	location      *time.Location
	server        *http.Server
	auth          *HTTPAuth
	logger        zerolog.Logger
}

func NewHTTPServer(cfg *config.Config, bookings Bookings, db Pinger, logger *zerolog.Logger) *HTTPServer {
	loc, err := time.LoadLocation(cfg.Booking.Timezone)
	if err != nil {
		loc = time.UTC
	}

	srv := &HTTPServer{
		bookings:      bookings,
		db:            db,
		confirmClicks: cfg.Booking.ConfirmClicksEnabled(),
		location:      loc,
		auth:          NewHTTPAuth(cfg.API),
		logger:        *logging.Component(logger, "http"),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", srv.handleHealth)
	mux.HandleFunc("GET /readyz", srv.handleReady)

	mux.HandleFunc("GET /approve-booking/{token}", srv.handleLink(approveAction))
	mux.HandleFunc("POST /approve-booking/{token}", srv.handleDecision(approveAction))
	mux.HandleFunc("GET /decline-booking/{token}", srv.handleLink(declineAction))
	mux.HandleFunc("POST /decline-booking/{token}", srv.handleDecision(declineAction))
	mux.HandleFunc("GET /booking-status/{token}", srv.handleStatus)

	mux.HandleFunc("POST /api/v1/bookings", srv.handleCreate)
	mux.HandleFunc("GET /api/v1/bookings", srv.handleList)
	mux.HandleFunc("GET /api/v1/bookings/ref/{reference}", srv.handleReference)
	mux.HandleFunc("GET /api/v1/bookings/export.xlsx", srv.handleExport)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           loggingMiddleware(srv.logger, srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		// Approvals wait on calendar and mail calls.
		WriteTimeout: 15*time.Second + 2*cfg.Booking.ExternalTimeout,
	}

	return srv
}

// Handler exposes the full middleware chain.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.db.Ready(r.Context()); err != nil {
		s.logger.Warn().Err(err).Msg("readiness check failed")
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type linkAction struct {
	confirmTitle string
	button       string
	failTitle    string
	decide       func(b Bookings, ctx context.Context, token string) (*service.Outcome, error)
}

var approveAction = linkAction{
	confirmTitle: "Approve Meeting?",
	button:       "Approve",
	failTitle:    "Could Not Approve",
	decide:       Bookings.Approve,
}

var declineAction = linkAction{
	confirmTitle: "Decline Meeting?",
	button:       "Decline",
	failTitle:    "Could Not Decline",
	decide:       Bookings.Decline,
}

// handleLink serves the link from the email. With click confirmation on, a GET
// only shows the request and a button; mail scanners that prefetch links decide nothing.
func (s *HTTPServer) handleLink(action linkAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !s.confirmClicks {
			s.decide(w, r, action)
			return
		}

		// Decided and expired links fail here, before the button is shown.
		booking, err := s.bookings.Pending(r.Context(), r.PathValue("token"))
		if err != nil {
			s.renderFailure(w, action, err)
			return
		}

		renderPage(w, s.logger, http.StatusOK, "confirm", confirmPage{
			Title:   action.confirmTitle,
			Button:  action.button,
			Action:  r.URL.Path,
			Booking: booking,
		})
	}
}

func (s *HTTPServer) handleDecision(action linkAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.decide(w, r, action)
	}
}

func (s *HTTPServer) decide(w http.ResponseWriter, r *http.Request, action linkAction) {
	outcome, err := action.decide(s.bookings, r.Context(), r.PathValue("token"))
	if err != nil {
		s.renderFailure(w, action, err)
		return
	}

	if outcome.Booking.Status == models.StatusDeclined {
		renderPage(w, s.logger, http.StatusOK, "result", resultPage{
			Title: "Meeting Declined",
			Color: colorNeutral,
			Lines: []string{"The meeting request has been declined."},
		})
		return
	}

	page := resultPage{Title: "Meeting Approved", Color: colorSuccess}
	if outcome.CalendarErr != nil {
		page.Lines = append(page.Lines, "Booking approved, but the calendar event could not be created. Add it manually; an alert has been sent.")
	} else {
		page.Lines = append(page.Lines, "Booking approved and calendar event created.")
	}
	if outcome.NotificationErr != nil {
		page.Lines = append(page.Lines, "The confirmation email to the requester could not be delivered.")
	} else {
		page.Lines = append(page.Lines, "The requester has been notified.")
	}
	renderPage(w, s.logger, http.StatusOK, "result", page)
}

func (s *HTTPServer) renderFailure(w http.ResponseWriter, action linkAction, err error) {
	code := statusFor(err)
	if code == http.StatusInternalServerError {
		s.logger.Error().Err(err).Msg("booking decision failed")
	}
	renderPage(w, s.logger, code, "result", resultPage{
		Title: action.failTitle,
		Color: colorFailure,
		Lines: []string{messageFor(err)},
	})
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	booking, err := s.bookings.Status(r.Context(), r.PathValue("token"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(booking.Status)})
}

type createResponse struct {
	Reference string        `json:"reference"`
	Status    models.Status `json:"status"`
	Warning   string        `json:"warning,omitempty"`
}

func (s *HTTPServer) handleCreate(w http.ResponseWriter, r *http.Request) {
	var in service.CreateInput
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	result, err := s.bookings.Create(r.Context(), in)
	if err != nil {
		if statusFor(err) == http.StatusInternalServerError {
			s.logger.Error().Err(err).Msg("create booking failed")
		}
		writeServiceError(w, err)
		return
	}

	resp := createResponse{Reference: result.Reference, Status: result.Status}
	if result.NotificationErr != nil {
		resp.Warning = "request stored but the organizer could not be notified yet"
	}
	writeJSON(w, http.StatusCreated, resp)
}

type referenceResponse struct {
	Reference       string        `json:"reference"`
	Status          models.Status `json:"status"`
	MeetingDate     string        `json:"meeting_date"`
	MeetingTime     string        `json:"meeting_time"`
	DurationMinutes int           `json:"duration_minutes"`
}

func (s *HTTPServer) handleReference(w http.ResponseWriter, r *http.Request) {
	ref := strings.ToUpper(strings.TrimSpace(r.PathValue("reference")))
	booking, err := s.bookings.StatusByReference(r.Context(), ref)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, referenceResponse{
		Reference:       booking.Reference,
		Status:          booking.Status,
		MeetingDate:     booking.MeetingDate,
		MeetingTime:     booking.MeetingTime,
		DurationMinutes: booking.DurationMinutes,
	})
}

func (s *HTTPServer) handleList(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bookings, err := s.bookings.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	if bookings == nil {
		bookings = []*models.BookingRequest{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"bookings": bookings})
}

func (s *HTTPServer) handleExport(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	bookings, err := s.bookings.List(r.Context(), filter)
	if err != nil {
		writeServiceError(w, err)
		return
	}

	f, err := buildExport(bookings, s.location)
	if err != nil {
		s.logger.Error().Err(err).Msg("build export")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	defer f.Close()

	fileName := fmt.Sprintf("bookings_%s.xlsx", time.Now().In(s.location).Format("2006-01-02"))
	w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", fileName))
	w.WriteHeader(http.StatusOK)
	if err := f.Write(w); err != nil {
		s.logger.Error().Err(err).Msg("write export")
	}
}

func parseFilter(r *http.Request) (models.BookingFilter, error) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		Status: models.Status(strings.TrimSpace(q.Get("status"))),
		From:   strings.TrimSpace(q.Get("from")),
		To:     strings.TrimSpace(q.Get("to")),
	}

	for name, value := range map[string]string{"from": filter.From, "to": filter.To} {
		if value == "" {
			continue
		}
		if _, err := time.Parse(models.DateLayout, value); err != nil {
			return filter, fmt.Errorf("invalid %s; expected YYYY-MM-DD", name)
		}
	}

	if raw := strings.TrimSpace(q.Get("limit")); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return filter, errors.New("limit must be a positive integer")
		}
		filter.Limit = limit
	}
	return filter, nil
}
