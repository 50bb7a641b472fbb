package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"meetbook/internal/config"
	"meetbook/internal/domain"
	"meetbook/internal/models"
	"meetbook/internal/service"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

type mockBookings struct {
	mock.Mock
}

func (m *mockBookings) Create(ctx context.Context, in service.CreateInput) (*service.CreateResult, error) {
	args := m.Called(ctx, in)
	res, _ := args.Get(0).(*service.CreateResult)
	return res, args.Error(1)
}

func (m *mockBookings) Approve(ctx context.Context, token string) (*service.Outcome, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*service.Outcome)
	return res, args.Error(1)
}

func (m *mockBookings) Decline(ctx context.Context, token string) (*service.Outcome, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*service.Outcome)
	return res, args.Error(1)
}

func (m *mockBookings) Status(ctx context.Context, token string) (*models.BookingRequest, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*models.BookingRequest)
	return res, args.Error(1)
}

func (m *mockBookings) Pending(ctx context.Context, token string) (*models.BookingRequest, error) {
	args := m.Called(ctx, token)
	res, _ := args.Get(0).(*models.BookingRequest)
	return res, args.Error(1)
}

func (m *mockBookings) StatusByReference(ctx context.Context, reference string) (*models.BookingRequest, error) {
	args := m.Called(ctx, reference)
	res, _ := args.Get(0).(*models.BookingRequest)
	return res, args.Error(1)
}

func (m *mockBookings) List(ctx context.Context, filter models.BookingFilter) ([]*models.BookingRequest, error) {
	args := m.Called(ctx, filter)
	res, _ := args.Get(0).([]*models.BookingRequest)
	return res, args.Error(1)
}

type fakePinger struct {
	err error
}

func (p fakePinger) Ready(context.Context) error {
	return p.err
}

func testConfig() *config.Config {
	return &config.Config{
		Booking: config.BookingConfig{Timezone: models.DefaultTimezone},
	}
}

func newTestServer(t *testing.T, bookings Bookings, mutate ...func(*config.Config)) *httptest.Server {
	t.Helper()
	cfg := testConfig()
	for _, m := range mutate {
		m(cfg)
	}
	srv := NewHTTPServer(cfg, bookings, fakePinger{}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return ts
}

func withoutConfirmClicks(cfg *config.Config) {
	off := false
	cfg.Booking.ConfirmClicks = &off
}

func pendingBooking() *models.BookingRequest {
	return &models.BookingRequest{
		ApprovalToken:   "secret-token",
		Reference:       "REF234567890",
		Status:          models.StatusPending,
		RequesterName:   "Jane Doe",
		RequesterEmail:  "jane@example.com",
		MeetingDate:     "2025-03-10",
		MeetingTime:     "14:00",
		DurationMinutes: 30,
		Purpose:         "Intro call",
		CreatedAt:       time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func decided(status models.Status) *models.BookingRequest {
	b := pendingBooking()
	b.Status = status
	at := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	b.DecidedAt = &at
	return b
}

func do(t *testing.T, method, url string, body io.Reader) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(data)
}

func TestHealthAndReady(t *testing.T) {
	ts := newTestServer(t, &mockBookings{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = do(t, http.MethodGet, ts.URL+"/readyz", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	srv := NewHTTPServer(testConfig(), &mockBookings{}, fakePinger{err: errors.New("disk gone")}, nil)
	down := httptest.NewServer(srv.Handler())
	defer down.Close()

	resp, body := do(t, http.MethodGet, down.URL+"/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.NotContains(t, body, "disk gone")
}

func TestApproveLink_ShowsConfirmation(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Pending", mock.Anything, "secret-token").Return(pendingBooking(), nil)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/approve-booking/secret-token", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
	assert.Contains(t, body, "Approve Meeting?")
	assert.Contains(t, body, `method="post"`)
	assert.Contains(t, body, "Jane Doe")
	bookings.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
}

func TestApproveLink_AlreadyDecided(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Pending", mock.Anything, "secret-token").
		Return(nil, &domain.StaleTransitionError{Current: models.StatusDeclined})
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/approve-booking/secret-token", nil)

	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, body, "Booking already declined.")
	bookings.AssertNotCalled(t, "Approve", mock.Anything, mock.Anything)
}

func TestDeclineLink_ExpiredShowsGone(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Pending", mock.Anything, "secret-token").Return(nil, domain.ErrTokenExpired)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/decline-booking/secret-token", nil)

	assert.Equal(t, http.StatusGone, resp.StatusCode)
	assert.Contains(t, body, "approval link expired")
	assert.NotContains(t, body, `method="post"`)
	bookings.AssertNotCalled(t, "Decline", mock.Anything, mock.Anything)
}

func TestApproveLink_WithoutConfirmation(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Approve", mock.Anything, "secret-token").
		Return(&service.Outcome{Booking: decided(models.StatusApproved)}, nil).Once()
	ts := newTestServer(t, bookings, withoutConfirmClicks)

	resp, body := do(t, http.MethodGet, ts.URL+"/approve-booking/secret-token", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Meeting Approved")
	bookings.AssertExpectations(t)
}

func TestApprovePost(t *testing.T) {
	tests := []struct {
		name     string
		outcome  *service.Outcome
		contains []string
	}{
		{
			name:     "calendar event created",
			outcome:  &service.Outcome{Booking: decided(models.StatusApproved)},
			contains: []string{"Meeting Approved", "calendar event created", "requester has been notified"},
		},
		{
			name: "calendar failure",
			outcome: &service.Outcome{
				Booking:     decided(models.StatusApproved),
				CalendarErr: errors.New("calendar down"),
			},
			contains: []string{"Meeting Approved", "could not be created"},
		},
		{
			name: "confirmation not delivered",
			outcome: &service.Outcome{
				Booking:         decided(models.StatusApproved),
				NotificationErr: errors.New("smtp down"),
			},
			contains: []string{"could not be delivered"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &mockBookings{}
			bookings.On("Approve", mock.Anything, "secret-token").Return(tt.outcome, nil).Once()
			ts := newTestServer(t, bookings)

			resp, body := do(t, http.MethodPost, ts.URL+"/approve-booking/secret-token", nil)

			assert.Equal(t, http.StatusOK, resp.StatusCode)
			for _, want := range tt.contains {
				assert.Contains(t, body, want)
			}
			assert.NotContains(t, body, "calendar down")
			bookings.AssertExpectations(t)
		})
	}
}

func TestDecisionErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"unknown token", domain.ErrNotFound, http.StatusNotFound, domain.ErrNotFound.Error()},
		{"already approved", &domain.StaleTransitionError{Current: models.StatusApproved}, http.StatusConflict, "Booking already approved."},
		{"lost race", domain.ErrStaleTransition, http.StatusConflict, domain.ErrStaleTransition.Error()},
		{"expired", domain.ErrTokenExpired, http.StatusGone, domain.ErrTokenExpired.Error()},
		{"internal", errors.New("sqlite: database is locked"), http.StatusInternalServerError, "internal error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &mockBookings{}
			bookings.On("Decline", mock.Anything, "secret-token").Return(nil, tt.err)
			ts := newTestServer(t, bookings)

			resp, body := do(t, http.MethodPost, ts.URL+"/decline-booking/secret-token", nil)

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body, "Could Not Decline")
			assert.Contains(t, body, tt.wantBody)
			assert.NotContains(t, body, "sqlite")
		})
	}
}

func TestDeclinePost(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Decline", mock.Anything, "secret-token").
		Return(&service.Outcome{Booking: decided(models.StatusDeclined)}, nil).Once()
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodPost, ts.URL+"/decline-booking/secret-token", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Meeting Declined")
	bookings.AssertExpectations(t)
}

func TestDecisionLink_MethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, &mockBookings{})

	resp, _ := do(t, http.MethodDelete, ts.URL+"/approve-booking/secret-token", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestBookingStatus(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Status", mock.Anything, "secret-token").Return(pendingBooking(), nil)
	bookings.On("Status", mock.Anything, "unknown").Return(nil, domain.ErrNotFound)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/booking-status/secret-token", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"pending"}`, body)

	resp, body = do(t, http.MethodGet, ts.URL+"/booking-status/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.JSONEq(t, `{"error":"booking not found"}`, body)
}

const createBody = `{
	"requester_name": "Jane Doe",
	"requester_email": "jane@example.com",
	"meeting_date": "2025-03-10",
	"meeting_time": "14:00",
	"duration_minutes": 30,
	"purpose": "Intro call"
}`

func TestCreateBooking(t *testing.T) {
	want := service.CreateInput{
		RequesterName:   "Jane Doe",
		RequesterEmail:  "jane@example.com",
		MeetingDate:     "2025-03-10",
		MeetingTime:     "14:00",
		DurationMinutes: 30,
		Purpose:         "Intro call",
	}
	bookings := &mockBookings{}
	bookings.On("Create", mock.Anything, want).Return(&service.CreateResult{
		Token:     "secret-token",
		Reference: "REF234567890",
		Status:    models.StatusPending,
	}, nil).Once()
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/bookings", strings.NewReader(createBody))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.JSONEq(t, `{"reference":"REF234567890","status":"pending"}`, body)
	assert.NotContains(t, body, "secret-token")
	bookings.AssertExpectations(t)
}

func TestCreateBooking_NotificationWarning(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("Create", mock.Anything, mock.Anything).Return(&service.CreateResult{
		Token:           "secret-token",
		Reference:       "REF234567890",
		Status:          models.StatusPending,
		NotificationErr: errors.New("gmail quota"),
	}, nil)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/bookings", strings.NewReader(createBody))

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	assert.Contains(t, body, `"warning"`)
	assert.NotContains(t, body, "gmail quota")
}

func TestCreateBooking_Errors(t *testing.T) {
	verr := &domain.ValidationError{}
	verr.Add("meeting_time", "must be HH:MM")

	tests := []struct {
		name       string
		body       string
		err        error
		wantStatus int
		wantBody   string
	}{
		{"malformed json", `{"requester_name":`, nil, http.StatusBadRequest, "invalid JSON body"},
		{"unknown field", `{"requester":"x"}`, nil, http.StatusBadRequest, "invalid JSON body"},
		{"validation", createBody, verr, http.StatusBadRequest, `"field":"meeting_time"`},
		{"slot busy", createBody, &domain.SlotUnavailableError{Conflict: "14:00-15:00"}, http.StatusConflict, "14:00-15:00"},
		{"calendar down", createBody, wrapped(domain.ErrCalendarUnavailable), http.StatusServiceUnavailable, domain.ErrCalendarUnavailable.Error()},
		{"rate limited", createBody, domain.ErrRateLimited, http.StatusTooManyRequests, domain.ErrRateLimited.Error()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bookings := &mockBookings{}
			if tt.err != nil {
				bookings.On("Create", mock.Anything, mock.Anything).Return(nil, tt.err)
			}
			ts := newTestServer(t, bookings)

			resp, body := do(t, http.MethodPost, ts.URL+"/api/v1/bookings", strings.NewReader(tt.body))

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Contains(t, body, tt.wantBody)
			if tt.err == nil {
				bookings.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
			}
		})
	}
}

func wrapped(err error) error {
	return errors.Join(errors.New("freebusy: 500"), err)
}

func TestBookingByReference(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("StatusByReference", mock.Anything, "REF234567890").Return(decided(models.StatusApproved), nil)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/bookings/ref/ref234567890", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got referenceResponse
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	assert.Equal(t, models.StatusApproved, got.Status)
	assert.Equal(t, "2025-03-10", got.MeetingDate)
	assert.NotContains(t, body, "secret-token")
}

func TestListBookings(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("List", mock.Anything, models.BookingFilter{
		Status: models.StatusPending,
		From:   "2025-03-01",
		To:     "2025-03-31",
		Limit:  10,
	}).Return([]*models.BookingRequest{pendingBooking()}, nil).Once()
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/bookings?status=pending&from=2025-03-01&to=2025-03-31&limit=10", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	var got struct {
		Bookings []map[string]any `json:"bookings"`
	}
	require.NoError(t, json.Unmarshal([]byte(body), &got))
	require.Len(t, got.Bookings, 1)
	assert.Equal(t, "REF234567890", got.Bookings[0]["reference"])
	assert.NotContains(t, body, "secret-token")
	bookings.AssertExpectations(t)
}

func TestListBookings_BadQuery(t *testing.T) {
	ts := newTestServer(t, &mockBookings{})

	for _, q := range []string{"from=03/01/2025", "to=tomorrow", "limit=0", "limit=abc"} {
		resp, _ := do(t, http.MethodGet, ts.URL+"/api/v1/bookings?"+q, nil)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestListBookings_Empty(t *testing.T) {
	bookings := &mockBookings{}
	bookings.On("List", mock.Anything, mock.Anything).Return(nil, nil)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/bookings", nil)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"bookings":[]}`, body)
}

func TestExportBookings(t *testing.T) {
	failed := decided(models.StatusApproved)
	failed.Reference = "REF999999999"
	failed.CalendarError = "calendar unavailable"

	bookings := &mockBookings{}
	bookings.On("List", mock.Anything, models.BookingFilter{}).
		Return([]*models.BookingRequest{pendingBooking(), failed}, nil)
	ts := newTestServer(t, bookings)

	resp, body := do(t, http.MethodGet, ts.URL+"/api/v1/bookings/export.xlsx", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "bookings_")

	f, err := excelize.OpenReader(bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(exportSheet)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "Reference", rows[0][0])
	assert.Equal(t, "REF234567890", rows[1][0])
	assert.Equal(t, "30", rows[1][6])
	assert.Equal(t, "calendar unavailable", rows[2][11])
	// Decided timestamp shown in the booking timezone.
	assert.Equal(t, "2025-03-02 04:00", rows[2][9])
}

func TestRequestID(t *testing.T) {
	ts := newTestServer(t, &mockBookings{})

	resp, _ := do(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.NotEmpty(t, resp.Header.Get(requestIDHeader))

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/healthz", nil)
	require.NoError(t, err)
	req.Header.Set(requestIDHeader, "abc-123")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "abc-123", resp.Header.Get(requestIDHeader))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(&domain.ValidationError{}))
	assert.Equal(t, http.StatusConflict, statusFor(&domain.SlotUnavailableError{}))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(domain.ErrCalendarUnavailable))
	assert.Equal(t, http.StatusInternalServerError, statusFor(domain.ErrNotificationFailure))
	assert.Equal(t, "internal error", messageFor(errors.New("boom")))
}
