package notify

import (
	"context"
	"errors"
	"testing"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type MockMailSender struct {
	mock.Mock
}

func (m *MockMailSender) Send(ctx context.Context, msg domain.Message) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type MockAlerter struct {
	mock.Mock
}

func (m *MockAlerter) Alert(ctx context.Context, text string) error {
	args := m.Called(ctx, text)
	return args.Error(0)
}

func newTestDispatcher(mail domain.MailSender, alerter domain.OperatorAlerter) *Dispatcher {
	logger := zerolog.Nop()
	return NewDispatcher(mail, alerter, Config{
		OwnerEmail: "owner@example.com",
		OwnerName:  "Anthony",
		Timezone:   "America/New_York",
	}, &logger)
}

func testBooking() *models.BookingRequest {
	return &models.BookingRequest{
		ApprovalToken:   "secret-token",
		Reference:       "REF123",
		RequesterName:   "J. Doe",
		RequesterEmail:  "j@x.com",
		MeetingDate:     "2025-03-10",
		MeetingTime:     "14:00",
		DurationMinutes: 30,
		Purpose:         "intro <b>",
	}
}

func TestDispatcher_SendApprovalRequest(t *testing.T) {
	mail := new(MockMailSender)
	d := newTestDispatcher(mail, nil)

	var sent domain.Message
	mail.On("Send", mock.Anything, mock.AnythingOfType("domain.Message")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(domain.Message) }).
		Return(nil)

	err := d.SendApprovalRequest(context.Background(), testBooking(),
		"https://book.example.com/approve-booking/secret-token",
		"https://book.example.com/decline-booking/secret-token")
	require.NoError(t, err)

	assert.Equal(t, "owner@example.com", sent.To)
	assert.Equal(t, "Meeting Request from J. Doe - 2025-03-10 at 14:00", sent.Subject)
	assert.Contains(t, sent.HTMLBody, "https://book.example.com/approve-booking/secret-token")
	assert.Contains(t, sent.HTMLBody, "https://book.example.com/decline-booking/secret-token")
	assert.Contains(t, sent.HTMLBody, "j@x.com")
	assert.Contains(t, sent.HTMLBody, "30 minutes")
	assert.Contains(t, sent.HTMLBody, "intro &lt;b&gt;")
	mail.AssertExpectations(t)
}

func TestDispatcher_SendConfirmation(t *testing.T) {
	mail := new(MockMailSender)
	d := newTestDispatcher(mail, nil)

	var sent domain.Message
	mail.On("Send", mock.Anything, mock.AnythingOfType("domain.Message")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(domain.Message) }).
		Return(nil)

	require.NoError(t, d.SendConfirmation(context.Background(), testBooking()))

	assert.Equal(t, "j@x.com", sent.To)
	assert.Equal(t, "Meeting Confirmed - 2025-03-10 at 14:00", sent.Subject)
	assert.Contains(t, sent.HTMLBody, "Anthony")
	assert.Contains(t, sent.HTMLBody, "America/New_York")
	assert.NotContains(t, sent.HTMLBody, "secret-token")
}

func TestDispatcher_SendDeclineNotice(t *testing.T) {
	mail := new(MockMailSender)
	d := newTestDispatcher(mail, nil)

	var sent domain.Message
	mail.On("Send", mock.Anything, mock.AnythingOfType("domain.Message")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(domain.Message) }).
		Return(nil)

	require.NoError(t, d.SendDeclineNotice(context.Background(), testBooking()))
	assert.Equal(t, "j@x.com", sent.To)
	assert.Contains(t, sent.Subject, "Declined")
	assert.NotContains(t, sent.HTMLBody, "secret-token")
}

func TestDispatcher_SendFailure(t *testing.T) {
	mail := new(MockMailSender)
	d := newTestDispatcher(mail, nil)
	mail.On("Send", mock.Anything, mock.Anything).Return(errors.New("quota exceeded"))

	err := d.SendConfirmation(context.Background(), testBooking())
	assert.ErrorIs(t, err, domain.ErrNotificationFailure)
	assert.Contains(t, err.Error(), "quota exceeded")
}

func TestDispatcher_NoRecipient(t *testing.T) {
	mail := new(MockMailSender)
	d := newTestDispatcher(mail, nil)
	b := testBooking()
	b.RequesterEmail = ""

	err := d.SendConfirmation(context.Background(), b)
	assert.ErrorIs(t, err, domain.ErrNotificationFailure)
	mail.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestDispatcher_AlertOperator(t *testing.T) {
	t.Run("email and telegram", func(t *testing.T) {
		mail := new(MockMailSender)
		alerter := new(MockAlerter)
		d := newTestDispatcher(mail, alerter)

		mail.On("Send", mock.Anything, mock.MatchedBy(func(m domain.Message) bool {
			return m.To == "owner@example.com" && m.Subject == "Calendar event failed"
		})).Return(nil)
		alerter.On("Alert", mock.Anything, "Calendar event failed\n\nbooking REF123").Return(nil)

		require.NoError(t, d.AlertOperator(context.Background(), "Calendar event failed", "booking REF123"))
		mail.AssertExpectations(t)
		alerter.AssertExpectations(t)
	})

	t.Run("telegram still attempted when email fails", func(t *testing.T) {
		mail := new(MockMailSender)
		alerter := new(MockAlerter)
		d := newTestDispatcher(mail, alerter)

		mail.On("Send", mock.Anything, mock.Anything).Return(errors.New("smtp down"))
		alerter.On("Alert", mock.Anything, mock.Anything).Return(nil)

		err := d.AlertOperator(context.Background(), "s", "t")
		assert.ErrorIs(t, err, domain.ErrNotificationFailure)
		alerter.AssertExpectations(t)
	})
}
