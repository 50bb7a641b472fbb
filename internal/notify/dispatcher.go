package notify

import (
	"context"
	"errors"
	"fmt"

	"meetbook/internal/domain"
	"meetbook/internal/models"

	"github.com/rs/zerolog"
)

// Config holds the sender-side details shared by every message.
type Config struct {
	OwnerEmail string
	OwnerName  string
	Timezone   string
}

// Dispatcher renders booking emails and hands them to a MailSender.
// Operator alerts additionally go to the alerter when one is set.
type Dispatcher struct {
	mail    domain.MailSender
	alerter domain.OperatorAlerter
	config  Config
	logger  *zerolog.Logger
}

func NewDispatcher(mail domain.MailSender, alerter domain.OperatorAlerter, cfg Config, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{mail: mail, alerter: alerter, config: cfg, logger: logger}
}

func (d *Dispatcher) SendApprovalRequest(ctx context.Context, booking *models.BookingRequest, approveURL, declineURL string) error {
	body, err := render("approval_request", mailData{
		Booking:       booking,
		ShowRequester: true,
		Timezone:      d.config.Timezone,
		ApproveURL:    approveURL,
		DeclineURL:    declineURL,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailure, err)
	}

	subject := fmt.Sprintf("Meeting Request from %s - %s at %s", booking.RequesterName, booking.MeetingDate, booking.MeetingTime)
	return d.send(ctx, "approval_request", booking, domain.Message{To: d.config.OwnerEmail, Subject: subject, HTMLBody: body})
}

func (d *Dispatcher) SendConfirmation(ctx context.Context, booking *models.BookingRequest) error {
	body, err := render("confirmation", d.requesterData(booking))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailure, err)
	}

	subject := fmt.Sprintf("Meeting Confirmed - %s at %s", booking.MeetingDate, booking.MeetingTime)
	return d.send(ctx, "confirmation", booking, domain.Message{To: booking.RequesterEmail, Subject: subject, HTMLBody: body})
}

func (d *Dispatcher) SendDeclineNotice(ctx context.Context, booking *models.BookingRequest) error {
	body, err := render("decline_notice", d.requesterData(booking))
	if err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotificationFailure, err)
	}

	subject := fmt.Sprintf("Meeting Request Declined - %s at %s", booking.MeetingDate, booking.MeetingTime)
	return d.send(ctx, "decline_notice", booking, domain.Message{To: booking.RequesterEmail, Subject: subject, HTMLBody: body})
}

// AlertOperator emails the owner and, if configured, pings the alert channel.
// Both are attempted; the combined failure is returned.
func (d *Dispatcher) AlertOperator(ctx context.Context, subject, text string) error {
	var errs []error

	body, err := render("operator_alert", mailData{Subject: subject, Text: text})
	if err != nil {
		errs = append(errs, err)
	} else if err := d.mail.Send(ctx, domain.Message{To: d.config.OwnerEmail, Subject: subject, HTMLBody: body}); err != nil {
		errs = append(errs, fmt.Errorf("email: %w", err))
	}

	if d.alerter != nil {
		if err := d.alerter.Alert(ctx, subject+"\n\n"+text); err != nil {
			errs = append(errs, fmt.Errorf("telegram: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: operator alert: %w", domain.ErrNotificationFailure, errors.Join(errs...))
	}
	return nil
}

func (d *Dispatcher) requesterData(booking *models.BookingRequest) mailData {
	return mailData{
		Booking:   booking,
		Timezone:  d.config.Timezone,
		OwnerName: d.config.OwnerName,
	}
}

func (d *Dispatcher) send(ctx context.Context, kind string, booking *models.BookingRequest, msg domain.Message) error {
	if msg.To == "" {
		return fmt.Errorf("%w: %s has no recipient", domain.ErrNotificationFailure, kind)
	}
	if err := d.mail.Send(ctx, msg); err != nil {
		return fmt.Errorf("%w: %s: %w", domain.ErrNotificationFailure, kind, err)
	}
	d.logger.Debug().Str("kind", kind).Str("reference", booking.Reference).Msg("notification sent")
	return nil
}
