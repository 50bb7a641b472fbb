package notify

import (
	"context"
	"fmt"

	"meetbook/internal/domain"

	"gopkg.in/gomail.v2"
)

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// SMTPSender delivers mail through a plain SMTP relay.
type SMTPSender struct {
	dialer mailDialer
	from   string
}

func NewSMTPSender(host string, port int, username, password string, ssl bool, from string) *SMTPSender {
	dialer := gomail.NewDialer(host, port, username, password)
	dialer.SSL = ssl
	return &SMTPSender{dialer: dialer, from: from}
}

func (s *SMTPSender) Send(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	// gomail has no context support; the dial itself is bounded by the relay's timeouts.
	done := make(chan error, 1)
	go func() { done <- s.dialer.DialAndSend(m) }()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("smtp send: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
