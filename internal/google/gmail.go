package google

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"

	"meetbook/internal/domain"

	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/option"
	"gopkg.in/gomail.v2"
)

// GmailSender sends mail as the authorized account through the Gmail API.
type GmailSender struct {
	service *gmail.Service
	from    string
}

func NewGmailSender(ctx context.Context, from string, opts ...option.ClientOption) (*GmailSender, error) {
	srv, err := gmail.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to create Gmail service: %w", err)
	}
	return &GmailSender{service: srv, from: from}, nil
}

func (g *GmailSender) Send(ctx context.Context, msg domain.Message) error {
	m := gomail.NewMessage()
	m.SetHeader("From", g.from)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", msg.Subject)
	m.SetBody("text/html", msg.HTMLBody)

	var buf bytes.Buffer
	if _, err := m.WriteTo(&buf); err != nil {
		return fmt.Errorf("build message: %w", err)
	}

	raw := &gmail.Message{Raw: base64.URLEncoding.EncodeToString(buf.Bytes())}
	if _, err := g.service.Users.Messages.Send("me", raw).Context(ctx).Do(); err != nil {
		return fmt.Errorf("gmail send: %w", err)
	}
	return nil
}
