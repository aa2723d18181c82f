package notification

import (
	"context"

	"gopkg.in/gomail.v2"
)

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

// NewSMTPSender creates an SMTP-backed EmailSender.
func NewSMTPSender(host string, port int, username, password, from string) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(host, port, username, password),
		from:   from,
	}
}

// SendEmail sends a plain-text email. gomail has no context support; the
// ctx parameter satisfies EmailSender and is checked before dialing.
func (s *SMTPSender) SendEmail(ctx context.Context, to, subject, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", to)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	return s.dialer.DialAndSend(m)
}
