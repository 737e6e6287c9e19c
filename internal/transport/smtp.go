package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
)

// ErrNoRecipients is returned when a message has nobody to deliver to.
var ErrNoRecipients = errors.New("message has no recipients")

// Sender delivers a built message.
type Sender interface {
	Send(ctx context.Context, built *Built) error
}

// SMTPConfig describes the submission server.
type SMTPConfig struct {
	Addr     string
	Username string
	Password string
	// Security is one of "tls", "starttls" or "none".
	Security  string
	TLSConfig *tls.Config
}

// SMTPSender submits messages over SMTP with PLAIN authentication.
type SMTPSender struct {
	cfg SMTPConfig
}

var _ Sender = (*SMTPSender)(nil)

// NewSMTPSender creates an SMTPSender.
func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) dial() (*smtp.Client, error) {
	switch s.cfg.Security {
	case "none":
		return smtp.Dial(s.cfg.Addr)
	case "starttls":
		return smtp.DialStartTLS(s.cfg.Addr, s.cfg.TLSConfig)
	default:
		return smtp.DialTLS(s.cfg.Addr, s.cfg.TLSConfig)
	}
}

// Send opens a connection, authenticates when a password is configured,
// and submits built to its envelope recipients.
func (s *SMTPSender) Send(ctx context.Context, built *Built) error {
	if len(built.Envelope.Recipients) == 0 {
		return ErrNoRecipients
	}

	client, err := s.dial()
	if err != nil {
		return fmt.Errorf("connecting to SMTP %s: %w", s.cfg.Addr, err)
	}
	defer client.Close()

	if deadline, ok := ctx.Deadline(); ok {
		client.CommandTimeout = time.Until(deadline)
		client.SubmissionTimeout = time.Until(deadline)
	}

	if s.cfg.Password != "" {
		auth := sasl.NewPlainClient("", s.cfg.Username, s.cfg.Password)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication: %w", err)
		}
	}

	if err := client.SendMail(built.Envelope.From, built.Envelope.Recipients, bytes.NewReader(built.Raw)); err != nil {
		return fmt.Errorf("submitting %s: %w", built.MessageID, err)
	}
	return client.Quit()
}
