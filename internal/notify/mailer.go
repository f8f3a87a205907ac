// Package notify delivers transactional email through an SMTP relay.
package notify

import (
	"context"
	"fmt"

	"github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Mailer sends a rendered message.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// SMTPConfig describes the relay.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPMailer sends through an SMTP relay. Port 465 uses implicit TLS, any
// other port upgrades with STARTTLS when the server offers it.
type SMTPMailer struct {
	client *mail.Client
	from   string
}

// NewSMTPMailer builds a client for the relay; no connection is made until
// the first Send.
func NewSMTPMailer(cfg SMTPConfig) (*SMTPMailer, error) {
	opts := []mail.Option{
		mail.WithPort(cfg.Port),
		mail.WithTLSPolicy(mail.TLSOpportunistic),
	}
	if cfg.Port == 465 {
		opts = append(opts, mail.WithSSL())
	}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create smtp client: %w", err)
	}
	return &SMTPMailer{client: client, from: cfg.From}, nil
}

// Send delivers msg in its own SMTP session.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	email := mail.NewMsg()
	if err := email.From(m.from); err != nil {
		return fmt.Errorf("invalid sender %q: %w", m.from, err)
	}
	if err := email.To(msg.To); err != nil {
		return fmt.Errorf("invalid recipient %q: %w", msg.To, err)
	}
	email.Subject(msg.Subject)
	email.SetBodyString(mail.TypeTextHTML, msg.HTML)

	if err := m.client.DialAndSendWithContext(ctx, email); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// LogMailer writes messages to the log instead of sending them. Used when no
// relay is configured.
type LogMailer struct {
	logger *zap.Logger
}

func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{logger: logger}
}

func (m *LogMailer) Send(_ context.Context, msg Message) error {
	m.logger.Info("email not sent, no SMTP relay configured",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
	)
	return nil
}
