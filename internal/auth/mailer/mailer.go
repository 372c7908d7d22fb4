// Package mailer delivers transactional email (verification and password
// reset links) through a pluggable provider. Delivery is asynchronous: the
// Dispatcher queues messages and a worker sends them, so a slow or failing
// provider never fails the request that triggered the email.
package mailer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// Supported providers.
const (
	ProviderLog      = "log"
	ProviderSMTP     = "smtp"
	ProviderMailgun  = "mailgun"
	ProviderSendGrid = "sendgrid"
)

var ErrInvalidConfig = errors.New("mailer: invalid configuration")

// Message is one outbound email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers a single message synchronously.
type Sender interface {
	Name() string
	Send(ctx context.Context, to, subject, html string) error
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	From     string

	SMTPHost     string
	SMTPPort     string
	SMTPUsername string
	SMTPPassword string

	MailgunDomain string
	MailgunKey    string

	SendGridKey string
}

// NewSender builds the sender named by cfg.Provider. An empty provider
// falls back to the log sender.
func NewSender(cfg Config, logger *slog.Logger) (Sender, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", ProviderLog:
		return NewLogSender(logger), nil
	case ProviderSMTP:
		if cfg.SMTPHost == "" || cfg.SMTPPort == "" || cfg.From == "" {
			return nil, fmt.Errorf("%w: smtp requires host, port and from", ErrInvalidConfig)
		}
		return &SMTPSender{Host: cfg.SMTPHost, Port: cfg.SMTPPort, Username: cfg.SMTPUsername, Password: cfg.SMTPPassword, From: cfg.From}, nil
	case ProviderMailgun:
		if cfg.MailgunDomain == "" || cfg.MailgunKey == "" || cfg.From == "" {
			return nil, fmt.Errorf("%w: mailgun requires domain, key and from", ErrInvalidConfig)
		}
		return NewMailgunSender(cfg.MailgunDomain, cfg.MailgunKey, cfg.From), nil
	case ProviderSendGrid:
		if cfg.SendGridKey == "" || cfg.From == "" {
			return nil, fmt.Errorf("%w: sendgrid requires key and from", ErrInvalidConfig)
		}
		return NewSendGridSender(cfg.SendGridKey, cfg.From), nil
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}

// LogSender writes messages to the log instead of delivering them. Used in
// development so links can be copied from the console.
type LogSender struct {
	logger *slog.Logger
}

func NewLogSender(logger *slog.Logger) *LogSender {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSender{logger: logger}
}

func (s *LogSender) Name() string { return ProviderLog }

func (s *LogSender) Send(ctx context.Context, to, subject, html string) error {
	s.logger.InfoContext(ctx, "email (not delivered)", "to", to, "subject", subject, "body", html)
	return nil
}
