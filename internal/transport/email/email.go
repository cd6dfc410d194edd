// Package email sends rendered notification emails through SES or SMTP.
package email

import (
	"context"
	"fmt"
	"strings"
	"time"

	commonaws "placement-mailer/internal/common/aws"
	"placement-mailer/internal/common/config"
	"placement-mailer/internal/common/logger"
)

// Message is one outbound email. Recipients of a notification always sit in
// Bcc so they never see each other.
type Message struct {
	From    string
	To      []string
	Cc      []string
	Bcc     []string
	Subject string
	HTML    string
}

type SendResult struct {
	MessageID string
	Provider  string
	SentAt    time.Time
}

// Transport delivers a single message. Implementations must be safe for
// concurrent use.
type Transport interface {
	Send(ctx context.Context, msg Message) (*SendResult, error)
	Provider() string
}

// Recipients returns every envelope address of msg.
func (m Message) Recipients() []string {
	all := make([]string, 0, len(m.To)+len(m.Cc)+len(m.Bcc))
	all = append(all, m.To...)
	all = append(all, m.Cc...)
	all = append(all, m.Bcc...)
	return all
}

func (m Message) validate() error {
	if !isValidEmail(m.From) {
		return fmt.Errorf("invalid 'from' email address: %s", m.From)
	}
	if len(m.Recipients()) == 0 {
		return fmt.Errorf("message has no recipients")
	}
	for _, addr := range m.Recipients() {
		if !isValidEmail(addr) {
			return fmt.Errorf("invalid recipient email address: %s", addr)
		}
	}
	return nil
}

func isValidEmail(email string) bool {
	email = strings.TrimSpace(email)
	parts := strings.Split(email, "@")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return false
	}
	return strings.Contains(parts[1], ".")
}

// NewFromConfig builds the transport selected by cfg.Transport.Provider.
func NewFromConfig(ctx context.Context, cfg *config.Config, log logger.Logger) (Transport, error) {
	switch cfg.Transport.Provider {
	case ProviderSES:
		client, err := commonaws.NewSESClient(ctx, cfg.Integrations.AWS.Region)
		if err != nil {
			return nil, fmt.Errorf("failed to load aws config: %w", err)
		}
		return NewSESTransport(client, log), nil
	case ProviderSMTP:
		smtpCfg := cfg.Integrations.SMTP
		return NewSMTPTransport(SMTPConfig{
			Host:     smtpCfg.Host,
			Port:     smtpCfg.Port,
			Username: smtpCfg.Username,
			Password: smtpCfg.Password,
			UseTLS:   smtpCfg.UseTLS,
		}, log), nil
	}
	return nil, fmt.Errorf("unknown email provider %q", cfg.Transport.Provider)
}

// FromAddress returns the sender configured for the selected provider.
func FromAddress(cfg *config.Config) string {
	if cfg.Transport.Provider == ProviderSMTP {
		return cfg.Integrations.SMTP.DefaultFrom
	}
	return cfg.Integrations.AWS.SES.FromEmail
}
