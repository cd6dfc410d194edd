package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"mime"
	"net"
	"net/smtp"
	"strings"
	"time"

	"placement-mailer/internal/common/errors"
	"placement-mailer/internal/common/logger"
)

const ProviderSMTP = "smtp"

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	UseTLS   bool
}

// sendFunc matches smtp.SendMail.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

type SMTPTransport struct {
	config SMTPConfig
	logger logger.Logger
	send   sendFunc
}

func NewSMTPTransport(cfg SMTPConfig, log logger.Logger) *SMTPTransport {
	t := &SMTPTransport{
		config: cfg,
		logger: log.WithFields(map[string]interface{}{"provider": ProviderSMTP}),
	}
	t.send = smtp.SendMail
	if cfg.UseTLS {
		t.send = t.sendWithTLS
	}
	return t
}

func (t *SMTPTransport) Provider() string { return ProviderSMTP }

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (*SendResult, error) {
	if err := msg.validate(); err != nil {
		return nil, errors.NewTransportError(ProviderSMTP, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.NewTransportError(ProviderSMTP, fmt.Errorf("context cancelled before sending email: %w", err))
	}

	messageID := t.messageID(msg)
	addr := fmt.Sprintf("%s:%d", t.config.Host, t.config.Port)

	var auth smtp.Auth
	if t.config.Username != "" && t.config.Password != "" {
		auth = smtp.PlainAuth("", t.config.Username, t.config.Password, t.config.Host)
	}

	// net/smtp has no context support; run the exchange aside and stop
	// waiting once ctx is done.
	done := make(chan error, 1)
	go func() {
		done <- t.send(addr, auth, msg.From, msg.Recipients(), buildMessage(msg, messageID))
	}()

	select {
	case err := <-done:
		if err != nil {
			return nil, errors.NewTransportError(ProviderSMTP, err)
		}
	case <-ctx.Done():
		return nil, errors.NewTransportError(ProviderSMTP, ctx.Err())
	}

	return &SendResult{
		MessageID: messageID,
		Provider:  ProviderSMTP,
		SentAt:    time.Now().UTC(),
	}, nil
}

// buildMessage renders the RFC 5322 message. Bcc is never written as a
// header.
func buildMessage(msg Message, messageID string) []byte {
	var b strings.Builder

	b.WriteString(fmt.Sprintf("From: %s\r\n", msg.From))
	if len(msg.To) > 0 {
		b.WriteString(fmt.Sprintf("To: %s\r\n", strings.Join(msg.To, ", ")))
	}
	if len(msg.Cc) > 0 {
		b.WriteString(fmt.Sprintf("Cc: %s\r\n", strings.Join(msg.Cc, ", ")))
	}
	subject := strings.NewReplacer("\r", " ", "\n", " ").Replace(msg.Subject)
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject)))
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.HTML)

	return []byte(b.String())
}

func (t *SMTPTransport) sendWithTLS(addr string, auth smtp.Auth, from string, to []string, msg []byte) error {
	client, err := smtp.Dial(addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer client.Close()

	if err = client.StartTLS(&tls.Config{ServerName: t.config.Host}); err != nil {
		return fmt.Errorf("failed to start TLS: %w", err)
	}

	if auth != nil {
		if err = client.Auth(auth); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}

	if err = client.Mail(from); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	for _, rcpt := range to {
		if err = client.Rcpt(rcpt); err != nil {
			return fmt.Errorf("failed to set recipient %s: %w", rcpt, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to open data writer: %w", err)
	}
	if _, err = w.Write(msg); err != nil {
		return fmt.Errorf("failed to write message: %w", err)
	}
	if err = w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}

	return client.Quit()
}

func (t *SMTPTransport) messageID(msg Message) string {
	local := "notice"
	if rcpts := msg.Recipients(); len(rcpts) > 0 {
		local = sanitizeLocalPart(rcpts[0])
	}
	return fmt.Sprintf("<%d.%s@%s>", time.Now().UnixNano(), local, t.config.Host)
}

func sanitizeLocalPart(email string) string {
	parts := strings.Split(email, "@")
	local := strings.Map(func(r rune) rune {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			return r
		}
		return -1
	}, parts[0])
	if len(local) > 10 {
		local = local[:10]
	}
	if local == "" {
		return "user"
	}
	return local
}

// TestConnection dials the server and optionally negotiates TLS.
func (t *SMTPTransport) TestConnection(ctx context.Context) error {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", t.config.Host, t.config.Port))
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	client, err := smtp.NewClient(conn, t.config.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to start SMTP session: %w", err)
	}
	defer client.Close()

	if t.config.UseTLS {
		if err = client.StartTLS(&tls.Config{ServerName: t.config.Host}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	return client.Quit()
}
