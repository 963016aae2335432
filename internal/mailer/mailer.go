// Package mailer delivers templated transactional mail over SMTP.
// Callers treat delivery as best effort: a returned error means the
// message was not handed to the relay.
package mailer

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strings"
)

// Config is the SMTP relay configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// sendFunc matches smtp.SendMail; swapped in tests.
type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Mailer renders named templates and hands them to the SMTP relay.
type Mailer struct {
	logger *slog.Logger
	cfg    Config
	send   sendFunc
}

// New builds the mailer.
func New(logger *slog.Logger, cfg Config) *Mailer {
	return &Mailer{logger: logger, cfg: cfg, send: smtp.SendMail}
}

// DeliverTemplate renders the named template with data and sends it to
// every recipient in one message.
func (m *Mailer) DeliverTemplate(ctx context.Context, template string, data map[string]any, to []string) error {
	if len(to) == 0 {
		return fmt.Errorf("mailer: no recipients for template %q", template)
	}
	subject, body, err := render(template, data)
	if err != nil {
		return err
	}

	msg := buildMessage(m.cfg.From, to, subject, body)
	addr := net.JoinHostPort(m.cfg.Host, fmt.Sprintf("%d", m.cfg.Port))

	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
	}
	if err := m.send(addr, auth, m.cfg.From, to, msg); err != nil {
		return fmt.Errorf("mailer: send %q: %w", template, err)
	}
	m.logger.Debug("mail delivered",
		slog.String("template", template), slog.Int("recipients", len(to)))
	return nil
}

func buildMessage(from string, to []string, subject, body string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
