package auth

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
)

// Mail is a plain-text message.
type Mail struct {
	To      string
	Subject string
	Body    string
}

// Mailer delivers verification and recovery links.
type Mailer interface {
	Send(ctx context.Context, m Mail) error
}

// LogMailer writes mails to the log instead of sending them.
type LogMailer struct {
	Logger *slog.Logger
}

func (l LogMailer) Send(ctx context.Context, m Mail) error {
	l.Logger.InfoContext(ctx, "mail dispatched",
		slog.String("to", m.To),
		slog.String("subject", m.Subject),
		slog.String("body", m.Body),
	)
	return nil
}

// SMTPMailer sends through an SMTP relay with PLAIN auth.
type SMTPMailer struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

func (s SMTPMailer) Send(_ context.Context, m Mail) error {
	addr := net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
	var a smtp.Auth
	if s.Username != "" {
		a = smtp.PlainAuth("", s.Username, s.Password, s.Host)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.From)
	fmt.Fprintf(&b, "To: %s\r\n", m.To)
	fmt.Fprintf(&b, "Subject: %s\r\n", m.Subject)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(m.Body)

	if err := smtp.SendMail(addr, a, s.From, []string{m.To}, []byte(b.String())); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

func verificationMail(to, link string) Mail {
	return Mail{
		To:      to,
		Subject: "Verify your email address",
		Body:    "Open the link below to verify your email address and finish signing up.\n\n" + link + "\n",
	}
}

func passwordResetMail(to, link string) Mail {
	return Mail{
		To:      to,
		Subject: "Reset your password",
		Body:    "Open the link below to choose a new password. Ignore this mail if you did not ask for it.\n\n" + link + "\n",
	}
}
