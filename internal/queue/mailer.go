package queue

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"github.com/iliyamo/guardian-auth/internal/logging"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
	Text    string
}

// Sender delivers rendered email.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// AppName appears in subjects and bodies.
const AppName = "Guardian Auth"

// ResetMessage renders the reset email for ev.
func ResetMessage(ev PasswordResetEmail) Message {
	name := ev.FirstName
	if name == "" {
		name = "there"
	}
	expires := ev.ExpiresAt.UTC().Format("2006-01-02 15:04 MST")
	text := fmt.Sprintf("Hello %s,\n\n"+
		"We received a request to reset the password for your %s account.\n"+
		"Open the link below to choose a new password:\n\n%s\n\n"+
		"This link expires at %s (1 hour after the request) and can be used once.\n"+
		"If you did not request a reset you can ignore this email.\n",
		name, AppName, ev.ResetURL, expires)
	html := fmt.Sprintf(`<!DOCTYPE html>
<html>
<body style="font-family: sans-serif; line-height: 1.6; color: #333;">
    <h2>Reset your password</h2>
    <p>Hello %s,</p>
    <p>We received a request to reset the password for your %s account.</p>
    <p><a href="%s">Reset password</a></p>
    <p>If the link does not work, paste this into your browser:<br><code>%s</code></p>
    <p><strong>This link expires at %s.</strong> If you did not request a reset you can ignore this email.</p>
</body>
</html>`, name, AppName, ev.ResetURL, ev.ResetURL, expires)
	return Message{
		To:      ev.Email,
		Subject: "Reset your password - " + AppName,
		HTML:    html,
		Text:    text,
	}
}

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Configured reports whether enough is set to send mail.
func (c SMTPConfig) Configured() bool { return c.Host != "" && c.From != "" }

// SMTPSender delivers mail over SMTP, upgrading with STARTTLS when the
// server offers it.
type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	if cfg.Port == 0 {
		cfg.Port = 587
	}
	return &SMTPSender{cfg: cfg}
}

func (s *SMTPSender) Send(ctx context.Context, m Message) error {
	addr := net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.Port))
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		_ = conn.Close()
		return fmt.Errorf("smtp handshake: %w", err)
	}
	defer client.Close()

	if ok, _ := client.Extension("STARTTLS"); ok {
		if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
	}
	if s.cfg.Username != "" {
		if err := client.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return fmt.Errorf("SMTP authentication failed: %w", err)
		}
	}
	if err := client.Mail(s.cfg.From); err != nil {
		return fmt.Errorf("failed to set sender: %w", err)
	}
	if err := client.Rcpt(m.To); err != nil {
		return fmt.Errorf("failed to set recipient: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("failed to get data writer: %w", err)
	}
	if _, err := w.Write(buildMIME(s.cfg.From, m)); err != nil {
		return fmt.Errorf("failed to write email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close data writer: %w", err)
	}
	return client.Quit()
}

const mimeBoundary = "guardian-auth-alt"

func buildMIME(from string, m Message) []byte {
	var b strings.Builder
	b.WriteString("From: " + AppName + " <" + from + ">\r\n")
	b.WriteString("To: " + m.To + "\r\n")
	b.WriteString("Subject: " + m.Subject + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: multipart/alternative; boundary=" + mimeBoundary + "\r\n\r\n")
	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(m.Text + "\r\n")
	b.WriteString("--" + mimeBoundary + "\r\n")
	b.WriteString("Content-Type: text/html; charset=UTF-8\r\n\r\n")
	b.WriteString(m.HTML + "\r\n")
	b.WriteString("--" + mimeBoundary + "--\r\n")
	return []byte(b.String())
}

// LogSender logs reset links instead of sending them, for environments
// without SMTP.
type LogSender struct {
	log logging.Logger
}

func NewLogSender(log logging.Logger) *LogSender {
	if log == nil {
		log = logging.Discard()
	}
	return &LogSender{log: log}
}

func (s *LogSender) Send(_ context.Context, m Message) error {
	s.log.Infof("mail: SMTP not configured; would send %q to %s:\n%s", m.Subject, m.To, m.Text)
	return nil
}
