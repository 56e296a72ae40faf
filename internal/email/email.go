// Package email sends reviewer notifications. The core treats sending
// as fire-and-forget: a failed notification is logged, never surfaced
// to the contributor whose change was queued.
package email

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
	"time"

	"github.com/marginalia-wiki/marginalia/setup/config"
)

const smtpDefaultTimeout = 30 * time.Second

// Sender delivers a single message. Implementations must be safe for
// concurrent use.
type Sender interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// NoopSender is used when notifications are not configured.
type NoopSender struct{}

func (NoopSender) Send(context.Context, []string, string, string) error { return nil }

// SMTPSender delivers mail through the configured SMTP relay.
type SMTPSender struct {
	cfg  *config.Notifications
	from *mail.Address
}

func NewSMTPSender(cfg *config.Notifications) (*SMTPSender, error) {
	from, err := mail.ParseAddress(cfg.From)
	if err != nil {
		return nil, fmt.Errorf("invalid notification sender address: %w", err)
	}
	return &SMTPSender{cfg: cfg, from: from}, nil
}

func (s *SMTPSender) Send(ctx context.Context, to []string, subject, body string) error {
	message := s.buildMessage(to, subject, body)
	for _, rcpt := range to {
		addr, err := mail.ParseAddress(rcpt)
		if err != nil {
			return fmt.Errorf("invalid recipient %q: %w", rcpt, err)
		}
		if err := s.sendViaSMTP(ctx, addr, message); err != nil {
			return err
		}
	}
	return nil
}

func (s *SMTPSender) buildMessage(to []string, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", s.from.String())
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	fmt.Fprintf(&b, "Date: %s\r\n", time.Now().UTC().Format(time.RFC1123Z))
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n")
	b.WriteString(body)
	return b.String()
}

func (s *SMTPSender) sendViaSMTP(ctx context.Context, toAddr *mail.Address, message string) error {
	smtpCfg := &s.cfg.SMTP
	addr := fmt.Sprintf("%s:%d", smtpCfg.Host, smtpCfg.Port)
	dialer := &net.Dialer{Timeout: smtpDefaultTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to dial SMTP server: %w", err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(smtpDefaultTimeout))

	client, err := smtp.NewClient(conn, smtpCfg.Host)
	if err != nil {
		return fmt.Errorf("failed to create SMTP client: %w", err)
	}
	defer client.Quit()

	tlsActive := false
	if ok, _ := client.Extension("STARTTLS"); ok {
		tlsConfig := &tls.Config{
			ServerName:         smtpCfg.Host,
			InsecureSkipVerify: smtpCfg.SkipTLSVerify, // nolint:gosec
		}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("failed to start TLS: %w", err)
		}
		tlsActive = true
	} else if smtpCfg.RequireTLS {
		return fmt.Errorf("smtp server %s does not support STARTTLS", smtpCfg.Host)
	}

	if smtpCfg.Username != "" {
		password := smtpCfg.GetPassword()
		if password == "" {
			return fmt.Errorf("smtp password not configured")
		}
		if !tlsActive {
			return fmt.Errorf("smtp auth refused without TLS")
		}
		auth := smtp.PlainAuth("", smtpCfg.Username, password, smtpCfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("smtp auth failed: %w", err)
		}
	}

	if err := client.Mail(s.from.Address); err != nil {
		return fmt.Errorf("smtp mail failed: %w", err)
	}
	if err := client.Rcpt(toAddr.Address); err != nil {
		return fmt.Errorf("smtp rcpt failed: %w", err)
	}

	wc, err := client.Data()
	if err != nil {
		return fmt.Errorf("smtp data failed: %w", err)
	}
	if _, err := wc.Write([]byte(message)); err != nil {
		_ = wc.Close()
		return fmt.Errorf("smtp write failed: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("smtp data close failed: %w", err)
	}

	return client.Quit()
}
