package notify

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/smtp"
	"strconv"
	"strings"
	"time"

	"bruteguard/internal/config"
	"bruteguard/internal/logging"
)

// SMTPNotifier mails alerts to the configured recipients. Without
// credentials or recipients every Send is a logged no-op.
type SMTPNotifier struct {
	cfg    config.NotifierConfig
	logger *slog.Logger
	now    func() time.Time
}

func NewSMTPNotifier(cfg config.NotifierConfig, logger *slog.Logger) *SMTPNotifier {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.From == "" {
		cfg.From = cfg.Username
	}
	return &SMTPNotifier{cfg: cfg, logger: logging.OrDiscard(logger), now: time.Now}
}

func (n *SMTPNotifier) Send(ctx context.Context, subject, body string) error {
	if !n.cfg.Configured() {
		n.logger.Info("smtp not configured, skipping alert", "subject", subject)
		return nil
	}
	msg := n.buildMessage(subject, body)
	if err := n.sendSMTP(ctx, msg); err != nil {
		return err
	}
	n.logger.Info("alert mailed", "subject", subject, "recipients", len(n.cfg.To))
	return nil
}

func (n *SMTPNotifier) buildMessage(subject, body string) string {
	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", n.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(n.cfg.To, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", n.now().UTC().Format(time.RFC1123Z))
	msg.WriteString("MIME-Version: 1.0\r\n")
	msg.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	msg.WriteString("\r\n")
	msg.WriteString(body)
	msg.WriteString("\r\n")
	return msg.String()
}

func (n *SMTPNotifier) sendSMTP(ctx context.Context, msg string) error {
	addr := net.JoinHostPort(n.cfg.SMTPHost, strconv.Itoa(n.cfg.SMTPPort))
	ctx, cancel := context.WithTimeout(ctx, n.cfg.Timeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: n.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("connect to smtp server: %w", err)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	client, err := smtp.NewClient(conn, n.cfg.SMTPHost)
	if err != nil {
		return fmt.Errorf("create smtp client: %w", err)
	}
	defer func() { _ = client.Close() }()

	if n.cfg.UseTLS {
		tlsConfig := &tls.Config{ServerName: n.cfg.SMTPHost, MinVersion: tls.VersionTLS12}
		if err := client.StartTLS(tlsConfig); err != nil {
			return fmt.Errorf("start tls: %w", err)
		}
	}
	auth := smtp.PlainAuth("", n.cfg.Username, n.cfg.Password, n.cfg.SMTPHost)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("smtp auth: %w", err)
	}
	if err := client.Mail(n.cfg.From); err != nil {
		return fmt.Errorf("set sender: %w", err)
	}
	for _, to := range n.cfg.To {
		if err := client.Rcpt(to); err != nil {
			return fmt.Errorf("set recipient %s: %w", to, err)
		}
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("start message: %w", err)
	}
	if _, err := w.Write([]byte(msg)); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	// the message is accepted once DATA closes
	_ = client.Quit()
	return nil
}
