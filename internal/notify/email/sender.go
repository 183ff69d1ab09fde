// Package email delivers notification emails over SMTP and can keep a
// copy of each delivered message in an IMAP mailbox.
package email

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"github.com/emersion/go-message/mail"
	"go.uber.org/zap"
)

// Config holds the SMTP server settings.
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	// From defaults to Username when empty.
	From string
	// TLS selects implicit TLS; otherwise STARTTLS is used.
	TLS bool
}

func (c Config) from() string {
	if c.From != "" {
		return c.From
	}
	return c.Username
}

// Sender sends HTML emails through an authenticated SMTP server.
type Sender struct {
	cfg      Config
	archiver *Archiver
	logger   *zap.Logger
}

// SenderOption configures a Sender.
type SenderOption func(*Sender)

// WithArchiver keeps a copy of every delivered message. Archive failures
// are logged and do not fail the delivery.
func WithArchiver(a *Archiver) SenderOption {
	return func(s *Sender) { s.archiver = a }
}

// WithLogger sets the sender's logger.
func WithLogger(l *zap.Logger) SenderOption {
	return func(s *Sender) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewSender creates a Sender.
func NewSender(cfg Config, opts ...SenderOption) *Sender {
	s := &Sender{cfg: cfg, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Send composes and delivers one message. The context deadline bounds the
// whole SMTP conversation.
func (s *Sender) Send(ctx context.Context, to, subject, htmlBody string) error {
	msg, err := BuildMessage(s.cfg.from(), to, subject, htmlBody, time.Now())
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(s.cfg.Host, s.cfg.Port)
	if s.cfg.TLS {
		err = s.sendWithTLS(ctx, addr, to, msg)
	} else {
		err = s.sendWithStartTLS(ctx, addr, to, msg)
	}
	if err != nil {
		return err
	}

	if s.archiver != nil {
		if err := s.archiver.Append(ctx, msg); err != nil {
			s.logger.Warn("archiving sent email failed",
				zap.String("to", to), zap.Error(err))
		}
	}
	return nil
}

// BuildMessage renders an RFC 5322 message with a single HTML part.
func BuildMessage(from, to, subject, htmlBody string, date time.Time) ([]byte, error) {
	var h mail.Header
	h.SetDate(date)
	h.SetAddressList("From", []*mail.Address{{Address: from}})
	h.SetAddressList("To", []*mail.Address{{Address: to}})
	h.SetSubject(subject)
	h.SetContentType("text/html", map[string]string{"charset": "utf-8"})
	if err := h.GenerateMessageID(); err != nil {
		return nil, fmt.Errorf("generating message id: %w", err)
	}

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return nil, fmt.Errorf("creating message writer: %w", err)
	}
	if _, err := w.Write([]byte(htmlBody)); err != nil {
		return nil, fmt.Errorf("writing email body: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing email body: %w", err)
	}
	return buf.Bytes(), nil
}

// sendWithTLS sends an email over an implicit TLS connection.
func (s *Sender) sendWithTLS(ctx context.Context, addr, to string, msg []byte) error {
	dialer := &tls.Dialer{Config: &tls.Config{ServerName: s.cfg.Host}}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("TLS dial to %s: %w", addr, err)
	}
	applyDeadline(ctx, conn)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := s.auth(client); err != nil {
		return err
	}
	return sendViaClient(client, s.cfg.from(), to, msg)
}

// sendWithStartTLS sends an email using STARTTLS.
func (s *Sender) sendWithStartTLS(ctx context.Context, addr, to string, msg []byte) error {
	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dial to %s: %w", addr, err)
	}
	applyDeadline(ctx, conn)

	client, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		conn.Close()
		return fmt.Errorf("creating SMTP client: %w", err)
	}
	defer client.Close()

	if err := client.StartTLS(&tls.Config{ServerName: s.cfg.Host}); err != nil {
		return fmt.Errorf("SMTP STARTTLS: %w", err)
	}
	if err := s.auth(client); err != nil {
		return err
	}
	return sendViaClient(client, s.cfg.from(), to, msg)
}

func (s *Sender) auth(client *smtp.Client) error {
	if s.cfg.Username == "" {
		return nil
	}
	auth := smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)
	if err := client.Auth(auth); err != nil {
		return fmt.Errorf("SMTP auth: %w", err)
	}
	return nil
}

// sendViaClient sends a message using an already-authenticated client.
func sendViaClient(client *smtp.Client, from, to string, msg []byte) error {
	if err := client.Mail(from); err != nil {
		return fmt.Errorf("SMTP MAIL FROM: %w", err)
	}
	if err := client.Rcpt(to); err != nil {
		return fmt.Errorf("SMTP RCPT TO: %w", err)
	}

	writer, err := client.Data()
	if err != nil {
		return fmt.Errorf("SMTP DATA: %w", err)
	}
	if _, err := writer.Write(msg); err != nil {
		return fmt.Errorf("writing email body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing email body: %w", err)
	}

	return client.Quit()
}

func applyDeadline(ctx context.Context, conn net.Conn) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
}
