package mailer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/wneessen/go-mail"

	"github.com/brensch/zipmailer/internal/dispatch"
)

// Config holds SMTP connection settings.
type Config struct {
	Host     string
	Port     int
	SSL      bool // Implicit TLS, usually port 465
	StartTLS bool // Require STARTTLS when SSL is off
	Sender   string
	Username string // Defaults to Sender when a password is set
	Password string // Authentication only happens when set
	Timeout  time.Duration
}

// SMTP is a dispatch.Transport over one reusable go-mail client.
type SMTP struct {
	cfg    Config
	client *mail.Client
	logger *slog.Logger
}

// New validates cfg and prepares a client. No connection is made until Open.
func New(cfg Config, logger *slog.Logger) (*SMTP, error) {
	if cfg.Host == "" || cfg.Sender == "" {
		return nil, fmt.Errorf("smtp host and sender are required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Timeout > 0 {
		opts = append(opts, mail.WithTimeout(cfg.Timeout))
	}
	switch {
	case cfg.SSL:
		opts = append(opts, mail.WithSSL())
	case cfg.StartTLS:
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	default:
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	}
	if cfg.Password != "" {
		user := cfg.Username
		if user == "" {
			user = cfg.Sender
		}
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthPlain),
			mail.WithUsername(user),
			mail.WithPassword(cfg.Password))
	}

	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, fmt.Errorf("create smtp client for %s: %w", cfg.Host, err)
	}
	return &SMTP{
		cfg:    cfg,
		client: client,
		logger: logger.With(slog.String("component", "mailer"), slog.String("host", cfg.Host)),
	}, nil
}

// Open dials and authenticates.
func (s *SMTP) Open(ctx context.Context) error {
	if err := s.client.DialWithContext(ctx); err != nil {
		return fmt.Errorf("%w: dial %s:%d: %v", dispatch.ErrConnection, s.cfg.Host, s.cfg.Port, err)
	}
	s.logger.Debug("SMTP connection opened.")
	return nil
}

// Send submits one message on the open connection.
func (s *SMTP) Send(ctx context.Context, msg dispatch.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m, err := s.build(msg)
	if err != nil {
		return err
	}
	if err := s.client.Send(m); err != nil {
		if isConnectionError(err) {
			return fmt.Errorf("%w: %v", dispatch.ErrConnection, err)
		}
		return err
	}
	return nil
}

// Close ends the SMTP session.
func (s *SMTP) Close() error {
	return s.client.Close()
}

// Check connects, authenticates and disconnects, for a pre-flight before a live send.
func (s *SMTP) Check(ctx context.Context) error {
	if err := s.Open(ctx); err != nil {
		return err
	}
	return s.Close()
}

func (s *SMTP) build(msg dispatch.Message) (*mail.Msg, error) {
	m := mail.NewMsg()
	if err := m.From(s.cfg.Sender); err != nil {
		return nil, fmt.Errorf("set sender %q: %w", s.cfg.Sender, err)
	}
	if err := m.To(msg.To...); err != nil {
		return nil, fmt.Errorf("set recipients %v: %w", msg.To, err)
	}
	m.Subject(msg.Subject)
	m.SetBodyString(mail.TypeTextPlain, msg.Body)
	if msg.HTML != "" {
		m.AddAlternativeString(mail.TypeTextHTML, msg.HTML)
	}
	for _, path := range msg.Attachments {
		m.AttachFile(path)
	}
	return m, nil
}

// isConnectionError separates broken sessions from per-message rejections.
func isConnectionError(err error) bool {
	var se *mail.SendError
	if errors.As(err, &se) && se.Reason == mail.ErrConnCheck {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
