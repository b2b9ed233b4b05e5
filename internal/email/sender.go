package email

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	gomail "github.com/wneessen/go-mail"
	"go.uber.org/zap"
)

// Message is a rendered email.
type Message struct {
	To      string
	Subject string
	HTML    string
}

// Sender delivers rendered messages.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// SendError wraps a delivery failure. Temporary failures are retried by the
// worker pool.
type SendError struct {
	To        string
	Err       error
	temporary bool
}

func (e *SendError) Error() string {
	return fmt.Sprintf("send email to %s: %v", e.To, e.Err)
}

func (e *SendError) Unwrap() error   { return e.Err }
func (e *SendError) Temporary() bool { return e.temporary }

var tagPattern = regexp.MustCompile(`<[^>]*>?`)

// PlainText strips markup and collapses whitespace.
func PlainText(html string) string {
	return strings.Join(strings.Fields(tagPattern.ReplaceAllString(html, " ")), " ")
}

// LogSender logs messages instead of sending them. It is used when no SMTP
// credentials are configured.
type LogSender struct {
	logger *zap.Logger
}

func NewLogSender(logger *zap.Logger) *LogSender {
	return &LogSender{logger: logger.Named("mail.mock")}
}

func (s *LogSender) Send(_ context.Context, msg Message) error {
	s.logger.Info("mock email",
		zap.String("to", msg.To),
		zap.String("subject", msg.Subject),
		zap.String("content", PlainText(msg.HTML)),
	)
	return nil
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	Timeout  time.Duration
}

// SMTPSender delivers over SMTP with go-mail. A gomail.Client holds one
// connection and is not safe for concurrent use, so every Send dials its own.
type SMTPSender struct {
	host   string
	opts   []gomail.Option
	from   string
	logger *zap.Logger
}

// NewSMTPSender validates cfg by building a client once. Authentication is
// skipped when no username is set.
func NewSMTPSender(cfg SMTPConfig, logger *zap.Logger) (*SMTPSender, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	opts := []gomail.Option{
		gomail.WithPort(cfg.Port),
		gomail.WithTLSPolicy(gomail.TLSOpportunistic),
		gomail.WithTimeout(cfg.Timeout),
	}
	if cfg.Username != "" {
		opts = append(opts,
			gomail.WithSMTPAuth(gomail.SMTPAuthPlain),
			gomail.WithUsername(cfg.Username),
			gomail.WithPassword(cfg.Password),
		)
	}
	if _, err := gomail.NewClient(cfg.Host, opts...); err != nil {
		return nil, fmt.Errorf("init smtp client: %w", err)
	}
	return &SMTPSender{host: cfg.Host, opts: opts, from: cfg.From, logger: logger.Named("mail.smtp")}, nil
}

func (s *SMTPSender) Send(ctx context.Context, msg Message) error {
	m := gomail.NewMsg()
	if err := m.From(s.from); err != nil {
		return &SendError{To: msg.To, Err: fmt.Errorf("from address: %w", err)}
	}
	if err := m.To(msg.To); err != nil {
		return &SendError{To: msg.To, Err: fmt.Errorf("recipient address: %w", err)}
	}
	m.Subject(msg.Subject)
	m.SetBodyString(gomail.TypeTextHTML, msg.HTML)
	m.AddAlternativeString(gomail.TypeTextPlain, PlainText(msg.HTML))

	client, err := gomail.NewClient(s.host, s.opts...)
	if err != nil {
		return &SendError{To: msg.To, Err: fmt.Errorf("init smtp client: %w", err)}
	}
	if err := client.DialAndSendWithContext(ctx, m); err != nil {
		return &SendError{To: msg.To, Err: err, temporary: !errors.Is(err, context.Canceled)}
	}
	s.logger.Debug("email sent", zap.String("to", msg.To), zap.String("subject", msg.Subject))
	return nil
}
