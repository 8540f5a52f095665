// Package email provides email notification sending via SMTP.
package email

import (
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"

	"github.com/jaytaylor/html2text"
	"golang.org/x/sync/errgroup"
	"gopkg.in/gomail.v2"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

const defaultConcurrency = 5

// Config holds email sender configuration.
type Config struct {
	Enabled      bool
	SMTPHost     string
	SMTPPort     int
	SMTPUser     string
	SMTPPassword string
	FromAddress  string
	Concurrency  int
	// Insecure skips TLS verification; only for local relays such as Mailpit.
	Insecure bool
}

// Transport delivers prepared messages. *gomail.Dialer satisfies it.
type Transport interface {
	DialAndSend(m ...*gomail.Message) error
}

// Sender implements email notification sender via SMTP.
type Sender struct {
	config    Config
	transport Transport
}

// NewSender creates a new email sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.SMTPHost == "" {
			return nil, errors.New("email sender: SMTP host is required when enabled")
		}
		if config.FromAddress == "" {
			return nil, errors.New("email sender: from address is required when enabled")
		}
	}

	// Set defaults
	if config.SMTPPort == 0 {
		config.SMTPPort = 587
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	dialer := gomail.NewDialer(config.SMTPHost, config.SMTPPort, config.SMTPUser, config.SMTPPassword)
	dialer.TLSConfig = &tls.Config{
		ServerName:         config.SMTPHost,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: config.Insecure,
	}

	slog.Info("email sender configured",
		"enabled", config.Enabled,
		"smtp_host", config.SMTPHost,
		"smtp_port", config.SMTPPort,
		"from_address", config.FromAddress,
		"concurrency", config.Concurrency,
	)

	return &Sender{
		config:    config,
		transport: dialer,
	}, nil
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelEmail
}

// Send sends one message per recipient concurrently and waits for all of them.
func (s *Sender) Send(ctx context.Context, recipients []string, msg notifications.Message) notifications.SendResult {
	subject := ""
	if c, ok := msg.Content.(domain.EmailContent); ok {
		subject = c.Subject
	}
	body := msg.Content.Text()

	results := make([]domain.RecipientResult, len(recipients))

	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)

	for i, rcpt := range recipients {
		g.Go(func() error {
			results[i] = s.sendOne(ctx, rcpt, subject, body)
			return nil
		})
	}
	_ = g.Wait()

	out := notifications.SendResult{Provider: "smtp"}
	for _, res := range results {
		out.Add(res)
	}

	if out.Failed > 0 {
		slog.Warn("email messages failed",
			"delivery_id", msg.DeliveryID,
			"failed", out.Failed,
			"delivered", out.Delivered,
		)
	}

	return out
}

func (s *Sender) sendOne(ctx context.Context, rcpt, subject, body string) domain.RecipientResult {
	res := domain.RecipientResult{Recipient: rcpt, Status: domain.RecipientStatusError}

	if err := ctx.Err(); err != nil {
		res.Error = err.Error()
		return res
	}

	if err := s.transport.DialAndSend(s.buildMessage(rcpt, subject, body)); err != nil {
		notifications.RecordProviderError(string(domain.ChannelEmail))
		res.Error = err.Error()
		return res
	}

	res.Status = domain.RecipientStatusOK
	return res
}

// buildMessage constructs the email message with headers.
func (s *Sender) buildMessage(rcpt, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.FromAddress)
	m.SetHeader("To", rcpt)
	m.SetHeader("Subject", subject)
	if !looksLikeHTML(body) {
		m.SetBody("text/plain", body)
		return m
	}

	// plain-text alternative for clients that do not render HTML
	text, err := html2text.FromString(body, html2text.Options{OmitLinks: false})
	if err != nil || strings.TrimSpace(text) == "" {
		m.SetBody("text/html", body)
		return m
	}
	m.SetBody("text/plain", text)
	m.AddAlternative("text/html", body)
	return m
}

func looksLikeHTML(body string) bool {
	trimmed := strings.TrimSpace(body)
	return strings.HasPrefix(trimmed, "<") && strings.HasSuffix(trimmed, ">")
}
