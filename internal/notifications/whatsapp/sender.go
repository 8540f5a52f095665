// Package whatsapp provides WhatsApp message sending through the Twilio API.
package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

const (
	addressPrefix      = "whatsapp:"
	defaultRateLimit   = 20.0 // messages per second
	defaultConcurrency = 10
)

// Config holds WhatsApp sender configuration.
type Config struct {
	Enabled     bool
	AccountSID  string
	AuthToken   string
	From        string
	RateLimit   float64
	Concurrency int
}

type messageCreator interface {
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
}

// Sender implements the WhatsApp channel sender.
type Sender struct {
	config  Config
	client  messageCreator
	limiter *rate.Limiter
}

// NewSender creates a new WhatsApp sender.
// Returns error if enabled but required config is missing.
func NewSender(config Config) (*Sender, error) {
	if config.Enabled {
		if config.AccountSID == "" || config.AuthToken == "" {
			return nil, errors.New("whatsapp sender: account sid and auth token are required when enabled")
		}
		if config.From == "" {
			return nil, errors.New("whatsapp sender: from number is required when enabled")
		}
	}

	if config.RateLimit <= 0 {
		config.RateLimit = defaultRateLimit
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaultConcurrency
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: config.AccountSID,
		Password: config.AuthToken,
	})

	slog.Info("whatsapp sender configured",
		"enabled", config.Enabled,
		"from", config.From,
		"rate_limit", config.RateLimit,
		"concurrency", config.Concurrency,
	)

	return &Sender{
		config:  config,
		client:  client.Api,
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}, nil
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelWhatsApp
}

// Send issues one provider call per phone number concurrently and waits for
// all of them. A failing number never affects the others.
func (s *Sender) Send(ctx context.Context, phones []string, msg notifications.Message) notifications.SendResult {
	results := make([]domain.RecipientResult, len(phones))

	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)

	for i, phone := range phones {
		g.Go(func() error {
			results[i] = s.sendOne(ctx, phone, msg.Content.Text())
			return nil
		})
	}
	_ = g.Wait()

	out := notifications.SendResult{Provider: "twilio"}
	for _, res := range results {
		out.Add(res)
	}

	if out.Failed > 0 {
		slog.Warn("whatsapp messages failed",
			"delivery_id", msg.DeliveryID,
			"failed", out.Failed,
			"delivered", out.Delivered,
		)
	}

	return out
}

func (s *Sender) sendOne(ctx context.Context, phone, body string) domain.RecipientResult {
	res := domain.RecipientResult{Recipient: phone, Status: domain.RecipientStatusError}

	if err := s.limiter.Wait(ctx); err != nil {
		res.Error = fmt.Sprintf("rate limit wait: %v", err)
		return res
	}

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(address(phone))
	params.SetFrom(address(s.config.From))
	params.SetBody(body)

	m, err := s.client.CreateMessage(params)
	if err != nil {
		notifications.RecordProviderError(string(domain.ChannelWhatsApp))
		res.Error = err.Error()
		return res
	}

	res.Status = domain.RecipientStatusOK
	if m != nil && m.Sid != nil {
		res.TicketID = *m.Sid
	}
	return res
}

func address(phone string) string {
	if strings.HasPrefix(phone, addressPrefix) {
		return phone
	}
	return addressPrefix + phone
}
