// Package push provides push notification sending through Expo or Firebase Cloud Messaging.
package push

import (
	"context"
	"log/slog"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

// Provider sends one batch of push messages and returns a result per token,
// in token order. An error means the whole batch call failed.
type Provider interface {
	Name() string
	MaxBatchSize() int
	ValidToken(token string) bool
	SendBatch(ctx context.Context, tokens []string, payload Payload) ([]domain.RecipientResult, error)
}

// Sender implements the push channel sender.
type Sender struct {
	provider Provider
}

// NewSender creates a new push sender on top of provider.
func NewSender(provider Provider) *Sender {
	slog.Info("push sender configured",
		"provider", provider.Name(),
		"batch_size", provider.MaxBatchSize(),
	)
	return &Sender{provider: provider}
}

// Channel returns the channel this sender serves.
func (s *Sender) Channel() domain.Channel {
	return domain.ChannelPush
}

// ValidToken reports whether the active provider accepts the token format.
func (s *Sender) ValidToken(token string) bool {
	return s.provider.ValidToken(token)
}

// Send delivers msg to tokens in provider-sized chunks. Chunks are sent one
// after another; a chunk whose call fails counts all its tokens as failed.
func (s *Sender) Send(ctx context.Context, tokens []string, msg notifications.Message) notifications.SendResult {
	result := notifications.SendResult{Provider: s.provider.Name()}
	payload := NewPayload(msg)
	size := s.provider.MaxBatchSize()

	for start := 0; start < len(tokens); start += size {
		chunk := tokens[start:min(start+size, len(tokens))]

		results, err := s.provider.SendBatch(ctx, chunk, payload)
		if err != nil {
			slog.Error("push chunk failed",
				"provider", s.provider.Name(),
				"delivery_id", msg.DeliveryID,
				"chunk_start", start,
				"chunk_size", len(chunk),
				"error", err,
			)
			notifications.RecordProviderError(string(domain.ChannelPush))
			for _, token := range chunk {
				result.Add(domain.RecipientResult{
					Recipient: token,
					Status:    domain.RecipientStatusError,
					Error:     err.Error(),
				})
			}
			continue
		}

		for i, token := range chunk {
			if i >= len(results) {
				result.Add(domain.RecipientResult{
					Recipient: token,
					Status:    domain.RecipientStatusError,
					Error:     "no ticket returned",
				})
				continue
			}
			res := results[i]
			res.Recipient = token
			result.Add(res)
		}
	}

	return result
}
