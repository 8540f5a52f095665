package notifications

import (
	"context"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// Message is what a channel sender delivers to every recipient.
type Message struct {
	DeliveryID   string
	Content      domain.Content
	CampaignMeta *domain.CampaignMeta
}

// SendResult aggregates the outcome of one send call.
// Delivered + Failed equals the number of recipients handed to the sender.
type SendResult struct {
	Provider  string
	Delivered int
	Failed    int
	Results   []domain.RecipientResult
}

// Add tallies one recipient outcome.
func (r *SendResult) Add(res domain.RecipientResult) {
	if res.Status == domain.RecipientStatusOK {
		r.Delivered++
	} else {
		r.Failed++
	}
	r.Results = append(r.Results, res)
}

// Sender delivers a message to a list of recipients over one channel.
// Implementations make one attempt per recipient, never return provider
// errors, and never touch delivery records.
type Sender interface {
	Channel() domain.Channel
	Send(ctx context.Context, recipients []string, msg Message) SendResult
}
