package push

import (
	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

// Payload defaults applied to every push message.
const (
	DefaultSound     = "default"
	DefaultPriority  = "high"
	DefaultChannelID = "default"
)

// Payload is the provider-neutral push message.
type Payload struct {
	Title     string
	Body      string
	ImageURL  string
	Sound     string
	Priority  string
	ChannelID string
	Data      map[string]string
}

// NewPayload builds the push payload for a message. The data section carries
// the delivery id for client-side correlation on tap.
func NewPayload(msg notifications.Message) Payload {
	p := Payload{
		Body:      msg.Content.Text(),
		Sound:     DefaultSound,
		Priority:  DefaultPriority,
		ChannelID: DefaultChannelID,
		Data:      map[string]string{},
	}

	if c, ok := msg.Content.(domain.PushContent); ok {
		p.Title = c.Title
		p.ImageURL = c.ImageURL
	}

	if meta := msg.CampaignMeta; meta != nil {
		for k, v := range meta.AdditionalData {
			p.Data[k] = v
		}
		setIfNotEmpty(p.Data, "campaignName", meta.CampaignName)
		setIfNotEmpty(p.Data, "campaignId", meta.CampaignID)
		setIfNotEmpty(p.Data, "deepLink", meta.DeepLink)
		setIfNotEmpty(p.Data, "screen", meta.Screen)
	}
	// set last so caller data cannot hide the record id
	p.Data["notificationId"] = msg.DeliveryID

	return p
}

func setIfNotEmpty(m map[string]string, key, value string) {
	if value != "" {
		m[key] = value
	}
}
