package domain

// Channel identifies the delivery medium of a notification.
type Channel string

// Delivery channels.
const (
	ChannelPush     Channel = "push"
	ChannelWhatsApp Channel = "whatsapp"
	ChannelEmail    Channel = "email"
)

// IsValid reports whether c is a known channel.
func (c Channel) IsValid() bool {
	switch c {
	case ChannelPush, ChannelWhatsApp, ChannelEmail:
		return true
	}
	return false
}

// Audience is a logical recipient group resolved to concrete addresses at send time.
type Audience string

// Audience selectors.
const (
	AudienceAll         Audience = "all"
	AudienceSubscribers Audience = "subscribers"
	AudienceBoxHolders  Audience = "boxholders"
	AudienceCustom      Audience = "custom"
)

// IsValid reports whether a is a known audience selector.
func (a Audience) IsValid() bool {
	switch a {
	case AudienceAll, AudienceSubscribers, AudienceBoxHolders, AudienceCustom:
		return true
	}
	return false
}

// SupportedBy reports whether the audience has a recipient source for the channel.
// Directory-backed audiences exist only for push; WhatsApp and email take a
// caller-supplied list.
func (a Audience) SupportedBy(c Channel) bool {
	if a == AudienceCustom {
		return true
	}
	return c == ChannelPush && a.IsValid()
}
