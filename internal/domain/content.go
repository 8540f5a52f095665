package domain

import (
	"errors"
	"strings"
)

// Content validation errors.
var (
	ErrEmptyBody      = errors.New("body is required")
	ErrMissingTitle   = errors.New("title is required for push notifications")
	ErrMissingSubject = errors.New("subject is required for email notifications")
	ErrUnknownChannel = errors.New("unknown channel")
)

// Content is the channel-specific message shape. The set of implementations is
// closed: PushContent, WhatsAppContent and EmailContent.
type Content interface {
	Channel() Channel
	Text() string
	Validate() error
	isContent()
}

// PushContent is a push notification message.
type PushContent struct {
	Title    string
	Body     string
	ImageURL string
}

// Channel implements Content.
func (PushContent) Channel() Channel { return ChannelPush }

// Text implements Content.
func (c PushContent) Text() string { return c.Body }

// Validate implements Content.
func (c PushContent) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return ErrEmptyBody
	}
	if strings.TrimSpace(c.Title) == "" {
		return ErrMissingTitle
	}
	return nil
}

func (PushContent) isContent() {}

// WhatsAppContent is a WhatsApp text message.
type WhatsAppContent struct {
	Body string
}

// Channel implements Content.
func (WhatsAppContent) Channel() Channel { return ChannelWhatsApp }

// Text implements Content.
func (c WhatsAppContent) Text() string { return c.Body }

// Validate implements Content.
func (c WhatsAppContent) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return ErrEmptyBody
	}
	return nil
}

func (WhatsAppContent) isContent() {}

// EmailContent is an email message.
type EmailContent struct {
	Subject string
	Body    string
}

// Channel implements Content.
func (EmailContent) Channel() Channel { return ChannelEmail }

// Text implements Content.
func (c EmailContent) Text() string { return c.Body }

// Validate implements Content.
func (c EmailContent) Validate() error {
	if strings.TrimSpace(c.Body) == "" {
		return ErrEmptyBody
	}
	if strings.TrimSpace(c.Subject) == "" {
		return ErrMissingSubject
	}
	return nil
}

func (EmailContent) isContent() {}

// NewContent builds the content variant for a channel from flat request fields.
// Fields that do not belong to the channel are dropped.
func NewContent(channel Channel, title, subject, body, imageURL string) (Content, error) {
	switch channel {
	case ChannelPush:
		return PushContent{Title: title, Body: body, ImageURL: imageURL}, nil
	case ChannelWhatsApp:
		return WhatsAppContent{Body: body}, nil
	case ChannelEmail:
		return EmailContent{Subject: subject, Body: body}, nil
	default:
		return nil, ErrUnknownChannel
	}
}

// CampaignMeta is opaque campaign metadata attached to push payloads.
type CampaignMeta struct {
	CampaignName   string            `json:"campaign_name,omitempty"`
	CampaignID     string            `json:"campaign_id,omitempty"`
	DeepLink       string            `json:"deep_link,omitempty"`
	Screen         string            `json:"screen,omitempty"`
	AdditionalData map[string]string `json:"additional_data,omitempty"`
}
