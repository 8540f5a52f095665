package push

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	"google.golang.org/api/option"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

const fcmMaxBatchSize = 500

var fcmTokenPattern = regexp.MustCompile(`^[A-Za-z0-9_:\-]{20,}$`)

// FCMConfig holds Firebase Cloud Messaging configuration.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
}

type multicastClient interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMProvider sends push messages through Firebase Cloud Messaging.
type FCMProvider struct {
	client multicastClient
}

// NewFCMProvider initializes the Firebase app and its messaging client.
func NewFCMProvider(ctx context.Context, config FCMConfig) (*FCMProvider, error) {
	if config.CredentialsFile == "" {
		return nil, errors.New("fcm provider: credentials file is required")
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{
		ProjectID: config.ProjectID,
	}, option.WithCredentialsFile(config.CredentialsFile))
	if err != nil {
		return nil, fmt.Errorf("init firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("init firebase messaging: %w", err)
	}

	return &FCMProvider{client: client}, nil
}

// Name returns the provider name.
func (p *FCMProvider) Name() string { return "fcm" }

// MaxBatchSize returns the multicast token limit.
func (p *FCMProvider) MaxBatchSize() int { return fcmMaxBatchSize }

// ValidToken reports whether token looks like an FCM registration token.
func (p *FCMProvider) ValidToken(token string) bool {
	return fcmTokenPattern.MatchString(token)
}

// SendBatch sends one multicast message and maps the per-token responses.
func (p *FCMProvider) SendBatch(ctx context.Context, tokens []string, payload Payload) ([]domain.RecipientResult, error) {
	msg := &messaging.MulticastMessage{
		Tokens: tokens,
		Data:   payload.Data,
		Notification: &messaging.Notification{
			Title:    payload.Title,
			Body:     payload.Body,
			ImageURL: payload.ImageURL,
		},
		Android: &messaging.AndroidConfig{
			Priority: payload.Priority,
			Notification: &messaging.AndroidNotification{
				Sound:     payload.Sound,
				ChannelID: payload.ChannelID,
			},
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{Sound: payload.Sound},
			},
		},
	}

	batch, err := p.client.SendEachForMulticast(ctx, msg)
	if err != nil {
		return nil, fmt.Errorf("send multicast: %w", err)
	}

	results := make([]domain.RecipientResult, 0, len(batch.Responses))
	for _, r := range batch.Responses {
		if r.Success {
			results = append(results, domain.RecipientResult{
				Status:   domain.RecipientStatusOK,
				TicketID: r.MessageID,
			})
			continue
		}

		res := domain.RecipientResult{Status: domain.RecipientStatusError, Error: "send failed"}
		if r.Error != nil {
			res.Error = r.Error.Error()
			if messaging.IsUnregistered(r.Error) {
				res.Details = map[string]string{"error": "DeviceNotRegistered"}
			}
		}
		results = append(results, res)
	}

	return results, nil
}
