package push

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

const (
	defaultExpoURL     = "https://exp.host/--/api/v2/push/send"
	defaultExpoTimeout = 30 * time.Second
	expoMaxBatchSize   = 100
)

var expoTokenPattern = regexp.MustCompile(`^(ExponentPushToken|ExpoPushToken)\[.+\]$`)

// ExpoConfig holds Expo push service configuration.
type ExpoConfig struct {
	AccessToken string
	URL         string
	Timeout     time.Duration
}

// ExpoProvider sends push messages through the Expo push service.
type ExpoProvider struct {
	config     ExpoConfig
	httpClient *http.Client
}

// NewExpoProvider creates a new Expo push provider.
func NewExpoProvider(config ExpoConfig) *ExpoProvider {
	if config.URL == "" {
		config.URL = defaultExpoURL
	}
	if config.Timeout == 0 {
		config.Timeout = defaultExpoTimeout
	}

	return &ExpoProvider{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (p *ExpoProvider) Name() string { return "expo" }

// MaxBatchSize returns the number of messages Expo accepts per request.
func (p *ExpoProvider) MaxBatchSize() int { return expoMaxBatchSize }

// ValidToken reports whether token is an Expo push token.
func (p *ExpoProvider) ValidToken(token string) bool {
	return expoTokenPattern.MatchString(token)
}

type expoMessage struct {
	To          string            `json:"to"`
	Title       string            `json:"title,omitempty"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
	Sound       string            `json:"sound,omitempty"`
	Priority    string            `json:"priority,omitempty"`
	ChannelID   string            `json:"channelId,omitempty"`
	RichContent *expoRichContent  `json:"richContent,omitempty"`
}

type expoRichContent struct {
	Image string `json:"image"`
}

type expoTicket struct {
	Status  string                 `json:"status"`
	ID      string                 `json:"id,omitempty"`
	Message string                 `json:"message,omitempty"`
	Details map[string]interface{} `json:"details,omitempty"`
}

type expoResponse struct {
	Data   []expoTicket `json:"data"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors,omitempty"`
}

// SendBatch posts one chunk of messages and maps the returned tickets.
func (p *ExpoProvider) SendBatch(ctx context.Context, tokens []string, payload Payload) ([]domain.RecipientResult, error) {
	messages := make([]expoMessage, 0, len(tokens))
	for _, token := range tokens {
		m := expoMessage{
			To:        token,
			Title:     payload.Title,
			Body:      payload.Body,
			Data:      payload.Data,
			Sound:     payload.Sound,
			Priority:  payload.Priority,
			ChannelID: payload.ChannelID,
		}
		if payload.ImageURL != "" {
			m.RichContent = &expoRichContent{Image: payload.ImageURL}
		}
		messages = append(messages, m)
	}

	body, err := json.Marshal(messages)
	if err != nil {
		return nil, fmt.Errorf("marshal messages: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if p.config.AccessToken != "" {
		req.Header.Set("Authorization", "Bearer "+p.config.AccessToken)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	return p.handleResponse(resp, len(tokens))
}

func (p *ExpoProvider) handleResponse(resp *http.Response, count int) ([]domain.RecipientResult, error) {
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, &APIError{Code: resp.StatusCode, Message: string(raw)}
	}

	var parsed expoResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	if len(parsed.Errors) > 0 {
		return nil, &APIError{
			Code:    resp.StatusCode,
			Message: fmt.Sprintf("%s: %s", parsed.Errors[0].Code, parsed.Errors[0].Message),
		}
	}

	if len(parsed.Data) != count {
		slog.Warn("expo returned unexpected ticket count",
			"expected", count,
			"got", len(parsed.Data),
		)
	}

	results := make([]domain.RecipientResult, 0, len(parsed.Data))
	for _, t := range parsed.Data {
		results = append(results, ticketResult(t))
	}

	return results, nil
}

func ticketResult(t expoTicket) domain.RecipientResult {
	if t.Status == "ok" {
		return domain.RecipientResult{Status: domain.RecipientStatusOK, TicketID: t.ID}
	}

	res := domain.RecipientResult{
		Status:   domain.RecipientStatusError,
		TicketID: t.ID,
		Error:    t.Message,
	}
	if res.Error == "" {
		res.Error = "push ticket error"
	}
	if len(t.Details) > 0 {
		res.Details = make(map[string]string, len(t.Details))
		for k, v := range t.Details {
			res.Details[k] = fmt.Sprint(v)
		}
	}
	return res
}

// APIError is a request-level failure returned by a push provider.
type APIError struct {
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("push provider error %d: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("push provider error: %s", e.Message)
}
