package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

type handlerFixture struct {
	*dispatcherFixture
	router http.Handler
}

func newHandlerFixture(t *testing.T) *handlerFixture {
	t.Helper()

	f := newDispatcherFixture(t)
	r := chi.NewRouter()
	NewHandler(NewService(f.repo, f.dispatcher)).RegisterRoutes(r)

	return &handlerFixture{dispatcherFixture: f, router: r}
}

func (f *handlerFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

type dispatchEnvelope struct {
	Data DispatchNotificationResponse `json:"data"`
}

type errorEnvelope struct {
	Error struct {
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	} `json:"error"`
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHandler_Dispatch_Immediate(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/notifications", map[string]interface{}{
		"channel":     "push",
		"user_groups": []string{"custom"},
		"title":       "Ramadan",
		"body":        "Campaign is live",
		"custom_data": map[string]interface{}{
			"tokens": []string{"tok-1", "tok-2", "tok-3", "malformed"},
		},
		"campaign_meta": map[string]interface{}{
			"campaign_id": "c-42",
			"screen":      "campaign",
		},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dispatchEnvelope
	decode(t, rec, &resp)

	assert.True(t, resp.Data.Success)
	assert.Equal(t, "notification processed", resp.Data.Message)
	assert.Nil(t, resp.Data.ScheduledFor)
	require.Len(t, resp.Data.Deliveries, 1)

	d := resp.Data.Deliveries[0]
	assert.Equal(t, domain.ChannelPush, d.Channel)
	assert.Equal(t, domain.AudienceCustom, d.UserGroup)
	assert.Equal(t, domain.DeliveryStateDelivered, d.State)
	assert.Equal(t, 3, d.SentCount)
	assert.Equal(t, 3, d.DeliveredCount)
	assert.Equal(t, 0, d.FailedCount)

	require.Len(t, f.push.msgs, 1)
	assert.Equal(t, "c-42", f.push.msgs[0].CampaignMeta.CampaignID)
}

func TestHandler_Dispatch_SingleUserGroup(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/notifications", map[string]interface{}{
		"channel":     "whatsapp",
		"user_group":  "custom",
		"body":        "hi",
		"custom_data": map[string]interface{}{"phones": []string{"+15550001"}},
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp dispatchEnvelope
	decode(t, rec, &resp)
	require.Len(t, resp.Data.Deliveries, 1)
	assert.Equal(t, domain.DeliveryStateDelivered, resp.Data.Deliveries[0].State)
}

func TestHandler_Dispatch_NoValidRecipients(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodPost, "/notifications", map[string]interface{}{
		"channel":     "whatsapp",
		"user_groups": []string{"custom"},
		"body":        "hi",
		"custom_data": map[string]interface{}{"phones": []string{}},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp dispatchEnvelope
	decode(t, rec, &resp)
	d := resp.Data.Deliveries[0]
	assert.Equal(t, domain.DeliveryStateFailed, d.State)
	assert.Zero(t, d.SentCount)
	assert.Equal(t, "no valid recipients", d.Error)
}

func TestHandler_Dispatch_Scheduled(t *testing.T) {
	f := newHandlerFixture(t)
	at := testNow.Add(time.Hour)

	rec := f.do(t, http.MethodPost, "/notifications", map[string]interface{}{
		"channel":       "email",
		"user_groups":   []string{"custom"},
		"subject":       "Reminder",
		"body":          "<p>Tomorrow</p>",
		"scheduled_for": at.Format(time.RFC3339),
		"custom_data":   map[string]interface{}{"emails": []string{"a@example.com"}},
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())

	var resp dispatchEnvelope
	decode(t, rec, &resp)
	assert.Equal(t, "notification scheduled", resp.Data.Message)
	require.NotNil(t, resp.Data.ScheduledFor)
	assert.True(t, at.Equal(*resp.Data.ScheduledFor))
	assert.Equal(t, domain.DeliveryStateScheduled, resp.Data.Deliveries[0].State)
	assert.Zero(t, f.email.callCount())
}

func TestHandler_Dispatch_Rejected(t *testing.T) {
	tests := []struct {
		name        string
		body        interface{}
		wantMessage string
	}{
		{
			name:        "invalid json",
			body:        "{not json",
			wantMessage: "invalid json",
		},
		{
			name:        "missing channel",
			body:        map[string]interface{}{"user_groups": []string{"custom"}, "body": "b"},
			wantMessage: "validation error",
		},
		{
			name:        "unknown channel",
			body:        map[string]interface{}{"channel": "sms", "user_groups": []string{"custom"}, "body": "b"},
			wantMessage: "validation error",
		},
		{
			name:        "missing body",
			body:        map[string]interface{}{"channel": "whatsapp", "user_groups": []string{"custom"}},
			wantMessage: "validation error",
		},
		{
			name:        "email without subject",
			body:        map[string]interface{}{"channel": "email", "user_groups": []string{"custom"}, "body": "b"},
			wantMessage: domain.ErrMissingSubject.Error(),
		},
		{
			name:        "push without title",
			body:        map[string]interface{}{"channel": "push", "user_groups": []string{"all"}, "body": "b"},
			wantMessage: domain.ErrMissingTitle.Error(),
		},
		{
			name:        "no user groups",
			body:        map[string]interface{}{"channel": "whatsapp", "body": "b"},
			wantMessage: ErrNoAudience.Error(),
		},
		{
			name:        "push-only group on whatsapp",
			body:        map[string]interface{}{"channel": "whatsapp", "user_groups": []string{"subscribers"}, "body": "b"},
			wantMessage: "user group is not supported for this channel: subscribers for whatsapp",
		},
		{
			name:        "invalid image url",
			body:        map[string]interface{}{"channel": "push", "user_groups": []string{"all"}, "title": "t", "body": "b", "image_url": "not a url"},
			wantMessage: "validation error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newHandlerFixture(t)

			rec := f.do(t, http.MethodPost, "/notifications", tt.body)
			require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())

			var resp errorEnvelope
			decode(t, rec, &resp)
			assert.Equal(t, tt.wantMessage, resp.Error.Message)
			assert.Zero(t, f.repo.count())
		})
	}
}

func TestHandler_Dispatch_ChannelUnavailable(t *testing.T) {
	repo := newMemRepository()
	d := NewDispatcher(DispatcherConfig{}, repo, NewResolver(&fakeDirectory{}, nil), newFakeSender(domain.ChannelPush))
	r := chi.NewRouter()
	NewHandler(NewService(repo, d)).RegisterRoutes(r)

	body, _ := json.Marshal(map[string]interface{}{
		"channel": "email", "user_groups": []string{"custom"}, "subject": "s", "body": "b",
	})
	req := httptest.NewRequest(http.MethodPost, "/notifications", bytes.NewReader(body))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	var resp errorEnvelope
	decode(t, rec, &resp)
	assert.Equal(t, "channel is not available", resp.Error.Message)
}

func TestHandler_ProcessScheduled(t *testing.T) {
	f := newHandlerFixture(t)
	at := testNow.Add(time.Hour)

	_, err := f.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Content:      domain.WhatsAppContent{Body: "later"},
		Audiences:    []domain.Audience{domain.AudienceCustom},
		Custom:       []string{"+15550001"},
		ScheduledFor: &at,
	})
	require.NoError(t, err)

	rec := f.do(t, http.MethodGet, "/notifications/process-scheduled", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data ProcessScheduledResponse `json:"data"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, 0, resp.Data.Processed)
	assert.NotNil(t, resp.Data.Results)

	f.at(at.Add(time.Minute))
	rec = f.do(t, http.MethodGet, "/notifications/process-scheduled", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resp)
	assert.Equal(t, 1, resp.Data.Processed)
	require.Len(t, resp.Data.Results, 1)
	assert.Equal(t, domain.DeliveryStateDelivered, resp.Data.Results[0].Outcome)
	assert.Equal(t, domain.ChannelWhatsApp, resp.Data.Results[0].Channel)
}

func TestHandler_GetDelivery(t *testing.T) {
	f := newHandlerFixture(t)

	result, err := f.dispatcher.Dispatch(context.Background(), DispatchRequest{
		Content:   domain.EmailContent{Subject: "s", Body: "b"},
		Audiences: []domain.Audience{domain.AudienceCustom},
		Custom:    []string{"a@example.com"},
	})
	require.NoError(t, err)
	id := result.Records[0].ID

	rec := f.do(t, http.MethodGet, "/notifications/"+id, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data domain.DeliveryRecord `json:"data"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, id, resp.Data.ID)
	assert.Equal(t, domain.DeliveryStateDelivered, resp.Data.State)
	assert.Equal(t, []string{"a@example.com"}, resp.Data.Recipients)

	rec = f.do(t, http.MethodGet, "/notifications/does-not-exist", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	var errResp errorEnvelope
	decode(t, rec, &errResp)
	assert.Equal(t, "delivery record not found", errResp.Error.Message)
}

func TestHandler_ListDeliveries(t *testing.T) {
	f := newHandlerFixture(t)

	for range 3 {
		_, err := f.dispatcher.Dispatch(context.Background(), DispatchRequest{
			Content:   domain.WhatsAppContent{Body: "b"},
			Audiences: []domain.Audience{domain.AudienceCustom},
			Custom:    []string{"+15550001"},
		})
		require.NoError(t, err)
	}

	rec := f.do(t, http.MethodGet, "/notifications?channel=whatsapp&limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data []domain.DeliveryRecord `json:"data"`
	}
	decode(t, rec, &resp)
	assert.Len(t, resp.Data, 2)

	tests := []struct {
		name  string
		query string
	}{
		{"bad limit", "?limit=abc"},
		{"negative offset", "?offset=-1"},
		{"unknown channel", "?channel=sms"},
		{"unknown state", "?state=lost"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodGet, "/notifications"+tt.query, nil)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestHandler_GetNotificationsConfig(t *testing.T) {
	f := newHandlerFixture(t)

	rec := f.do(t, http.MethodGet, "/notifications/config", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Data struct {
			AvailableChannels []domain.Channel `json:"available_channels"`
		} `json:"data"`
	}
	decode(t, rec, &resp)
	assert.Equal(t, []domain.Channel{domain.ChannelPush, domain.ChannelWhatsApp, domain.ChannelEmail}, resp.Data.AvailableChannels)
}
