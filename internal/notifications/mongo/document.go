package mongo

import (
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

type deliveryDocument struct {
	ID             string                `bson:"_id"`
	Channel        string                `bson:"channel"`
	Audience       string                `bson:"audience"`
	Title          string                `bson:"title,omitempty"`
	Subject        string                `bson:"subject,omitempty"`
	Body           string                `bson:"body"`
	ImageURL       string                `bson:"imageUrl,omitempty"`
	TemplateID     string                `bson:"templateId,omitempty"`
	CampaignMeta   *campaignMetaDocument `bson:"campaignMeta,omitempty"`
	State          string                `bson:"state"`
	ScheduledFor   *time.Time            `bson:"scheduledFor,omitempty"`
	SentAt         *time.Time            `bson:"sentAt,omitempty"`
	Recipients     []string              `bson:"recipients"`
	SentCount      int                   `bson:"sentCount"`
	DeliveredCount int                   `bson:"deliveredCount"`
	FailedCount    int                   `bson:"failedCount"`
	ResultMeta     *resultMetaDocument   `bson:"resultMeta,omitempty"`
	CreatedAt      time.Time             `bson:"createdAt"`
	UpdatedAt      time.Time             `bson:"updatedAt"`
}

type campaignMetaDocument struct {
	CampaignName   string            `bson:"campaignName,omitempty"`
	CampaignID     string            `bson:"campaignId,omitempty"`
	DeepLink       string            `bson:"deepLink,omitempty"`
	Screen         string            `bson:"screen,omitempty"`
	AdditionalData map[string]string `bson:"additionalData,omitempty"`
}

type resultMetaDocument struct {
	Provider string                    `bson:"provider,omitempty"`
	Results  []recipientResultDocument `bson:"results,omitempty"`
	Error    string                    `bson:"error,omitempty"`
}

type recipientResultDocument struct {
	Recipient string            `bson:"recipient"`
	Status    string            `bson:"status"`
	TicketID  string            `bson:"ticketId,omitempty"`
	Error     string            `bson:"error,omitempty"`
	Details   map[string]string `bson:"details,omitempty"`
}

type pushTokenDocument struct {
	Token        string    `bson:"token"`
	IsSubscriber bool      `bson:"isSubscriber"`
	IsBoxHolder  bool      `bson:"isBoxHolder"`
	Active       bool      `bson:"active"`
	CreatedAt    time.Time `bson:"createdAt"`
}

func toDocument(rec *domain.DeliveryRecord) deliveryDocument {
	doc := deliveryDocument{
		ID:             rec.ID,
		Channel:        string(rec.Channel),
		Audience:       string(rec.Audience),
		Title:          rec.Title,
		Subject:        rec.Subject,
		Body:           rec.Body,
		ImageURL:       rec.ImageURL,
		TemplateID:     rec.TemplateID,
		State:          string(rec.State),
		ScheduledFor:   rec.ScheduledFor,
		SentAt:         rec.SentAt,
		Recipients:     rec.Recipients,
		SentCount:      rec.SentCount,
		DeliveredCount: rec.DeliveredCount,
		FailedCount:    rec.FailedCount,
		ResultMeta:     toResultMetaDocument(rec.ResultMeta),
		CreatedAt:      rec.CreatedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
	if doc.Recipients == nil {
		doc.Recipients = []string{}
	}
	if m := rec.CampaignMeta; m != nil {
		doc.CampaignMeta = &campaignMetaDocument{
			CampaignName:   m.CampaignName,
			CampaignID:     m.CampaignID,
			DeepLink:       m.DeepLink,
			Screen:         m.Screen,
			AdditionalData: m.AdditionalData,
		}
	}
	return doc
}

func toResultMetaDocument(m *domain.ResultMeta) *resultMetaDocument {
	if m == nil {
		return nil
	}
	doc := &resultMetaDocument{Provider: m.Provider, Error: m.Error}
	for _, r := range m.Results {
		doc.Results = append(doc.Results, recipientResultDocument{
			Recipient: r.Recipient,
			Status:    r.Status,
			TicketID:  r.TicketID,
			Error:     r.Error,
			Details:   r.Details,
		})
	}
	return doc
}

func (d deliveryDocument) toDomain() *domain.DeliveryRecord {
	rec := &domain.DeliveryRecord{
		ID:             d.ID,
		Channel:        domain.Channel(d.Channel),
		Audience:       domain.Audience(d.Audience),
		Title:          d.Title,
		Subject:        d.Subject,
		Body:           d.Body,
		ImageURL:       d.ImageURL,
		TemplateID:     d.TemplateID,
		State:          domain.DeliveryState(d.State),
		ScheduledFor:   utc(d.ScheduledFor),
		SentAt:         utc(d.SentAt),
		Recipients:     d.Recipients,
		SentCount:      d.SentCount,
		DeliveredCount: d.DeliveredCount,
		FailedCount:    d.FailedCount,
		CreatedAt:      d.CreatedAt.UTC(),
		UpdatedAt:      d.UpdatedAt.UTC(),
	}
	if rec.Recipients == nil {
		rec.Recipients = []string{}
	}
	if m := d.CampaignMeta; m != nil {
		rec.CampaignMeta = &domain.CampaignMeta{
			CampaignName:   m.CampaignName,
			CampaignID:     m.CampaignID,
			DeepLink:       m.DeepLink,
			Screen:         m.Screen,
			AdditionalData: m.AdditionalData,
		}
	}
	if m := d.ResultMeta; m != nil {
		rec.ResultMeta = &domain.ResultMeta{Provider: m.Provider, Error: m.Error}
		for _, r := range m.Results {
			rec.ResultMeta.Results = append(rec.ResultMeta.Results, domain.RecipientResult{
				Recipient: r.Recipient,
				Status:    r.Status,
				TicketID:  r.TicketID,
				Error:     r.Error,
				Details:   r.Details,
			})
		}
	}
	return rec
}

func utc(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
