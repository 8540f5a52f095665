package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DeliveryState represents the lifecycle state of a delivery record.
type DeliveryState string

// Delivery states.
const (
	DeliveryStateScheduled DeliveryState = "scheduled"
	DeliveryStatePending   DeliveryState = "pending"
	DeliveryStateSending   DeliveryState = "sending"
	DeliveryStateDelivered DeliveryState = "delivered"
	DeliveryStateFailed    DeliveryState = "failed"
)

// ErrInvalidTransition is returned when a state change is not allowed.
var ErrInvalidTransition = errors.New("invalid delivery state transition")

var deliveryTransitions = map[DeliveryState][]DeliveryState{
	DeliveryStateScheduled: {DeliveryStatePending},
	DeliveryStatePending:   {DeliveryStateSending, DeliveryStateFailed},
	DeliveryStateSending:   {DeliveryStateDelivered, DeliveryStateFailed},
}

// IsValid reports whether s is a known state.
func (s DeliveryState) IsValid() bool {
	switch s {
	case DeliveryStateScheduled, DeliveryStatePending, DeliveryStateSending,
		DeliveryStateDelivered, DeliveryStateFailed:
		return true
	}
	return false
}

// IsTerminal reports whether the record can no longer change.
func (s DeliveryState) IsTerminal() bool {
	return s == DeliveryStateDelivered || s == DeliveryStateFailed
}

// CanTransitionTo reports whether moving from s to next is allowed.
func (s DeliveryState) CanTransitionTo(next DeliveryState) bool {
	for _, allowed := range deliveryTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// RecipientResult is the provider outcome for one recipient.
type RecipientResult struct {
	Recipient string            `json:"recipient"`
	Status    string            `json:"status"`
	TicketID  string            `json:"ticket_id,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// Recipient result statuses.
const (
	RecipientStatusOK    = "ok"
	RecipientStatusError = "error"
)

// ResultMeta holds provider results and error detail for audit.
type ResultMeta struct {
	Provider string            `json:"provider,omitempty"`
	Results  []RecipientResult `json:"results,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// DeliveryRecord is the audit entity for one (message, channel, audience) dispatch.
type DeliveryRecord struct {
	ID             string        `json:"id"`
	Channel        Channel       `json:"channel"`
	Audience       Audience      `json:"audience"`
	Title          string        `json:"title,omitempty"`
	Subject        string        `json:"subject,omitempty"`
	Body           string        `json:"body"`
	ImageURL       string        `json:"image_url,omitempty"`
	TemplateID     string        `json:"template_id,omitempty"`
	CampaignMeta   *CampaignMeta `json:"campaign_meta,omitempty"`
	State          DeliveryState `json:"state"`
	ScheduledFor   *time.Time    `json:"scheduled_for,omitempty"`
	SentAt         *time.Time    `json:"sent_at,omitempty"`
	Recipients     []string      `json:"recipients"`
	SentCount      int           `json:"sent_count"`
	DeliveredCount int           `json:"delivered_count"`
	FailedCount    int           `json:"failed_count"`
	ResultMeta     *ResultMeta   `json:"result_meta,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// NewDeliveryRecord creates a record in its initial state. The record starts
// Scheduled when scheduledFor lies after now, Pending otherwise.
func NewDeliveryRecord(content Content, audience Audience, scheduledFor *time.Time, now time.Time) *DeliveryRecord {
	rec := &DeliveryRecord{
		ID:         uuid.NewString(),
		Channel:    content.Channel(),
		Audience:   audience,
		Body:       content.Text(),
		State:      DeliveryStatePending,
		Recipients: []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	switch c := content.(type) {
	case PushContent:
		rec.Title = c.Title
		rec.ImageURL = c.ImageURL
	case EmailContent:
		rec.Subject = c.Subject
	}

	if scheduledFor != nil && scheduledFor.After(now) {
		at := scheduledFor.UTC()
		rec.ScheduledFor = &at
		rec.State = DeliveryStateScheduled
	}

	return rec
}

// Content rebuilds the channel-specific content of the record.
func (r *DeliveryRecord) Content() (Content, error) {
	return NewContent(r.Channel, r.Title, r.Subject, r.Body, r.ImageURL)
}

// Transition moves the record to next, enforcing the state machine.
func (r *DeliveryRecord) Transition(next DeliveryState, now time.Time) error {
	if !r.State.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.State, next)
	}
	r.State = next
	r.UpdatedAt = now
	return nil
}

// MarkSending starts the single send attempt for the resolved recipients.
func (r *DeliveryRecord) MarkSending(recipients []string, now time.Time) error {
	if err := r.Transition(DeliveryStateSending, now); err != nil {
		return err
	}
	if r.SentAt == nil {
		at := now
		r.SentAt = &at
	}
	r.Recipients = recipients
	r.SentCount = len(recipients)
	return nil
}

// Complete records the sender tallies and moves to a terminal state.
// The record is Delivered when at least one recipient was reached.
func (r *DeliveryRecord) Complete(delivered, failed int, meta *ResultMeta, now time.Time) error {
	next := DeliveryStateFailed
	if delivered > 0 {
		next = DeliveryStateDelivered
	}
	if err := r.Transition(next, now); err != nil {
		return err
	}
	r.DeliveredCount = delivered
	r.FailedCount = failed
	r.ResultMeta = meta
	return nil
}

// Fail moves a non-terminal record to Failed, counting every targeted
// recipient as failed and keeping cause in the result metadata.
func (r *DeliveryRecord) Fail(cause error, now time.Time) {
	if r.State.IsTerminal() {
		return
	}
	r.State = DeliveryStateFailed
	r.UpdatedAt = now
	r.DeliveredCount = 0
	r.FailedCount = r.SentCount
	if r.ResultMeta == nil {
		r.ResultMeta = &ResultMeta{}
	}
	if cause != nil {
		r.ResultMeta.Error = cause.Error()
	}
}
