package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/pkg/ctxlog"
)

// DefaultSweepBatchSize bounds how many scheduled records one sweep claims.
const DefaultSweepBatchSize = 100

// DispatcherConfig contains dispatcher configuration.
type DispatcherConfig struct {
	SweepBatchSize int
}

// Dispatcher validates dispatch requests, creates delivery records and drives
// each record through its send lifecycle.
type Dispatcher struct {
	config   DispatcherConfig
	repo     Repository
	resolver *Resolver
	senders  map[domain.Channel]Sender
	now      func() time.Time
}

// NewDispatcher creates a new notification dispatcher. Channels without a
// sender are rejected as unavailable.
func NewDispatcher(config DispatcherConfig, repo Repository, resolver *Resolver, senders ...Sender) *Dispatcher {
	if config.SweepBatchSize <= 0 {
		config.SweepBatchSize = DefaultSweepBatchSize
	}

	senderMap := make(map[domain.Channel]Sender, len(senders))
	for _, s := range senders {
		senderMap[s.Channel()] = s
	}

	return &Dispatcher{
		config:   config,
		repo:     repo,
		resolver: resolver,
		senders:  senderMap,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DispatchRequest is one notification to send to one or more audiences.
type DispatchRequest struct {
	Content      domain.Content
	Audiences    []domain.Audience
	Custom       []string
	TemplateID   string
	CampaignMeta *domain.CampaignMeta
	ScheduledFor *time.Time
}

// DispatchResult lists the delivery record created for each audience, in
// request order.
type DispatchResult struct {
	Scheduled    bool
	ScheduledFor *time.Time
	Records      []*domain.DeliveryRecord
}

// SweepOutcome is the result of processing one claimed scheduled record.
type SweepOutcome struct {
	ID      string               `json:"id"`
	Channel domain.Channel       `json:"channel"`
	Outcome domain.DeliveryState `json:"outcome"`
	Error   string               `json:"error,omitempty"`
}

// Channels returns the channels with a configured sender.
func (d *Dispatcher) Channels() []domain.Channel {
	out := make([]domain.Channel, 0, len(d.senders))
	for _, ch := range []domain.Channel{domain.ChannelPush, domain.ChannelWhatsApp, domain.ChannelEmail} {
		if _, ok := d.senders[ch]; ok {
			out = append(out, ch)
		}
	}
	return out
}

// Validate checks a request without side effects.
func (d *Dispatcher) Validate(req DispatchRequest) error {
	if req.Content == nil {
		return domain.ErrUnknownChannel
	}

	channel := req.Content.Channel()
	if _, ok := d.senders[channel]; !ok {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, channel)
	}

	if err := req.Content.Validate(); err != nil {
		return err
	}

	if len(req.Audiences) == 0 {
		return ErrNoAudience
	}
	for _, a := range req.Audiences {
		if !a.IsValid() {
			return fmt.Errorf("%w: %q", ErrInvalidAudience, a)
		}
		if !a.SupportedBy(channel) {
			return fmt.Errorf("%w: %s for %s", ErrAudienceNotSupported, a, channel)
		}
	}

	return nil
}

// Dispatch validates the request, then creates one delivery record per
// audience. Immediate records are sent before Dispatch returns; future ones
// stay Scheduled for the sweep. A failure in one audience group never
// affects the others and is reported through that group's record.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if err := d.Validate(req); err != nil {
		return nil, err
	}

	// Sends must reach a terminal state even if the caller goes away.
	ctx = context.WithoutCancel(ctx)
	now := d.now()

	result := &DispatchResult{
		Records: make([]*domain.DeliveryRecord, 0, len(req.Audiences)),
	}
	if req.ScheduledFor != nil && req.ScheduledFor.After(now) {
		at := req.ScheduledFor.UTC()
		result.Scheduled = true
		result.ScheduledFor = &at
	}

	for _, audience := range req.Audiences {
		rec := d.dispatchGroup(ctx, req, audience, now)
		result.Records = append(result.Records, rec)
	}

	return result, nil
}

func (d *Dispatcher) dispatchGroup(ctx context.Context, req DispatchRequest, audience domain.Audience, now time.Time) *domain.DeliveryRecord {
	logger := ctxlog.FromContext(ctx)

	rec := domain.NewDeliveryRecord(req.Content, audience, req.ScheduledFor, now)
	rec.TemplateID = req.TemplateID
	rec.CampaignMeta = req.CampaignMeta

	var custom []string
	if audience == domain.AudienceCustom {
		custom = d.resolver.Filter(rec.Channel, req.Custom)
		if rec.State == domain.DeliveryStateScheduled {
			// custom lists have no other source at sweep time
			rec.Recipients = custom
		}
	}

	if err := d.repo.CreateDelivery(ctx, rec); err != nil {
		logger.Error("failed to create delivery record",
			"channel", rec.Channel,
			"audience", audience,
			"error", err,
		)
		rec.Fail(fmt.Errorf("create delivery record: %w", err), d.now())
		recordDelivery(string(rec.Channel), string(rec.State))
		return rec
	}

	if rec.State == domain.DeliveryStateScheduled {
		logger.Info("delivery scheduled",
			"delivery_id", rec.ID,
			"channel", rec.Channel,
			"audience", audience,
			"scheduled_for", rec.ScheduledFor,
		)
		recordDelivery(string(rec.Channel), string(rec.State))
		return rec
	}

	d.deliver(ctx, rec, custom)
	return rec
}

// deliver runs the single send attempt of a Pending record and leaves it in a
// terminal state, persisting every transition it can.
func (d *Dispatcher) deliver(ctx context.Context, rec *domain.DeliveryRecord, custom []string) {
	ctx = ctxlog.With(ctx, "delivery_id", rec.ID, "channel", rec.Channel)
	logger := ctxlog.FromContext(ctx)
	start := time.Now()

	if err := d.send(ctx, rec, custom); err != nil {
		logger.Error("delivery failed", "state", rec.State, "error", err)
		rec.Fail(err, d.now())
		if updErr := d.repo.UpdateDelivery(ctx, rec); updErr != nil {
			logger.Error("failed to persist failed delivery", "error", updErr)
		}
	}

	recordDelivery(string(rec.Channel), string(rec.State))
	recordRecipients(string(rec.Channel), rec.DeliveredCount, rec.FailedCount)
	recordSendDuration(string(rec.Channel), time.Since(start))

	logger.Info("delivery finished",
		"state", rec.State,
		"sent", rec.SentCount,
		"delivered", rec.DeliveredCount,
		"failed", rec.FailedCount,
	)
}

func (d *Dispatcher) send(ctx context.Context, rec *domain.DeliveryRecord, custom []string) error {
	sender, ok := d.senders[rec.Channel]
	if !ok {
		return fmt.Errorf("%w: %s", ErrChannelUnavailable, rec.Channel)
	}

	content, err := rec.Content()
	if err != nil {
		return err
	}

	recipients, err := d.resolver.Resolve(ctx, rec.Channel, rec.Audience, custom)
	if err != nil {
		return fmt.Errorf("resolve recipients: %w", err)
	}

	if err := rec.MarkSending(recipients, d.now()); err != nil {
		return err
	}

	if len(recipients) == 0 {
		return d.complete(ctx, rec, 0, 0, &domain.ResultMeta{Error: "no valid recipients"})
	}

	if err := d.persist(ctx, rec); err != nil {
		return err
	}

	res := sender.Send(ctx, recipients, Message{
		DeliveryID:   rec.ID,
		Content:      content,
		CampaignMeta: rec.CampaignMeta,
	})

	failed := res.Failed
	if missing := len(recipients) - res.Delivered - res.Failed; missing > 0 {
		ctxlog.FromContext(ctx).Warn("sender did not account for all recipients", "missing", missing)
		failed += missing
	}

	meta := &domain.ResultMeta{Provider: res.Provider, Results: res.Results}
	return d.complete(ctx, rec, res.Delivered, failed, meta)
}

// complete persists the terminal state before applying it to rec. When the
// write fails rec stays Sending, so the caller can still fail it; the
// provider results are kept for the failure record.
func (d *Dispatcher) complete(ctx context.Context, rec *domain.DeliveryRecord, delivered, failed int, meta *domain.ResultMeta) error {
	done := *rec
	if err := done.Complete(delivered, failed, meta, d.now()); err != nil {
		return err
	}
	if err := d.persist(ctx, &done); err != nil {
		failMeta := *meta
		rec.ResultMeta = &failMeta
		return err
	}
	*rec = done
	return nil
}

func (d *Dispatcher) persist(ctx context.Context, rec *domain.DeliveryRecord) error {
	if err := d.repo.UpdateDelivery(ctx, rec); err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}
	return nil
}

// Sweep claims Scheduled records that are due at now and sends each one.
// Records claimed by a concurrent sweep are never returned here.
func (d *Dispatcher) Sweep(ctx context.Context, now time.Time) ([]SweepOutcome, error) {
	due, err := d.repo.ClaimDueDeliveries(ctx, now, d.config.SweepBatchSize)
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}

	outcomes := make([]SweepOutcome, 0, len(due))
	for _, rec := range due {
		var custom []string
		if rec.Audience == domain.AudienceCustom {
			custom = rec.Recipients
		}

		d.deliver(ctx, rec, custom)
		recordSweep(string(rec.State))

		outcome := SweepOutcome{ID: rec.ID, Channel: rec.Channel, Outcome: rec.State}
		if rec.ResultMeta != nil {
			outcome.Error = rec.ResultMeta.Error
		}
		outcomes = append(outcomes, outcome)
	}

	if len(due) > 0 {
		ctxlog.FromContext(ctx).Info("scheduled deliveries processed", "count", len(due))
	}

	return outcomes, nil
}

// IsValidationError reports whether err rejects a dispatch request as invalid.
func IsValidationError(err error) bool {
	for _, target := range []error{
		domain.ErrEmptyBody, domain.ErrMissingTitle, domain.ErrMissingSubject, domain.ErrUnknownChannel,
		ErrNoAudience, ErrInvalidAudience, ErrAudienceNotSupported, ErrChannelUnavailable,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
