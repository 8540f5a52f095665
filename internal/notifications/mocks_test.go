package notifications

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// memRepository is an in-memory Repository that stores copies of records.
type memRepository struct {
	mu      sync.Mutex
	records map[string]domain.DeliveryRecord
	order   []string

	// history of states written per record id, creation included
	states map[string][]domain.DeliveryState

	createErr error
	updateErr error
	claimErr  error

	// updates accepted before updateErr applies
	updatesBeforeErr int
}

func newMemRepository() *memRepository {
	return &memRepository{
		records: make(map[string]domain.DeliveryRecord),
		states:  make(map[string][]domain.DeliveryState),
	}
}

func (r *memRepository) CreateDelivery(_ context.Context, rec *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.records[rec.ID] = *rec
	r.order = append(r.order, rec.ID)
	r.states[rec.ID] = append(r.states[rec.ID], rec.State)
	return nil
}

func (r *memRepository) UpdateDelivery(_ context.Context, rec *domain.DeliveryRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateErr != nil {
		if r.updatesBeforeErr == 0 {
			return r.updateErr
		}
		r.updatesBeforeErr--
	}
	if _, ok := r.records[rec.ID]; !ok {
		return ErrDeliveryNotFound
	}
	r.records[rec.ID] = *rec
	r.states[rec.ID] = append(r.states[rec.ID], rec.State)
	return nil
}

func (r *memRepository) GetDelivery(_ context.Context, id string) (*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, ErrDeliveryNotFound
	}
	return &rec, nil
}

func (r *memRepository) ListDeliveries(_ context.Context, filter DeliveryFilter) ([]domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.DeliveryRecord, 0)
	for i := len(r.order) - 1; i >= 0; i-- {
		rec := r.records[r.order[i]]
		if filter.Channel != "" && rec.Channel != filter.Channel {
			continue
		}
		if filter.State != "" && rec.State != filter.State {
			continue
		}
		out = append(out, rec)
	}

	if filter.Offset >= len(out) {
		return []domain.DeliveryRecord{}, nil
	}
	out = out[filter.Offset:]
	if len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (r *memRepository) ClaimDueDeliveries(_ context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimErr != nil {
		return nil, r.claimErr
	}

	var due []string
	for id, rec := range r.records {
		if rec.State == domain.DeliveryStateScheduled && !rec.ScheduledFor.After(now) {
			due = append(due, id)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		return r.records[due[i]].ScheduledFor.Before(*r.records[due[j]].ScheduledFor)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	claimed := make([]*domain.DeliveryRecord, 0, len(due))
	for _, id := range due {
		rec := r.records[id]
		at := now
		rec.State = domain.DeliveryStatePending
		rec.SentAt = &at
		rec.UpdatedAt = now
		r.records[id] = rec
		r.states[id] = append(r.states[id], rec.State)

		cp := rec
		claimed = append(claimed, &cp)
	}
	return claimed, nil
}

func (r *memRepository) get(id string) domain.DeliveryRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records[id]
}

func (r *memRepository) history(id string) []domain.DeliveryState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.DeliveryState(nil), r.states[id]...)
}

func (r *memRepository) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// fakeDirectory returns fixed tokens per audience.
type fakeDirectory struct {
	tokens map[domain.Audience][]string
	err    map[domain.Audience]error
}

func (d *fakeDirectory) PushTokens(_ context.Context, audience domain.Audience) ([]string, error) {
	if err := d.err[audience]; err != nil {
		return nil, err
	}
	return d.tokens[audience], nil
}

// fakeSender records calls and reports recipients listed in fail as failed.
type fakeSender struct {
	mu      sync.Mutex
	channel domain.Channel
	fail    map[string]bool
	// drop simulates a sender that loses track of the last n recipients
	drop  int
	calls [][]string
	msgs  []Message
}

func newFakeSender(channel domain.Channel, fail ...string) *fakeSender {
	s := &fakeSender{channel: channel, fail: make(map[string]bool)}
	for _, f := range fail {
		s.fail[f] = true
	}
	return s
}

func (s *fakeSender) Channel() domain.Channel { return s.channel }

func (s *fakeSender) Send(_ context.Context, recipients []string, msg Message) SendResult {
	s.mu.Lock()
	s.calls = append(s.calls, append([]string(nil), recipients...))
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()

	res := SendResult{Provider: "fake"}
	for _, r := range recipients[:len(recipients)-min(s.drop, len(recipients))] {
		if s.fail[r] {
			res.Add(domain.RecipientResult{Recipient: r, Status: domain.RecipientStatusError, Error: "rejected"})
			continue
		}
		res.Add(domain.RecipientResult{Recipient: r, Status: domain.RecipientStatusOK, TicketID: "t-" + r})
	}
	return res
}

func (s *fakeSender) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

var errDirectoryDown = errors.New("directory unavailable")

func validTestToken(token string) bool {
	return len(token) > 4 && token[:4] == "tok-"
}
