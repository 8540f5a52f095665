// Package notifications provides multi-channel notification dispatch and delivery tracking.
package notifications

import (
	"context"
	"time"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// Repository defines the interface for delivery record persistence.
type Repository interface {
	CreateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error
	UpdateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error
	GetDelivery(ctx context.Context, id string) (*domain.DeliveryRecord, error)
	ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]domain.DeliveryRecord, error)

	// ClaimDueDeliveries atomically moves up to limit Scheduled records with
	// scheduled_for <= now to Pending, setting sent_at to now, and returns them.
	// A record is returned by at most one call.
	ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error)
}

// Directory resolves directory-backed audiences to registered push tokens.
// It is read-only from the engine's point of view.
type Directory interface {
	PushTokens(ctx context.Context, audience domain.Audience) ([]string, error)
}

// DeliveryFilter narrows ListDeliveries.
type DeliveryFilter struct {
	Channel domain.Channel
	State   domain.DeliveryState
	Limit   int
	Offset  int
}

// Listing bounds.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// Normalize applies default and maximum limits.
func (f DeliveryFilter) Normalize() DeliveryFilter {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	if f.Limit > MaxListLimit {
		f.Limit = MaxListLimit
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
	return f
}
