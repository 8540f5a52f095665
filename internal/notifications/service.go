package notifications

import (
	"context"
	"fmt"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// Service provides the notification API operations.
type Service struct {
	repo       Repository
	dispatcher *Dispatcher
}

// NewService creates a new notifications service.
func NewService(repo Repository, dispatcher *Dispatcher) *Service {
	return &Service{
		repo:       repo,
		dispatcher: dispatcher,
	}
}

// Dispatch sends or schedules a notification.
func (s *Service) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	return s.dispatcher.Dispatch(ctx, req)
}

// ProcessScheduled runs one sweep over due scheduled deliveries.
func (s *Service) ProcessScheduled(ctx context.Context) ([]SweepOutcome, error) {
	return s.dispatcher.Sweep(ctx, s.dispatcher.now())
}

// GetDelivery returns one delivery record.
func (s *Service) GetDelivery(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	return s.repo.GetDelivery(ctx, id)
}

// ListDeliveries returns delivery records, newest first.
func (s *Service) ListDeliveries(ctx context.Context, filter DeliveryFilter) ([]domain.DeliveryRecord, error) {
	if filter.Channel != "" && !filter.Channel.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownChannel, filter.Channel)
	}
	if filter.State != "" && !filter.State.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidState, filter.State)
	}
	return s.repo.ListDeliveries(ctx, filter.Normalize())
}

// AvailableChannels returns the channels that can currently be dispatched.
func (s *Service) AvailableChannels() []domain.Channel {
	return s.dispatcher.Channels()
}
