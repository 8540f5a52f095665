package notifications

import "errors"

// Repository errors.
var (
	ErrDeliveryNotFound = errors.New("delivery record not found")
	ErrInvalidState     = errors.New("unknown delivery state")
)

// Dispatch validation errors.
var (
	ErrNoAudience           = errors.New("at least one user group is required")
	ErrInvalidAudience      = errors.New("unknown user group")
	ErrAudienceNotSupported = errors.New("user group is not supported for this channel")
	ErrChannelUnavailable   = errors.New("channel is not available")
)
