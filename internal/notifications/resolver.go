package notifications

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"golang.org/x/text/cases"
	"golang.org/x/text/width"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

var addressValidator = validator.New()

// TokenValidator reports whether a push token is accepted by the active provider.
type TokenValidator func(token string) bool

// Resolver turns an audience selector into a concrete, validated recipient list.
type Resolver struct {
	directory  Directory
	validToken TokenValidator
}

// NewResolver creates a recipient resolver. validToken may be nil when push is
// disabled; any non-empty token is then accepted.
func NewResolver(directory Directory, validToken TokenValidator) *Resolver {
	return &Resolver{
		directory:  directory,
		validToken: validToken,
	}
}

// Resolve returns the recipients for one (channel, audience) group. custom is
// the caller-supplied list for the channel and is only read for the custom
// audience. An empty result is not an error.
func (r *Resolver) Resolve(ctx context.Context, channel domain.Channel, audience domain.Audience, custom []string) ([]string, error) {
	if !audience.SupportedBy(channel) {
		return nil, fmt.Errorf("%w: %s for %s", ErrAudienceNotSupported, audience, channel)
	}

	candidates := custom
	if audience != domain.AudienceCustom {
		tokens, err := r.directory.PushTokens(ctx, audience)
		if err != nil {
			return nil, fmt.Errorf("load push tokens for %s: %w", audience, err)
		}
		candidates = tokens
	}

	return r.Filter(channel, candidates), nil
}

// Filter normalizes and validates raw addresses for a channel, dropping
// invalid entries while keeping input order. Repeated push tokens are sent
// once; WhatsApp and email lists otherwise pass through as given.
func (r *Resolver) Filter(channel domain.Channel, raw []string) []string {
	out := make([]string, 0, len(raw))
	seen := make(map[string]struct{}, len(raw))

	for _, entry := range raw {
		addr, ok := r.normalize(channel, entry)
		if !ok {
			continue
		}
		if channel == domain.ChannelPush {
			if _, dup := seen[addr]; dup {
				continue
			}
			seen[addr] = struct{}{}
		}
		out = append(out, addr)
	}

	return out
}

func (r *Resolver) normalize(channel domain.Channel, entry string) (string, bool) {
	entry = strings.TrimSpace(entry)
	if entry == "" {
		return "", false
	}

	switch channel {
	case domain.ChannelPush:
		if r.validToken != nil && !r.validToken(entry) {
			return "", false
		}
		return entry, true
	case domain.ChannelWhatsApp:
		// full-width digits and plus signs pasted from mobile keyboards
		return width.Narrow.String(entry), true
	case domain.ChannelEmail:
		if addressValidator.Var(entry, "email") != nil {
			return "", false
		}
		at := strings.LastIndex(entry, "@")
		domainPart := entry[at+1:]
		// single-label domains are not deliverable on the public internet
		if !strings.Contains(domainPart, ".") {
			return "", false
		}
		return entry[:at+1] + cases.Fold().String(domainPart), true
	default:
		return "", false
	}
}
