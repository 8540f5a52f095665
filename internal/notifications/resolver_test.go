package notifications

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

func TestResolver_Filter(t *testing.T) {
	r := NewResolver(&fakeDirectory{}, validTestToken)

	tests := []struct {
		name    string
		channel domain.Channel
		raw     []string
		want    []string
	}{
		{
			name:    "push drops malformed tokens",
			channel: domain.ChannelPush,
			raw:     []string{"tok-1", "bad", " tok-2 ", "", "tok-1"},
			want:    []string{"tok-1", "tok-2"},
		},
		{
			name:    "whatsapp trims and drops blanks",
			channel: domain.ChannelWhatsApp,
			raw:     []string{" +15550001", "", "   ", "+15550002 "},
			want:    []string{"+15550001", "+15550002"},
		},
		{
			name:    "whatsapp narrows full-width digits",
			channel: domain.ChannelWhatsApp,
			raw:     []string{"＋１５５５０００１", "+15550002"},
			want:    []string{"+15550001", "+15550002"},
		},
		{
			name:    "whatsapp keeps repeated numbers",
			channel: domain.ChannelWhatsApp,
			raw:     []string{"+15550001", "+15550001"},
			want:    []string{"+15550001", "+15550001"},
		},
		{
			name:    "email validates local@domain",
			channel: domain.ChannelEmail,
			raw:     []string{"a@example.com", "no-at-sign", "x@nodot", "two words@example.com", "b@example.org"},
			want:    []string{"a@example.com", "b@example.org"},
		},
		{
			name:    "email domain is case folded",
			channel: domain.ChannelEmail,
			raw:     []string{"Ann@Example.COM", "Ann@example.com"},
			want:    []string{"Ann@example.com", "Ann@example.com"},
		},
		{
			name:    "nil input",
			channel: domain.ChannelEmail,
			raw:     nil,
			want:    []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Filter(tt.channel, tt.raw))
		})
	}
}

func TestResolver_Filter_NoTokenValidator(t *testing.T) {
	r := NewResolver(&fakeDirectory{}, nil)

	assert.Equal(t, []string{"anything", "else"}, r.Filter(domain.ChannelPush, []string{"anything", " ", "else"}))
}

func TestResolver_Resolve(t *testing.T) {
	dir := &fakeDirectory{
		tokens: map[domain.Audience][]string{
			domain.AudienceAll:         {"tok-1", "tok-2", "legacy"},
			domain.AudienceSubscribers: {"tok-2"},
		},
		err: map[domain.Audience]error{
			domain.AudienceBoxHolders: errDirectoryDown,
		},
	}
	r := NewResolver(dir, validTestToken)
	ctx := context.Background()

	t.Run("directory audience", func(t *testing.T) {
		got, err := r.Resolve(ctx, domain.ChannelPush, domain.AudienceAll, []string{"tok-ignored"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tok-1", "tok-2"}, got)
	})

	t.Run("custom audience uses supplied list", func(t *testing.T) {
		got, err := r.Resolve(ctx, domain.ChannelPush, domain.AudienceCustom, []string{"tok-9"})
		require.NoError(t, err)
		assert.Equal(t, []string{"tok-9"}, got)
	})

	t.Run("empty result is not an error", func(t *testing.T) {
		got, err := r.Resolve(ctx, domain.ChannelEmail, domain.AudienceCustom, []string{"nope"})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("directory error", func(t *testing.T) {
		_, err := r.Resolve(ctx, domain.ChannelPush, domain.AudienceBoxHolders, nil)
		assert.ErrorIs(t, err, errDirectoryDown)
	})

	t.Run("push-only audience on whatsapp", func(t *testing.T) {
		_, err := r.Resolve(ctx, domain.ChannelWhatsApp, domain.AudienceAll, nil)
		assert.ErrorIs(t, err, ErrAudienceNotSupported)
	})
}
