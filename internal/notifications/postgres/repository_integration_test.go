//go:build integration

package postgres

import (
	"context"
	"log"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
	pgpkg "github.com/bissquit/notify-dispatch/internal/pkg/postgres"
	"github.com/bissquit/notify-dispatch/internal/testutil"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	pgContainer, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		log.Fatalf("start postgres: %v", err)
	}

	if err := pgpkg.Migrate("file://../../../migrations", pgContainer.ConnectionString); err != nil {
		log.Fatalf("migrate: %v", err)
	}

	testDB, err = pgpkg.Connect(ctx, pgpkg.Config{
		URL:             pgContainer.ConnectionString,
		MaxOpenConns:    5,
		MaxIdleConns:    1,
		ConnMaxLifetime: 5 * time.Minute,
		ConnectAttempts: 3,
	})
	if err != nil {
		log.Fatalf("connect: %v", err)
	}

	code := m.Run()

	testDB.Close()
	if err := pgContainer.Terminate(ctx); err != nil {
		log.Printf("terminate postgres: %v", err)
	}
	os.Exit(code)
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testDB.Exec(context.Background(), `TRUNCATE delivery_records, push_tokens`)
	require.NoError(t, err)
}

// pgNow is truncated to the microsecond precision TIMESTAMPTZ keeps.
func pgNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func TestRepository_CreateGetUpdate(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	now := pgNow()

	rec := domain.NewDeliveryRecord(domain.PushContent{
		Title:    "Flash sale",
		Body:     "Dates 20% off today",
		ImageURL: "https://cdn.example.com/dates.png",
	}, domain.AudienceAll, nil, now)
	rec.CampaignMeta = &domain.CampaignMeta{
		CampaignName:   "ramadan",
		DeepLink:       "app://offers/1",
		AdditionalData: map[string]string{"segment": "vip"},
	}

	require.NoError(t, repo.CreateDelivery(ctx, rec))

	got, err := repo.GetDelivery(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStatePending, got.State)
	assert.Equal(t, "Flash sale", got.Title)
	assert.Equal(t, rec.CampaignMeta, got.CampaignMeta)
	assert.Empty(t, got.Recipients)
	assert.Nil(t, got.ResultMeta)
	assert.True(t, now.Equal(got.CreatedAt))

	require.NoError(t, rec.MarkSending([]string{"tok-1", "tok-2"}, now.Add(time.Second)))
	require.NoError(t, rec.Complete(1, 1, &domain.ResultMeta{
		Provider: "expo",
		Results: []domain.RecipientResult{
			{Recipient: "tok-1", Status: domain.RecipientStatusOK, TicketID: "t-1"},
			{Recipient: "tok-2", Status: domain.RecipientStatusError, Error: "DeviceNotRegistered"},
		},
	}, now.Add(2*time.Second)))
	require.NoError(t, repo.UpdateDelivery(ctx, rec))

	got, err = repo.GetDelivery(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateDelivered, got.State)
	assert.Equal(t, []string{"tok-1", "tok-2"}, got.Recipients)
	assert.Equal(t, 2, got.SentCount)
	assert.Equal(t, 1, got.DeliveredCount)
	assert.Equal(t, 1, got.FailedCount)
	require.NotNil(t, got.SentAt)
	assert.True(t, now.Add(time.Second).Equal(*got.SentAt))
	assert.Equal(t, rec.ResultMeta, got.ResultMeta)
}

func TestRepository_NotFound(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewRepository(testDB)

	_, err := repo.GetDelivery(ctx, "not-a-uuid")
	assert.ErrorIs(t, err, notifications.ErrDeliveryNotFound)

	_, err = repo.GetDelivery(ctx, "6a1c4f0e-7a4e-4f4e-9d0b-2f8b7d0c1a11")
	assert.ErrorIs(t, err, notifications.ErrDeliveryNotFound)

	rec := domain.NewDeliveryRecord(domain.WhatsAppContent{Body: "x"}, domain.AudienceCustom, nil, pgNow())
	assert.ErrorIs(t, repo.UpdateDelivery(ctx, rec), notifications.ErrDeliveryNotFound)
}

func TestRepository_ListDeliveries(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	base := pgNow()

	push := domain.NewDeliveryRecord(domain.PushContent{Title: "t", Body: "b"}, domain.AudienceAll, nil, base)
	mail := domain.NewDeliveryRecord(domain.EmailContent{Subject: "s", Body: "b"}, domain.AudienceCustom, nil, base.Add(time.Second))
	later := base.Add(time.Hour)
	scheduled := domain.NewDeliveryRecord(domain.PushContent{Title: "t", Body: "b"}, domain.AudienceSubscribers, &later, base.Add(2*time.Second))

	for _, rec := range []*domain.DeliveryRecord{push, mail, scheduled} {
		require.NoError(t, repo.CreateDelivery(ctx, rec))
	}

	tests := []struct {
		name   string
		filter notifications.DeliveryFilter
		want   []string
	}{
		{"all newest first", notifications.DeliveryFilter{Limit: 10}, []string{scheduled.ID, mail.ID, push.ID}},
		{"by channel", notifications.DeliveryFilter{Channel: domain.ChannelPush, Limit: 10}, []string{scheduled.ID, push.ID}},
		{"by state", notifications.DeliveryFilter{State: domain.DeliveryStateScheduled, Limit: 10}, []string{scheduled.ID}},
		{"channel and state", notifications.DeliveryFilter{Channel: domain.ChannelEmail, State: domain.DeliveryStatePending, Limit: 10}, []string{mail.ID}},
		{"paginated", notifications.DeliveryFilter{Limit: 1, Offset: 1}, []string{mail.ID}},
		{"past the end", notifications.DeliveryFilter{Limit: 10, Offset: 5}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := repo.ListDeliveries(ctx, tt.filter)
			require.NoError(t, err)

			ids := make([]string, 0, len(records))
			for _, r := range records {
				ids = append(ids, r.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}
}

func TestRepository_ClaimDueDeliveries(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	base := pgNow()

	var due []*domain.DeliveryRecord
	for i := 3; i >= 1; i-- {
		at := base.Add(time.Duration(i) * time.Minute)
		rec := domain.NewDeliveryRecord(domain.PushContent{Title: "t", Body: "b"}, domain.AudienceAll, &at, base)
		require.NoError(t, repo.CreateDelivery(ctx, rec))
		due = append(due, rec)
	}
	future := base.Add(time.Hour)
	notDue := domain.NewDeliveryRecord(domain.PushContent{Title: "t", Body: "b"}, domain.AudienceAll, &future, base)
	require.NoError(t, repo.CreateDelivery(ctx, notDue))

	sweepAt := base.Add(10 * time.Minute)

	claimed, err := repo.ClaimDueDeliveries(ctx, sweepAt, 2)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	// oldest scheduled_for first
	assert.Equal(t, due[2].ID, claimed[0].ID)
	assert.Equal(t, due[1].ID, claimed[1].ID)
	for _, c := range claimed {
		assert.Equal(t, domain.DeliveryStatePending, c.State)
		require.NotNil(t, c.SentAt)
		assert.True(t, sweepAt.Equal(*c.SentAt))
	}

	claimed, err = repo.ClaimDueDeliveries(ctx, sweepAt, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, due[0].ID, claimed[0].ID)

	claimed, err = repo.ClaimDueDeliveries(ctx, sweepAt, 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	got, err := repo.GetDelivery(ctx, notDue.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.DeliveryStateScheduled, got.State)
}

func TestRepository_ClaimDueDeliveries_Concurrent(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	repo := NewRepository(testDB)
	base := pgNow()

	const total = 20
	for i := 0; i < total; i++ {
		at := base.Add(time.Second)
		rec := domain.NewDeliveryRecord(domain.PushContent{Title: "t", Body: "b"}, domain.AudienceAll, &at, base)
		require.NoError(t, repo.CreateDelivery(ctx, rec))
	}

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				claimed, err := repo.ClaimDueDeliveries(ctx, base.Add(time.Minute), 3)
				if !assert.NoError(t, err) || len(claimed) == 0 {
					return
				}
				mu.Lock()
				for _, c := range claimed {
					seen[c.ID]++
				}
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, total)
	for id, n := range seen {
		assert.Equal(t, 1, n, "record %s claimed more than once", id)
	}
}

func TestDirectory_PushTokens(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	dir := NewDirectory(testDB)

	_, err := testDB.Exec(ctx, `
		INSERT INTO push_tokens (token, is_subscriber, is_box_holder, active, created_at) VALUES
			('ExponentPushToken[a]', TRUE,  FALSE, TRUE,  NOW() - INTERVAL '3 minutes'),
			('ExponentPushToken[b]', FALSE, TRUE,  TRUE,  NOW() - INTERVAL '2 minutes'),
			('ExponentPushToken[c]', TRUE,  TRUE,  TRUE,  NOW() - INTERVAL '1 minute'),
			('ExponentPushToken[d]', TRUE,  TRUE,  FALSE, NOW())
	`)
	require.NoError(t, err)

	tests := []struct {
		audience domain.Audience
		want     []string
	}{
		{domain.AudienceAll, []string{"ExponentPushToken[a]", "ExponentPushToken[b]", "ExponentPushToken[c]"}},
		{domain.AudienceSubscribers, []string{"ExponentPushToken[a]", "ExponentPushToken[c]"}},
		{domain.AudienceBoxHolders, []string{"ExponentPushToken[b]", "ExponentPushToken[c]"}},
	}

	for _, tt := range tests {
		t.Run(string(tt.audience), func(t *testing.T) {
			tokens, err := dir.PushTokens(ctx, tt.audience)
			require.NoError(t, err)
			assert.Equal(t, tt.want, tokens)
		})
	}

	_, err = dir.PushTokens(ctx, domain.AudienceCustom)
	assert.Error(t, err)
}
