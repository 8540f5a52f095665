// Package postgres provides PostgreSQL implementation of notifications repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/notify-dispatch/internal/domain"
	"github.com/bissquit/notify-dispatch/internal/notifications"
)

const deliveryColumns = `id, channel, audience, title, subject, body, image_url, template_id, campaign_meta,
	state, scheduled_for, sent_at, recipients, sent_count, delivered_count, failed_count, result_meta,
	created_at, updated_at`

// Repository implements notifications.Repository using PostgreSQL.
type Repository struct {
	db *pgxpool.Pool
}

// NewRepository creates a new PostgreSQL repository.
func NewRepository(db *pgxpool.Pool) *Repository {
	return &Repository{db: db}
}

// CreateDelivery inserts a new delivery record.
func (r *Repository) CreateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	campaignMeta, resultMeta, err := marshalMeta(rec)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO delivery_records (` + deliveryColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err = r.db.Exec(ctx, query,
		rec.ID,
		rec.Channel,
		rec.Audience,
		rec.Title,
		rec.Subject,
		rec.Body,
		rec.ImageURL,
		rec.TemplateID,
		campaignMeta,
		rec.State,
		rec.ScheduledFor,
		rec.SentAt,
		recipients(rec),
		rec.SentCount,
		rec.DeliveredCount,
		rec.FailedCount,
		resultMeta,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert delivery record: %w", err)
	}
	return nil
}

// UpdateDelivery persists the mutable state of a delivery record.
func (r *Repository) UpdateDelivery(ctx context.Context, rec *domain.DeliveryRecord) error {
	_, resultMeta, err := marshalMeta(rec)
	if err != nil {
		return err
	}

	query := `
		UPDATE delivery_records
		SET state = $2, sent_at = $3, recipients = $4, sent_count = $5,
			delivered_count = $6, failed_count = $7, result_meta = $8, updated_at = $9
		WHERE id = $1
	`
	result, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.State,
		rec.SentAt,
		recipients(rec),
		rec.SentCount,
		rec.DeliveredCount,
		rec.FailedCount,
		resultMeta,
		rec.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("update delivery record: %w", err)
	}
	if result.RowsAffected() == 0 {
		return notifications.ErrDeliveryNotFound
	}
	return nil
}

// GetDelivery retrieves a delivery record by ID.
func (r *Repository) GetDelivery(ctx context.Context, id string) (*domain.DeliveryRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, notifications.ErrDeliveryNotFound
	}

	query := `SELECT ` + deliveryColumns + ` FROM delivery_records WHERE id = $1`

	rec, err := scanDelivery(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, notifications.ErrDeliveryNotFound
		}
		return nil, fmt.Errorf("get delivery record: %w", err)
	}
	return rec, nil
}

// ListDeliveries returns delivery records matching filter, newest first.
func (r *Repository) ListDeliveries(ctx context.Context, filter notifications.DeliveryFilter) ([]domain.DeliveryRecord, error) {
	var (
		conds []string
		args  []interface{}
	)
	if filter.Channel != "" {
		args = append(args, filter.Channel)
		conds = append(conds, fmt.Sprintf("channel = $%d", len(args)))
	}
	if filter.State != "" {
		args = append(args, filter.State)
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}

	query := `SELECT ` + deliveryColumns + ` FROM delivery_records`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	args = append(args, filter.Limit, filter.Offset)
	query += fmt.Sprintf(" ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list delivery records: %w", err)
	}
	defer rows.Close()

	records := make([]domain.DeliveryRecord, 0)
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan delivery record: %w", err)
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate delivery records: %w", err)
	}

	return records, nil
}

// ClaimDueDeliveries moves due scheduled records to pending in one statement.
// SKIP LOCKED keeps concurrent sweeps from claiming the same rows.
func (r *Repository) ClaimDueDeliveries(ctx context.Context, now time.Time, limit int) ([]*domain.DeliveryRecord, error) {
	query := `
		UPDATE delivery_records
		SET state = 'pending', sent_at = $1, updated_at = $1
		WHERE id IN (
			SELECT id FROM delivery_records
			WHERE state = 'scheduled' AND scheduled_for <= $1
			ORDER BY scheduled_for ASC
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		RETURNING ` + deliveryColumns

	rows, err := r.db.Query(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim due deliveries: %w", err)
	}
	defer rows.Close()

	claimed := make([]*domain.DeliveryRecord, 0)
	for rows.Next() {
		rec, err := scanDelivery(rows)
		if err != nil {
			return nil, fmt.Errorf("scan claimed delivery: %w", err)
		}
		claimed = append(claimed, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate claimed deliveries: %w", err)
	}

	// RETURNING does not preserve the subquery order.
	sort.SliceStable(claimed, func(i, j int) bool {
		return claimed[i].ScheduledFor.Before(*claimed[j].ScheduledFor)
	})

	return claimed, nil
}

func scanDelivery(row pgx.Row) (*domain.DeliveryRecord, error) {
	var (
		rec          domain.DeliveryRecord
		campaignMeta []byte
		resultMeta   []byte
	)
	err := row.Scan(
		&rec.ID,
		&rec.Channel,
		&rec.Audience,
		&rec.Title,
		&rec.Subject,
		&rec.Body,
		&rec.ImageURL,
		&rec.TemplateID,
		&campaignMeta,
		&rec.State,
		&rec.ScheduledFor,
		&rec.SentAt,
		&rec.Recipients,
		&rec.SentCount,
		&rec.DeliveredCount,
		&rec.FailedCount,
		&resultMeta,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(campaignMeta) > 0 {
		rec.CampaignMeta = &domain.CampaignMeta{}
		if err := json.Unmarshal(campaignMeta, rec.CampaignMeta); err != nil {
			return nil, fmt.Errorf("decode campaign meta: %w", err)
		}
	}
	if len(resultMeta) > 0 {
		rec.ResultMeta = &domain.ResultMeta{}
		if err := json.Unmarshal(resultMeta, rec.ResultMeta); err != nil {
			return nil, fmt.Errorf("decode result meta: %w", err)
		}
	}
	if rec.Recipients == nil {
		rec.Recipients = []string{}
	}

	return &rec, nil
}

func marshalMeta(rec *domain.DeliveryRecord) (campaign, result []byte, err error) {
	if rec.CampaignMeta != nil {
		if campaign, err = json.Marshal(rec.CampaignMeta); err != nil {
			return nil, nil, fmt.Errorf("encode campaign meta: %w", err)
		}
	}
	if rec.ResultMeta != nil {
		if result, err = json.Marshal(rec.ResultMeta); err != nil {
			return nil, nil, fmt.Errorf("encode result meta: %w", err)
		}
	}
	return campaign, result, nil
}

func recipients(rec *domain.DeliveryRecord) []string {
	if rec.Recipients == nil {
		return []string{}
	}
	return rec.Recipients
}
