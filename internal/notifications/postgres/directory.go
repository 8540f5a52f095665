package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/notify-dispatch/internal/domain"
)

// Directory implements notifications.Directory over the push_tokens table.
type Directory struct {
	db *pgxpool.Pool
}

// NewDirectory creates a new PostgreSQL push token directory.
func NewDirectory(db *pgxpool.Pool) *Directory {
	return &Directory{db: db}
}

// PushTokens returns active tokens registered for the audience.
func (d *Directory) PushTokens(ctx context.Context, audience domain.Audience) ([]string, error) {
	query := `SELECT token FROM push_tokens WHERE active`
	switch audience {
	case domain.AudienceAll:
	case domain.AudienceSubscribers:
		query += ` AND is_subscriber`
	case domain.AudienceBoxHolders:
		query += ` AND is_box_holder`
	default:
		return nil, fmt.Errorf("audience %q has no directory source", audience)
	}
	query += ` ORDER BY created_at`

	rows, err := d.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query push tokens: %w", err)
	}
	defer rows.Close()

	tokens := make([]string, 0)
	for rows.Next() {
		var token string
		if err := rows.Scan(&token); err != nil {
			return nil, fmt.Errorf("scan push token: %w", err)
		}
		tokens = append(tokens, token)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate push tokens: %w", err)
	}

	return tokens, nil
}
