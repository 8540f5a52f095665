// Package mongodb provides MongoDB connection utilities.
package mongodb

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/bissquit/notify-dispatch/internal/pkg/retry"
)

// Config contains MongoDB connection configuration.
type Config struct {
	URI             string
	Database        string
	MaxPoolSize     uint64
	ConnectTimeout  time.Duration
	ConnectAttempts int
	// PoolMonitor, when set, receives connection pool events.
	PoolMonitor *event.PoolMonitor
}

// Connect opens a client, verifies it with a ping and returns the configured database.
func Connect(ctx context.Context, cfg Config) (*mongo.Client, *mongo.Database, error) {
	if cfg.Database == "" {
		return nil, nil, errors.New("mongodb database name is required")
	}

	opts := options.Client().ApplyURI(cfg.URI)
	if cfg.MaxPoolSize > 0 {
		opts.SetMaxPoolSize(cfg.MaxPoolSize)
	}
	if cfg.PoolMonitor != nil {
		opts.SetPoolMonitor(cfg.PoolMonitor)
	}
	if cfg.ConnectTimeout > 0 {
		opts.SetConnectTimeout(cfg.ConnectTimeout)
		opts.SetServerSelectionTimeout(cfg.ConnectTimeout)
	}

	var client *mongo.Client
	err := retry.Do(ctx, cfg.ConnectAttempts, "connect to mongodb", func(ctx context.Context) error {
		c, err := mongo.Connect(ctx, opts)
		if err != nil {
			return err
		}
		if err := c.Ping(ctx, readpref.Primary()); err != nil {
			_ = c.Disconnect(context.Background())
			return err
		}
		client = c
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	return client, client.Database(cfg.Database), nil
}
