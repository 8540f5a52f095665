package app

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bissquit/notify-dispatch/internal/config"
	"github.com/bissquit/notify-dispatch/internal/notifications"
	notificationsmongo "github.com/bissquit/notify-dispatch/internal/notifications/mongo"
	notificationspostgres "github.com/bissquit/notify-dispatch/internal/notifications/postgres"
	"github.com/bissquit/notify-dispatch/internal/pkg/metrics"
	"github.com/bissquit/notify-dispatch/internal/pkg/mongodb"
	"github.com/bissquit/notify-dispatch/internal/pkg/postgres"
)

// store bundles the persistence backends selected by storage.driver.
type store struct {
	repo      notifications.Repository
	directory notifications.Directory
	ping      func(ctx context.Context) error
	close     func()
}

func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.Storage.Driver {
	case config.StoragePostgres:
		return openPostgres(ctx, cfg.Database)
	default:
		return openMongo(ctx, cfg.Mongo)
	}
}

func openMongo(ctx context.Context, cfg config.MongoConfig) (*store, error) {
	connectCtx, cancel := context.WithTimeout(ctx, connectBudget(cfg.ConnectTimeout, cfg.ConnectAttempts))
	defer cancel()

	client, db, err := mongodb.Connect(connectCtx, mongodb.Config{
		URI:             cfg.URI,
		Database:        cfg.Database,
		MaxPoolSize:     cfg.MaxPoolSize,
		ConnectTimeout:  cfg.ConnectTimeout,
		ConnectAttempts: cfg.ConnectAttempts,
		PoolMonitor:     metrics.NewMongoPoolMonitor(cfg.MaxPoolSize).PoolMonitor(),
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}

	repo := notificationsmongo.NewRepository(db)
	if err := repo.EnsureIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	return &store{
		repo:      repo,
		directory: notificationsmongo.NewDirectory(db),
		ping: func(ctx context.Context) error {
			return client.Ping(ctx, nil)
		},
		close: func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = client.Disconnect(ctx)
		},
	}, nil
}

func openPostgres(ctx context.Context, cfg config.DatabaseConfig) (*store, error) {
	if cfg.AutoMigrate {
		if err := postgres.Migrate(cfg.MigrationsPath, cfg.URL); err != nil {
			return nil, err
		}
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectBudget(cfg.ConnectTimeout, cfg.ConnectAttempts))
	defer cancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.URL,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnectAttempts: cfg.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(ctx)
	go collectDBMetrics(metricsCtx, db)

	return &store{
		repo:      notificationspostgres.NewRepository(db),
		directory: notificationspostgres.NewDirectory(db),
		ping:      db.Ping,
		close: func() {
			metricsCancel()
			db.Close()
		},
	}, nil
}

// connectBudget bounds the whole retry loop, backoff included.
func connectBudget(timeout time.Duration, attempts int) time.Duration {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return timeout + time.Duration(max(attempts, 1))*16*time.Second
}

func collectDBMetrics(ctx context.Context, db *pgxpool.Pool) {
	// Collect immediately on start
	metrics.RecordPgxPoolStats(db)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordPgxPoolStats(db)
		case <-ctx.Done():
			return
		}
	}
}
