package metrics

import (
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.mongodb.org/mongo-driver/event"
)

// Storage driver labels for DBPoolConnections.
const (
	DriverPostgres = "postgres"
	DriverMongoDB  = "mongodb"
)

// defaultMongoMaxPool is the driver default when maxPoolSize is unset.
const defaultMongoMaxPool = 100

// PoolStats is a point-in-time view of a connection pool.
type PoolStats struct {
	InUse int
	Idle  int
	Max   int
}

// RecordPoolStats publishes pool state for a storage driver.
func RecordPoolStats(driver string, s PoolStats) {
	DBPoolConnections.WithLabelValues(driver, "in_use").Set(float64(s.InUse))
	DBPoolConnections.WithLabelValues(driver, "idle").Set(float64(s.Idle))
	DBPoolConnections.WithLabelValues(driver, "max").Set(float64(s.Max))
}

// RecordPgxPoolStats samples a pgx pool. pgx keeps no event hooks for this,
// so callers poll it.
func RecordPgxPoolStats(pool *pgxpool.Pool) {
	stats := pool.Stat()
	RecordPoolStats(DriverPostgres, PoolStats{
		InUse: int(stats.AcquiredConns()),
		Idle:  int(stats.IdleConns()),
		Max:   int(stats.MaxConns()),
	})
}

// MongoPoolMonitor derives pool state from mongo driver connection events.
type MongoPoolMonitor struct {
	mu    sync.Mutex
	open  int
	inUse int
	max   int
}

// NewMongoPoolMonitor creates a monitor for a client with the given pool size.
func NewMongoPoolMonitor(maxPoolSize uint64) *MongoPoolMonitor {
	m := &MongoPoolMonitor{max: int(maxPoolSize)}
	if m.max == 0 {
		m.max = defaultMongoMaxPool
	}
	return m
}

// PoolMonitor returns the hook to pass to options.Client().SetPoolMonitor.
func (m *MongoPoolMonitor) PoolMonitor() *event.PoolMonitor {
	return &event.PoolMonitor{Event: m.handle}
}

func (m *MongoPoolMonitor) handle(e *event.PoolEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Type {
	case event.ConnectionCreated:
		m.open++
	case event.ConnectionClosed:
		m.open = max(m.open-1, 0)
	case event.GetSucceeded:
		m.inUse++
	case event.ConnectionReturned:
		m.inUse = max(m.inUse-1, 0)
	default:
		return
	}

	RecordPoolStats(DriverMongoDB, PoolStats{
		InUse: m.inUse,
		Idle:  max(m.open-m.inUse, 0),
		Max:   m.max,
	})
}
