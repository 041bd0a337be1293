package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/people/pkg/observability"
)

// ConnectionConfig holds database connection configuration
type ConnectionConfig struct {
	URL         string
	MaxConns    int
	MinConns    int
	Timeout     time.Duration
	MaxLifetime time.Duration
}

// Open connects to PostgreSQL and verifies the connection
func Open(ctx context.Context, config ConnectionConfig, logger logrus.FieldLogger) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	if err := setup(ctx, db, config); err != nil {
		db.Close()
		return nil, err
	}
	if logger != nil {
		logger.WithField("max_conns", config.MaxConns).Info("database connection established")
	}
	return db, nil
}

// setup configures the pool and pings the database
func setup(ctx context.Context, db *sql.DB, config ConnectionConfig) error {
	db.SetMaxOpenConns(config.MaxConns)
	db.SetMaxIdleConns(config.MinConns)
	db.SetConnMaxLifetime(config.MaxLifetime)

	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		return fmt.Errorf("failed to ping database: %w", err)
	}
	return nil
}

// StartStatsRoutine publishes pool statistics to metrics every interval
// until ctx is done
func StartStatsRoutine(ctx context.Context, db *sql.DB, metrics *observability.Metrics, interval time.Duration, logger logrus.FieldLogger) {
	if interval <= 0 {
		interval = 15 * time.Second
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		defer observability.RecoverPanic(logger, "db stats routine")

		for {
			select {
			case <-ticker.C:
				metrics.RecordDBStats(db.Stats())
			case <-ctx.Done():
				return
			}
		}
	}()
}
