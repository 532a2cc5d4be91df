package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// PostgresConfig holds PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the lib/pq connection string.
func (c PostgresConfig) DSN() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.Username, c.Password, c.Database, sslMode,
	)
}

// RetryOptions configures the connection retry behavior
type RetryOptions struct {
	// MaxAttempts is the maximum number of connection attempts (default: 30)
	MaxAttempts int
	// InitialDelay is the delay before the first retry (default: 1s)
	InitialDelay time.Duration
	// MaxDelay is the maximum delay between retries (default: 10s)
	MaxDelay time.Duration
}

// DefaultRetryOptions waits out a database container that is still starting.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  30,
		InitialDelay: 1 * time.Second,
		MaxDelay:     10 * time.Second,
	}
}

// OpenPostgres connects once and prepares the kv table.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*SQLKV, error) {
	db, err := sql.Open(string(DialectPostgres), cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	kv, err := NewSQLKV(ctx, db, DialectPostgres)
	if err != nil {
		db.Close()
		return nil, err
	}
	return kv, nil
}

// OpenPostgresWithRetry retries OpenPostgres with doubling delays.
func OpenPostgresWithRetry(ctx context.Context, cfg PostgresConfig, opts *RetryOptions) (*SQLKV, error) {
	if opts == nil {
		defaultOpts := DefaultRetryOptions()
		opts = &defaultOpts
	}

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		kv, err := OpenPostgres(ctx, cfg)
		if err == nil {
			return kv, nil
		}
		lastErr = err

		if attempt == opts.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled: %w", ctx.Err())
		case <-time.After(retryDelay(*opts, attempt)):
		}
	}

	return nil, fmt.Errorf("failed after %d attempts: %w", opts.MaxAttempts, lastErr)
}

func retryDelay(opts RetryOptions, attempt int) time.Duration {
	delay := opts.InitialDelay * time.Duration(1<<(attempt-1))
	if delay > opts.MaxDelay || delay <= 0 {
		delay = opts.MaxDelay
	}
	return delay
}
