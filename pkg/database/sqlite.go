package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Config controls the SQLite connection.
type Config struct {
	Path         string
	MaxOpenConns int
	MaxRetries   int
	RetryBackoff time.Duration
}

// DB wraps a gorm handle with transaction retry policy.
type DB struct {
	gorm       *gorm.DB
	maxRetries int
	backoff    time.Duration
}

// Open connects to the SQLite file at cfg.Path and migrates the given models.
func Open(cfg Config, models ...interface{}) (*DB, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, fmt.Errorf("database: path is required")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("database: create dir: %w", err)
		}
	}
	// immediate transactions take the write lock up front, so two writers never
	// deadlock upgrading a shared lock.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL&_txlock=immediate&_foreign_keys=1", path)
	gdb, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:                                   logger.Default.LogMode(logger.Silent),
		DisableForeignKeyConstraintWhenMigrating: true,
		NowFunc:                                  func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("database: open: %w", err)
	}
	if len(models) > 0 {
		if err := gdb.AutoMigrate(models...); err != nil {
			return nil, fmt.Errorf("database: migrate: %w", err)
		}
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	conns := cfg.MaxOpenConns
	if conns <= 0 {
		conns = 1
	}
	sqlDB.SetMaxOpenConns(conns)
	sqlDB.SetMaxIdleConns(conns)

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 1
	}
	backoff := cfg.RetryBackoff
	if backoff <= 0 {
		backoff = 20 * time.Millisecond
	}
	return &DB{gorm: gdb, maxRetries: retries, backoff: backoff}, nil
}

// Gorm exposes the underlying handle.
func (d *DB) Gorm() *gorm.DB { return d.gorm }

// Conn returns a handle bound to ctx.
func (d *DB) Conn(ctx context.Context) *gorm.DB { return d.gorm.WithContext(ctx) }

// InTx runs fn in a transaction, retrying the whole transaction when the
// database reports lock contention. fn must be safe to re-run.
func (d *DB) InTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= d.maxRetries; attempt++ {
		err = d.gorm.WithContext(ctx).Transaction(fn)
		if err == nil || !IsRetryable(err) {
			return err
		}
		if attempt == d.maxRetries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * d.backoff):
		}
	}
	return fmt.Errorf("database: transaction gave up after %d attempts: %w", d.maxRetries, err)
}

// IsRetryable reports whether err is a transient lock/serialization failure.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy") ||
		strings.Contains(msg, "could not serialize access")
}

// Ping checks that the database file is still reachable.
func (d *DB) Ping(ctx context.Context) error {
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the underlying connection pool.
func (d *DB) Close() error {
	if d == nil || d.gorm == nil {
		return nil
	}
	sqlDB, err := d.gorm.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
