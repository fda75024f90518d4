// Package stopflag lets one process ask a running send in another process to stop,
// through a Redis key scoped to the batch.
package stopflag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a forgotten flag lingers.
	DefaultTTL = 24 * time.Hour

	keyPrefix = "zipmailer:stop:"
)

// Flag is a dispatch.Token backed by Redis.
type Flag struct {
	rdb     *redis.Client
	batchID string
	ttl     time.Duration
	logger  *slog.Logger
}

// Connect creates a client for addr and pings it.
func Connect(ctx context.Context, addr, password string, db int) (*redis.Client, error) {
	if addr == "" {
		return nil, errors.New("redis address is required")
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return rdb, nil
}

// New returns the flag for batchID. A zero ttl uses DefaultTTL.
func New(rdb *redis.Client, batchID string, ttl time.Duration, logger *slog.Logger) *Flag {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Flag{rdb: rdb, batchID: batchID, ttl: ttl, logger: logger}
}

func (f *Flag) key() string { return keyPrefix + f.batchID }

// Raise asks the running send for this batch to stop.
func (f *Flag) Raise(ctx context.Context) error {
	if err := f.rdb.Set(ctx, f.key(), time.Now().UTC().Format(time.RFC3339), f.ttl).Err(); err != nil {
		return fmt.Errorf("raise stop flag: %w", err)
	}
	return nil
}

// Clear removes the flag, done at the start of every send.
func (f *Flag) Clear(ctx context.Context) error {
	if err := f.rdb.Del(ctx, f.key()).Err(); err != nil {
		return fmt.Errorf("clear stop flag: %w", err)
	}
	return nil
}

// Cancelled reports whether the flag is raised. Redis errors read as not cancelled.
func (f *Flag) Cancelled(ctx context.Context) bool {
	n, err := f.rdb.Exists(ctx, f.key()).Result()
	if err != nil {
		f.logger.Warn("Stop flag check failed.", slog.String("batch_id", f.batchID), "error", err)
		return false
	}
	return n > 0
}
