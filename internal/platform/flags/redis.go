// Package flags reads the engine's system flags from Redis. The flags are
// mutated by the admin surface; this side only reads.
package flags

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	keyActiveAdapter = "settlement:active_adapter"
	keyDryRun        = "settlement:dry_run"
	keySafeMode      = "settlement:safe_mode"
)

// DefaultAdapter is used when no adapter flag is set.
const DefaultAdapter = "simulated"

// Config holds Redis connection settings for the flag store.
type Config struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Reader reads system flags from Redis.
type Reader struct {
	client *redis.Client
}

// NewReader connects to Redis and verifies reachability.
func NewReader(cfg Config) (*Reader, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Reader{client: client}, nil
}

// NewReaderWithClient wraps an existing client; used by tests.
func NewReaderWithClient(client *redis.Client) *Reader {
	return &Reader{client: client}
}

// ActiveAdapter returns the configured rail name, or DefaultAdapter when
// the flag is unset.
func (r *Reader) ActiveAdapter(ctx context.Context) (string, error) {
	val, err := r.client.Get(ctx, keyActiveAdapter).Result()
	if err == redis.Nil {
		return DefaultAdapter, nil
	}
	if err != nil {
		return "", fmt.Errorf("read active adapter flag: %w", err)
	}
	if val == "" {
		return DefaultAdapter, nil
	}
	return val, nil
}

// DryRun reports whether the dry-run flag is set. Unset means off.
func (r *Reader) DryRun(ctx context.Context) (bool, error) {
	return r.boolFlag(ctx, keyDryRun)
}

// SafeMode reports whether the global kill-switch is set. Unset means off;
// a read error is the caller's cue to fail closed.
func (r *Reader) SafeMode(ctx context.Context) (bool, error) {
	return r.boolFlag(ctx, keySafeMode)
}

func (r *Reader) boolFlag(ctx context.Context, key string) (bool, error) {
	val, err := r.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read flag %s: %w", key, err)
	}

	enabled, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("flag %s has non-boolean value %q", key, val)
	}
	return enabled, nil
}

// Close releases the Redis connection.
func (r *Reader) Close() error {
	return r.client.Close()
}
