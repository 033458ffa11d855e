// Package counter provides the windowed counter store shared by metering,
// rate limiting, metric samples and alert cooldowns.
//
// Every mutation is a single atomic operation: increment-with-expiry or
// set-if-absent-with-ttl. There is no business logic here.
package counter

import (
	"context"
	"errors"
	"time"

	"github.com/KOMKZ/go-yogan-meter/breaker"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// ErrStoreClosed is returned after Close
var ErrStoreClosed = errors.New("counter store is closed")

// Delta is one increment of a multi-key update
type Delta struct {
	Key    string
	Amount int64
	// TTL is applied only when the key has no expiry yet. Zero means never expire.
	TTL time.Duration
}

// Store atomic counter storage
type Store interface {
	// IncrBy increments key by amount and fixes its expiry on first write
	IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error)

	// IncrMany applies several deltas in one round trip and returns the new values in order
	IncrMany(ctx context.Context, deltas []Delta) ([]int64, error)

	// Get returns the counter value, 0 when missing
	Get(ctx context.Context, key string) (int64, error)

	// GetMany reads several counters in one round trip, 0 for missing keys
	GetMany(ctx context.Context, keys ...string) ([]int64, error)

	// Expire sets the key expiry
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// TTL returns the remaining time to live, negative when the key has none or is missing
	TTL(ctx context.Context, key string) (time.Duration, error)

	// SetNX stores value only when key is absent and reports whether it did
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)

	// Delete removes keys; missing keys are ignored
	Delete(ctx context.Context, keys ...string) error

	// PutBlob stores an opaque value with expiry
	PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// GetBlob loads an opaque value, ok=false when missing
	GetBlob(ctx context.Context, key string) (value []byte, ok bool, err error)

	// Ping checks the backend
	Ping(ctx context.Context) error

	// Close releases resources
	Close() error
}

// StoreType storage type
type StoreType string

const (
	// StoreTypeMemory Memory Storage
	StoreTypeMemory StoreType = "memory"

	// StoreTypeRedis Redis storage
	StoreTypeRedis StoreType = "redis"
)

// Config counter store configuration
type Config struct {
	Type          StoreType `mapstructure:"type"`
	RedisInstance string    `mapstructure:"redis_instance"`
	KeyPrefix     string    `mapstructure:"key_prefix"`
	// Breaker short-circuits store calls after repeated failures
	Breaker breaker.Config `mapstructure:"breaker"`
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Type == "" {
		c.Type = StoreTypeRedis
	}
	if c.RedisInstance == "" {
		c.RedisInstance = "main"
	}
	if c.KeyPrefix == "" {
		c.KeyPrefix = "meter:"
	}
	if c.Breaker.Enabled {
		c.Breaker.ApplyDefaults()
	}
}

// Validate configuration
func (c Config) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Type, validation.Required, validation.In(StoreTypeMemory, StoreTypeRedis)),
		validation.Field(&c.RedisInstance, validation.When(c.Type == StoreTypeRedis, validation.Required)),
		validation.Field(&c.Breaker, validation.Skip.When(!c.Breaker.Enabled)),
	)
}
