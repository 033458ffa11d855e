package counter

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript increments every key and sets its expiry only when none is set,
// so a window's expiry is fixed by its first write.
// ARGV holds (amount, ttl_ms) pairs, ttl_ms <= 0 means no expiry.
var incrScript = redis.NewScript(`
local out = {}
for i, key in ipairs(KEYS) do
	local v = redis.call('INCRBY', key, ARGV[2*i-1])
	local ttl = tonumber(ARGV[2*i])
	if ttl > 0 and redis.call('PTTL', key) == -1 then
		redis.call('PEXPIRE', key, ttl)
	end
	out[i] = v
end
return out
`)

// RedisStore Redis storage implementation
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
}

// NewRedisStore creates Redis storage
func NewRedisStore(client redis.UniversalClient, keyPrefix string) *RedisStore {
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) buildKey(key string) string {
	return s.keyPrefix + key
}

// IncrBy atomic increment with expiry on first write
func (s *RedisStore) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	vals, err := s.IncrMany(ctx, []Delta{{Key: key, Amount: amount, TTL: ttl}})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// IncrMany runs all increments in one script call
func (s *RedisStore) IncrMany(ctx context.Context, deltas []Delta) ([]int64, error) {
	if len(deltas) == 0 {
		return nil, nil
	}

	keys := make([]string, len(deltas))
	args := make([]interface{}, 0, 2*len(deltas))
	for i, d := range deltas {
		keys[i] = s.buildKey(d.Key)
		args = append(args, d.Amount, d.TTL.Milliseconds())
	}

	vals, err := incrScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return nil, fmt.Errorf("redis incr failed: %w", err)
	}
	return vals, nil
}

// Get returns 0 for missing keys
func (s *RedisStore) Get(ctx context.Context, key string) (int64, error) {
	val, err := s.client.Get(ctx, s.buildKey(key)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get failed: %w", err)
	}
	return val, nil
}

// GetMany reads all keys with one MGET
func (s *RedisStore) GetMany(ctx context.Context, keys ...string) ([]int64, error) {
	if len(keys) == 0 {
		return nil, nil
	}

	fullKeys := make([]string, len(keys))
	for i, key := range keys {
		fullKeys[i] = s.buildKey(key)
	}

	raw, err := s.client.MGet(ctx, fullKeys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis mget failed: %w", err)
	}

	out := make([]int64, len(raw))
	for i, v := range raw {
		str, ok := v.(string)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(str, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count of %s failed: %w", keys[i], err)
		}
		out[i] = n
	}
	return out, nil
}

// Expire set expiration time
func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.PExpire(ctx, s.buildKey(key), ttl).Err()
}

// TTL remaining time to live
func (s *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	ttl, err := s.client.PTTL(ctx, s.buildKey(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("redis pttl failed: %w", err)
	}
	return ttl, nil
}

// SetNX set-if-absent with ttl in one command
func (s *RedisStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, s.buildKey(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx failed: %w", err)
	}
	return ok, nil
}

// Delete removes keys in one command
func (s *RedisStore) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	full := make([]string, len(keys))
	for i, k := range keys {
		full[i] = s.buildKey(k)
	}
	if err := s.client.Del(ctx, full...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}

// PutBlob stores an opaque value
func (s *RedisStore) PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.buildKey(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

// GetBlob loads an opaque value
func (s *RedisStore) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.client.Get(ctx, s.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get failed: %w", err)
	}
	return val, true, nil
}

// Ping checks the connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close is a no-op, the client belongs to the redis manager
func (s *RedisStore) Close() error {
	return nil
}
