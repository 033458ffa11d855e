package counter

import (
	"context"
	"time"

	"github.com/KOMKZ/go-yogan-meter/breaker"
)

// GuardedStore routes every call through a circuit breaker. While the
// breaker is open calls fail with breaker.ErrOpen without reaching the
// backend, so callers apply their unavailability policy immediately.
type GuardedStore struct {
	next    Store
	breaker *breaker.Breaker
}

// NewGuardedStore wraps next with b
func NewGuardedStore(next Store, b *breaker.Breaker) *GuardedStore {
	return &GuardedStore{next: next, breaker: b}
}

func (s *GuardedStore) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (n int64, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		n, err = s.next.IncrBy(ctx, key, amount, ttl)
		return err
	})
	return n, err
}

func (s *GuardedStore) IncrMany(ctx context.Context, deltas []Delta) (out []int64, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		out, err = s.next.IncrMany(ctx, deltas)
		return err
	})
	return out, err
}

func (s *GuardedStore) Get(ctx context.Context, key string) (n int64, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		n, err = s.next.Get(ctx, key)
		return err
	})
	return n, err
}

func (s *GuardedStore) GetMany(ctx context.Context, keys ...string) (out []int64, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		out, err = s.next.GetMany(ctx, keys...)
		return err
	})
	return out, err
}

func (s *GuardedStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.next.Expire(ctx, key, ttl)
	})
}

func (s *GuardedStore) TTL(ctx context.Context, key string) (d time.Duration, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		d, err = s.next.TTL(ctx, key)
		return err
	})
	return d, err
}

func (s *GuardedStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (ok bool, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		ok, err = s.next.SetNX(ctx, key, value, ttl)
		return err
	})
	return ok, err
}

func (s *GuardedStore) Delete(ctx context.Context, keys ...string) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.next.Delete(ctx, keys...)
	})
}

func (s *GuardedStore) PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.breaker.Do(ctx, func(ctx context.Context) error {
		return s.next.PutBlob(ctx, key, value, ttl)
	})
}

func (s *GuardedStore) GetBlob(ctx context.Context, key string) (value []byte, ok bool, err error) {
	err = s.breaker.Do(ctx, func(ctx context.Context) error {
		value, ok, err = s.next.GetBlob(ctx, key)
		return err
	})
	return value, ok, err
}

// Ping goes through the breaker so an open circuit reports unhealthy
func (s *GuardedStore) Ping(ctx context.Context) error {
	return s.breaker.Do(ctx, s.next.Ping)
}

func (s *GuardedStore) Close() error {
	return s.next.Close()
}

// State exposes the breaker state
func (s *GuardedStore) State() breaker.State {
	return s.breaker.State()
}
