package counter

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"
)

type memoryValue struct {
	data     string
	expireAt time.Time
}

// MemoryStore is a single-process Store. One mutex makes every operation atomic.
type MemoryStore struct {
	mu     sync.Mutex
	data   map[string]*memoryValue
	now    func() time.Time
	closed bool
	stop   chan struct{}
}

// MemoryOption configures a MemoryStore
type MemoryOption func(*MemoryStore)

// WithClock overrides the wall clock used for expiry
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) { s.now = now }
}

// NewMemoryStore creates memory storage and starts its cleanup loop
func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		data: make(map[string]*memoryValue),
		now:  time.Now,
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop(time.Minute)
	return s
}

// lookup returns the live value, dropping it when expired. Caller holds mu.
func (s *MemoryStore) lookup(key string) (*memoryValue, bool) {
	v, ok := s.data[key]
	if !ok {
		return nil, false
	}
	if !v.expireAt.IsZero() && !s.now().Before(v.expireAt) {
		delete(s.data, key)
		return nil, false
	}
	return v, true
}

func (s *MemoryStore) expiry(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return s.now().Add(ttl)
}

// IncrBy atomic increment with expiry on first write
func (s *MemoryStore) IncrBy(ctx context.Context, key string, amount int64, ttl time.Duration) (int64, error) {
	vals, err := s.IncrMany(ctx, []Delta{{Key: key, Amount: amount, TTL: ttl}})
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// IncrMany applies all deltas under one lock
func (s *MemoryStore) IncrMany(ctx context.Context, deltas []Delta) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	// validate first so a bad key leaves every counter untouched
	for _, d := range deltas {
		if v, ok := s.lookup(d.Key); ok {
			if _, err := strconv.ParseInt(v.data, 10, 64); err != nil {
				return nil, fmt.Errorf("parse current value of %s failed: %w", d.Key, err)
			}
		}
	}

	out := make([]int64, len(deltas))
	for i, d := range deltas {
		v, ok := s.lookup(d.Key)
		if !ok {
			v = &memoryValue{data: "0", expireAt: s.expiry(d.TTL)}
			s.data[d.Key] = v
		} else if v.expireAt.IsZero() && d.TTL > 0 {
			v.expireAt = s.expiry(d.TTL)
		}
		n, _ := strconv.ParseInt(v.data, 10, 64)
		out[i] = n + d.Amount
		v.data = strconv.FormatInt(out[i], 10)
	}
	return out, nil
}

// Get returns 0 for missing keys
func (s *MemoryStore) Get(ctx context.Context, key string) (int64, error) {
	vals, err := s.GetMany(ctx, key)
	if err != nil {
		return 0, err
	}
	return vals[0], nil
}

// GetMany reads all keys under one lock
func (s *MemoryStore) GetMany(ctx context.Context, keys ...string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrStoreClosed
	}

	out := make([]int64, len(keys))
	for i, key := range keys {
		v, ok := s.lookup(key)
		if !ok {
			continue
		}
		n, err := strconv.ParseInt(v.data, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse count of %s failed: %w", key, err)
		}
		out[i] = n
	}
	return out, nil
}

// Expire set expiration time
func (s *MemoryStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	if v, ok := s.lookup(key); ok {
		v.expireAt = s.expiry(ttl)
	}
	return nil
}

// TTL mirrors Redis PTTL: -2 missing, -1 no expiry
func (s *MemoryStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrStoreClosed
	}
	v, ok := s.lookup(key)
	if !ok {
		return -2, nil
	}
	if v.expireAt.IsZero() {
		return -1, nil
	}
	return v.expireAt.Sub(s.now()), nil
}

// SetNX set-if-absent with ttl
func (s *MemoryStore) SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false, ErrStoreClosed
	}
	if _, ok := s.lookup(key); ok {
		return false, nil
	}
	s.data[key] = &memoryValue{data: value, expireAt: s.expiry(ttl)}
	return true, nil
}

// Delete removes keys
func (s *MemoryStore) Delete(ctx context.Context, keys ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	for _, k := range keys {
		delete(s.data, k)
	}
	return nil
}

// PutBlob stores an opaque value
func (s *MemoryStore) PutBlob(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	s.data[key] = &memoryValue{data: string(value), expireAt: s.expiry(ttl)}
	return nil
}

// GetBlob loads an opaque value
func (s *MemoryStore) GetBlob(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, false, ErrStoreClosed
	}
	v, ok := s.lookup(key)
	if !ok {
		return nil, false, nil
	}
	return []byte(v.data), true, nil
}

// Ping fails once closed
func (s *MemoryStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

// Close stops the cleanup loop
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.stop)
	}
	return nil
}

func (s *MemoryStore) cleanupLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			for key := range s.data {
				s.lookup(key)
			}
			s.mu.Unlock()
		}
	}
}
