package metrics

import (
	"context"
	"sync"
	"time"
)

// RequestStats accumulates request outcomes between two samples. The HTTP
// middleware feeds it; the aggregator drains it.
type RequestStats struct {
	mu       sync.Mutex
	requests int64
	errors   int64
	totalDur time.Duration
	maxDur   time.Duration
	since    time.Time
	now      func() time.Time
}

// NewRequestStats creates empty stats
func NewRequestStats() *RequestStats {
	return &RequestStats{now: time.Now, since: time.Now()}
}

// Observe records one request. Status codes >= 500 count as errors.
func (s *RequestStats) Observe(status int, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests++
	if status >= 500 {
		s.errors++
	}
	s.totalDur += d
	if d > s.maxDur {
		s.maxDur = d
	}
}

// CollectApplication returns the aggregates since the previous call and resets them
func (s *RequestStats) CollectApplication(ctx context.Context) (*ApplicationMetrics, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	out := &ApplicationMetrics{Requests: s.requests, Errors: s.errors}
	if s.requests > 0 {
		out.ErrorRate = float64(s.errors) / float64(s.requests) * 100
		out.AvgResponseMS = float64(s.totalDur) / float64(s.requests) / float64(time.Millisecond)
		out.MaxResponseMS = float64(s.maxDur) / float64(time.Millisecond)
	}
	if elapsed := now.Sub(s.since).Seconds(); elapsed > 0 {
		out.RequestsPerSec = float64(s.requests) / elapsed
	}

	s.requests, s.errors, s.totalDur, s.maxDur = 0, 0, 0, 0
	s.since = now
	return out, nil
}
