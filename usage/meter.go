// Package usage records usage events into the windowed counters and the
// durable usage log.
package usage

import (
	"context"
	"strings"
	"time"

	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/KOMKZ/go-yogan-meter/worker"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Event is one usage occurrence
type Event struct {
	EntityID string            `json:"entity_id"`
	Metric   string            `json:"metric"`
	Amount   int64             `json:"amount"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Recorded reports the counter values after an event.
// Degraded is set when the counter store could not be written.
type Recorded struct {
	EntityID   string                   `json:"entity_id"`
	Metric     plan.Metric              `json:"metric"`
	Amount     int64                    `json:"amount"`
	Counters   map[counter.Window]int64 `json:"counters,omitempty"`
	RecordedAt time.Time                `json:"recorded_at"`
	Degraded   bool                     `json:"degraded,omitempty"`
}

// FollowUp runs after a successful counter write, off the request path
type FollowUp func(ctx context.Context, entityID string, metric plan.Metric)

// Meter writes usage events
type Meter struct {
	store     counter.Store
	log       LogWriter
	pool      worker.Submitter
	followUps []FollowUp
	opTimeout time.Duration
	now       func() time.Time
	logger    *logger.CtxZapLogger
	metrics   *meterMetrics
}

// Option configures a Meter
type Option func(*Meter)

// WithLog sets the durable usage log
func WithLog(l LogWriter) Option {
	return func(m *Meter) { m.log = l }
}

// WithPool sets the background submitter
func WithPool(p worker.Submitter) Option {
	return func(m *Meter) { m.pool = p }
}

// WithFollowUp adds a hook run after each counted event
func WithFollowUp(f FollowUp) Option {
	return func(m *Meter) { m.followUps = append(m.followUps, f) }
}

// WithOpTimeout bounds the counter round trip
func WithOpTimeout(d time.Duration) Option {
	return func(m *Meter) { m.opTimeout = d }
}

// WithClock overrides time.Now
func WithClock(now func() time.Time) Option {
	return func(m *Meter) { m.now = now }
}

// WithLogger sets the logger
func WithLogger(l *logger.CtxZapLogger) Option {
	return func(m *Meter) { m.logger = l }
}

// WithRegisterer registers the meter's Prometheus collectors on reg
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(m *Meter) { m.metrics = newMeterMetrics(reg) }
}

// NewMeter creates a meter over store
func NewMeter(store counter.Store, opts ...Option) *Meter {
	m := &Meter{
		store:     store,
		pool:      worker.Inline{},
		opTimeout: 50 * time.Millisecond,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = logger.GetLogger("usage")
	}
	if m.metrics == nil {
		m.metrics = newMeterMetrics(prometheus.NewRegistry())
	}
	return m
}

// Record increments every window of the event's metric in one round trip,
// then hands the durable log write and the follow-up hooks to the pool.
func (m *Meter) Record(ctx context.Context, ev Event) (*Recorded, error) {
	metric, amount, err := validate(ev)
	if err != nil {
		return nil, err
	}

	now := m.now().UTC()
	windows := metric.Windows()
	deltas := make([]counter.Delta, len(windows))
	for i, w := range windows {
		deltas[i] = counter.Delta{
			Key:    counter.UsageKey(ev.EntityID, string(metric), w, now),
			Amount: amount,
			TTL:    w.TTL(),
		}
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opTimeout)
	values, err := m.store.IncrMany(opCtx, deltas)
	cancel()

	rec := &Recorded{EntityID: ev.EntityID, Metric: metric, Amount: amount, RecordedAt: now}
	if err != nil {
		m.metrics.storeErrors.Inc()
		m.logger.ErrorCtx(ctx, "usage counter write failed",
			zap.String("entity_id", ev.EntityID),
			zap.String("metric", string(metric)),
			zap.Int64("amount", amount),
			zap.Error(err))
		rec.Degraded = true
	} else {
		rec.Counters = make(map[counter.Window]int64, len(windows))
		for i, w := range windows {
			v := values[i]
			if v < 0 {
				v = 0
			}
			rec.Counters[w] = v
		}
		m.metrics.recorded.WithLabelValues(string(metric)).Inc()
		m.metrics.amount.WithLabelValues(string(metric)).Add(float64(abs(amount)))
	}

	m.appendLog(ctx, ev, metric, amount, now)
	if !rec.Degraded {
		for _, f := range m.followUps {
			f := f
			m.pool.Go(ctx, "usage.follow_up", func(ctx context.Context) {
				f(ctx, ev.EntityID, metric)
			})
		}
	}
	return rec, nil
}

func (m *Meter) appendLog(ctx context.Context, ev Event, metric plan.Metric, amount int64, at time.Time) {
	if m.log == nil {
		return
	}
	row := &LogRecord{
		EntityID:   ev.EntityID,
		Metric:     string(metric),
		Amount:     amount,
		Metadata:   encodeMetadata(ev.Metadata),
		RecordedAt: at,
	}
	m.pool.Go(ctx, "usage.log", func(ctx context.Context) {
		if err := m.log.Append(ctx, row); err != nil {
			m.metrics.logFailures.Inc()
			m.logger.WarnCtx(ctx, "usage log write failed",
				zap.String("entity_id", row.EntityID),
				zap.String("metric", row.Metric),
				zap.Error(err))
		}
	})
}

func validate(ev Event) (plan.Metric, int64, error) {
	if strings.TrimSpace(ev.EntityID) == "" {
		return "", 0, errcode.ErrInvalidRequest.WithMsgf("entity_id is required")
	}
	metric, err := plan.ParseMetric(ev.Metric)
	if err != nil {
		return "", 0, errcode.ErrUnknownMetric.WithData("metric", ev.Metric).Wrap(err)
	}
	amount := ev.Amount
	if amount == 0 {
		amount = 1
	}
	if amount < 0 && !metric.IsStock() {
		return "", 0, errcode.ErrInvalidAmount.WithMsgf("amount of %s must be positive", metric)
	}
	return metric, amount, nil
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
