package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/KOMKZ/go-yogan-meter/httpclient"
	"github.com/KOMKZ/go-yogan-meter/kafka"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/retry"
	"github.com/KOMKZ/go-yogan-meter/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Notifier delivers an alert over one channel
type Notifier interface {
	Name() string
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the structured log
type LogNotifier struct {
	logger *logger.CtxZapLogger
}

// NewLogNotifier creates the log channel. A nil logger uses the "alert" module.
func NewLogNotifier(log *logger.CtxZapLogger) *LogNotifier {
	if log == nil {
		log = logger.GetLogger("alert")
	}
	return &LogNotifier{logger: log}
}

func (n *LogNotifier) Name() string { return ChannelLog }

func (n *LogNotifier) Notify(ctx context.Context, a Alert) error {
	fields := []zap.Field{
		zap.String("alert_id", a.ID),
		zap.String("category", string(a.Category)),
		zap.String("severity", string(a.Severity)),
		zap.String("source", a.Source),
		zap.String("message", a.Message),
	}
	switch a.Severity {
	case SeverityCritical, SeverityError:
		n.logger.ErrorCtx(ctx, a.Title, fields...)
	case SeverityWarning:
		n.logger.WarnCtx(ctx, a.Title, fields...)
	default:
		n.logger.InfoCtx(ctx, a.Title, fields...)
	}
	return nil
}

// WebhookNotifier POSTs the alert as JSON
type WebhookNotifier struct {
	url    string
	client *httpclient.Client
}

// NewWebhookNotifier creates the webhook channel. A nil client gets a
// default one.
func NewWebhookNotifier(url string, client *httpclient.Client) *WebhookNotifier {
	if client == nil {
		client = httpclient.NewClient(httpclient.WithTimeout(5 * time.Second))
	}
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Name() string { return ChannelWebhook }

// Notify makes a single attempt; the dispatcher owns retries
func (n *WebhookNotifier) Notify(ctx context.Context, a Alert) error {
	resp, err := n.client.PostJSON(ctx, n.url, a, httpclient.DisableRetry())
	if err != nil {
		if resp != nil && resp.IsClientError() {
			return retry.Permanent(err)
		}
		return err
	}
	return nil
}

// KafkaNotifier publishes the alert keyed by its id
type KafkaNotifier struct {
	publisher *kafka.Publisher
}

// NewKafkaNotifier creates the kafka channel
func NewKafkaNotifier(p *kafka.Publisher) *KafkaNotifier {
	return &KafkaNotifier{publisher: p}
}

func (n *KafkaNotifier) Name() string { return ChannelKafka }

func (n *KafkaNotifier) Notify(ctx context.Context, a Alert) error {
	value, err := json.Marshal(a)
	if err != nil {
		return retry.Permanent(fmt.Errorf("marshal alert: %w", err))
	}
	_, _, err = n.publisher.Publish(ctx, a.ID, value, map[string]string{
		"category": string(a.Category),
		"severity": string(a.Severity),
	})
	return err
}

// Dispatcher fans an alert out to channels in the background and retries
// failed deliveries with backoff
type Dispatcher struct {
	notifiers map[string]Notifier
	pool      worker.Submitter
	retryOpts []retry.Option
	logger    *logger.CtxZapLogger

	deliveries *prometheus.CounterVec
}

// DispatcherOption configures a Dispatcher
type DispatcherOption func(*Dispatcher)

// WithDispatchPool sets the background pool (default inline)
func WithDispatchPool(p worker.Submitter) DispatcherOption {
	return func(d *Dispatcher) { d.pool = p }
}

// WithDispatchRetry overrides the retry policy
func WithDispatchRetry(opts ...retry.Option) DispatcherOption {
	return func(d *Dispatcher) { d.retryOpts = opts }
}

// WithDispatchLogger sets the logger
func WithDispatchLogger(l *logger.CtxZapLogger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = l }
}

// WithDispatchRegisterer registers delivery counters on reg
func WithDispatchRegisterer(reg prometheus.Registerer) DispatcherOption {
	return func(d *Dispatcher) { d.register(reg) }
}

// NewDispatcher creates a dispatcher over the given channels
func NewDispatcher(notifiers []Notifier, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		notifiers: make(map[string]Notifier, len(notifiers)),
		pool:      worker.Inline{},
		retryOpts: []retry.Option{retry.MaxAttempts(5), retry.WithBackoff(retry.DefaultBackoff())},
	}
	for _, n := range notifiers {
		d.notifiers[n.Name()] = n
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = logger.GetLogger("alert")
	}
	if d.deliveries == nil {
		d.register(prometheus.NewRegistry())
	}
	return d
}

func (d *Dispatcher) register(reg prometheus.Registerer) {
	d.deliveries = promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
		Namespace: "meter",
		Subsystem: "alert",
		Name:      "deliveries_total",
		Help:      "Alert notification deliveries by channel and outcome",
	}, []string{"channel", "outcome"})
}

// Channels lists the configured channel names, sorted
func (d *Dispatcher) Channels() []string {
	out := make([]string, 0, len(d.notifiers))
	for name := range d.notifiers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Dispatch schedules delivery on each channel. Unknown channels are logged
// and skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, a Alert, channels []string) {
	for _, ch := range channels {
		n, ok := d.notifiers[ch]
		if !ok {
			d.logger.WarnCtx(ctx, "alert channel not configured", zap.String("channel", ch), zap.String("alert_id", a.ID))
			continue
		}
		if !d.pool.Go(ctx, "alert:"+ch, func(ctx context.Context) { d.deliver(ctx, n, a) }) {
			d.deliveries.WithLabelValues(ch, "dropped").Inc()
			d.logger.WarnCtx(ctx, "alert delivery dropped", zap.String("channel", ch), zap.String("alert_id", a.ID))
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, n Notifier, a Alert) {
	opts := append([]retry.Option{retry.OnRetry(func(attempt int, err error) {
		d.logger.DebugCtx(ctx, "alert delivery retry",
			zap.String("channel", n.Name()),
			zap.String("alert_id", a.ID),
			zap.Int("attempt", attempt),
			zap.Error(err))
	})}, d.retryOpts...)

	if err := retry.Do(ctx, func(ctx context.Context) error { return n.Notify(ctx, a) }, opts...); err != nil {
		d.deliveries.WithLabelValues(n.Name(), "failed").Inc()
		d.logger.ErrorCtx(ctx, "alert delivery failed",
			zap.String("channel", n.Name()),
			zap.String("alert_id", a.ID),
			zap.Error(err))
		return
	}
	d.deliveries.WithLabelValues(n.Name(), "delivered").Inc()
}
