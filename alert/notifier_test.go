package alert

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/KOMKZ/go-yogan-meter/kafka"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/retry"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

var sampleAlert = Alert{
	ID:        "3f1c7e1a-0000-4000-8000-000000000001",
	Category:  CategorySystem,
	Severity:  SeverityCritical,
	Title:     "Disk almost full",
	Message:   "disk_usage is 95.00%, above threshold 90.00%",
	Source:    "rule:disk_full",
	CreatedAt: time.Date(2024, 5, 6, 7, 30, 0, 0, time.UTC),
}

func TestLogNotifier(t *testing.T) {
	log, logs := logger.NewTestLogger("alert")
	n := NewLogNotifier(log)
	assert.Equal(t, ChannelLog, n.Name())

	require.NoError(t, n.Notify(context.Background(), sampleAlert))
	entries := logs.FilterMessage("Disk almost full").All()
	require.Len(t, entries, 1)
	assert.Equal(t, zapcore.ErrorLevel, entries[0].Level)
	assert.Equal(t, sampleAlert.ID, entries[0].ContextMap()["alert_id"])
}

func TestWebhookNotifier(t *testing.T) {
	var got Alert
	status := http.StatusOK
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)

	n := NewWebhookNotifier(srv.URL, nil)
	require.NoError(t, n.Notify(context.Background(), sampleAlert))
	assert.Equal(t, sampleAlert.ID, got.ID)
	assert.Equal(t, SeverityCritical, got.Severity)

	status = http.StatusBadGateway
	err := n.Notify(context.Background(), sampleAlert)
	require.Error(t, err)
	assert.NotErrorIs(t, err, retry.ErrPermanent)

	status = http.StatusBadRequest
	assert.ErrorIs(t, n.Notify(context.Background(), sampleAlert), retry.ErrPermanent)
}

func TestKafkaNotifier(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		key, _ := msg.Key.Encode()
		if string(key) != sampleAlert.ID {
			return errors.New("unexpected key " + string(key))
		}
		value, _ := msg.Value.Encode()
		var a Alert
		if err := json.Unmarshal(value, &a); err != nil {
			return err
		}
		if a.Title != sampleAlert.Title {
			return errors.New("unexpected title " + a.Title)
		}
		return nil
	})
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	pub := kafka.NewPublisherWithProducer(mp, "meter.alerts")
	t.Cleanup(func() { _ = pub.Close() })
	n := NewKafkaNotifier(pub)
	assert.Equal(t, ChannelKafka, n.Name())

	require.NoError(t, n.Notify(context.Background(), sampleAlert))
	assert.ErrorIs(t, n.Notify(context.Background(), sampleAlert), sarama.ErrOutOfBrokers)
}

func TestDispatcher_RetriesUntilDelivered(t *testing.T) {
	flaky := &recordingNotifier{name: ChannelWebhook, fail: 2}
	log, _ := logger.NewTestLogger("alert")
	d := NewDispatcher([]Notifier{flaky}, WithDispatchLogger(log), WithDispatchRetry(fastRetry(5)...))

	d.Dispatch(context.Background(), sampleAlert, []string{ChannelWebhook})
	require.Len(t, flaky.alerts(), 1)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.deliveries.WithLabelValues(ChannelWebhook, "delivered")))
}

func TestDispatcher_GivesUpAndSkipsUnknownChannels(t *testing.T) {
	down := &recordingNotifier{name: ChannelKafka, fail: 10}
	log, logs := logger.NewTestLogger("alert")
	d := NewDispatcher([]Notifier{down}, WithDispatchLogger(log), WithDispatchRetry(fastRetry(3)...))
	assert.Equal(t, []string{ChannelKafka}, d.Channels())

	d.Dispatch(context.Background(), sampleAlert, []string{ChannelKafka, ChannelWebhook})
	assert.Empty(t, down.alerts())
	assert.Equal(t, 7, down.fail)
	assert.Equal(t, 1.0, testutil.ToFloat64(d.deliveries.WithLabelValues(ChannelKafka, "failed")))
	assert.Equal(t, 1, logs.FilterMessage("alert channel not configured").Len())
	assert.Equal(t, 1, logs.FilterMessage("alert delivery failed").Len())
}

type dropAll struct{ calls atomic.Int32 }

func (d *dropAll) Go(ctx context.Context, name string, fn func(ctx context.Context)) bool {
	d.calls.Add(1)
	return false
}

func TestDispatcher_DroppedByPool(t *testing.T) {
	n := &recordingNotifier{name: ChannelLog}
	pool := &dropAll{}
	log, _ := logger.NewTestLogger("alert")
	d := NewDispatcher([]Notifier{n}, WithDispatchPool(pool), WithDispatchLogger(log))

	d.Dispatch(context.Background(), sampleAlert, []string{ChannelLog})
	assert.EqualValues(t, 1, pool.calls.Load())
	assert.Empty(t, n.alerts())
	assert.Equal(t, 1.0, testutil.ToFloat64(d.deliveries.WithLabelValues(ChannelLog, "dropped")))
}
