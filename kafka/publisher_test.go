package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublisher_Publish(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		if msg.Topic != "meter.alerts" {
			return errors.New("unexpected topic " + msg.Topic)
		}
		key, _ := msg.Key.Encode()
		if string(key) != "rule-cpu" {
			return errors.New("unexpected key " + string(key))
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Key) != "severity" {
			return errors.New("missing severity header")
		}
		return nil
	})

	p := NewPublisherWithProducer(mp, "meter.alerts")
	_, _, err := p.Publish(context.Background(), "rule-cpu", []byte(`{"id":"a1"}`), map[string]string{"severity": "critical"})
	require.NoError(t, err)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	_, _, err = p.Publish(context.Background(), "k", nil, nil)
	assert.ErrorContains(t, err, "closed")
}

func TestPublisher_Failure(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	mp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)
	p := NewPublisherWithProducer(mp, "meter.alerts")
	t.Cleanup(func() { _ = p.Close() })

	_, _, err := p.Publish(context.Background(), "", []byte("x"), nil)
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)
}

func TestPublisher_CancelledContext(t *testing.T) {
	mp := mocks.NewSyncProducer(t, nil)
	p := NewPublisherWithProducer(mp, "meter.alerts")
	t.Cleanup(func() { _ = p.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, _, err := p.Publish(ctx, "", []byte("x"), nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{Brokers: []string{"localhost:9092"}}
	cfg.ApplyDefaults()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "meter.alerts", cfg.Topic)

	bad := cfg
	bad.Brokers = nil
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.RequiredAcks = 2
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.SASL = &SASLConfig{Enabled: true, Mechanism: "GSSAPI", Username: "u"}
	assert.Error(t, bad.Validate())
}

func TestBuildSaramaConfig(t *testing.T) {
	cfg := Config{
		Brokers:      []string{"localhost:9092"},
		RequiredAcks: -1,
		Compression:  "zstd",
		SASL:         &SASLConfig{Enabled: true, Mechanism: "SCRAM-SHA-512", Username: "u", Password: "p"},
	}
	cfg.ApplyDefaults()
	sc, err := BuildSaramaConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, sarama.WaitForAll, sc.Producer.RequiredAcks)
	assert.Equal(t, sarama.CompressionZSTD, sc.Producer.Compression)
	assert.True(t, sc.Producer.Return.Successes)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA512), sc.Net.SASL.Mechanism)

	client := sc.Net.SASL.SCRAMClientGeneratorFunc()
	require.NoError(t, client.Begin("u", "p", ""))
	assert.False(t, client.Done())

	cfg.Version = "not-a-version"
	_, err = BuildSaramaConfig(cfg)
	assert.Error(t, err)
}

func TestScramGenerator(t *testing.T) {
	mech, gen := scramGenerator("PLAIN")
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), mech)
	assert.Nil(t, gen)

	mech, gen = scramGenerator(sarama.SASLTypeSCRAMSHA256)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypeSCRAMSHA256), mech)
	client := gen()
	assert.False(t, client.Done())
	require.NoError(t, client.Begin("meter", "secret", ""))
	first, err := client.Step("")
	require.NoError(t, err)
	assert.Contains(t, first, "n=meter")
}
