// Package kafka publishes messages through a sarama synchronous producer.
package kafka

import (
	"fmt"
	"time"
)

// Config of the Kafka publisher
type Config struct {
	// Brokers of the cluster
	Brokers []string `mapstructure:"brokers"`

	// Version of the cluster, e.g. "3.8.0"
	Version string `mapstructure:"version"`

	// ClientID client identifier
	ClientID string `mapstructure:"client_id"`

	// Topic messages are published to
	Topic string `mapstructure:"topic"`

	// RequiredAcks acknowledgment level: 0=NoResponse, 1=WaitForLocal, -1=WaitForAll
	RequiredAcks int `mapstructure:"required_acks"`

	// Timeout of one produce request
	Timeout time.Duration `mapstructure:"timeout"`

	// RetryMax producer-level retries
	RetryMax int `mapstructure:"retry_max"`

	// Compression: none, gzip, snappy, lz4, zstd
	Compression string `mapstructure:"compression"`

	// SASL authentication (optional)
	SASL *SASLConfig `mapstructure:"sasl"`

	// TLS (optional)
	TLS *TLSConfig `mapstructure:"tls"`
}

// SASLConfig SASL authentication configuration
type SASLConfig struct {
	Enabled bool `mapstructure:"enabled"`

	// Mechanism: PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Mechanism string `mapstructure:"mechanism"`
	Username  string `mapstructure:"username"`
	Password  string `mapstructure:"password"`
}

// TLSConfig TLS configuration
type TLSConfig struct {
	Enabled            bool `mapstructure:"enabled"`
	InsecureSkipVerify bool `mapstructure:"insecure_skip_verify"`
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.Version == "" {
		c.Version = "3.8.0"
	}
	if c.ClientID == "" {
		c.ClientID = "meterd"
	}
	if c.Topic == "" {
		c.Topic = "meter.alerts"
	}
	if c.RequiredAcks == 0 {
		c.RequiredAcks = 1
	}
	if c.Timeout <= 0 {
		c.Timeout = 5 * time.Second
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 3
	}
}

// Validate configuration
func (c *Config) Validate() error {
	if len(c.Brokers) == 0 {
		return fmt.Errorf("brokers cannot be empty")
	}
	for _, broker := range c.Brokers {
		if broker == "" {
			return fmt.Errorf("broker address cannot be empty")
		}
	}
	if c.Topic == "" {
		return fmt.Errorf("topic cannot be empty")
	}
	switch c.RequiredAcks {
	case 0, 1, -1:
	default:
		return fmt.Errorf("required_acks must be 0, 1 or -1, got %d", c.RequiredAcks)
	}
	switch c.Compression {
	case "", "none", "gzip", "snappy", "lz4", "zstd":
	default:
		return fmt.Errorf("unknown compression %q", c.Compression)
	}
	if c.SASL != nil && c.SASL.Enabled {
		switch c.SASL.Mechanism {
		case "PLAIN", "SCRAM-SHA-256", "SCRAM-SHA-512":
		default:
			return fmt.Errorf("unknown sasl mechanism %q", c.SASL.Mechanism)
		}
		if c.SASL.Username == "" {
			return fmt.Errorf("sasl username cannot be empty")
		}
	}
	return nil
}
