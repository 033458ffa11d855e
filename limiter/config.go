package limiter

import (
	"time"

	"github.com/KOMKZ/go-yogan-meter/plan"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// DefaultOperation is used for requests that name no operation
const DefaultOperation = "default"

// Config of the rate limiter
type Config struct {
	// OpTimeout bounds each counter round trip
	OpTimeout time.Duration `mapstructure:"op_timeout"`

	// OriginLimit is the per-origin ceiling of the fixed one-minute window
	OriginLimit int64 `mapstructure:"origin_limit"`

	// DisableOrigin turns the origin limiter off
	DisableOrigin bool `mapstructure:"disable_origin"`

	// UnavailableRetryAfter is suggested to callers rejected by the fail-closed policy
	UnavailableRetryAfter time.Duration `mapstructure:"unavailable_retry_after"`

	// Operations maps operation names to the metric they consume
	Operations map[string]OperationConfig `mapstructure:"operations"`
}

// OperationConfig describes one metered operation
type OperationConfig struct {
	Metric string `mapstructure:"metric"`

	// HighRisk operations fail closed when the counter store is unavailable
	HighRisk bool `mapstructure:"high_risk"`
}

// Operation is a resolved OperationConfig
type Operation struct {
	Name     string
	Metric   plan.Metric
	HighRisk bool
}

// DefaultConfig returns the defaults
func DefaultConfig() Config {
	c := Config{}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields
func (c *Config) ApplyDefaults() {
	if c.OpTimeout <= 0 {
		c.OpTimeout = 50 * time.Millisecond
	}
	if c.OriginLimit <= 0 {
		c.OriginLimit = 600
	}
	if c.UnavailableRetryAfter <= 0 {
		c.UnavailableRetryAfter = 5 * time.Second
	}
	if c.Operations == nil {
		c.Operations = make(map[string]OperationConfig)
	}
	if _, ok := c.Operations[DefaultOperation]; !ok {
		c.Operations[DefaultOperation] = OperationConfig{Metric: string(plan.APICalls)}
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c,
		validation.Field(&c.OpTimeout, validation.Required, validation.Min(time.Millisecond)),
		validation.Field(&c.OriginLimit, validation.Required, validation.Min(int64(1))),
		validation.Field(&c.UnavailableRetryAfter, validation.Required),
	); err != nil {
		return &ValidationError{Err: err}
	}
	for name, op := range c.Operations {
		if _, err := plan.ParseMetric(op.Metric); err != nil {
			return &ValidationError{Operation: name, Err: err}
		}
	}
	return nil
}

func (c Config) resolve() map[string]Operation {
	out := make(map[string]Operation, len(c.Operations))
	for name, op := range c.Operations {
		out[name] = Operation{Name: name, Metric: plan.Metric(op.Metric), HighRisk: op.HighRisk}
	}
	return out
}
