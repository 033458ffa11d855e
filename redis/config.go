package redis

import (
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
)

const (
	ModeStandalone = "standalone"
	ModeCluster    = "cluster"
)

// Config of one named redis instance. Counters sit on the request path,
// so socket timeouts default short.
type Config struct {
	Mode string `mapstructure:"mode"`
	// Addrs: standalone uses the first, cluster uses all
	Addrs []string `mapstructure:"addrs"`
	// Addr is shorthand for a single-entry Addrs
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	MaxRetries   int           `mapstructure:"max_retries"` // -1 disables retries
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`

	// PingOnStart fails manager creation when the instance is unreachable
	PingOnStart bool `mapstructure:"ping_on_start"`
}

// ApplyDefaults fills zero values
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeStandalone
	}
	if c.Addr != "" && len(c.Addrs) == 0 {
		c.Addrs = []string{c.Addr}
	}
	if c.PoolSize == 0 {
		c.PoolSize = 10
	}
	if c.MinIdleConns == 0 {
		c.MinIdleConns = 5
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.DialTimeout == 0 {
		c.DialTimeout = 2 * time.Second
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = 500 * time.Millisecond
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 500 * time.Millisecond
	}
}

func (c *Config) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(ModeStandalone, ModeCluster)),
		validation.Field(&c.Addrs, validation.Required),
		validation.Field(&c.DB, validation.Min(0), validation.Max(15),
			validation.When(c.Mode == ModeCluster, validation.In(0).Error("must be 0 in cluster mode"))),
		validation.Field(&c.PoolSize, validation.Min(0)),
		validation.Field(&c.MinIdleConns, validation.Min(0)),
	)
}
