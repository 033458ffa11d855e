package engine

import (
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-meter/alert"
	"github.com/KOMKZ/go-yogan-meter/config"
	"github.com/KOMKZ/go-yogan-meter/counter"
	"github.com/KOMKZ/go-yogan-meter/database"
	"github.com/KOMKZ/go-yogan-meter/entity"
	"github.com/KOMKZ/go-yogan-meter/health"
	"github.com/KOMKZ/go-yogan-meter/httpx"
	"github.com/KOMKZ/go-yogan-meter/kafka"
	"github.com/KOMKZ/go-yogan-meter/limiter"
	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	"github.com/KOMKZ/go-yogan-meter/middleware"
	"github.com/KOMKZ/go-yogan-meter/plan"
	"github.com/KOMKZ/go-yogan-meter/redis"
	"github.com/KOMKZ/go-yogan-meter/worker"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// EnvPrefix is the prefix of environment overrides
const EnvPrefix = "METER"

// Config aggregates every component configuration
type Config struct {
	App        AppConfig                                    `mapstructure:"app"`
	Server     ServerConfig                                 `mapstructure:"server"`
	Logger     logger.ManagerConfig                         `mapstructure:"logger"`
	Counter    counter.Config                               `mapstructure:"counter"`
	Redis      map[string]redis.Config                      `mapstructure:"redis"`
	Database   map[string]database.Config                   `mapstructure:"database"`
	Storage    StorageConfig                                `mapstructure:"storage"`
	Worker     worker.Config                                `mapstructure:"worker"`
	Limiter    limiter.Config                               `mapstructure:"limiter"`
	Usage      UsageConfig                                  `mapstructure:"usage"`
	Quota      QuotaConfig                                  `mapstructure:"quota"`
	Plans      map[string]map[string]map[string]interface{} `mapstructure:"plans"`
	Entities   []EntitySeed                                 `mapstructure:"entities"`
	Metrics    MetricsConfig                                `mapstructure:"metrics"`
	Health     HealthConfig                                 `mapstructure:"health"`
	Alert      AlertConfig                                  `mapstructure:"alert"`
	HTTPErrors httpx.ErrorLoggingConfig                     `mapstructure:"http_errors"`
	RequestLog middleware.RequestLogConfig                  `mapstructure:"request_log"`
}

// AppConfig identifies the process
type AppConfig struct {
	Name string `mapstructure:"name"`
}

// ServerConfig of the HTTP listener
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	Mode            string        `mapstructure:"mode"` // debug, release, test
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// StorageConfig names the database connection holding entities, the usage
// log and alert history. Without any database the engine keeps entities in
// memory and skips the durable logs.
type StorageConfig struct {
	Database string `mapstructure:"database"`
}

// UsageConfig of the meter
type UsageConfig struct {
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// QuotaConfig of the snapshot builder
type QuotaConfig struct {
	// CacheTTL of resolved limits and snapshots, negative disables the cache
	CacheTTL  time.Duration `mapstructure:"cache_ttl"`
	OpTimeout time.Duration `mapstructure:"op_timeout"`
}

// EntitySeed is an entity created at startup when absent
type EntitySeed struct {
	ID        string                            `mapstructure:"id"`
	Tier      string                            `mapstructure:"tier"`
	Status    string                            `mapstructure:"status"`
	Overrides map[string]map[string]interface{} `mapstructure:"overrides"`
}

// MetricsConfig of the aggregator and its collectors
type MetricsConfig struct {
	metrics.Config `mapstructure:",squash"`
	DiskPath       string `mapstructure:"disk_path"`
	// MemoryLimit in bytes for memory_usage; 0 uses GOMEMLIMIT when set
	MemoryLimit uint64 `mapstructure:"memory_limit"`
}

// GatewayConfig is a downstream HTTP dependency probed by the health loop
type GatewayConfig struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

// HealthConfig of the orchestrator and its probes
type HealthConfig struct {
	health.Config  `mapstructure:",squash"`
	LatencyWarning time.Duration   `mapstructure:"latency_warning"`
	SelfCheck      bool            `mapstructure:"self_check"`
	Gateways       []GatewayConfig `mapstructure:"gateways"`
}

// WebhookConfig of the webhook channel. An empty URL disables it.
type WebhookConfig struct {
	URL     string        `mapstructure:"url"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// KafkaChannelConfig of the kafka channel
type KafkaChannelConfig struct {
	Enabled      bool `mapstructure:"enabled"`
	kafka.Config `mapstructure:",squash"`
}

// AlertConfig of the alert engine
type AlertConfig struct {
	Interval        time.Duration      `mapstructure:"interval"`
	Rules           []alert.RuleConfig `mapstructure:"rules"`
	DefaultChannels []string           `mapstructure:"default_channels"`
	HealthCooldown  time.Duration      `mapstructure:"health_cooldown"`
	DeliveryRetries int                `mapstructure:"delivery_retries"`
	Webhook         WebhookConfig      `mapstructure:"webhook"`
	Kafka           KafkaChannelConfig `mapstructure:"kafka"`
}

// Channels lists the notification channels enabled by this configuration
func (c AlertConfig) Channels() []string {
	out := []string{alert.ChannelLog}
	if c.Webhook.URL != "" {
		out = append(out, alert.ChannelWebhook)
	}
	if c.Kafka.Enabled {
		out = append(out, alert.ChannelKafka)
	}
	return out
}

// DefaultConfig returns a configuration that runs without external services
func DefaultConfig() Config {
	c := Config{Counter: counter.Config{Type: counter.StoreTypeMemory}}
	c.ApplyDefaults()
	return c
}

// ApplyDefaults fills unset fields of every section
func (c *Config) ApplyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "meterd"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.ReadTimeout <= 0 {
		c.Server.ReadTimeout = 10 * time.Second
	}
	if c.Server.WriteTimeout <= 0 {
		c.Server.WriteTimeout = 10 * time.Second
	}
	if c.Server.ShutdownTimeout <= 0 {
		c.Server.ShutdownTimeout = 30 * time.Second
	}

	c.Logger.ApplyDefaults()
	c.Counter.ApplyDefaults()
	for name, rc := range c.Redis {
		rc.ApplyDefaults()
		c.Redis[name] = rc
	}
	for name, dc := range c.Database {
		dc.ApplyDefaults()
		c.Database[name] = dc
	}
	if c.Storage.Database == "" && len(c.Database) > 0 {
		c.Storage.Database = "main"
	}
	c.Worker.ApplyDefaults()
	c.Limiter.ApplyDefaults()

	if c.Usage.OpTimeout <= 0 {
		c.Usage.OpTimeout = 50 * time.Millisecond
	}
	if c.Quota.CacheTTL == 0 {
		c.Quota.CacheTTL = 2 * time.Second
	}
	if c.Quota.OpTimeout <= 0 {
		c.Quota.OpTimeout = 50 * time.Millisecond
	}

	c.Metrics.ApplyDefaults()
	if c.Metrics.DiskPath == "" {
		c.Metrics.DiskPath = "/"
	}
	c.Health.ApplyDefaults()

	if c.Alert.Interval <= 0 {
		c.Alert.Interval = 30 * time.Second
	}
	if len(c.Alert.DefaultChannels) == 0 {
		c.Alert.DefaultChannels = []string{alert.ChannelLog}
	}
	if c.Alert.HealthCooldown <= 0 {
		c.Alert.HealthCooldown = 5 * time.Minute
	}
	if c.Alert.DeliveryRetries <= 0 {
		c.Alert.DeliveryRetries = 5
	}
	if c.Alert.Webhook.Timeout <= 0 {
		c.Alert.Webhook.Timeout = 5 * time.Second
	}
	if c.Alert.Kafka.Enabled {
		c.Alert.Kafka.ApplyDefaults()
	}

	if c.HTTPErrors.IgnoreHTTPStatus == nil {
		c.HTTPErrors = httpx.DefaultErrorLoggingConfig()
	}
	if c.RequestLog.SkipPaths == nil {
		c.RequestLog = middleware.DefaultRequestLogConfig()
	}
}

// Validate checks every section, the plan catalog and the alert rules
func (c Config) Validate() error {
	if err := validation.ValidateStruct(&c.Server,
		validation.Field(&c.Server.Addr, validation.Required),
		validation.Field(&c.Server.Mode, validation.In("debug", "release", "test")),
	); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	if err := c.Counter.Validate(); err != nil {
		return fmt.Errorf("counter: %w", err)
	}
	if c.Counter.Type == counter.StoreTypeRedis {
		if _, ok := c.Redis[c.Counter.RedisInstance]; !ok {
			return fmt.Errorf("counter: redis instance %q is not configured", c.Counter.RedisInstance)
		}
	}
	for name, rc := range c.Redis {
		if err := rc.Validate(); err != nil {
			return fmt.Errorf("redis.%s: %w", name, err)
		}
	}
	for name, dc := range c.Database {
		if err := dc.Validate(); err != nil {
			return fmt.Errorf("database.%s: %w", name, err)
		}
	}
	if c.Storage.Database != "" {
		if _, ok := c.Database[c.Storage.Database]; !ok {
			return fmt.Errorf("storage: database %q is not configured", c.Storage.Database)
		}
	}
	if err := c.Worker.Validate(); err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	if err := c.Limiter.Validate(); err != nil {
		return err
	}
	if _, err := c.Catalog(); err != nil {
		return fmt.Errorf("plans: %w", err)
	}
	if _, err := c.Seeds(); err != nil {
		return fmt.Errorf("entities: %w", err)
	}
	if _, err := c.AlertRules(); err != nil {
		return fmt.Errorf("alert: %w", err)
	}
	for i, g := range c.Health.Gateways {
		if err := validation.ValidateStruct(&g,
			validation.Field(&g.Name, validation.Required),
			validation.Field(&g.URL, validation.Required),
		); err != nil {
			return fmt.Errorf("health.gateways[%d]: %w", i, err)
		}
	}
	if c.Alert.Kafka.Enabled {
		if err := c.Alert.Kafka.Validate(); err != nil {
			return fmt.Errorf("alert.kafka: %w", err)
		}
	}
	enabled := c.Alert.Channels()
	allowed := make([]interface{}, len(enabled))
	for i, ch := range enabled {
		allowed[i] = ch
	}
	if err := validation.Validate(c.Alert.DefaultChannels,
		validation.Each(validation.In(allowed...).Error("must be one of the enabled channels")),
	); err != nil {
		return fmt.Errorf("alert.default_channels: %w", err)
	}
	return nil
}

// Catalog parses the configured plans. No plans means the built-in catalog.
func (c Config) Catalog() (*plan.Catalog, error) {
	if len(c.Plans) == 0 {
		return plan.DefaultCatalog(), nil
	}
	return plan.LoadCatalog(c.Plans)
}

// AlertRules parses the configured rules. No rules means the built-in set.
func (c Config) AlertRules() ([]alert.Rule, error) {
	cfgs := c.Alert.Rules
	if len(cfgs) == 0 {
		cfgs = alert.DefaultRules()
	}
	return alert.LoadRules(cfgs, c.Alert.Channels())
}

// Seeds parses the configured entities
func (c Config) Seeds() ([]entity.Limits, error) {
	out := make([]entity.Limits, 0, len(c.Entities))
	seen := make(map[string]bool, len(c.Entities))
	for _, s := range c.Entities {
		if s.ID == "" {
			return nil, fmt.Errorf("entity id cannot be empty")
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate entity %q", s.ID)
		}
		seen[s.ID] = true

		tier, err := plan.ParseTier(s.Tier)
		if err != nil {
			return nil, fmt.Errorf("entity %q: %w", s.ID, err)
		}
		status := entity.Active
		if s.Status != "" {
			if status, err = entity.ParseStatus(s.Status); err != nil {
				return nil, fmt.Errorf("entity %q: %w", s.ID, err)
			}
		}
		var overrides plan.Limits
		if len(s.Overrides) > 0 {
			if overrides, err = plan.ParseLimits(s.Overrides); err != nil {
				return nil, fmt.Errorf("entity %q: %w", s.ID, err)
			}
		}
		out = append(out, entity.Limits{EntityID: s.ID, Tier: tier, Status: status, Overrides: overrides})
	}
	return out, nil
}

// LoadConfig reads path and METER_* environment overrides, applies defaults
// and validates the result
func LoadConfig(path string) (Config, error) {
	loader, err := config.Load(path, EnvPrefix)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := loader.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}
