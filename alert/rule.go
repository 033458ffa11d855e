package alert

import (
	"fmt"
	"time"

	"github.com/KOMKZ/go-yogan-meter/errcode"
	"github.com/KOMKZ/go-yogan-meter/metrics"
	validation "github.com/go-ozzo/ozzo-validation/v4"
)

// Condition names a gauge of the metrics sample
type Condition string

const (
	CondCPUUsage          Condition = "cpu_usage"
	CondMemoryUsage       Condition = "memory_usage"
	CondDiskUsage         Condition = "disk_usage"
	CondErrorRate         Condition = "error_rate"
	CondResponseTime      Condition = "response_time"
	CondDBLatency         Condition = "db_latency"
	CondCacheLatency      Condition = "cache_latency"
	CondActiveSuspensions Condition = "active_suspensions"
)

type conditionSpec struct {
	category Category
	unit     string
	// read returns false when the sample lacks the group
	read func(s *metrics.Sample) (float64, bool)
}

var conditions = map[Condition]conditionSpec{
	CondCPUUsage: {CategorySystem, "%", func(s *metrics.Sample) (float64, bool) {
		if s.System == nil {
			return 0, false
		}
		return s.System.CPUUsage, true
	}},
	CondMemoryUsage: {CategorySystem, "%", func(s *metrics.Sample) (float64, bool) {
		if s.System == nil || s.System.MemoryLimitBytes == 0 {
			return 0, false
		}
		return s.System.MemoryUsage, true
	}},
	CondDiskUsage: {CategorySystem, "%", func(s *metrics.Sample) (float64, bool) {
		if s.System == nil {
			return 0, false
		}
		return s.System.DiskUsage, true
	}},
	CondErrorRate: {CategoryPerformance, "%", func(s *metrics.Sample) (float64, bool) {
		if s.Application == nil {
			return 0, false
		}
		return s.Application.ErrorRate, true
	}},
	CondResponseTime: {CategoryPerformance, "ms", func(s *metrics.Sample) (float64, bool) {
		if s.Application == nil {
			return 0, false
		}
		return s.Application.AvgResponseMS, true
	}},
	CondDBLatency: {CategoryPerformance, "ms", func(s *metrics.Sample) (float64, bool) {
		if s.Datastore == nil {
			return 0, false
		}
		return s.Datastore.DBLatencyMS, true
	}},
	CondCacheLatency: {CategoryPerformance, "ms", func(s *metrics.Sample) (float64, bool) {
		if s.Datastore == nil {
			return 0, false
		}
		return s.Datastore.CacheLatencyMS, true
	}},
	CondActiveSuspensions: {CategoryBusiness, "", func(s *metrics.Sample) (float64, bool) {
		if s.Business == nil {
			return 0, false
		}
		return float64(s.Business.ActiveSuspensions), true
	}},
}

// Channel names a notification transport
const (
	ChannelLog     = "log"
	ChannelWebhook = "webhook"
	ChannelKafka   = "kafka"
)

// RuleConfig is the configured form of a rule
type RuleConfig struct {
	ID               string        `mapstructure:"id"`
	Name             string        `mapstructure:"name"`
	Condition        string        `mapstructure:"condition"`
	Threshold        float64       `mapstructure:"threshold"`
	Severity         string        `mapstructure:"severity"`
	Category         string        `mapstructure:"category"`
	Enabled          *bool         `mapstructure:"enabled"`
	Cooldown         time.Duration `mapstructure:"cooldown"`
	Channels         []string      `mapstructure:"channels"`
	AutoResolveTicks int           `mapstructure:"auto_resolve_ticks"`
}

// Rule fires when its condition value exceeds the threshold
type Rule struct {
	ID               string
	Name             string
	Condition        Condition
	Threshold        float64
	Severity         Severity
	Category         Category
	Enabled          bool
	Cooldown         time.Duration
	Channels         []string
	AutoResolveTicks int
}

// Evaluate reads the rule's gauge. ok is false when the sample lacks it.
func (r Rule) Evaluate(s *metrics.Sample) (value float64, triggered, ok bool) {
	spec, known := conditions[r.Condition]
	if !known || s == nil {
		return 0, false, false
	}
	value, ok = spec.read(s)
	if !ok {
		return 0, false, false
	}
	return value, value > r.Threshold, true
}

func (r Rule) message(value float64) string {
	unit := conditions[r.Condition].unit
	return fmt.Sprintf("%s is %.2f%s, above threshold %.2f%s", r.Condition, value, unit, r.Threshold, unit)
}

// LoadRules validates configured rules. channels lists the transports that
// are configured; a rule naming any other channel is rejected.
func LoadRules(cfgs []RuleConfig, channels []string) ([]Rule, error) {
	known := make(map[string]bool, len(channels))
	for _, c := range channels {
		known[c] = true
	}

	rules := make([]Rule, 0, len(cfgs))
	seen := make(map[string]bool, len(cfgs))
	for _, c := range cfgs {
		r, err := loadRule(c, known)
		if err != nil {
			return nil, err
		}
		if seen[r.ID] {
			return nil, errcode.ErrInvalidRule.WithMsgf("rule %q: duplicate id", r.ID)
		}
		seen[r.ID] = true
		rules = append(rules, r)
	}
	return rules, nil
}

func loadRule(c RuleConfig, channels map[string]bool) (Rule, error) {
	err := validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Condition, validation.Required),
		validation.Field(&c.Cooldown, validation.Required, validation.Min(time.Second)),
		validation.Field(&c.AutoResolveTicks, validation.Min(0)),
	)
	if err != nil {
		return Rule{}, errcode.ErrInvalidRule.WithMsgf("rule %q: %v", c.ID, err)
	}

	cond := Condition(c.Condition)
	spec, ok := conditions[cond]
	if !ok {
		return Rule{}, errcode.ErrInvalidRule.WithMsgf("rule %q: unknown condition %q", c.ID, c.Condition)
	}

	sev := SeverityWarning
	if c.Severity != "" {
		if sev, err = ParseSeverity(c.Severity); err != nil {
			return Rule{}, errcode.ErrInvalidRule.WithMsgf("rule %q: %v", c.ID, err)
		}
	}
	cat := spec.category
	if c.Category != "" {
		if cat, err = ParseCategory(c.Category); err != nil {
			return Rule{}, errcode.ErrInvalidRule.WithMsgf("rule %q: %v", c.ID, err)
		}
	}

	chans := c.Channels
	if len(chans) == 0 {
		chans = []string{ChannelLog}
	}
	for _, ch := range chans {
		if !channels[ch] {
			return Rule{}, errcode.ErrInvalidRule.WithMsgf("rule %q: unknown channel %q", c.ID, ch)
		}
	}

	name := c.Name
	if name == "" {
		name = c.ID
	}
	enabled := true
	if c.Enabled != nil {
		enabled = *c.Enabled
	}
	return Rule{
		ID:               c.ID,
		Name:             name,
		Condition:        cond,
		Threshold:        c.Threshold,
		Severity:         sev,
		Category:         cat,
		Enabled:          enabled,
		Cooldown:         c.Cooldown,
		Channels:         chans,
		AutoResolveTicks: c.AutoResolveTicks,
	}, nil
}

// DefaultRules are the built-in platform rules
func DefaultRules() []RuleConfig {
	return []RuleConfig{
		{ID: "high_cpu", Name: "High CPU usage", Condition: string(CondCPUUsage), Threshold: 85, Severity: string(SeverityWarning), Cooldown: 10 * time.Minute},
		{ID: "high_memory", Name: "High memory usage", Condition: string(CondMemoryUsage), Threshold: 90, Severity: string(SeverityError), Cooldown: 10 * time.Minute},
		{ID: "disk_full", Name: "Disk almost full", Condition: string(CondDiskUsage), Threshold: 90, Severity: string(SeverityCritical), Cooldown: 30 * time.Minute},
		{ID: "high_error_rate", Name: "High error rate", Condition: string(CondErrorRate), Threshold: 5, Severity: string(SeverityError), Cooldown: 5 * time.Minute},
		{ID: "slow_responses", Name: "Slow responses", Condition: string(CondResponseTime), Threshold: 1000, Severity: string(SeverityWarning), Cooldown: 5 * time.Minute},
		{ID: "slow_database", Name: "Slow database", Condition: string(CondDBLatency), Threshold: 100, Severity: string(SeverityWarning), Cooldown: 5 * time.Minute},
		{ID: "slow_cache", Name: "Slow cache", Condition: string(CondCacheLatency), Threshold: 50, Severity: string(SeverityWarning), Cooldown: 5 * time.Minute},
		{ID: "suspension_wave", Name: "Many suspended entities", Condition: string(CondActiveSuspensions), Threshold: 100, Severity: string(SeverityWarning), Cooldown: time.Hour},
	}
}
