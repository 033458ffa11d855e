package config

import (
	"os"
	"strings"
)

// EnvSource reads PREFIX_* environment variables. A name containing a
// double underscore uses it as the level separator so keys may keep single
// underscores (METER_LIMITER__OP_TIMEOUT is limiter.op_timeout); otherwise
// every underscore separates levels (METER_COUNTER_TYPE is counter.type).
type EnvSource struct {
	prefix   string
	priority int
	environ  func() []string
}

// NewEnvSource creates a source for prefix
func NewEnvSource(prefix string, priority int) *EnvSource {
	return &EnvSource{prefix: prefix, priority: priority, environ: os.Environ}
}

func (s *EnvSource) Name() string  { return "env:" + s.prefix }
func (s *EnvSource) Priority() int { return s.priority }

func (s *EnvSource) Load() (map[string]interface{}, error) {
	result := make(map[string]interface{})
	if s.prefix == "" {
		return result, nil
	}
	prefix := s.prefix + "_"
	for _, env := range s.environ() {
		name, value, ok := strings.Cut(env, "=")
		if !ok || !strings.HasPrefix(name, prefix) {
			continue
		}
		if key := envKey(strings.TrimPrefix(name, prefix)); key != "" {
			result[key] = value
		}
	}
	return result, nil
}

func envKey(name string) string {
	name = strings.ToLower(name)
	if strings.Contains(name, "__") {
		return strings.ReplaceAll(name, "__", ".")
	}
	return strings.ReplaceAll(name, "_", ".")
}
