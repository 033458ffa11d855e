package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAML = `
server:
  addr: ":8080"
limiter:
  op_timeout: 50ms
  origin_limit: 600
plans:
  free:
    api_calls:
      day: 1000
alert:
  rules:
    - id: high_cpu
      condition: cpu_usage
      threshold: 85
`

type sampleConfig struct {
	Server struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"server"`
	Limiter struct {
		OpTimeout   time.Duration `mapstructure:"op_timeout"`
		OriginLimit int64         `mapstructure:"origin_limit"`
	} `mapstructure:"limiter"`
	Counter struct {
		Type string `mapstructure:"type"`
	} `mapstructure:"counter"`
	Plans map[string]map[string]map[string]interface{} `mapstructure:"plans"`
	Alert struct {
		Rules []struct {
			ID        string  `mapstructure:"id"`
			Condition string  `mapstructure:"condition"`
			Threshold float64 `mapstructure:"threshold"`
		} `mapstructure:"rules"`
	} `mapstructure:"alert"`
}

func writeFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "meterd.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

type staticEnv []string

func (e staticEnv) environ() []string { return e }

func TestLoader_FileThenEnv(t *testing.T) {
	l := NewLoader()
	l.AddSource(NewFileSource(writeFile(t, sampleYAML), 10, true))
	env := NewEnvSource("METER", 50)
	env.environ = staticEnv{
		"METER_LIMITER__OP_TIMEOUT=75ms",
		"METER_COUNTER_TYPE=redis",
		"OTHER_SERVER_ADDR=:1",
	}.environ
	l.AddSource(env)
	require.NoError(t, l.Load())

	var cfg sampleConfig
	require.NoError(t, l.Unmarshal(&cfg))
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, 75*time.Millisecond, cfg.Limiter.OpTimeout)
	assert.EqualValues(t, 600, cfg.Limiter.OriginLimit)
	assert.Equal(t, "redis", cfg.Counter.Type)
	assert.EqualValues(t, 1000, cfg.Plans["free"]["api_calls"]["day"])
	require.Len(t, cfg.Alert.Rules, 1)
	assert.Equal(t, "cpu_usage", cfg.Alert.Rules[0].Condition)
	assert.Len(t, l.LoadedFiles(), 1)
	assert.True(t, l.IsSet("server.addr"))
}

func TestFileSource_Missing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope.yaml")

	data, err := NewFileSource(missing, 10, false).Load()
	require.NoError(t, err)
	assert.Empty(t, data)

	_, err = NewFileSource(missing, 10, true).Load()
	assert.Error(t, err)

	_, err = Load(missing, "")
	assert.Error(t, err)
}

func TestFileSource_Malformed(t *testing.T) {
	_, err := NewFileSource(writeFile(t, "server: [unclosed"), 10, true).Load()
	assert.ErrorContains(t, err, "read config file")
}

func TestEnvKey(t *testing.T) {
	assert.Equal(t, "counter.type", envKey("COUNTER_TYPE"))
	assert.Equal(t, "limiter.op_timeout", envKey("LIMITER__OP_TIMEOUT"))
	assert.Equal(t, "alert.health_cooldown", envKey("ALERT__HEALTH_COOLDOWN"))
}

type check struct{ err error }

func (c check) Validate() error { return c.err }

func TestValidateAll(t *testing.T) {
	boom := errors.New("boom")
	assert.NoError(t, ValidateAll(check{}, check{}))
	assert.ErrorIs(t, ValidateAll(check{}, check{boom}, check{errors.New("later")}), boom)
}
