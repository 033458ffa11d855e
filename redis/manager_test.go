package redis

import (
	"context"
	"testing"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_ApplyDefaults(t *testing.T) {
	cfg := Config{Addr: "localhost:6379"}
	cfg.ApplyDefaults()

	assert.Equal(t, ModeStandalone, cfg.Mode)
	assert.Equal(t, []string{"localhost:6379"}, cfg.Addrs)
	assert.Equal(t, 10, cfg.PoolSize)
	assert.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		errMsg string
	}{
		{"invalid mode", Config{Mode: "sentinel", Addrs: []string{"a:1"}}, "Mode: must be a valid value"},
		{"empty addrs", Config{Mode: ModeStandalone}, "Addrs: cannot be blank"},
		{"db out of range", Config{Mode: ModeStandalone, Addrs: []string{"a:1"}, DB: 16}, "DB: must be no greater than 15"},
		{"cluster db", Config{Mode: ModeCluster, Addrs: []string{"a:1", "b:1"}, DB: 2}, "DB: must be 0 in cluster mode"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorContains(t, tt.cfg.Validate(), tt.errMsg)
		})
	}
}

func TestNewManager_NilLogger(t *testing.T) {
	_, err := NewManager(map[string]Config{}, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestManager_WithMiniredis(t *testing.T) {
	mr := miniredis.RunT(t)
	m, err := NewManager(map[string]Config{
		"counter": {Addr: mr.Addr(), PingOnStart: true},
	}, logger.Nop())
	require.NoError(t, err)
	defer m.Close()

	ctx := context.Background()
	assert.Equal(t, []string{"counter"}, m.Names())
	require.NotNil(t, m.Client("counter"))
	assert.Nil(t, m.Client("missing"))
	assert.NoError(t, m.Ping(ctx))

	stats, ok := m.PoolStats("counter")
	assert.True(t, ok)
	assert.NotNil(t, stats)

	assert.NoError(t, m.PingInstance(ctx, "counter"))
	assert.Error(t, m.PingInstance(ctx, "missing"))

	mr.Close()
	assert.Error(t, m.PingInstance(ctx, "counter"))
	assert.Error(t, m.Ping(ctx))
}

func TestNewManager_PingOnStartFails(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := NewManager(map[string]Config{"counter": {Addr: addr, PingOnStart: true}}, logger.Nop())
	assert.ErrorContains(t, err, "ping counter failed")
}
