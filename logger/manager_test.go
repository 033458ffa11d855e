package logger

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestManager_FileOutputSplitsByLevel(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(ManagerConfig{
		BaseLogDir:    dir,
		Level:         "debug",
		EnableFile:    true,
		EnableTraceID: true,
	})

	log := m.GetLogger("usage")
	ctx := WithTraceID(context.Background(), "trace-123")
	log.InfoCtx(ctx, "usage recorded", zap.String("entity_id", "E1"))
	log.ErrorCtx(ctx, "usage log write failed")
	m.CloseAll()

	info, err := os.ReadFile(filepath.Join(dir, "usage", "usage-info.log"))
	require.NoError(t, err)
	assert.Contains(t, string(info), "usage recorded")
	assert.Contains(t, string(info), "trace-123")
	assert.Contains(t, string(info), `"module":"usage"`)
	assert.NotContains(t, string(info), "usage log write failed")

	errLog, err := os.ReadFile(filepath.Join(dir, "usage", "usage-error.log"))
	require.NoError(t, err)
	assert.Contains(t, string(errLog), "usage log write failed")
}

func TestManager_GetLoggerIsCached(t *testing.T) {
	m := NewManager(ManagerConfig{})
	assert.Same(t, m.GetLogger("alert"), m.GetLogger("alert"))
	assert.NotSame(t, m.GetLogger("alert"), m.GetLogger("health"))
	assert.Equal(t, "alert", m.GetLogger("alert").Module())
}

func TestGlobalGetLogger_DefaultsWhenUninitialized(t *testing.T) {
	globalMu.Lock()
	globalManager = nil
	globalMu.Unlock()

	assert.NotNil(t, GetLogger("scheduler"))

	InitManager(ManagerConfig{Level: "warn"})
	assert.Equal(t, "warn", globalManager.baseConfig.Level)
	CloseAll()
}
