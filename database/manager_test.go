package database

import (
	"context"
	"testing"

	"github.com/KOMKZ/go-yogan-meter/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sample struct {
	ID     string `gorm:"primaryKey"`
	Status string
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	m, err := NewManager(map[string]Config{
		"main": {Driver: "sqlite", DSN: "file:" + t.Name() + "?mode=memory&cache=shared"},
	}, logger.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func TestConfig_Validate(t *testing.T) {
	cfg := Config{DSN: "x"}
	cfg.ApplyDefaults()
	assert.Equal(t, "sqlite", cfg.Driver)
	assert.NoError(t, cfg.Validate())

	assert.ErrorIs(t, Config{Driver: "oracle", DSN: "x"}.Validate(), ErrInvalidConfig)
	assert.ErrorIs(t, Config{Driver: "mysql"}.Validate(), ErrInvalidConfig)
}

func TestNewManager_InvalidConfig(t *testing.T) {
	_, err := NewManager(map[string]Config{"main": {Driver: "oracle", DSN: "x"}}, logger.Nop())
	assert.ErrorContains(t, err, "invalid config for main")
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = NewManager(nil, nil)
	assert.ErrorContains(t, err, "logger cannot be nil")
}

func TestManager_PingStatsAndHealth(t *testing.T) {
	m := newTestManager(t)
	ctx := context.Background()

	assert.Equal(t, []string{"main"}, m.GetDBNames())
	assert.NoError(t, m.Ping(ctx))

	_, err := m.Stats("main")
	assert.NoError(t, err)
	_, err = m.Stats("missing")
	assert.Error(t, err)

	assert.NoError(t, m.PingInstance(ctx, "main"))
	assert.Error(t, m.PingInstance(ctx, "missing"))
}

func TestBaseRepository(t *testing.T) {
	m := newTestManager(t)
	require.NoError(t, m.DB("main").AutoMigrate(&sample{}))

	repo := NewBaseRepository[sample](m.DB("main"))
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, &sample{ID: "a", Status: "active"}))
	require.NoError(t, repo.Create(ctx, &sample{ID: "b", Status: "active"}))
	assert.Error(t, repo.Create(ctx, &sample{ID: "a"}))

	got, err := repo.FindByID(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, "active", got.Status)

	_, err = repo.FindByID(ctx, "zzz")
	assert.ErrorIs(t, err, ErrRecordNotFound)

	n, err := repo.UpdateColumns(ctx, map[string]interface{}{"status": "suspended"}, "id = ? AND status <> ?", "a", "suspended")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = repo.UpdateColumns(ctx, map[string]interface{}{"status": "suspended"}, "id = ? AND status <> ?", "a", "suspended")
	require.NoError(t, err)
	assert.Equal(t, int64(0), n)

	rows, err := repo.FindWhere(ctx, "id desc", "status = ?", "active")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "b", rows[0].ID)

	count, err := repo.Count(ctx, "status = ?", "suspended")
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	require.NoError(t, repo.Save(ctx, &sample{ID: "c", Status: "expired"}))
	count, err = repo.Count(ctx, "1 = 1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}
