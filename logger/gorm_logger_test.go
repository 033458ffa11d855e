package logger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	gormlogger "gorm.io/gorm/logger"
)

func TestGormLogger_Trace(t *testing.T) {
	log, logs := NewTestLogger("database")
	gl := NewGormLogger(log, GormLoggerConfig{SlowThreshold: 100 * time.Millisecond, LogLevel: gormlogger.Info})
	ctx := context.Background()

	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	gl.Trace(ctx, time.Now().Add(-time.Second), func() (string, int64) { return "SELECT 2", 1 }, nil)
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "INSERT", 0 }, errors.New("boom"))
	gl.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 3", 0 }, gormlogger.ErrRecordNotFound)

	assert.Equal(t, 1, logs.FilterMessage("slow sql").Len())
	assert.Equal(t, 1, logs.FilterMessage("sql execution failed").Len())
	assert.Equal(t, 2, logs.FilterMessage("sql executed").Len())
}

func TestGormLogger_Silent(t *testing.T) {
	log, logs := NewTestLogger("database")
	gl := NewGormLogger(log, DefaultGormLoggerConfig()).LogMode(gormlogger.Silent)

	gl.Trace(context.Background(), time.Now(), func() (string, int64) { return "SELECT 1", 1 }, errors.New("x"))
	gl.Error(context.Background(), "ignored %s", "x")
	assert.Equal(t, 0, logs.Len())
}
