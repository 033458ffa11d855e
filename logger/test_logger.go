package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// NewTestLogger returns a module logger that records into memory.
//
//	log, logs := logger.NewTestLogger("usage")
//	meter := usage.NewMeter(store, usage.WithLogger(log))
//	assert.Equal(t, 1, logs.FilterMessage("usage log write failed").Len())
func NewTestLogger(module string) (*CtxZapLogger, *observer.ObservedLogs) {
	core, logs := observer.New(zapcore.DebugLevel)
	cfg := DefaultManagerConfig()
	return NewCtxZapLogger(module, zap.New(core), &cfg), logs
}
