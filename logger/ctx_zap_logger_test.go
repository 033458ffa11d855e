package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestCtxZapLogger_TraceID(t *testing.T) {
	log, logs := NewTestLogger("limiter")

	ctx := WithTraceID(context.Background(), "abc")
	log.WarnCtx(ctx, "counter store unavailable", zap.String("entity_id", "E1"))
	log.Info("no context")

	entries := logs.All()
	assert.Len(t, entries, 2)
	assert.Equal(t, "abc", entries[0].ContextMap()["trace_id"])
	assert.Equal(t, "limiter", entries[0].ContextMap()["module"])
	assert.Equal(t, "E1", entries[0].ContextMap()["entity_id"])
	_, hasTrace := entries[1].ContextMap()["trace_id"]
	assert.False(t, hasTrace)
}

func TestCtxZapLogger_With(t *testing.T) {
	log, logs := NewTestLogger("alert")
	log.With(zap.String("rule_id", "cpu-high")).ErrorCtx(context.Background(), "notify failed")

	assert.Equal(t, 1, logs.FilterField(zap.String("rule_id", "cpu-high")).Len())
}

func TestTraceID_Empty(t *testing.T) {
	assert.Equal(t, "", TraceID(context.Background()))
}

func TestNop(t *testing.T) {
	Nop().ErrorCtx(context.Background(), "discarded")
}
