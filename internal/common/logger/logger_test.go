package logger

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("debug"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel("warn"))
	assert.Equal(t, zapcore.ErrorLevel, parseLevel("error"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("verbose"))
}

func TestZapWrapper_FieldsAndErrors(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	log := NewZapAdapter(zap.New(core)).WithFields(map[string]interface{}{"component": "orchestrator"})

	log.WithError(errors.New("boom")).Warn("provider failed", map[string]interface{}{
		"appId": "app-1",
		"cause": errors.New("timeout"),
	})

	entries := logs.All()
	if assert.Len(t, entries, 1) {
		ctx := entries[0].ContextMap()
		assert.Equal(t, "orchestrator", ctx["component"])
		assert.Equal(t, "app-1", ctx["appId"])
		assert.Equal(t, "boom", ctx["error"])
		assert.Equal(t, "timeout", ctx["cause"])
	}
}

func TestUnwrap(t *testing.T) {
	z := zap.NewNop()
	assert.Same(t, z, Unwrap(NewZapAdapter(z)))
}
