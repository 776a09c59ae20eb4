package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestZerologLoggerMethods(t *testing.T) {
	assert.NoError(t, os.Setenv("APP_ENV", "dev"))
	defer func() { assert.NoError(t, os.Unsetenv("APP_ENV")) }()
	l := NewZerologLogger("test")
	if l == nil {
		t.Fatalf("nil logger")
	}
	l.Debugf("debug %d", 1)
	l.Debugw("debug", map[string]any{"k": 1})
	l.Infof("info %s", "test")
	l.Warnf("warn")
	l.Errorf("error")
}

func TestZerologLoggerWithField(t *testing.T) {
	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter(&buf, "governor").With("consumer", "arm")
	l.Warnf("limit failed: %s", "boom")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "governor", entry["component"])
	assert.Equal(t, "arm", entry["consumer"])
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "limit failed: boom", entry["message"])
}

func TestNopLoggerWith(t *testing.T) {
	var l Logger = OrNop(nil)
	l = l.With("k", "v")
	l.Errorf("ignored")
	if _, ok := l.(NopLogger); !ok {
		t.Fatalf("expected NopLogger, got %T", l)
	}
}

func TestConfigureLevel(t *testing.T) {
	require.NoError(t, Configure("warn", "json"))
	defer func() { require.NoError(t, Configure("", "")) }()

	var buf bytes.Buffer
	l := NewZerologLoggerWithWriter(&buf, "config")
	l.Infof("dropped")
	assert.Zero(t, buf.Len())
	l.Warnf("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestConfigureRejectsUnknown(t *testing.T) {
	assert.Error(t, Configure("loud", ""))
	assert.Error(t, Configure("", "xml"))
}
