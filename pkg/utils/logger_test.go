package utils

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected LogLevel
	}{
		{"debug", LevelDebug},
		{"DEBUG", LevelDebug},
		{"info", LevelInfo},
		{"warn", LevelWarn},
		{"Warning", LevelWarn},
		{"error", LevelError},
		{"unknown", LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseLogLevel(tt.input))
		})
	}
}

func TestLogLevel_String(t *testing.T) {
	assert.Equal(t, "DEBUG", LevelDebug.String())
	assert.Equal(t, "ERROR", LevelError.String())
	assert.Equal(t, "UNKNOWN", LogLevel(42).String())
}

func TestDefaultLogger_FilterByLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelWarn, buf)

	logger.Debug("debug message")
	logger.Info("info message")
	logger.Warn("warn %d", 1)
	logger.Error("error %s", "x")

	output := buf.String()
	assert.NotContains(t, output, "debug message")
	assert.NotContains(t, output, "info message")
	assert.Contains(t, output, "[WARN] warn 1")
	assert.Contains(t, output, "[ERROR] error x")
}

func TestDefaultLogger_FieldsAreSorted(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf).
		WithFields(map[string]interface{}{"phase": "dex", "module": "base"}).
		WithField("count", 3)

	logger.Info("done")
	line := buf.String()
	assert.Contains(t, line, " count=3 module=base phase=dex done")
}

func TestDefaultLogger_NoArgsKeepsPercent(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelInfo, buf)

	var noArgs []interface{}
	logger.Info("100% done", noArgs...)
	assert.Contains(t, buf.String(), "100% done")

	buf.Reset()
	logger.Info("%s", "50% done")
	assert.Contains(t, buf.String(), "50% done")
	assert.NotContains(t, buf.String(), "%!")
}

func TestDefaultLogger_SetLevel(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewDefaultLogger(LevelError, buf)
	logger.Info("hidden")
	logger.SetLevel(LevelInfo)
	logger.Info("shown")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), "shown")
}

func TestLogrusLogger_JSON(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LevelDebug, "json", buf)
	logger.WithField("module", "config.en").Debug("loaded %d entries", 7)

	var record map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &record))
	assert.Equal(t, "loaded 7 entries", record["msg"])
	assert.Equal(t, "config.en", record["module"])
	assert.Equal(t, "debug", record["level"])
}

func TestLogrusLogger_Level(t *testing.T) {
	buf := &bytes.Buffer{}
	logger := NewLogger(LevelError, "logrus", buf)
	logger.Warn("quiet")
	assert.Empty(t, buf.String())
	logger.Error("loud")
	assert.Contains(t, buf.String(), "loud")
}

func TestNullLogger(t *testing.T) {
	logger := &NullLogger{}
	logger.Info("nothing")
	assert.Same(t, logger, logger.WithField("a", 1))
}

func TestGlobalLogger(t *testing.T) {
	original := GetGlobalLogger()
	defer SetGlobalLogger(original)

	null := &NullLogger{}
	SetGlobalLogger(null)
	assert.Same(t, null, GetGlobalLogger())
}

func TestLoggerInterface(t *testing.T) {
	var _ Logger = &DefaultLogger{}
	var _ Logger = &LogrusLogger{}
	var _ Logger = &NullLogger{}
}
