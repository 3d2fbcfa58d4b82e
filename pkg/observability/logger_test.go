package observability

import (
	"bytes"
	"log"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()

	var buf bytes.Buffer
	log.SetOutput(&buf)
	t.Cleanup(func() { log.SetOutput(os.Stderr) })
	return &buf
}

func TestNewLogger_LevelParsing(t *testing.T) {
	tests := []struct {
		level string
		want  LogLevel
	}{
		{level: "debug", want: LogLevelDebug},
		{level: "DEBUG", want: LogLevelDebug},
		{level: "warn", want: LogLevelWarn},
		{level: "error", want: LogLevelError},
		{level: "", want: LogLevelInfo},
		{level: "verbose", want: LogLevelInfo},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			logger, ok := NewLogger(LoggingConfig{Level: tt.level}).(*StandardLogger)
			require.True(t, ok)
			assert.Equal(t, tt.want, logger.level)
			assert.Equal(t, "layercache", logger.prefix)
		})
	}
}

func TestStandardLogger_LevelFiltering(t *testing.T) {
	buf := captureLog(t)
	logger := NewLogger(LoggingConfig{Level: "warn", Prefix: "test"})

	logger.Debug("too quiet", nil)
	logger.Info("still too quiet", nil)
	assert.Empty(t, buf.String())

	logger.Warn("loud enough", nil)
	out := buf.String()
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "[test]")
	assert.Contains(t, out, "loud enough")
}

func TestStandardLogger_Fields(t *testing.T) {
	buf := captureLog(t)
	logger := NewLogger(LoggingConfig{Prefix: "test"}).With(map[string]interface{}{
		"tier": "memory",
		"key":  "base",
	})

	logger.Info("cache hit", map[string]interface{}{"key": "call"})

	out := buf.String()
	assert.Contains(t, out, "tier=memory")
	assert.Contains(t, out, "key=call")
	// Per-call fields override inherited ones instead of duplicating them.
	assert.NotContains(t, out, "key=base")
}

func TestStandardLogger_WithPrefix(t *testing.T) {
	buf := captureLog(t)
	logger := NewLogger(LoggingConfig{Prefix: "root"}).WithPrefix("sub")

	logger.Infof("formatted %d", 7)

	out := buf.String()
	assert.Contains(t, out, "[sub]")
	assert.Contains(t, out, "formatted 7")
	assert.NotContains(t, out, "[root]")
}

func TestNoopLoggerDiscardsEverything(t *testing.T) {
	buf := captureLog(t)
	logger := NewNoopLogger()

	logger.Error("nothing", map[string]interface{}{"k": "v"})
	logger.With(map[string]interface{}{"k": "v"}).Warn("nothing", nil)

	assert.Empty(t, buf.String())
}
