package logging

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerLevels(t *testing.T) {
	tests := []struct {
		level     LogLevel
		logsDebug bool
		logsInfo  bool
	}{
		{level: LogLevelQuiet, logsDebug: false, logsInfo: false},
		{level: LogLevelNormal, logsDebug: false, logsInfo: true},
		{level: LogLevelVerbose, logsDebug: true, logsInfo: true},
		{level: LogLevelDebug, logsDebug: true, logsInfo: true},
	}

	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(Config{Level: tt.level, Output: &buf, Format: "text"})
			require.NoError(t, err)

			logger.Debug("debug message")
			assert.Equal(t, tt.logsDebug, bytes.Contains(buf.Bytes(), []byte("debug message")))

			buf.Reset()
			logger.Info("info message")
			assert.Equal(t, tt.logsInfo, bytes.Contains(buf.Bytes(), []byte("info message")))
		})
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.WithField("stage", "import").Info("started")
	assert.Contains(t, buf.String(), `"stage":"import"`)
	assert.Contains(t, buf.String(), `"msg":"started"`)
}

func TestNewLoggerWritesLogFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.log")
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelNormal, Output: &buf, Format: "text", LogFile: path})
	require.NoError(t, err)

	logger.Info("hello file")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello file")
	assert.Contains(t, buf.String(), "hello file")
}

func TestLogStageStart(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelDebug, Output: &buf, Format: "json"})
	require.NoError(t, err)

	done := logger.LogStageStart("export", map[string]interface{}{"units": 3})
	assert.Contains(t, buf.String(), `"status":"started"`)

	buf.Reset()
	done(nil)
	assert.Contains(t, buf.String(), `"status":"completed"`)
	assert.Contains(t, buf.String(), `"success":true`)
}

func TestLogStageStartWithError(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelDebug, Output: &buf, Format: "json"})
	require.NoError(t, err)

	done := logger.LogStageStart("import", nil)
	buf.Reset()
	done(errors.New("extraction failed"))

	assert.Contains(t, buf.String(), `"success":false`)
	assert.Contains(t, buf.String(), "extraction failed")
}

func TestLogToolExecution(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelDebug, Output: &buf, Format: "json"})
	require.NoError(t, err)

	logger.LogToolExecution("pg_dump", []string{"--schema-only", "appdb"}, 50*time.Millisecond, nil)
	assert.Contains(t, buf.String(), `"tool":"pg_dump"`)

	buf.Reset()
	logger.LogToolExecution("pg_dump", nil, time.Millisecond, errors.New("exit status 1"))
	assert.Contains(t, buf.String(), "exit status 1")
}

func TestSetLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(Config{Level: LogLevelQuiet, Output: &buf, Format: "text"})
	require.NoError(t, err)
	assert.Equal(t, LogLevelQuiet, logger.GetLevel())

	logger.Info("suppressed")
	assert.Empty(t, buf.String())

	logger.SetLevel(LogLevelNormal)
	logger.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}
