package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoggerWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelDebug))

	logger.Info("sync started", "group", "hinatazaka46", "member_id", 12)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "info", entry["level"])
	assert.Equal(t, "hakosync", entry["service"])
	assert.Equal(t, "sync started", entry["message"])

	fields := entry["fields"].(map[string]interface{})
	assert.Equal(t, "hinatazaka46", fields["group"])
	assert.Equal(t, float64(12), fields["member_id"])
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithLevel(LevelWarn))

	logger.Debug("noise")
	logger.Info("more noise")
	logger.Warn("kept")
	logger.Error("also kept")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	assert.Len(t, lines, 2)
}

func TestLoggerCorrelationIDFromFields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	logger.Info("page persisted", "correlation_id", "run-42", "count", 50)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))

	assert.Equal(t, "run-42", entry["correlation_id"])
	fields := entry["fields"].(map[string]interface{})
	_, hasCorrelation := fields["correlation_id"]
	assert.False(t, hasCorrelation)
}

func TestLoggerCorrelationIDFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf))

	ctx := WithCorrelationID(context.Background(), "ctx-run")
	logger.InfoWithContext(ctx, "cursor advanced", "cursor", 4400)

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "ctx-run", entry["correlation_id"])
}

func TestWithService(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(WithOutput(&buf), WithService("hakosync-test"))

	logger.Info("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "hakosync-test", entry["service"])
}

func TestNewCorrelationID(t *testing.T) {
	a := NewCorrelationID()
	b := NewCorrelationID()
	assert.NotEmpty(t, a)
	assert.NotEqual(t, a, b)
}

func TestGetCorrelationIDUnset(t *testing.T) {
	assert.Equal(t, "", GetCorrelationID(context.Background()))
}
