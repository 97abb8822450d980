package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		var m map[string]interface{}
		require.NoError(t, json.Unmarshal(line, &m))
		out = append(out, m)
	}
	return out
}

func TestJSONLogEntryString(t *testing.T) {
	var parsed map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(JSONLogEntry{Message: "hello"}.String()), &parsed))
	assert.Equal(t, "hello", parsed["message"])
	assert.Equal(t, "INFO", parsed["severity"])
}

func TestJSONLoggerSink(t *testing.T) {
	var buf bytes.Buffer
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	l := NewJSONLoggerWithSink(&buf, LevelInfo).(*jsonLogger)
	l.ts = &ts

	l.Debug("dropped")
	l.With(map[string]interface{}{"component": "cache", "key": "abc"}).Warn("wrote %d keys", 2)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "wrote 2 keys", lines[0]["message"])
	assert.Equal(t, "WARNING", lines[0]["severity"])
	assert.Equal(t, "cache", lines[0]["component"])
	assert.Equal(t, "abc", lines[0]["metadata"].(map[string]interface{})["key"])
	assert.Equal(t, ts.Format(time.RFC3339), lines[0]["timestamp"])
}

func TestJSONLoggerWithPrefix(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithSink(&buf, LevelTrace)
	l.WithPrefix("[exchange]").WithPrefix("cache").Info("hit")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "exchange cache", lines[0]["component"])
}

func TestJSONLoggerWithContext(t *testing.T) {
	var buf bytes.Buffer
	l := NewJSONLoggerWithSink(&buf, LevelTrace)

	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID: trace.TraceID{1, 2, 3},
		SpanID:  trace.SpanID{4, 5, 6},
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)
	l.WithContext(ctx).Info("traced")
	l.WithContext(context.Background()).Info("untraced")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, sc.TraceID().String(), lines[0]["logging.googleapis.com/trace"])
	assert.Nil(t, lines[1]["logging.googleapis.com/trace"])
}
