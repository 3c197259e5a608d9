package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []LogEntry {
	t.Helper()
	var out []LogEntry
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var e LogEntry
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		out = append(out, e)
	}
	return out
}

func TestLoggerWritesContextFields(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("broker-service", &buf)

	ctx := l.WithRequestID(context.Background(), "req-1")
	ctx = l.WithReservationID(ctx, "42")
	ctx = l.WithPlate(ctx, "ABC123")
	l.Info(ctx, "taxi_auth_success", " Driver authenticated ", map[string]any{"driver_id": "7"})

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	e := lines[0]
	assert.Equal(t, "INFO", e.Level)
	assert.Equal(t, "broker-service", e.Service)
	assert.Equal(t, "taxi_auth_success", e.Action)
	assert.Equal(t, "Driver authenticated", e.Message)
	assert.Equal(t, "req-1", e.RequestID)
	assert.Equal(t, "42", e.ReservationID)
	assert.Equal(t, "ABC123", e.Plate)
}

func TestLoggerErrorAndDebugToggle(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter("driver-agent", &buf)
	l.SetDebug(false)

	l.Debug(context.Background(), "noise", "hidden", nil)
	l.Error(context.Background(), "", "boom", errors.New("dial failed"), nil)
	l.Warn(context.Background(), "retry", "retrying", nil, nil)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 2)
	assert.Equal(t, "unspecified", lines[0].Action)
	require.NotNil(t, lines[0].Error)
	assert.Equal(t, "dial failed", lines[0].Error.Msg)
	assert.NotEmpty(t, lines[0].Error.Stack)
	assert.Equal(t, "WARN", lines[1].Level)
	assert.Nil(t, lines[1].Error)
}
