package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "debug", Format: "json", Writer: &buf})
	require.NoError(t, err)

	log.Debug("event dispatched", "event_id", "dev-a-1")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "event dispatched", rec["msg"])
	assert.Equal(t, "dev-a-1", rec["event_id"])
	assert.Equal(t, "DEBUG", rec["level"])
}

func TestNew_TextFiltersLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New(Options{Level: "warn", Writer: &buf})
	require.NoError(t, err)

	log.Info("hidden")
	log.Warn("shown", "peer", "dev-b")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "peer=dev-b")
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
	_, err = New(Options{Format: "xml"})
	assert.Error(t, err)
}

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"":        slog.LevelInfo,
		"DEBUG":   slog.LevelDebug,
		"info":    slog.LevelInfo,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range tests {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}
