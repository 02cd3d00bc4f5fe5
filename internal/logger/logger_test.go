package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"":        slog.LevelInfo,
		"debug":   slog.LevelDebug,
		" INFO ":  slog.LevelInfo,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
	}
	for in, want := range cases {
		got, err := ParseLevel(in)
		require.NoError(t, err, in)
		require.Equal(t, want, got, in)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "json", "info")
	require.NoError(t, err)

	l.Debug("hidden")
	l.Info("chat completed", "intent", "service")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	require.Equal(t, "chat completed", entry["msg"])
	require.Equal(t, "service", entry["intent"])
}

func TestNew_Text(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(&buf, "text", "warn")
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("category refresh failed", "err", "timeout")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "category refresh failed")
	require.Contains(t, out, "timeout")
}

func TestNew_RejectsUnknownFormat(t *testing.T) {
	_, err := New(&bytes.Buffer{}, "xml", "info")
	require.Error(t, err)

	_, err = New(&bytes.Buffer{}, "json", "loud")
	require.Error(t, err)
}
