package app

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSONCarriesServiceAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, &Config{LogFormat: "json", LogLevel: "warn", AppEnv: "staging"})

	logger.Info("dropped")
	require.Zero(t, buf.Len())

	logger.Warn("kept", slog.Int64("reservation_id", 7))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	require.Equal(t, "kept", rec["msg"])
	require.Equal(t, "stayrev", rec["service"])
	require.Equal(t, "staging", rec["env"])
	require.EqualValues(t, 7, rec["reservation_id"])
}

func TestParseLevel(t *testing.T) {
	require.Equal(t, slog.LevelDebug, parseLevel("DEBUG"))
	require.Equal(t, slog.LevelWarn, parseLevel(" warning "))
	require.Equal(t, slog.LevelError, parseLevel("error"))
	require.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
