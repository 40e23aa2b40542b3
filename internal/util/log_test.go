package util

import (
	"bytes"
	"testing"

	"github.com/pterm/pterm"
	"github.com/stretchr/testify/require"
)

func captureLog(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	writer, level := logger.Writer, logger.Level
	logger.Writer = &buf
	t.Cleanup(func() {
		logger.Writer = writer
		logger.Level = level
	})
	return &buf
}

func TestSetLevelFiltersDebug(t *testing.T) {
	buf := captureLog(t)

	require.NoError(t, SetLevel("info"))
	LogDebug("hidden %d", 1)
	require.Empty(t, buf.String())

	LogWarning("peer %s slow", "bob")
	require.Contains(t, buf.String(), "peer bob slow")

	buf.Reset()
	EnableDebug()
	LogDebug("shown %d", 2)
	require.Contains(t, buf.String(), "shown 2")
}

func TestLogSuccessIsTagged(t *testing.T) {
	buf := captureLog(t)
	require.NoError(t, SetLevel("info"))

	LogSuccess("client %s connected", "alice")
	out := buf.String()
	require.Contains(t, out, "client alice connected")
	require.Contains(t, out, "status")
	require.Contains(t, out, "ok")
}

func TestParseLevel(t *testing.T) {
	tests := map[string]pterm.LogLevel{
		"debug":   pterm.LogLevelDebug,
		"":        pterm.LogLevelInfo,
		" INFO ":  pterm.LogLevelInfo,
		"warning": pterm.LogLevelWarn,
		"error":   pterm.LogLevelError,
	}
	for name, want := range tests {
		got, err := ParseLevel(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}

	_, err := ParseLevel("verbose")
	require.Error(t, err)

	before := logger.Level
	require.Error(t, SetLevel("verbose"))
	require.Equal(t, before, logger.Level)
}
