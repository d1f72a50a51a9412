package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("verbose"))
}

func TestNewWithWriter_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := NewWithWriter(Config{Level: "info", Format: "json"}, &buf)

	l.Debug("hidden")
	l.Info("State changed", "agent_id", "chat", "to", "connected")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "State changed", rec["msg"])
	assert.Equal(t, "chat", rec["agent_id"])
	assert.NotContains(t, buf.String(), "hidden")
}

func TestInit_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "agentconn.log")
	require.NoError(t, Init(Config{Level: "debug", Outputs: []string{path}}))
	t.Cleanup(func() {
		Sync()
		mu.Lock()
		globalLogger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		mu.Unlock()
	})

	Debug("written to file", "k", "v")
	Sync()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "k=v")
}

func TestNew_BadPath(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0644))

	_, _, err := New(Config{Outputs: []string{filepath.Join(blocker, "sub", "x.log")}})
	assert.Error(t, err)
}
