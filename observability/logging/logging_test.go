package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHandlerRenamesKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, slog.LevelDebug))
	logger.Debug("treasury operation committed", "operation", "deposit")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	require.Equal(t, "DEBUG", line["severity"])
	require.Equal(t, "treasury operation committed", line["message"])
	require.Contains(t, line, "timestamp")
	require.Equal(t, "deposit", line["operation"])
}

func TestHandlerHonoursLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, ParseLevel("warn")))
	logger.Info("dropped")
	require.Zero(t, buf.Len())
	require.Equal(t, slog.LevelInfo, ParseLevel("nonsense"))
	require.Equal(t, slog.LevelDebug, ParseLevel(" DEBUG "))
}

func TestSetupWritesRotatingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "treasuryd.log")
	logger := Setup("treasuryd", "test", &FileOptions{Path: path, MaxSizeMB: 1})
	logger.Info("started")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Contains(t, string(data), `"service":"treasuryd"`)
	require.Contains(t, string(data), `"env":"test"`)
}

func TestMaskHelpers(t *testing.T) {
	require.Equal(t, RedactedValue, MaskField("journal_dsn", "file:journal.db").Value.String())
	require.Equal(t, "deposit", MaskField("operation", "deposit").Value.String())
	require.Equal(t, "file:journal.db", MaskDSN("file:journal.db?_pragma=foreign_keys(1)"))
	require.Equal(t, "postgres://%5BREDACTED%5D@db:5432/journal", MaskDSN("postgres://user:secret@db:5432/journal?sslmode=disable"))
}
