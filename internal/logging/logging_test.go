package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger(&buf, true, slog.LevelInfo)

	ctx := AppendCtx(context.Background(), slog.String("tool", "slidectl"))
	ctx = AppendCtx(ctx, slog.String("run", "abc"))
	logger.InfoContext(ctx, "opened", "levels", 3)

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "opened", record["msg"])
	assert.Equal(t, "slidectl", record["tool"])
	assert.Equal(t, "abc", record["run"])
	assert.Equal(t, float64(3), record["levels"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger(&buf, false, slog.LevelWarn)
	logger.Info("hidden")
	logger.With("path", "a.svs").Warn("shown")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "path=a.svs")
}

func TestGroupedContext(t *testing.T) {
	var buf bytes.Buffer
	logger := Logger(&buf, false, slog.LevelDebug)
	ctx := AppendCtx(context.Background(), slog.Group("goslide", slog.String("name", "slidectl")))
	logger.DebugContext(ctx, "hello")
	assert.Contains(t, buf.String(), "goslide.name=slidectl")
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "slidectl.log")
	w := FileWriter(path)
	Logger(w, false, slog.LevelInfo).Info("to file")
	require.NoError(t, w.Close())
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(data), "to file"))
}
