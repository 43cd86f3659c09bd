package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLogger_ContextAttrs(t *testing.T) {
	var buf bytes.Buffer
	log := Logger(&buf, true, slog.LevelInfo)

	ctx := AppendCtx(context.Background(), slog.String("batch", "b1"))
	ctx = AppendCtx(ctx, slog.Int("index", 2))
	log.InfoContext(ctx, "compressed", "name", "a.jpg")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "compressed", rec["msg"])
	assert.Equal(t, "a.jpg", rec["name"])
	assert.Equal(t, "b1", rec["batch"])
	assert.Equal(t, float64(2), rec["index"])
}

func TestLogger_Level(t *testing.T) {
	var buf bytes.Buffer
	log := Logger(&buf, false, slog.LevelWarn)
	log.Info("dropped")
	assert.Empty(t, buf.String())
	log.Warn("kept")
	assert.Contains(t, buf.String(), "kept")
}

func TestAppendCtx_DoesNotMutateParent(t *testing.T) {
	parent := AppendCtx(context.Background(), slog.String("a", "1"))
	_ = AppendCtx(parent, slog.String("b", "2"))

	attrs, _ := parent.Value(ctxKey{}).([]slog.Attr)
	require.Len(t, attrs, 1)
	assert.Equal(t, "a", attrs[0].Key)
}

func TestFileWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "shrink.log")
	w := FileWriter(path, 1, 1, 1)
	log := Logger(w, false, slog.LevelInfo).With("component", "test")
	log.Info("hello")
	require.NoError(t, w.Close())

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "hello")
	assert.Contains(t, string(raw), "component=test")
}
