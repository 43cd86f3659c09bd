package intake

import (
	"bytes"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jpfielding/shrink.go/pkg/shrink"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writePNG(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 4, 3))))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
	return path
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()
	path := writePNG(t, dir, "photo.bin")

	src, err := Open(path, 0)
	require.NoError(t, err)
	assert.Equal(t, "photo.bin", src.Name)
	assert.Equal(t, "image/png", src.Type, "type comes from content, not extension")
	assert.Equal(t, int64(len(src.Bytes())), src.Size)
	assert.WithinDuration(t, time.Now(), src.LastModified, time.Minute)

	_, err = Open(path, 10)
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = Open(dir, 0)
	assert.Error(t, err)

	_, err = Open(filepath.Join(dir, "missing.png"), 0)
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestRules_Validate(t *testing.T) {
	ok := shrink.NewSourceImage("ok.jpg", "image/jpeg", time.Time{}, make([]byte, 10))
	gif := shrink.NewSourceImage("anim.gif", "image/gif", time.Time{}, make([]byte, 10))
	huge := shrink.NewSourceImage("huge.png", "image/png", time.Time{}, make([]byte, 10))
	huge.Size = MaxFileSize + 1

	accepted, rejected := DefaultRules().Validate([]*shrink.SourceImage{gif, ok, huge})
	require.Len(t, accepted, 1)
	assert.Same(t, ok, accepted[0])

	require.Len(t, rejected, 2)
	assert.Equal(t, "anim.gif", rejected[0].Name)
	assert.ErrorIs(t, rejected[0], ErrUnsupportedType)
	assert.Equal(t, "huge.png", rejected[1].Name)
	assert.ErrorIs(t, rejected[1], ErrTooLarge)
	assert.Contains(t, rejected[1].Error(), "50MiB")
}
