package shrink

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/jpfielding/shrink.go/pkg/dispatch"
	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/geometry"
	"github.com/jpfielding/shrink.go/pkg/handle"
	"github.com/jpfielding/shrink.go/pkg/surface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func gradient(w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: uint8(x ^ y), A: 0xFF})
		}
	}
	return img
}

func pngSource(t *testing.T, name string, w, h int) *SourceImage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, gradient(w, h)))
	return NewSourceImage(name, "image/png", time.Unix(1700000000, 0), buf.Bytes())
}

// jpegSource encodes a w x h JPEG and splices in an APP1/EXIF orientation segment
func jpegSource(t *testing.T, name string, w, h int, o exif.Orientation) *SourceImage {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, gradient(w, h), &jpeg.Options{Quality: 95}))
	raw := buf.Bytes()

	tiff := make([]byte, 8+2+12+4)
	copy(tiff, "MM")
	binary.BigEndian.PutUint16(tiff[2:], 42)
	binary.BigEndian.PutUint32(tiff[4:], 8)
	binary.BigEndian.PutUint16(tiff[8:], 1)
	binary.BigEndian.PutUint16(tiff[10:], 0x0112)
	binary.BigEndian.PutUint16(tiff[12:], 3)
	binary.BigEndian.PutUint32(tiff[14:], 1)
	binary.BigEndian.PutUint16(tiff[18:], uint16(o))
	payload := append([]byte("Exif\x00\x00"), tiff...)

	out := []byte{0xFF, 0xD8, 0xFF, 0xE1}
	out = binary.BigEndian.AppendUint16(out, uint16(len(payload)+2))
	out = append(out, payload...)
	out = append(out, raw[2:]...)
	return NewSourceImage(name, "", time.Unix(1700000000, 0), out)
}

func corruptSource(name string) *SourceImage {
	return NewSourceImage(name, "image/jpeg", time.Time{}, []byte{0xFF, 0xD8, 0xFF, 0xDB, 0x00, 0x01, 0x02})
}

// tracker is a handle.Registry counting acquire/release calls
type tracker struct {
	mu       sync.Mutex
	acquired int
	released map[string]int
	live     map[string]bool
}

func newTracker() *tracker {
	return &tracker{released: map[string]int{}, live: map[string]bool{}}
}

func (tr *tracker) Acquire(data []byte, mime string) (handle.Handle, error) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.acquired++
	h := handle.Handle{URL: "blob:" + string(rune('a'+tr.acquired)), MIME: mime, Size: len(data)}
	tr.live[h.URL] = true
	return h, nil
}

func (tr *tracker) Release(h handle.Handle) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.released[h.URL]++
	delete(tr.live, h.URL)
}

func newCompressor(opts ...Option) *Compressor {
	base := []Option{WithLogger(quiet), WithPolicy(dispatch.Policy{Available: false})}
	return New(append(base, opts...)...)
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, 60, CompressionRatio(1000, 400))
	assert.Equal(t, -20, CompressionRatio(1000, 1200))
	assert.Equal(t, 0, CompressionRatio(1000, 1000))
	assert.Equal(t, 100, CompressionRatio(1000, 0))
	assert.Equal(t, 0, CompressionRatio(0, 10))
	// halves round up like the browser did
	assert.Equal(t, 51, CompressionRatio(1000, 495))
	assert.Equal(t, -20, CompressionRatio(1000, 1205))
}

func TestOutputFormat(t *testing.T) {
	tests := []struct {
		source, explicit, want string
	}{
		{"image/jpeg", "", "image/jpeg"},
		{"image/png", "", "image/png"},
		{"image/webp", "", "image/webp"},
		{"image/avif", "", "image/jpeg"},
		{"image/jpg", "", "image/jpeg"},
		{"application/octet-stream", "", "image/jpeg"},
		{"image/avif", "image/avif", "image/avif"},
		{"image/png", "image/webp", "image/webp"},
	}
	for _, tt := range tests {
		t.Run(tt.source+"->"+tt.explicit, func(t *testing.T) {
			assert.Equal(t, tt.want, OutputFormat(tt.source, tt.explicit))
		})
	}
}

func TestSettings_Validate(t *testing.T) {
	assert.NoError(t, DefaultSettings().Validate())

	bad := []Settings{
		{Quality: -0.1, MaxWidth: 10, MaxHeight: 10},
		{Quality: 1.1, MaxWidth: 10, MaxHeight: 10},
		{Quality: 0.5, MaxWidth: 0, MaxHeight: 10},
		{Quality: 0.5, MaxWidth: 10, MaxHeight: -1},
		{Quality: 0.5, MaxWidth: 10, MaxHeight: 10, OutputFormat: "image/gif"},
	}
	for _, s := range bad {
		assert.ErrorIs(t, s.Validate(), ErrInvalidSettings, "%+v", s)
	}
}

func TestSourceImage_Lazy(t *testing.T) {
	src := pngSource(t, "a.png", 30, 20)
	assert.Equal(t, "image/png", src.Type)
	d, err := src.Dimensions()
	require.NoError(t, err)
	assert.Equal(t, geometry.Dimensions{Width: 30, Height: 20}, d)

	sniffed := jpegSource(t, "b.jpg", 8, 8, exif.Normal)
	assert.Equal(t, "image/jpeg", sniffed.Type)
}

func TestCompressImage_ResizeRoundTrip(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	src := pngSource(t, "wide.png", 400, 300)
	res, err := c.CompressImage(context.Background(), src,
		Settings{Quality: 0.7, MaxWidth: 200, MaxHeight: 200, OutputFormat: surface.MIMEJPEG})
	require.NoError(t, err)

	want := geometry.Fit(400, 300, 200, 200)
	assert.Equal(t, geometry.Dimensions{Width: 200, Height: 150}, want)
	assert.Equal(t, want.Width, res.EncodedInfo.Width)
	assert.Equal(t, want.Height, res.EncodedInfo.Height)

	cfg, err := surface.DecodeConfig(res.Encoded.Data, res.Encoded.Type)
	require.NoError(t, err)
	assert.Equal(t, want, geometry.Dimensions{Width: cfg.Width, Height: cfg.Height})

	assert.Equal(t, ImageInfo{
		Name: "wide.png", Size: src.Size, Type: "image/png", Width: 400, Height: 300,
		LastModified: time.Unix(1700000000, 0),
	}, res.OriginalInfo)
	assert.Equal(t, "image/jpeg", res.EncodedInfo.Type)
	assert.Equal(t, res.Encoded.Size(), res.EncodedInfo.Size)
	assert.Equal(t, CompressionRatio(src.Size, res.Encoded.Size()), res.CompressionRatio)
	assert.True(t, res.OriginalURL.Valid())
	assert.True(t, res.EncodedURL.Valid())
}

func TestCompressImage_NoUpscale(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	res, err := c.CompressImage(context.Background(), pngSource(t, "small.png", 50, 40), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 50, res.EncodedInfo.Width)
	assert.Equal(t, 40, res.EncodedInfo.Height)
	assert.Equal(t, "image/png", res.Encoded.Type)
}

func TestCompressImage_Orientation(t *testing.T) {
	tests := []struct {
		o    exif.Orientation
		want geometry.Dimensions
	}{
		{exif.Normal, geometry.Dimensions{Width: 300, Height: 150}},
		{exif.Rotate180, geometry.Dimensions{Width: 300, Height: 150}},
		// 400x200 becomes 200x400 upright, then fits 150 wide
		{exif.Rotate90, geometry.Dimensions{Width: 150, Height: 300}},
		{exif.Transverse, geometry.Dimensions{Width: 150, Height: 300}},
	}
	for _, tt := range tests {
		t.Run(tt.o.String(), func(t *testing.T) {
			c := newCompressor()
			defer c.Clear()

			res, err := c.CompressImage(context.Background(), jpegSource(t, "cam.jpg", 400, 200, tt.o),
				Settings{Quality: 0.8, MaxWidth: 300, MaxHeight: 300})
			require.NoError(t, err)
			assert.Equal(t, tt.o, res.Orientation)
			assert.Equal(t, tt.want, geometry.Dimensions{Width: res.EncodedInfo.Width, Height: res.EncodedInfo.Height})
			assert.Equal(t, 400, res.OriginalInfo.Width, "original info keeps the stored size")
		})
	}
}

func TestCompressImage_OffloadFallback(t *testing.T) {
	c := newCompressor(
		WithPolicy(dispatch.Policy{Available: true, ThresholdPixels: 100}),
		WithDispatchOptions(dispatch.WithBackground(func(image.Image, string, float64) ([]byte, error) {
			return nil, errors.New("executor lost")
		})),
	)
	defer c.Clear()

	res, err := c.CompressImage(context.Background(), pngSource(t, "big.png", 64, 64), DefaultSettings())
	require.NoError(t, err)
	assert.Equal(t, 64, res.EncodedInfo.Width)
	assert.Equal(t, dispatch.Stats{Fallbacks: 1}, c.Stats())
}

func TestCompressImage_Offloaded(t *testing.T) {
	c := newCompressor(WithPolicy(dispatch.Policy{Available: true, ThresholdPixels: 100}))
	defer c.Clear()

	res, err := c.CompressImage(context.Background(), pngSource(t, "big.png", 64, 64),
		Settings{Quality: 0.5, MaxWidth: 32, MaxHeight: 32, OutputFormat: surface.MIMEWebP})
	require.NoError(t, err)
	assert.Equal(t, 32, res.EncodedInfo.Width)
	assert.Equal(t, "image/webp", res.EncodedInfo.Type)
	assert.Equal(t, dispatch.Stats{Offloaded: 1}, c.Stats())
}

func TestCompressBatch_Order(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	sources := []*SourceImage{
		pngSource(t, "one.png", 20, 10),
		jpegSource(t, "two.jpg", 30, 10, exif.Normal),
		pngSource(t, "three.png", 40, 10),
	}
	report, err := c.CompressBatch(context.Background(), sources, DefaultSettings(), nil)
	require.NoError(t, err)
	require.Len(t, report.Results, 3)
	for i, res := range report.Results {
		assert.Same(t, sources[i], res.Source)
	}
	assert.Empty(t, report.Failures)
	assert.False(t, report.Partial())
	assert.Equal(t, report.Results, c.Results())
}

func TestCompressBatch_PartialFailure(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	type call struct {
		percent     float64
		done, total int
	}
	var calls []call
	sources := []*SourceImage{
		pngSource(t, "first.png", 20, 20),
		corruptSource("broken.jpg"),
		pngSource(t, "third.png", 20, 20),
	}
	report, err := c.CompressBatch(context.Background(), sources, DefaultSettings(),
		func(percent float64, done, total int) {
			calls = append(calls, call{percent, done, total})
		})
	require.NoError(t, err)

	require.Len(t, report.Results, 2)
	assert.Equal(t, "first.png", report.Results[0].Source.Name)
	assert.Equal(t, "third.png", report.Results[1].Source.Name)
	require.Len(t, report.Failures, 1)
	assert.Equal(t, 1, report.Failures[0].Index)
	assert.Equal(t, "broken.jpg", report.Failures[0].Name)
	assert.Error(t, report.Failures[0].Err)
	assert.True(t, report.Partial())

	require.Len(t, calls, 3)
	for i, cl := range calls {
		assert.Equal(t, i+1, cl.done)
		assert.Equal(t, 3, cl.total)
		assert.InDelta(t, float64(i+1)/3*100, cl.percent, 1e-9)
	}
}

func TestCompressBatch_NoResults(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	report, err := c.CompressBatch(context.Background(),
		[]*SourceImage{corruptSource("a.jpg"), nil}, DefaultSettings(), nil)
	assert.ErrorIs(t, err, ErrNoResults)
	require.NotNil(t, report)
	assert.Empty(t, report.Results)
	assert.Len(t, report.Failures, 2)
}

func TestCompressBatch_InvalidSettings(t *testing.T) {
	c := newCompressor()
	called := false
	_, err := c.CompressBatch(context.Background(), []*SourceImage{pngSource(t, "a.png", 4, 4)},
		Settings{Quality: 2, MaxWidth: 1, MaxHeight: 1}, func(float64, int, int) { called = true })
	assert.ErrorIs(t, err, ErrInvalidSettings)
	assert.False(t, called)
}

func TestCompressBatch_Cancelled(t *testing.T) {
	c := newCompressor()
	defer c.Clear()

	ctx, cancel := context.WithCancel(context.Background())
	sources := []*SourceImage{pngSource(t, "a.png", 4, 4), pngSource(t, "b.png", 4, 4)}
	report, err := c.CompressBatch(ctx, sources, DefaultSettings(), func(_ float64, done, _ int) {
		if done == 1 {
			cancel()
		}
	})
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, report.Results, 1, "the in-flight image completes")
}

func TestClear_ReleasesHandles(t *testing.T) {
	tr := newTracker()
	c := newCompressor(
		WithRegistry(tr),
		WithPolicy(dispatch.Policy{Available: true, ThresholdPixels: 100}),
	)

	sources := []*SourceImage{
		pngSource(t, "a.png", 20, 20),
		corruptSource("b.jpg"),
		pngSource(t, "c.png", 20, 20),
	}
	_, err := c.CompressBatch(context.Background(), sources, DefaultSettings(), nil)
	require.NoError(t, err)
	_, err = c.CompressImage(context.Background(), pngSource(t, "d.png", 20, 20), DefaultSettings())
	require.NoError(t, err)

	assert.Equal(t, 6, tr.acquired)
	assert.Len(t, tr.live, 6)

	c.Clear()
	assert.Empty(t, tr.live)
	assert.Len(t, tr.released, 6)
	for url, n := range tr.released {
		assert.Equal(t, 1, n, url)
	}
	assert.Empty(t, c.Results())

	// a second clear has nothing left to release
	c.Clear()
	assert.Len(t, tr.released, 6)
}
