package shrink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"time"

	"github.com/jpfielding/shrink.go/pkg/dispatch"
	"github.com/jpfielding/shrink.go/pkg/exif"
	"github.com/jpfielding/shrink.go/pkg/geometry"
	"github.com/jpfielding/shrink.go/pkg/handle"
	"github.com/jpfielding/shrink.go/pkg/logging"
	"github.com/jpfielding/shrink.go/pkg/surface"
)

// Compressor is a compression session. It owns the background executor and
// every URL handle it hands out until Clear is called. Calls are serialized.
type Compressor struct {
	handles      handle.Registry
	log          *slog.Logger
	policy       dispatch.Policy
	dispatchOpts []dispatch.Option
	dispatcher   *dispatch.Dispatcher
	now          func() time.Time

	mu   sync.Mutex
	last []*Result
	held []*Result
}

// Option configures a Compressor
type Option func(*Compressor)

// WithPolicy sets the offload policy (default dispatch.DefaultPolicy)
func WithPolicy(p dispatch.Policy) Option {
	return func(c *Compressor) {
		c.policy = p
	}
}

// WithRegistry sets where presentable URLs are issued (default an in-memory handle.Store)
func WithRegistry(r handle.Registry) Option {
	return func(c *Compressor) {
		c.handles = r
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(c *Compressor) {
		c.log = log
	}
}

// WithDispatchOptions passes extra options to the dispatcher
func WithDispatchOptions(opts ...dispatch.Option) Option {
	return func(c *Compressor) {
		c.dispatchOpts = append(c.dispatchOpts, opts...)
	}
}

// New creates a session
func New(opts ...Option) *Compressor {
	c := &Compressor{
		log:    slog.Default(),
		policy: dispatch.DefaultPolicy(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.handles == nil {
		c.handles = handle.NewStore()
	}
	dopts := append([]dispatch.Option{dispatch.WithLogger(c.log)}, c.dispatchOpts...)
	c.dispatcher = dispatch.NewDispatcher(c.policy, encodeBlob, dopts...)
	return c
}

func encodeBlob(img image.Image, mime string, quality float64) ([]byte, error) {
	var buf bytes.Buffer
	if err := surface.Encode(&buf, img, mime, quality); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// CompressImage runs the pipeline for one image
func (c *Compressor) CompressImage(ctx context.Context, src *SourceImage, settings Settings) (*Result, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.compress(ctx, src, settings)
	if err != nil {
		return nil, err
	}
	c.held = append(c.held, res)
	return res, nil
}

// CompressBatch compresses sources one at a time in order. Per-image failures are
// logged, recorded in the report and skipped. onProgress (optional) is called after
// every attempt with done counting attempts. A batch with no results returns the
// report together with ErrNoResults. Cancelling ctx stops before the next image.
func (c *Compressor) CompressBatch(ctx context.Context, sources []*SourceImage, settings Settings, onProgress ProgressFunc) (*BatchReport, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	total := len(sources)
	report := &BatchReport{Results: make([]*Result, 0, total), Total: total}
	start := c.now()
	for i, src := range sources {
		if err := ctx.Err(); err != nil {
			c.last = report.Results
			return report, err
		}
		name := fmt.Sprintf("#%d", i)
		if src != nil {
			name = src.Name
		}
		ictx := logging.AppendCtx(ctx, slog.String("name", name), slog.Int("index", i))

		res, err := c.compress(ictx, src, settings)
		if err != nil {
			c.log.WarnContext(ictx, "image compression failed", "error", err)
			report.Failures = append(report.Failures, Failure{Index: i, Name: name, Err: err})
		} else {
			report.Results = append(report.Results, res)
			c.held = append(c.held, res)
		}

		if onProgress != nil {
			done := i + 1
			onProgress(float64(done)/float64(total)*100, done, total)
		}
	}
	c.last = report.Results

	stats := c.dispatcher.Stats()
	c.log.InfoContext(ctx, "batch complete",
		"total", total,
		"compressed", len(report.Results),
		"failed", len(report.Failures),
		"inline", stats.Inline,
		"offloaded", stats.Offloaded,
		"fallbacks", stats.Fallbacks,
		"elapsed", c.now().Sub(start))

	if len(report.Results) == 0 {
		return report, ErrNoResults
	}
	return report, nil
}

// compress runs decode -> orient -> fit -> render -> encode -> measure
func (c *Compressor) compress(ctx context.Context, src *SourceImage, settings Settings) (*Result, error) {
	if src == nil {
		return nil, errors.New("nil source image")
	}
	dims, err := src.Dimensions()
	if err != nil {
		return nil, fmt.Errorf("failed to read dimensions: %w", err)
	}
	original := ImageInfo{
		Name:         src.Name,
		Size:         src.Size,
		Type:         src.Type,
		Width:        dims.Width,
		Height:       dims.Height,
		LastModified: src.LastModified,
	}

	img, err := surface.Decode(src.Bytes(), src.Type)
	if err != nil {
		return nil, err
	}
	orientation := exif.ReadOrientation(src.Bytes())

	oriented, err := surface.Orient(img, orientation)
	if err != nil {
		return nil, fmt.Errorf("failed to orient image: %w", err)
	}
	bounds := oriented.Bounds()
	target := geometry.Fit(bounds.Width, bounds.Height, settings.MaxWidth, settings.MaxHeight)

	rendered := oriented
	if target != bounds {
		if rendered, err = surface.Resize(oriented.Pixels(), target); err != nil {
			return nil, fmt.Errorf("failed to resize to %s: %w", target, err)
		}
	}

	format := OutputFormat(src.Type, settings.OutputFormat)
	data, err := c.dispatcher.Encode(ctx, rendered.Pixels(), format, settings.Quality)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", format, err)
	}

	cfg, err := surface.DecodeConfig(data, format)
	if err != nil {
		return nil, fmt.Errorf("failed to measure encoded image: %w", err)
	}
	encoded := ImageInfo{
		Name:         src.Name,
		Size:         int64(len(data)),
		Type:         format,
		Width:        cfg.Width,
		Height:       cfg.Height,
		LastModified: c.now(),
	}

	originalURL, err := c.handles.Acquire(src.Bytes(), src.Type)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire original url: %w", err)
	}
	encodedURL, err := c.handles.Acquire(data, format)
	if err != nil {
		c.handles.Release(originalURL)
		return nil, fmt.Errorf("failed to acquire encoded url: %w", err)
	}

	res := &Result{
		Source:           src,
		Encoded:          EncodedImage{Data: data, Type: format},
		OriginalInfo:     original,
		EncodedInfo:      encoded,
		CompressionRatio: CompressionRatio(src.Size, encoded.Size),
		Orientation:      orientation,
		OriginalURL:      originalURL,
		EncodedURL:       encodedURL,
	}
	c.log.DebugContext(ctx, "image compressed",
		"from", dims, "to", target,
		"orientation", orientation,
		"type", format,
		"ratio", res.CompressionRatio)
	return res, nil
}

// Results returns the results of the most recent batch
func (c *Compressor) Results() []*Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*Result(nil), c.last...)
}

// Stats reports how encodes have been dispatched this session
func (c *Compressor) Stats() dispatch.Stats {
	return c.dispatcher.Stats()
}

// Clear releases every URL handle issued since the last Clear and stops the
// background executor. The Compressor remains usable.
func (c *Compressor) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, res := range c.held {
		c.handles.Release(res.OriginalURL)
		c.handles.Release(res.EncodedURL)
	}
	c.held = nil
	c.last = nil
	c.dispatcher.Close()
}
