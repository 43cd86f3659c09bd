package dispatch

import (
	"context"
	"image"
	"log/slog"
	"sync"
)

// Stats counts how encodes were executed
type Stats struct {
	Inline    int `json:"inline"`
	Offloaded int `json:"offloaded"`
	Fallbacks int `json:"fallbacks"`
}

// Dispatcher routes each encode inline or to a lazily started Executor,
// falling back inline whenever the background path fails.
type Dispatcher struct {
	policy     Policy
	inline     EncodeFunc
	background EncodeFunc
	log        *slog.Logger

	mu    sync.Mutex
	exec  *Executor
	stats Stats
}

// Option configures a Dispatcher
type Option func(*Dispatcher)

// WithLogger sets the logger used for fallback warnings
func WithLogger(log *slog.Logger) Option {
	return func(d *Dispatcher) {
		d.log = log
	}
}

// WithBackground overrides the encode run by the executor (defaults to the inline encode)
func WithBackground(encode EncodeFunc) Option {
	return func(d *Dispatcher) {
		d.background = encode
	}
}

// NewDispatcher creates a dispatcher; no executor exists until the first offload
func NewDispatcher(policy Policy, inline EncodeFunc, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		policy: policy,
		inline: inline,
		log:    slog.Default(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.background == nil {
		d.background = inline
	}
	return d
}

// Policy returns the offload policy in use
func (d *Dispatcher) Policy() Policy {
	return d.policy
}

// Encode encodes img as mime, offloading large images. A failed offload is logged
// and retried inline exactly once; the background path is not tried again for this call.
func (d *Dispatcher) Encode(ctx context.Context, img *image.NRGBA, mime string, quality float64) ([]byte, error) {
	b := img.Bounds()
	if !d.policy.ShouldOffload(b.Dx(), b.Dy()) {
		d.count(func(s *Stats) { s.Inline++ })
		return d.inline(img, mime, quality)
	}

	data, err := d.offload(ctx, Job{Pixels: img, MIME: mime, Quality: quality})
	if err == nil {
		d.count(func(s *Stats) { s.Offloaded++ })
		return data, nil
	}

	d.log.WarnContext(ctx, "background encode failed, encoding inline",
		"width", b.Dx(), "height", b.Dy(), "mime", mime, "error", err)
	d.count(func(s *Stats) { s.Fallbacks++ })
	return d.inline(img, mime, quality)
}

func (d *Dispatcher) offload(ctx context.Context, job Job) ([]byte, error) {
	exec, err := d.executor()
	if err != nil {
		return nil, err
	}
	return exec.Submit(ctx, job)
}

// executor returns the session executor, starting it on first use
func (d *Dispatcher) executor() (*Executor, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.background == nil {
		return nil, ErrUnavailable
	}
	if d.exec == nil {
		d.log.Debug("starting background executor")
		d.exec = NewExecutor(d.background)
	}
	return d.exec, nil
}

// Running reports whether an executor currently exists
func (d *Dispatcher) Running() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.exec != nil
}

// Stats returns a snapshot of the counters
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

func (d *Dispatcher) count(fn func(*Stats)) {
	d.mu.Lock()
	fn(&d.stats)
	d.mu.Unlock()
}

// Close terminates the executor if one was started. A later offload starts a new one.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	exec := d.exec
	d.exec = nil
	d.mu.Unlock()
	if exec != nil {
		exec.Close()
		d.log.Debug("background executor stopped")
	}
}
