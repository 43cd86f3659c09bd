package watch

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDelay is how long a path must stay quiet before it is handled
const DefaultDelay = 500 * time.Millisecond

// DefaultExts are the file extensions picked up by default
var DefaultExts = []string{".jpg", ".jpeg", ".png", ".webp", ".avif"}

// Handler processes one settled file
type Handler func(ctx context.Context, path string) error

type Option func(*Watcher)

// WithDelay overrides the debounce delay
func WithDelay(d time.Duration) Option {
	return func(w *Watcher) {
		w.delay = d
	}
}

// WithExts overrides the accepted extensions
func WithExts(exts ...string) Option {
	return func(w *Watcher) {
		w.exts = map[string]bool{}
		for _, e := range exts {
			w.exts[strings.ToLower(e)] = true
		}
	}
}

func WithLogger(log *slog.Logger) Option {
	return func(w *Watcher) {
		w.log = log
	}
}

// Watcher debounces fsnotify events on a directory and hands each settled
// image file to a Handler, one at a time.
type Watcher struct {
	dir    string
	fs     *fsnotify.Watcher
	handle Handler
	delay  time.Duration
	exts   map[string]bool
	log    *slog.Logger

	mu      sync.Mutex
	pending map[string]*time.Timer
	ready   chan string
}

// New watches dir; nothing is handled until Run is called
func New(dir string, handle Handler, opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch folder %s: %w", dir, err)
	}
	w := &Watcher{
		dir:     dir,
		fs:      fsw,
		handle:  handle,
		delay:   DefaultDelay,
		log:     slog.Default(),
		pending: map[string]*time.Timer{},
		ready:   make(chan string, 64),
	}
	WithExts(DefaultExts...)(w)
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Accepts reports whether a path is a candidate image file
func (w *Watcher) Accepts(path string) bool {
	base := filepath.Base(path)
	if base == "" || base[0] == '.' {
		return false
	}
	return w.exts[strings.ToLower(filepath.Ext(base))]
}

// Run blocks until ctx is done or the watcher fails. Handler errors are
// logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.stop()
	w.log.InfoContext(ctx, "watching folder", "dir", w.dir, "delay", w.delay)
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !w.Accepts(event.Name) {
				continue
			}
			w.debounce(ctx, event.Name)
		case path := <-w.ready:
			if err := w.handle(ctx, path); err != nil {
				w.log.WarnContext(ctx, "failed to handle file", "path", path, "error", err)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.ErrorContext(ctx, "watcher error", "error", err)
		}
	}
}

func (w *Watcher) debounce(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-ctx.Done():
		}
	})
}

func (w *Watcher) stop() {
	w.mu.Lock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
	w.mu.Unlock()
	w.fs.Close()
}
