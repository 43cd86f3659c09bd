package dispatch

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"
	"sync/atomic"
)

var (
	ErrExecutorClosed = errors.New("executor closed")
	ErrUnavailable    = errors.New("background execution unavailable")
)

// EncodeFunc turns pixels into an encoded blob
type EncodeFunc func(img image.Image, mime string, quality float64) ([]byte, error)

// Job is one encode request. Submit copies Pixels before handing it over.
type Job struct {
	Pixels  *image.NRGBA
	MIME    string
	Quality float64
}

type request struct {
	id    uint64
	job   Job
	reply chan response
}

type response struct {
	id   uint64
	data []byte
	err  error
}

// Executor runs encode jobs on a single background goroutine, one at a time in
// submission order. Each request carries its own reply channel.
type Executor struct {
	encode EncodeFunc
	jobs   chan request
	done   chan struct{}
	once   sync.Once
	wg     sync.WaitGroup
	nextID atomic.Uint64
}

// NewExecutor starts the background goroutine
func NewExecutor(encode EncodeFunc) *Executor {
	e := &Executor{
		encode: encode,
		jobs:   make(chan request),
		done:   make(chan struct{}),
	}
	e.wg.Add(1)
	go e.loop()
	return e
}

func (e *Executor) loop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case req := <-e.jobs:
			data, err := e.run(req.job)
			req.reply <- response{id: req.id, data: data, err: err}
		}
	}
}

func (e *Executor) run(job Job) (data []byte, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("background encode panicked: %v", r)
		}
	}()
	return e.encode(job.Pixels, job.MIME, job.Quality)
}

// Submit sends a job and waits for its result
func (e *Executor) Submit(ctx context.Context, job Job) ([]byte, error) {
	if job.Pixels == nil {
		return nil, errors.New("job has no pixels")
	}
	select {
	case <-e.done:
		return nil, ErrExecutorClosed
	default:
	}

	job.Pixels = clonePixels(job.Pixels)
	req := request{
		id:    e.nextID.Add(1),
		job:   job,
		reply: make(chan response, 1),
	}
	select {
	case e.jobs <- req:
	case <-e.done:
		return nil, ErrExecutorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case resp := <-req.reply:
		if resp.id != req.id {
			return nil, fmt.Errorf("reply %d does not match request %d", resp.id, req.id)
		}
		return resp.data, resp.err
	case <-e.done:
		return nil, ErrExecutorClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops the background goroutine after any in-flight job; it is safe to call more than once
func (e *Executor) Close() {
	e.once.Do(func() {
		close(e.done)
	})
	e.wg.Wait()
}

func clonePixels(src *image.NRGBA) *image.NRGBA {
	dst := &image.NRGBA{
		Pix:    make([]uint8, len(src.Pix)),
		Stride: src.Stride,
		Rect:   src.Rect,
	}
	copy(dst.Pix, src.Pix)
	return dst
}
