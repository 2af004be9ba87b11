package logger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Closer flushes and stops a handler on shutdown.
type Closer interface {
	Close()
}

// nopCloser is returned in synchronous mode, where there is nothing to
// flush.
type nopCloser struct{}

func (nopCloser) Close() {}

// AsyncHandler moves record handling off the request path: Handle enqueues,
// a worker pool writes. A full queue drops the record instead of blocking a
// request goroutine on slow output.
type AsyncHandler struct {
	inner slog.Handler
	queue chan slog.Record
	wg    *sync.WaitGroup
	drops *atomic.Int64
}

// NewAsyncHandler wraps inner with a queue of the given capacity drained by
// the given number of workers.
func NewAsyncHandler(inner slog.Handler, capacity, workers int) *AsyncHandler {
	h := &AsyncHandler{
		inner: inner,
		queue: make(chan slog.Record, capacity),
		wg:    &sync.WaitGroup{},
		drops: &atomic.Int64{},
	}
	for range workers {
		h.wg.Add(1)
		go h.worker()
	}
	return h
}

func (h *AsyncHandler) worker() {
	defer h.wg.Done()
	for rec := range h.queue {
		_ = h.inner.Handle(context.Background(), rec)
	}
}

// Enabled delegates to the inner handler.
func (h *AsyncHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

// Handle enqueues the record, dropping it when the queue is full.
func (h *AsyncHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // hugeParam: slog.Handler signature
	select {
	case h.queue <- rec:
	default:
		h.drops.Add(1)
	}
	return nil
}

// WithAttrs wraps a derived inner handler around the shared queue.
func (h *AsyncHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithAttrs(attrs), queue: h.queue, wg: h.wg, drops: h.drops}
}

// WithGroup wraps a derived inner handler around the shared queue.
func (h *AsyncHandler) WithGroup(name string) slog.Handler {
	return &AsyncHandler{inner: h.inner.WithGroup(name), queue: h.queue, wg: h.wg, drops: h.drops}
}

// DroppedCount reports how many records were discarded on a full queue.
func (h *AsyncHandler) DroppedCount() int64 {
	return h.drops.Load()
}

// Close stops accepting records, drains the queue, and makes a lossy
// shutdown visible in the stream itself.
func (h *AsyncHandler) Close() {
	close(h.queue)
	h.wg.Wait()
	if n := h.drops.Load(); n > 0 {
		rec := slog.NewRecord(time.Now(), slog.LevelWarn, fmt.Sprintf("async log queue dropped %d records", n), 0)
		_ = h.inner.Handle(context.Background(), rec)
	}
}
