package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/scholaris/scholaris/internal/config"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, c := range cases {
		if got := parseLevel(c.in); got != c.want {
			t.Errorf("parseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNewSync(t *testing.T) {
	log, closer := New(config.Logging{Level: "debug", Service: "test"})
	if log == nil {
		t.Fatal("expected logger")
	}
	closer.Close() // must be safe for the nop closer
}

// recordingHandler counts handled records for async tests.
type recordingHandler struct {
	mu    sync.Mutex
	count int
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *recordingHandler) Handle(_ context.Context, _ slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.count++
	return nil
}
func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.count
}

func TestAsyncHandlerDrainsOnClose(t *testing.T) {
	rec := &recordingHandler{}
	h := NewAsyncHandler(rec, 16, 1)

	log := slog.New(h)
	for range 10 {
		log.Info("event")
	}
	h.Close()

	if got := rec.Count(); got != 10 {
		t.Errorf("expected 10 records handled, got %d", got)
	}
	if h.DroppedCount() != 0 {
		t.Errorf("expected 0 dropped, got %d", h.DroppedCount())
	}
}

func TestAsyncHandlerDropsWhenFull(t *testing.T) {
	block := make(chan struct{})
	rec := &blockingHandler{release: block}
	h := NewAsyncHandler(rec, 1, 1)

	log := slog.New(h)
	for range 50 {
		log.Info("event")
	}
	close(block)
	h.Close()

	if h.DroppedCount() == 0 {
		t.Error("expected some records to be dropped")
	}
}

type blockingHandler struct {
	release chan struct{}
	once    sync.Once
}

func (h *blockingHandler) Enabled(context.Context, slog.Level) bool { return true }
func (h *blockingHandler) Handle(_ context.Context, _ slog.Record) error {
	h.once.Do(func() {
		select {
		case <-h.release:
		case <-time.After(2 * time.Second):
		}
	})
	return nil
}
func (h *blockingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *blockingHandler) WithGroup(string) slog.Handler      { return h }
