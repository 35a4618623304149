package logger

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// recordingHandler collects records; delay slows each write.
type recordingHandler struct {
	mu      sync.Mutex
	records []slog.Record
	delay   time.Duration
}

func (h *recordingHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *recordingHandler) Handle(_ context.Context, rec slog.Record) error { //nolint:gocritic // slog.Handler interface requires value receiver
	if h.delay > 0 {
		time.Sleep(h.delay)
	}
	h.mu.Lock()
	h.records = append(h.records, rec)
	h.mu.Unlock()
	return nil
}

func (h *recordingHandler) WithAttrs([]slog.Attr) slog.Handler { return h }
func (h *recordingHandler) WithGroup(string) slog.Handler      { return h }

func (h *recordingHandler) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.records)
}

func (h *recordingHandler) countLevel(level slog.Level) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, r := range h.records {
		if r.Level == level {
			n++
		}
	}
	return n
}

func record(level slog.Level, msg string) slog.Record {
	return slog.NewRecord(time.Now(), level, msg, 0)
}

func TestAsyncHandler_CloseFlushes(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 1000, 2)

	const total = 200
	for range total {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "memory written"))
	}
	ah.Close()

	if got := inner.count(); got != total {
		t.Fatalf("expected %d records after close, got %d", total, got)
	}
}

func TestAsyncHandler_ConcurrentWriters(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10000, 4)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range 100 {
				_ = ah.Handle(context.Background(), record(slog.LevelInfo, "touched"))
			}
		}()
	}
	wg.Wait()
	ah.Close()

	if got := inner.count(); got != 5000 {
		t.Fatalf("expected 5000 records, got %d", got)
	}
}

func TestAsyncHandler_FullBufferDropsInfoKeepsWarn(t *testing.T) {
	inner := &recordingHandler{delay: 5 * time.Millisecond}
	ah := NewAsyncHandler(inner, 1, 1)

	for range 50 {
		_ = ah.Handle(context.Background(), record(slog.LevelInfo, "flood"))
	}
	for range 3 {
		_ = ah.Handle(context.Background(), record(slog.LevelWarn, "memory integrity warning"))
	}
	ah.Close()

	if ah.DroppedCount() == 0 {
		t.Fatal("expected INFO records to be dropped")
	}
	// Three integrity warnings plus the drop report.
	if got := inner.countLevel(slog.LevelWarn); got != 4 {
		t.Errorf("WARN records = %d, want 4", got)
	}
	last := inner.records[len(inner.records)-1]
	if last.Message != "async logger dropped records" {
		t.Errorf("last record = %q, want drop report", last.Message)
	}
}

func TestAsyncHandler_HandleAfterCloseIsSynchronous(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 10, 1)
	ah.Close()
	ah.Close()

	if err := ah.Handle(context.Background(), record(slog.LevelError, "late")); err != nil {
		t.Fatalf("Handle after Close: %v", err)
	}
	if got := inner.count(); got != 1 {
		t.Fatalf("expected the late record to be written, got %d", got)
	}
}

func TestAsyncHandler_DerivedHandlersShareQueue(t *testing.T) {
	inner := &recordingHandler{}
	ah := NewAsyncHandler(inner, 100, 1)
	derived := ah.WithAttrs([]slog.Attr{slog.String("triad", "cherokee")}).(*AsyncHandler).WithGroup("req")

	_ = derived.Handle(context.Background(), record(slog.LevelInfo, "derived"))
	ah.Close()

	if got := inner.count(); got != 1 {
		t.Fatalf("parent Close should flush derived records, got %d", got)
	}
}
