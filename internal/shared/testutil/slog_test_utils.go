package testutil

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

// LogRecord is one captured log line.
type LogRecord struct {
	Level   slog.Level
	Message string
	Attrs   map[string]any
}

// BufferedSlogHandler records every log line so stage tests can assert on what a
// run reported. Attributes bound with Logger.With are merged into each record.
type BufferedSlogHandler struct {
	store *recordStore
	attrs []slog.Attr
	t     *testing.T
}

type recordStore struct {
	mu      sync.Mutex
	records []LogRecord
}

// NewTestLogger returns a logger writing into a fresh BufferedSlogHandler. Records
// are echoed through t.Logf so failing tests show the run's log.
func NewTestLogger(t *testing.T) (*slog.Logger, *BufferedSlogHandler) {
	h := &BufferedSlogHandler{store: &recordStore{}, t: t}
	return slog.New(h), h
}

func (h *BufferedSlogHandler) Enabled(context.Context, slog.Level) bool {
	return true
}

func (h *BufferedSlogHandler) Handle(_ context.Context, r slog.Record) error {
	attrs := make(map[string]any, len(h.attrs)+r.NumAttrs())
	for _, a := range h.attrs {
		attrs[a.Key] = a.Value.Any()
	}
	r.Attrs(func(a slog.Attr) bool {
		attrs[a.Key] = a.Value.Any()
		return true
	})

	h.store.mu.Lock()
	h.store.records = append(h.store.records, LogRecord{Level: r.Level, Message: r.Message, Attrs: attrs})
	h.store.mu.Unlock()

	if h.t != nil {
		h.t.Logf("[%s] %s %v", r.Level, r.Message, attrs)
	}
	return nil
}

func (h *BufferedSlogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	bound = append(append(bound, h.attrs...), attrs...)
	return &BufferedSlogHandler{store: h.store, attrs: bound, t: h.t}
}

// WithGroup is a no-op: attribute keys are recorded without group prefixes.
func (h *BufferedSlogHandler) WithGroup(string) slog.Handler {
	return h
}

func (h *BufferedSlogHandler) snapshot() []LogRecord {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return append([]LogRecord(nil), h.store.records...)
}

// ContainsMessage reports whether any record's message contains message.
func (h *BufferedSlogHandler) ContainsMessage(message string) bool {
	for _, r := range h.snapshot() {
		if strings.Contains(r.Message, message) {
			return true
		}
	}
	return false
}

// ContainsAttr reports whether any record carries key with exactly value.
func (h *BufferedSlogHandler) ContainsAttr(key string, value any) bool {
	for _, r := range h.snapshot() {
		if v, ok := r.Attrs[key]; ok && v == value {
			return true
		}
	}
	return false
}

// AssertLogContains fails t unless a record at level contains message.
func AssertLogContains(t *testing.T, h *BufferedSlogHandler, level slog.Level, message string) {
	t.Helper()

	var seen []string
	for _, r := range h.snapshot() {
		if r.Level != level {
			continue
		}
		if strings.Contains(r.Message, message) {
			return
		}
		seen = append(seen, r.Message)
	}
	t.Errorf("no %s log containing %q; got %q", level, message, seen)
}
