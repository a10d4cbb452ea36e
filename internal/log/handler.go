package log

import (
	"context"
	"log/slog"
	"sync/atomic"
)

// mirrorErrors controls whether error level records are echoed to the console
// handler in addition to the log file. Interactive commands turn this off so
// stderr writes do not disrupt the terminal UI.
var mirrorErrors atomic.Bool

func init() {
	mirrorErrors.Store(true)
}

// EnableErrorMirroring resumes echoing error records to the console handler.
func EnableErrorMirroring() {
	mirrorErrors.Store(true)
}

// DisableErrorMirroring stops echoing error records to the console handler.
func DisableErrorMirroring() {
	mirrorErrors.Store(false)
}

// NewMirrorHandler builds a handler that always forwards to file and, while
// mirroring is enabled, additionally forwards error level records to console.
// Either handler may be nil.
func NewMirrorHandler(file slog.Handler, console slog.Handler) slog.Handler {
	return &mirrorHandler{file: file, console: console}
}

type mirrorHandler struct {
	file    slog.Handler
	console slog.Handler
}

func (h *mirrorHandler) mirrors(level slog.Level) bool {
	return h.console != nil && level >= slog.LevelError && mirrorErrors.Load()
}

func (h *mirrorHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.file != nil && h.file.Enabled(ctx, level) {
		return true
	}
	return h.mirrors(level) && h.console.Enabled(ctx, level)
}

func (h *mirrorHandler) Handle(ctx context.Context, record slog.Record) error {
	if h.file != nil && h.file.Enabled(ctx, record.Level) {
		if err := h.file.Handle(ctx, record); err != nil {
			return err
		}
	}

	if h.mirrors(record.Level) && h.console.Enabled(ctx, record.Level) {
		return h.console.Handle(ctx, record.Clone())
	}

	return nil
}

func (h *mirrorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := &mirrorHandler{}
	if h.file != nil {
		next.file = h.file.WithAttrs(attrs)
	}
	if h.console != nil {
		next.console = h.console.WithAttrs(attrs)
	}
	return next
}

func (h *mirrorHandler) WithGroup(name string) slog.Handler {
	next := &mirrorHandler{}
	if h.file != nil {
		next.file = h.file.WithGroup(name)
	}
	if h.console != nil {
		next.console = h.console.WithGroup(name)
	}
	return next
}
