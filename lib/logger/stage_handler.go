// Package logger provides structured logging with subsystem-specific levels
// and OpenTelemetry trace context integration.
package logger

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// StageLogHandler wraps an slog.Handler and additionally writes any record
// carrying a "stage" attribute to a per-boot-stage log file. This gives each
// of post-fs, post-fs-data and late-start an independent log file without
// requiring call sites to open one themselves.
//
// Implementation follows the slog handler guide for shared state across
// WithAttrs/WithGroup: https://pkg.go.dev/golang.org/x/example/slog-handler-guide
type StageLogHandler struct {
	slog.Handler
	logPathFunc func(stage string) string // returns path to the log file for a stage
	state       *stageState                // shared across all handlers derived via WithAttrs/WithGroup
}

// stageState holds state that must be shared across all handler instances
// derived from the same parent via WithAttrs/WithGroup.
type stageState struct {
	mu        sync.Mutex
	fileCache map[string]*os.File
}

// NewStageLogHandler creates a new handler that wraps the given handler and
// additionally tees stage-tagged records to a per-stage log file.
// logPathFunc should return the log file path for a given stage name
// (typically paths.Paths.StageLog).
func NewStageLogHandler(wrapped slog.Handler, logPathFunc func(stage string) string) *StageLogHandler {
	return &StageLogHandler{
		Handler:     wrapped,
		logPathFunc: logPathFunc,
		state: &stageState{
			fileCache: make(map[string]*os.File),
		},
	}
}

// Handle processes a log record, passing it to the wrapped handler and
// optionally writing to a per-stage log file if a "stage" attribute is present.
func (h *StageLogHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := h.Handler.Handle(ctx, r); err != nil {
		return err
	}

	var stage string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "stage" {
			stage = a.Value.String()
			return false
		}
		return true
	})

	if stage != "" {
		h.writeToStageLog(stage, r)
	}

	return nil
}

// writeToStageLog writes a log record to the stage's log file.
func (h *StageLogHandler) writeToStageLog(stage string, r slog.Record) {
	logPath := h.logPathFunc(stage)
	if logPath == "" {
		return
	}

	timestamp := r.Time.Format(time.RFC3339)
	level := r.Level.String()
	msg := r.Message

	var attrs []string
	r.Attrs(func(a slog.Attr) bool {
		if a.Key != "stage" {
			attrs = append(attrs, fmt.Sprintf("%s=%v", a.Key, a.Value))
		}
		return true
	})

	line := fmt.Sprintf("%s %s %s", timestamp, level, msg)
	for _, attr := range attrs {
		line += " " + attr
	}
	line += "\n"

	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	f, ok := h.state.fileCache[stage]
	if !ok {
		dir := filepath.Dir(logPath)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return
		}

		var err error
		f, err = os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return
		}
		h.state.fileCache[stage] = f
	}

	f.WriteString(line)
}

// Enabled reports whether the handler handles records at the given level.
func (h *StageLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.Handler.Enabled(ctx, level)
}

// WithAttrs returns a new handler with the given attributes.
// The new handler shares the same state (mutex and file cache) as the parent.
func (h *StageLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &StageLogHandler{
		Handler:     h.Handler.WithAttrs(attrs),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

// WithGroup returns a new handler with the given group name.
// The new handler shares the same state (mutex and file cache) as the parent.
func (h *StageLogHandler) WithGroup(name string) slog.Handler {
	return &StageLogHandler{
		Handler:     h.Handler.WithGroup(name),
		logPathFunc: h.logPathFunc,
		state:       h.state,
	}
}

// CloseStageLog closes and removes a cached file handle for a stage.
func (h *StageLogHandler) CloseStageLog(stage string) {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	if f, ok := h.state.fileCache[stage]; ok {
		f.Close()
		delete(h.state.fileCache, stage)
	}
}

// CloseAll closes all cached file handles. Call during daemon shutdown.
func (h *StageLogHandler) CloseAll() {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()

	for stage, f := range h.state.fileCache {
		f.Close()
		delete(h.state.fileCache, stage)
	}
}
