package observability

import (
	"context"
	"sync"

	"github.com/basecamp/authgate/internal/gateway"
)

// Verify CLIHooks implements gateway.Hooks at compile time.
var _ gateway.Hooks = (*CLIHooks)(nil)

// CLIHooks implements gateway.Hooks for CLI observability.
// It supports configurable verbosity levels:
//   - 0: Silent (collect stats only, no output)
//   - 1: Session events (refreshes and expiry)
//   - 2: Session events + requests
type CLIHooks struct {
	mu        sync.Mutex
	level     int
	collector *SessionCollector
	writer    *TraceWriter
}

// NewCLIHooks creates a new CLIHooks with the given verbosity level.
// If collector is nil, metrics are not collected.
// If writer is nil, no trace output is produced.
func NewCLIHooks(level int, collector *SessionCollector, writer *TraceWriter) *CLIHooks {
	return &CLIHooks{
		level:     level,
		collector: collector,
		writer:    writer,
	}
}

// SetLevel changes the verbosity level at runtime.
func (h *CLIHooks) SetLevel(level int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.level = level
}

// Level returns the current verbosity level.
func (h *CLIHooks) Level() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level
}

func (h *CLIHooks) snapshot() (int, *SessionCollector, *TraceWriter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.level, h.collector, h.writer
}

// OnRequestStart is called before each attempt is sent.
func (h *CLIHooks) OnRequestStart(ctx context.Context, info gateway.RequestInfo) context.Context {
	level, _, writer := h.snapshot()
	if level >= 2 && writer != nil {
		writer.WriteRequestStart(info)
	}
	return ctx
}

// OnRequestEnd is called after each attempt completes.
func (h *CLIHooks) OnRequestEnd(_ context.Context, info gateway.RequestInfo, result gateway.RequestResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRequestFromGateway(info, result)
	}
	if level >= 2 && writer != nil {
		writer.WriteRequestEnd(info, result)
	}
}

// OnRefreshStart is called when a refresh exchange begins.
func (h *CLIHooks) OnRefreshStart(context.Context) {
	level, _, writer := h.snapshot()
	if level >= 1 && writer != nil {
		writer.WriteRefreshStart()
	}
}

// OnRefreshEnd is called when a refresh exchange resolves.
func (h *CLIHooks) OnRefreshEnd(_ context.Context, result gateway.RefreshResult) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordRefresh(RefreshMetrics{Waiters: result.Waiters, Duration: result.Duration, Error: result.Error})
	}
	if level >= 1 && writer != nil {
		writer.WriteRefreshEnd(result)
	}
}

// OnSessionExpired is called once per expiry episode.
func (h *CLIHooks) OnSessionExpired(context.Context) {
	level, collector, writer := h.snapshot()
	if collector != nil {
		collector.RecordExpiry()
	}
	if level >= 1 && writer != nil {
		writer.WriteSessionExpired()
	}
}
