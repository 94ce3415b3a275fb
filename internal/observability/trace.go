package observability

import (
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/basecamp/authgate/internal/gateway"
)

// sensitiveParams are query parameter names that should be scrubbed from trace output.
var sensitiveParams = map[string]bool{
	"access_token":  true,
	"refresh_token": true,
	"token":         true,
	"api_key":       true,
	"apikey":        true,
	"password":      true,
	"passwd":        true,
	"secret":        true,
	"client_secret": true,
	"private_key":   true,
	"csrf_token":    true,
}

// TraceWriter outputs human-readable trace information to stderr.
// It formats output with timestamps relative to session start.
type TraceWriter struct {
	mu        sync.Mutex
	writer    io.Writer
	startTime time.Time
}

// NewTraceWriter creates a new TraceWriter that writes to stderr.
func NewTraceWriter() *TraceWriter {
	return NewTraceWriterTo(os.Stderr)
}

// NewTraceWriterTo creates a new TraceWriter that writes to the given writer.
func NewTraceWriterTo(w io.Writer) *TraceWriter {
	return &TraceWriter{
		writer:    w,
		startTime: time.Now(),
	}
}

func (t *TraceWriter) printf(format string, args ...any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	elapsed := time.Since(t.startTime).Seconds()
	fmt.Fprintf(t.writer, "[%.3fs] "+format+"\n", append([]any{elapsed}, args...)...)
}

// WriteRequestStart writes a request start trace line.
// Format: [0.234s]   -> GET /items  or  [0.234s]   -> GET /items (replay)
// Sensitive query parameters are redacted.
func (t *TraceWriter) WriteRequestStart(info gateway.RequestInfo) {
	suffix := ""
	if info.Attempt > 1 {
		suffix = " (replay)"
	}
	t.printf("  -> %s %s%s", info.Method, scrubURL(info.URL), suffix)
}

// WriteRequestEnd writes a request completion trace line.
// Format: [0.234s]   <- 401 auth_expired (45ms)
func (t *TraceWriter) WriteRequestEnd(_ gateway.RequestInfo, result gateway.RequestResult) {
	if result.Error != nil {
		t.printf("  <- ERROR: %v", result.Error)
		return
	}
	if result.Outcome == gateway.Success {
		t.printf("  <- %d (%dms)", result.StatusCode, result.Duration.Milliseconds())
		return
	}
	t.printf("  <- %d %s (%dms)", result.StatusCode, result.Outcome, result.Duration.Milliseconds())
}

// WriteRefreshStart writes a refresh start trace line.
func (t *TraceWriter) WriteRefreshStart() {
	t.printf("Refreshing credential")
}

// WriteRefreshEnd writes a refresh completion trace line.
// Format: [0.234s] Refreshed credential for 5 waiting calls (120ms)
func (t *TraceWriter) WriteRefreshEnd(result gateway.RefreshResult) {
	if result.Error != nil {
		t.printf("Refresh failed for %d waiting calls: %v", result.Waiters, result.Error)
		return
	}
	t.printf("Refreshed credential for %d waiting calls (%dms)", result.Waiters, result.Duration.Milliseconds())
}

// WriteSessionExpired writes the session-expired trace line.
func (t *TraceWriter) WriteSessionExpired() {
	t.printf("Session expired")
}

// Reset resets the start time for relative timestamps.
func (t *TraceWriter) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTime = time.Now()
}

// scrubURL redacts sensitive query parameters from a URL for safe logging.
// Returns a safe placeholder if the URL cannot be parsed.
func scrubURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		// Don't leak potentially sensitive malformed URLs
		return "[unparseable URL]"
	}

	query := u.Query()
	modified := false
	for key := range query {
		if sensitiveParams[strings.ToLower(key)] {
			query.Set(key, "[REDACTED]")
			modified = true
		}
	}

	if !modified {
		return rawURL
	}

	u.RawQuery = query.Encode()
	return u.String()
}
