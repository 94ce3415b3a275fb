// Package observability provides metrics collection and tracing for gateway
// activity.
package observability

import (
	"sync"
	"time"

	"github.com/basecamp/authgate/internal/gateway"
)

// RequestMetrics holds timing and status information for a single attempt.
type RequestMetrics struct {
	Method     string
	URL        string
	Attempt    int
	StatusCode int
	Duration   time.Duration
	Outcome    gateway.Outcome
	Error      error
}

// RefreshMetrics records one refresh exchange.
type RefreshMetrics struct {
	Waiters  int
	Duration time.Duration
	Error    error
}

// SessionMetrics aggregates metrics for an entire session.
type SessionMetrics struct {
	StartTime       time.Time
	EndTime         time.Time
	TotalRequests   int
	Replays         int
	AuthFailures    int
	Forbidden       int
	Refreshes       int
	FailedRefreshes int
	RefreshWaiters  int
	Expirations     int
	TotalLatency    time.Duration
}

// Map renders the metrics for the output envelope.
func (m SessionMetrics) Map() map[string]any {
	return map[string]any{
		"requests":         m.TotalRequests,
		"replays":          m.Replays,
		"auth_failures":    m.AuthFailures,
		"forbidden":        m.Forbidden,
		"refreshes":        m.Refreshes,
		"failed_refreshes": m.FailedRefreshes,
		"refresh_waiters":  m.RefreshWaiters,
		"expirations":      m.Expirations,
		"latency_ms":       m.TotalLatency.Milliseconds(),
		"elapsed_ms":       m.EndTime.Sub(m.StartTime).Milliseconds(),
	}
}

// SessionCollector accumulates metrics across a session.
// It is safe for concurrent use and uses counters instead of unbounded slices.
type SessionCollector struct {
	mu sync.Mutex

	startTime       time.Time
	totalRequests   int
	replays         int
	authFailures    int
	forbidden       int
	refreshes       int
	failedRefreshes int
	refreshWaiters  int
	expirations     int
	totalLatency    time.Duration
}

// NewSessionCollector creates a new SessionCollector.
func NewSessionCollector() *SessionCollector {
	return &SessionCollector{
		startTime: time.Now(),
	}
}

// RecordRequest records metrics for one attempt.
func (c *SessionCollector) RecordRequest(m RequestMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalRequests++
	c.totalLatency += m.Duration
	if m.Attempt > 1 {
		c.replays++
	}
	switch m.Outcome {
	case gateway.AuthExpired:
		c.authFailures++
	case gateway.PermissionDenied:
		c.forbidden++
	}
}

// RecordRequestFromGateway records metrics from gateway types.
func (c *SessionCollector) RecordRequestFromGateway(info gateway.RequestInfo, result gateway.RequestResult) {
	c.RecordRequest(RequestMetrics{
		Method:     info.Method,
		URL:        info.URL,
		Attempt:    info.Attempt,
		StatusCode: result.StatusCode,
		Duration:   result.Duration,
		Outcome:    result.Outcome,
		Error:      result.Error,
	})
}

// RecordRefresh records a finished refresh.
func (c *SessionCollector) RecordRefresh(m RefreshMetrics) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.refreshes++
	c.refreshWaiters += m.Waiters
	if m.Error != nil {
		c.failedRefreshes++
	}
}

// RecordExpiry records a session-expired event.
func (c *SessionCollector) RecordExpiry() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.expirations++
}

// Summary returns aggregated metrics for the session.
func (c *SessionCollector) Summary() SessionMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	return SessionMetrics{
		StartTime:       c.startTime,
		EndTime:         time.Now(),
		TotalRequests:   c.totalRequests,
		Replays:         c.replays,
		AuthFailures:    c.authFailures,
		Forbidden:       c.forbidden,
		Refreshes:       c.refreshes,
		FailedRefreshes: c.failedRefreshes,
		RefreshWaiters:  c.refreshWaiters,
		Expirations:     c.expirations,
		TotalLatency:    c.totalLatency,
	}
}

// Reset clears all collected metrics and resets the start time.
func (c *SessionCollector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalRequests = 0
	c.replays = 0
	c.authFailures = 0
	c.forbidden = 0
	c.refreshes = 0
	c.failedRefreshes = 0
	c.refreshWaiters = 0
	c.expirations = 0
	c.totalLatency = 0
}
