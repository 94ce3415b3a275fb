package gateway

import (
	"context"
	"time"
)

// RequestInfo describes one attempt of an outbound call.
type RequestInfo struct {
	Method  string
	URL     string
	Attempt int // 1 for the original send, 2 for the replay after refresh
}

// RequestResult describes how an attempt ended.
type RequestResult struct {
	StatusCode int
	Duration   time.Duration
	Outcome    Outcome
	Error      error
}

// RefreshResult describes a finished refresh.
type RefreshResult struct {
	Waiters  int // calls resumed or rejected by this refresh
	Duration time.Duration
	Error    error
}

// Hooks observes gateway activity. Implementations must be safe for
// concurrent use and must not block.
type Hooks interface {
	OnRequestStart(ctx context.Context, info RequestInfo) context.Context
	OnRequestEnd(ctx context.Context, info RequestInfo, result RequestResult)
	OnRefreshStart(ctx context.Context)
	OnRefreshEnd(ctx context.Context, result RefreshResult)
	OnSessionExpired(ctx context.Context)
}

// NoopHooks ignores every event.
type NoopHooks struct{}

func (NoopHooks) OnRequestStart(ctx context.Context, _ RequestInfo) context.Context { return ctx }
func (NoopHooks) OnRequestEnd(context.Context, RequestInfo, RequestResult)          {}
func (NoopHooks) OnRefreshStart(context.Context)                                    {}
func (NoopHooks) OnRefreshEnd(context.Context, RefreshResult)                       {}
func (NoopHooks) OnSessionExpired(context.Context)                                  {}
