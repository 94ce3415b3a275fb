package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/basecamp/authgate/internal/credstore"
	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/issuer"
)

func TestCLIHooks_SetLevel(t *testing.T) {
	h := NewCLIHooks(0, nil, nil)

	assert.Equal(t, 0, h.Level())

	h.SetLevel(2)
	assert.Equal(t, 2, h.Level())
}

func TestCLIHooks_Level0_Silent(t *testing.T) {
	var buf bytes.Buffer
	collector := NewSessionCollector()
	h := NewCLIHooks(0, collector, NewTraceWriterTo(&buf))

	ctx := context.Background()
	info := gateway.RequestInfo{Method: "GET", URL: "/items", Attempt: 1}
	ctx = h.OnRequestStart(ctx, info)
	h.OnRequestEnd(ctx, info, gateway.RequestResult{StatusCode: 200})
	h.OnRefreshStart(ctx)
	h.OnRefreshEnd(ctx, gateway.RefreshResult{Waiters: 1})
	h.OnSessionExpired(ctx)

	// Level 0 should produce no output
	assert.Equal(t, 0, buf.Len(), "expected no output at level 0")

	// But metrics should still be collected
	summary := collector.Summary()
	assert.Equal(t, 1, summary.TotalRequests)
	assert.Equal(t, 1, summary.Refreshes)
	assert.Equal(t, 1, summary.Expirations)
}

func TestCLIHooks_Level1_SessionEventsOnly(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(1, nil, NewTraceWriterTo(&buf))

	ctx := context.Background()
	info := gateway.RequestInfo{Method: "GET", URL: "/items", Attempt: 1}
	h.OnRequestStart(ctx, info)
	h.OnRequestEnd(ctx, info, gateway.RequestResult{StatusCode: 401, Outcome: gateway.AuthExpired})
	h.OnRefreshStart(ctx)
	h.OnRefreshEnd(ctx, gateway.RefreshResult{Error: errors.New("invalid_grant")})
	h.OnSessionExpired(ctx)

	output := buf.String()
	assert.NotContains(t, output, "-> GET")
	assert.Contains(t, output, "Refreshing credential")
	assert.Contains(t, output, "Refresh failed")
	assert.Contains(t, output, "Session expired")
}

func TestCLIHooks_Level2_Requests(t *testing.T) {
	var buf bytes.Buffer
	h := NewCLIHooks(2, nil, NewTraceWriterTo(&buf))

	ctx := context.Background()
	info := gateway.RequestInfo{Method: "PUT", URL: "/items/1", Attempt: 2}
	h.OnRequestStart(ctx, info)
	h.OnRequestEnd(ctx, info, gateway.RequestResult{StatusCode: 204, Duration: time.Millisecond})

	output := buf.String()
	assert.Contains(t, output, "-> PUT /items/1 (replay)")
	assert.Contains(t, output, "<- 204")
}

func TestCLIHooks_NilWriter(t *testing.T) {
	h := NewCLIHooks(2, nil, nil)
	ctx := context.Background()

	assert.NotPanics(t, func() {
		h.OnRequestStart(ctx, gateway.RequestInfo{})
		h.OnRequestEnd(ctx, gateway.RequestInfo{}, gateway.RequestResult{})
		h.OnRefreshStart(ctx)
		h.OnRefreshEnd(ctx, gateway.RefreshResult{})
		h.OnSessionExpired(ctx)
	})
}

func TestCLIHooks_WiredIntoGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer T2" {
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	var buf bytes.Buffer
	collector := NewSessionCollector()
	hooks := NewCLIHooks(2, collector, NewTraceWriterTo(&buf))

	store := credstore.NewStore(nil, "test")
	store.Set(credstore.Credential{AccessToken: "T1", RefreshToken: "R1"})
	g := gateway.New(gateway.Options{
		Store: store,
		Issuer: issuer.Func(func(context.Context, issuer.Grant) (*issuer.Token, error) {
			return &issuer.Token{AccessToken: "T2", RefreshToken: "R2"}, nil
		}),
		Hooks: hooks,
	})

	resp, err := g.HTTPClient(5 * time.Second).Get(srv.URL + "/items")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	summary := collector.Summary()
	assert.Equal(t, 2, summary.TotalRequests)
	assert.Equal(t, 1, summary.Replays)
	assert.Equal(t, 1, summary.AuthFailures)
	assert.Equal(t, 1, summary.Refreshes)
	assert.Equal(t, 1, summary.RefreshWaiters)
	assert.Zero(t, summary.Expirations)

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 6)
	assert.Contains(t, lines[1], "401 auth_expired")
	assert.Contains(t, lines[2], "Refreshing credential")
	assert.Contains(t, lines[4], "(replay)")
}
