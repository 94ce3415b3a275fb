package observability

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/basecamp/authgate/internal/gateway"
)

func TestTraceWriter_WriteRequestStart(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestStart(gateway.RequestInfo{Method: "GET", URL: "https://api.example.com/items", Attempt: 1})

	output := buf.String()
	if !strings.Contains(output, "-> GET https://api.example.com/items") {
		t.Errorf("expected request line, got: %s", output)
	}
	if !strings.HasPrefix(output, "[") {
		t.Errorf("expected timestamp prefix, got: %s", output)
	}
	if strings.Contains(output, "replay") {
		t.Errorf("first attempt is not a replay, got: %s", output)
	}
}

func TestTraceWriter_WriteRequestStart_Replay(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestStart(gateway.RequestInfo{Method: "POST", URL: "/items", Attempt: 2})

	if !strings.Contains(buf.String(), "(replay)") {
		t.Errorf("expected replay marker, got: %s", buf.String())
	}
}

func TestTraceWriter_WriteRequestStart_ScrubsSecrets(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestStart(gateway.RequestInfo{Method: "GET", URL: "/items?access_token=abc123&page=2"})

	output := buf.String()
	if strings.Contains(output, "abc123") {
		t.Errorf("expected token to be redacted, got: %s", output)
	}
	if !strings.Contains(output, "page=2") {
		t.Errorf("expected other params to survive, got: %s", output)
	}
}

func TestTraceWriter_WriteRequestEnd(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRequestEnd(gateway.RequestInfo{}, gateway.RequestResult{StatusCode: 200, Duration: 45 * time.Millisecond})
	w.WriteRequestEnd(gateway.RequestInfo{}, gateway.RequestResult{StatusCode: 401, Duration: 5 * time.Millisecond, Outcome: gateway.AuthExpired})
	w.WriteRequestEnd(gateway.RequestInfo{}, gateway.RequestResult{Error: errors.New("connection reset"), Outcome: gateway.Other})

	output := buf.String()
	for _, want := range []string{"<- 200 (45ms)", "<- 401 auth_expired (5ms)", "<- ERROR: connection reset"} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestTraceWriter_Refresh(t *testing.T) {
	var buf bytes.Buffer
	w := NewTraceWriterTo(&buf)

	w.WriteRefreshStart()
	w.WriteRefreshEnd(gateway.RefreshResult{Waiters: 5, Duration: 120 * time.Millisecond})
	w.WriteRefreshEnd(gateway.RefreshResult{Waiters: 2, Error: errors.New("invalid_grant")})
	w.WriteSessionExpired()

	output := buf.String()
	for _, want := range []string{
		"Refreshing credential",
		"Refreshed credential for 5 waiting calls (120ms)",
		"Refresh failed for 2 waiting calls: invalid_grant",
		"Session expired",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q, got: %s", want, output)
		}
	}
}

func TestScrubURL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"no query", "/items", "/items"},
		{"safe params", "/items?page=2", "/items?page=2"},
		{"refresh token", "/token?refresh_token=r1", "/token?refresh_token=%5BREDACTED%5D"},
		{"case insensitive", "/x?Password=p", "/x?Password=%5BREDACTED%5D"},
		{"unparseable", "://bad url", "[unparseable URL]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := scrubURL(tt.in); got != tt.want {
				t.Errorf("scrubURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
