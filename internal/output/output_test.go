package output

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
)

// =============================================================================
// Exit Codes Tests
// =============================================================================

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		code     string
		expected int
	}{
		{CodeUsage, ExitUsage},
		{CodeNotFound, ExitNotFound},
		{CodeAuth, ExitAuth},
		{CodeSessionExpired, ExitAuth},
		{CodeForbidden, ExitForbidden},
		{CodeRateLimit, ExitRateLimit},
		{CodeNetwork, ExitNetwork},
		{CodeAPI, ExitAPI},
		{"unknown_code", ExitAPI}, // Unknown codes default to ExitAPI
		{"", ExitAPI},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			result := ExitCodeFor(tt.code)
			if result != tt.expected {
				t.Errorf("ExitCodeFor(%q) = %d, want %d", tt.code, result, tt.expected)
			}
		})
	}
}

// =============================================================================
// Error Tests
// =============================================================================

func TestErrorInterface(t *testing.T) {
	errWithHint := &Error{
		Code:    CodeNotFound,
		Message: "resource not found",
		Hint:    "check the ID",
	}
	expected := "resource not found: check the ID"
	if errWithHint.Error() != expected {
		t.Errorf("Error() = %q, want %q", errWithHint.Error(), expected)
	}

	errNoHint := &Error{
		Code:    CodeNotFound,
		Message: "resource not found",
	}
	if errNoHint.Error() != "resource not found" {
		t.Errorf("Error() = %q, want %q", errNoHint.Error(), "resource not found")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &Error{
		Code:    CodeAPI,
		Message: "api error",
		Cause:   cause,
	}

	if err.Unwrap() != cause {
		t.Errorf("Unwrap() = %v, want %v", err.Unwrap(), cause)
	}
	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause")
	}
}

func TestErrSessionExpired(t *testing.T) {
	cause := errors.New("invalid_grant")
	err := ErrSessionExpired(cause)

	if err.Code != CodeSessionExpired {
		t.Errorf("Code = %q, want %q", err.Code, CodeSessionExpired)
	}
	if err.ExitCode() != ExitAuth {
		t.Errorf("ExitCode() = %d, want %d", err.ExitCode(), ExitAuth)
	}
	if !errors.Is(err, cause) {
		t.Error("session expired error should wrap its cause")
	}
}

func TestErrForbidden(t *testing.T) {
	err := ErrForbidden("Access denied")
	if err.Code != CodeForbidden {
		t.Errorf("Code = %q, want %q", err.Code, CodeForbidden)
	}
	if err.HTTPStatus != 403 {
		t.Errorf("HTTPStatus = %d, want 403", err.HTTPStatus)
	}
	if err.Retryable {
		t.Error("forbidden errors must not be retryable")
	}
}

func TestErrRateLimit(t *testing.T) {
	err := ErrRateLimit(30)
	if !err.Retryable {
		t.Error("rate limit errors should be retryable")
	}
	if !strings.Contains(err.Hint, "30 seconds") {
		t.Errorf("Hint = %q, want it to mention 30 seconds", err.Hint)
	}

	if ErrRateLimit(0).Hint != "Try again later" {
		t.Errorf("Hint = %q, want %q", ErrRateLimit(0).Hint, "Try again later")
	}
}

func TestErrNetwork(t *testing.T) {
	cause := errors.New("connection refused")
	err := ErrNetwork(cause)

	if err.Code != CodeNetwork {
		t.Errorf("Code = %q, want %q", err.Code, CodeNetwork)
	}
	if !err.Retryable {
		t.Error("network errors should be retryable")
	}
	if err.Hint != "connection refused" {
		t.Errorf("Hint = %q, want %q", err.Hint, "connection refused")
	}
}

func TestAsErrorWithStandardError(t *testing.T) {
	err := AsError(errors.New("plain"))
	if err.Code != CodeAPI {
		t.Errorf("Code = %q, want %q", err.Code, CodeAPI)
	}
	if err.Message != "plain" {
		t.Errorf("Message = %q, want %q", err.Message, "plain")
	}
}

func TestAsErrorWithWrappedOutputError(t *testing.T) {
	original := ErrAuth("nope")
	wrapped := fmt.Errorf("context: %w", original)

	if AsError(wrapped) != original {
		t.Error("AsError should unwrap to the original *Error")
	}
	if !IsCode(wrapped, CodeAuth) {
		t.Error("IsCode should match wrapped code")
	}
	if IsCode(wrapped, CodeForbidden) {
		t.Error("IsCode should not match a different code")
	}
	if IsCode(errors.New("plain"), CodeAPI) {
		t.Error("IsCode should be false for non-output errors")
	}
}

// =============================================================================
// Writer Tests
// =============================================================================

func TestWriterOK(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	data := map[string]string{"state": "authenticated"}
	if err := w.OK(data, WithSummary("test summary"), WithMeta("requests", 3)); err != nil {
		t.Fatalf("OK() failed: %v", err)
	}

	var resp Response
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal output: %v", err)
	}

	if !resp.OK {
		t.Error("OK field should be true")
	}
	if resp.Summary != "test summary" {
		t.Errorf("Summary = %q, want %q", resp.Summary, "test summary")
	}
	if resp.Meta["requests"] != float64(3) {
		t.Errorf("Meta[requests] = %v, want 3", resp.Meta["requests"])
	}
}

func TestWriterErr(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatJSON, Writer: &buf})

	if err := w.Err(ErrSessionExpired(nil)); err != nil {
		t.Fatalf("Err() failed: %v", err)
	}

	var resp ErrorResponse
	if err := json.Unmarshal(buf.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to unmarshal output: %v", err)
	}

	if resp.OK {
		t.Error("OK field should be false")
	}
	if resp.Code != CodeSessionExpired {
		t.Errorf("Code = %q, want %q", resp.Code, CodeSessionExpired)
	}
}

func TestWriterQuietFormat(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatQuiet, Writer: &buf})

	if err := w.OK(map[string]string{"token": "abc"}, WithSummary("ignored")); err != nil {
		t.Fatalf("OK() failed: %v", err)
	}

	var data map[string]string
	if err := json.Unmarshal(buf.Bytes(), &data); err != nil {
		t.Fatalf("Failed to unmarshal output: %v", err)
	}
	if data["token"] != "abc" {
		t.Errorf("token = %q, want %q", data["token"], "abc")
	}
	if strings.Contains(buf.String(), "ignored") {
		t.Error("quiet output should not include the summary")
	}
}

func TestWriterAutoFormatNonTTY(t *testing.T) {
	var buf bytes.Buffer
	w := New(Options{Format: FormatAuto, Writer: &buf})

	if err := w.OK(map[string]any{"a": 1}); err != nil {
		t.Fatalf("OK() failed: %v", err)
	}
	if !json.Valid(buf.Bytes()) {
		t.Errorf("auto format on a non-TTY should produce JSON, got %q", buf.String())
	}
}

func TestWriterStyledFormat(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	err := w.OK(map[string]any{"session_state": "authenticated", "expired": false},
		WithSummary("Authenticated"))
	if err != nil {
		t.Fatalf("OK() failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"Authenticated", "Session State", "authenticated", "Expired", "no"} {
		if !strings.Contains(out, want) {
			t.Errorf("styled output missing %q:\n%s", want, out)
		}
	}
}

func TestWriterStyledError(t *testing.T) {
	t.Setenv("NO_COLOR", "1")

	var buf bytes.Buffer
	w := New(Options{Format: FormatStyled, Writer: &buf})

	if err := w.Err(ErrAuth("Not authenticated")); err != nil {
		t.Fatalf("Err() failed: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Error: Not authenticated") {
		t.Errorf("missing error line:\n%s", out)
	}
	if !strings.Contains(out, "Hint: Run: authgate auth login") {
		t.Errorf("missing hint line:\n%s", out)
	}
}

func TestNewWithNilWriter(t *testing.T) {
	w := New(Options{Format: FormatJSON})
	if w.opts.Writer == nil {
		t.Error("New should default to stdout when Writer is nil")
	}
}

// =============================================================================
// Normalization Tests
// =============================================================================

func TestNormalizeDataWithJSONRawMessage(t *testing.T) {
	raw := json.RawMessage(`{"id":1,"name":"A"}`)
	m, ok := normalizeData(raw).(map[string]any)
	if !ok {
		t.Fatalf("expected map, got %T", normalizeData(raw))
	}
	if m["name"] != "A" {
		t.Errorf("name = %v, want A", m["name"])
	}
}

func TestNormalizeDataWithStruct(t *testing.T) {
	type status struct {
		State string `json:"state"`
	}
	m, ok := normalizeData(status{State: "expired"}).(map[string]any)
	if !ok {
		t.Fatal("expected struct to normalize to a map")
	}
	if m["state"] != "expired" {
		t.Errorf("state = %v, want expired", m["state"])
	}
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, ""},
		{"x", "x"},
		{true, "yes"},
		{false, "no"},
		{float64(3), "3"},
		{1.5, "1.5"},
		{[]any{"a", "b"}, `["a","b"]`},
	}
	for _, tt := range tests {
		if got := formatCell(tt.in); got != tt.want {
			t.Errorf("formatCell(%v) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
