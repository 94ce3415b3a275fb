// Package api provides a JSON client for the upstream API. Requests travel
// through the gateway HTTP client, which attaches credentials and handles
// refresh; this layer maps what is left to structured errors.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/basecamp/authgate/internal/gateway"
	"github.com/basecamp/authgate/internal/hostutil"
	"github.com/basecamp/authgate/internal/logging"
	"github.com/basecamp/authgate/internal/output"
	"github.com/basecamp/authgate/internal/version"
)

const (
	defaultMaxRetries = 3
	baseDelay         = 1 * time.Second
	maxDelay          = 30 * time.Second
	maxJitter         = 100 * time.Millisecond
	maxErrorBody      = 64 << 10
)

// Client is a JSON client for the upstream API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	maxRetries int
	baseDelay  time.Duration
	classifier *gateway.Classifier
	log        *log.Entry
}

// Response wraps an API response.
type Response struct {
	Data       json.RawMessage
	StatusCode int
	Headers    http.Header
}

// UnmarshalData unmarshals the response data into the given value.
func (r *Response) UnmarshalData(v any) error {
	return json.Unmarshal(r.Data, v)
}

// NewClient creates a client that sends requests with httpClient, normally
// the one returned by gateway.Gateway.HTTPClient.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		maxRetries: defaultMaxRetries,
		baseDelay:  baseDelay,
		classifier: gateway.NewClassifier(nil, nil),
		log:        logging.For("api"),
	}
}

// SetClassifier maps terminal responses with the gateway's status sets.
func (c *Client) SetClassifier(cl *gateway.Classifier) {
	if cl != nil {
		c.classifier = cl
	}
}

// SetRetries configures how many times a retryable failure is retried and
// the base backoff delay. Zero retries disables retrying.
func (c *Client) SetRetries(n int, delay time.Duration) {
	c.maxRetries = max(n, 0)
	if delay > 0 {
		c.baseDelay = delay
	}
}

// Get performs a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPost, path, body)
}

// Put performs a PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Do(ctx, http.MethodPut, path, body)
}

// Delete performs a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Do(ctx, http.MethodDelete, path, nil)
}

// Do performs a request with any method. body may be nil, raw JSON
// ([]byte or json.RawMessage), or a value to marshal.
func (c *Client) Do(ctx context.Context, method, path string, body any) (*Response, error) {
	payload, err := encodeBody(body)
	if err != nil {
		return nil, output.ErrUsage(err.Error())
	}
	url := hostutil.Join(c.baseURL, path)

	var lastErr error
	for attempt := 1; attempt <= c.maxRetries+1; attempt++ {
		resp, err := c.singleRequest(ctx, method, url, payload)
		if err == nil {
			return resp, nil
		}

		var apiErr *output.Error
		if !errors.As(err, &apiErr) || !apiErr.Retryable || attempt > c.maxRetries {
			return nil, err
		}
		lastErr = err

		delay := c.backoffDelay(attempt, apiErr)
		c.log.WithFields(log.Fields{"attempt": attempt, "delay": delay}).Debugf("retrying %s %s: %v", method, path, err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	return nil, fmt.Errorf("request failed after %d retries: %w", c.maxRetries, lastErr)
}

func (c *Client) singleRequest(ctx context.Context, method, url string, payload []byte) (*Response, error) {
	var bodyReader io.Reader
	if payload != nil {
		bodyReader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bodyReader)
	if err != nil {
		return nil, output.ErrUsage(fmt.Sprintf("invalid request: %v", err))
	}
	req.Header.Set("User-Agent", version.UserAgent())
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		switch {
		case gateway.IsSessionExpired(err):
			return nil, output.ErrSessionExpired(err)
		case ctx.Err() != nil:
			return nil, ctx.Err()
		default:
			return nil, output.ErrNetwork(err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, output.ErrNetwork(fmt.Errorf("failed to read response: %w", err))
		}
		return &Response{Data: data, StatusCode: resp.StatusCode, Headers: resp.Header}, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, c.errorForStatus(resp, body)
}

// errorForStatus maps a non-2xx response to a structured error. An
// authentication status here is terminal: the gateway has already refreshed
// and replayed once.
func (c *Client) errorForStatus(resp *http.Response, body []byte) *output.Error {
	msg := errorMessage(body)

	switch {
	case c.classifier.IsForbiddenStatus(resp.StatusCode):
		e := output.ErrForbidden(orDefault(msg, "Access denied"))
		e.HTTPStatus = resp.StatusCode
		return e
	case c.classifier.IsAuthStatus(resp.StatusCode):
		e := output.ErrAuth(orDefault(msg, "Authentication failed"))
		e.HTTPStatus = resp.StatusCode
		return e
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		return output.ErrNotFound("Resource", resp.Request.URL.Path)
	case http.StatusTooManyRequests:
		e := output.ErrRateLimit(parseRetryAfter(resp.Header.Get("Retry-After")))
		if msg != "" {
			e.Message = msg
		}
		return e
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return &output.Error{
			Code:       output.CodeAPI,
			Message:    orDefault(msg, fmt.Sprintf("Gateway error (%d)", resp.StatusCode)),
			HTTPStatus: resp.StatusCode,
			Retryable:  true,
		}
	case http.StatusInternalServerError:
		return output.ErrAPI(resp.StatusCode, orDefault(msg, "Server error (500)"))
	default:
		return output.ErrAPI(resp.StatusCode, orDefault(msg, fmt.Sprintf("Request failed (HTTP %d)", resp.StatusCode)))
	}
}

// errorMessage pulls a human-readable message out of a JSON error body.
func errorMessage(body []byte) string {
	if !gjson.ValidBytes(body) {
		return ""
	}
	for _, path := range []string{"error_description", "error.message", "error", "message", "errors.0.message", "errors.0"} {
		if r := gjson.GetBytes(body, path); r.Type == gjson.String && r.Str != "" {
			return r.Str
		}
	}
	return ""
}

func encodeBody(body any) ([]byte, error) {
	switch b := body.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return b, nil
	case []byte:
		if !json.Valid(b) {
			return nil, errors.New("request body is not valid JSON")
		}
		return b, nil
	default:
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		return data, nil
	}
}

func (c *Client) backoffDelay(attempt int, apiErr *output.Error) time.Duration {
	// Exponential backoff: base * 2^(attempt-1)
	delay := min(c.baseDelay*time.Duration(1<<(attempt-1)), maxDelay)

	if apiErr.Code == output.CodeRateLimit && apiErr.RetryAfter > 0 {
		delay = max(delay, time.Duration(apiErr.RetryAfter)*time.Second)
	}

	// Add jitter (0-100ms)
	return delay + time.Duration(rand.Int64N(int64(maxJitter))) //nolint:gosec // G404: Jitter doesn't need crypto rand
}

// parseRetryAfter parses the Retry-After header value in seconds.
func parseRetryAfter(header string) int {
	if header == "" {
		return 0
	}
	if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
		return seconds
	}
	if t, err := http.ParseTime(header); err == nil {
		if d := time.Until(t); d > 0 {
			return int(d.Round(time.Second) / time.Second)
		}
	}
	return 0
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
