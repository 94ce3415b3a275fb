package gateway

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/basecamp/authgate/internal/logging"
)

// maxDrain bounds how much of a rejected response body is read before the
// connection is reused.
const maxDrain = 64 << 10

// DefaultMaxReplayBody is the largest request body buffered so the call can
// be replayed after a refresh.
const DefaultMaxReplayBody = 8 << 20

// Transport is the mandatory interception point for outbound calls. It
// annotates each call, classifies the response, and on an authentication
// failure demands a refresh and replays the call exactly once.
type Transport struct {
	base        http.RoundTripper
	annotator   *Annotator
	classifier  *Classifier
	coordinator *Coordinator
	hooks       Hooks
	log         *log.Entry

	maxReplayBody int64
}

// NewTransport creates a transport. A nil base uses http.DefaultTransport.
func NewTransport(base http.RoundTripper, annotator *Annotator, classifier *Classifier, coordinator *Coordinator, hooks Hooks) *Transport {
	if base == nil {
		base = http.DefaultTransport
	}
	if hooks == nil {
		hooks = NoopHooks{}
	}
	return &Transport{
		base:        base,
		annotator:   annotator,
		classifier:  classifier,
		coordinator: coordinator,
		hooks:       hooks,
		log:         logging.For("gateway"),

		maxReplayBody: DefaultMaxReplayBody,
	}
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if KindOf(req) == ExchangeCall {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	replayable, err := bufferBody(req, t.maxReplayBody)
	if err != nil {
		return nil, err
	}

	retried := Retried(req.Context())
	resp, sentWith, err := t.send(req, 1, retried)
	if retried || t.classifier.Classify(resp, err, false) != AuthExpired {
		return resp, err
	}

	entry := t.log.WithField("method", req.Method).WithField("path", req.URL.Path)
	if !replayable {
		// The body has been consumed; refresh for the next call and hand the
		// rejection back.
		entry.WithField("limit", t.maxReplayBody).Warn("request body too large to replay, returning the rejection")
		if _, err := t.coordinator.DemandRefresh(req.Context(), sentWith); err != nil {
			discard(resp)
			return nil, err
		}
		return resp, nil
	}

	discard(resp)
	entry.Debug("credential rejected, demanding refresh")

	if _, err := t.coordinator.DemandRefresh(req.Context(), sentWith); err != nil {
		return nil, err
	}

	replay := req.WithContext(withRetried(req.Context()))
	resp, _, err = t.send(replay, 2, true)
	return resp, err
}

// send annotates a copy of req and performs one attempt. Replays read a
// fresh body from GetBody.
func (t *Transport) send(req *http.Request, attempt int, retried bool) (*http.Response, string, error) {
	out := req.Clone(req.Context())
	if attempt > 1 && req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, "", err
		}
		out.Body = body
	}
	token := t.annotator.Annotate(out)

	info := RequestInfo{Method: req.Method, URL: req.URL.String(), Attempt: attempt}
	ctx := t.hooks.OnRequestStart(out.Context(), info)
	out = out.WithContext(ctx)

	start := time.Now()
	resp, err := t.base.RoundTrip(out)

	result := RequestResult{Duration: time.Since(start), Error: err, Outcome: t.classifier.Classify(resp, err, retried)}
	if resp != nil {
		result.StatusCode = resp.StatusCode
	}
	t.hooks.OnRequestEnd(ctx, info, result)

	return resp, token, err
}

// bufferBody makes req's body replayable and reports whether it is. Requests
// built by http.NewRequest with a bytes, strings or bytes.Buffer reader
// already are. A body larger than limit is streamed through unbuffered and
// cannot be replayed. req must be a clone owned by the transport.
func bufferBody(req *http.Request, limit int64) (bool, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return true, nil
	}
	orig := req.Body
	data, err := io.ReadAll(io.LimitReader(orig, limit+1))
	if err != nil {
		_ = orig.Close()
		return false, err
	}
	if int64(len(data)) > limit {
		req.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(data), orig), orig}
		return false, nil
	}
	if err := orig.Close(); err != nil {
		return false, err
	}
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	req.Body, _ = req.GetBody()
	return true, nil
}

func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrain))
	_ = resp.Body.Close()
}

// IsSessionExpired reports whether err ended a call because the session
// could not be refreshed.
func IsSessionExpired(err error) bool {
	return errors.Is(err, ErrSessionExpired)
}
