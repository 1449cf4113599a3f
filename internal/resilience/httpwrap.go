package resilience

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// ErrNotConfigured is returned when the wrapped client is missing.
var ErrNotConfigured = errors.New("resilience: http client not configured")

const defaultMaxRetryAfter = 5 * time.Second

// StatusError reports an upstream response that stayed retryable after the last attempt.
type StatusError struct {
	Code   int
	Status string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("resilience: upstream responded %s", e.Status)
}

// HTTPClient wraps an http.Client with per-attempt timeouts and bounded retries.
//
// A request is only replayed when that is safe: the method is idempotent or the
// caller set an Idempotency-Key header. Transport errors, 5xx and 429 responses
// are retried; a Retry-After header stretches the wait up to MaxRetryAfter.
type HTTPClient struct {
	Client        *http.Client
	Breaker       *Breaker
	BaseBackoff   time.Duration
	MaxAttempts   int
	Jitter        float64
	Timeout       time.Duration
	MaxRetryAfter time.Duration
}

// Do sends req, retrying per the client policy. The returned response body must
// be closed by the caller.
func (cl HTTPClient) Do(ctx context.Context, req *http.Request) (*http.Response, error) {
	if cl.Client == nil {
		return nil, ErrNotConfigured
	}
	body, err := bufferBody(req)
	if err != nil {
		return nil, err
	}
	attempts := max(cl.MaxAttempts, 1)
	if !replayable(req) {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if cl.Breaker != nil && !cl.Breaker.Allow(ctx) {
			return nil, ErrOpenCircuit
		}
		resp, err := cl.send(ctx, req, body)
		wait := Backoff(cl.BaseBackoff, attempt, cl.Jitter)
		switch {
		case err != nil:
			lastErr = err
		case retryableStatus(resp.StatusCode):
			lastErr = &StatusError{Code: resp.StatusCode, Status: resp.Status}
			if hint, ok := cl.retryAfter(resp); ok {
				wait = max(wait, hint)
			}
			discard(resp)
		default:
			cl.report(ctx, true)
			return resp, nil
		}
		cl.report(ctx, false)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt == attempts {
			break
		}
		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil, ctx.Err()
		case <-t.C:
		}
	}
	return nil, lastErr
}

func (cl HTTPClient) report(ctx context.Context, ok bool) {
	if cl.Breaker != nil {
		cl.Breaker.Report(ctx, ok)
	}
}

// send runs one attempt. The attempt timeout stays armed until the caller closes
// the response body.
func (cl HTTPClient) send(ctx context.Context, req *http.Request, body []byte) (*http.Response, error) {
	timeout := cl.Timeout
	if timeout <= 0 {
		timeout = cl.Client.Timeout
	}
	cancel := context.CancelFunc(func() {})
	if timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, timeout)
	}
	attempt := req.Clone(ctx)
	if body != nil {
		attempt.Body = io.NopCloser(bytes.NewReader(body))
	}
	resp, err := cl.Client.Do(attempt)
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

func (cl HTTPClient) retryAfter(resp *http.Response) (time.Duration, bool) {
	raw := strings.TrimSpace(resp.Header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	limit := cl.MaxRetryAfter
	if limit <= 0 {
		limit = defaultMaxRetryAfter
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs >= 0 {
		return min(time.Duration(secs)*time.Second, limit), true
	}
	if at, err := http.ParseTime(raw); err == nil {
		return min(max(time.Until(at), 0), limit), true
	}
	return 0, false
}

func replayable(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodPut, http.MethodDelete:
		return true
	}
	return req.Header.Get("Idempotency-Key") != ""
}

func retryableStatus(code int) bool {
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	defer c.cancel()
	return c.ReadCloser.Close()
}

func discard(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}

// bufferBody reads the request body once so every attempt can replay it.
func bufferBody(req *http.Request) ([]byte, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return nil, nil
	}
	src := req.Body
	defer func() { _ = src.Close() }()
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("buffer request body: %w", err)
	}
	req.Body = io.NopCloser(bytes.NewReader(data))
	req.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return data, nil
}
