// Package httpretry wraps an HTTP client with retries for the flaky
// parts of talking to external APIs: transient network errors and the
// usual retryable status codes.
package httpretry

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ignite/keepup-email-engine/internal/pkg/logger"
)

// HTTPDoer is satisfied by *http.Client and *RetryClient, so callers
// can take either.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// RetryClient retries requests with jittered exponential backoff.
// Client errors (4xx other than 429) are never retried. The last
// attempt's response is returned as-is so the caller can read the
// body.
type RetryClient struct {
	client     HTTPDoer
	maxRetries int
	minDelay   time.Duration
	maxDelay   time.Duration
}

// NewRetryClient wraps client with up to maxRetries retries after the
// initial attempt. A nil client gets a 30s-timeout http.Client; a
// non-positive maxRetries becomes 3.
func NewRetryClient(client HTTPDoer, maxRetries int) *RetryClient {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &RetryClient{
		client:     client,
		maxRetries: maxRetries,
		minDelay:   time.Second,
		maxDelay:   30 * time.Second,
	}
}

func (rc *RetryClient) Do(req *http.Request) (*http.Response, error) {
	delay := &backoff.Backoff{
		Min:    rc.minDelay,
		Max:    rc.maxDelay,
		Factor: 2,
		Jitter: true,
	}
	var lastErr error

	for attempt := 0; attempt <= rc.maxRetries; attempt++ {
		if err := req.Context().Err(); err != nil {
			if lastErr != nil {
				return nil, lastErr
			}
			return nil, err
		}

		if attempt > 0 {
			// Requests with a body need a fresh copy per attempt.
			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, fmt.Errorf("httpretry: reset request body: %w", err)
				}
				req.Body = body
			}

			wait := delay.Duration()
			logger.Warn("retrying request",
				"attempt", attempt,
				"maxRetries", rc.maxRetries,
				"method", req.Method,
				"host", req.URL.Host,
				"wait", wait.String())

			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-req.Context().Done():
				timer.Stop()
				if lastErr != nil {
					return nil, lastErr
				}
				return nil, req.Context().Err()
			}
		}

		resp, err := rc.client.Do(req)
		if err != nil {
			if req.Context().Err() != nil {
				return nil, err
			}
			lastErr = err
			continue
		}

		if !retryableStatus(resp.StatusCode) {
			return resp, nil
		}
		if attempt == rc.maxRetries {
			return resp, nil
		}

		// Drain so the connection can be reused.
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		lastErr = fmt.Errorf("httpretry: retryable status %d", resp.StatusCode)
	}

	return nil, lastErr
}

func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}
