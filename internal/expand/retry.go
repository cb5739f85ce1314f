package expand

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/liushuangls/go-anthropic/v2"
	"github.com/sashabaranov/go-openai"

	"github.com/kayz/sdxlprompt/internal/logger"
)

// RetryPolicy controls retries of transient failures. MaxRetries counts
// attempts after the first one; zero means a single attempt.
type RetryPolicy struct {
	MaxRetries int
	Backoff    time.Duration
}

// StatusError is a non-2xx answer from an HTTP backend.
type StatusError struct {
	Backend string
	Code    int
	Body    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s error: %d %s", e.Backend, e.Code, e.Body)
}

func (p RetryPolicy) do(ctx context.Context, name string, fn func() (string, error)) (string, error) {
	attempts := p.MaxRetries + 1
	if attempts < 1 {
		attempts = 1
	}
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		out, err := fn()
		if err == nil {
			return out, nil
		}
		lastErr = err
		if attempt == attempts-1 || !isRetryable(err) || ctx.Err() != nil {
			break
		}
		d := backoff(p.Backoff, attempt)
		logger.Debug("%s attempt %d failed, retrying in %s: %v", name, attempt+1, d, err)
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(d):
		}
	}
	return "", lastErr
}

// backoff doubles base per attempt, capped at 5s.
func backoff(base time.Duration, attempt int) time.Duration {
	if base <= 0 {
		base = 200 * time.Millisecond
	}
	d := base << attempt
	if d > 5*time.Second {
		d = 5 * time.Second
	}
	return d
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code == http.StatusTooManyRequests || se.Code >= 500
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	var antReqErr *anthropic.RequestError
	if errors.As(err, &antReqErr) {
		return antReqErr.StatusCode == http.StatusTooManyRequests || antReqErr.StatusCode >= 500
	}
	// JSON error bodies lose their status code; the type carries it.
	var antAPIErr *anthropic.APIError
	if errors.As(err, &antAPIErr) {
		return antAPIErr.IsRateLimitErr() || antAPIErr.IsOverloadedErr() || antAPIErr.IsApiErr()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "connection reset")
}
