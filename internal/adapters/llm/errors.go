// Package llm implements core.Backend on top of the provider SDKs.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// APIError is a provider failure with its HTTP status and, for throttling,
// the cooldown the provider asked for.
type APIError struct {
	Provider   string
	Status     int
	Message    string
	retryAfter time.Duration
	Err        error
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Status == http.StatusTooManyRequests {
		return fmt.Sprintf("%s: rate limited (status 429): %s", e.Provider, msg)
	}
	return fmt.Sprintf("%s: api error (status %d): %s", e.Provider, e.Status, msg)
}

func (e *APIError) Unwrap() error { return e.Err }

// StatusCode returns the HTTP status.
func (e *APIError) StatusCode() int { return e.Status }

// RetryAfter returns the provider supplied cooldown, or zero.
func (e *APIError) RetryAfter() time.Duration { return e.retryAfter }

func newAPIError(provider string, status int, message string, header http.Header, cause error) *APIError {
	return &APIError{
		Provider:   provider,
		Status:     status,
		Message:    strings.TrimSpace(message),
		retryAfter: retryAfterHeader(header),
		Err:        cause,
	}
}

func responseHeader(resp *http.Response) http.Header {
	if resp == nil {
		return nil
	}
	return resp.Header
}

// passthrough reports whether err should reach the caller unwrapped.
func passthrough(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// retryAfterHeader reads retry-after-ms, then retry-after as seconds or an
// HTTP date.
func retryAfterHeader(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	if v := h.Get("Retry-After-Ms"); v != "" {
		if ms, err := strconv.ParseFloat(v, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond))
		}
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0
		}
		return time.Duration(secs * float64(time.Second))
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}
