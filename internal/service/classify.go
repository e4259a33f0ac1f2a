package service

import (
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// Provider throttling phrases. Matched case-insensitively against error text.
var rateLimitPattern = regexp.MustCompile(`(?i)(rate[ _-]?limit|too many requests|quota|resource[ _-]?exhausted|overloaded|\b429\b)`)

var retryAfterPattern = regexp.MustCompile(`(?i)retry[ _-]?after[:=\s]+(\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds?)?`)

// retryAfterer is implemented by backend errors that carry a provider
// supplied cooldown.
type retryAfterer interface {
	RetryAfter() time.Duration
}

// IsRateLimitError reports whether err is a capacity failure: an already
// classified domain error, an HTTP 429, or throttling text.
func IsRateLimitError(err error) bool {
	if err == nil {
		return false
	}
	if core.IsRateLimit(err) {
		return true
	}
	var sc core.StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() == http.StatusTooManyRequests {
		return true
	}
	return rateLimitPattern.MatchString(err.Error())
}

// ParseRetryAfter extracts a cooldown from err, or zero when none is given.
func ParseRetryAfter(err error) time.Duration {
	if err == nil {
		return 0
	}
	if d := core.RetryAfter(err); d > 0 {
		return d
	}
	var ra retryAfterer
	if errors.As(err, &ra) && ra.RetryAfter() > 0 {
		return ra.RetryAfter()
	}
	m := retryAfterPattern.FindStringSubmatch(err.Error())
	if m == nil {
		return 0
	}
	n, perr := strconv.ParseFloat(m[1], 64)
	if perr != nil || n <= 0 {
		return 0
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(n * float64(time.Millisecond))
	}
	return time.Duration(n * float64(time.Second))
}

// ClassifyCallError normalizes a backend failure for model. Rate limits
// become core rate-limit errors carrying the retry-after; server errors
// become transient; anything else is returned unchanged.
func ClassifyCallError(model string, err error) error {
	if err == nil {
		return nil
	}
	if IsRateLimitError(err) {
		if core.IsRateLimit(err) {
			return err
		}
		return core.ErrRateLimit(model, ParseRetryAfter(err)).WithCause(err)
	}
	var sc core.StatusCoder
	if errors.As(err, &sc) && sc.StatusCode() >= 500 {
		return core.ErrTransient(core.CodeBackendFailed, "backend server error").WithCause(err)
	}
	return err
}
