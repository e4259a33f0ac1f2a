package service

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

type statusErr struct {
	code  int
	after time.Duration
}

func (e statusErr) Error() string { return fmt.Sprintf("http %d", e.code) }
func (e statusErr) StatusCode() int { return e.code }
func (e statusErr) RetryAfter() time.Duration { return e.after }

func TestIsRateLimitError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"domain", core.ErrRateLimit("m", 0), true},
		{"status 429", statusErr{code: 429}, true},
		{"status 500", statusErr{code: 500}, false},
		{"anthropic overloaded", errors.New(`529 {"type":"overloaded_error"}`), true},
		{"gemini exhausted", errors.New("Error 429, RESOURCE_EXHAUSTED"), true},
		{"openai quota", errors.New("You exceeded your current quota"), true},
		{"too many", errors.New("Too Many Requests"), true},
		{"plain", errors.New("connection reset by peer"), false},
		{"wrapped", fmt.Errorf("call: %w", statusErr{code: 429}), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsRateLimitError(tt.err); got != tt.want {
				t.Errorf("IsRateLimitError() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseRetryAfter(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want time.Duration
	}{
		{"header", statusErr{code: 429, after: 7 * time.Second}, 7 * time.Second},
		{"seconds text", errors.New("rate limited, retry after 12s"), 12 * time.Second},
		{"ms text", errors.New("Retry-After: 250ms"), 250 * time.Millisecond},
		{"bare number", errors.New("retry_after=3"), 3 * time.Second},
		{"none", errors.New("rate limited"), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ParseRetryAfter(tt.err); got != tt.want {
				t.Errorf("ParseRetryAfter() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestClassifyCallError(t *testing.T) {
	err := ClassifyCallError("gpt-5", statusErr{code: 429, after: time.Second})
	if !core.IsRateLimit(err) || core.RetryAfter(err) != time.Second {
		t.Fatalf("expected rate-limit with retry-after, got %v", err)
	}

	err = ClassifyCallError("gpt-5", statusErr{code: 503})
	if !core.IsCategory(err, core.ErrCatTransient) || !core.IsRetryable(err) {
		t.Fatalf("expected transient error, got %v", err)
	}

	plain := errors.New("bad request")
	if got := ClassifyCallError("gpt-5", plain); got != plain {
		t.Fatalf("unclassified error must pass through, got %v", got)
	}
}
