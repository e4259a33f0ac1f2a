package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

// ShouldRetryFunc decides whether a failed attempt may be retried.
type ShouldRetryFunc func(err error) bool

// RetryPolicy defines retry behavior.
type RetryPolicy struct {
	MaxRetries   int
	BaseDelay    time.Duration
	MaxDelay     time.Duration
	JitterFactor float64 // 0.0 to 1.0, fraction of the exponential delay
	ShouldRetry  ShouldRetryFunc

	sleep func(ctx context.Context, d time.Duration) error
	rand  func() float64
}

// DefaultShouldRetry retries everything except rate-limit failures, which
// are handled by fallback one level up, and context cancellation.
func DefaultShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !core.IsRateLimit(err)
}

// DefaultRetryPolicy returns a default retry policy.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   2,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: 0.2,
		ShouldRetry:  DefaultShouldRetry,
		sleep:        sleepCtx,
		rand:         rand.Float64,
	}
}

// RetryPolicyOption configures a retry policy.
type RetryPolicyOption func(*RetryPolicy)

// WithMaxRetries sets the number of retries after the first attempt.
func WithMaxRetries(n int) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxRetries = n
	}
}

// WithBaseDelay sets the initial delay.
func WithBaseDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.BaseDelay = d
	}
}

// WithMaxDelay sets the maximum delay.
func WithMaxDelay(d time.Duration) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.MaxDelay = d
	}
}

// WithJitter sets the jitter factor.
func WithJitter(factor float64) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.JitterFactor = factor
	}
}

// WithShouldRetry replaces the retry predicate.
func WithShouldRetry(fn ShouldRetryFunc) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.ShouldRetry = fn
	}
}

// WithSleep replaces the backoff sleep. Used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryPolicyOption {
	return func(p *RetryPolicy) {
		p.sleep = fn
	}
}

// NewRetryPolicy creates a new retry policy.
func NewRetryPolicy(opts ...RetryPolicyOption) *RetryPolicy {
	p := DefaultRetryPolicy()
	for _, opt := range opts {
		opt(p)
	}
	if p.ShouldRetry == nil {
		p.ShouldRetry = DefaultShouldRetry
	}
	return p
}

// RetryableFunc is a function that can be retried.
type RetryableFunc func(ctx context.Context) error

// RetryNotifyFunc is called before each backoff sleep.
type RetryNotifyFunc func(attempt int, err error, delay time.Duration)

// Execute runs the function with retry logic.
func (p *RetryPolicy) Execute(ctx context.Context, fn RetryableFunc) error {
	_, err := Do(ctx, p, nil, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// ExecuteWithNotify runs with retry and notifications.
func (p *RetryPolicy) ExecuteWithNotify(ctx context.Context, fn RetryableFunc, notify RetryNotifyFunc) error {
	_, err := Do(ctx, p, notify, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

// Do runs fn at most MaxRetries+1 times. A non-retryable error is returned
// as is; exhaustion returns a RetryExhaustedError wrapping the last error.
func Do[T any](ctx context.Context, p *RetryPolicy, notify RetryNotifyFunc, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	var lastErr error

	for attempt := 0; attempt <= p.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !p.ShouldRetry(err) {
			return zero, err
		}

		// Don't wait after the last attempt
		if attempt == p.MaxRetries {
			break
		}

		delay := p.CalculateDelay(attempt)
		if notify != nil {
			notify(attempt+1, err, delay)
		}
		if err := p.doSleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	return zero, &RetryExhaustedError{
		Attempts: p.MaxRetries + 1,
		LastErr:  lastErr,
	}
}

// CalculateDelay computes min(base*2^attempt + jitter, maxDelay) for a
// zero-based attempt.
func (p *RetryPolicy) CalculateDelay(attempt int) time.Duration {
	delay := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if p.JitterFactor > 0 {
		r := rand.Float64
		if p.rand != nil {
			r = p.rand
		}
		delay += delay * p.JitterFactor * r()
	}
	if p.MaxDelay > 0 && delay > float64(p.MaxDelay) {
		delay = float64(p.MaxDelay)
	}
	return time.Duration(delay)
}

func (p *RetryPolicy) doSleep(ctx context.Context, d time.Duration) error {
	if p.sleep != nil {
		return p.sleep(ctx, d)
	}
	return sleepCtx(ctx, d)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetryExhaustedError indicates all retry attempts failed.
type RetryExhaustedError struct {
	Attempts int
	LastErr  error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.LastErr)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.LastErr
}

// IsRetryExhausted checks if an error is a RetryExhaustedError.
func IsRetryExhausted(err error) bool {
	var target *RetryExhaustedError
	return errors.As(err, &target)
}
