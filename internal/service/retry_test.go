package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/hugo-lorenzo-mato/switchboard/internal/core"
)

func noSleep(_ context.Context, _ time.Duration) error { return nil }

func TestRetryPolicy_Execute_Success(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(3), WithSleep(noSleep))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_Execute_SuccessAfterRetry(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(3), WithSleep(noSleep))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		if callCount < 3 {
			return core.ErrTransient(core.CodeBackendFailed, "502")
		}
		return nil
	})

	if err != nil {
		t.Errorf("Execute() error = %v, want nil", err)
	}
	if callCount != 3 {
		t.Errorf("callCount = %d, want 3", callCount)
	}
}

func TestRetryPolicy_Exhausted_ReturnsLastError(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(2), WithSleep(noSleep))

	callCount := 0
	var last error
	_, err := Do(context.Background(), policy, nil, func(ctx context.Context) (string, error) {
		callCount++
		last = errors.New("failure")
		return "", last
	})

	if callCount != 3 {
		t.Fatalf("callCount = %d, want 3 (1 + 2 retries)", callCount)
	}
	if !IsRetryExhausted(err) {
		t.Fatalf("expected RetryExhaustedError, got %v", err)
	}
	if !errors.Is(err, last) {
		t.Fatalf("exhaustion must unwrap to the last error")
	}
}

func TestRetryPolicy_RateLimitNotRetried(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(5), WithSleep(noSleep))

	callCount := 0
	err := policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return core.ErrRateLimit("m", 0)
	})

	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
	if !core.IsRateLimit(err) || IsRetryExhausted(err) {
		t.Errorf("expected the raw rate-limit error, got %v", err)
	}
}

func TestRetryPolicy_CustomPredicate(t *testing.T) {
	policy := NewRetryPolicy(
		WithMaxRetries(5),
		WithSleep(noSleep),
		WithShouldRetry(func(err error) bool { return core.IsRetryable(err) }),
	)

	callCount := 0
	_ = policy.Execute(context.Background(), func(ctx context.Context) error {
		callCount++
		return core.ErrValidation("X", "bad")
	})
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_ContextCancelledDuringBackoff(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(3), WithBaseDelay(time.Hour), WithMaxDelay(time.Hour))
	ctx, cancel := context.WithCancel(context.Background())

	callCount := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Execute(ctx, func(ctx context.Context) error {
			callCount++
			return errors.New("fail")
		})
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Execute did not observe cancellation")
	}
	if callCount != 1 {
		t.Errorf("callCount = %d, want 1", callCount)
	}
}

func TestRetryPolicy_CalculateDelay(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(time.Second),
		WithJitter(0),
	)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 800 * time.Millisecond},
		{4, time.Second},
		{10, time.Second},
	}
	for _, tt := range tests {
		if got := policy.CalculateDelay(tt.attempt); got != tt.want {
			t.Errorf("CalculateDelay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestRetryPolicy_JitterBounded(t *testing.T) {
	policy := NewRetryPolicy(
		WithBaseDelay(100*time.Millisecond),
		WithMaxDelay(10*time.Second),
		WithJitter(0.5),
	)
	for i := 0; i < 50; i++ {
		d := policy.CalculateDelay(1)
		if d < 200*time.Millisecond || d > 300*time.Millisecond {
			t.Fatalf("delay %v outside [200ms, 300ms]", d)
		}
	}
}

func TestRetryPolicy_Notify(t *testing.T) {
	policy := NewRetryPolicy(WithMaxRetries(2), WithSleep(noSleep), WithJitter(0), WithBaseDelay(time.Millisecond))

	var attempts []int
	_ = policy.ExecuteWithNotify(context.Background(), func(ctx context.Context) error {
		return errors.New("x")
	}, func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	})
	if len(attempts) != 2 || attempts[0] != 1 || attempts[1] != 2 {
		t.Fatalf("notify attempts = %v", attempts)
	}
}
