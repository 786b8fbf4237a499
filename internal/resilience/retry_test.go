package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	apperrors "github.com/talkloop/talkloop/internal/errors"
)

func TestRetrySucceedsFirstTry(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), DefaultRetryConfig(), func() error {
		calls++
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestRetryRecovers(t *testing.T) {
	cfg := FixedRetryConfig(time.Millisecond, 3)
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		if calls < 3 {
			return apperrors.New(apperrors.CodeTransport, "flaky")
		}
		return nil
	})
	if err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestRetryGivesUpOnNonRetryable(t *testing.T) {
	cfg := FixedRetryConfig(time.Millisecond, 5)
	calls := 0
	terminal := apperrors.New(apperrors.CodeDevicePermission, "denied")
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return terminal
	})
	if !errors.Is(err, terminal) {
		t.Errorf("expected terminal error, got %v", err)
	}
	if calls != 1 {
		t.Errorf("non-retryable error should stop after 1 call, got %d", calls)
	}
}

func TestRetryExhaustsAttempts(t *testing.T) {
	cfg := FixedRetryConfig(time.Millisecond, 2)
	calls := 0
	err := Retry(context.Background(), cfg, func() error {
		calls++
		return apperrors.New(apperrors.CodeTransport, "down")
	})
	if err == nil {
		t.Error("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls (1 + 2 retries), got %d", calls)
	}
}

func TestRetryRespectsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := Retry(ctx, DefaultRetryConfig(), func() error {
		calls++
		return apperrors.New(apperrors.CodeTransport, "down")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if calls != 0 {
		t.Errorf("canceled context should prevent calls, got %d", calls)
	}
}

func TestFixedDelayIsConstant(t *testing.T) {
	cfg := FixedRetryConfig(100*time.Millisecond, 10).withRetryDefaults()
	for attempt := 0; attempt < 10; attempt++ {
		if d := cfg.delay(attempt); d != 100*time.Millisecond {
			t.Errorf("attempt %d delay = %v, want 100ms", attempt, d)
		}
	}
}

func TestExponentialDelayGrows(t *testing.T) {
	cfg := RetryConfig{BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, JitterFactor: 0.0001}.withRetryDefaults()
	d0 := cfg.delay(0)
	d3 := cfg.delay(3)
	if d3 <= d0 {
		t.Errorf("delay should grow: attempt0=%v attempt3=%v", d0, d3)
	}
}
