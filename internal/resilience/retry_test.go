package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDo_SuccessOnFirstAttempt(t *testing.T) {
	var calls int
	err := Do(context.Background(), ConstantRetryConfig(3, 0), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestDo_SuccessAfterRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), ConstantRetryConfig(3, time.Millisecond), func(_ context.Context) error {
		calls++
		if calls < 3 {
			return NewTransientError(errors.New("temporary"), 503)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_ExhaustsRetries(t *testing.T) {
	var calls int
	err := Do(context.Background(), ConstantRetryConfig(3, 0), func(_ context.Context) error {
		calls++
		return NewTransientError(errors.New("always times out"), 504)
	})
	if err == nil {
		t.Fatal("expected error after exhausting retries")
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
}

func TestDo_NonTransientError_NoRetry(t *testing.T) {
	var calls int
	err := Do(context.Background(), ConstantRetryConfig(3, 0), func(_ context.Context) error {
		calls++
		return errors.New("permanent error: bad request")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Errorf("expected 1 call (no retry for non-transient), got %d", calls)
	}
}

func TestDo_ZeroDelayDoesNotSleep(t *testing.T) {
	start := time.Now()
	_ = Do(context.Background(), ConstantRetryConfig(5, 0), func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 503)
	})
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("zero delay should not sleep, took %s", elapsed)
	}
}

func TestDo_ConstantDelayBetweenAttempts(t *testing.T) {
	var stamps []time.Time
	_ = Do(context.Background(), ConstantRetryConfig(3, 20*time.Millisecond), func(_ context.Context) error {
		stamps = append(stamps, time.Now())
		return NewTransientError(errors.New("fail"), 503)
	})
	if len(stamps) != 3 {
		t.Fatalf("expected 3 attempts, got %d", len(stamps))
	}
	for i := 1; i < len(stamps); i++ {
		if gap := stamps[i].Sub(stamps[i-1]); gap < 20*time.Millisecond {
			t.Errorf("gap %d was %s, expected >= 20ms", i, gap)
		}
	}
}

func TestDo_ContextCancelled_StopsRetry(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var calls int
	err := Do(ctx, ConstantRetryConfig(5, 50*time.Millisecond), func(_ context.Context) error {
		calls++
		if calls == 2 {
			cancel()
		}
		return NewTransientError(errors.New("fail"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 2 {
		t.Errorf("expected 2 calls after cancel, got %d", calls)
	}
}

func TestDo_CustomShouldRetry(t *testing.T) {
	var calls int
	cfg := ConstantRetryConfig(3, 0)
	cfg.ShouldRetry = func(err error) bool {
		return err.Error() == "retry me"
	}

	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		if calls == 1 {
			return errors.New("retry me")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestDo_Callbacks(t *testing.T) {
	var attempts, retries []int
	cfg := ConstantRetryConfig(3, 0)
	cfg.OnAttempt = func(attempt int, _ error) { attempts = append(attempts, attempt) }
	cfg.OnRetry = func(attempt int, _ error) { retries = append(retries, attempt) }

	_ = Do(context.Background(), cfg, func(_ context.Context) error {
		return NewTransientError(errors.New("fail"), 500)
	})

	if len(attempts) != 3 || attempts[2] != 3 {
		t.Errorf("expected OnAttempt for attempts [1 2 3], got %v", attempts)
	}
	if len(retries) != 2 || retries[0] != 1 || retries[1] != 2 {
		t.Errorf("expected OnRetry for attempts [1 2], got %v", retries)
	}
}

func TestDo_SkipDelay(t *testing.T) {
	errEmpty := errors.New("empty answer")
	cfg := ConstantRetryConfig(3, time.Hour)
	cfg.ShouldRetry = func(err error) bool { return errors.Is(err, errEmpty) }
	cfg.SkipDelay = func(err error) bool { return errors.Is(err, errEmpty) }

	var calls int
	start := time.Now()
	err := Do(context.Background(), cfg, func(_ context.Context) error {
		calls++
		return errEmpty
	})
	if !errors.Is(err, errEmpty) {
		t.Fatalf("expected errEmpty, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("expected no sleep between attempts, took %s", elapsed)
	}
}

func TestDoVal_ReturnsValueOnSuccess(t *testing.T) {
	var calls int
	val, err := DoVal(context.Background(), ConstantRetryConfig(3, 0), func(_ context.Context) (string, error) {
		calls++
		if calls < 2 {
			return "", NewTransientError(errors.New("fail"), 500)
		}
		return "hello", nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "hello" {
		t.Errorf("expected %q, got %q", "hello", val)
	}
}

func TestDoVal_ReturnsZeroOnFailure(t *testing.T) {
	val, err := DoVal(context.Background(), ConstantRetryConfig(2, 0), func(_ context.Context) (int, error) {
		return 42, NewTransientError(errors.New("fail"), 500)
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if val != 0 {
		t.Errorf("expected zero value on failure, got %d", val)
	}
}

func TestComputeBackoff_ExponentialGrowth(t *testing.T) {
	cfg := applyDefaults(RetryConfig{
		InitialBackoff: 100 * time.Millisecond,
		MaxBackoff:     300 * time.Millisecond,
		Multiplier:     2.0,
	})

	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 300 * time.Millisecond}
	for attempt, w := range want {
		if got := computeBackoff(attempt, cfg); got != w {
			t.Errorf("attempt %d: expected %s, got %s", attempt, w, got)
		}
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := applyDefaults(RetryConfig{InitialBackoff: -time.Second})
	if cfg.MaxAttempts != 3 {
		t.Errorf("expected default 3 attempts, got %d", cfg.MaxAttempts)
	}
	if cfg.InitialBackoff != 0 {
		t.Errorf("expected negative backoff clamped to 0, got %s", cfg.InitialBackoff)
	}
	if cfg.Multiplier != 1.0 {
		t.Errorf("expected constant multiplier, got %f", cfg.Multiplier)
	}
}
