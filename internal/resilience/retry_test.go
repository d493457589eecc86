package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"collabiq/internal/apperr"
)

func fastPolicy(maxAttempts int) RetryPolicy {
	return RetryPolicy{
		MaxAttempts: maxAttempts,
		Base:        time.Millisecond,
		Cap:         5 * time.Millisecond,
		JitterMin:   0,
		JitterMax:   time.Millisecond,
		Timeout:     time.Second,
	}
}

func TestDoSucceedsOnFirstAttempt(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		calls++
		return "ok", RetryAfterHint{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Value != "ok" || result.RetryCount != 0 {
		t.Errorf("got %+v, want Value=ok RetryCount=0", result)
	}
	if calls != 1 {
		t.Errorf("expected exactly one call, got %d", calls)
	}
}

func TestDoRetriesTransientThenSucceeds(t *testing.T) {
	calls := 0
	result, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		calls++
		if calls < 3 {
			return "", RetryAfterHint{}, apperr.NewTransient("test", "flaky", nil)
		}
		return "ok", RetryAfterHint{}, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.RetryCount != 2 {
		t.Errorf("expected RetryCount=2 (third attempt, 0-indexed), got %d", result.RetryCount)
	}
}

func TestDoStopsImmediatelyOnPermanent(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		calls++
		return "", RetryAfterHint{}, apperr.NewPermanent("test", "bad input", nil)
	})
	if err == nil {
		t.Fatal("expected an error")
	}
	if calls != 1 {
		t.Errorf("a Permanent error must not be retried, got %d calls", calls)
	}
	var permErr *apperr.Error
	if !errors.As(err, &permErr) || permErr.Category != apperr.Permanent {
		t.Errorf("expected the Permanent error to propagate unwrapped, got %v", err)
	}
}

func TestDoStopsImmediatelyOnCritical(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(5), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		calls++
		return "", RetryAfterHint{}, apperr.NewCritical("test", "token expired", nil)
	})
	if calls != 1 {
		t.Errorf("a Critical error must not be retried, got %d calls", calls)
	}
	if apperr.CategoryOf(err) != apperr.Critical {
		t.Errorf("expected Critical category to propagate, got %s", apperr.CategoryOf(err))
	}
}

func TestDoExhaustsRetriesOnPersistentTransient(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), fastPolicy(3), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		calls++
		return "", RetryAfterHint{}, apperr.NewTransient("test", "still failing", nil)
	})
	if calls != 3 {
		t.Errorf("expected exactly MaxAttempts=3 calls, got %d", calls)
	}
	var exhausted *RetriesExhausted
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected *RetriesExhausted, got %T: %v", err, err)
	}
	if len(exhausted.History) != 3 {
		t.Errorf("expected 3 recorded attempts, got %d", len(exhausted.History))
	}
}

func TestDoRespectsRetryAfterHint(t *testing.T) {
	policy := fastPolicy(2)
	policy.RespectRetryAfter = true
	start := time.Now()
	_, err := Do(context.Background(), policy, func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		if attempt == 0 {
			return "", RetryAfterHint{Duration: 30 * time.Millisecond}, apperr.NewTransient("test", "rate limited", nil)
		}
		return "ok", RetryAfterHint{}, nil
	})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed < 30*time.Millisecond {
		t.Errorf("expected the wait to honor the 30ms Retry-After hint, only waited %v", elapsed)
	}
}

func TestDoAbortsOnContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Do(ctx, fastPolicy(3), func(ctx context.Context, attempt int) (string, RetryAfterHint, error) {
		return "", RetryAfterHint{}, apperr.NewTransient("test", "flaky", nil)
	})
	if err == nil {
		t.Fatal("expected an error when the context is already cancelled")
	}
}

func TestBackoffIsBoundedByCapPlusJitter(t *testing.T) {
	// JitterMax <= JitterMin selects the default 0-250ms jitter, which is
	// added after the cap is applied.
	policy := RetryPolicy{Base: time.Second, Cap: 2 * time.Second, JitterMin: 0, JitterMax: 0}
	maxWait := policy.Cap + 250*time.Millisecond
	for attempt := 0; attempt < 10; attempt++ {
		wait := backoff(policy, attempt)
		if wait > maxWait {
			t.Errorf("backoff(%d) = %v, exceeds cap plus jitter %v", attempt, wait, maxWait)
		}
	}
}
