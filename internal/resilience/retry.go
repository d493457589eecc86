package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"collabiq/internal/apperr"
)

// RetryPolicy configures bounded exponential backoff with jitter, per
// §4.1. Attempt i (0-indexed) waits min(Base*2^i, Cap) + Uniform(JitterMin,
// JitterMax). When JitterMax <= JitterMin (including both left at zero),
// the jitter is drawn from Uniform(0, 250ms) instead.
type RetryPolicy struct {
	MaxAttempts       int
	Base              time.Duration
	Cap               time.Duration
	JitterMin         time.Duration
	JitterMax         time.Duration
	Timeout           time.Duration
	RespectRetryAfter bool
}

// MailPolicy, WorkspacePolicy, LLMPolicy, SecretsPolicy are the per-service
// defaults from §4.1.
func MailPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second, Timeout: 30 * time.Second, RespectRetryAfter: true}
}

func WorkspacePolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second, Timeout: 30 * time.Second, RespectRetryAfter: true}
}

func LLMPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, Base: time.Second, Cap: 10 * time.Second, Timeout: 60 * time.Second, RespectRetryAfter: true}
}

func SecretsPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 2, Base: time.Second, Cap: 5 * time.Second, Timeout: 10 * time.Second, RespectRetryAfter: true}
}

// Attempt records one try of an operation, for RetriesExhausted's history.
type Attempt struct {
	Index    int
	Err      error
	Category apperr.Category
	Waited   time.Duration
}

// RetriesExhausted is raised when every attempt permitted by the policy
// has failed with a Transient error.
type RetriesExhausted struct {
	LastErr error
	History []Attempt
}

func (e *RetriesExhausted) Error() string {
	return "retries exhausted: " + e.LastErr.Error()
}

func (e *RetriesExhausted) Unwrap() error { return e.LastErr }

// Result carries a successful operation's value alongside how many
// retries it took, per the retry-policy's result contract.
type Result[T any] struct {
	Value      T
	RetryCount int
}

// RetryAfterHint lets an operation surface a server-provided Retry-After
// duration for the attempt that just failed; when RespectRetryAfter is
// set and this is non-zero it replaces the computed backoff wait.
type RetryAfterHint struct {
	Duration time.Duration
}

// Op is an operation the retry policy executes. It returns the Retry-After
// hint from the most recent failed attempt (zero value if none/not
// applicable) alongside the usual (value, error).
type Op[T any] func(ctx context.Context, attempt int) (T, RetryAfterHint, error)

// Do runs op under policy, retrying Transient failures with bounded
// exponential backoff + jitter, and returning immediately on Permanent or
// Critical errors (§4.1, §7). The per-operation timeout in policy bounds
// the whole call, including all retries.
func Do[T any](ctx context.Context, policy RetryPolicy, op Op[T]) (Result[T], error) {
	if policy.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, policy.Timeout)
		defer cancel()
	}

	var history []Attempt
	var lastErr error

	maxAttempts := policy.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	for i := 0; i < maxAttempts; i++ {
		value, hint, err := op(ctx, i)
		if err == nil {
			return Result[T]{Value: value, RetryCount: i}, nil
		}

		category := apperr.CategoryOf(err)
		history = append(history, Attempt{Index: i, Err: err, Category: category})
		lastErr = err

		if category != apperr.Transient {
			return Result[T]{}, err
		}

		if i == maxAttempts-1 {
			break
		}

		wait := backoff(policy, i)
		if policy.RespectRetryAfter && hint.Duration > 0 {
			wait = hint.Duration
		}

		select {
		case <-ctx.Done():
			return Result[T]{}, &RetriesExhausted{LastErr: ctx.Err(), History: history}
		case <-time.After(wait):
		}
		history[len(history)-1].Waited = wait
	}

	return Result[T]{}, &RetriesExhausted{LastErr: lastErr, History: history}
}

// backoff computes min(base*2^i, cap) + Uniform(jitterMin, jitterMax).
func backoff(policy RetryPolicy, attempt int) time.Duration {
	base := policy.Base
	if base <= 0 {
		base = time.Second
	}
	cap := policy.Cap
	if cap <= 0 {
		cap = 10 * time.Second
	}

	computed := time.Duration(float64(base) * math.Pow(2, float64(attempt)))
	if computed > cap {
		computed = cap
	}

	jitterMin := policy.JitterMin
	jitterMax := policy.JitterMax
	if jitterMax <= jitterMin {
		jitterMin = 0
		jitterMax = 250 * time.Millisecond
	}
	jitter := jitterMin + time.Duration(rand.Int63n(int64(jitterMax-jitterMin)+1))

	return computed + jitter
}
