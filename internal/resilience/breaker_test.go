package resilience

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if b.State() != StateClosed {
			t.Fatalf("breaker opened early after %d failures", i+1)
		}
	}
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected breaker to open at the failure threshold, got %s", b.State())
	}
	if b.Allow() {
		t.Error("expected Allow() to deny calls while open")
	}
}

func TestBreakerSuccessResetsFailureCount(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 3, SuccessThreshold: 2, Cooldown: time.Minute})

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	if b.State() != StateClosed {
		t.Fatalf("a success in between should have reset the streak, got %s", b.State())
	}
}

func TestBreakerTransitionsToHalfOpenAfterCooldown(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, SuccessThreshold: 1, Cooldown: 10 * time.Millisecond})

	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	time.Sleep(20 * time.Millisecond)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected lazy transition to half-open after cooldown, got %s", b.State())
	}
}

func TestBreakerClosesAfterHalfOpenSuccesses(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 5 * time.Millisecond})

	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected a half-open probe to be allowed")
	}
	b.RecordSuccess()
	if b.State() != StateHalfOpen {
		t.Fatalf("expected to still be half-open after one success (threshold 2), got %s", b.State())
	}
	if !b.Allow() {
		t.Fatal("expected a second half-open probe to be allowed")
	}
	b.RecordSuccess()
	if b.State() != StateClosed {
		t.Fatalf("expected breaker to close after reaching the success threshold, got %s", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 5 * time.Millisecond})

	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	b.Allow()
	b.RecordFailure()
	if b.State() != StateOpen {
		t.Fatalf("a half-open failure must reopen the breaker, got %s", b.State())
	}
}

func TestBreakerHalfOpenLimitsConcurrentProbes(t *testing.T) {
	b := New(Config{Name: "test", FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 5 * time.Millisecond, MaxHalfOpenRequest: 1})

	b.RecordFailure()
	time.Sleep(10 * time.Millisecond)
	if !b.Allow() {
		t.Fatal("expected the first probe to be allowed")
	}
	if b.Allow() {
		t.Error("expected a second concurrent probe to be denied when MaxHalfOpenRequest is 1")
	}
}

func TestRegistryReusesBreakerPerKey(t *testing.T) {
	r := NewRegistry()
	a := r.Get("llm.openai")
	b := r.Get("llm.openai")
	if a != b {
		t.Error("expected the same breaker instance for the same key")
	}
	c := r.Get("llm.anthropic")
	if a == c {
		t.Error("expected distinct breakers for distinct keys")
	}
}

func TestRegistryAppliesTighterSecretsConfig(t *testing.T) {
	r := NewRegistry()
	secrets := r.Get("secrets")
	for i := 0; i < 2; i++ {
		secrets.RecordFailure()
	}
	if secrets.State() != StateClosed {
		t.Fatal("secrets breaker should still be closed after 2 failures (threshold 3)")
	}
	secrets.RecordFailure()
	if secrets.State() != StateOpen {
		t.Fatal("secrets breaker should open at its tighter threshold of 3")
	}
}
