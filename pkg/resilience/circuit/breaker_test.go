package circuit

import (
	"testing"
	"time"
)

func TestBreakerOpensAfterFailureThreshold(t *testing.T) {
	b := New(Config{FailureThreshold: 2, SuccessThreshold: 1, Timeout: time.Hour})

	b.Record(false)
	if b.State() != Closed {
		t.Fatalf("expected Closed after 1 failure, got %s", b.State())
	}
	b.Record(false)
	if b.State() != Open {
		t.Fatalf("expected Open after 2 failures, got %s", b.State())
	}
}

func TestBreakerRejectsWhileOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	b.Record(false)

	if b.Allow() {
		t.Fatal("expected Allow to reject while circuit is open")
	}
}

func TestBreakerHalfOpensAfterTimeout(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Millisecond})
	b.Record(false)
	time.Sleep(5 * time.Millisecond)

	if !b.Allow() {
		t.Fatal("expected Allow to permit a probe after timeout elapses")
	}
	if b.State() != HalfOpen {
		t.Fatalf("expected HalfOpen after timeout, got %s", b.State())
	}
}

func TestBreakerClosesAfterSuccessThresholdInHalfOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond})
	b.Record(false)
	time.Sleep(5 * time.Millisecond)
	b.Allow()

	b.Record(true)
	if b.State() != HalfOpen {
		t.Fatalf("expected still HalfOpen after 1 of 2 successes, got %s", b.State())
	}
	b.Record(true)
	if b.State() != Closed {
		t.Fatalf("expected Closed after success threshold met, got %s", b.State())
	}
}

func TestBreakerReopensOnFailureInHalfOpen(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 2, Timeout: time.Millisecond})
	b.Record(false)
	time.Sleep(5 * time.Millisecond)
	b.Allow()

	b.Record(false)
	if b.State() != Open {
		t.Fatalf("expected Open after half-open failure, got %s", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := New(Config{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Hour})
	b.Record(false)
	b.Reset()

	if b.State() != Closed {
		t.Fatal("expected Reset to force the breaker back to Closed")
	}
}
