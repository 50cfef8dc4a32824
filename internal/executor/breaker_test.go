package executor

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func failing(context.Context) error { return errBoom }
func passing(context.Context) error { return nil }

func TestBreakerOpensAtFailureThreshold(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 3, SuccessThreshold: 1, Timeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		if err := b.Execute(context.Background(), failing); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want boom", i, err)
		}
		if b.State() != BreakerClosed {
			t.Fatalf("call %d: state = %s, want CLOSED", i, b.State())
		}
	}

	if err := b.Execute(context.Background(), failing); !errors.Is(err, errBoom) {
		t.Fatalf("third failure: err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN after 3 consecutive failures", b.State())
	}
}

func TestOpenBreakerRejectsWithoutInvoking(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	_ = b.Execute(context.Background(), failing)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN", b.State())
	}

	invoked := false
	err := b.Execute(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Fatalf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Fatal("protected call must not run while the circuit is open")
	}
}

func TestBreakerHalfOpenTrialAfterTimeout(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 10 * time.Millisecond}, nil)
	_ = b.Execute(context.Background(), failing)

	// The timeout alone does not transition; the next call does.
	time.Sleep(20 * time.Millisecond)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN until the next call attempt", b.State())
	}

	if err := b.Execute(context.Background(), passing); err != nil {
		t.Fatalf("trial call: %v", err)
	}
	if b.State() != BreakerHalfOpen {
		t.Fatalf("state = %s, want HALF_OPEN after one of two required successes", b.State())
	}

	if err := b.Execute(context.Background(), passing); err != nil {
		t.Fatalf("second trial call: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want CLOSED after success threshold", b.State())
	}
}

func TestHalfOpenFailureReopens(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Timeout: 5 * time.Millisecond}, nil)
	_ = b.Execute(context.Background(), failing)
	time.Sleep(10 * time.Millisecond)

	if err := b.Execute(context.Background(), failing); !errors.Is(err, errBoom) {
		t.Fatalf("trial call err = %v", err)
	}
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN after failed trial", b.State())
	}
}

func TestCountersResetOnClosedEntry(t *testing.T) {
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Timeout: 5 * time.Millisecond}, nil)
	_ = b.Execute(context.Background(), failing)
	_ = b.Execute(context.Background(), failing)
	if b.State() != BreakerOpen {
		t.Fatalf("state = %s, want OPEN", b.State())
	}

	time.Sleep(10 * time.Millisecond)
	if err := b.Execute(context.Background(), passing); err != nil {
		t.Fatalf("trial: %v", err)
	}
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want CLOSED", b.State())
	}

	// One failure must not re-open: the consecutive counter restarted.
	_ = b.Execute(context.Background(), failing)
	if b.State() != BreakerClosed {
		t.Fatalf("state = %s, want CLOSED after a single failure below threshold", b.State())
	}
}

func TestRegistryPersistsAndRestores(t *testing.T) {
	transitions := 0
	b := NewBreaker("dep", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute},
		func(string, BreakerSnapshot) { transitions++ })
	_ = b.Execute(context.Background(), failing)
	if transitions != 1 {
		t.Fatalf("transitions = %d, want 1", transitions)
	}

	snap := b.Snapshot()
	restored := NewBreaker("dep", BreakerConfig{FailureThreshold: 1, SuccessThreshold: 1, Timeout: time.Minute}, nil)
	restored.Restore(snap)
	if restored.State() != BreakerOpen {
		t.Fatalf("restored state = %s, want OPEN", restored.State())
	}
}
