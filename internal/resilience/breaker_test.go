package resilience

import (
	"errors"
	"testing"
	"time"
)

func testBreaker() *Breaker {
	return NewBreaker(Config{Threshold: 3, ResetTimeout: 20 * time.Millisecond, HalfOpenSuccesses: 2})
}

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := testBreaker()
	boom := errors.New("boom")

	for i := 0; i < 3; i++ {
		if b.State() != Closed {
			t.Fatalf("breaker opened early at failure %d", i)
		}
		_ = b.Execute(func() error { return boom })
	}
	if b.State() != Open {
		t.Errorf("state = %v after threshold failures, want open", b.State())
	}
	if err := b.Execute(func() error { return nil }); !errors.Is(err, ErrOpen) {
		t.Errorf("open breaker should fail fast, got %v", err)
	}
}

func TestBreakerRecovers(t *testing.T) {
	b := testBreaker()
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}

	time.Sleep(25 * time.Millisecond)

	// First allowed probe moves to half-open; two successes close it.
	for i := 0; i < 2; i++ {
		if err := b.Execute(func() error { return nil }); err != nil {
			t.Fatalf("half-open probe %d rejected: %v", i, err)
		}
	}
	if b.State() != Closed {
		t.Errorf("state = %v after recovery, want closed", b.State())
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker()
	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		_ = b.Execute(func() error { return boom })
	}
	time.Sleep(25 * time.Millisecond)

	_ = b.Execute(func() error { return boom })
	if b.State() != Open {
		t.Errorf("state = %v after half-open failure, want open", b.State())
	}
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker()
	for i := 0; i < 3; i++ {
		b.Failure()
	}
	b.Reset()
	if b.State() != Closed {
		t.Errorf("state = %v after Reset, want closed", b.State())
	}
}
