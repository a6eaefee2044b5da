package resilience_test

import (
	"errors"
	"testing"
	"time"

	"goalflow/internal/resilience"
)

func TestBreakerOpensAndRecovers(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := resilience.NewBreaker(2, time.Minute)
	b.SetClock(func() time.Time { return now })
	boom := errors.New("boom")

	for range 2 {
		if err := b.Execute(func() error { return boom }); !errors.Is(err, boom) {
			t.Fatalf("expected boom, got %v", err)
		}
	}
	called := false
	if err := b.Execute(func() error { called = true; return nil }); !errors.Is(err, resilience.ErrCircuitOpen) {
		t.Fatalf("expected open circuit, got %v", err)
	}
	if called || !b.Open() {
		t.Fatalf("open breaker must not run fn")
	}

	now = now.Add(time.Minute)
	if err := b.Execute(func() error { return nil }); err != nil {
		t.Fatalf("half-open probe should run: %v", err)
	}
	if b.Open() {
		t.Fatalf("successful probe should close the breaker")
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	b := resilience.NewBreaker(1, time.Second)
	b.SetClock(func() time.Time { return now })
	_ = b.Execute(func() error { return errors.New("x") })
	now = now.Add(2 * time.Second)
	_ = b.Execute(func() error { return errors.New("still down") })
	if !b.Open() {
		t.Fatalf("failed probe should reopen")
	}
}
