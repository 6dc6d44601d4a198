package throttle

import (
	"context"
	"testing"
	"time"
)

func TestAllowEnforcesBurst(t *testing.T) {
	th := New(10, 10)

	for i := 0; i < 10; i++ {
		if !th.Allow() {
			t.Fatalf("operation %d should be allowed within burst", i)
		}
	}
	if th.Allow() {
		t.Fatal("operation should be throttled after burst exhausted")
	}

	// One token refills after 100ms at 10 ops/s.
	time.Sleep(110 * time.Millisecond)
	if !th.Allow() {
		t.Fatal("operation should be allowed after refill")
	}
}

func TestWaitBlocksUntilToken(t *testing.T) {
	th := New(10, 1)
	ctx := context.Background()

	if err := th.Wait(ctx); err != nil {
		t.Fatalf("first wait: %v", err)
	}

	start := time.Now()
	if err := th.Wait(ctx); err != nil {
		t.Fatalf("second wait: %v", err)
	}
	elapsed := time.Since(start)
	if elapsed < 50*time.Millisecond || elapsed > 250*time.Millisecond {
		t.Fatalf("waited %v, expected roughly 100ms", elapsed)
	}
}

func TestWaitHonorsContext(t *testing.T) {
	th := New(1, 1)
	if !th.Allow() {
		t.Fatal("first operation should be allowed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := th.Wait(ctx); err == nil {
		t.Fatal("Wait returned nil after context expired")
	}
}

func TestZeroRateIsUnlimited(t *testing.T) {
	th := New(0, 0)
	for i := 0; i < 1000; i++ {
		if !th.Allow() {
			t.Fatalf("unlimited throttle blocked operation %d", i)
		}
	}
}

func TestSetRate(t *testing.T) {
	th := New(10, 10)
	for i := 0; i < 10; i++ {
		th.Allow()
	}
	if th.Allow() {
		t.Fatal("bucket should be empty")
	}

	th.SetRate(1000)
	time.Sleep(50 * time.Millisecond)
	if !th.Allow() {
		t.Fatal("operation should be allowed at the raised rate")
	}
}
