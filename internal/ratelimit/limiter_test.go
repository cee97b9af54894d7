package ratelimit

import (
	"testing"
	"time"
)

func TestAllowAtThresholdThenDenies(t *testing.T) {
	l := New(2, time.Second)
	defer l.Close()

	now := time.Now()
	ok, _ := l.allowAt("conn-1", now)
	if !ok {
		t.Fatalf("expected 1st request allowed")
	}
	ok, _ = l.allowAt("conn-1", now)
	if !ok {
		t.Fatalf("expected 2nd request (at threshold) allowed")
	}
	ok, retryAfter := l.allowAt("conn-1", now)
	if ok {
		t.Fatalf("expected 3rd request denied")
	}
	if retryAfter <= 0 {
		t.Fatalf("expected positive retryAfter, got %v", retryAfter)
	}
}

func TestAllowIsPerKey(t *testing.T) {
	l := New(1, time.Second)
	defer l.Close()

	now := time.Now()
	ok, _ := l.allowAt("conn-1", now)
	if !ok {
		t.Fatalf("expected conn-1 first request allowed")
	}
	ok, _ = l.allowAt("conn-2", now)
	if !ok {
		t.Fatalf("expected conn-2 first request allowed independently of conn-1")
	}
}

func TestAllowRefillsAfterWindow(t *testing.T) {
	l := New(1, time.Second)
	defer l.Close()

	now := time.Now()
	ok, _ := l.allowAt("conn-1", now)
	if !ok {
		t.Fatalf("expected first request allowed")
	}
	ok, _ = l.allowAt("conn-1", now.Add(500*time.Millisecond))
	if ok {
		t.Fatalf("expected request within window denied")
	}
	ok, _ = l.allowAt("conn-1", now.Add(1001*time.Millisecond))
	if !ok {
		t.Fatalf("expected request after window refilled allowed")
	}
}

func TestForgetClearsKey(t *testing.T) {
	l := New(1, time.Second)
	defer l.Close()

	now := time.Now()
	l.allowAt("conn-1", now)
	l.Forget("conn-1")
	ok, _ := l.allowAt("conn-1", now)
	if !ok {
		t.Fatalf("expected forgotten key to have a fresh quota")
	}
}
