package jsrules

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestEvaluateRegisteredRule(t *testing.T) {
	e := New()
	e.Register("isAdult", "params.age >= 18")

	result, err := e.evaluate("isAdult", map[string]any{"age": 21})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result != true {
		t.Fatalf("expected true, got %v", result)
	}

	result, err = e.evaluate("isAdult", map[string]any{"age": 10})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result != false {
		t.Fatalf("expected false, got %v", result)
	}
}

func TestEvaluateUnknownRuleErrors(t *testing.T) {
	e := New()
	if _, err := e.evaluate("missing", nil); err == nil {
		t.Fatalf("expected error for unknown rule")
	}
}

func TestCallRegisterThenEvaluate(t *testing.T) {
	e := New()
	ctx := context.Background()

	if _, err := e.Call(ctx, "register", map[string]any{"name": "double", "expression": "params.x * 2"}); err != nil {
		t.Fatalf("register: %v", err)
	}
	result, err := e.Call(ctx, "evaluate", map[string]any{"name": "double", "params": map[string]any{"x": 21}})
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if result != int64(42) && result != float64(42) {
		t.Fatalf("expected 42, got %v (%T)", result, result)
	}
}

func TestSubscribeAndNotify(t *testing.T) {
	e := New()
	e.Register("threshold", "params.value > 10")

	var mu sync.Mutex
	var pushes []any

	_, initial, unsubscribe, err := e.Subscribe(context.Background(), "threshold", map[string]any{"value": 5}, func(data any) {
		mu.Lock()
		pushes = append(pushes, data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()
	if initial != false {
		t.Fatalf("expected initial false, got %v", initial)
	}

	e.Notify("threshold")
	if err := e.Settle(context.Background()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushes) != 1 {
		t.Fatalf("expected one push after notify+settle, got %d", len(pushes))
	}
}

func TestUnsubscribeStopsNotify(t *testing.T) {
	e := New()
	e.Register("r", "true")
	count := 0
	_, _, unsubscribe, _ := e.Subscribe(context.Background(), "r", nil, func(data any) { count++ })
	unsubscribe()

	e.Notify("r")
	e.Settle(context.Background())
	time.Sleep(10 * time.Millisecond)

	if count != 0 {
		t.Fatalf("expected no pushes after unsubscribe, got %d", count)
	}
}
