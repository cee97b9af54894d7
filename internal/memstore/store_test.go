package memstore

import (
	"context"
	"sync"
	"testing"
)

func TestInsertAndGet(t *testing.T) {
	s := New()
	record, err := s.Call(context.Background(), "insert", map[string]any{
		"bucket": "users",
		"data":   map[string]any{"name": "Alice"},
	})
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	id := record.(map[string]any)["id"].(string)
	if id == "" {
		t.Fatalf("expected generated id")
	}

	got, err := s.Call(context.Background(), "get", map[string]any{"bucket": "users", "id": id})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.(map[string]any)["name"] != "Alice" {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestAllReturnsDeterministicOrder(t *testing.T) {
	s := New()
	s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"id": "b", "name": "Bob"}})
	s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"id": "a", "name": "Alice"}})

	all, err := s.Call(context.Background(), "all", map[string]any{"bucket": "users"})
	if err != nil {
		t.Fatalf("all: %v", err)
	}
	records := all.([]map[string]any)
	if len(records) != 2 || records[0]["id"] != "a" || records[1]["id"] != "b" {
		t.Fatalf("expected sorted records, got %+v", records)
	}
}

func TestUpdateMergesFields(t *testing.T) {
	s := New()
	s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"id": "a", "name": "Alice", "age": 30}})
	updated, err := s.Call(context.Background(), "update", map[string]any{"bucket": "users", "id": "a", "data": map[string]any{"age": 31}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	record := updated.(map[string]any)
	if record["name"] != "Alice" || record["age"] != 31 {
		t.Fatalf("expected merged update, got %+v", record)
	}
}

func TestDeleteRemovesRecord(t *testing.T) {
	s := New()
	s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"id": "a"}})
	if _, err := s.Call(context.Background(), "delete", map[string]any{"bucket": "users", "id": "a"}); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.Call(context.Background(), "get", map[string]any{"bucket": "users", "id": "a"}); err == nil {
		t.Fatalf("expected error getting deleted record")
	}
}

func TestSubscribePushesOnMutationAfterSettle(t *testing.T) {
	s := New()
	var mu sync.Mutex
	var pushes []any

	_, initial, unsubscribe, err := s.Subscribe(context.Background(), "users", nil, func(data any) {
		mu.Lock()
		pushes = append(pushes, data)
		mu.Unlock()
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer unsubscribe()
	if len(initial.([]map[string]any)) != 0 {
		t.Fatalf("expected empty initial data")
	}

	if _, err := s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"name": "Bob"}}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.Settle(context.Background()); err != nil {
		t.Fatalf("settle: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(pushes) != 1 {
		t.Fatalf("expected exactly one push after settle, got %d", len(pushes))
	}
}

func TestUnsubscribeStopsFuturePushes(t *testing.T) {
	s := New()
	count := 0
	_, _, unsubscribe, _ := s.Subscribe(context.Background(), "users", nil, func(data any) { count++ })
	unsubscribe()

	s.Call(context.Background(), "insert", map[string]any{"bucket": "users", "data": map[string]any{"name": "Bob"}})
	s.Settle(context.Background())

	if count != 0 {
		t.Fatalf("expected no pushes after unsubscribe, got %d", count)
	}
}
