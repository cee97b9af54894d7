// Package memstore is a reference, in-memory implementation of the
// realtime.Capability contract for the data store side of the wire
// protocol. It is deliberately simple — a full reactive query planner is
// out of scope — and exists so the connection pipeline, its tests, and
// cmd/server have something real to run against without an external
// database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// Store holds named buckets of records and evaluates named queries against
// them. It implements github.com/ashureev/realtime-engine/internal/realtime.Capability.
type Store struct {
	mu      sync.Mutex
	buckets map[string]map[string]map[string]any

	subsMu sync.Mutex
	subs   map[string]*subscription

	pending sync.WaitGroup
}

type subscription struct {
	bucket string
	onPush func(data any)
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		buckets: make(map[string]map[string]map[string]any),
		subs:    make(map[string]*subscription),
	}
}

// Call executes operation against a bucket. Supported operations: insert,
// update, delete, get, all.
func (s *Store) Call(ctx context.Context, operation string, params map[string]any) (any, error) {
	bucket, _ := params["bucket"].(string)
	if bucket == "" {
		return nil, fmt.Errorf("memstore: operation %q requires a bucket", operation)
	}

	switch operation {
	case "insert":
		return s.insert(bucket, params)
	case "update":
		return s.update(bucket, params)
	case "delete":
		return s.delete(bucket, params)
	case "get":
		return s.get(bucket, params)
	case "all":
		return s.all(bucket), nil
	default:
		return nil, fmt.Errorf("memstore: unsupported operation %q", operation)
	}
}

func (s *Store) insert(bucket string, params map[string]any) (any, error) {
	record, _ := params["data"].(map[string]any)
	if record == nil {
		record = map[string]any{}
	}
	id, _ := record["id"].(string)
	if id == "" {
		id = uuid.NewString()
	}
	record["id"] = id

	s.mu.Lock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]map[string]any)
	}
	s.buckets[bucket][id] = record
	s.mu.Unlock()

	s.notify(bucket)
	return record, nil
}

func (s *Store) update(bucket string, params map[string]any) (any, error) {
	id, _ := params["id"].(string)
	patch, _ := params["data"].(map[string]any)
	if id == "" {
		return nil, fmt.Errorf("memstore: update requires an id")
	}

	s.mu.Lock()
	records := s.buckets[bucket]
	record, ok := records[id]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("memstore: no record %q in bucket %q", id, bucket)
	}
	for k, v := range patch {
		record[k] = v
	}
	record["id"] = id
	s.mu.Unlock()

	s.notify(bucket)
	return record, nil
}

func (s *Store) delete(bucket string, params map[string]any) (any, error) {
	id, _ := params["id"].(string)
	s.mu.Lock()
	if records, ok := s.buckets[bucket]; ok {
		delete(records, id)
	}
	s.mu.Unlock()

	s.notify(bucket)
	return map[string]any{"deleted": id}, nil
}

func (s *Store) get(bucket string, params map[string]any) (any, error) {
	id, _ := params["id"].(string)
	s.mu.Lock()
	defer s.mu.Unlock()
	record, ok := s.buckets[bucket][id]
	if !ok {
		return nil, fmt.Errorf("memstore: no record %q in bucket %q", id, bucket)
	}
	return record, nil
}

// all returns every record in bucket, sorted by id for deterministic order.
func (s *Store) all(bucket string) []map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := s.buckets[bucket]
	out := make([]map[string]any, 0, len(records))
	for _, r := range records {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool {
		return fmt.Sprint(out[i]["id"]) < fmt.Sprint(out[j]["id"])
	})
	return out
}

// Subscribe binds query (interpreted as a bucket name — this reference
// store has no independent query language) to a live subscription. Every
// subsequent insert/update/delete to that bucket re-evaluates "all" and
// pushes the fresh list.
func (s *Store) Subscribe(ctx context.Context, query string, params map[string]any, onPush func(data any)) (string, any, func(), error) {
	id := uuid.NewString()
	sub := &subscription{bucket: query, onPush: onPush}

	s.subsMu.Lock()
	s.subs[id] = sub
	s.subsMu.Unlock()

	initial := s.all(query)

	unsubscribe := func() {
		s.subsMu.Lock()
		delete(s.subs, id)
		s.subsMu.Unlock()
	}
	return id, initial, unsubscribe, nil
}

// notify fans a bucket mutation out to every subscription bound to it. Each
// push is dispatched on its own goroutine, tracked by s.pending so Settle
// can wait for them to land.
func (s *Store) notify(bucket string) {
	s.subsMu.Lock()
	targets := make([]*subscription, 0)
	for _, sub := range s.subs {
		if sub.bucket == bucket {
			targets = append(targets, sub)
		}
	}
	s.subsMu.Unlock()

	data := s.all(bucket)
	for _, sub := range targets {
		sub := sub
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			sub.onPush(data)
		}()
	}
}

// Settle blocks until every push triggered by a mutation already accepted
// has been delivered to its subscription's onPush callback, so tests can
// observe pushes deterministically.
func (s *Store) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
