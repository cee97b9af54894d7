// Package jsrules is a concrete RuleEngine adapter: rule bodies are small
// JavaScript expressions evaluated by github.com/robertkrimen/otto, giving
// rules.* dispatch a real sibling implementation to the store proxy
// instead of a stub.
//
// A rule is registered under a name with a JS expression referencing the
// bound variable `params` (the object passed to rules.evaluate). Evaluate
// runs the expression and returns its value; subscribe re-evaluates a rule
// whenever Notify is called for it.
package jsrules

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/robertkrimen/otto"
)

// Engine implements github.com/ashureev/realtime-engine/internal/realtime.Capability.
type Engine struct {
	mu    sync.Mutex
	rules map[string]string // name -> JS expression body

	subsMu sync.Mutex
	subs   map[string]*subscription

	pending sync.WaitGroup
}

type subscription struct {
	rule   string
	params map[string]any
	onPush func(data any)
}

// New creates an Engine with no registered rules.
func New() *Engine {
	return &Engine{
		rules: make(map[string]string),
		subs:  make(map[string]*subscription),
	}
}

// Register defines or replaces a named rule's JS expression body.
func (e *Engine) Register(name, expression string) {
	e.mu.Lock()
	e.rules[name] = expression
	e.mu.Unlock()
}

// Call executes operation against params. Supported operations: evaluate,
// register (params: {"name", "expression"}).
func (e *Engine) Call(ctx context.Context, operation string, params map[string]any) (any, error) {
	switch operation {
	case "register":
		name, _ := params["name"].(string)
		expression, _ := params["expression"].(string)
		if name == "" || expression == "" {
			return nil, fmt.Errorf("jsrules: register requires name and expression")
		}
		e.Register(name, expression)
		return map[string]any{"registered": name}, nil
	case "evaluate":
		name, _ := params["name"].(string)
		ruleParams, _ := params["params"].(map[string]any)
		return e.evaluate(name, ruleParams)
	default:
		return nil, fmt.Errorf("jsrules: unsupported operation %q", operation)
	}
}

func (e *Engine) evaluate(name string, params map[string]any) (any, error) {
	e.mu.Lock()
	expression, ok := e.rules[name]
	e.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("jsrules: unknown rule %q", name)
	}

	vm := otto.New()
	if err := vm.Set("params", params); err != nil {
		return nil, fmt.Errorf("jsrules: bind params: %w", err)
	}
	value, err := vm.Run(expression)
	if err != nil {
		return nil, fmt.Errorf("jsrules: evaluate %q: %w", name, err)
	}
	exported, err := value.Export()
	if err != nil {
		return nil, fmt.Errorf("jsrules: export result of %q: %w", name, err)
	}
	return exported, nil
}

// Subscribe binds query (a registered rule name) plus params to a live
// subscription. Unlike memstore, which pushes after every mutation of the
// bound bucket, nothing re-evaluates a rule automatically — callers drive
// re-evaluation with Notify,
// mirroring how a real rule engine would react to upstream store changes.
func (e *Engine) Subscribe(ctx context.Context, query string, params map[string]any, onPush func(data any)) (string, any, func(), error) {
	initial, err := e.evaluate(query, params)
	if err != nil {
		return "", nil, nil, err
	}

	id := uuid.NewString()
	sub := &subscription{rule: query, params: params, onPush: onPush}
	e.subsMu.Lock()
	e.subs[id] = sub
	e.subsMu.Unlock()

	unsubscribe := func() {
		e.subsMu.Lock()
		delete(e.subs, id)
		e.subsMu.Unlock()
	}
	return id, initial, unsubscribe, nil
}

// Notify re-evaluates every live subscription bound to rule and pushes the
// fresh result to its subscriber.
func (e *Engine) Notify(rule string) {
	e.subsMu.Lock()
	targets := make([]*subscription, 0)
	for _, sub := range e.subs {
		if sub.rule == rule {
			targets = append(targets, sub)
		}
	}
	e.subsMu.Unlock()

	for _, sub := range targets {
		sub := sub
		e.pending.Add(1)
		go func() {
			defer e.pending.Done()
			result, err := e.evaluate(sub.rule, sub.params)
			if err != nil {
				return
			}
			sub.onPush(result)
		}()
	}
}

// Settle blocks until every push triggered by a Notify already accepted has
// reached its subscription's onPush callback.
func (e *Engine) Settle(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		e.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
