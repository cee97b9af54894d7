package realtime

import "context"

// Capability is the shape shared by the store.* and rules.* proxies: rules
// is wired as a sibling of store, not a special case inside the worker.
// Call serves every non-subscription operation; Subscribe establishes a
// live query whose subsequent changes arrive through onPush, and whose
// returned unsubscribe func severs it.
type Capability interface {
	// Call executes operation (the request type with its "store."/"rules."
	// prefix stripped) against params and returns the result data.
	Call(ctx context.Context, operation string, params map[string]any) (any, error)

	// Subscribe registers query/params as a live subscription. onPush is
	// invoked (possibly from another goroutine, and possibly before
	// Subscribe has returned) for every subsequent change; initialData is
	// returned synchronously and is never delivered through onPush.
	Subscribe(ctx context.Context, query string, params map[string]any, onPush func(data any)) (subscriptionID string, initialData any, unsubscribe func(), err error)

	// Settle blocks until any operations already accepted have been
	// applied, including the resulting subscription pushes. Callers (tests,
	// primarily) use it to observe pushes deterministically instead of
	// racing a mutation against its own fan-out.
	Settle(ctx context.Context) error
}
