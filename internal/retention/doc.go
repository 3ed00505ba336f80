// Package retention decides which news items of a feed are purged and hides
// them.
//
// # Rules
//
// Three independent criteria produce candidates for deletion:
//
//   - age: items published before now minus AgeDays
//   - count: the oldest eligible items beyond CountMax visible items
//   - read: items in the Read state
//
// The final decision is the union of the enabled criteria. Pinned items and
// items in the New state are never candidates. Unread and labeled items are
// protected when ProtectUnread / ProtectLabeled are set for the feed.
//
// # Configuration
//
// Each feed resolves its Config from its own preference scope, falling back
// key by key to the global scope:
//
//	resolver := retention.NewResolver(store, logger)
//	cfg, err := resolver.Resolve(ctx, feed.ID)
//
// # Running
//
//	engine := retention.NewEngine(store, store, store)
//	summary, err := engine.ProcessAll(ctx)          // whole tree
//	report, err := engine.ProcessFeed(ctx, feed)    // one feed
//	affected, err := engine.ProcessIncoming(ctx, feed, fetched)
//
// ProcessIncoming merges freshly fetched, not yet stored items into the run.
// Fetched items that are purged come back in the Hidden state and must not be
// stored; the others come back untouched and must be stored by the caller.
//
// Hidden items are written with one SetItemsState call per prior state. The
// resulting Transition can be reverted to restore those prior states.
package retention
