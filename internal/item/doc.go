// Package item owns reported lost and found items and their lifecycle.
//
// # Lifecycle
//
// Items start open. The owner is the only actor who can move an item:
//
//	open    -> claimed | withdrawn
//	claimed -> resolved | open | withdrawn
//
// Resolved and withdrawn are terminal. Items are never deleted; withdrawing
// soft-closes them so their conversation history stays intact.
//
// # Concurrency
//
// The Store keeps one lock per record. Transitions on the same item serialize,
// transitions on different items do not block each other. Every successful
// transition is delivered to the registered Observers while the record lock is
// held, which keeps lifecycle events in per-item order.
package item
