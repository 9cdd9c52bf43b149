// Package store persists the lost-and-found engine to SQLite.
//
// The engine keeps its authoritative state in memory and never waits on disk.
// Journal sits between the two: the engine's Save calls append to a queue, and
// Journal.Run drains the queue into a Writer (normally SQLiteStore) in commit
// order. At startup SQLiteStore.Load returns a Snapshot that Engine.Restore
// turns back into live records.
//
// Tables:
//
//   - items: current state per item, upserted on every change
//   - threads: one row per thread, insertion order is first-contact order
//   - messages: keyed by (thread_id, seq)
package store
