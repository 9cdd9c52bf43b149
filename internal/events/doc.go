// Package events carries committed engine changes to live listeners.
//
// The Broadcaster fans events out per topic (a thread id for messages, an item
// id for lifecycle changes) over buffered channels. Publishing never blocks: a
// full subscriber simply misses the event and can catch up through message
// history. With WithMirror, every event is also forwarded to an external bus
// such as Redis (see RedisMirror) from a single background goroutine.
package events
