// Package thread maps each (item, counterparty) pair to exactly one conversation.
//
// Thread ids are derived from the pair, so two concurrent first contacts resolve
// to the same id and sync.Map.LoadOrStore picks a single winner. Each item keeps
// an index of its threads in first-contact order; the index lock also records
// when the item has gone terminal so that a thread created during a withdrawal
// is either rejected or frozen with its siblings.
//
// Each thread has an exclusive section (see Registry.Exclusive) used by the
// message sequencer. Writability is only changed inside that section.
package thread
