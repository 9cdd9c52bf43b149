// Package responder sends the automated first reply in a thread.
//
// When a participant writes and the other participant has never written, one
// reply is scheduled on the silent participant's behalf after a delay. The
// idempotency key (thread, "auto-reply") is claimed in a dedupe ledger when the
// reply is scheduled; the message history is the durable guard across restarts.
// Replies are cancelled when the item is resolved or withdrawn and are dropped
// at fire time if the thread became read-only or the participant wrote first.
package responder
