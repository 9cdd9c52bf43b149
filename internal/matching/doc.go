// Package matching is the entry point to the lost-and-found engine.
//
// NewEngine wires the item store, thread registry, message sequencer and the
// optional responder together. Service is the facade callers use: every
// operation checks the caller's identity against the owner or participant
// rules, delegates to the owning component, and returns errors from package
// apperr. Each call is traced with OpenTelemetry.
package matching
