// Package httpapi exposes the matching engine as a JSON API over net/http.
//
// Reads of items are public; every other route needs a caller identity,
// resolved by the auth middleware from a bearer token or, in development
// mode, the X-User-ID header. Domain errors map to HTTP status codes through
// apperr.Code.HTTPStatus and are rendered as
//
//	{"error": {"code": "...", "message": "...", "metadata": {...}}}
//
// A thread's participants can follow it live through a Server-Sent Events
// stream at /api/threads/{id}/events.
package httpapi
