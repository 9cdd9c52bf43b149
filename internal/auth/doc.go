// Package auth resolves the opaque user id of the caller.
//
// The engine never authenticates credentials itself. In production the HTTP
// Middleware verifies an HS256 JWT from the Authorization header and uses its
// "sub" claim as the user id. When no secret is configured the service runs in
// development mode and trusts the X-User-ID header instead.
//
// Handlers read the id with UserFromContext; RequireUser rejects anonymous
// requests on endpoints that act on behalf of a user.
package auth
