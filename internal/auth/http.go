// ABOUTME: HTTP middleware resolving the caller's user id for API endpoints
// ABOUTME: Verifies bearer JWTs, or trusts X-User-ID when running in development mode

package auth

import (
	"log/slog"
	"net/http"
	"strings"
)

// DevUserHeader carries the user id in development mode.
const DevUserHeader = "X-User-ID"

// extractBearerToken extracts a bearer token from the Authorization header.
// Returns the token and an error message (empty if successful).
func extractBearerToken(authHeader string) (string, string) {
	if authHeader == "" {
		return "", "missing authorization header"
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", "invalid authorization header format"
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == "" {
		return "", "empty token"
	}
	return token, ""
}

// Middleware attaches the caller's user id to the request context. Requests
// without credentials continue anonymously so public reads keep working;
// requests with bad credentials are rejected. A nil verifier means development
// mode, where the X-User-ID header is taken at face value.
func Middleware(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "auth")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				if id := strings.TrimSpace(r.Header.Get(DevUserHeader)); id != "" {
					r = r.WithContext(WithUser(r.Context(), id))
				}
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			token, errMsg := extractBearerToken(header)
			if errMsg != "" {
				logger.Debug("auth failed", "reason", errMsg, "path", r.URL.Path)
				writeUnauthorized(w, errMsg)
				return
			}
			userID, err := verifier.Verify(token)
			if err != nil {
				logger.Debug("auth failed", "reason", err, "path", r.URL.Path)
				writeUnauthorized(w, "invalid token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUser(r.Context(), userID)))
		})
	}
}

// RequireUser rejects anonymous requests. Must be used after Middleware.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if UserFromContext(r.Context()) == "" {
			writeUnauthorized(w, "not authenticated")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_, _ = w.Write([]byte(`{"error":{"code":"UNAUTHORIZED","message":"` + msg + `"}}`))
}
