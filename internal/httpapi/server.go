// ABOUTME: HTTP transport for the matching engine: routes, JSON helpers and error mapping
// ABOUTME: Every handler resolves the caller from the auth middleware and delegates to matching.Service

package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/lostfound/internal/apperr"
	"github.com/2389/lostfound/internal/auth"
	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/matching"
)

var tracer = otel.Tracer("github.com/2389/lostfound/internal/httpapi")

// maxBodyBytes bounds JSON request bodies.
const maxBodyBytes = 1 << 20

// Subscriber is the part of the event bus the SSE stream needs.
type Subscriber interface {
	Subscribe(ctx context.Context, topic string) (<-chan events.Event, string)
}

// Pinger reports whether a backing dependency is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures a Server.
type Options struct {
	Service *matching.Service
	// Events feeds the per-thread stream. Streaming is disabled when nil.
	Events Subscriber
	// Verifier checks bearer tokens. Nil selects development mode.
	Verifier auth.TokenVerifier
	// Ready backs /health/ready. Nil means always ready.
	Ready  Pinger
	Logger *slog.Logger
}

// Server serves the JSON API.
type Server struct {
	svc      *matching.Service
	events   Subscriber
	verifier auth.TokenVerifier
	ready    Pinger
	markdown goldmark.Markdown
	logger   *slog.Logger
}

// New creates a Server.
func New(opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Server{
		svc:      opts.Service,
		events:   opts.Events,
		verifier: opts.Verifier,
		ready:    opts.Ready,
		markdown: goldmark.New(goldmark.WithExtensions(extension.Linkify, extension.Strikethrough)),
		logger:   opts.Logger.With("component", "http"),
	}
}

// Handler returns the routed handler with identity and tracing applied.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	user := auth.RequireUser

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/ready", s.handleReady)

	mux.HandleFunc("GET /api/items", s.handleListItems)
	mux.Handle("POST /api/items", user(http.HandlerFunc(s.handleReportItem)))
	mux.HandleFunc("GET /api/items/{id}", s.handleGetItem)
	mux.Handle("PATCH /api/items/{id}", user(http.HandlerFunc(s.handleEditItem)))
	mux.Handle("PUT /api/items/{id}/attachment", user(http.HandlerFunc(s.handleAttach)))
	mux.Handle("PATCH /api/items/{id}/status", user(http.HandlerFunc(s.handleChangeStatus)))
	mux.Handle("POST /api/items/{id}/conversations", user(http.HandlerFunc(s.handleOpenConversation)))
	mux.Handle("GET /api/items/{id}/conversations", user(http.HandlerFunc(s.handleListConversations)))

	mux.Handle("GET /api/threads/{id}", user(http.HandlerFunc(s.handleGetThread)))
	mux.Handle("GET /api/threads/{id}/messages", user(http.HandlerFunc(s.handleFetchMessages)))
	mux.Handle("POST /api/threads/{id}/messages", user(http.HandlerFunc(s.handlePostMessage)))
	mux.Handle("GET /api/threads/{id}/events", user(http.HandlerFunc(s.handleThreadEvents)))

	return s.traced(auth.Middleware(s.verifier, s.logger)(mux))
}

// traced continues any incoming trace and opens a server span per request.
func (s *Server) traced(next http.Handler) http.Handler {
	prop := propagation.TraceContext{}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := prop.Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		ctx, span := tracer.Start(ctx, r.Method+" "+r.URL.Path,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			))
		defer span.End()
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once the journal database answers.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := s.ready.Ping(ctx); err != nil {
			s.logger.Warn("readiness check failed", "error", err)
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// errorBody is the JSON shape of every error response.
type errorBody struct {
	Error errorDetail `json:"error"`
	// Message is the rejected message of a failed send.
	Message any `json:"message,omitempty"`
}

type errorDetail struct {
	Code     apperr.Code       `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to write response", "error", err)
	}
}

// writeError maps a domain error onto its HTTP status. Internal causes are
// logged and never leave the process.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error, rejected any) {
	e := apperr.As(err)
	status := e.Code.HTTPStatus()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, status, errorBody{
		Error: errorDetail{
			Code:     e.Code,
			Message:  e.Message,
			Metadata: e.Metadata,
		},
		Message: rejected,
	})
}

// decode reads a JSON body into dst. Malformed input is a validation error.
func decode(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("request body exceeds %d bytes", maxErr.Limit)
		}
		return apperr.Validation("invalid JSON body: %s", err.Error())
	}
	return nil
}

func caller(r *http.Request) string {
	return auth.UserFromContext(r.Context())
}

// ListenAndServe serves the API on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		// Event streams end with ctx instead of holding Shutdown open.
		BaseContext: func(net.Listener) context.Context { return ctx },
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.logger.Info("shutting down HTTP server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}
