// ABOUTME: Conversation endpoints: open, list, send, fetch and live event streaming
// ABOUTME: The SSE stream carries message and item lifecycle events for one thread

package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/2389/lostfound/internal/apperr"
	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

type listThreadsResponse struct {
	Threads []thread.Thread `json:"threads"`
}

type postMessageRequest struct {
	Body string `json:"body"`
}

type messagesResponse struct {
	ThreadID string            `json:"thread_id"`
	Messages []message.Message `json:"messages"`
}

// handleOpenConversation handles POST /api/items/{id}/conversations.
func (s *Server) handleOpenConversation(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.OpenConversation(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// handleListConversations handles GET /api/items/{id}/conversations.
func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	threads, err := s.svc.ListConversations(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if threads == nil {
		threads = []thread.Thread{}
	}
	s.writeJSON(w, http.StatusOK, listThreadsResponse{Threads: threads})
}

// handleGetThread handles GET /api/threads/{id}.
func (s *Server) handleGetThread(w http.ResponseWriter, r *http.Request) {
	t, err := s.svc.Conversation(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, t)
}

// handleFetchMessages handles GET /api/threads/{id}/messages?since=N.
func (s *Server) handleFetchMessages(w http.ResponseWriter, r *http.Request) {
	var since int64
	if raw := r.URL.Query().Get("since"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			s.writeError(w, r, apperr.Validation("since must be an integer"), nil)
			return
		}
		since = n
	}

	threadID := r.PathValue("id")
	msgs, err := s.svc.FetchMessages(r.Context(), threadID, caller(r), since)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	s.writeJSON(w, http.StatusOK, messagesResponse{ThreadID: threadID, Messages: msgs})
}

// handlePostMessage handles POST /api/threads/{id}/messages. A rejected send
// still returns the failed message so the client can show it as undelivered.
func (s *Server) handlePostMessage(w http.ResponseWriter, r *http.Request) {
	var req postMessageRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	m, err := s.svc.PostMessage(r.Context(), r.PathValue("id"), caller(r), req.Body)
	if err != nil {
		var rejected any
		if m.DeliveryState == message.StateFailed {
			rejected = m
		}
		s.writeError(w, r, err, rejected)
		return
	}
	s.writeJSON(w, http.StatusCreated, m)
}

// handleThreadEvents handles GET /api/threads/{id}/events. Participants receive
// a "ready" event, then every message posted in the thread and every status
// change of its item until they disconnect.
func (s *Server) handleThreadEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		s.writeError(w, r, apperr.NotFound("event stream", r.PathValue("id")), nil)
		return
	}
	t, err := s.svc.Conversation(r.Context(), r.PathValue("id"), caller(r))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apperr.Internal("streaming unsupported", nil), nil)
		return
	}

	ctx := r.Context()
	msgs, _ := s.events.Subscribe(ctx, t.ID)
	lifecycle, _ := s.events.Subscribe(ctx, t.ItemID)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	s.writeSSEEvent(w, "ready", t)
	flusher.Flush()

	for {
		var (
			e  events.Event
			ok bool
		)
		select {
		case <-ctx.Done():
			return
		case e, ok = <-msgs:
		case e, ok = <-lifecycle:
		}
		if !ok {
			return
		}
		s.writeSSEEvent(w, string(e.Kind), e)
		flusher.Flush()
	}
}

func (s *Server) writeSSEEvent(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		s.logger.Error("failed to marshal SSE data", "error", err)
		return
	}
	if e, ok := data.(events.Event); ok {
		fmt.Fprintf(w, "id: %s\n", e.ID)
	}
	fmt.Fprintf(w, "event: %s\n", event)
	fmt.Fprintf(w, "data: %s\n\n", dataJSON)
}

