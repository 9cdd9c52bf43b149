// ABOUTME: Item endpoints: report, browse, view, edit, attach and status changes
// ABOUTME: Descriptions are returned both raw and rendered from Markdown to HTML

package httpapi

import (
	"bytes"
	"net/http"

	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/matching"
)

// itemResponse is an item plus its rendered description.
type itemResponse struct {
	item.Item
	DescriptionHTML string `json:"description_html,omitempty"`
}

type listItemsResponse struct {
	Items []item.Item `json:"items"`
}

type editItemRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Location    string `json:"location"`
}

type attachmentRequest struct {
	Ref string `json:"ref"`
}

type statusRequest struct {
	Status     item.Status `json:"status"`
	ClaimantID string      `json:"claimant_id,omitempty"`
}

// handleListItems handles GET /api/items?kind=&status=&owner=.
func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := s.svc.BrowseItems(r.Context(), item.Filter{
		Kind:    item.Kind(q.Get("kind")),
		Status:  item.Status(q.Get("status")),
		OwnerID: q.Get("owner"),
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	if items == nil {
		items = []item.Item{}
	}
	s.writeJSON(w, http.StatusOK, listItemsResponse{Items: items})
}

// handleReportItem handles POST /api/items.
func (s *Server) handleReportItem(w http.ResponseWriter, r *http.Request) {
	var req matching.Report
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	it, err := s.svc.ReportItem(r.Context(), caller(r), req)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusCreated, s.render(it))
}

// handleGetItem handles GET /api/items/{id}.
func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	it, err := s.svc.GetItem(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.render(it))
}

// handleEditItem handles PATCH /api/items/{id}.
func (s *Server) handleEditItem(w http.ResponseWriter, r *http.Request) {
	var req editItemRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	it, err := s.svc.EditItem(r.Context(), r.PathValue("id"), caller(r), item.Details{
		Title:       req.Title,
		Description: req.Description,
		Location:    req.Location,
	})
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.render(it))
}

// handleAttach handles PUT /api/items/{id}/attachment.
func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	var req attachmentRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	it, err := s.svc.AttachImage(r.Context(), r.PathValue("id"), caller(r), req.Ref)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.render(it))
}

// handleChangeStatus handles PATCH /api/items/{id}/status.
func (s *Server) handleChangeStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := decode(w, r, &req); err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	it, err := s.svc.ChangeItemStatus(r.Context(), r.PathValue("id"), caller(r), req.Status, req.ClaimantID)
	if err != nil {
		s.writeError(w, r, err, nil)
		return
	}
	s.writeJSON(w, http.StatusOK, s.render(it))
}

// render converts the description to HTML. Raw HTML in the source is escaped
// by goldmark's default renderer; a render failure leaves the field empty.
func (s *Server) render(it item.Item) itemResponse {
	var buf bytes.Buffer
	if err := s.markdown.Convert([]byte(it.Description), &buf); err != nil {
		s.logger.Warn("failed to render description", "item_id", it.ID, "error", err)
		return itemResponse{Item: it}
	}
	return itemResponse{Item: it, DescriptionHTML: buf.String()}
}
