// ABOUTME: Matching facade, the single entry point for reporting items and conversing about them
// ABOUTME: Checks caller identity, delegates to the engine components and traces every call

package matching

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/lostfound/internal/apperr"
	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

var tracer = otel.Tracer("github.com/2389/lostfound/internal/matching")

// Items is the item store contract used by the facade.
type Items interface {
	CreateItem(in item.NewItem) (item.Item, error)
	GetItem(id string) (item.Item, error)
	ListItems(filter item.Filter) []item.Item
	UpdateStatus(id, actorID string, target item.Status, claimantID string) (item.Item, error)
	UpdateDetails(id, actorID string, d item.Details) (item.Item, error)
	SetAttachment(id, actorID, ref string) (item.Item, error)
}

// Threads is the thread registry contract used by the facade.
type Threads interface {
	GetOrCreateThread(itemID, counterpartyID string) (thread.Thread, error)
	GetThread(threadID string) (thread.Thread, error)
	ListThreadsForItem(itemID string) ([]thread.Thread, error)
}

// Messages is the sequencer contract used by the facade.
type Messages interface {
	Send(threadID, senderID, body string) (message.Message, error)
	History(threadID string, since int64) ([]message.Message, error)
}

// Report is the input to ReportItem.
type Report struct {
	Kind        item.Kind `json:"kind"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Location    string    `json:"location"`
	OccurredAt  time.Time `json:"occurred_at"`
	Attachment  string    `json:"attachment,omitempty"`
}

// Service composes the engine. It holds no state of its own.
type Service struct {
	items    Items
	threads  Threads
	messages Messages
	logger   *slog.Logger
}

// NewService creates the facade.
func NewService(items Items, threads Threads, messages Messages, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		items:    items,
		threads:  threads,
		messages: messages,
		logger:   logger.With("component", "matching"),
	}
}

// ReportItem records a new lost or found item owned by ownerID.
func (s *Service) ReportItem(ctx context.Context, ownerID string, r Report) (it item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.ReportItem", trace.WithAttributes(
		attribute.String("item.kind", string(r.Kind)),
	))
	defer func() { err = finish(span, err) }()

	if err := requireActor(ownerID); err != nil {
		return item.Item{}, err
	}
	it, err = s.items.CreateItem(item.NewItem{
		Kind:        r.Kind,
		Title:       r.Title,
		Description: r.Description,
		Location:    r.Location,
		OccurredAt:  r.OccurredAt,
		OwnerID:     ownerID,
		Attachment:  r.Attachment,
	})
	if err != nil {
		return item.Item{}, err
	}
	span.SetAttributes(attribute.String("item.id", it.ID))
	s.logger.Info("item reported", "item_id", it.ID, "kind", it.Kind, "owner_id", ownerID)
	return it, nil
}

// BrowseItems lists items matching filter, most recent occurrence first.
func (s *Service) BrowseItems(ctx context.Context, filter item.Filter) (items []item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.BrowseItems")
	defer func() { err = finish(span, err) }()

	if filter.Kind != "" && !filter.Kind.Valid() {
		return nil, apperr.Validation("unknown kind %q", filter.Kind)
	}
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, apperr.Validation("unknown status %q", filter.Status)
	}
	items = s.items.ListItems(filter)
	span.SetAttributes(attribute.Int("items.count", len(items)))
	return items, nil
}

// GetItem returns one item.
func (s *Service) GetItem(ctx context.Context, itemID string) (it item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.GetItem", itemAttr(itemID))
	defer func() { err = finish(span, err) }()
	return s.items.GetItem(itemID)
}

// EditItem replaces the owner-editable text of an item.
func (s *Service) EditItem(ctx context.Context, itemID, actorID string, d item.Details) (it item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.EditItem", itemAttr(itemID))
	defer func() { err = finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return item.Item{}, err
	}
	return s.items.UpdateDetails(itemID, actorID, d)
}

// AttachImage records an opaque reference to an uploaded image.
func (s *Service) AttachImage(ctx context.Context, itemID, actorID, ref string) (it item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.AttachImage", itemAttr(itemID))
	defer func() { err = finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return item.Item{}, err
	}
	return s.items.SetAttachment(itemID, actorID, ref)
}

// ChangeItemStatus moves an item along its lifecycle. claimantID is only
// meaningful when the target is claimed.
func (s *Service) ChangeItemStatus(ctx context.Context, itemID, actorID string, target item.Status, claimantID string) (it item.Item, err error) {
	_, span := tracer.Start(ctx, "Matching.ChangeItemStatus", trace.WithAttributes(
		attribute.String("item.id", itemID),
		attribute.String("item.status", string(target)),
	))
	defer func() { err = finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return item.Item{}, err
	}
	return s.items.UpdateStatus(itemID, actorID, target, claimantID)
}

// OpenConversation returns the viewer's thread on an item, creating it on first contact.
func (s *Service) OpenConversation(ctx context.Context, itemID, viewerID string) (t thread.Thread, err error) {
	_, span := tracer.Start(ctx, "Matching.OpenConversation", itemAttr(itemID))
	defer func() { err = finish(span, err) }()

	if err := requireActor(viewerID); err != nil {
		return thread.Thread{}, err
	}
	t, err = s.threads.GetOrCreateThread(itemID, viewerID)
	if err != nil {
		return thread.Thread{}, err
	}
	span.SetAttributes(attribute.String("thread.id", t.ID))
	return t, nil
}

// ListConversations returns the threads on an item visible to actorID: all of
// them for the owner, at most the actor's own thread otherwise.
func (s *Service) ListConversations(ctx context.Context, itemID, actorID string) (threads []thread.Thread, err error) {
	_, span := tracer.Start(ctx, "Matching.ListConversations", itemAttr(itemID))
	defer func() { err = finish(span, err) }()

	if err := requireActor(actorID); err != nil {
		return nil, err
	}
	it, err := s.items.GetItem(itemID)
	if err != nil {
		return nil, err
	}
	all, err := s.threads.ListThreadsForItem(itemID)
	if err != nil {
		return nil, err
	}
	if actorID == it.OwnerID {
		return all, nil
	}
	visible := make([]thread.Thread, 0, 1)
	for _, t := range all {
		if t.CounterpartyID == actorID {
			visible = append(visible, t)
		}
	}
	return visible, nil
}

// Conversation returns a thread if viewerID participates in it.
func (s *Service) Conversation(ctx context.Context, threadID, viewerID string) (t thread.Thread, err error) {
	_, span := tracer.Start(ctx, "Matching.Conversation", threadAttr(threadID))
	defer func() { err = finish(span, err) }()
	return s.participantThread(threadID, viewerID)
}

// PostMessage sends a message in a thread. On forbidden or closed sends the
// rejected message is returned marked failed alongside the error. A sender
// outside the thread is refused the same way whether or not the thread exists.
func (s *Service) PostMessage(ctx context.Context, threadID, senderID, body string) (m message.Message, err error) {
	_, span := tracer.Start(ctx, "Matching.PostMessage", threadAttr(threadID))
	defer func() { err = finish(span, err) }()

	if err := requireActor(senderID); err != nil {
		return message.Message{}, err
	}
	if _, err := s.participantThread(threadID, senderID); err != nil {
		return message.Message{
			ThreadID:      threadID,
			SenderID:      senderID,
			Body:          body,
			DeliveryState: message.StateFailed,
		}, err
	}
	m, err = s.messages.Send(threadID, senderID, body)
	if err != nil {
		return m, err
	}
	span.SetAttributes(attribute.Int64("message.seq", m.ID))
	return m, nil
}

// FetchMessages returns the messages after since to a thread participant.
func (s *Service) FetchMessages(ctx context.Context, threadID, viewerID string, since int64) (msgs []message.Message, err error) {
	_, span := tracer.Start(ctx, "Matching.FetchMessages", threadAttr(threadID))
	defer func() { err = finish(span, err) }()

	if _, err := s.participantThread(threadID, viewerID); err != nil {
		return nil, err
	}
	return s.messages.History(threadID, since)
}

func (s *Service) participantThread(threadID, viewerID string) (thread.Thread, error) {
	if err := requireActor(viewerID); err != nil {
		return thread.Thread{}, err
	}
	t, err := s.threads.GetThread(threadID)
	if apperr.CodeOf(err) == apperr.CodeNotFound || (err == nil && !t.IsParticipant(viewerID)) {
		// Outsiders cannot tell a missing thread from one they are not part of.
		return thread.Thread{}, errNotParticipant()
	}
	if err != nil {
		return thread.Thread{}, err
	}
	return t, nil
}

func errNotParticipant() error {
	return apperr.Forbidden("not a participant in this conversation")
}

func requireActor(id string) error {
	if id == "" {
		return apperr.Forbidden("caller identity is required")
	}
	return nil
}

// finish records err on span, ends it, and returns err in the error taxonomy.
// It must be the last deferred call of an operation.
func finish(span trace.Span, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	e := apperr.As(err)
	span.RecordError(e)
	span.SetStatus(codes.Error, string(e.Code))
	return e
}

func itemAttr(id string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("item.id", id))
}

func threadAttr(id string) trace.SpanStartOption {
	return trace.WithAttributes(attribute.String("thread.id", id))
}
