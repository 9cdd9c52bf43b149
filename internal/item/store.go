// ABOUTME: In-memory item store with one lock per item record
// ABOUTME: Validates reports, applies status transitions and emits lifecycle events

package item

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/2389/lostfound/internal/apperr"
)

// Limits bounds the free-text fields of a report.
type Limits struct {
	MaxTitleLength    int
	MaxLocationLength int
	// ClockSkew is how far in the future occurredAt may be before it is rejected.
	ClockSkew time.Duration
}

// DefaultLimits returns the limits used when none are configured.
func DefaultLimits() Limits {
	return Limits{
		MaxTitleLength:    120,
		MaxLocationLength: 200,
		ClockSkew:         5 * time.Minute,
	}
}

// Observer receives lifecycle events. Calls happen while the item's record is
// locked, so per-item order is preserved; implementations must not call back
// into the Store for the same item.
type Observer interface {
	ItemStatusChanged(change StatusChange)
}

// ClaimVerifier reports whether a counterparty has a conversation about an item.
type ClaimVerifier interface {
	HasThread(itemID, counterpartyID string) bool
}

// ClaimPolicy decides what an open -> claimed transition needs.
type ClaimPolicy struct {
	// RequireClaimant rejects claims that do not name the claimant.
	RequireClaimant bool
	// Verifier, when set, must confirm that a named claimant holds a thread.
	Verifier ClaimVerifier
}

// Journal persists committed item states. SaveItem must not block on I/O.
type Journal interface {
	SaveItem(it Item)
}

// Options configures a Store.
type Options struct {
	Clock   clockwork.Clock
	Limits  Limits
	Claims  ClaimPolicy
	Journal Journal
	Logger  *slog.Logger
}

type record struct {
	mu   sync.Mutex
	item Item
}

// Store owns item records. Each record has its own lock; there is no store-wide lock.
type Store struct {
	records sync.Map // item id -> *record

	clock   clockwork.Clock
	limits  Limits
	claims  ClaimPolicy
	journal Journal
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// NewStore creates an empty store.
func NewStore(opts Options) *Store {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Store{
		clock:   opts.Clock,
		limits:  opts.Limits,
		claims:  opts.Claims,
		journal: opts.Journal,
		logger:  opts.Logger.With("component", "items"),
	}
}

// Subscribe registers an observer for lifecycle events.
func (s *Store) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// SetClaimVerifier installs the verifier used by the claim policy.
// The thread registry depends on the store, so it is wired after construction.
func (s *Store) SetClaimVerifier(v ClaimVerifier) {
	s.obsMu.Lock()
	s.claims.Verifier = v
	s.obsMu.Unlock()
}

// CreateItem validates and records a new report. The item starts open.
func (s *Store) CreateItem(in NewItem) (Item, error) {
	now := s.clock.Now()

	if !in.Kind.Valid() {
		return Item{}, apperr.Validation("kind must be %q or %q", KindLost, KindFound)
	}
	ownerID := strings.TrimSpace(in.OwnerID)
	if ownerID == "" {
		return Item{}, apperr.Validation("owner is required")
	}
	details, err := s.validateDetails(Details{Title: in.Title, Description: in.Description, Location: in.Location})
	if err != nil {
		return Item{}, err
	}

	occurredAt := in.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = now
	}
	if occurredAt.After(now.Add(s.limits.ClockSkew)) {
		return Item{}, apperr.Validation("occurred_at cannot be in the future")
	}

	it := Item{
		ID:          uuid.NewString(),
		Kind:        in.Kind,
		Title:       details.Title,
		Description: details.Description,
		Location:    details.Location,
		OccurredAt:  occurredAt.UTC(),
		Attachment:  strings.TrimSpace(in.Attachment),
		OwnerID:     ownerID,
		Status:      StatusOpen,
		CreatedAt:   now.UTC(),
		UpdatedAt:   now.UTC(),
	}
	s.records.Store(it.ID, &record{item: it})
	s.save(it)

	s.logger.Debug("item created", "item_id", it.ID, "kind", it.Kind, "owner_id", it.OwnerID)
	return it, nil
}

// GetItem returns a snapshot of the item.
func (s *Store) GetItem(id string) (Item, error) {
	rec, err := s.record(id)
	if err != nil {
		return Item{}, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.item, nil
}

// ListItems returns matching items ordered by occurredAt descending, then id ascending.
func (s *Store) ListItems(filter Filter) []Item {
	var out []Item
	s.records.Range(func(_, v any) bool {
		rec := v.(*record)
		rec.mu.Lock()
		it := rec.item
		rec.mu.Unlock()
		if filter.matches(it) {
			out = append(out, it)
		}
		return true
	})

	sort.Slice(out, func(i, j int) bool {
		if !out[i].OccurredAt.Equal(out[j].OccurredAt) {
			return out[i].OccurredAt.After(out[j].OccurredAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// UpdateStatus moves the item along one lifecycle edge. Only the owner may
// change status. claimantID names the counterparty on open -> claimed.
func (s *Store) UpdateStatus(id, actorID string, target Status, claimantID string) (Item, error) {
	if !target.Valid() {
		return Item{}, apperr.Validation("unknown status %q", target)
	}
	rec, err := s.record(id)
	if err != nil {
		return Item{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	it := rec.item
	if actorID == "" || actorID != it.OwnerID {
		return Item{}, apperr.Forbidden("only the owner can change the status of this item")
	}
	if !CanTransition(it.Status, target) {
		return Item{}, apperr.InvalidTransition(string(it.Status), string(target))
	}

	claimantID = strings.TrimSpace(claimantID)
	switch target {
	case StatusClaimed:
		if err := s.checkClaim(it, claimantID); err != nil {
			return Item{}, err
		}
		it.ClaimantID = claimantID
	case StatusOpen:
		it.ClaimantID = ""
	}

	now := s.clock.Now().UTC()
	change := StatusChange{
		ItemID:     it.ID,
		OwnerID:    it.OwnerID,
		ActorID:    actorID,
		ClaimantID: it.ClaimantID,
		From:       it.Status,
		To:         target,
		At:         now,
	}
	it.Status = target
	it.UpdatedAt = now
	rec.item = it

	s.save(it)
	s.notify(change)

	s.logger.Info("item status changed",
		"item_id", it.ID,
		"from", change.From,
		"to", change.To)
	return it, nil
}

// UpdateDetails replaces the owner-editable text of a non-terminal item.
func (s *Store) UpdateDetails(id, actorID string, d Details) (Item, error) {
	details, err := s.validateDetails(d)
	if err != nil {
		return Item{}, err
	}
	return s.mutate(id, actorID, func(it *Item) {
		it.Title = details.Title
		it.Description = details.Description
		it.Location = details.Location
	})
}

// SetAttachment records the opaque attachment reference of a non-terminal item.
func (s *Store) SetAttachment(id, actorID, ref string) (Item, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return Item{}, apperr.Validation("attachment reference is required")
	}
	return s.mutate(id, actorID, func(it *Item) {
		it.Attachment = ref
	})
}

// Restore loads previously journaled items. Existing ids are left untouched.
func (s *Store) Restore(items []Item) {
	for _, it := range items {
		s.records.LoadOrStore(it.ID, &record{item: it})
	}
	s.logger.Info("items restored", "count", len(items))
}

func (s *Store) mutate(id, actorID string, apply func(*Item)) (Item, error) {
	rec, err := s.record(id)
	if err != nil {
		return Item{}, err
	}

	rec.mu.Lock()
	defer rec.mu.Unlock()

	it := rec.item
	if actorID == "" || actorID != it.OwnerID {
		return Item{}, apperr.Forbidden("only the owner can edit this item")
	}
	if it.Status.Terminal() {
		return Item{}, apperr.Closed("item is " + string(it.Status))
	}
	apply(&it)
	it.UpdatedAt = s.clock.Now().UTC()
	rec.item = it
	s.save(it)
	return it, nil
}

func (s *Store) checkClaim(it Item, claimantID string) error {
	s.obsMu.RLock()
	policy := s.claims
	s.obsMu.RUnlock()

	if claimantID == "" {
		if policy.RequireClaimant {
			return apperr.Validation("a claimant is required to mark an item claimed")
		}
		return nil
	}
	if claimantID == it.OwnerID {
		return apperr.Validation("the owner cannot claim their own item")
	}
	if policy.Verifier != nil && !policy.Verifier.HasThread(it.ID, claimantID) {
		return apperr.Forbidden("claimant has no conversation about this item")
	}
	return nil
}

func (s *Store) validateDetails(d Details) (Details, error) {
	d.Title = strings.TrimSpace(d.Title)
	d.Description = strings.TrimSpace(d.Description)
	d.Location = strings.TrimSpace(d.Location)

	switch {
	case d.Title == "":
		return d, apperr.Validation("title is required")
	case d.Description == "":
		return d, apperr.Validation("description is required")
	case d.Location == "":
		return d, apperr.Validation("location is required")
	}
	if s.limits.MaxTitleLength > 0 && utf8.RuneCountInString(d.Title) > s.limits.MaxTitleLength {
		return d, apperr.Validation("title exceeds %d characters", s.limits.MaxTitleLength)
	}
	if s.limits.MaxLocationLength > 0 && utf8.RuneCountInString(d.Location) > s.limits.MaxLocationLength {
		return d, apperr.Validation("location exceeds %d characters", s.limits.MaxLocationLength)
	}
	return d, nil
}

func (s *Store) record(id string) (*record, error) {
	v, ok := s.records.Load(id)
	if !ok {
		return nil, apperr.NotFound("item", id)
	}
	return v.(*record), nil
}

func (s *Store) notify(change StatusChange) {
	s.obsMu.RLock()
	observers := make([]Observer, len(s.observers))
	copy(observers, s.observers)
	s.obsMu.RUnlock()

	for _, o := range observers {
		o.ItemStatusChanged(change)
	}
}

func (s *Store) save(it Item) {
	if s.journal != nil {
		s.journal.SaveItem(it)
	}
}
