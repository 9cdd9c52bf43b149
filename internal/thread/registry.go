// ABOUTME: Thread registry mapping (item, counterparty) to exactly one conversation
// ABOUTME: Thread ids are derived, so concurrent first contacts collapse onto one record

package thread

import (
	"encoding/hex"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/crypto/blake2b"

	"github.com/2389/lostfound/internal/apperr"
	"github.com/2389/lostfound/internal/item"
)

// Thread is the conversation between an item's owner and one counterparty.
type Thread struct {
	ID             string    `json:"id"`
	ItemID         string    `json:"item_id"`
	CounterpartyID string    `json:"counterparty_id"`
	OwnerID        string    `json:"owner_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// IsParticipant reports whether userID is the owner or the counterparty.
func (t Thread) IsParticipant(userID string) bool {
	return userID != "" && (userID == t.OwnerID || userID == t.CounterpartyID)
}

// Other returns the participant that is not userID.
func (t Thread) Other(userID string) string {
	if userID == t.OwnerID {
		return t.CounterpartyID
	}
	return t.OwnerID
}

// DeriveID returns the thread id for an (item, counterparty) pair.
func DeriveID(itemID, counterpartyID string) string {
	sum := blake2b.Sum256([]byte(itemID + "\x00" + counterpartyID))
	return "thr_" + hex.EncodeToString(sum[:16])
}

// ItemSource is what the registry needs from the item store.
type ItemSource interface {
	GetItem(id string) (item.Item, error)
}

// Journal persists newly created threads. SaveThread must not block on I/O.
type Journal interface {
	SaveThread(t Thread)
}

type slot struct {
	mu       sync.Mutex
	thread   Thread
	writable bool
}

// itemIndex keeps the threads of one item in first-contact order.
type itemIndex struct {
	mu     sync.Mutex
	ids    []string
	closed item.Status // terminal status once the item is resolved or withdrawn
}

// Registry owns thread records.
type Registry struct {
	items   ItemSource
	clock   clockwork.Clock
	journal Journal
	logger  *slog.Logger

	slots sync.Map // thread id -> *slot
	index sync.Map // item id -> *itemIndex
}

// NewRegistry creates a registry backed by items. journal may be nil.
func NewRegistry(items ItemSource, clock clockwork.Clock, journal Journal, logger *slog.Logger) *Registry {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		items:   items,
		clock:   clock,
		journal: journal,
		logger:  logger.With("component", "threads"),
	}
}

// GetOrCreateThread returns the thread for (itemID, counterpartyID), creating it
// on first contact. Repeated and concurrent calls return the same thread.
func (r *Registry) GetOrCreateThread(itemID, counterpartyID string) (Thread, error) {
	counterpartyID = strings.TrimSpace(counterpartyID)
	if counterpartyID == "" {
		return Thread{}, apperr.Validation("counterparty is required")
	}

	it, err := r.items.GetItem(itemID)
	if err != nil {
		return Thread{}, err
	}
	if counterpartyID == it.OwnerID {
		return Thread{}, apperr.Forbidden("cannot open a conversation on your own item")
	}
	if it.Status == item.StatusWithdrawn {
		return Thread{}, apperr.Closed("item has been withdrawn")
	}

	id := DeriveID(itemID, counterpartyID)
	if v, ok := r.slots.Load(id); ok {
		return v.(*slot).thread, nil
	}

	idx := r.indexFor(itemID)
	idx.mu.Lock()
	// The item may have gone terminal between the lookup above and here.
	if idx.closed == item.StatusWithdrawn {
		idx.mu.Unlock()
		return Thread{}, apperr.Closed("item has been withdrawn")
	}
	fresh := &slot{
		thread: Thread{
			ID:             id,
			ItemID:         itemID,
			CounterpartyID: counterpartyID,
			OwnerID:        it.OwnerID,
			CreatedAt:      r.clock.Now().UTC(),
		},
		writable: idx.closed == "" && !it.Status.Terminal(),
	}
	actual, loaded := r.slots.LoadOrStore(id, fresh)
	if !loaded {
		idx.ids = append(idx.ids, id)
	}
	idx.mu.Unlock()

	t := actual.(*slot).thread
	if !loaded {
		if r.journal != nil {
			r.journal.SaveThread(t)
		}
		r.logger.Debug("thread created",
			"thread_id", t.ID,
			"item_id", t.ItemID,
			"counterparty_id", t.CounterpartyID)
	}
	return t, nil
}

// GetThread returns the thread with the given id.
func (r *Registry) GetThread(threadID string) (Thread, error) {
	v, ok := r.slots.Load(threadID)
	if !ok {
		return Thread{}, apperr.NotFound("thread", threadID)
	}
	return v.(*slot).thread, nil
}

// ListThreadsForItem returns the item's threads, first contact first.
func (r *Registry) ListThreadsForItem(itemID string) ([]Thread, error) {
	if _, err := r.items.GetItem(itemID); err != nil {
		return nil, err
	}
	v, ok := r.index.Load(itemID)
	if !ok {
		return []Thread{}, nil
	}
	idx := v.(*itemIndex)
	idx.mu.Lock()
	ids := make([]string, len(idx.ids))
	copy(ids, idx.ids)
	idx.mu.Unlock()

	out := make([]Thread, 0, len(ids))
	for _, id := range ids {
		if s, ok := r.slots.Load(id); ok {
			out = append(out, s.(*slot).thread)
		}
	}
	return out, nil
}

// HasThread reports whether counterpartyID has a thread on itemID.
func (r *Registry) HasThread(itemID, counterpartyID string) bool {
	_, ok := r.slots.Load(DeriveID(itemID, counterpartyID))
	return ok
}

// IsWritable reports whether new messages are accepted. It is false for unknown
// threads and for threads whose item is resolved or withdrawn.
func (r *Registry) IsWritable(threadID string) bool {
	v, ok := r.slots.Load(threadID)
	if !ok {
		return false
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writable
}

// Exclusive runs fn inside the thread's exclusive section. Writability cannot
// change while fn runs. fn must not block on I/O.
func (r *Registry) Exclusive(threadID string, fn func(t Thread, writable bool) error) error {
	v, ok := r.slots.Load(threadID)
	if !ok {
		return apperr.NotFound("thread", threadID)
	}
	s := v.(*slot)
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(s.thread, s.writable)
}

// ItemStatusChanged freezes every thread of an item that reached a terminal status.
func (r *Registry) ItemStatusChanged(change item.StatusChange) {
	if !change.To.Terminal() {
		return
	}

	idx := r.indexFor(change.ItemID)
	idx.mu.Lock()
	idx.closed = change.To
	ids := make([]string, len(idx.ids))
	copy(ids, idx.ids)
	idx.mu.Unlock()

	for _, id := range ids {
		v, ok := r.slots.Load(id)
		if !ok {
			continue
		}
		s := v.(*slot)
		s.mu.Lock()
		s.writable = false
		s.mu.Unlock()
	}

	r.logger.Info("threads frozen",
		"item_id", change.ItemID,
		"status", change.To,
		"threads", len(ids))
}

// Restore loads journaled threads. threads must be in creation order; statuses
// maps item ids to their current status. Every terminal item is marked closed,
// including items nobody has contacted yet.
func (r *Registry) Restore(threads []Thread, statuses map[string]item.Status) {
	for itemID, status := range statuses {
		if !status.Terminal() {
			continue
		}
		idx := r.indexFor(itemID)
		idx.mu.Lock()
		idx.closed = status
		idx.mu.Unlock()
	}
	for _, t := range threads {
		status := statuses[t.ItemID]
		idx := r.indexFor(t.ItemID)
		idx.mu.Lock()
		if status.Terminal() {
			idx.closed = status
		}
		s := &slot{thread: t, writable: !status.Terminal()}
		if _, loaded := r.slots.LoadOrStore(t.ID, s); !loaded {
			idx.ids = append(idx.ids, t.ID)
		}
		idx.mu.Unlock()
	}
	r.logger.Info("threads restored", "count", len(threads))
}

func (r *Registry) indexFor(itemID string) *itemIndex {
	v, _ := r.index.LoadOrStore(itemID, &itemIndex{})
	return v.(*itemIndex)
}
