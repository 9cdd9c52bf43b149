// ABOUTME: Tests for the item store
// ABOUTME: Covers validation, ordering, lifecycle edges, claim policy and events

package item

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lostfound/internal/apperr"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu      sync.Mutex
	changes []StatusChange
}

func (o *recordingObserver) ItemStatusChanged(c StatusChange) {
	o.mu.Lock()
	o.changes = append(o.changes, c)
	o.mu.Unlock()
}

type stubVerifier map[string]bool

func (v stubVerifier) HasThread(itemID, counterpartyID string) bool {
	return v[itemID+"/"+counterpartyID]
}

type memJournal struct {
	mu    sync.Mutex
	saved []Item
}

func (j *memJournal) SaveItem(it Item) {
	j.mu.Lock()
	j.saved = append(j.saved, it)
	j.mu.Unlock()
}

func newTestStore(t *testing.T) (*Store, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClockAt(epoch)
	return NewStore(Options{Clock: clk}), clk
}

func report(kind Kind, title string) NewItem {
	return NewItem{
		Kind:        kind,
		Title:       title,
		Description: "left on the bench",
		Location:    "Central Park",
		OccurredAt:  epoch.Add(-time.Hour),
		OwnerID:     "u1",
	}
}

func TestCreateItem_StartsOpen(t *testing.T) {
	s, _ := newTestStore(t)

	it, err := s.CreateItem(report(KindLost, "  Black Wallet "))
	require.NoError(t, err)

	assert.NotEmpty(t, it.ID)
	assert.Equal(t, "Black Wallet", it.Title)
	assert.Equal(t, StatusOpen, it.Status)
	assert.Equal(t, "u1", it.OwnerID)
	assert.Equal(t, epoch, it.CreatedAt)

	got, err := s.GetItem(it.ID)
	require.NoError(t, err)
	assert.Equal(t, it, got)
}

func TestCreateItem_Validation(t *testing.T) {
	s, _ := newTestStore(t)

	tests := []struct {
		name   string
		modify func(*NewItem)
	}{
		{"empty title", func(n *NewItem) { n.Title = "  " }},
		{"empty description", func(n *NewItem) { n.Description = "" }},
		{"empty location", func(n *NewItem) { n.Location = "" }},
		{"location too long", func(n *NewItem) { n.Location = strings.Repeat("x", 201) }},
		{"title too long", func(n *NewItem) { n.Title = strings.Repeat("x", 121) }},
		{"unknown kind", func(n *NewItem) { n.Kind = "stolen" }},
		{"missing owner", func(n *NewItem) { n.OwnerID = "" }},
		{"future beyond skew", func(n *NewItem) { n.OccurredAt = epoch.Add(10 * time.Minute) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := report(KindLost, "Keys")
			tt.modify(&in)
			_, err := s.CreateItem(in)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrValidation), "got %v", err)
		})
	}
}

func TestCreateItem_FutureWithinSkewAccepted(t *testing.T) {
	s, _ := newTestStore(t)

	in := report(KindFound, "Keys")
	in.OccurredAt = epoch.Add(2 * time.Minute)
	_, err := s.CreateItem(in)
	require.NoError(t, err)
}

func TestCreateItem_ZeroOccurredAtDefaultsToNow(t *testing.T) {
	s, _ := newTestStore(t)

	in := report(KindFound, "Keys")
	in.OccurredAt = time.Time{}
	it, err := s.CreateItem(in)
	require.NoError(t, err)
	assert.Equal(t, epoch, it.OccurredAt)
}

func TestGetItem_NotFound(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetItem("missing")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestListItems_FilterByKind(t *testing.T) {
	s, _ := newTestStore(t)

	wallet, err := s.CreateItem(report(KindLost, "Black Wallet"))
	require.NoError(t, err)
	_, err = s.CreateItem(report(KindFound, "Car Keys"))
	require.NoError(t, err)

	lost := s.ListItems(Filter{Kind: KindLost})
	require.Len(t, lost, 1)
	assert.Equal(t, wallet.ID, lost[0].ID)

	for _, it := range s.ListItems(Filter{Kind: KindFound}) {
		assert.NotEqual(t, wallet.ID, it.ID)
	}
}

func TestListItems_OrderedByOccurredAtThenID(t *testing.T) {
	s, _ := newTestStore(t)

	older := report(KindLost, "older")
	older.OccurredAt = epoch.Add(-48 * time.Hour)
	_, err := s.CreateItem(older)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.CreateItem(report(KindLost, "tied"))
		require.NoError(t, err)
	}

	got := s.ListItems(Filter{})
	require.Len(t, got, 4)
	assert.Equal(t, "older", got[3].Title)

	for i := 0; i < 2; i++ {
		assert.Less(t, got[i].ID, got[i+1].ID)
	}
}

func TestListItems_FilterByStatusAndOwner(t *testing.T) {
	s, _ := newTestStore(t)

	a, _ := s.CreateItem(report(KindLost, "a"))
	other := report(KindLost, "b")
	other.OwnerID = "u2"
	_, _ = s.CreateItem(other)

	_, err := s.UpdateStatus(a.ID, "u1", StatusWithdrawn, "")
	require.NoError(t, err)

	assert.Len(t, s.ListItems(Filter{Status: StatusWithdrawn}), 1)
	assert.Len(t, s.ListItems(Filter{OwnerID: "u2"}), 1)
	assert.Empty(t, s.ListItems(Filter{OwnerID: "u2", Status: StatusWithdrawn}))
}

func TestUpdateStatus_OnlyAllowedEdges(t *testing.T) {
	all := []Status{StatusOpen, StatusClaimed, StatusResolved, StatusWithdrawn}
	allowed := map[[2]Status]bool{
		{StatusOpen, StatusClaimed}:      true,
		{StatusOpen, StatusWithdrawn}:    true,
		{StatusClaimed, StatusResolved}:  true,
		{StatusClaimed, StatusOpen}:      true,
		{StatusClaimed, StatusWithdrawn}: true,
	}

	// paths drive a fresh item into each starting status
	paths := map[Status][]Status{
		StatusOpen:      nil,
		StatusClaimed:   {StatusClaimed},
		StatusResolved:  {StatusClaimed, StatusResolved},
		StatusWithdrawn: {StatusWithdrawn},
	}

	for _, from := range all {
		for _, to := range all {
			s, _ := newTestStore(t)
			it, err := s.CreateItem(report(KindLost, "thing"))
			require.NoError(t, err)
			for _, step := range paths[from] {
				_, err := s.UpdateStatus(it.ID, "u1", step, "")
				require.NoError(t, err)
			}

			_, err = s.UpdateStatus(it.ID, "u1", to, "")
			if allowed[[2]Status{from, to}] {
				assert.NoError(t, err, "%s -> %s", from, to)
			} else {
				assert.True(t, errors.Is(err, apperr.ErrInvalidTransition), "%s -> %s: %v", from, to, err)
			}
		}
	}
}

func TestUpdateStatus_InvalidTransitionCarriesStates(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindLost, "thing"))

	_, err := s.UpdateStatus(it.ID, "u1", StatusResolved, "")
	var e *apperr.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, "open", e.Metadata["current"])
	assert.Equal(t, "resolved", e.Metadata["target"])
}

func TestUpdateStatus_NonOwnerForbidden(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindLost, "thing"))

	_, err := s.UpdateStatus(it.ID, "u2", StatusWithdrawn, "")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	got, _ := s.GetItem(it.ID)
	assert.Equal(t, StatusOpen, got.Status)
}

func TestUpdateStatus_UnknownStatus(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindLost, "thing"))

	_, err := s.UpdateStatus(it.ID, "u1", Status("lost-again"), "")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestUpdateStatus_ClaimantRecordedAndCleared(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindFound, "Car Keys"))

	claimed, err := s.UpdateStatus(it.ID, "u1", StatusClaimed, "u2")
	require.NoError(t, err)
	assert.Equal(t, "u2", claimed.ClaimantID)

	reopened, err := s.UpdateStatus(it.ID, "u1", StatusOpen, "")
	require.NoError(t, err)
	assert.Empty(t, reopened.ClaimantID)
}

func TestUpdateStatus_ClaimPolicy(t *testing.T) {
	clk := clockwork.NewFakeClockAt(epoch)
	s := NewStore(Options{Clock: clk, Claims: ClaimPolicy{RequireClaimant: true}})
	it, _ := s.CreateItem(report(KindFound, "Car Keys"))
	s.SetClaimVerifier(stubVerifier{it.ID + "/u2": true})

	_, err := s.UpdateStatus(it.ID, "u1", StatusClaimed, "")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "claimant required")

	_, err = s.UpdateStatus(it.ID, "u1", StatusClaimed, "u1")
	assert.True(t, errors.Is(err, apperr.ErrValidation), "owner cannot claim")

	_, err = s.UpdateStatus(it.ID, "u1", StatusClaimed, "u3")
	assert.True(t, errors.Is(err, apperr.ErrForbidden), "claimant without thread")

	got, err := s.UpdateStatus(it.ID, "u1", StatusClaimed, "u2")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, got.Status)
}

func TestUpdateStatus_EmitsLifecycleEvents(t *testing.T) {
	s, clk := newTestStore(t)
	obs := &recordingObserver{}
	s.Subscribe(obs)

	it, _ := s.CreateItem(report(KindLost, "thing"))
	clk.Advance(time.Minute)
	_, err := s.UpdateStatus(it.ID, "u1", StatusClaimed, "u2")
	require.NoError(t, err)
	_, err = s.UpdateStatus(it.ID, "u1", StatusResolved, "")
	require.NoError(t, err)

	require.Len(t, obs.changes, 2)
	assert.Equal(t, StatusOpen, obs.changes[0].From)
	assert.Equal(t, StatusClaimed, obs.changes[0].To)
	assert.Equal(t, "u2", obs.changes[0].ClaimantID)
	assert.Equal(t, epoch.Add(time.Minute), obs.changes[0].At)
	assert.Equal(t, StatusResolved, obs.changes[1].To)
}

func TestUpdateStatus_ConcurrentWithdrawOnlyOneWins(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindLost, "thing"))

	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.UpdateStatus(it.ID, "u1", StatusWithdrawn, ""); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, succeeded)
}

func TestUpdateDetails(t *testing.T) {
	s, clk := newTestStore(t)
	it, _ := s.CreateItem(report(KindLost, "thing"))
	clk.Advance(time.Hour)

	updated, err := s.UpdateDetails(it.ID, "u1", Details{Title: "Blue thing", Description: "d", Location: "Library"})
	require.NoError(t, err)
	assert.Equal(t, "Blue thing", updated.Title)
	assert.Equal(t, epoch.Add(time.Hour), updated.UpdatedAt)

	_, err = s.UpdateDetails(it.ID, "u2", Details{Title: "x", Description: "d", Location: "l"})
	assert.True(t, errors.Is(err, apperr.ErrForbidden))

	_, err = s.UpdateDetails(it.ID, "u1", Details{Title: "", Description: "d", Location: "l"})
	assert.True(t, errors.Is(err, apperr.ErrValidation))

	_, err = s.UpdateStatus(it.ID, "u1", StatusWithdrawn, "")
	require.NoError(t, err)
	_, err = s.UpdateDetails(it.ID, "u1", Details{Title: "x", Description: "d", Location: "l"})
	assert.True(t, errors.Is(err, apperr.ErrClosed))
}

func TestSetAttachment(t *testing.T) {
	s, _ := newTestStore(t)
	it, _ := s.CreateItem(report(KindFound, "Glasses"))

	got, err := s.SetAttachment(it.ID, "u1", "att_123")
	require.NoError(t, err)
	assert.Equal(t, "att_123", got.Attachment)

	_, err = s.SetAttachment(it.ID, "u1", " ")
	assert.True(t, errors.Is(err, apperr.ErrValidation))
}

func TestJournalReceivesCommittedStates(t *testing.T) {
	j := &memJournal{}
	s := NewStore(Options{Clock: clockwork.NewFakeClockAt(epoch), Journal: j})

	it, _ := s.CreateItem(report(KindLost, "thing"))
	_, err := s.UpdateStatus(it.ID, "u1", StatusWithdrawn, "")
	require.NoError(t, err)

	require.Len(t, j.saved, 2)
	assert.Equal(t, StatusOpen, j.saved[0].Status)
	assert.Equal(t, StatusWithdrawn, j.saved[1].Status)
}

func TestRestore(t *testing.T) {
	s, _ := newTestStore(t)
	s.Restore([]Item{{ID: "i1", Kind: KindLost, Title: "t", OwnerID: "u1", Status: StatusClaimed}})

	got, err := s.GetItem("i1")
	require.NoError(t, err)
	assert.Equal(t, StatusClaimed, got.Status)

	_, err = s.UpdateStatus("i1", "u1", StatusResolved, "")
	require.NoError(t, err)
}
