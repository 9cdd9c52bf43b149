// ABOUTME: Tests for the message sequencer
// ABOUTME: Covers ordering, validation, read-only threads, observers and concurrency

package message

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
	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/thread"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type recordingObserver struct {
	mu   sync.Mutex
	seen []Message
}

func (o *recordingObserver) MessageDelivered(_ thread.Thread, m Message) {
	o.mu.Lock()
	o.seen = append(o.seen, m)
	o.mu.Unlock()
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *recordingPublisher) Publish(e events.Event) {
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
}

type memJournal struct {
	mu    sync.Mutex
	saved []Message
}

func (j *memJournal) SaveMessage(m Message) {
	j.mu.Lock()
	j.saved = append(j.saved, m)
	j.mu.Unlock()
}

type fixture struct {
	clock    *clockwork.FakeClock
	items    *item.Store
	threads  *thread.Registry
	seq      *Sequencer
	pub      *recordingPublisher
	journal  *memJournal
	itemID   string
	threadID string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clk := clockwork.NewFakeClockAt(epoch)
	items := item.NewStore(item.Options{Clock: clk})
	threads := thread.NewRegistry(items, clk, nil, nil)
	items.Subscribe(threads)

	pub := &recordingPublisher{}
	j := &memJournal{}
	seq := NewSequencer(threads, Options{Clock: clk, MaxBodyLength: 20, Journal: j, Events: pub})

	it, err := items.CreateItem(item.NewItem{
		Kind:        item.KindLost,
		Title:       "Keys",
		Description: "Ring of three keys",
		Location:    "Cafeteria",
		OwnerID:     "alice",
	})
	require.NoError(t, err)
	th, err := threads.GetOrCreateThread(it.ID, "bob")
	require.NoError(t, err)

	return &fixture{
		clock: clk, items: items, threads: threads, seq: seq,
		pub: pub, journal: j, itemID: it.ID, threadID: th.ID,
	}
}

func TestSend_AssignsSequenceAndTime(t *testing.T) {
	f := newFixture(t)

	m1, err := f.seq.Send(f.threadID, "bob", "Is this yours?")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	m2, err := f.seq.Send(f.threadID, "alice", "Yes!")
	require.NoError(t, err)

	assert.Equal(t, int64(1), m1.ID)
	assert.Equal(t, int64(2), m2.ID)
	assert.Equal(t, StateDelivered, m1.DeliveryState)
	assert.Equal(t, epoch, m1.SentAt)
	assert.Equal(t, epoch.Add(time.Second), m2.SentAt)

	history, err := f.seq.History(f.threadID, 0)
	require.NoError(t, err)
	assert.Equal(t, []Message{m1, m2}, history)
}

func TestSend_SentAtNeverGoesBackwards(t *testing.T) {
	f := newFixture(t)

	m1, err := f.seq.Send(f.threadID, "bob", "first")
	require.NoError(t, err)

	// Simulate a clock step backwards.
	f.seq.clock = clockwork.NewFakeClockAt(epoch.Add(-time.Hour))
	m2, err := f.seq.Send(f.threadID, "alice", "second")
	require.NoError(t, err)

	assert.False(t, m2.SentAt.Before(m1.SentAt))
}

func TestSend_Validation(t *testing.T) {
	f := newFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"empty", ""},
		{"whitespace only", " \t\n "},
		{"too long", strings.Repeat("x", 21)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.seq.Send(f.threadID, "bob", tt.body)
			assert.True(t, errors.Is(err, apperr.ErrValidation))
		})
	}

	_, err := f.seq.Send(f.threadID, "bob", strings.Repeat("é", 20))
	assert.NoError(t, err, "limit counts characters, not bytes")
}

func TestSend_UnknownThread(t *testing.T) {
	f := newFixture(t)
	_, err := f.seq.Send("thr_missing", "bob", "hello")
	assert.True(t, errors.Is(err, apperr.ErrNotFound))

	_, err = f.seq.History("thr_missing", 0)
	assert.True(t, errors.Is(err, apperr.ErrNotFound))
}

func TestSend_NonParticipantIsForbidden(t *testing.T) {
	f := newFixture(t)

	m, err := f.seq.Send(f.threadID, "mallory", "let me in")
	assert.True(t, errors.Is(err, apperr.ErrForbidden))
	assert.Equal(t, StateFailed, m.DeliveryState)
	assert.Zero(t, m.ID)

	history, err := f.seq.History(f.threadID, 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestSend_ClosedAfterTerminalStatus(t *testing.T) {
	f := newFixture(t)

	_, err := f.seq.Send(f.threadID, "bob", "before")
	require.NoError(t, err)

	_, err = f.items.UpdateStatus(f.itemID, "alice", item.StatusClaimed, "bob")
	require.NoError(t, err)
	_, err = f.items.UpdateStatus(f.itemID, "alice", item.StatusResolved, "")
	require.NoError(t, err)

	m, err := f.seq.Send(f.threadID, "bob", "after")
	assert.True(t, errors.Is(err, apperr.ErrClosed))
	assert.Equal(t, StateFailed, m.DeliveryState)

	history, err := f.seq.History(f.threadID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, "before", history[0].Body)
}

func TestHistory_Since(t *testing.T) {
	f := newFixture(t)
	for _, body := range []string{"a", "b", "c", "d"} {
		_, err := f.seq.Send(f.threadID, "bob", body)
		require.NoError(t, err)
	}

	got, err := f.seq.History(f.threadID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, int64(3), got[0].ID)
	assert.Equal(t, int64(4), got[1].ID)

	got, err = f.seq.History(f.threadID, 4)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = f.seq.History(f.threadID, -5)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestSend_NotifiesObserversPublishesAndJournals(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	f.seq.Subscribe(obs)

	m, err := f.seq.Send(f.threadID, "bob", "hello")
	require.NoError(t, err)

	assert.Equal(t, []Message{m}, obs.seen)
	assert.Equal(t, []Message{m}, f.journal.saved)
	require.Len(t, f.pub.events, 1)
	assert.Equal(t, events.KindMessagePosted, f.pub.events[0].Kind)
	assert.Equal(t, f.threadID, f.pub.events[0].ThreadID)
	assert.Equal(t, f.itemID, f.pub.events[0].ItemID)
}

func TestSend_ConcurrentSendersGetContiguousIDs(t *testing.T) {
	f := newFixture(t)
	obs := &recordingObserver{}
	f.seq.Subscribe(obs)

	const perSender = 50
	var wg sync.WaitGroup
	for _, sender := range []string{"alice", "bob"} {
		wg.Add(1)
		go func(sender string) {
			defer wg.Done()
			for range perSender {
				_, err := f.seq.Send(f.threadID, sender, "ping")
				assert.NoError(t, err)
			}
		}(sender)
	}
	wg.Wait()

	history, err := f.seq.History(f.threadID, 0)
	require.NoError(t, err)
	require.Len(t, history, 2*perSender)
	for i, m := range history {
		assert.Equal(t, int64(i+1), m.ID)
		if i > 0 {
			assert.False(t, m.SentAt.Before(history[i-1].SentAt))
		}
	}

	// Observers see messages in commit order.
	require.Len(t, obs.seen, 2*perSender)
	for i, m := range obs.seen {
		assert.Equal(t, int64(i+1), m.ID)
	}
}

func TestHasSent(t *testing.T) {
	f := newFixture(t)
	assert.False(t, f.seq.HasSent(f.threadID, "bob"))
	_, err := f.seq.Send(f.threadID, "bob", "hi")
	require.NoError(t, err)
	assert.True(t, f.seq.HasSent(f.threadID, "bob"))
	assert.False(t, f.seq.HasSent(f.threadID, "alice"))
}

func TestSendAutomated_MarksMessage(t *testing.T) {
	f := newFixture(t)
	m, err := f.seq.SendAutomated(f.threadID, "alice", "auto")
	require.NoError(t, err)
	assert.True(t, m.Automated)
}

func TestRestore_ContinuesSequence(t *testing.T) {
	f := newFixture(t)
	f.seq.Restore([]Message{
		{ID: 1, ThreadID: f.threadID, SenderID: "bob", Body: "one", SentAt: epoch, DeliveryState: StateDelivered},
		{ID: 2, ThreadID: f.threadID, SenderID: "alice", Body: "two", SentAt: epoch, DeliveryState: StateDelivered},
		{ID: 5, ThreadID: f.threadID, SenderID: "alice", Body: "gap", SentAt: epoch, DeliveryState: StateDelivered},
	})

	m, err := f.seq.Send(f.threadID, "bob", "three")
	require.NoError(t, err)
	assert.Equal(t, int64(3), m.ID)
}
