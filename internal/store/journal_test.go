// ABOUTME: Tests for the write-behind journal
// ABOUTME: Verifies commit-order writes, flush on shutdown and failure accounting

package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

type recordingWriter struct {
	mu    sync.Mutex
	order []string
	fail  bool
}

func (w *recordingWriter) note(s string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fail {
		return errors.New("disk full")
	}
	w.order = append(w.order, s)
	return nil
}

func (w *recordingWriter) SaveItem(_ context.Context, it item.Item) error {
	return w.note("item:" + it.ID)
}

func (w *recordingWriter) SaveThread(_ context.Context, t thread.Thread) error {
	return w.note("thread:" + t.ID)
}

func (w *recordingWriter) SaveMessage(_ context.Context, m message.Message) error {
	return w.note("message:" + m.ThreadID)
}

func startJournal(t *testing.T, w Writer) (*Journal, context.CancelFunc, <-chan struct{}) {
	t.Helper()
	j := NewJournal(w, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = j.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return j, cancel, done
}

func TestJournal_WritesInCommitOrder(t *testing.T) {
	w := &recordingWriter{}
	j, _, _ := startJournal(t, w)

	j.SaveItem(item.Item{ID: "i1"})
	j.SaveThread(thread.Thread{ID: "t1"})
	j.SaveMessage(message.Message{ThreadID: "t1", ID: 1})
	j.SaveItem(item.Item{ID: "i1"})
	j.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Equal(t, []string{"item:i1", "thread:t1", "message:t1", "item:i1"}, w.order)
	assert.Equal(t, 0, j.Pending())
}

func TestJournal_FlushesOnShutdown(t *testing.T) {
	w := &recordingWriter{}
	j := NewJournal(w, nil)

	for range 10 {
		j.SaveItem(item.Item{ID: "i"})
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := j.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	w.mu.Lock()
	defer w.mu.Unlock()
	assert.Len(t, w.order, 10)
}

func TestJournal_CountsFailures(t *testing.T) {
	w := &recordingWriter{fail: true}
	j, _, _ := startJournal(t, w)

	j.SaveItem(item.Item{ID: "i1"})
	j.SaveThread(thread.Thread{ID: "t1"})
	j.Wait()

	assert.Equal(t, 2, j.Failures())
}

func TestJournal_WithSQLite(t *testing.T) {
	s := newTestStore(t)
	j, _, _ := startJournal(t, s)

	it := sampleItem("item-1")
	th := thread.Thread{ID: thread.DeriveID(it.ID, "bob"), ItemID: it.ID, CounterpartyID: "bob", OwnerID: "alice", CreatedAt: epoch}
	m := message.Message{ID: 1, ThreadID: th.ID, SenderID: "bob", Body: "hello", SentAt: epoch, DeliveryState: message.StateDelivered}

	j.SaveItem(it)
	j.SaveThread(th)
	j.SaveMessage(m)

	require.Eventually(t, func() bool {
		snap, err := s.Load(context.Background())
		return err == nil && len(snap.Messages) == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 0, j.Failures())
}
