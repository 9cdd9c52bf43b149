// ABOUTME: Asynchronous write-behind journal between the in-memory engine and SQLite
// ABOUTME: Engine commits enqueue records; a single writer drains them in commit order

package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

type record struct {
	item    *item.Item
	thread  *thread.Thread
	message *message.Message
}

// Journal queues engine records and writes them in order from Run. Its Save
// methods never block on I/O, so they are safe to call inside engine locks.
type Journal struct {
	w      Writer
	logger *slog.Logger

	mu       sync.Mutex
	idle     *sync.Cond // signalled as records are handled
	queue    []record
	wake     chan struct{}
	queued   int
	handled  int
	failures int
}

// NewJournal creates a journal writing to w.
func NewJournal(w Writer, logger *slog.Logger) *Journal {
	if logger == nil {
		logger = slog.Default()
	}
	j := &Journal{
		w:      w,
		logger: logger.With("component", "journal"),
		wake:   make(chan struct{}, 1),
	}
	j.idle = sync.NewCond(&j.mu)
	return j
}

// SaveItem queues an item state.
func (j *Journal) SaveItem(it item.Item) { j.enqueue(record{item: &it}) }

// SaveThread queues a new thread.
func (j *Journal) SaveThread(t thread.Thread) { j.enqueue(record{thread: &t}) }

// SaveMessage queues a delivered message.
func (j *Journal) SaveMessage(m message.Message) { j.enqueue(record{message: &m}) }

func (j *Journal) enqueue(r record) {
	j.mu.Lock()
	j.queue = append(j.queue, r)
	j.queued++
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

// Pending returns the number of queued records not yet picked up by the writer.
func (j *Journal) Pending() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.queue)
}

// Failures returns the number of records that could not be written.
func (j *Journal) Failures() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.failures
}

// Run writes queued records until ctx is done, then flushes what is left.
func (j *Journal) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			j.writeAll(flushCtx)
			cancel()
			return ctx.Err()
		case <-j.wake:
			j.writeAll(ctx)
		}
	}
}

// Wait blocks until every record queued so far has been handled by Run.
func (j *Journal) Wait() {
	j.mu.Lock()
	defer j.mu.Unlock()
	target := j.queued
	for j.handled < target {
		j.idle.Wait()
	}
}

func (j *Journal) writeAll(ctx context.Context) {
	for {
		j.mu.Lock()
		batch := j.queue
		j.queue = nil
		j.mu.Unlock()

		if len(batch) == 0 {
			return
		}
		for _, r := range batch {
			err := j.write(ctx, r)
			if err != nil {
				j.logger.Error("failed to journal record", "error", err)
			}
			j.mu.Lock()
			j.handled++
			if err != nil {
				j.failures++
			}
			j.idle.Broadcast()
			j.mu.Unlock()
		}
	}
}

func (j *Journal) write(ctx context.Context, r record) error {
	switch {
	case r.item != nil:
		return j.w.SaveItem(ctx, *r.item)
	case r.thread != nil:
		return j.w.SaveThread(ctx, *r.thread)
	case r.message != nil:
		return j.w.SaveMessage(ctx, *r.message)
	}
	return nil
}
