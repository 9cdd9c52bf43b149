// ABOUTME: Persistence contract and shared errors for the lost-and-found journal
// ABOUTME: Defines the record writer interface and the snapshot loaded at startup

package store

import (
	"context"
	"errors"

	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// Writer persists committed engine records. Item writes are upserts; thread
// and message writes are idempotent inserts.
type Writer interface {
	SaveItem(ctx context.Context, it item.Item) error
	SaveThread(ctx context.Context, t thread.Thread) error
	SaveMessage(ctx context.Context, m message.Message) error
}

// Snapshot is everything needed to rehydrate the engine.
type Snapshot struct {
	Items    []item.Item
	Threads  []thread.Thread   // creation order
	Messages []message.Message // per thread, sequence order
}
