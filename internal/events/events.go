// ABOUTME: Engine events and the in-memory fan-out broadcaster for them
// ABOUTME: Subscribers register per topic (thread id or item id) and never block publishers

package events

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const subscriberBufferSize = 64

// Kind identifies an event.
type Kind string

const (
	KindMessagePosted     Kind = "message.posted"
	KindItemStatusChanged Kind = "item.status_changed"
)

// Event is a committed change in the engine.
type Event struct {
	ID       string    `json:"id"`
	Kind     Kind      `json:"kind"`
	ItemID   string    `json:"item_id,omitempty"`
	ThreadID string    `json:"thread_id,omitempty"`
	At       time.Time `json:"at"`
	Payload  any       `json:"payload,omitempty"`
}

// New builds an event with a fresh id.
func New(kind Kind, itemID, threadID string, at time.Time, payload any) Event {
	return Event{
		ID:       uuid.NewString(),
		Kind:     kind,
		ItemID:   itemID,
		ThreadID: threadID,
		At:       at,
		Payload:  payload,
	}
}

// Topic returns the key subscribers use: the thread id when present,
// otherwise the item id.
func (e Event) Topic() string {
	if e.ThreadID != "" {
		return e.ThreadID
	}
	return e.ItemID
}

// Publisher accepts events. Publish must not block.
type Publisher interface {
	Publish(e Event)
}

// Mirror forwards events to an external bus.
type Mirror interface {
	Mirror(ctx context.Context, e Event) error
}

// Broadcaster provides in-memory pub/sub keyed by topic, optionally mirroring
// every event to an external bus from a background goroutine.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[string]map[string]chan Event // topic -> subID -> ch
	closed      bool
	logger      *slog.Logger

	mirror   Mirror
	mirrorCh chan Event
	done     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Broadcaster.
type Option func(*Broadcaster)

// WithMirror forwards each published event to m. Events are queued up to
// buffer deep and dropped when the queue is full.
func WithMirror(m Mirror, buffer int) Option {
	return func(b *Broadcaster) {
		if buffer <= 0 {
			buffer = 256
		}
		b.mirror = m
		b.mirrorCh = make(chan Event, buffer)
	}
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger, opts ...Option) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &Broadcaster{
		subscribers: make(map[string]map[string]chan Event),
		logger:      logger.With("component", "events"),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.mirror != nil {
		b.wg.Add(1)
		go b.forward()
	}
	return b
}

// Subscribe registers for events on topic. The subscription ends when ctx is
// cancelled or Unsubscribe is called; the channel is then closed.
func (b *Broadcaster) Subscribe(ctx context.Context, topic string) (<-chan Event, string) {
	subID := uuid.NewString()
	ch := make(chan Event, subscriberBufferSize)

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if _, ok := b.subscribers[topic]; !ok {
		b.subscribers[topic] = make(map[string]chan Event)
	}
	b.subscribers[topic][subID] = ch
	b.mu.Unlock()

	b.logger.Debug("subscriber added", "topic", topic, "sub_id", subID)

	go func() {
		<-ctx.Done()
		b.Unsubscribe(topic, subID)
	}()

	return ch, subID
}

// Publish delivers e to the subscribers of its topic. Non-blocking: events are
// dropped for subscribers whose buffers are full.
func (b *Broadcaster) Publish(e Event) {
	topic := e.Topic()

	// Sends happen under the read lock so Unsubscribe cannot close a channel
	// mid-send. Every send is non-blocking.
	b.mu.RLock()
	for _, ch := range b.subscribers[topic] {
		select {
		case ch <- e:
		default:
			b.logger.Debug("dropped event for slow subscriber",
				"topic", topic,
				"event_id", e.ID)
		}
	}
	closed := b.closed
	b.mu.RUnlock()

	if b.mirror == nil || closed {
		return
	}
	select {
	case b.mirrorCh <- e:
	default:
		b.logger.Warn("mirror queue full, dropping event", "event_id", e.ID, "kind", e.Kind)
	}
}

// Unsubscribe removes a subscription and closes its channel.
func (b *Broadcaster) Unsubscribe(topic, subID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs, ok := b.subscribers[topic]
	if !ok {
		return
	}
	ch, exists := subs[subID]
	if !exists {
		return
	}
	delete(subs, subID)
	close(ch)
	if len(subs) == 0 {
		delete(b.subscribers, topic)
	}

	b.logger.Debug("subscriber removed", "topic", topic, "sub_id", subID)
}

// Subscribers returns the number of live subscriptions on topic.
func (b *Broadcaster) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers[topic])
}

// Close closes every subscription and drains the mirror queue.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	for topic, subs := range b.subscribers {
		for subID, ch := range subs {
			close(ch)
			delete(subs, subID)
		}
		delete(b.subscribers, topic)
	}
	b.mu.Unlock()

	close(b.done)
	b.wg.Wait()
	b.logger.Debug("broadcaster closed")
}

func (b *Broadcaster) forward() {
	defer b.wg.Done()
	for {
		select {
		case e := <-b.mirrorCh:
			b.send(e)
		case <-b.done:
			for {
				select {
				case e := <-b.mirrorCh:
					b.send(e)
				default:
					return
				}
			}
		}
	}
}

func (b *Broadcaster) send(e Event) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := b.mirror.Mirror(ctx, e); err != nil {
		b.logger.Warn("failed to mirror event", "event_id", e.ID, "kind", e.Kind, "error", err)
	}
}
