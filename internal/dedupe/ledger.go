// ABOUTME: Idempotency ledger recording which one-shot actions have been claimed
// ABOUTME: Entries expire after a TTL and the oldest entry is evicted at capacity

package dedupe

import (
	"container/list"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Key builds the ledger key for an action performed once per scope,
// e.g. Key(threadID, "auto-reply").
func Key(scope, action string) string {
	return scope + "|" + action
}

type entry struct {
	markedAt time.Time
	element  *list.Element
}

// Ledger is a size-bounded, TTL-based set of claimed keys.
type Ledger struct {
	mu      sync.Mutex
	seen    map[string]*entry
	order   *list.List // oldest at front
	ttl     time.Duration
	maxSize int
	clock   clockwork.Clock

	done   chan struct{}
	closed bool
}

// New creates a ledger and starts its sweeper. A zero ttl means entries never
// expire; a non-positive maxSize means no size bound.
func New(clock clockwork.Clock, ttl time.Duration, maxSize int) *Ledger {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	l := &Ledger{
		seen:    make(map[string]*entry),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		clock:   clock,
		done:    make(chan struct{}),
	}
	if ttl > 0 {
		go l.sweep()
	}
	return l
}

// Seen reports whether key is currently claimed.
func (l *Ledger) Seen(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.seen[key]
	return ok && l.live(e)
}

// Claim records key and reports whether this call was first. A false result
// means the key was already claimed and the action must be skipped.
func (l *Ledger) Claim(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if e, ok := l.seen[key]; ok {
		if l.live(e) {
			return false
		}
		l.order.Remove(e.element)
		delete(l.seen, key)
	}

	if l.maxSize > 0 && len(l.seen) >= l.maxSize {
		l.evictOldest()
	}
	l.seen[key] = &entry{
		markedAt: l.clock.Now(),
		element:  l.order.PushBack(key),
	}
	return true
}

// Len returns the number of entries, expired ones included until swept.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.seen)
}

// Close stops the sweeper. Safe to call more than once.
func (l *Ledger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		close(l.done)
		l.closed = true
	}
}

func (l *Ledger) live(e *entry) bool {
	return l.ttl <= 0 || l.clock.Since(e.markedAt) < l.ttl
}

// Must be called with mu held.
func (l *Ledger) evictOldest() {
	front := l.order.Front()
	if front == nil {
		return
	}
	key, _ := front.Value.(string)
	l.order.Remove(front)
	delete(l.seen, key)
}

func (l *Ledger) sweep() {
	interval := l.ttl
	if interval > time.Minute {
		interval = time.Minute
	}
	ticker := l.clock.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			l.expire()
		case <-l.done:
			return
		}
	}
}

func (l *Ledger) expire() {
	l.mu.Lock()
	defer l.mu.Unlock()
	// Entries are in claim order, so stop at the first live one.
	for front := l.order.Front(); front != nil; front = l.order.Front() {
		key, _ := front.Value.(string)
		if l.live(l.seen[key]) {
			return
		}
		l.order.Remove(front)
		delete(l.seen, key)
	}
}
