// ABOUTME: Message sequencer assigning per-thread sequence numbers and timestamps
// ABOUTME: Appends happen inside the thread's exclusive section and commit fully or not at all

package message

import (
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/jonboulle/clockwork"

	"github.com/2389/lostfound/internal/apperr"
	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/thread"
)

// DefaultMaxBodyLength bounds message bodies, in characters.
const DefaultMaxBodyLength = 2000

// DeliveryState tracks a message through the sequencer.
type DeliveryState string

const (
	StatePending   DeliveryState = "pending"
	StateDelivered DeliveryState = "delivered"
	StateFailed    DeliveryState = "failed"
)

// Message is one entry of a thread's append-only log. ID is the per-thread
// sequence number, starting at 1.
type Message struct {
	ID            int64         `json:"id"`
	ThreadID      string        `json:"thread_id"`
	SenderID      string        `json:"sender_id"`
	Body          string        `json:"body"`
	SentAt        time.Time     `json:"sent_at"`
	DeliveryState DeliveryState `json:"delivery_state"`
	Automated     bool          `json:"automated,omitempty"`
}

// Threads is what the sequencer needs from the thread registry.
type Threads interface {
	GetThread(threadID string) (thread.Thread, error)
	Exclusive(threadID string, fn func(t thread.Thread, writable bool) error) error
}

// Observer is notified of each delivered message, in commit order per thread.
// It runs inside the thread's exclusive section and must only enqueue work.
type Observer interface {
	MessageDelivered(t thread.Thread, m Message)
}

// Journal persists delivered messages. SaveMessage must not block on I/O.
type Journal interface {
	SaveMessage(m Message)
}

// Options configures a Sequencer.
type Options struct {
	Clock         clockwork.Clock
	MaxBodyLength int
	Journal       Journal
	Events        events.Publisher
	Logger        *slog.Logger
}

type threadLog struct {
	mu   sync.RWMutex
	msgs []Message
}

// Sequencer owns every thread's message log.
type Sequencer struct {
	threads Threads
	logs    sync.Map // thread id -> *threadLog

	clock   clockwork.Clock
	maxBody int
	journal Journal
	events  events.Publisher
	logger  *slog.Logger

	obsMu     sync.RWMutex
	observers []Observer
}

// NewSequencer creates a sequencer over the given thread registry.
func NewSequencer(threads Threads, opts Options) *Sequencer {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.MaxBodyLength <= 0 {
		opts.MaxBodyLength = DefaultMaxBodyLength
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Sequencer{
		threads: threads,
		clock:   opts.Clock,
		maxBody: opts.MaxBodyLength,
		journal: opts.Journal,
		events:  opts.Events,
		logger:  opts.Logger.With("component", "sequencer"),
	}
}

// Subscribe registers an observer of delivered messages.
func (s *Sequencer) Subscribe(o Observer) {
	s.obsMu.Lock()
	s.observers = append(s.observers, o)
	s.obsMu.Unlock()
}

// Send appends a message from senderID to the thread. Rejections for
// non-participants and read-only threads also return the message marked failed.
func (s *Sequencer) Send(threadID, senderID, body string) (Message, error) {
	return s.send(threadID, senderID, body, false)
}

// SendAutomated is Send for messages produced by the engine on a participant's behalf.
func (s *Sequencer) SendAutomated(threadID, senderID, body string) (Message, error) {
	return s.send(threadID, senderID, body, true)
}

func (s *Sequencer) send(threadID, senderID, body string, automated bool) (Message, error) {
	th, err := s.threads.GetThread(threadID)
	if err != nil {
		return Message{}, err
	}

	msg := Message{
		ThreadID:      threadID,
		SenderID:      senderID,
		Body:          body,
		DeliveryState: StatePending,
		Automated:     automated,
	}
	if !th.IsParticipant(senderID) {
		return s.failed(msg), apperr.Forbidden("sender is not a participant in this thread")
	}
	if strings.TrimSpace(body) == "" {
		return Message{}, apperr.Validation("message body is required")
	}
	if utf8.RuneCountInString(body) > s.maxBody {
		return Message{}, apperr.Validation("message body exceeds %d characters", s.maxBody)
	}

	err = s.threads.Exclusive(threadID, func(th thread.Thread, writable bool) error {
		if !writable {
			return apperr.Closed("thread is read-only")
		}
		msg = s.commit(th, msg)
		return nil
	})
	if err != nil {
		if apperr.CodeOf(err) == apperr.CodeClosed {
			return s.failed(msg), err
		}
		return Message{}, err
	}
	return msg, nil
}

// commit runs inside the thread's exclusive section.
func (s *Sequencer) commit(th thread.Thread, msg Message) Message {
	lg := s.logFor(th.ID)

	lg.mu.Lock()
	now := s.clock.Now().UTC()
	if n := len(lg.msgs); n > 0 && now.Before(lg.msgs[n-1].SentAt) {
		now = lg.msgs[n-1].SentAt
	}
	msg.ID = int64(len(lg.msgs)) + 1
	msg.SentAt = now
	msg.DeliveryState = StateDelivered
	lg.msgs = append(lg.msgs, msg)
	lg.mu.Unlock()

	if s.journal != nil {
		s.journal.SaveMessage(msg)
	}
	if s.events != nil {
		s.events.Publish(events.New(events.KindMessagePosted, th.ItemID, th.ID, msg.SentAt, msg))
	}

	s.obsMu.RLock()
	observers := s.observers
	s.obsMu.RUnlock()
	for _, o := range observers {
		o.MessageDelivered(th, msg)
	}

	s.logger.Debug("message delivered",
		"thread_id", th.ID,
		"seq", msg.ID,
		"sender_id", msg.SenderID,
		"automated", msg.Automated)
	return msg
}

func (s *Sequencer) failed(msg Message) Message {
	msg.SentAt = s.clock.Now().UTC()
	msg.DeliveryState = StateFailed
	s.logger.Debug("message rejected", "thread_id", msg.ThreadID, "sender_id", msg.SenderID)
	return msg
}

// History returns the thread's messages with id greater than since, ascending.
func (s *Sequencer) History(threadID string, since int64) ([]Message, error) {
	if _, err := s.threads.GetThread(threadID); err != nil {
		return nil, err
	}
	v, ok := s.logs.Load(threadID)
	if !ok {
		return []Message{}, nil
	}
	lg := v.(*threadLog)
	lg.mu.RLock()
	defer lg.mu.RUnlock()

	if since < 0 {
		since = 0
	}
	if since >= int64(len(lg.msgs)) {
		return []Message{}, nil
	}
	out := make([]Message, len(lg.msgs)-int(since))
	copy(out, lg.msgs[since:])
	return out, nil
}

// HasSent reports whether userID has any message in the thread.
func (s *Sequencer) HasSent(threadID, userID string) bool {
	v, ok := s.logs.Load(threadID)
	if !ok {
		return false
	}
	lg := v.(*threadLog)
	lg.mu.RLock()
	defer lg.mu.RUnlock()
	for _, m := range lg.msgs {
		if m.SenderID == userID {
			return true
		}
	}
	return false
}

// Restore loads journaled messages. Each thread's messages must be in sequence
// order; messages that would leave a gap are skipped.
func (s *Sequencer) Restore(msgs []Message) {
	skipped := 0
	for _, m := range msgs {
		lg := s.logFor(m.ThreadID)
		lg.mu.Lock()
		if m.ID == int64(len(lg.msgs))+1 {
			lg.msgs = append(lg.msgs, m)
		} else {
			skipped++
		}
		lg.mu.Unlock()
	}
	if skipped > 0 {
		s.logger.Warn("skipped out-of-sequence messages during restore", "count", skipped)
	}
	s.logger.Info("messages restored", "count", len(msgs)-skipped)
}

func (s *Sequencer) logFor(threadID string) *threadLog {
	v, _ := s.logs.LoadOrStore(threadID, &threadLog{})
	return v.(*threadLog)
}
