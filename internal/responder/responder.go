// ABOUTME: Automated responder that answers a counterparty's first contact once per thread
// ABOUTME: Consumes delivered messages from a queue and sends delayed, cancelable replies

package responder

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/2389/lostfound/internal/dedupe"
	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/thread"
)

const (
	// DefaultDelay is how long the responder waits before replying.
	DefaultDelay = time.Second
	// DefaultBody is the automated reply text.
	DefaultBody = "Thanks for your message! I'll get back to you as soon as possible."

	action = "auto-reply"
)

// Messages is what the responder needs from the sequencer.
type Messages interface {
	SendAutomated(threadID, senderID, body string) (message.Message, error)
	HasSent(threadID, userID string) bool
}

// Threads reports whether a thread still accepts messages.
type Threads interface {
	IsWritable(threadID string) bool
}

// Ledger records one-shot actions. Claim returns false if already claimed.
type Ledger interface {
	Claim(key string) bool
}

// Options configures a Responder.
type Options struct {
	Clock  clockwork.Clock
	Delay  time.Duration
	Body   string
	Ledger Ledger
	Logger *slog.Logger
}

type job struct {
	thread thread.Thread
	msg    message.Message
}

type pendingReply struct {
	itemID string
	from   string
	timer  clockwork.Timer
}

// Responder sends at most one automated reply per thread, on behalf of the
// participant who has not yet written, after a fixed delay.
type Responder struct {
	messages Messages
	threads  Threads
	clock    clockwork.Clock
	delay    time.Duration
	body     string
	ledger   Ledger
	logger   *slog.Logger

	qmu   sync.Mutex
	queue []job
	wake  chan struct{}

	pmu     sync.Mutex
	pending map[string]*pendingReply // thread id -> scheduled reply
}

// New creates a responder. Call Run to start consuming.
func New(messages Messages, threads Threads, opts Options) *Responder {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Delay <= 0 {
		opts.Delay = DefaultDelay
	}
	if opts.Body == "" {
		opts.Body = DefaultBody
	}
	if opts.Ledger == nil {
		opts.Ledger = dedupe.New(opts.Clock, 0, 0)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Responder{
		messages: messages,
		threads:  threads,
		clock:    opts.Clock,
		delay:    opts.Delay,
		body:     opts.Body,
		ledger:   opts.Ledger,
		logger:   opts.Logger.With("component", "responder"),
		wake:     make(chan struct{}, 1),
		pending:  make(map[string]*pendingReply),
	}
}

// MessageDelivered enqueues a delivered message. It never blocks.
func (r *Responder) MessageDelivered(t thread.Thread, m message.Message) {
	if m.Automated {
		return
	}
	r.qmu.Lock()
	r.queue = append(r.queue, job{thread: t, msg: m})
	r.qmu.Unlock()

	select {
	case r.wake <- struct{}{}:
	default:
	}
}

// ItemStatusChanged cancels pending replies for items that reached a terminal status.
func (r *Responder) ItemStatusChanged(change item.StatusChange) {
	if !change.To.Terminal() {
		return
	}
	r.pmu.Lock()
	defer r.pmu.Unlock()
	for threadID, p := range r.pending {
		if p.itemID != change.ItemID {
			continue
		}
		p.timer.Stop()
		delete(r.pending, threadID)
		r.logger.Debug("auto-reply cancelled", "thread_id", threadID, "status", change.To)
	}
}

// Run consumes the queue until ctx is done. Pending replies are cancelled on return.
func (r *Responder) Run(ctx context.Context) error {
	r.logger.Info("responder started", "delay", r.delay)
	defer r.stopAll()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("responder stopped")
			return ctx.Err()
		case <-r.wake:
			for _, j := range r.drain() {
				r.consider(j)
			}
		}
	}
}

// Pending returns the number of scheduled replies.
func (r *Responder) Pending() int {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	return len(r.pending)
}

func (r *Responder) drain() []job {
	r.qmu.Lock()
	defer r.qmu.Unlock()
	jobs := r.queue
	r.queue = nil
	return jobs
}

// consider schedules a reply when the recipient of j has never written in the thread.
func (r *Responder) consider(j job) {
	threadID := j.thread.ID
	from := j.thread.Other(j.msg.SenderID)

	if r.messages.HasSent(threadID, from) {
		return
	}
	if !r.ledger.Claim(dedupe.Key(threadID, action)) {
		return
	}

	p := &pendingReply{itemID: j.thread.ItemID, from: from}
	r.pmu.Lock()
	p.timer = r.clock.AfterFunc(r.delay, func() { r.fire(threadID, p) })
	r.pending[threadID] = p
	r.pmu.Unlock()

	r.logger.Debug("auto-reply scheduled", "thread_id", threadID, "from", from, "delay", r.delay)
}

func (r *Responder) fire(threadID string, p *pendingReply) {
	r.pmu.Lock()
	if r.pending[threadID] != p {
		r.pmu.Unlock()
		return
	}
	delete(r.pending, threadID)
	r.pmu.Unlock()

	if !r.threads.IsWritable(threadID) {
		r.logger.Debug("auto-reply dropped, thread is read-only", "thread_id", threadID)
		return
	}
	if r.messages.HasSent(threadID, p.from) {
		r.logger.Debug("auto-reply dropped, participant already replied", "thread_id", threadID)
		return
	}
	if _, err := r.messages.SendAutomated(threadID, p.from, r.body); err != nil {
		r.logger.Warn("auto-reply failed", "thread_id", threadID, "error", err)
		return
	}
	r.logger.Info("auto-reply sent", "thread_id", threadID, "from", p.from)
}

func (r *Responder) stopAll() {
	r.pmu.Lock()
	defer r.pmu.Unlock()
	for threadID, p := range r.pending {
		p.timer.Stop()
		delete(r.pending, threadID)
	}
}
