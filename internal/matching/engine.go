// ABOUTME: Composition root wiring the item store, thread registry, sequencer and responder
// ABOUTME: Subscriptions between components are made here and nowhere else

package matching

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/2389/lostfound/internal/events"
	"github.com/2389/lostfound/internal/item"
	"github.com/2389/lostfound/internal/message"
	"github.com/2389/lostfound/internal/responder"
	"github.com/2389/lostfound/internal/thread"
)

// Journal persists every committed record. All methods must return without waiting on I/O.
type Journal interface {
	item.Journal
	thread.Journal
	message.Journal
}

// ResponderOptions configures the automated responder.
type ResponderOptions struct {
	Enabled bool
	Delay   time.Duration
	Body    string
	Ledger  responder.Ledger
}

// EngineOptions configures NewEngine. Zero values select defaults.
type EngineOptions struct {
	Clock           clockwork.Clock
	Limits          item.Limits
	MaxBodyLength   int
	RequireClaimant bool
	Responder       ResponderOptions
	Journal         Journal
	Events          events.Publisher
	Logger          *slog.Logger
}

// Engine holds the wired components.
type Engine struct {
	Items     *item.Store
	Threads   *thread.Registry
	Messages  *message.Sequencer
	Responder *responder.Responder // nil when disabled
	Service   *Service

	logger *slog.Logger
}

// NewEngine builds and wires the engine.
func NewEngine(opts EngineOptions) *Engine {
	if opts.Clock == nil {
		opts.Clock = clockwork.NewRealClock()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	// Interfaces holding typed nils are not nil, so only pass set collaborators.
	var (
		itemJournal   item.Journal
		threadJournal thread.Journal
		msgJournal    message.Journal
	)
	if opts.Journal != nil {
		itemJournal, threadJournal, msgJournal = opts.Journal, opts.Journal, opts.Journal
	}

	items := item.NewStore(item.Options{
		Clock:   opts.Clock,
		Limits:  opts.Limits,
		Claims:  item.ClaimPolicy{RequireClaimant: opts.RequireClaimant},
		Journal: itemJournal,
		Logger:  opts.Logger,
	})
	threads := thread.NewRegistry(items, opts.Clock, threadJournal, opts.Logger)
	items.SetClaimVerifier(threads)
	items.Subscribe(threads)

	seq := message.NewSequencer(threads, message.Options{
		Clock:         opts.Clock,
		MaxBodyLength: opts.MaxBodyLength,
		Journal:       msgJournal,
		Events:        opts.Events,
		Logger:        opts.Logger,
	})

	if opts.Events != nil {
		items.Subscribe(events.NewLifecycle(opts.Events))
	}

	e := &Engine{
		Items:    items,
		Threads:  threads,
		Messages: seq,
		Service:  NewService(items, threads, seq, opts.Logger),
		logger:   opts.Logger.With("component", "engine"),
	}

	if opts.Responder.Enabled {
		e.Responder = responder.New(seq, threads, responder.Options{
			Clock:  opts.Clock,
			Delay:  opts.Responder.Delay,
			Body:   opts.Responder.Body,
			Ledger: opts.Responder.Ledger,
			Logger: opts.Logger,
		})
		items.Subscribe(e.Responder)
		seq.Subscribe(e.Responder)
	}
	return e
}

// Restore rehydrates the engine from journaled records. It must run before
// the engine serves requests.
func (e *Engine) Restore(items []item.Item, threads []thread.Thread, msgs []message.Message) {
	e.Items.Restore(items)

	statuses := make(map[string]item.Status, len(items))
	for _, it := range items {
		statuses[it.ID] = it.Status
	}
	e.Threads.Restore(threads, statuses)
	e.Messages.Restore(msgs)
}

// Run drives background work until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	if e.Responder == nil {
		e.logger.Info("responder disabled")
		<-ctx.Done()
		return ctx.Err()
	}
	return e.Responder.Run(ctx)
}
