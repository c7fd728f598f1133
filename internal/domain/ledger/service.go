package ledger

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// Observer records the outcome of every ledger command.
type Observer interface {
	ObserveCommand(op, outcome string, elapsed time.Duration)
}

// Ledger is the single authority over registry, medicine and request state.
// Commands are serialized: each runs to completion inside one store
// transaction before the next begins.
type Ledger struct {
	// sem holds one token while a command runs. A channel lets waiters
	// give up when their context ends.
	sem        chan struct{}
	store      Store
	owner      string
	now        func() time.Time
	logger     zerolog.Logger
	publishers []Publisher
	observer   Observer
}

type Option func(*Ledger)

// WithClock overrides the time source used for stage timestamps and expiry.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

func WithLogger(logger zerolog.Logger) Option {
	return func(l *Ledger) { l.logger = logger }
}

// WithPublisher adds a receiver for committed events.
func WithPublisher(p Publisher) Option {
	return func(l *Ledger) { l.publishers = append(l.publishers, p) }
}

func WithObserver(o Observer) Option {
	return func(l *Ledger) { l.observer = o }
}

// New creates a Ledger over store, administered by the owner account.
func New(store Store, owner string, opts ...Option) *Ledger {
	l := &Ledger{
		sem:    make(chan struct{}, 1),
		store:  store,
		owner:  NormalizeAccount(owner),
		now:    time.Now,
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// NormalizeAccount canonicalizes an account identity. Addresses compare
// case-insensitively.
func NormalizeAccount(account string) string {
	return strings.ToLower(strings.TrimSpace(account))
}

// Owner returns the administering account.
func (l *Ledger) Owner() string {
	return l.owner
}

func (l *Ledger) isOwner(caller string) bool {
	return l.owner != "" && NormalizeAccount(caller) == l.owner
}

// op is the state visible to one command while it runs.
type op struct {
	tx     Tx
	now    time.Time
	events []Event
}

func (o *op) emit(e Event) {
	o.events = append(o.events, e)
}

func (l *Ledger) exec(ctx context.Context, name string, medicineID int64, fn func(ctx context.Context, o *op) error) error {
	start := time.Now()
	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		err := ctx.Err()
		l.observe(name, err, start)
		l.logger.Warn().Err(err).Str("op", name).Int64("medicine_id", medicineID).Msg("ledger command abandoned while queued")
		return err
	}
	defer func() { <-l.sem }()

	var committed []Event
	err := l.store.Update(ctx, func(tx Tx) error {
		o := &op{tx: tx, now: l.now().UTC().Truncate(time.Second)}
		if err := fn(ctx, o); err != nil {
			return err
		}
		committed = o.events
		return nil
	})
	l.observe(name, err, start)

	if err != nil {
		evt := l.logger.Error()
		if IsRejection(err) {
			evt = l.logger.Debug().Str("kind", Kind(err))
		}
		evt.Err(err).Str("op", name).Int64("medicine_id", medicineID).Msg("ledger command rejected")
		return err
	}

	l.logger.Info().Str("op", name).Int64("medicine_id", medicineID).Int("events", len(committed)).Msg("ledger command committed")
	// The commit stands even if the caller has gone away.
	l.publish(context.WithoutCancel(ctx), committed)
	return nil
}

func (l *Ledger) view(ctx context.Context, name string, fn func(ctx context.Context, tx Tx) error) error {
	start := time.Now()
	err := l.store.View(ctx, func(tx Tx) error { return fn(ctx, tx) })
	l.observe(name, err, start)
	return err
}

func (l *Ledger) observe(name string, err error, start time.Time) {
	if l.observer == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = Kind(err)
		if outcome == "" {
			outcome = "error"
		}
	}
	l.observer.ObserveCommand(name, outcome, time.Since(start))
}

func (l *Ledger) publish(ctx context.Context, events []Event) {
	if len(events) == 0 {
		return
	}
	for _, p := range l.publishers {
		if err := p.Publish(ctx, events); err != nil {
			l.logger.Error().Err(err).Str("event", string(events[0].Type)).Msg("publish ledger events")
		}
	}
}
