// Package dispatcher fans lifecycle events out to the registered consumer
// and the presentation collaborators, and parks them in the pending store
// while nobody is registered.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/config"
	"github.com/sweeney/callx-bridge/internal/pending"
)

// Consumer is the runtime that receives lifecycle events.
type Consumer interface {
	Deliver(ctx context.Context, ev call.Event) error
}

// ConsumerFunc adapts a function to Consumer.
type ConsumerFunc func(ctx context.Context, ev call.Event) error

func (f ConsumerFunc) Deliver(ctx context.Context, ev call.Event) error { return f(ctx, ev) }

// Presenter shows and dismisses the incoming-call surface.
type Presenter interface {
	Show(ctx context.Context, rec call.Record)
	Dismiss(ctx context.Context, rec call.Record)
}

// CallLogger writes finished calls to the phone's call history. Types are
// "incoming" and "missed".
type CallLogger interface {
	LogCall(ctx context.Context, rec call.Record, callType string)
}

// Replayer feeds a drained backlog through the state machine while live
// transitions are blocked.
type Replayer interface {
	Replay(ctx context.Context, attach func(context.Context) (pending.Backlog, error)) error
}

// Observer is notified of dispatcher outcomes, for metrics.
type Observer interface {
	Delivered(kind call.Kind)
	Parked(kind call.Kind)
	Replayed(slot string)
}

// Dispatcher holds at most one consumer. The last Register wins.
type Dispatcher struct {
	mu       sync.Mutex
	consumer Consumer

	store     pending.Store
	app       atomic.Pointer[config.AppFlags]
	presenter Presenter
	calls     CallLogger
	observer  Observer
	replayer  Replayer
	logger    *slog.Logger
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPresenter sets the incoming-call surface.
func WithPresenter(p Presenter) Option {
	return func(d *Dispatcher) { d.presenter = p }
}

// WithCallLogger sets the call-history writer.
func WithCallLogger(l CallLogger) Option {
	return func(d *Dispatcher) { d.calls = l }
}

// WithObserver sets the metrics observer.
func WithObserver(o Observer) Option {
	return func(d *Dispatcher) { d.observer = o }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *Dispatcher) { d.logger = l }
}

// New creates a Dispatcher parking events in store.
func New(store pending.Store, app config.AppFlags, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:  store,
		logger: slog.Default(),
	}
	d.app.Store(&app)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetAppFlags replaces the flags used for presentation and call history.
func (d *Dispatcher) SetAppFlags(app config.AppFlags) {
	d.app.Store(&app)
}

// SetReplayer attaches the state machine. It must be called before the
// first Register; the machine is built on top of the dispatcher, so it
// cannot be passed to New.
func (d *Dispatcher) SetReplayer(r Replayer) {
	d.replayer = r
}

// Register makes c the consumer. Both pending slots are drained and
// replayed, announcement first, before any live event reaches c.
func (d *Dispatcher) Register(ctx context.Context, c Consumer) error {
	attach := func(ctx context.Context) (pending.Backlog, error) {
		d.mu.Lock()
		if d.consumer != nil {
			d.logger.Info("replacing registered consumer")
		}
		d.consumer = c
		d.mu.Unlock()

		b, err := pending.Drain(ctx, d.store)
		if b.Announcement != nil {
			d.observe(func(o Observer) { o.Replayed(pending.SlotAnnouncement) })
		}
		if b.Action != nil {
			d.observe(func(o Observer) { o.Replayed(pending.SlotAction) })
		}
		if err != nil {
			return b, fmt.Errorf("draining pending events: %w", err)
		}
		return b, nil
	}

	if d.replayer != nil {
		return d.replayer.Replay(ctx, attach)
	}

	// Without a state machine the backlog is delivered as stored.
	b, err := attach(ctx)
	errs := []error{err}
	if b.Announcement != nil {
		errs = append(errs, d.Redeliver(ctx, call.Event{Kind: call.KindIncoming, Call: *b.Announcement}))
	}
	if b.Action != nil {
		errs = append(errs, d.Redeliver(ctx, *b.Action))
	}
	return errors.Join(errs...)
}

// Unregister clears the consumer slot. Later events are parked.
func (d *Dispatcher) Unregister() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.consumer = nil
}

// Registered reports whether a consumer is attached.
func (d *Dispatcher) Registered() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.consumer != nil
}

// Emit handles a live transition: presentation and call history first,
// then the consumer or the pending store.
func (d *Dispatcher) Emit(ctx context.Context, ev call.Event) error {
	d.present(ctx, ev)
	return d.Redeliver(ctx, ev)
}

// Redeliver sends ev to the consumer, or parks it when there is none or the
// consumer fails. Presentation is not touched.
func (d *Dispatcher) Redeliver(ctx context.Context, ev call.Event) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.consumer != nil {
		err := d.consumer.Deliver(ctx, ev)
		if err == nil {
			d.observe(func(o Observer) { o.Delivered(ev.Kind) })
			return nil
		}
		d.logger.Warn("consumer delivery failed, parking event",
			"event", ev.Kind, "call_id", ev.Call.CallID, "error", err)
		if perr := d.park(ctx, ev); perr != nil {
			return fmt.Errorf("delivering %s: %w (parking: %v)", ev.Kind, err, perr)
		}
		return fmt.Errorf("delivering %s: %w", ev.Kind, err)
	}

	return d.park(ctx, ev)
}

// PeekAnnouncement and PeekAction expose the parked events to the state
// machine.
func (d *Dispatcher) PeekAnnouncement(ctx context.Context) (call.Record, bool, error) {
	return d.store.PeekAnnouncement(ctx)
}

func (d *Dispatcher) PeekAction(ctx context.Context) (call.Event, bool, error) {
	return d.store.PeekAction(ctx)
}

func (d *Dispatcher) park(ctx context.Context, ev call.Event) error {
	if err := pending.Save(ctx, d.store, ev); err != nil {
		d.logger.Error("parking event", "event", ev.Kind, "call_id", ev.Call.CallID, "error", err)
		return err
	}
	d.observe(func(o Observer) { o.Parked(ev.Kind) })
	d.logger.Debug("event parked", "event", ev.Kind, "call_id", ev.Call.CallID)
	return nil
}

func (d *Dispatcher) present(ctx context.Context, ev call.Event) {
	if d.presenter != nil {
		if ev.Kind == call.KindIncoming {
			d.presenter.Show(ctx, ev.Call)
		} else {
			d.presenter.Dismiss(ctx, ev.Call)
		}
	}

	if d.calls == nil || !d.app.Load().EnabledLogPhoneCall {
		return
	}
	switch ev.Kind {
	case call.KindAnswered:
		d.calls.LogCall(ctx, ev.Call, "incoming")
	case call.KindDeclined, call.KindMissed:
		d.calls.LogCall(ctx, ev.Call, "missed")
	}
}

func (d *Dispatcher) observe(fn func(Observer)) {
	if d.observer != nil {
		fn(d.observer)
	}
}
