// Package lifecycle owns the state of the single active call.
//
// A call moves idle -> ringing -> terminated, and terminated falls straight
// back to idle. Every stimulus, remote push or local user action, is checked
// against the ringing call's id; anything naming another call is stale and
// leaves the state untouched.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/looplab/fsm"

	"github.com/sweeney/callx-bridge/internal/call"
	"github.com/sweeney/callx-bridge/internal/pending"
)

// State is the machine's position.
type State string

const (
	StateIdle       State = "idle"
	StateRinging    State = "ringing"
	StateTerminated State = "terminated"
)

const eventReset = "reset"

// Emitter receives every applied transition. Redeliver is used during replay
// for events whose side effects already ran when they were first produced.
type Emitter interface {
	Emit(ctx context.Context, ev call.Event) error
	Redeliver(ctx context.Context, ev call.Event) error
}

// PendingPeeker is implemented by emitters that can see events still
// waiting for a consumer.
type PendingPeeker interface {
	PeekAnnouncement(ctx context.Context) (call.Record, bool, error)
	PeekAction(ctx context.Context) (call.Event, bool, error)
}

// Machine serializes all transitions behind one mutex.
type Machine struct {
	mu     sync.Mutex
	fsm    *fsm.FSM
	active *call.Record
	emit   Emitter
	logger *slog.Logger

	// settled is the id of the last call that reached a terminal event.
	settled string
}

// Option configures a Machine.
type Option func(*Machine)

// WithLogger sets the logger used for rejected and stale transitions.
func WithLogger(l *slog.Logger) Option {
	return func(m *Machine) { m.logger = l }
}

// New creates an idle Machine emitting to e.
func New(e Emitter, opts ...Option) *Machine {
	m := &Machine{
		emit:   e,
		logger: slog.Default(),
		fsm: fsm.NewFSM(
			string(StateIdle),
			fsm.Events{
				{Name: string(call.KindIncoming), Src: []string{string(StateIdle)}, Dst: string(StateRinging)},
				{Name: string(call.KindAnswered), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
				{Name: string(call.KindDeclined), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
				{Name: string(call.KindEnded), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
				{Name: string(call.KindMissed), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
				{Name: string(call.KindAnsweredElsewhere), Src: []string{string(StateRinging)}, Dst: string(StateTerminated)},
				{Name: eventReset, Src: []string{string(StateTerminated)}, Dst: string(StateIdle)},
			},
			nil,
		),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return State(m.fsm.Current())
}

// Current returns the ringing call, if any.
func (m *Machine) Current() (call.Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return call.Record{}, false
	}
	return *m.active, true
}

// IsActive reports whether a call is ringing.
func (m *Machine) IsActive() bool {
	_, ok := m.Current()
	return ok
}

// Incoming starts ringing rec. While another call rings the new one is
// rejected; a repeat of the ringing call is ignored.
func (m *Machine) Incoming(ctx context.Context, rec call.Record) (bool, error) {
	if rec.CallID == "" {
		return false, call.ErrInvalidCallID
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		if m.active.CallID == rec.CallID {
			m.logger.Debug("duplicate incoming ignored", "call_id", rec.CallID)
		} else {
			m.logger.Info("incoming rejected, call already active",
				"call_id", rec.CallID, "active_call_id", m.active.CallID)
		}
		return false, nil
	}
	return true, m.transition(ctx, call.KindIncoming, rec, false)
}

// Answer is the local user accepting the ringing call.
func (m *Machine) Answer(ctx context.Context, callID string) (bool, error) {
	return m.local(ctx, call.KindAnswered, callID)
}

// Decline is the local user rejecting the ringing call.
func (m *Machine) Decline(ctx context.Context, callID string) (bool, error) {
	return m.local(ctx, call.KindDeclined, callID)
}

// End is the local user ending the call.
func (m *Machine) End(ctx context.Context, callID string) (bool, error) {
	return m.local(ctx, call.KindEnded, callID)
}

// Remote applies a classified push. Incoming is delegated to Incoming; the
// terminal kinds end the ringing call when rec names it.
func (m *Machine) Remote(ctx context.Context, kind call.Kind, rec call.Record) (bool, error) {
	if kind == call.KindIncoming {
		return m.Incoming(ctx, rec)
	}
	if !kind.Terminal() {
		return false, fmt.Errorf("unknown event kind %q", kind)
	}
	return m.terminate(ctx, kind, rec.CallID)
}

func (m *Machine) local(ctx context.Context, kind call.Kind, callID string) (bool, error) {
	if callID == "" {
		return false, call.ErrInvalidCallID
	}
	return m.terminate(ctx, kind, callID)
}

func (m *Machine) terminate(ctx context.Context, kind call.Kind, callID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil && m.active.CallID == callID {
		return true, m.transition(ctx, kind, *m.active, false)
	}

	// An announcement can still be waiting for a consumer while the
	// machine sits idle, e.g. after a restart. The first action is then
	// recorded against it so the replay sees the whole call; later ones
	// are stale like any other event for a finished call.
	if m.active == nil && callID != m.settled {
		if rec, ok := m.joinable(ctx, callID); ok {
			m.settled = callID
			return true, m.emit.Emit(ctx, call.Event{Kind: kind, Call: rec})
		}
	}

	active := ""
	if m.active != nil {
		active = m.active.CallID
	}
	m.logger.Debug("stale transition ignored",
		"event", kind, "call_id", callID, "active_call_id", active)
	return false, nil
}

// joinable returns the parked announcement for callID when no action has
// been parked for that call yet.
func (m *Machine) joinable(ctx context.Context, callID string) (call.Record, bool) {
	p, ok := m.emit.(PendingPeeker)
	if !ok {
		return call.Record{}, false
	}
	rec, ok, err := p.PeekAnnouncement(ctx)
	if err != nil {
		m.logger.Warn("reading pending announcement", "error", err)
		return call.Record{}, false
	}
	if !ok || rec.CallID != callID {
		return call.Record{}, false
	}
	ev, ok, err := p.PeekAction(ctx)
	if err != nil {
		m.logger.Warn("reading pending action", "error", err)
		return call.Record{}, false
	}
	if ok && ev.Call.CallID == callID {
		return call.Record{}, false
	}
	return rec, true
}

// transition moves the fsm and emits. The state change is complete before
// the emitter runs, so an emit failure never leaves the machine half way.
func (m *Machine) transition(ctx context.Context, kind call.Kind, rec call.Record, replay bool) error {
	if err := m.fsm.Event(ctx, string(kind)); err != nil {
		return fmt.Errorf("transition %s from %s: %w", kind, m.fsm.Current(), err)
	}
	if kind == call.KindIncoming {
		m.active = &rec
	} else {
		m.active = nil
		m.settled = rec.CallID
		if err := m.fsm.Event(ctx, eventReset); err != nil {
			return fmt.Errorf("resetting after %s: %w", kind, err)
		}
	}

	ev := call.Event{Kind: kind, Call: rec}
	if replay {
		return m.emit.Redeliver(ctx, ev)
	}
	return m.emit.Emit(ctx, ev)
}

// Replay runs attach with live transitions blocked, then feeds the backlog
// it returns through the machine: the announcement first, then the action.
//
// An announcement for the ringing call was already applied and is only
// redelivered. An action for the ringing call is applied normally. Any
// other action was applied when it happened and is redelivered as is.
func (m *Machine) Replay(ctx context.Context, attach func(context.Context) (pending.Backlog, error)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, drainErr := attach(ctx)
	errs := []error{drainErr}

	if rec := b.Announcement; rec != nil {
		switch {
		case m.active == nil:
			errs = append(errs, m.transition(ctx, call.KindIncoming, *rec, true))
		case m.active.CallID == rec.CallID:
			errs = append(errs, m.emit.Redeliver(ctx, call.Event{Kind: call.KindIncoming, Call: *rec}))
		default:
			m.logger.Info("pending announcement dropped, another call is active",
				"call_id", rec.CallID, "active_call_id", m.active.CallID)
		}
	}

	if ev := b.Action; ev != nil {
		if m.active != nil && m.active.CallID == ev.Call.CallID {
			errs = append(errs, m.transition(ctx, ev.Kind, *m.active, true))
		} else {
			errs = append(errs, m.emit.Redeliver(ctx, *ev))
		}
	}

	return errors.Join(errs...)
}
