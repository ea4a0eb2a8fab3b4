// Package pending holds lifecycle events that were produced while no
// consumer was registered. There are two slots, one announcement and one
// action; saving overwrites the slot and taking it reads and clears it.
package pending

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sweeney/callx-bridge/internal/call"
)

const (
	SlotAnnouncement = "announcement"
	SlotAction       = "action"
)

// Store is the durable hand-off between the background receiver and a
// consumer that registers later.
type Store interface {
	SaveAnnouncement(ctx context.Context, rec call.Record) error
	SaveAction(ctx context.Context, ev call.Event) error
	// TakeAnnouncement and TakeAction read and clear their slot atomically.
	TakeAnnouncement(ctx context.Context) (call.Record, bool, error)
	TakeAction(ctx context.Context) (call.Event, bool, error)
	// PeekAnnouncement and PeekAction read their slot without clearing it.
	PeekAnnouncement(ctx context.Context) (call.Record, bool, error)
	PeekAction(ctx context.Context) (call.Event, bool, error)
	Close() error
}

// Backlog is the content of both slots at the moment of a drain.
type Backlog struct {
	Announcement *call.Record
	Action       *call.Event
}

// Empty reports whether neither slot held anything.
func (b Backlog) Empty() bool {
	return b.Announcement == nil && b.Action == nil
}

// Drain takes the announcement, then the action. Whatever was taken is
// returned even when a later take fails, since taking already cleared it.
func Drain(ctx context.Context, s Store) (Backlog, error) {
	var b Backlog
	rec, ok, err := s.TakeAnnouncement(ctx)
	if err != nil {
		return b, err
	}
	if ok {
		b.Announcement = &rec
	}
	ev, ok, err := s.TakeAction(ctx)
	if err != nil {
		return b, err
	}
	if ok {
		b.Action = &ev
	}
	return b, nil
}

// Save routes an event to its slot: incoming is an announcement, every
// terminal kind is an action.
func Save(ctx context.Context, s Store, ev call.Event) error {
	if ev.Kind == call.KindIncoming {
		return s.SaveAnnouncement(ctx, ev.Call)
	}
	return s.SaveAction(ctx, ev)
}

// PersistenceError reports a failed read or write of a slot.
type PersistenceError struct {
	Op   string
	Slot string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("pending %s %s: %v", e.Op, e.Slot, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// IsPersistence reports whether err came from the pending store.
func IsPersistence(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}

// entry is the serialized slot body.
type entry struct {
	Kind   string      `json:"kind"`
	Action string      `json:"action,omitempty"`
	Call   call.Record `json:"call"`
}

func encodeAnnouncement(rec call.Record) ([]byte, error) {
	return json.Marshal(entry{Kind: SlotAnnouncement, Call: rec})
}

func encodeAction(ev call.Event) ([]byte, error) {
	action, ok := ev.Kind.Action()
	if !ok {
		return nil, fmt.Errorf("event %q is not an action", ev.Kind)
	}
	return json.Marshal(entry{Kind: SlotAction, Action: action, Call: ev.Call})
}

func decodeAnnouncement(body []byte) (call.Record, error) {
	var e entry
	if err := json.Unmarshal(body, &e); err != nil {
		return call.Record{}, fmt.Errorf("decoding announcement: %w", err)
	}
	if e.Kind != SlotAnnouncement {
		return call.Record{}, fmt.Errorf("decoding announcement: unexpected kind %q", e.Kind)
	}
	return e.Call, nil
}

func decodeAction(body []byte) (call.Event, error) {
	var e entry
	if err := json.Unmarshal(body, &e); err != nil {
		return call.Event{}, fmt.Errorf("decoding action: %w", err)
	}
	kind, ok := call.KindForAction(e.Action)
	if e.Kind != SlotAction || !ok {
		return call.Event{}, fmt.Errorf("decoding action: unexpected kind %q action %q", e.Kind, e.Action)
	}
	return call.Event{Kind: kind, Call: e.Call}, nil
}
