package pending

import (
	"context"
	"sync"

	"github.com/sweeney/callx-bridge/internal/call"
)

// MemoryStore is a Store that does not survive restarts. Slots are kept in
// their serialized form so it behaves like the SQLite store.
type MemoryStore struct {
	mu    sync.Mutex
	slots map[string][]byte
	err   error
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string][]byte)}
}

// SetError makes every subsequent operation fail with err. Pass nil to
// clear.
func (m *MemoryStore) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

func (m *MemoryStore) SaveAnnouncement(_ context.Context, rec call.Record) error {
	body, err := encodeAnnouncement(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Slot: SlotAnnouncement, Err: err}
	}
	return m.put(SlotAnnouncement, body)
}

func (m *MemoryStore) SaveAction(_ context.Context, ev call.Event) error {
	body, err := encodeAction(ev)
	if err != nil {
		return &PersistenceError{Op: "save", Slot: SlotAction, Err: err}
	}
	return m.put(SlotAction, body)
}

func (m *MemoryStore) TakeAnnouncement(_ context.Context) (call.Record, bool, error) {
	body, ok, err := m.get(SlotAnnouncement, true)
	if err != nil || !ok {
		return call.Record{}, false, err
	}
	rec, err := decodeAnnouncement(body)
	if err != nil {
		return call.Record{}, false, &PersistenceError{Op: "take", Slot: SlotAnnouncement, Err: err}
	}
	return rec, true, nil
}

func (m *MemoryStore) TakeAction(_ context.Context) (call.Event, bool, error) {
	body, ok, err := m.get(SlotAction, true)
	if err != nil || !ok {
		return call.Event{}, false, err
	}
	ev, err := decodeAction(body)
	if err != nil {
		return call.Event{}, false, &PersistenceError{Op: "take", Slot: SlotAction, Err: err}
	}
	return ev, true, nil
}

func (m *MemoryStore) PeekAnnouncement(_ context.Context) (call.Record, bool, error) {
	body, ok, err := m.get(SlotAnnouncement, false)
	if err != nil || !ok {
		return call.Record{}, false, err
	}
	rec, err := decodeAnnouncement(body)
	if err != nil {
		return call.Record{}, false, &PersistenceError{Op: "peek", Slot: SlotAnnouncement, Err: err}
	}
	return rec, true, nil
}

func (m *MemoryStore) PeekAction(_ context.Context) (call.Event, bool, error) {
	body, ok, err := m.get(SlotAction, false)
	if err != nil || !ok {
		return call.Event{}, false, err
	}
	ev, err := decodeAction(body)
	if err != nil {
		return call.Event{}, false, &PersistenceError{Op: "peek", Slot: SlotAction, Err: err}
	}
	return ev, true, nil
}

// Len returns the number of occupied slots.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.slots)
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) put(slot string, body []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return &PersistenceError{Op: "save", Slot: slot, Err: m.err}
	}
	m.slots[slot] = body
	return nil
}

func (m *MemoryStore) get(slot string, remove bool) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, false, &PersistenceError{Op: "take", Slot: slot, Err: m.err}
	}
	body, ok := m.slots[slot]
	if ok && remove {
		delete(m.slots, slot)
	}
	return body, ok, nil
}
