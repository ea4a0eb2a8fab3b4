package pending

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/sweeney/callx-bridge/internal/call"

	_ "modernc.org/sqlite"
)

const schema = `CREATE TABLE IF NOT EXISTS pending_events (
	slot     TEXT PRIMARY KEY,
	body     BLOB NOT NULL,
	saved_at INTEGER NOT NULL
)`

// SQLiteStore keeps both slots in a single SQLite table.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite creates or opens the store at path with WAL enabled.
func OpenSQLite(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening pending store: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging pending store: %w", err)
	}

	// One connection serializes every slot write.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating pending_events table: %w", err)
	}

	slog.Info("pending store opened", "path", path)
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) SaveAnnouncement(ctx context.Context, rec call.Record) error {
	body, err := encodeAnnouncement(rec)
	if err != nil {
		return &PersistenceError{Op: "save", Slot: SlotAnnouncement, Err: err}
	}
	return s.put(ctx, SlotAnnouncement, body)
}

func (s *SQLiteStore) SaveAction(ctx context.Context, ev call.Event) error {
	body, err := encodeAction(ev)
	if err != nil {
		return &PersistenceError{Op: "save", Slot: SlotAction, Err: err}
	}
	return s.put(ctx, SlotAction, body)
}

func (s *SQLiteStore) TakeAnnouncement(ctx context.Context) (call.Record, bool, error) {
	body, ok, err := s.take(ctx, SlotAnnouncement)
	if err != nil || !ok {
		return call.Record{}, false, err
	}
	rec, err := decodeAnnouncement(body)
	if err != nil {
		return call.Record{}, false, &PersistenceError{Op: "take", Slot: SlotAnnouncement, Err: err}
	}
	return rec, true, nil
}

func (s *SQLiteStore) TakeAction(ctx context.Context) (call.Event, bool, error) {
	body, ok, err := s.take(ctx, SlotAction)
	if err != nil || !ok {
		return call.Event{}, false, err
	}
	ev, err := decodeAction(body)
	if err != nil {
		return call.Event{}, false, &PersistenceError{Op: "take", Slot: SlotAction, Err: err}
	}
	return ev, true, nil
}

func (s *SQLiteStore) PeekAnnouncement(ctx context.Context) (call.Record, bool, error) {
	body, ok, err := s.peek(ctx, SlotAnnouncement)
	if err != nil || !ok {
		return call.Record{}, false, err
	}
	rec, err := decodeAnnouncement(body)
	if err != nil {
		return call.Record{}, false, &PersistenceError{Op: "peek", Slot: SlotAnnouncement, Err: err}
	}
	return rec, true, nil
}

func (s *SQLiteStore) PeekAction(ctx context.Context) (call.Event, bool, error) {
	body, ok, err := s.peek(ctx, SlotAction)
	if err != nil || !ok {
		return call.Event{}, false, err
	}
	ev, err := decodeAction(body)
	if err != nil {
		return call.Event{}, false, &PersistenceError{Op: "peek", Slot: SlotAction, Err: err}
	}
	return ev, true, nil
}

func (s *SQLiteStore) peek(ctx context.Context, slot string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM pending_events WHERE slot = ?`, slot,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: "peek", Slot: slot, Err: err}
	}
	return body, true, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) put(ctx context.Context, slot string, body []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pending_events (slot, body, saved_at)
		 VALUES (?, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET body = excluded.body, saved_at = excluded.saved_at`,
		slot, body, s.now().UnixMilli(),
	)
	if err != nil {
		return &PersistenceError{Op: "save", Slot: slot, Err: err}
	}
	return nil
}

// take deletes the row and returns its body in one statement, so a
// concurrent take sees either the whole row or nothing.
func (s *SQLiteStore) take(ctx context.Context, slot string) ([]byte, bool, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx,
		`DELETE FROM pending_events WHERE slot = ? RETURNING body`, slot,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, &PersistenceError{Op: "take", Slot: slot, Err: err}
	}
	return body, true, nil
}
