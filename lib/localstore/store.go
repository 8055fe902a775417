// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localstore

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/bureau-foundation/matrix-client-boilerplate/lib/ref"
	"github.com/bureau-foundation/matrix-client-boilerplate/lib/sqlitepool"
	"github.com/bureau-foundation/matrix-client-boilerplate/messaging"
)

// DatabaseName is the file name of the store inside its directory.
const DatabaseName = "state.db"

// DefaultTimelineLimit is how many timeline events are kept per room.
const DefaultTimelineLimit = 100

// Membership values recorded per room.
const (
	MembershipJoin   = "join"
	MembershipInvite = "invite"
	MembershipLeave  = "leave"
)

var (
	// ErrAccountMismatch is returned by Open when the database belongs
	// to a different user.
	ErrAccountMismatch = errors.New("localstore: store belongs to a different account")

	// ErrNotFound is returned by StateEvent when no such state exists.
	ErrNotFound = errors.New("localstore: not found")
)

const (
	metaAccount   = "account_fingerprint"
	metaSyncToken = "sync_token"
)

const schema = `
CREATE TABLE IF NOT EXISTS meta (
	key   TEXT PRIMARY KEY,
	value BLOB NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS rooms (
	room_id    TEXT PRIMARY KEY,
	membership TEXT NOT NULL
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS state (
	room_id    TEXT NOT NULL,
	event_type TEXT NOT NULL,
	state_key  TEXT NOT NULL,
	event_id   TEXT NOT NULL,
	payload    BLOB NOT NULL,
	PRIMARY KEY (room_id, event_type, state_key)
) WITHOUT ROWID;

CREATE TABLE IF NOT EXISTS timeline (
	seq      INTEGER PRIMARY KEY AUTOINCREMENT,
	room_id  TEXT NOT NULL,
	event_id TEXT NOT NULL,
	payload  BLOB NOT NULL,
	UNIQUE (room_id, event_id)
);

CREATE INDEX IF NOT EXISTS timeline_room_seq ON timeline (room_id, seq);
`

// Config holds the parameters for opening a store.
type Config struct {
	// Directory holds state.db. Created with mode 0700 if missing.
	Directory string

	// UserID is the account the store belongs to. Required.
	UserID ref.UserID

	// TimelineLimit defaults to DefaultTimelineLimit.
	TimelineLimit int

	// Logger defaults to a discarding logger.
	Logger *slog.Logger
}

// Store is the local protocol store. It is safe for concurrent use.
type Store struct {
	pool          *sqlitepool.Pool
	logger        *slog.Logger
	timelineLimit int
	path          string

	closeOnce sync.Once
	closeErr  error
}

// RoomInfo is one room the account has seen in a sync.
type RoomInfo struct {
	ID         ref.RoomID
	Membership string
}

// Open opens or creates the store in cfg.Directory.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.Directory == "" {
		return nil, fmt.Errorf("localstore: Directory is required")
	}
	if cfg.UserID.IsZero() {
		return nil, fmt.Errorf("localstore: UserID is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	timelineLimit := cfg.TimelineLimit
	if timelineLimit <= 0 {
		timelineLimit = DefaultTimelineLimit
	}
	if err := os.MkdirAll(cfg.Directory, 0o700); err != nil {
		return nil, fmt.Errorf("localstore: creating %s: %w", cfg.Directory, err)
	}

	path := filepath.Join(cfg.Directory, DatabaseName)
	pool, err := sqlitepool.Open(sqlitepool.Config{
		Path:   path,
		Logger: logger,
		OnConnect: func(conn *sqlite.Conn) error {
			return sqlitex.ExecuteScript(conn, schema, nil)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("localstore: %w", err)
	}

	store := &Store{
		pool:          pool,
		logger:        logger,
		timelineLimit: timelineLimit,
		path:          path,
	}
	if err := store.bindAccount(ctx, cfg.UserID); err != nil {
		pool.Close()
		return nil, err
	}
	logger.Debug("local store opened", "path", path, "user_id", cfg.UserID)
	return store, nil
}

// bindAccount records the account fingerprint on first use and checks
// it on every later open.
func (s *Store) bindAccount(ctx context.Context, userID ref.UserID) (err error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("localstore: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("localstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	want := accountFingerprint(userID)
	stored, found, err := readMeta(conn, metaAccount)
	if err != nil {
		return err
	}
	if !found {
		return writeMeta(conn, metaAccount, want)
	}
	if !bytes.Equal(stored, want) {
		return fmt.Errorf("%w: %s does not match fingerprint %s", ErrAccountMismatch, userID, hex.EncodeToString(stored))
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database. Idempotent.
func (s *Store) Close() error {
	s.closeOnce.Do(func() { s.closeErr = s.pool.Close() })
	return s.closeErr
}

// SyncToken returns the stored next_batch cursor, or "" if none has
// been stored.
func (s *Store) SyncToken(ctx context.Context) (string, error) {
	var token string
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		value, _, err := readMeta(conn, metaSyncToken)
		token = string(value)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("localstore: reading sync token: %w", err)
	}
	return token, nil
}

// SetSyncToken replaces the stored cursor.
func (s *Store) SetSyncToken(ctx context.Context, token string) error {
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return writeMeta(conn, metaSyncToken, []byte(token))
	})
	if err != nil {
		return fmt.Errorf("localstore: writing sync token: %w", err)
	}
	return nil
}

// ApplySync records a sync response and its next_batch token in one
// transaction.
func (s *Store) ApplySync(ctx context.Context, response *messaging.SyncResponse) (err error) {
	if response == nil {
		return fmt.Errorf("localstore: nil sync response")
	}
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("localstore: apply sync: %w", err)
	}
	defer s.pool.Put(conn)

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("localstore: begin transaction: %w", err)
	}
	defer endTransaction(&err)

	for roomID, room := range response.Rooms.Join {
		if err := s.applyRoom(conn, roomID, MembershipJoin, room.State.Events, room.Timeline.Events); err != nil {
			return err
		}
	}
	for roomID, room := range response.Rooms.Invite {
		if err := s.applyRoom(conn, roomID, MembershipInvite, room.InviteState.Events, nil); err != nil {
			return err
		}
	}
	for roomID, room := range response.Rooms.Leave {
		if err := s.applyRoom(conn, roomID, MembershipLeave, room.State.Events, room.Timeline.Events); err != nil {
			return err
		}
	}
	if response.NextBatch != "" {
		if err := writeMeta(conn, metaSyncToken, []byte(response.NextBatch)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) applyRoom(conn *sqlite.Conn, roomID ref.RoomID, membership string, stateEvents, timelineEvents []messaging.Event) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO rooms (room_id, membership) VALUES (?, ?)
		 ON CONFLICT (room_id) DO UPDATE SET membership = excluded.membership`,
		&sqlitex.ExecOptions{Args: []any{roomID.String(), membership}})
	if err != nil {
		return fmt.Errorf("localstore: recording room %s: %w", roomID, err)
	}

	for _, event := range stateEvents {
		if err := putState(conn, roomID, event); err != nil {
			return err
		}
	}
	if len(timelineEvents) == 0 {
		return nil
	}
	for _, event := range timelineEvents {
		if event.IsState() {
			if err := putState(conn, roomID, event); err != nil {
				return err
			}
		}
		payload, err := encodeEvent(event)
		if err != nil {
			return fmt.Errorf("localstore: %w", err)
		}
		err = sqlitex.Execute(conn,
			`INSERT OR IGNORE INTO timeline (room_id, event_id, payload) VALUES (?, ?, ?)`,
			&sqlitex.ExecOptions{Args: []any{roomID.String(), event.EventID.String(), payload}})
		if err != nil {
			return fmt.Errorf("localstore: appending timeline event %s: %w", event.EventID, err)
		}
	}
	err = sqlitex.Execute(conn,
		`DELETE FROM timeline WHERE room_id = ? AND seq NOT IN (
			SELECT seq FROM timeline WHERE room_id = ? ORDER BY seq DESC LIMIT ?)`,
		&sqlitex.ExecOptions{Args: []any{roomID.String(), roomID.String(), s.timelineLimit}})
	if err != nil {
		return fmt.Errorf("localstore: trimming timeline of %s: %w", roomID, err)
	}
	return nil
}

func putState(conn *sqlite.Conn, roomID ref.RoomID, event messaging.Event) error {
	if event.StateKey == nil {
		return nil
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("localstore: %w", err)
	}
	err = sqlitex.Execute(conn,
		`INSERT INTO state (room_id, event_type, state_key, event_id, payload) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (room_id, event_type, state_key)
		 DO UPDATE SET event_id = excluded.event_id, payload = excluded.payload`,
		&sqlitex.ExecOptions{Args: []any{
			roomID.String(), event.Type.String(), *event.StateKey, event.EventID.String(), payload,
		}})
	if err != nil {
		return fmt.Errorf("localstore: storing state %s/%s in %s: %w", event.Type, *event.StateKey, roomID, err)
	}
	return nil
}

// Rooms returns every room seen so far, ordered by room ID.
func (s *Store) Rooms(ctx context.Context) ([]RoomInfo, error) {
	var rooms []RoomInfo
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn, `SELECT room_id, membership FROM rooms ORDER BY room_id`,
			&sqlitex.ExecOptions{
				ResultFunc: func(stmt *sqlite.Stmt) error {
					roomID, err := ref.ParseRoomID(stmt.ColumnText(0))
					if err != nil {
						return fmt.Errorf("corrupt room row: %w", err)
					}
					rooms = append(rooms, RoomInfo{ID: roomID, Membership: stmt.ColumnText(1)})
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("localstore: listing rooms: %w", err)
	}
	return rooms, nil
}

// StateEvent returns the current state event of the given type and
// state key, or ErrNotFound.
func (s *Store) StateEvent(ctx context.Context, roomID ref.RoomID, eventType ref.EventType, stateKey string) (messaging.Event, error) {
	var payload []byte
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT payload FROM state WHERE room_id = ? AND event_type = ? AND state_key = ?`,
			&sqlitex.ExecOptions{
				Args:       []any{roomID.String(), eventType.String(), stateKey},
				ResultFunc: func(stmt *sqlite.Stmt) error { payload = columnBlob(stmt, 0); return nil },
			})
	})
	if err != nil {
		return messaging.Event{}, fmt.Errorf("localstore: reading state %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	if payload == nil {
		return messaging.Event{}, ErrNotFound
	}
	event, err := decodeEvent(payload)
	if err != nil {
		return messaging.Event{}, fmt.Errorf("localstore: state %s/%s in %s: %w", eventType, stateKey, roomID, err)
	}
	return event, nil
}

// Timeline returns up to limit of the most recent timeline events of
// a room, oldest first. A limit of zero or less returns everything
// kept.
func (s *Store) Timeline(ctx context.Context, roomID ref.RoomID, limit int) ([]messaging.Event, error) {
	if limit <= 0 {
		limit = s.timelineLimit
	}
	var payloads [][]byte
	err := s.pool.With(ctx, func(conn *sqlite.Conn) error {
		return sqlitex.Execute(conn,
			`SELECT payload FROM (
				SELECT seq, payload FROM timeline WHERE room_id = ? ORDER BY seq DESC LIMIT ?
			) ORDER BY seq ASC`,
			&sqlitex.ExecOptions{
				Args: []any{roomID.String(), limit},
				ResultFunc: func(stmt *sqlite.Stmt) error {
					payloads = append(payloads, columnBlob(stmt, 0))
					return nil
				},
			})
	})
	if err != nil {
		return nil, fmt.Errorf("localstore: reading timeline of %s: %w", roomID, err)
	}

	events := make([]messaging.Event, 0, len(payloads))
	for _, payload := range payloads {
		event, err := decodeEvent(payload)
		if err != nil {
			return nil, fmt.Errorf("localstore: timeline of %s: %w", roomID, err)
		}
		events = append(events, event)
	}
	return events, nil
}

func readMeta(conn *sqlite.Conn, key string) ([]byte, bool, error) {
	var value []byte
	found := false
	err := sqlitex.Execute(conn, `SELECT value FROM meta WHERE key = ?`, &sqlitex.ExecOptions{
		Args: []any{key},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			value = columnBlob(stmt, 0)
			found = true
			return nil
		},
	})
	if err != nil {
		return nil, false, fmt.Errorf("localstore: reading %s: %w", key, err)
	}
	return value, found, nil
}

func writeMeta(conn *sqlite.Conn, key string, value []byte) error {
	err := sqlitex.Execute(conn,
		`INSERT INTO meta (key, value) VALUES (?, ?)
		 ON CONFLICT (key) DO UPDATE SET value = excluded.value`,
		&sqlitex.ExecOptions{Args: []any{key, value}})
	if err != nil {
		return fmt.Errorf("localstore: writing %s: %w", key, err)
	}
	return nil
}

func columnBlob(stmt *sqlite.Stmt, column int) []byte {
	data := make([]byte, stmt.ColumnLen(column))
	stmt.ColumnBytes(column, data)
	return data
}
