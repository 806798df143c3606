// Copyright 2025 The nearcar-fieldsync Authors
// SPDX-License-Identifier: Apache-2.0

package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// schemaVersion is bumped whenever the local table layout changes in an
// incompatible way. There is no migration mechanism: on mismatch the cache is
// cleared and recreated (everything local is reconstructible from the server
// except unsynced pending operations, which a version bump accepts losing).
const schemaVersion = 1

// Snapshot is the most recently fetched copy of a remote collection, stored
// locally for offline reads. At most one snapshot per collection exists;
// a new successful fetch overwrites the previous one.
type Snapshot struct {
	Collection string
	Payload    json.RawMessage
	FetchedAt  time.Time
}

// Store is the inspector device's durable cache: collection snapshots plus
// the FIFO queue of pending mutations. All persistence in the sync layer goes
// through this API; no other component touches the underlying database.
//
// Store is safe for use from multiple goroutines. Writes are serialized with
// a mutex to avoid SQLite locking issues; snapshot writes to the same
// collection are last-write-wins with no merge logic.
type Store struct {
	db       *sql.DB
	deviceID string
	logger   *slog.Logger
	writeMu  sync.Mutex
}

// NewStore initializes the schema on db and returns a ready store. The
// database is put in WAL mode with foreign keys on. If the on-disk schema
// version differs from schemaVersion, all cached data is cleared.
//
// A db that cannot be pinged fails hard with ErrStorageUnavailable.
func NewStore(db *sql.DB, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	s := &Store{db: db, logger: logger}
	if err := s.initSchema(); err != nil {
		return nil, err
	}
	return s, nil
}

// DeviceID returns the locally generated device id, created on first
// initialization and persisted across restarts.
func (s *Store) DeviceID() string { return s.deviceID }

func (s *Store) initSchema() error {
	if _, err := s.db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return storageErr("init", fmt.Errorf("failed to enable WAL mode: %w", err))
	}
	if _, err := s.db.Exec(`PRAGMA foreign_keys=ON`); err != nil {
		return storageErr("init", fmt.Errorf("failed to enable foreign keys: %w", err))
	}

	tables := []string{
		// Device info (one row): schema version for clear-on-mismatch plus a
		// persisted device id.
		`CREATE TABLE IF NOT EXISTS client_info (
			id             INTEGER PRIMARY KEY CHECK (id = 1),
			schema_version INTEGER NOT NULL,
			device_id      TEXT NOT NULL
		)`,

		// Last-known copy of each remote collection, one row per collection.
		`CREATE TABLE IF NOT EXISTS snapshots (
			collection_name TEXT PRIMARY KEY,
			payload         TEXT NOT NULL,
			fetched_at      TEXT NOT NULL
		)`,

		// Write-behind queue. seq carries FIFO order across restarts.
		`CREATE TABLE IF NOT EXISTS pending_operations (
			seq           INTEGER PRIMARY KEY AUTOINCREMENT,
			operation_id  TEXT NOT NULL UNIQUE,
			kind          TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			payload       TEXT,
			created_at    TEXT NOT NULL,
			attempt_count INTEGER NOT NULL DEFAULT 0,
			last_error    TEXT
		)`,

		// Terminally rejected operations, kept so the UI can surface them on
		// next read rather than dropping them silently.
		`CREATE TABLE IF NOT EXISTS abandoned_operations (
			operation_id  TEXT PRIMARY KEY,
			kind          TEXT NOT NULL,
			target_id     TEXT NOT NULL,
			payload       TEXT,
			created_at    TEXT NOT NULL,
			attempt_count INTEGER NOT NULL,
			reason        TEXT NOT NULL,
			abandoned_at  TEXT NOT NULL
		)`,
	}
	for _, table := range tables {
		if _, err := s.db.Exec(table); err != nil {
			return storageErr("init", fmt.Errorf("failed to create table: %w", err))
		}
	}

	var storedVersion int
	var deviceID string
	err := s.db.QueryRow(`SELECT schema_version, device_id FROM client_info WHERE id = 1`).
		Scan(&storedVersion, &deviceID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		deviceID = uuid.New().String()
		_, err = s.db.Exec(`INSERT INTO client_info (id, schema_version, device_id) VALUES (1, ?, ?)`,
			schemaVersion, deviceID)
		if err != nil {
			return storageErr("init", fmt.Errorf("failed to insert client info: %w", err))
		}
	case err != nil:
		return storageErr("init", fmt.Errorf("failed to read client info: %w", err))
	case storedVersion != schemaVersion:
		s.logger.Warn("local schema version mismatch, clearing cache",
			"stored", storedVersion, "current", schemaVersion)
		for _, stmt := range []string{
			`DELETE FROM snapshots`,
			`DELETE FROM pending_operations`,
			`DELETE FROM abandoned_operations`,
		} {
			if _, err := s.db.Exec(stmt); err != nil {
				return storageErr("init", fmt.Errorf("failed to clear on version mismatch: %w", err))
			}
		}
		if _, err := s.db.Exec(`UPDATE client_info SET schema_version = ? WHERE id = 1`, schemaVersion); err != nil {
			return storageErr("init", fmt.Errorf("failed to bump schema version: %w", err))
		}
	}
	s.deviceID = deviceID
	return nil
}

// SaveSnapshot overwrites the stored snapshot for the collection. A storage
// failure surfaces as a *StorageError; it is never swallowed.
func (s *Store) SaveSnapshot(ctx context.Context, collection string, payload json.RawMessage) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO snapshots (collection_name, payload, fetched_at)
		VALUES (?, ?, ?)
		ON CONFLICT(collection_name) DO UPDATE SET
			payload = excluded.payload,
			fetched_at = excluded.fetched_at
	`, collection, string(payload), time.Now().UTC().Format(time.RFC3339Nano))
	if err != nil {
		return storageErr("save_snapshot", err)
	}
	return nil
}

// LoadSnapshot returns the stored snapshot for the collection, or
// ErrSnapshotNotFound if none has ever been saved.
func (s *Store) LoadSnapshot(ctx context.Context, collection string) (Snapshot, error) {
	var payload, fetchedAt string
	err := s.db.QueryRowContext(ctx, `
		SELECT payload, fetched_at FROM snapshots WHERE collection_name = ?
	`, collection).Scan(&payload, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrSnapshotNotFound
	}
	if err != nil {
		return Snapshot{}, storageErr("load_snapshot", err)
	}
	ts, err := time.Parse(time.RFC3339Nano, fetchedAt)
	if err != nil {
		return Snapshot{}, storageErr("load_snapshot", fmt.Errorf("failed to parse fetched_at: %w", err))
	}
	return Snapshot{Collection: collection, Payload: json.RawMessage(payload), FetchedAt: ts}, nil
}

// ClearCollection removes the snapshot for the collection. Used only for
// explicit cache invalidation; missing snapshots are not an error.
func (s *Store) ClearCollection(ctx context.Context, collection string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.db.ExecContext(ctx, `DELETE FROM snapshots WHERE collection_name = ?`, collection); err != nil {
		return storageErr("clear_collection", err)
	}
	return nil
}

// EnqueueOperation appends op to the pending queue. If op.ID is empty a
// UUIDv4 is assigned; if op.CreatedAt is zero it is stamped now. Insertion
// order is preserved (FIFO).
func (s *Store) EnqueueOperation(ctx context.Context, op *QueuedOperation) error {
	if err := op.validate(); err != nil {
		return storageErr("enqueue_operation", err)
	}
	if op.ID == "" {
		op.ID = uuid.New().String()
	}
	if op.CreatedAt.IsZero() {
		op.CreatedAt = time.Now().UTC()
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO pending_operations (operation_id, kind, target_id, payload, created_at, attempt_count, last_error)
		VALUES (?, ?, ?, ?, ?, ?, NULLIF(?, ''))
	`, op.ID, string(op.Kind), op.TargetID, nullableJSON(op.Payload),
		op.CreatedAt.Format(time.RFC3339Nano), op.AttemptCount, op.LastError)
	if err != nil {
		return storageErr("enqueue_operation", err)
	}
	return nil
}

// ListPendingOperations returns all queued operations in insertion order.
func (s *Store) ListPendingOperations(ctx context.Context) ([]QueuedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, kind, target_id, payload, created_at, attempt_count, last_error
		FROM pending_operations
		ORDER BY seq
	`)
	if err != nil {
		return nil, storageErr("list_pending", err)
	}
	defer rows.Close()

	var ops []QueuedOperation
	for rows.Next() {
		op, err := scanOperation(rows)
		if err != nil {
			return nil, storageErr("list_pending", err)
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_pending", err)
	}
	return ops, nil
}

// MarkOperationSucceeded removes the operation from the queue. Only called
// after the remote has confirmed the mutation.
func (s *Store) MarkOperationSucceeded(ctx context.Context, operationID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM pending_operations WHERE operation_id = ?`, operationID)
	if err != nil {
		return storageErr("mark_succeeded", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// MarkOperationFailed records a failed sync attempt: attempt_count is
// incremented and last_error recorded. The operation stays in the queue.
func (s *Store) MarkOperationFailed(ctx context.Context, operationID string, opErr error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `
		UPDATE pending_operations
		SET attempt_count = attempt_count + 1, last_error = ?
		WHERE operation_id = ?
	`, opErr.Error(), operationID)
	if err != nil {
		return storageErr("mark_failed", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// AbandonOperation moves the operation from the pending queue to the
// abandoned list with the given reason. This is the terminal-failure path:
// the operation will never be retried, but it stays visible to the UI until
// acknowledged.
func (s *Store) AbandonOperation(ctx context.Context, operationID, reason string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("abandon_operation", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		INSERT INTO abandoned_operations (operation_id, kind, target_id, payload, created_at, attempt_count, reason, abandoned_at)
		SELECT operation_id, kind, target_id, payload, created_at, attempt_count + 1, ?, ?
		FROM pending_operations WHERE operation_id = ?
	`, reason, time.Now().UTC().Format(time.RFC3339Nano), operationID)
	if err != nil {
		return storageErr("abandon_operation", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOperationNotFound
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_operations WHERE operation_id = ?`, operationID); err != nil {
		return storageErr("abandon_operation", err)
	}
	if err := tx.Commit(); err != nil {
		return storageErr("abandon_operation", err)
	}
	return nil
}

// ListAbandonedOperations returns terminally failed operations that have not
// been acknowledged yet, oldest first.
func (s *Store) ListAbandonedOperations(ctx context.Context) ([]AbandonedOperation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT operation_id, kind, target_id, payload, created_at, attempt_count, reason, abandoned_at
		FROM abandoned_operations
		ORDER BY abandoned_at
	`)
	if err != nil {
		return nil, storageErr("list_abandoned", err)
	}
	defer rows.Close()

	var ops []AbandonedOperation
	for rows.Next() {
		var op AbandonedOperation
		var kind, createdAt, abandonedAt string
		var payload sql.NullString
		if err := rows.Scan(&op.ID, &kind, &op.TargetID, &payload, &createdAt,
			&op.AttemptCount, &op.Reason, &abandonedAt); err != nil {
			return nil, storageErr("list_abandoned", err)
		}
		op.Kind = OpKind(kind)
		if payload.Valid {
			op.Payload = json.RawMessage(payload.String)
		}
		op.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt)
		if err != nil {
			return nil, storageErr("list_abandoned", fmt.Errorf("failed to parse created_at: %w", err))
		}
		op.AbandonedAt, err = time.Parse(time.RFC3339Nano, abandonedAt)
		if err != nil {
			return nil, storageErr("list_abandoned", fmt.Errorf("failed to parse abandoned_at: %w", err))
		}
		ops = append(ops, op)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list_abandoned", err)
	}
	return ops, nil
}

// AcknowledgeAbandoned removes an abandoned operation after the UI has
// surfaced it to the inspector.
func (s *Store) AcknowledgeAbandoned(ctx context.Context, operationID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, `DELETE FROM abandoned_operations WHERE operation_id = ?`, operationID)
	if err != nil {
		return storageErr("ack_abandoned", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrOperationNotFound
	}
	return nil
}

// Reset clears all cached snapshots and both queues. Used on logout; the
// device id and schema version survive.
func (s *Store) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, stmt := range []string{
		`DELETE FROM snapshots`,
		`DELETE FROM pending_operations`,
		`DELETE FROM abandoned_operations`,
	} {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return storageErr("reset", err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOperation(row rowScanner) (QueuedOperation, error) {
	var op QueuedOperation
	var kind, createdAt string
	var payload, lastError sql.NullString
	if err := row.Scan(&op.ID, &kind, &op.TargetID, &payload, &createdAt,
		&op.AttemptCount, &lastError); err != nil {
		return op, err
	}
	op.Kind = OpKind(kind)
	if payload.Valid {
		op.Payload = json.RawMessage(payload.String)
	}
	if lastError.Valid {
		op.LastError = lastError.String
	}
	ts, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return op, fmt.Errorf("failed to parse created_at: %w", err)
	}
	op.CreatedAt = ts
	return op, nil
}

func nullableJSON(payload json.RawMessage) any {
	if len(payload) == 0 {
		return nil
	}
	return string(payload)
}
