package fieldsync

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	return store
}

func TestSnapshotOverwrite(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "inspections", json.RawMessage(`{"items":[1]}`)))
	require.NoError(t, store.SaveSnapshot(ctx, "inspections", json.RawMessage(`{"items":[1,2]}`)))

	snap, err := store.LoadSnapshot(ctx, "inspections")
	require.NoError(t, err)
	require.JSONEq(t, `{"items":[1,2]}`, string(snap.Payload))
	require.False(t, snap.FetchedAt.IsZero())
}

func TestLoadSnapshotNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.LoadSnapshot(context.Background(), "never_fetched")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
}

func TestSnapshotNotFoundDistinctFromEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// An explicitly cached empty list is a valid snapshot, not a miss.
	require.NoError(t, store.SaveSnapshot(ctx, "assignments", json.RawMessage(`[]`)))

	snap, err := store.LoadSnapshot(ctx, "assignments")
	require.NoError(t, err)
	require.Equal(t, `[]`, string(snap.Payload))
}

func TestClearCollection(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "dashboard_stats", json.RawMessage(`{"open":3}`)))
	require.NoError(t, store.ClearCollection(ctx, "dashboard_stats"))

	_, err := store.LoadSnapshot(ctx, "dashboard_stats")
	require.ErrorIs(t, err, ErrSnapshotNotFound)

	// Clearing a collection that was never cached is not an error.
	require.NoError(t, store.ClearCollection(ctx, "dashboard_stats"))
}

func TestEnqueuePreservesFIFOOrder(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op1 := NewChecklistSave("insp-1", json.RawMessage(`{"a":1}`))
	op2 := NewStatusUpdate("insp-1", "completed")
	op3 := NewAssignmentAccept("insp-2")
	for _, op := range []*QueuedOperation{op1, op2, op3} {
		require.NoError(t, store.EnqueueOperation(ctx, op))
	}

	ops, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 3)
	require.Equal(t, op1.ID, ops[0].ID)
	require.Equal(t, op2.ID, ops[1].ID)
	require.Equal(t, op3.ID, ops[2].ID)
}

func TestEnqueueAssignsIDAndCreatedAt(t *testing.T) {
	store := newTestStore(t)

	op := NewStatusUpdate("insp-1", "in_progress")
	require.Empty(t, op.ID)
	require.NoError(t, store.EnqueueOperation(context.Background(), op))
	require.NotEmpty(t, op.ID)
	require.False(t, op.CreatedAt.IsZero())
}

func TestEnqueueRejectsInvalidOperation(t *testing.T) {
	store := newTestStore(t)

	err := store.EnqueueOperation(context.Background(), &QueuedOperation{Kind: "bogus", TargetID: "x"})
	var se *StorageError
	require.ErrorAs(t, err, &se)

	err = store.EnqueueOperation(context.Background(), NewAssignmentAccept(""))
	require.Error(t, err)
}

func TestMarkOperationSucceededRemoves(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op := NewChecklistSave("insp-1", json.RawMessage(`{}`))
	require.NoError(t, store.EnqueueOperation(ctx, op))
	require.NoError(t, store.MarkOperationSucceeded(ctx, op.ID))

	ops, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, ops)

	require.ErrorIs(t, store.MarkOperationSucceeded(ctx, op.ID), ErrOperationNotFound)
}

func TestMarkOperationFailedKeepsAndCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op := NewChecklistSave("insp-1", json.RawMessage(`{}`))
	require.NoError(t, store.EnqueueOperation(ctx, op))

	require.NoError(t, store.MarkOperationFailed(ctx, op.ID, errors.New("connection refused")))
	require.NoError(t, store.MarkOperationFailed(ctx, op.ID, errors.New("timeout")))

	ops, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Len(t, ops, 1)
	require.Equal(t, 2, ops[0].AttemptCount)
	require.Equal(t, "timeout", ops[0].LastError)
}

func TestAbandonOperationMovesToAbandonedList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	op := NewAssignmentAccept("insp-9")
	require.NoError(t, store.EnqueueOperation(ctx, op))
	require.NoError(t, store.AbandonOperation(ctx, op.ID, "status 409: already assigned"))

	pending, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)

	abandoned, err := store.ListAbandonedOperations(ctx)
	require.NoError(t, err)
	require.Len(t, abandoned, 1)
	require.Equal(t, op.ID, abandoned[0].ID)
	require.Equal(t, OpAssignmentAccept, abandoned[0].Kind)
	require.Equal(t, "status 409: already assigned", abandoned[0].Reason)
	require.Equal(t, 1, abandoned[0].AttemptCount)

	require.NoError(t, store.AcknowledgeAbandoned(ctx, op.ID))
	abandoned, err = store.ListAbandonedOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, abandoned)
}

func TestAbandonUnknownOperation(t *testing.T) {
	store := newTestStore(t)
	require.ErrorIs(t, store.AbandonOperation(context.Background(), "nope", "reason"), ErrOperationNotFound)
}

func TestResetClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveSnapshot(ctx, "inspections", json.RawMessage(`{}`)))
	op := NewStatusUpdate("insp-1", "completed")
	require.NoError(t, store.EnqueueOperation(ctx, op))
	op2 := NewAssignmentAccept("insp-2")
	require.NoError(t, store.EnqueueOperation(ctx, op2))
	require.NoError(t, store.AbandonOperation(ctx, op2.ID, "conflict"))

	deviceID := store.DeviceID()
	require.NoError(t, store.Reset(ctx))

	_, err := store.LoadSnapshot(ctx, "inspections")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	pending, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
	abandoned, err := store.ListAbandonedOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, abandoned)

	// Device identity survives logout.
	require.Equal(t, deviceID, store.DeviceID())
}

func TestDeviceIDPersistsAcrossReopen(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()

	store1, err := NewStore(db, nil)
	require.NoError(t, err)
	require.NotEmpty(t, store1.DeviceID())

	store2, err := NewStore(db, nil)
	require.NoError(t, err)
	require.Equal(t, store1.DeviceID(), store2.DeviceID())
}

func TestSchemaVersionMismatchClearsCache(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	defer db.Close()
	ctx := context.Background()

	store, err := NewStore(db, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveSnapshot(ctx, "inspections", json.RawMessage(`{}`)))
	require.NoError(t, store.EnqueueOperation(ctx, NewAssignmentAccept("insp-1")))

	// Simulate an app upgrade that bumped the schema version.
	_, err = db.Exec(`UPDATE client_info SET schema_version = ?`, schemaVersion-1)
	require.NoError(t, err)

	store, err = NewStore(db, nil)
	require.NoError(t, err)

	_, err = store.LoadSnapshot(ctx, "inspections")
	require.ErrorIs(t, err, ErrSnapshotNotFound)
	pending, err := store.ListPendingOperations(ctx)
	require.NoError(t, err)
	require.Empty(t, pending)
}
