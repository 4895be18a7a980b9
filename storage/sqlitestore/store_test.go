package sqlitestore_test

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/storage/sqlitestore"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := sqlitestore.Open(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Dispose(context.Background()) })

	return s
}

var knownTime = time.Unix(1700000000, 0)

func TestPushThenGetByID_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := sqlitestore.Record{
		ID: "task-1", Owner: "user-1", Ver: 1,
		Created: knownTime, Modified: knownTime,
		Fields: map[string]any{"title": "write report"},
	}

	require.NoError(t, s.Push(ctx, rec, "user-1"))

	got, err := s.GetByID(ctx, "task-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "task-1", got.EntityID())
	assert.Equal(t, 1, got.Version())
	assert.Equal(t, "write report", got.ToMap()["title"])
}

func TestGetByID_MissingReturnsNilNil(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	got, err := s.GetByID(ctx, "does-not-exist", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetAll_ScopedToOwner(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "a", Owner: "user-1", Created: knownTime, Modified: knownTime}, "user-1"))
	require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "b", Owner: "user-2", Created: knownTime, Modified: knownTime}, "user-2"))

	got, err := s.GetAll(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "a", got[0].EntityID())
}

func TestDelete_HardRemovesRowAndReportsExistence(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "a", Owner: "user-1", Created: knownTime, Modified: knownTime}, "user-1"))

	removed, err := s.Delete(ctx, "a", "user-1")
	require.NoError(t, err)
	assert.True(t, removed)

	got, err := s.GetByID(ctx, "a", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	removedAgain, err := s.Delete(ctx, "a", "user-1")
	require.NoError(t, err)
	assert.False(t, removedAgain)
}

func TestPatch_MergesFieldsWithoutDroppingExisting(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	rec := sqlitestore.Record{
		ID: "a", Owner: "user-1", Ver: 1, Created: knownTime, Modified: knownTime,
		Fields: map[string]any{"title": "draft", "priority": "low"},
	}
	require.NoError(t, s.Push(ctx, rec, "user-1"))

	require.NoError(t, s.Patch(ctx, "a", "user-1", map[string]any{"title": "final"}))

	got, err := s.GetByID(ctx, "a", "user-1")
	require.NoError(t, err)
	m := got.ToMap()
	assert.Equal(t, "final", m["title"])
	assert.Equal(t, "low", m["priority"], "patch must not drop fields it doesn't mention")
}

func TestPendingOperations_AddListAndMarkSynced(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	op := adapter.StoredOperation{
		ID: "op-1", Type: "create", EntityID: "a",
		Data: map[string]any{"title": "x"}, Status: "pending",
	}
	require.NoError(t, s.AddPendingOperation(ctx, "user-1", op))

	pending, err := s.GetPendingOperations(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "op-1", pending[0].ID)
	assert.Equal(t, "x", pending[0].Data["title"])

	require.NoError(t, s.MarkAsSynced(ctx, "op-1"))

	after, err := s.GetPendingOperations(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, after)
}

func TestClearUserData_RemovesEntitiesOpsAndMetadataForThatUserOnly(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "a", Owner: "user-1", Created: knownTime, Modified: knownTime}, "user-1"))
	require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "b", Owner: "user-2", Created: knownTime, Modified: knownTime}, "user-2"))
	require.NoError(t, s.AddPendingOperation(ctx, "user-1", adapter.StoredOperation{ID: "op-1", Type: "create", EntityID: "a"}))
	require.NoError(t, s.UpdateSyncMetadata(ctx, &adapter.SyncMetadata{DeviceID: "device-a"}, "user-1"))

	require.NoError(t, s.ClearUserData(ctx, "user-1"))

	got, err := s.GetByID(ctx, "a", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)

	stillThere, err := s.GetByID(ctx, "b", "user-2")
	require.NoError(t, err)
	assert.NotNil(t, stillThere, "clearing user-1 must not touch user-2's data")

	ops, err := s.GetPendingOperations(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, ops)

	meta, err := s.GetSyncMetadata(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "", meta.DeviceID)
}

func TestSyncMetadata_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	meta := &adapter.SyncMetadata{LastSyncTime: 42, DataHash: "abc", ItemCount: 3, DeviceID: "device-a"}
	require.NoError(t, s.UpdateSyncMetadata(ctx, meta, "user-1"))

	got, err := s.GetSyncMetadata(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), got.LastSyncTime)
	assert.Equal(t, "abc", got.DataHash)
	assert.Equal(t, 3, got.ItemCount)
}

func TestSchemaVersion_DefaultsToZeroAndPersistsUpdates(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	v, err := s.GetStoredSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, v)

	require.NoError(t, s.SetStoredSchemaVersion(ctx, 2))

	v, err = s.GetStoredSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestGetAllRawDataThenOverwrite_RoundTrips(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	require.NoError(t, s.Push(ctx, sqlitestore.Record{
		ID: "a", Owner: "user-1", Ver: 1, Created: knownTime, Modified: knownTime,
		Fields: map[string]any{"title": "x"},
	}, "user-1"))

	raw, err := s.GetAllRawData(ctx)
	require.NoError(t, err)

	_, err = s.Delete(ctx, "a", "user-1")
	require.NoError(t, err)

	require.NoError(t, s.OverwriteAllRawData(ctx, raw))

	got, err := s.GetByID(ctx, "a", "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "x", got.ToMap()["title"])
}

func TestTransaction_RollsBackOnActionError(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)

	boom := assert.AnError

	err := s.Transaction(ctx, "user-1", func(ctx context.Context) error {
		require.NoError(t, s.Push(ctx, sqlitestore.Record{ID: "a", Owner: "user-1", Created: knownTime, Modified: knownTime}, "user-1"))

		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetByID(ctx, "a", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got, "a push inside a failed transaction must be rolled back")
}
