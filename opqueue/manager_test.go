package opqueue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/internal/synctest"
	"github.com/tonimelisma/synckit/opqueue"
)

var knownTime = time.Unix(1700000000, 0)

func newManager(t *testing.T) (*opqueue.Manager, *synctest.LocalAdapter) {
	t.Helper()

	local := synctest.NewLocalAdapter()
	mgr := opqueue.NewManager(local, opqueue.Config{})

	return mgr, local
}

func TestEnqueue_PersistsFirstOperationForEntity(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	op := opqueue.Operation{
		UserID:   "u1",
		Type:     opqueue.OpCreate,
		EntityID: "e1",
		Data:     map[string]any{"title": "first"},
	}

	require.NoError(t, mgr.Enqueue(ctx, "u1", op))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "e1", pending[0].EntityID)
	assert.Equal(t, opqueue.OpCreate, pending[0].Type)
}

func TestEnqueue_CreateThenUpdateCoalescesToSingleCreate(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v2"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpCreate, pending[0].Type)
	assert.Equal(t, "v2", pending[0].Data["title"])
}

func TestEnqueue_CreateThenDeleteDropsBoth(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpDelete, EntityID: "e1",
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestEnqueue_UpdateThenUpdateResetsRetryCount(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = mgr.MarkFailed(ctx, "u1", pending[0].ID, "transient", true)
	require.NoError(t, err)

	pending, err = mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, 1, pending[0].RetryCount)

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v2"},
	}))

	pending, err = mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 0, pending[0].RetryCount)
	assert.Equal(t, "v2", pending[0].Data["title"])
}

func TestEnqueue_UpdateThenDeleteCoalescesToDelete(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpDelete, EntityID: "e1",
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpDelete, pending[0].Type)
}

func TestEnqueue_DeleteThenCreateResurrectsTombstone(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpDelete, EntityID: "e1",
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "reborn"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpCreate, pending[0].Type)
	assert.Equal(t, "reborn", pending[0].Data["title"])
}

func TestEnqueue_DeleteThenUpdateKeepsDelete(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpDelete, EntityID: "e1",
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "ignored"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpDelete, pending[0].Type)
}

func TestMarkFailed_ExceedingMaxRetriesTerminatesOperation(t *testing.T) {
	t.Parallel()

	local := synctest.NewLocalAdapter()
	mgr := opqueue.NewManager(local, opqueue.Config{MaxRetries: 2})
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	opID := pending[0].ID

	for i := 0; i < 2; i++ {
		op, err := mgr.MarkFailed(ctx, "u1", opID, "transient", true)
		require.NoError(t, err)
		assert.Equal(t, opqueue.StatusPending, op.Status)
	}

	final, err := mgr.MarkFailed(ctx, "u1", opID, "transient", true)
	require.NoError(t, err)
	assert.Equal(t, opqueue.StatusFailed, final.Status)

	pending, err = mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending, "failed operations must not be returned by Pending")
}

func TestMarkFailed_UnrecoverableTerminatesImmediately(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)

	final, err := mgr.MarkFailed(ctx, "u1", pending[0].ID, "validation rejected", false)
	require.NoError(t, err)
	assert.Equal(t, opqueue.StatusFailed, final.Status)
}

func TestMarkSynced_RemovesOperationFromPending(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, mgr.MarkSynced(ctx, pending[0].ID))

	pending, err = mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestClear_DrainsQueueWithoutTouchingEntityData(t *testing.T) {
	t.Parallel()

	mgr, local := newManager(t)
	ctx := context.Background()

	require.NoError(t, local.Push(ctx, synctest.NewEntity("e1", "u1", 1, knownTime, nil), "u1"))
	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpUpdate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	require.NoError(t, mgr.Clear(ctx, "u1"))

	pending, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	assert.Empty(t, pending)

	stillThere, err := local.GetByID(ctx, "e1", "u1")
	require.NoError(t, err)
	assert.NotNil(t, stillThere, "Clear must not remove entity data, only pending operations")
}

func TestEnqueue_DistinctUsersDoNotInterfere(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "u1-v1"},
	}))
	require.NoError(t, mgr.Enqueue(ctx, "u2", opqueue.Operation{
		UserID: "u2", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "u2-v1"},
	}))

	p1, err := mgr.Pending(ctx, "u1")
	require.NoError(t, err)
	p2, err := mgr.Pending(ctx, "u2")
	require.NoError(t, err)

	require.Len(t, p1, 1)
	require.Len(t, p2, 1)
	assert.Equal(t, "u1-v1", p1[0].Data["title"])
	assert.Equal(t, "u2-v1", p2[0].Data["title"])
}

func TestNotify_SignalsOnEnqueue(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	ch := mgr.Notify("u1")

	require.NoError(t, mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u1", Type: opqueue.OpCreate, EntityID: "e1",
		Data: map[string]any{"title": "v1"},
	}))

	select {
	case <-ch:
	default:
		t.Fatal("expected a notification after Enqueue")
	}
}

func TestEnqueue_RejectsMismatchedUserID(t *testing.T) {
	t.Parallel()

	mgr, _ := newManager(t)
	ctx := context.Background()

	err := mgr.Enqueue(ctx, "u1", opqueue.Operation{
		UserID: "u2", Type: opqueue.OpCreate, EntityID: "e1",
	})
	require.Error(t, err)
}
