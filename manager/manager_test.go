package manager_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/engine"
	"github.com/tonimelisma/synckit/events"
	"github.com/tonimelisma/synckit/internal/synctest"
	"github.com/tonimelisma/synckit/manager"
	"github.com/tonimelisma/synckit/opqueue"
	"github.com/tonimelisma/synckit/syncerr"
)

const userID = "user-1"

var knownTime = time.Unix(1700000000, 0)

func newManager(t *testing.T) (*manager.Manager, *synctest.LocalAdapter, *synctest.RemoteAdapter) {
	t.Helper()

	local := synctest.NewLocalAdapter()
	remote := synctest.NewRemoteAdapter()

	m := manager.New(local, remote, manager.Config{
		MaxRetries: 2,
		BatchSize:  10,
		RetryDelay: 10 * time.Millisecond,
	})

	return m, local, remote
}

// Spec §8 P1: after save(e), getById returns e and the queue holds exactly
// one pending create/update op for e.id.
func TestSave_PersistsAndEnqueuesCreate(t *testing.T) {
	ctx := context.Background()
	m, local, _ := newManager(t)

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "write report"})

	require.NoError(t, m.Save(ctx, userID, task))

	got, err := local.GetByID(ctx, task.EntityID(), userID)
	require.NoError(t, err)
	assert.Equal(t, task.EntityID(), got.EntityID())

	pending, err := m.Pending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpCreate, pending[0].Type)
	assert.Equal(t, task.EntityID(), pending[0].EntityID)
}

// A second Save for the same entity enqueues as an update, not a second
// create, and coalesces with the pending create.
func TestSave_SecondSaveEnqueuesUpdate(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	v1 := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "draft"})
	require.NoError(t, m.Save(ctx, userID, v1))

	v2 := v1.With(knownTime.Add(time.Second), map[string]any{"title": "final"})
	require.NoError(t, m.Save(ctx, userID, v2))

	pending, err := m.Pending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, opqueue.OpCreate, pending[0].Type, "create coalesced with a later update stays a create")
	assert.Equal(t, "final", pending[0].Data["title"])
}

// Spec §8 R2: save(E); delete(E.id); sync() leaves neither local nor remote
// copy and yields an empty queue.
func TestSaveThenDelete_LeavesEmptyQueueAfterSync(t *testing.T) {
	ctx := context.Background()
	m, local, remote := newManager(t)

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "temp"})
	require.NoError(t, m.Save(ctx, userID, task))

	removed, err := m.Delete(ctx, userID, task.EntityID())
	require.NoError(t, err)
	assert.True(t, removed)

	pendingBefore, err := m.Pending(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pendingBefore, "create immediately undone by a delete never reaches the remote")

	_, err = m.Sync(ctx, userID, engine.Options{})
	require.NoError(t, err)

	localEnt, err := local.GetByID(ctx, task.EntityID(), userID)
	require.NoError(t, err)
	assert.Nil(t, localEnt)

	remoteEnt, err := remote.FetchByID(ctx, task.EntityID(), userID)
	require.NoError(t, err)
	assert.Nil(t, remoteEnt)
}

// Deleting an entity with no local record is a no-op that enqueues
// nothing.
func TestDelete_MissingEntityIsNoOp(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	removed, err := m.Delete(ctx, userID, "does-not-exist")
	require.NoError(t, err)
	assert.False(t, removed)

	pending, err := m.Pending(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestSwitchUser_KeepLocalSwitchesImmediately(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	require.NoError(t, m.SwitchUser(ctx, "user-a", manager.StrategyKeepLocal))
	assert.Equal(t, "user-a", m.CurrentUser())

	require.NoError(t, m.SwitchUser(ctx, "user-b", manager.StrategyKeepLocal))
	assert.Equal(t, "user-b", m.CurrentUser())
}

func TestSwitchUser_PromptIfUnsyncedDataBlocksWithPendingOps(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	require.NoError(t, m.SwitchUser(ctx, "user-a", manager.StrategyKeepLocal))

	task := synctest.NewEntity("task-1", "user-a", 1, knownTime, map[string]any{"title": "pending"})
	require.NoError(t, m.Save(ctx, "user-a", task))

	err := m.SwitchUser(ctx, "user-b", manager.StrategyPromptIfUnsyncedData)
	require.Error(t, err)
	assert.ErrorIs(t, err, syncerr.ErrUserSwitchBlocked)
	assert.Equal(t, "user-a", m.CurrentUser(), "a blocked switch must not change the active user")
}

func TestSwitchUser_ClearAndFetchWipesOutgoingLocalData(t *testing.T) {
	ctx := context.Background()
	m, local, _ := newManager(t)

	require.NoError(t, m.SwitchUser(ctx, "user-a", manager.StrategyKeepLocal))

	task := synctest.NewEntity("task-1", "user-a", 1, knownTime, map[string]any{"title": "x"})
	require.NoError(t, local.Push(ctx, task, "user-a"))

	require.NoError(t, m.SwitchUser(ctx, "user-b", manager.StrategyClearAndFetch))
	assert.Equal(t, "user-b", m.CurrentUser())

	got, err := local.GetByID(ctx, task.EntityID(), "user-a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestSubscribe_DeliversInitialSyncBeforeLaterEvents(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newManager(t)

	sub := m.Subscribe(userID)
	defer sub.Close()

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "x"})
	require.NoError(t, m.Save(ctx, userID, task))

	first := <-sub.Events()
	_, ok := first.(events.InitialSync)
	assert.True(t, ok, "the first event on a fresh subscription must be InitialSync")

	second := <-sub.Events()
	dc, ok := second.(events.DataChange)
	require.True(t, ok)
	assert.Equal(t, task.EntityID(), dc.EntityID)
}
