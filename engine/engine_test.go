package engine_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/conflict"
	"github.com/tonimelisma/synckit/engine"
	"github.com/tonimelisma/synckit/entity"
	"github.com/tonimelisma/synckit/events"
	"github.com/tonimelisma/synckit/internal/synctest"
	"github.com/tonimelisma/synckit/opqueue"
	"github.com/tonimelisma/synckit/syncerr"
)

const userID = "user-1"

// recordingPublisher is a thread-safe events.SyncEvent recorder, grounded
// on the teacher's engineMockGraph call-counter convention
// (internal/sync/engine_test.go) but for the event stream instead of a
// network client.
type recordingPublisher struct {
	mu     sync.Mutex
	events []events.SyncEvent
}

func (p *recordingPublisher) Publish(ev events.SyncEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, ev)
}

func (p *recordingPublisher) snapshot() []events.SyncEvent {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]events.SyncEvent, len(p.events))
	copy(out, p.events)

	return out
}

func newHarness(t *testing.T) (*engine.Engine, *synctest.LocalAdapter, *synctest.RemoteAdapter, *opqueue.Manager, *recordingPublisher) {
	t.Helper()

	local := synctest.NewLocalAdapter()
	remote := synctest.NewRemoteAdapter()
	queue := opqueue.NewManager(local, opqueue.Config{MaxRetries: 2})
	pub := &recordingPublisher{}

	eng := engine.New(local, remote, queue, pub, engine.Config{
		BatchSize: 10,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
		DeviceID:  "device-a",
	})

	return eng, local, remote, queue, pub
}

// Scenario 1 (spec §8): an entity created while offline is queued, then a
// subsequent sync pushes it to the remote and the queue drains.
func TestSync_PushesQueuedCreateAndDrainsQueue(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, queue, _ := newHarness(t)

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "write report"})

	require.NoError(t, local.Push(ctx, task, userID))
	require.NoError(t, queue.Enqueue(ctx, userID, opqueue.Operation{
		UserID:   userID,
		Type:     opqueue.OpCreate,
		EntityID: task.EntityID(),
		Data:     task.ToMap(),
	}))

	result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPushOnly})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedCount)
	assert.Equal(t, 0, result.FailedCount)

	pending, err := queue.Pending(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pending)

	remoteEnt, err := remote.FetchByID(ctx, task.EntityID(), userID)
	require.NoError(t, err)
	require.NotNil(t, remoteEnt)
	assert.Equal(t, task.EntityID(), remoteEnt.EntityID())
}

// Scenario 2 (spec §8): two offline updates to the same entity coalesce in
// the queue, so only one push happens during sync.
func TestSync_CoalescedUpdatesProduceSinglePush(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, queue, _ := newHarness(t)

	v1 := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "draft"})
	remote.Seed(userID, v1)
	require.NoError(t, local.Push(ctx, v1, userID))

	v2 := v1.With(knownTime.Add(time.Second), map[string]any{"title": "revised"})
	v3 := v2.With(knownTime.Add(2*time.Second), map[string]any{"title": "final"})

	require.NoError(t, local.Push(ctx, v3, userID))
	require.NoError(t, queue.Enqueue(ctx, userID, opqueue.Operation{
		UserID: userID, Type: opqueue.OpUpdate, EntityID: v1.EntityID(), Data: v2.ToMap(),
	}))
	require.NoError(t, queue.Enqueue(ctx, userID, opqueue.Operation{
		UserID: userID, Type: opqueue.OpUpdate, EntityID: v1.EntityID(), Data: v3.ToMap(),
	}))

	pendingBefore, err := queue.Pending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pendingBefore, 1)

	result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPushOnly})
	require.NoError(t, err)
	assert.Equal(t, 1, result.SyncedCount)

	remoteEnt, err := remote.FetchByID(ctx, v1.EntityID(), userID)
	require.NoError(t, err)
	assert.Equal(t, "final", remoteEnt.ToMap()["title"])
}

// Scenario 4 (spec §8): a per-op recoverable failure leaves the operation
// pending with an incremented retryCount rather than failing the cycle.
func TestSync_RecoverableFailureRetainsOperationForRetry(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, queue, _ := newHarness(t)

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "flaky"})
	require.NoError(t, local.Push(ctx, task, userID))
	require.NoError(t, queue.Enqueue(ctx, userID, opqueue.Operation{
		UserID: userID, Type: opqueue.OpCreate, EntityID: task.EntityID(), Data: task.ToMap(),
	}))

	remote.FailEntities[task.EntityID()] = &syncerr.NetworkError{Cause: context.DeadlineExceeded}

	result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPushOnly})
	require.NoError(t, err)
	assert.Equal(t, 0, result.SyncedCount)
	assert.Equal(t, 0, result.FailedCount, "a recoverable failure must not terminate the operation")

	pending, err := queue.Pending(ctx, userID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, 1, pending[0].RetryCount)
	assert.False(t, pending[0].LastAttemptAt.IsZero())
}

// An unrecoverable (non-network) push failure terminates the operation
// immediately, surfacing it as a cycle-level failure (spec §4.1
// "markFailed", §4.2 step 2e).
func TestSync_UnrecoverableFailureTerminatesOperation(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, queue, _ := newHarness(t)

	task := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "bad"})
	require.NoError(t, local.Push(ctx, task, userID))
	require.NoError(t, queue.Enqueue(ctx, userID, opqueue.Operation{
		UserID: userID, Type: opqueue.OpCreate, EntityID: task.EntityID(), Data: task.ToMap(),
	}))

	remote.FailEntities[task.EntityID()] = &syncerr.ValidationError{Fields: []string{"title"}}

	result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPushOnly})
	require.NoError(t, err)
	assert.Equal(t, 1, result.FailedCount)
	require.Len(t, result.FailedOperations, 1)
	assert.Equal(t, opqueue.StatusFailed, result.FailedOperations[0].Status)

	pending, err := queue.Pending(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, pending, "a failed operation is no longer pending")
}

// Pull phase: a remote entity with no local counterpart is written through
// as a creation, with the correct DataChange event published.
func TestSync_PullWritesThroughNewRemoteEntity(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, _, pub := newHarness(t)

	remoteEnt := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "from server"})
	remote.Seed(userID, remoteEnt)

	result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPullOnly})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FailedCount)

	localEnt, err := local.GetByID(ctx, remoteEnt.EntityID(), userID)
	require.NoError(t, err)
	require.NotNil(t, localEnt)

	var sawCreated bool

	for _, ev := range pub.snapshot() {
		if dc, ok := ev.(events.DataChange); ok && dc.Kind == adapter.ChangeCreated {
			sawCreated = true
		}
	}

	assert.True(t, sawCreated)
}

// Spec §8 P6 / scenario 3: both sides edited the same base version, so
// LastWriteWins keeps the side modified later (here the remote), and the
// losing side's value never survives.
func TestSync_BothModifiedResolvesWithLastWriteWins(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, _, _ := newHarness(t)

	base := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "base"})
	localEnt := base.With(knownTime.Add(time.Second), map[string]any{"title": "local edit"})
	remoteEnt := base.With(knownTime.Add(2*time.Second), map[string]any{"title": "remote edit"})

	require.NoError(t, local.Push(ctx, localEnt, userID))
	remote.Seed(userID, remoteEnt)

	result, err := eng.Sync(ctx, userID, engine.Options{
		Direction: engine.DirectionPullOnly,
		Resolver:  conflict.LastWriteWinsResolver{},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, result.FailedCount)

	got, err := local.GetByID(ctx, "task-1", userID)
	require.NoError(t, err)
	assert.Equal(t, "remote edit", got.ToMap()["title"], "remote was modified later at the same version and must win")
}

// Spec §4.3: a deletion conflict (one side deleted, the other modified)
// classifies distinctly from both_modified and is routed through the
// resolver rather than silently dropped.
func TestSync_DeletionConflictEscalatesThroughResolver(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, _, pub := newHarness(t)

	base := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "base"})
	localDeleted := base.With(knownTime.Add(time.Second), nil)
	localDeleted.Deleted = true
	remoteEdited := base.With(knownTime.Add(time.Second), map[string]any{"title": "still alive"})

	require.NoError(t, local.Push(ctx, localDeleted, userID))
	remote.Seed(userID, remoteEdited)

	_, err := eng.Sync(ctx, userID, engine.Options{
		Direction: engine.DirectionPullOnly,
		Resolver:  conflict.AskUserResolver{},
	})
	require.NoError(t, err)

	var sawConflict bool

	for _, ev := range pub.snapshot() {
		if _, ok := ev.(events.ConflictDetected); ok {
			sawConflict = true
		}
	}

	assert.True(t, sawConflict)
}

// Spec §4.3 "abort": an aborting resolution increments failedCount for
// that entity only, and never fails the whole cycle.
func TestSync_AbortStrategyFailsOnlyThatEntity(t *testing.T) {
	ctx := context.Background()
	eng, local, remote, _, pub := newHarness(t)

	base := synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "base"})
	localEnt := base.With(knownTime.Add(time.Second), map[string]any{"title": "local edit"})
	remoteEnt := base.With(knownTime.Add(2*time.Second), map[string]any{"title": "remote edit"})

	okEnt := synctest.NewEntity("task-2", userID, 1, knownTime, map[string]any{"title": "untouched"})

	require.NoError(t, local.Push(ctx, localEnt, userID))
	require.NoError(t, local.Push(ctx, okEnt, userID))
	remote.Seed(userID, remoteEnt)
	remote.Seed(userID, okEnt)

	abortResolver := conflict.NewMergeResolver("always_abort", func(_ context.Context, _, _ entity.Entity, _ conflict.Context) (entity.Entity, error) {
		return nil, conflict.ErrMergeImpossible
	})

	result, err := eng.Sync(ctx, userID, engine.Options{
		Direction: engine.DirectionPullOnly,
		Resolver:  abortResolver,
	})
	require.NoError(t, err, "an aborted conflict must not surface as a cycle error")
	assert.Equal(t, 1, result.FailedCount)

	var sawError bool

	for _, ev := range pub.snapshot() {
		if _, ok := ev.(events.Error); ok {
			sawError = true
		}
	}

	assert.True(t, sawError)
}

// slowRemote wraps synctest.RemoteAdapter to hold a pull phase open for the
// duration of a test, so a second concurrent Sync call has a deterministic
// window in which to observe busy-rejection rather than racing a cycle that
// may have already finished.
type slowRemote struct {
	*synctest.RemoteAdapter
	release chan struct{}
}

func (s *slowRemote) FetchAll(ctx context.Context, userID string, scope any) ([]entity.Entity, error) {
	<-s.release

	return s.RemoteAdapter.FetchAll(ctx, userID, scope)
}

// Spec §8 P8: a second concurrent sync for the same user is rejected while
// the first cycle is still active.
func TestSync_RejectsConcurrentCycleForSameUser(t *testing.T) {
	ctx := context.Background()
	local := synctest.NewLocalAdapter()
	remote := &slowRemote{RemoteAdapter: synctest.NewRemoteAdapter(), release: make(chan struct{})}
	queue := opqueue.NewManager(local, opqueue.Config{MaxRetries: 2})
	pub := &recordingPublisher{}

	eng := engine.New(local, remote, queue, pub, engine.Config{
		BatchSize: 10,
		BaseDelay: 10 * time.Millisecond,
		MaxDelay:  50 * time.Millisecond,
		DeviceID:  "device-a",
	})

	remote.Seed(userID, synctest.NewEntity("task-1", userID, 1, knownTime, map[string]any{"title": "slow"}))

	done := make(chan struct{})

	go func() {
		_, _ = eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPullOnly})
		close(done)
	}()

	_, err := waitForBusy(eng, ctx)
	assert.ErrorIs(t, err, syncerr.ErrSyncInProgress)

	close(remote.release)
	<-done
}

func waitForBusy(eng *engine.Engine, ctx context.Context) (engine.Result, error) {
	for i := 0; i < 200; i++ {
		result, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPullOnly})
		if err != nil {
			return result, err
		}

		time.Sleep(time.Millisecond)
	}

	return engine.Result{}, nil
}

// Spec §4.2 "Cancellation & timeout": Cancel trips the per-user context and
// the cycle reports StatusCancelled.
func TestCancel_StopsActiveSyncCycle(t *testing.T) {
	eng, _, remote, _, _ := newHarness(t)

	ctx, cancelParent := context.WithCancel(context.Background())
	defer cancelParent()

	remote.Seed(userID, synctest.NewEntity("task-0", userID, 1, knownTime, map[string]any{"n": 0}))

	go func() {
		time.Sleep(2 * time.Millisecond)
		eng.Cancel(userID)
	}()

	_, err := eng.Sync(ctx, userID, engine.Options{Direction: engine.DirectionPullOnly})
	_ = err

	snap := eng.Status(userID)
	assert.Contains(t, []engine.Status{engine.StatusCancelled, engine.StatusCompleted}, snap.Status)
}

var knownTime = time.Unix(1700000000, 0)
