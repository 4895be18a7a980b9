// Package engine implements the Sync Engine (spec §4.2): executes a full
// push/pull cycle for one user with at-most-one concurrent cycle per user,
// dispatches conflicts to the conflict package, and tracks per-user status
// snapshots. Grounded on the teacher's Engine.RunOnce observe→plan→execute
// cycle (internal/sync/engine.go) and its worker pool's errgroup-based
// fan-out (internal/sync/worker.go), adapted from file-sync actions to
// generic entity push/pull.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/conflict"
	"github.com/tonimelisma/synckit/entity"
	"github.com/tonimelisma/synckit/events"
	"github.com/tonimelisma/synckit/opqueue"
	"github.com/tonimelisma/synckit/syncerr"
)

// Direction selects which phases of a cycle run (spec §4.2 "direction").
type Direction string

// Recognized directions.
const (
	DirectionPushThenPull Direction = "pushThenPull"
	DirectionPullThenPush Direction = "pullThenPush"
	DirectionPushOnly     Direction = "pushOnly"
	DirectionPullOnly     Direction = "pullOnly"
)

// Status is a per-user sync cycle lifecycle state (spec §4.2 step 1/5
// "Transition snapshot").
type Status string

// Recognized statuses.
const (
	StatusIdle      Status = "idle"
	StatusSyncing   Status = "syncing"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusFailed    Status = "failed"
	StatusCompleted Status = "completed"
)

// StatusSnapshot is the observable state the facade exposes for a user
// (spec.md:59 "Sync Status Snapshot").
type StatusSnapshot struct {
	UserID            string
	Status            Status
	PendingCount      int
	SyncedCount       int
	FailedCount       int
	ConflictsResolved int
	Progress          float64 // in [0,1]; set to 1 when a cycle completes successfully
	LastStartedAt     time.Time
	LastSyncedAt      time.Time // last successful completion, retained for callers keyed on it
	LastCompletedAt   time.Time
	Errors            []string
}

// Options customizes a single Sync call (spec §4.2 "Public contract").
type Options struct {
	Direction         Direction
	Scope             any
	Resolver          conflict.Resolver
	ForceFullSync     bool
	OverrideBatchSize int
	Timeout           time.Duration
}

// Result is the aggregate outcome of one cycle (spec §4.2 "Public
// contract").
type Result struct {
	SyncedCount       int
	FailedCount       int
	ConflictsResolved int
	Duration          time.Duration
	FailedOperations  []opqueue.Operation
}

// EventPublisher is the narrow slice of events.Hub the engine depends on, so
// engine tests can substitute a recording fake.
type EventPublisher interface {
	Publish(ev events.SyncEvent)
}

// Config holds Engine construction options.
type Config struct {
	BatchSize       int
	BaseDelay       time.Duration
	MaxDelay        time.Duration
	DeviceID        string
	DefaultResolver conflict.Resolver
	Logger          *slog.Logger
}

const (
	// DefaultBatchSize is used when Config.BatchSize is zero.
	DefaultBatchSize = 25
	// DefaultBaseDelay is the first retry backoff step.
	DefaultBaseDelay = 1 * time.Second
	// DefaultMaxDelay caps the exponential backoff (spec §4.2 "Retry &
	// backoff").
	DefaultMaxDelay = 5 * time.Minute
	// onlineDebounce coalesces multiple connectivity-online events within
	// this window into a single triggered sync (spec §4.2 "Auto-sync loop").
	onlineDebounce = 1 * time.Second
)

// errSyncInProgress signals the preflight check failed (spec §4.2 step 1).
var errSyncInProgress = syncerr.ErrSyncInProgress

// Engine is the Sync Engine (spec §4.2). Safe for concurrent use across
// users; at most one cycle runs per user at a time (spec §8 P8).
type Engine struct {
	local    adapter.LocalAdapter
	remote   adapter.RemoteAdapter
	queue    *opqueue.Manager
	resolver conflict.Resolver
	events   EventPublisher
	logger   *slog.Logger

	batchSize int
	baseDelay time.Duration
	maxDelay  time.Duration
	deviceID  string

	mu        sync.Mutex
	active    map[string]context.CancelFunc
	snapshots map[string]*StatusSnapshot
	paused    map[string]bool
	seen      map[string]map[dedupeKey]struct{} // userID -> seen external changes
}

type dedupeKey struct {
	entityID       string
	version        int
	sourceDeviceID string
}

// New creates a Sync Engine over local/remote adapters and a Queue Manager.
func New(local adapter.LocalAdapter, remote adapter.RemoteAdapter, queue *opqueue.Manager, pub EventPublisher, cfg Config) *Engine {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = DefaultBaseDelay
	}

	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = DefaultMaxDelay
	}

	resolver := cfg.DefaultResolver
	if resolver == nil {
		resolver = conflict.LastWriteWinsResolver{}
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Engine{
		local:     local,
		remote:    remote,
		queue:     queue,
		resolver:  resolver,
		events:    pub,
		logger:    logger,
		batchSize: batchSize,
		baseDelay: baseDelay,
		maxDelay:  maxDelay,
		deviceID:  cfg.DeviceID,
		active:    make(map[string]context.CancelFunc),
		snapshots: make(map[string]*StatusSnapshot),
		paused:    make(map[string]bool),
		seen:      make(map[string]map[dedupeKey]struct{}),
	}
}

// Status returns the last known snapshot for userID, or an idle snapshot if
// none has run yet.
func (e *Engine) Status(userID string) StatusSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, ok := e.snapshots[userID]
	if !ok {
		return StatusSnapshot{UserID: userID, Status: StatusIdle}
	}

	return *snap
}

func (e *Engine) snapshotFor(userID string) *StatusSnapshot {
	snap, ok := e.snapshots[userID]
	if !ok {
		snap = &StatusSnapshot{UserID: userID}
		e.snapshots[userID] = snap
	}

	return snap
}

// startSnapshot marks userID's snapshot as entering a new cycle (spec §4.2
// step 1 "Transition snapshot").
func (e *Engine) startSnapshot(userID string, pending int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshotFor(userID)
	snap.Status = StatusSyncing
	snap.PendingCount = pending
	snap.SyncedCount = 0
	snap.FailedCount = 0
	snap.ConflictsResolved = 0
	snap.Progress = 0
	snap.LastStartedAt = time.Now()
	snap.Errors = nil
}

// progressSnapshot updates the live progress fraction for an in-flight
// cycle (spec.md:59 "progress ∈ [0,1]").
func (e *Engine) progressSnapshot(userID string, completed, total int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshotFor(userID)

	if total > 0 {
		snap.Progress = float64(completed) / float64(total)
	}
}

// finishSnapshot records a cycle's outcome (spec §4.2 step 5 "Transition
// snapshot").
func (e *Engine) finishSnapshot(userID string, status Status, pending int, result Result, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshotFor(userID)
	snap.Status = status
	snap.PendingCount = pending
	snap.SyncedCount = result.SyncedCount
	snap.FailedCount = result.FailedCount
	snap.ConflictsResolved = result.ConflictsResolved

	if errMsg != "" {
		snap.Errors = append(snap.Errors, errMsg)
	}

	if status == StatusCompleted {
		snap.Progress = 1
		snap.LastSyncedAt = time.Now()
		snap.LastCompletedAt = time.Now()
	}
}

// pausedSnapshot marks userID's snapshot as paused without disturbing its
// last recorded counters (spec.md:59 "paused").
func (e *Engine) pausedSnapshot(userID string) {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := e.snapshotFor(userID)
	snap.Status = StatusPaused
}

// Cancel trips the cancellation signal for userID's active cycle, if any
// (spec §4.2 "Cancellation & timeout").
func (e *Engine) Cancel(userID string) {
	e.mu.Lock()
	cancel, ok := e.active[userID]
	e.mu.Unlock()

	if ok {
		cancel()
	}
}

// Pause marks userID as paused (spec.md:59 "paused" status): any active
// cycle is cancelled immediately, and subsequent Sync calls are rejected
// with syncerr.ErrSyncPaused until Resume is called.
func (e *Engine) Pause(userID string) {
	e.mu.Lock()
	e.paused[userID] = true
	cancel, busy := e.active[userID]
	e.mu.Unlock()

	if busy {
		cancel()
	}

	e.pausedSnapshot(userID)
}

// Resume clears userID's paused flag, allowing Sync calls to proceed again.
func (e *Engine) Resume(userID string) {
	e.mu.Lock()
	delete(e.paused, userID)

	if snap, ok := e.snapshots[userID]; ok && snap.Status == StatusPaused {
		snap.Status = StatusIdle
	}

	e.mu.Unlock()
}

// IsPaused reports whether userID's sync loop is currently paused.
func (e *Engine) IsPaused(userID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.paused[userID]
}

// Sync executes one full sync cycle for userID (spec §4.2 "Cycle
// algorithm").
func (e *Engine) Sync(ctx context.Context, userID string, opts Options) (Result, error) {
	start := time.Now()

	e.mu.Lock()
	if _, busy := e.active[userID]; busy {
		e.mu.Unlock()

		return Result{}, fmt.Errorf("engine: sync %s: %w", userID, errSyncInProgress)
	}

	if e.paused[userID] {
		e.mu.Unlock()

		return Result{}, fmt.Errorf("engine: sync %s: %w", userID, syncerr.ErrSyncPaused)
	}

	cctx := ctx
	var cancel context.CancelFunc

	if opts.Timeout > 0 {
		cctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	} else {
		cctx, cancel = context.WithCancel(ctx)
	}

	e.active[userID] = cancel
	e.mu.Unlock()

	defer func() {
		cancel()
		e.mu.Lock()
		delete(e.active, userID)
		e.mu.Unlock()
	}()

	direction := opts.Direction
	if direction == "" {
		direction = DirectionPushThenPull
	}

	batchSize := e.batchSize
	if opts.OverrideBatchSize > 0 {
		batchSize = opts.OverrideBatchSize
	}

	resolver := e.resolver
	if opts.Resolver != nil {
		resolver = opts.Resolver
	}

	pending, err := e.queue.Pending(cctx, userID)
	if err != nil {
		return Result{}, fmt.Errorf("engine: sync %s: loading pending: %w", userID, err)
	}

	e.publish(events.NewStarted(userID, len(pending)))
	e.startSnapshot(userID, len(pending))

	result := Result{}
	var cycleErr error

	runPush := direction == DirectionPushThenPull || direction == DirectionPullThenPush || direction == DirectionPushOnly
	runPull := direction == DirectionPushThenPull || direction == DirectionPullThenPush || direction == DirectionPullOnly

	if direction == DirectionPullThenPush && runPull {
		if err := e.pullPhase(cctx, userID, opts.Scope, resolver, &result); err != nil {
			cycleErr = err
		}
	}

	if cycleErr == nil && runPush {
		if err := e.pushPhase(cctx, userID, batchSize, &result); err != nil {
			cycleErr = err
		}
	}

	if cycleErr == nil && direction != DirectionPullThenPush && runPull {
		if err := e.pullPhase(cctx, userID, opts.Scope, resolver, &result); err != nil {
			cycleErr = err
		}
	}

	if cycleErr == nil {
		if err := e.updateMetadata(cctx, userID); err != nil {
			cycleErr = err
		}
	}

	result.Duration = time.Since(start)

	status := StatusCompleted
	errMsg := ""

	switch {
	case errors.Is(cctx.Err(), context.Canceled) && ctx.Err() == nil:
		status = StatusCancelled
		errMsg = cctx.Err().Error()
		cycleErr = fmt.Errorf("engine: sync %s: %w", userID, cctx.Err())

		e.publish(events.NewError(userID, cycleErr, true))
	case cctx.Err() != nil:
		status = StatusFailed
		errMsg = cctx.Err().Error()
		cycleErr = fmt.Errorf("engine: sync %s: %w", userID, cctx.Err())

		e.publish(events.NewError(userID, cycleErr, true))
	case cycleErr != nil:
		status = StatusFailed
		errMsg = cycleErr.Error()

		e.publish(events.NewError(userID, cycleErr, syncerr.Recoverable(cycleErr)))
	case result.FailedCount > 0:
		status = StatusFailed
	}

	remaining, _ := e.queue.Pending(context.Background(), userID)
	e.finishSnapshot(userID, status, len(remaining), result, errMsg)

	if status == StatusCompleted {
		e.publish(events.NewCompleted(userID, result.SyncedCount, result.FailedCount, result.ConflictsResolved, result.Duration))
	}

	if cycleErr != nil {
		return result, cycleErr
	}

	return result, nil
}

// pushPhase drains the queue in batches, applying each operation to the
// remote (spec §4.2 step 2).
func (e *Engine) pushPhase(ctx context.Context, userID string, batchSize int, result *Result) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil //nolint:nilerr // cancellation/timeout is reported by the caller via ctx.Err()
		}

		ops, err := e.queue.Pending(ctx, userID)
		if err != nil {
			return fmt.Errorf("engine: push phase: loading pending: %w", err)
		}

		now := time.Now()

		due := make([]opqueue.Operation, 0, len(ops))

		for _, op := range ops {
			if eligible(op, e.baseDelay, e.maxDelay, now) {
				due = append(due, op)
			}
		}

		if len(due) == 0 {
			return nil
		}

		batch := due
		if len(batch) > batchSize {
			batch = batch[:batchSize]
		}

		total := result.SyncedCount + result.FailedCount + len(due)

		for _, op := range batch {
			if err := ctx.Err(); err != nil {
				return nil //nolint:nilerr
			}

			if err := e.pushOne(ctx, userID, op, result); err != nil {
				return err
			}

			e.publish(events.NewProgress(userID, result.SyncedCount+result.FailedCount, total))
			e.progressSnapshot(userID, result.SyncedCount+result.FailedCount, total)
		}

		if len(due) <= batchSize {
			return nil
		}
	}
}

func (e *Engine) pushOne(ctx context.Context, userID string, op opqueue.Operation, result *Result) error {
	var pushErr error
	var modified entity.Entity

	switch op.Type {
	case opqueue.OpCreate:
		ent, buildErr := entityFromData(op.EntityID, userID, op.Data)
		if buildErr != nil {
			pushErr = buildErr

			break
		}

		modified, pushErr = e.remote.Push(ctx, ent, userID)
	case opqueue.OpUpdate:
		// op.Data is a field-level diff against the prior version (spec
		// §4.2 step 2b), not a full snapshot: it is a true delta when the
		// remote supports Patch, but a RemoteAdapter without that
		// capability needs the complete current entity, which only the
		// local adapter's write-through copy holds.
		if patcher, ok := e.remote.(adapter.RemotePatchCapable); ok {
			modified, pushErr = patcher.Patch(ctx, op.EntityID, userID, entity.Delta(op.Data))
		} else {
			full, lookupErr := e.local.GetByID(ctx, op.EntityID, userID)
			if lookupErr != nil {
				pushErr = fmt.Errorf("engine: push %s: loading full snapshot for push fallback: %w", op.EntityID, lookupErr)

				break
			}

			if full == nil {
				pushErr = fmt.Errorf("engine: push %s: update operation but no local copy to push", op.EntityID)

				break
			}

			modified, pushErr = e.remote.Push(ctx, full, userID)
		}
	case opqueue.OpDelete:
		pushErr = e.remote.DeleteRemote(ctx, op.EntityID, userID)
	}

	if pushErr != nil {
		recoverable := syncerr.Recoverable(pushErr)

		failed, markErr := e.queue.MarkFailed(ctx, userID, op.ID, pushErr.Error(), recoverable)
		if markErr != nil {
			return fmt.Errorf("engine: push %s: marking failed: %w", op.EntityID, markErr)
		}

		if failed.Status == opqueue.StatusFailed {
			result.FailedCount++
			result.FailedOperations = append(result.FailedOperations, failed)
		}

		return nil
	}

	if err := e.queue.MarkSynced(ctx, op.ID); err != nil {
		return fmt.Errorf("engine: push %s: marking synced: %w", op.EntityID, err)
	}

	result.SyncedCount++

	if modified != nil {
		if err := e.local.Push(ctx, modified, userID); err != nil {
			return fmt.Errorf("engine: push %s: writing server copy locally: %w", op.EntityID, err)
		}

		e.publish(events.NewDataChange(userID, op.EntityID, kindForOp(op.Type), events.SourceRemote))
	}

	return nil
}

func kindForOp(t opqueue.OpType) adapter.ChangeKind {
	switch t {
	case opqueue.OpCreate:
		return adapter.ChangeCreated
	case opqueue.OpDelete:
		return adapter.ChangeDeleted
	default:
		return adapter.ChangeUpdated
	}
}

func entityFromData(id, userID string, data map[string]any) (entity.Entity, error) {
	if data == nil {
		return nil, fmt.Errorf("engine: operation for %s has no payload", id)
	}

	return mapEntity{id: id, userID: userID, data: data}, nil
}

// pullPhase fetches the full remote set and reconciles it against local
// state (spec §4.2 step 3), using an errgroup-bounded worker pool so
// independent entities reconcile concurrently — mirrors the teacher's
// worker-pool fan-out (internal/sync/worker.go) adapted to conflict
// resolution instead of file transfer.
func (e *Engine) pullPhase(ctx context.Context, userID string, scope any, resolver conflict.Resolver, result *Result) error {
	remoteEntities, err := e.remote.FetchAll(ctx, userID, scope)
	if err != nil {
		return fmt.Errorf("engine: pull phase: fetch all: %w", err)
	}

	seenRemote := make(map[string]struct{}, len(remoteEntities))
	for _, remoteEnt := range remoteEntities {
		seenRemote[remoteEnt.EntityID()] = struct{}{}
	}

	localOnly, err := e.localOnlyEntities(ctx, userID, seenRemote)
	if err != nil {
		return err
	}

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(pullConcurrency)

	var mu sync.Mutex

	record := func(outcome reconcileOutcome) {
		mu.Lock()
		result.ConflictsResolved += outcome.conflictsResolved

		if outcome.failed {
			result.FailedCount++
		}

		mu.Unlock()
	}

	for _, remoteEnt := range remoteEntities {
		remoteEnt := remoteEnt

		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil //nolint:nilerr
			}

			outcome, err := e.reconcileOne(gctx, userID, remoteEnt, resolver)
			if err != nil {
				return err
			}

			record(outcome)

			return nil
		})
	}

	for _, localEnt := range localOnly {
		localEnt := localEnt

		grp.Go(func() error {
			if err := gctx.Err(); err != nil {
				return nil //nolint:nilerr
			}

			outcome, err := e.reconcileLocalOnly(gctx, userID, localEnt, resolver)
			if err != nil {
				return err
			}

			record(outcome)

			return nil
		})
	}

	return grp.Wait()
}

// localOnlyEntities returns every local entity not present in seenRemote
// and not already tracked by a pending operation — candidates for
// local_not_synced classification (spec.md:142 "Local present with no
// remote record, and no pending op records it → local_not_synced").
// FetchAll's result is the authority on what the remote set currently
// holds; an entity missing from it with nothing queued to create it there
// is otherwise never reconciled.
func (e *Engine) localOnlyEntities(ctx context.Context, userID string, seenRemote map[string]struct{}) ([]entity.Entity, error) {
	locals, err := e.local.GetAll(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: pull phase: loading local set: %w", err)
	}

	pending, err := e.queue.Pending(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("engine: pull phase: loading pending: %w", err)
	}

	queued := make(map[string]struct{}, len(pending))
	for _, op := range pending {
		queued[op.EntityID] = struct{}{}
	}

	out := make([]entity.Entity, 0)

	for _, localEnt := range locals {
		if _, ok := seenRemote[localEnt.EntityID()]; ok {
			continue
		}

		if _, ok := queued[localEnt.EntityID()]; ok {
			continue
		}

		out = append(out, localEnt)
	}

	return out, nil
}

// reconcileLocalOnly classifies and resolves a local entity the pull phase
// found with no corresponding remote record and no pending op (spec §4.3,
// conflict.TypeLocalNotSynced). Mirrors reconcileOne's resolution dispatch
// with remote held nil throughout.
func (e *Engine) reconcileLocalOnly(ctx context.Context, userID string, localEnt entity.Entity, resolver conflict.Resolver) (reconcileOutcome, error) {
	ctype := conflict.Classify(localEnt, nil, false)

	if ctype != conflict.TypeLocalNotSynced {
		// Classify only ever returns local_not_synced for a (local, nil,
		// false) triple; a different result means Classify's rules changed
		// underneath this call site.
		return reconcileOutcome{}, fmt.Errorf("engine: reconcile local-only %s: unexpected classification %q", localEnt.EntityID(), ctype)
	}

	cctx := conflict.Context{
		UserID:     userID,
		EntityID:   localEnt.EntityID(),
		Type:       ctype,
		Local:      localEnt,
		Remote:     nil,
		DetectedAt: time.Now(),
	}

	res, err := resolver.Resolve(ctx, localEnt, nil, cctx)
	if err != nil {
		return reconcileOutcome{}, fmt.Errorf("engine: reconcile local-only %s: resolver: %w", localEnt.EntityID(), err)
	}

	return e.applyResolution(ctx, userID, localEnt.EntityID(), res, cctx)
}

const pullConcurrency = 8

type reconcileOutcome struct {
	conflictsResolved int
	failed            bool
}

// reconcileOne applies classification + resolution for a single remote
// entity against its local counterpart (spec §4.2 step 3, §4.3).
func (e *Engine) reconcileOne(ctx context.Context, userID string, remoteEnt entity.Entity, resolver conflict.Resolver) (reconcileOutcome, error) {
	localEnt, err := e.local.GetByID(ctx, remoteEnt.EntityID(), userID)
	if err != nil {
		return reconcileOutcome{}, fmt.Errorf("engine: reconcile %s: local lookup: %w", remoteEnt.EntityID(), err)
	}

	if localEnt == nil {
		if err := e.local.Push(ctx, remoteEnt, userID); err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: reconcile %s: write-through: %w", remoteEnt.EntityID(), err)
		}

		e.publish(events.NewDataChange(userID, remoteEnt.EntityID(), adapter.ChangeCreated, events.SourceRemote))

		return reconcileOutcome{}, nil
	}

	// A push of entity E completes before a pull writes a remote version of
	// E into the same cycle: once that push lands, local already holds the
	// server-assigned version, so a pulled copy strictly behind it is stale
	// (spec §4.2 "Ordering & determinism"). A pulled copy at the same
	// version AND the same modifiedAt is the same push settling back
	// through the pull — also a no-op. Anything else at an equal version
	// (same version, different modifiedAt) is two independent edits that
	// coincidentally landed on the same version number: exactly the
	// both_modified case Classify exists to catch, so it is not discarded
	// here.
	stale := !localEnt.IsDeleted() && !remoteEnt.IsDeleted() && remoteEnt.Version() <= localEnt.Version() &&
		(remoteEnt.Version() < localEnt.Version() || remoteEnt.ModifiedAt().Equal(localEnt.ModifiedAt()))
	if stale {
		return reconcileOutcome{}, nil
	}

	pending, err := e.queue.Pending(ctx, userID)
	if err != nil {
		return reconcileOutcome{}, fmt.Errorf("engine: reconcile %s: loading pending: %w", remoteEnt.EntityID(), err)
	}

	hasPendingOp := false

	for _, op := range pending {
		if op.EntityID == remoteEnt.EntityID() {
			hasPendingOp = true

			break
		}
	}

	ctype := conflict.Classify(localEnt, remoteEnt, hasPendingOp)

	if ctype == conflict.TypeBothModified || ctype == conflict.TypeDeletionConflict || ctype == conflict.TypeUserMismatch {
		cctx := conflict.Context{
			UserID:     userID,
			EntityID:   remoteEnt.EntityID(),
			Type:       ctype,
			Local:      localEnt,
			Remote:     remoteEnt,
			DetectedAt: time.Now(),
		}

		active := resolver
		if ctype == conflict.TypeUserMismatch {
			active = conflict.AskUserResolver{}
		}

		res, err := active.Resolve(ctx, localEnt, remoteEnt, cctx)
		if err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: reconcile %s: resolver: %w", remoteEnt.EntityID(), err)
		}

		return e.applyResolution(ctx, userID, remoteEnt.EntityID(), res, cctx)
	}

	// Plain remote update with no live conflict: write through.
	if err := e.local.Push(ctx, remoteEnt, userID); err != nil {
		return reconcileOutcome{}, fmt.Errorf("engine: reconcile %s: write-through: %w", remoteEnt.EntityID(), err)
	}

	e.publish(events.NewDataChange(userID, remoteEnt.EntityID(), adapter.ChangeUpdated, events.SourceRemote))

	return reconcileOutcome{}, nil
}

// applyResolution applies a conflict.Resolution's outcome (spec §4.3
// "Outcome application").
func (e *Engine) applyResolution(ctx context.Context, userID, entityID string, res conflict.Resolution, cctx conflict.Context) (reconcileOutcome, error) {
	switch res.Strategy {
	case conflict.StrategyUseLocal:
		if _, err := e.remote.Push(ctx, res.Resolved, userID); err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: apply resolution %s: push local: %w", entityID, err)
		}

		return reconcileOutcome{}, nil
	case conflict.StrategyUseRemote:
		if err := e.local.Push(ctx, res.Resolved, userID); err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: apply resolution %s: write remote: %w", entityID, err)
		}

		e.publish(events.NewDataChange(userID, entityID, adapter.ChangeUpdated, events.SourceRemote))

		return reconcileOutcome{}, nil
	case conflict.StrategyMerge:
		if err := e.local.Push(ctx, res.Resolved, userID); err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: apply resolution %s: write merged: %w", entityID, err)
		}

		if _, err := e.remote.Push(ctx, res.Resolved, userID); err != nil {
			return reconcileOutcome{}, fmt.Errorf("engine: apply resolution %s: push merged: %w", entityID, err)
		}

		e.publish(events.NewDataChange(userID, entityID, adapter.ChangeUpdated, events.SourceMerged))

		return reconcileOutcome{conflictsResolved: 1}, nil
	case conflict.StrategyAskUser:
		e.publish(events.NewConflictDetected(userID, entityID, mapFromEntity(cctx.Local), mapFromEntity(cctx.Remote)))

		return reconcileOutcome{}, nil
	case conflict.StrategyAbort:
		// abort leaves state untouched and does not fail the whole cycle —
		// only this entity's reconciliation counts as failed (spec §4.3
		// "abort: leave state untouched; increment failedCount").
		e.publish(events.NewConflictDetected(userID, entityID, mapFromEntity(cctx.Local), mapFromEntity(cctx.Remote)))
		e.publish(events.NewError(userID, fmt.Errorf("engine: conflict aborted for %s: %s", entityID, res.Message), false))

		return reconcileOutcome{failed: true}, nil
	default:
		return reconcileOutcome{}, fmt.Errorf("engine: unrecognized resolution strategy %q", res.Strategy)
	}
}

// updateMetadata computes the canonical dataHash and persists SyncMetadata
// on both adapters (spec §4.2 step 4).
func (e *Engine) updateMetadata(ctx context.Context, userID string) error {
	entities, err := e.local.GetAll(ctx, userID)
	if err != nil {
		return fmt.Errorf("engine: update metadata: loading local set: %w", err)
	}

	hash, err := entity.CanonicalHash(entities)
	if err != nil {
		return fmt.Errorf("engine: update metadata: hashing: %w", err)
	}

	meta := &adapter.SyncMetadata{
		UserID:       userID,
		LastSyncTime: time.Now().UnixNano(),
		DataHash:     hash,
		ItemCount:    len(entities),
		DeviceID:     e.deviceID,
	}

	if err := e.local.UpdateSyncMetadata(ctx, meta, userID); err != nil {
		return fmt.Errorf("engine: update metadata: local: %w", err)
	}

	if err := e.remote.UpdateSyncMetadata(ctx, meta, userID); err != nil {
		return fmt.Errorf("engine: update metadata: remote: %w", err)
	}

	return nil
}

func (e *Engine) publish(ev events.SyncEvent) {
	if e.events == nil {
		return
	}

	e.events.Publish(ev)
}
