// Package opqueue implements the Queue Manager (spec §4.1): a durable
// per-user operation log with coalescing, retry accounting, and atomic
// draining. Persistence is delegated to a consumer-supplied
// adapter.LocalAdapter; the manager itself owns only the in-memory
// per-user mutex that guards the coalesce-then-persist step and a
// lightweight change-notification channel, grounded on the teacher's
// Ledger (wraps *sql.DB, owns no rows of its own) and DepTracker
// (Ready()/Done() channel) patterns (internal/sync/ledger.go, tracker.go).
package opqueue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/synckit/adapter"
)

// DefaultMaxRetries is used when Config.MaxRetries is zero.
const DefaultMaxRetries = 5

// Config holds Manager construction options.
type Config struct {
	MaxRetries int
	Logger     *slog.Logger
}

// Manager is the Queue Manager (spec §4.1). Safe for concurrent use across
// users; operations for a single user are serialized by a per-user mutex.
type Manager struct {
	local      adapter.LocalAdapter
	maxRetries int
	logger     *slog.Logger

	mu         sync.Mutex // guards userLocks and opOwners
	userLocks  map[string]*sync.Mutex
	opOwners   map[string]string // opID -> userID, for notify targeting
	notifiers  map[string]chan struct{}
}

// NewManager creates a Queue Manager backed by local for persistence.
func NewManager(local adapter.LocalAdapter, cfg Config) *Manager {
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = DefaultMaxRetries
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		local:      local,
		maxRetries: maxRetries,
		logger:     logger,
		userLocks:  make(map[string]*sync.Mutex),
		opOwners:   make(map[string]string),
		notifiers:  make(map[string]chan struct{}),
	}
}

// lockFor returns (creating if needed) the mutex guarding userID's queue.
func (m *Manager) lockFor(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		m.userLocks[userID] = l
	}

	return l
}

// notifyChanFor returns (creating if needed) the notification channel for
// userID. The channel is buffered 1 and signalled non-blockingly, so a
// burst of enqueues collapses into a single wakeup — callers drain and
// re-check state rather than count wakeups (teacher's
// DepTracker.Ready()/Done() convention).
func (m *Manager) notifyChanFor(userID string) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.notifiers[userID]
	if !ok {
		ch = make(chan struct{}, 1)
		m.notifiers[userID] = ch
	}

	return ch
}

// Notify returns a channel that receives a value whenever userID's pending
// queue changes (enqueue, markSynced, markFailed, clear), so a caller can
// wait on it instead of polling Pending.
func (m *Manager) Notify(userID string) <-chan struct{} {
	return m.notifyChanFor(userID)
}

func (m *Manager) signal(userID string) {
	ch := m.notifyChanFor(userID)
	select {
	case ch <- struct{}{}:
	default:
	}
}

// toStored converts an in-memory Operation to its adapter storage shape.
func toStored(op Operation) adapter.StoredOperation {
	var lastAttempt int64
	if !op.LastAttemptAt.IsZero() {
		lastAttempt = op.LastAttemptAt.UnixNano()
	}

	return adapter.StoredOperation{
		ID:            op.ID,
		UserID:        op.UserID,
		Type:          string(op.Type),
		EntityID:      op.EntityID,
		Data:          op.Data,
		Timestamp:     op.Timestamp.UnixNano(),
		RetryCount:    op.RetryCount,
		Status:        string(op.Status),
		LastAttemptAt: lastAttempt,
	}
}

func fromStored(s adapter.StoredOperation) Operation {
	var lastAttempt time.Time
	if s.LastAttemptAt != 0 {
		lastAttempt = time.Unix(0, s.LastAttemptAt)
	}

	return Operation{
		ID:            s.ID,
		UserID:        s.UserID,
		Type:          OpType(s.Type),
		EntityID:      s.EntityID,
		Data:          s.Data,
		Timestamp:     time.Unix(0, s.Timestamp),
		RetryCount:    s.RetryCount,
		Status:        OpStatus(s.Status),
		LastAttemptAt: lastAttempt,
	}
}

// Enqueue durably appends op (spec §4.1 "enqueue"). If a pending operation
// already exists for op.EntityID, the two are coalesced per §4.1 before
// being persisted; after Enqueue returns, the (possibly coalesced) result
// is visible to Pending(userID).
func (m *Manager) Enqueue(ctx context.Context, userID string, op Operation) error {
	if userID == "" || op.UserID != userID {
		return fmt.Errorf("opqueue: enqueue: op.UserID %q must equal userID %q", op.UserID, userID)
	}

	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if op.Status == "" {
		op.Status = StatusPending
	}

	if op.Timestamp.IsZero() {
		op.Timestamp = time.Now()
	}

	stored, err := m.local.GetPendingOperations(ctx, userID)
	if err != nil {
		return fmt.Errorf("opqueue: enqueue: loading pending: %w", err)
	}

	var existing *Operation

	for i := range stored {
		cur := fromStored(stored[i])
		if cur.EntityID == op.EntityID && isLive(cur.Status) {
			o := cur
			existing = &o

			break
		}
	}

	if existing == nil {
		if err := m.local.AddPendingOperation(ctx, userID, toStored(op)); err != nil {
			return fmt.Errorf("opqueue: enqueue: persisting: %w", err)
		}

		m.trackOwner(op.ID, userID)
		m.signal(userID)

		return nil
	}

	outcome, merged := coalesce(*existing, op)

	switch outcome {
	case coalesceDropBoth:
		if err := m.local.MarkAsSynced(ctx, existing.ID); err != nil {
			return fmt.Errorf("opqueue: enqueue: dropping coalesced create: %w", err)
		}

		m.forgetOwner(existing.ID)
	case coalesceKeepExisting:
		// No persistence change: the incoming op is discarded.
	case coalesceReplace:
		if err := m.local.MarkAsSynced(ctx, existing.ID); err != nil {
			return fmt.Errorf("opqueue: enqueue: replacing coalesced op: %w", err)
		}

		m.forgetOwner(existing.ID)

		if merged.ID == "" {
			merged.ID = op.ID
		}

		if err := m.local.AddPendingOperation(ctx, userID, toStored(merged)); err != nil {
			return fmt.Errorf("opqueue: enqueue: persisting coalesced op: %w", err)
		}

		m.trackOwner(merged.ID, userID)
	}

	m.signal(userID)

	return nil
}

func isLive(s OpStatus) bool {
	return s == StatusPending || s == StatusInProgress
}

func (m *Manager) trackOwner(opID, userID string) {
	m.mu.Lock()
	m.opOwners[opID] = userID
	m.mu.Unlock()
}

func (m *Manager) forgetOwner(opID string) {
	m.mu.Lock()
	delete(m.opOwners, opID)
	m.mu.Unlock()
}

func (m *Manager) ownerOf(opID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.opOwners[opID]

	return u, ok
}

// Pending returns the FIFO-ordered (by enqueue order, for distinct
// entities) list of non-terminal operations for userID (spec §4.1
// "pending").
func (m *Manager) Pending(ctx context.Context, userID string) ([]Operation, error) {
	stored, err := m.local.GetPendingOperations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("opqueue: pending: %w", err)
	}

	ops := make([]Operation, 0, len(stored))

	for _, s := range stored {
		op := fromStored(s)
		if isLive(op.Status) {
			ops = append(ops, op)
			m.trackOwner(op.ID, userID)
		}
	}

	return ops, nil
}

// MarkSynced marks opID as completed and removes it from the pending set
// (spec §4.1 "markSynced"). Idempotent: marking a missing id is a no-op.
func (m *Manager) MarkSynced(ctx context.Context, opID string) error {
	if err := m.local.MarkAsSynced(ctx, opID); err != nil {
		return fmt.Errorf("opqueue: mark synced %s: %w", opID, err)
	}

	if userID, ok := m.ownerOf(opID); ok {
		m.forgetOwner(opID)
		m.signal(userID)
	}

	return nil
}

// errOpNotFound is returned by MarkFailed when opID is not a known pending
// operation for any tracked user.
var errOpNotFound = errors.New("opqueue: operation not found")

// MarkFailed increments opID's retryCount (spec §4.1 "markFailed"). If the
// resulting retryCount exceeds maxRetries, or recoverable is false, the
// operation transitions to failed and is no longer returned by Pending;
// otherwise it remains pending with the incremented count.
func (m *Manager) MarkFailed(ctx context.Context, userID, opID, reason string, recoverable bool) (Operation, error) {
	stored, err := m.local.GetPendingOperations(ctx, userID)
	if err != nil {
		return Operation{}, fmt.Errorf("opqueue: mark failed: loading pending: %w", err)
	}

	var found *Operation

	for i := range stored {
		cur := fromStored(stored[i])
		if cur.ID == opID {
			found = &cur

			break
		}
	}

	if found == nil {
		return Operation{}, errOpNotFound
	}

	found.RetryCount++
	found.LastAttemptAt = time.Now()

	if found.RetryCount > m.maxRetries || !recoverable {
		found.Status = StatusFailed
	} else {
		found.Status = StatusPending
	}

	if err := m.local.AddPendingOperation(ctx, userID, toStored(*found)); err != nil {
		return Operation{}, fmt.Errorf("opqueue: mark failed: persisting %s: %w", opID, err)
	}

	m.logger.Warn("operation failed",
		slog.String("op_id", opID),
		slog.String("reason", reason),
		slog.Bool("recoverable", recoverable),
		slog.Int("retry_count", found.RetryCount),
		slog.String("status", string(found.Status)),
	)

	if found.Status == StatusFailed {
		m.forgetOwner(opID)
	}

	m.signal(userID)

	return *found, nil
}

// Clear removes all pending operations for userID (spec §4.1 "clear").
// This only drains the operation queue; it does not touch entity data —
// that is LocalAdapter.ClearUserData's job (used by the user-switch layer,
// not the queue manager).
func (m *Manager) Clear(ctx context.Context, userID string) error {
	lock := m.lockFor(userID)
	lock.Lock()
	defer lock.Unlock()

	stored, err := m.local.GetPendingOperations(ctx, userID)
	if err != nil {
		return fmt.Errorf("opqueue: clear %s: loading pending: %w", userID, err)
	}

	for _, s := range stored {
		if err := m.local.MarkAsSynced(ctx, s.ID); err != nil {
			return fmt.Errorf("opqueue: clear %s: removing %s: %w", userID, s.ID, err)
		}
	}

	m.mu.Lock()

	for id, u := range m.opOwners {
		if u == userID {
			delete(m.opOwners, id)
		}
	}

	m.mu.Unlock()

	m.signal(userID)

	return nil
}
