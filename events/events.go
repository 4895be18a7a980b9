// Package events implements the tagged-union event stream the manager
// facade emits (spec §6 "Events emitted by the manager facade", §9 "Dynamic
// event typing"). SyncEvent is modeled as a small interface with one
// concrete struct per tag, switched on via a type switch at the consumer —
// the same shape the teacher uses for its own small sentinel-tagged structs
// (internal/graph/errors.go's GraphError family) rather than a bag of
// interface{} payloads.
package events

import (
	"time"

	"github.com/tonimelisma/synckit/adapter"
)

// SyncEvent is the tagged union of everything the manager facade can emit.
// Consumers type-switch on the concrete type.
type SyncEvent interface {
	isSyncEvent()
	UserID() string
}

type base struct {
	User string
}

func (base) isSyncEvent() {}
func (b base) UserID() string { return b.User }

// Started is emitted at the beginning of a sync cycle (spec §4.2 step 1).
type Started struct {
	base
	PendingCount int
}

// Progress is emitted after each operation the push phase applies within a
// cycle (spec §4.2 step 2e); the pull phase emits no Progress events. Completed is monotone non-decreasing within one
// cycle and never exceeds Total (P7).
type Progress struct {
	base
	Completed int
	Total     int
}

// Completed is emitted once a cycle finishes successfully (spec §4.2 step 5).
type Completed struct {
	base
	SyncedCount       int
	FailedCount       int
	ConflictsResolved int
	Duration          time.Duration
}

// Error is emitted for cycle-fatal errors (timeout, cancellation, adapter
// init failure) and for aborted conflicts (spec §7 propagation policy).
type Error struct {
	base
	Err           error
	IsRecoverable bool
}

// DataChange is emitted whenever an entity is written through to the local
// store, from any source (spec §6 "DataChange{created|updated|deleted,
// source}").
type DataChange struct {
	base
	EntityID string
	Kind     adapter.ChangeKind
	Source   DataChangeSource
}

// DataChangeSource tags where a DataChange originated.
type DataChangeSource string

// Recognized DataChange sources (spec §6).
const (
	SourceLocal  DataChangeSource = "local"
	SourceRemote DataChangeSource = "remote"
	SourceMerged DataChangeSource = "merged"
)

// ConflictDetected is emitted when a conflict's resolution is "ask_user" or
// "abort" (spec §4.3); a conflict the resolver settles automatically
// (use_local, use_remote, merge) emits no ConflictDetected event.
type ConflictDetected struct {
	base
	EntityID string
	Local    map[string]any // nil if no local snapshot
	Remote   map[string]any // nil if no remote snapshot
}

// UserSwitched is emitted when the active user changes (spec §2).
type UserSwitched struct {
	base
	PreviousUserID string
}

// InitialSync carries the first status snapshot a new watcher observes
// (spec §6 "InitialSync(snapshot)"). Snapshot is an opaque any to avoid an
// import cycle with the engine package, which owns the concrete
// StatusSnapshot type; consumers type-assert it.
type InitialSync struct {
	base
	Snapshot any
}

// newBase is a small constructor helper so emitters don't repeat the
// embedding boilerplate at every call site.
func newBase(userID string) base { return base{User: userID} }

// NewStarted builds a Started event.
func NewStarted(userID string, pendingCount int) Started {
	return Started{base: newBase(userID), PendingCount: pendingCount}
}

// NewProgress builds a Progress event.
func NewProgress(userID string, completed, total int) Progress {
	return Progress{base: newBase(userID), Completed: completed, Total: total}
}

// NewCompleted builds a Completed event.
func NewCompleted(userID string, synced, failed, conflicts int, dur time.Duration) Completed {
	return Completed{
		base:              newBase(userID),
		SyncedCount:       synced,
		FailedCount:       failed,
		ConflictsResolved: conflicts,
		Duration:          dur,
	}
}

// NewError builds an Error event.
func NewError(userID string, err error, recoverable bool) Error {
	return Error{base: newBase(userID), Err: err, IsRecoverable: recoverable}
}

// NewDataChange builds a DataChange event.
func NewDataChange(userID, entityID string, kind adapter.ChangeKind, source DataChangeSource) DataChange {
	return DataChange{base: newBase(userID), EntityID: entityID, Kind: kind, Source: source}
}

// NewConflictDetected builds a ConflictDetected event.
func NewConflictDetected(userID, entityID string, local, remote map[string]any) ConflictDetected {
	return ConflictDetected{base: newBase(userID), EntityID: entityID, Local: local, Remote: remote}
}

// NewUserSwitched builds a UserSwitched event.
func NewUserSwitched(userID, previousUserID string) UserSwitched {
	return UserSwitched{base: newBase(userID), PreviousUserID: previousUserID}
}

// NewInitialSync builds an InitialSync event carrying snapshot, typically
// an engine.StatusSnapshot handed through as any to avoid an import cycle.
func NewInitialSync(userID string, snapshot any) InitialSync {
	return InitialSync{base: newBase(userID), Snapshot: snapshot}
}
