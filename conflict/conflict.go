// Package conflict implements the Conflict Resolver Framework (spec §4.3):
// classification of (local, remote) entity pairs into conflict kinds, and a
// pluggable resolver pipeline that turns a classified pair into a
// resolution. Grounded on the teacher's ConflictHandler/reconciler split
// (internal/sync/conflict.go, reconciler.go): classification is pure and
// side-effect free, resolution decides the winner, and applying the
// resolution is left to the caller (the engine), matching the teacher's
// separation between tagging a conflict and dispatching sub-actions for it.
package conflict

import (
	"time"

	"github.com/tonimelisma/synckit/entity"
)

// Type classifies a conflicting (local, remote) pair (spec §4.3
// "Classification").
type Type string

// Recognized conflict types.
const (
	TypeBothModified     Type = "both_modified"
	TypeUserMismatch     Type = "user_mismatch"
	TypeLocalNotSynced   Type = "local_not_synced"
	TypeDeletionConflict Type = "deletion_conflict"
)

// Context is the diagnostic record accompanying a classified conflict (spec
// §3 "Conflict Context").
type Context struct {
	UserID     string
	EntityID   string
	Type       Type
	Local      entity.Entity // nil if absent
	Remote     entity.Entity // nil if absent
	DetectedAt time.Time
}

// Strategy names an outcome a Resolver can choose (spec §3 "Conflict
// Resolution").
type Strategy string

// Recognized strategies.
const (
	StrategyUseLocal  Strategy = "use_local"
	StrategyUseRemote Strategy = "use_remote"
	StrategyMerge     Strategy = "merge"
	StrategyAskUser   Strategy = "ask_user"
	StrategyAbort     Strategy = "abort"
)

// Resolution is the outcome a Resolver produces for a classified conflict
// (spec §3 "Conflict Resolution").
type Resolution struct {
	Strategy          Strategy
	Resolved          entity.Entity // set for use_local, use_remote, merge
	RequiresUserInput bool
	Message           string
}

// Classify determines the conflict Type for a (local, remote) pair
// (spec §4.3 "Classification"). hasPendingOp reports whether a pending
// local operation already records local for this entity, needed to
// distinguish local_not_synced from a genuine absence.
func Classify(local, remote entity.Entity, hasPendingOp bool) Type {
	switch {
	case local != nil && remote != nil && local.OwnerID() != remote.OwnerID():
		return TypeUserMismatch
	case local != nil && remote != nil && local.IsDeleted() != remote.IsDeleted():
		return TypeDeletionConflict
	case local != nil && remote != nil &&
		!local.IsDeleted() && !remote.IsDeleted() &&
		(local.Version() != remote.Version() || !local.ModifiedAt().Equal(remote.ModifiedAt())):
		return TypeBothModified
	case local != nil && remote == nil && !hasPendingOp:
		return TypeLocalNotSynced
	default:
		return TypeBothModified
	}
}
