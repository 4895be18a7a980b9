// Package syncerr defines the error taxonomy the core surfaces at its
// boundary (spec §6 "Error taxonomy", §7 "Error handling design"). It
// follows the teacher's graph.GraphError shape: a small set of sentinel
// errors for errors.Is() checks, plus struct types carrying diagnostic
// context with an Unwrap method back to the sentinel.
package syncerr

import (
	"errors"
	"fmt"
)

// Sentinels for coarse-grained classification via errors.Is. Every
// exported struct error in this package wraps exactly one of these.
var (
	// ErrNetwork marks a transient transport failure (spec §7 "transient").
	ErrNetwork = errors.New("syncerr: network error")
	// ErrAdapter marks a failure surfaced by a Local/Remote adapter call.
	ErrAdapter = errors.New("syncerr: adapter error")
	// ErrConflictEscalated marks a conflict the resolver framework could
	// not resolve automatically (strategy == abort, or ask_user with no
	// listener).
	ErrConflictEscalated = errors.New("syncerr: conflict escalated")
	// ErrUserSwitchBlocked marks a refused user-switch request.
	ErrUserSwitchBlocked = errors.New("syncerr: user switch blocked")
	// ErrSyncInProgress marks a sync() call rejected because another cycle
	// is already active for the user (spec §4.2 "Preflight").
	ErrSyncInProgress = errors.New("syncerr: sync already in progress")
	// ErrSyncPaused marks a sync() call rejected because the user's sync
	// loop has been paused (spec.md:59 "paused" status snapshot state).
	ErrSyncPaused = errors.New("syncerr: sync paused")
	// ErrMigration marks a schema migration failure (spec §7 "systemic").
	ErrMigration = errors.New("syncerr: migration error")
	// ErrValidation marks a request that failed field-level validation.
	ErrValidation = errors.New("syncerr: validation error")
)

// NetworkError wraps ErrNetwork with the underlying transport cause.
type NetworkError struct {
	Cause error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("%s: %v", ErrNetwork, e.Cause) }
func (e *NetworkError) Unwrap() error { return ErrNetwork }

// AdapterError wraps ErrAdapter, naming which adapter failed and why.
type AdapterError struct {
	Name  string // e.g. "local", "remote", or a consumer-supplied adapter name
	Cause error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrAdapter, e.Name, e.Cause)
}

func (e *AdapterError) Unwrap() error { return ErrAdapter }

// ConflictEscalated wraps ErrConflictEscalated with the conflict context
// that could not be auto-resolved (spec §3 "Conflict Context").
type ConflictEscalated struct {
	UserID   string
	EntityID string
	Reason   string
}

func (e *ConflictEscalated) Error() string {
	return fmt.Sprintf("%s: user=%s entity=%s: %s", ErrConflictEscalated, e.UserID, e.EntityID, e.Reason)
}

func (e *ConflictEscalated) Unwrap() error { return ErrConflictEscalated }

// UserSwitchBlocked wraps ErrUserSwitchBlocked with a human-readable reason
// (e.g. unsynced local data and the strategy requires a clean switch).
type UserSwitchBlocked struct {
	Reason string
}

func (e *UserSwitchBlocked) Error() string {
	return fmt.Sprintf("%s: %s", ErrUserSwitchBlocked, e.Reason)
}

func (e *UserSwitchBlocked) Unwrap() error { return ErrUserSwitchBlocked }

// SyncInProgress wraps ErrSyncInProgress, naming the contended user.
type SyncInProgress struct {
	UserID string
}

func (e *SyncInProgress) Error() string {
	return fmt.Sprintf("%s: user=%s", ErrSyncInProgress, e.UserID)
}

func (e *SyncInProgress) Unwrap() error { return ErrSyncInProgress }

// SyncPaused wraps ErrSyncPaused, naming the paused user.
type SyncPaused struct {
	UserID string
}

func (e *SyncPaused) Error() string {
	return fmt.Sprintf("%s: user=%s", ErrSyncPaused, e.UserID)
}

func (e *SyncPaused) Unwrap() error { return ErrSyncPaused }

// MigrationError wraps ErrMigration with the schema version transition that
// failed.
type MigrationError struct {
	FromVersion int
	ToVersion   int
	Cause       error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("%s: %d -> %d: %v", ErrMigration, e.FromVersion, e.ToVersion, e.Cause)
}

func (e *MigrationError) Unwrap() error { return ErrMigration }

// ValidationError wraps ErrValidation with the offending field names.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: fields=%v", ErrValidation, e.Fields)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Recoverable reports whether err represents a condition the engine should
// retry rather than give up on (spec §7 "transient" vs "permanent per-op").
// Network errors and adapter errors wrapping a network error are
// recoverable; validation and conflict-escalation errors are not.
func Recoverable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrNetwork) {
		return true
	}

	var ae *AdapterError
	if errors.As(err, &ae) {
		return errors.Is(ae.Cause, ErrNetwork)
	}

	return false
}
