// Package adapter defines the external collaborator contracts the core
// consumes (spec §6 "External interfaces"). The core never implements
// persistence or transport itself — concrete local/remote stores are
// explicitly out of scope (spec §1 Non-goals) — it only calls through
// these interfaces. Reference implementations live in storage/sqlitestore
// and transport/httpremote.
package adapter

import (
	"context"

	"github.com/tonimelisma/synckit/entity"
)

// ChangeKind tags the kind of mutation a ChangeDetail describes.
type ChangeKind string

// Change kinds mirror the DataChange event tags (spec §6).
const (
	ChangeCreated ChangeKind = "created"
	ChangeUpdated ChangeKind = "updated"
	ChangeDeleted ChangeKind = "deleted"
)

// ChangeDetail describes a single mutation observed by an adapter's change
// stream, carrying enough identity to run it back through the conflict
// pipeline (spec §4.2 "External-change ingestion").
type ChangeDetail struct {
	UserID         string
	EntityID       string
	Kind           ChangeKind
	Entity         entity.Entity // nil for deletes that carry no final state
	Version        int
	SourceDeviceID string
}

// SyncMetadata is the per-user bookkeeping record persisted on both sides
// of the sync boundary (spec §3 "Sync Metadata").
type SyncMetadata struct {
	UserID       string
	LastSyncTime int64 // Unix nanoseconds; 0 means never synced
	DataHash     string
	ItemCount    int
	DeviceID     string
}

// LocalAdapter is the capability set the core consumes from the
// application's local store (spec §6 "Local Adapter contract"). Every
// blocking method takes a context so the core can honor cancellation and
// timeouts uniformly (teacher convention, internal/sync/types.go Store).
type LocalAdapter interface {
	Initialize(ctx context.Context) error
	Dispose(ctx context.Context) error

	GetAll(ctx context.Context, userID string) ([]entity.Entity, error)
	GetByID(ctx context.Context, id, userID string) (entity.Entity, error)
	GetByIDs(ctx context.Context, ids []string, userID string) ([]entity.Entity, error)

	// Push is a write-through upsert: the local store's record for e is
	// replaced with e in full.
	Push(ctx context.Context, e entity.Entity, userID string) error
	// Delete removes (soft or hard, per the adapter's own policy) the
	// record and reports whether a record existed to remove.
	Delete(ctx context.Context, id, userID string) (bool, error)

	GetPendingOperations(ctx context.Context, userID string) ([]StoredOperation, error)
	AddPendingOperation(ctx context.Context, userID string, op StoredOperation) error
	MarkAsSynced(ctx context.Context, opID string) error

	ClearUserData(ctx context.Context, userID string) error

	GetSyncMetadata(ctx context.Context, userID string) (*SyncMetadata, error)
	UpdateSyncMetadata(ctx context.Context, meta *SyncMetadata, userID string) error
}

// StoredOperation is the wire/storage shape a LocalAdapter persists for the
// queue manager. The core's own opqueue.Operation is the richer in-memory
// type; StoredOperation is what actually round-trips through adapter
// storage (spec §3 "Sync Operation").
type StoredOperation struct {
	ID            string
	UserID        string
	Type          string // "create" | "update" | "delete"
	EntityID      string
	Data          map[string]any // nil for delete
	Timestamp     int64          // Unix nanoseconds
	RetryCount    int
	Status        string // "pending" | "in_progress" | "completed" | "failed"
	LastAttemptAt int64  // Unix nanoseconds, 0 until the first markFailed call
}

// LocalPatchCapable is an optional LocalAdapter capability for applying a
// field-level delta instead of a full write-through (spec §6: "optional,
// fall back to push if unsupported"). Implemented as a separate narrow
// interface, following the teacher's TransferClient/ItemClient segregation
// (internal/sync/types.go).
type LocalPatchCapable interface {
	Patch(ctx context.Context, id, userID string, delta entity.Delta) error
}

// RemotePatchCapable is the remote-side analog; unlike the local version it
// may return a server-modified copy (spec §6: "patch(...) → entity").
type RemotePatchCapable interface {
	Patch(ctx context.Context, id, userID string, delta entity.Delta) (entity.Entity, error)
}

// ChangeStreamCapable is an optional adapter capability exposing a
// push-based channel of mutations (spec §6 "changeStream()"). The channel
// is closed when the underlying subscription ends; callers should read
// until closed rather than assume a fixed cardinality.
type ChangeStreamCapable interface {
	ChangeStream(ctx context.Context) (<-chan ChangeDetail, error)
}

// SchemaCapable exposes the schema-version bookkeeping a migration executor
// needs (spec §6 "for migration executor"). Carried as a capability rather
// than a required method because the migration executor is an adjacent,
// separate utility (spec §1 Non-goals) — most LocalAdapters never need it.
type SchemaCapable interface {
	GetStoredSchemaVersion(ctx context.Context) (int, error)
	SetStoredSchemaVersion(ctx context.Context, v int) error
	GetAllRawData(ctx context.Context) (map[string]any, error)
	OverwriteAllRawData(ctx context.Context, data map[string]any) error
}

// TransactionalAdapter exposes a scope-guarded atomic block (spec §6
// "transaction(action)"). At minimum a LocalAdapter must support a
// per-user transaction scope.
type TransactionalAdapter interface {
	Transaction(ctx context.Context, userID string, action func(ctx context.Context) error) error
}

// RemoteAdapter is the capability set the core consumes from the
// application's remote collaborator (spec §6 "Remote Adapter contract").
type RemoteAdapter interface {
	IsConnected(ctx context.Context) bool

	FetchAll(ctx context.Context, userID string, scope any) ([]entity.Entity, error)
	FetchByID(ctx context.Context, id, userID string) (entity.Entity, error)

	// Push uploads e and may return a server-modified copy (e.g.
	// server-assigned fields) — spec §6: "may return a server-modified copy".
	Push(ctx context.Context, e entity.Entity, userID string) (entity.Entity, error)
	DeleteRemote(ctx context.Context, id, userID string) error

	GetSyncMetadata(ctx context.Context, userID string) (*SyncMetadata, error)
	UpdateSyncMetadata(ctx context.Context, meta *SyncMetadata, userID string) error
}
