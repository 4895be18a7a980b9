// Package sqlitestore is a reference adapter.LocalAdapter backed by an
// embedded, pure-Go SQLite database (modernc.org/sqlite) with goose-managed
// migrations, grounded on the teacher's internal/sync.SQLiteStore
// (internal/sync/state.go, internal/sync/migrations.go): a single *sql.DB,
// one prepared-statement struct per domain, context-aware everywhere,
// errors wrapped with fmt.Errorf.
//
// It exists so adapter.LocalAdapter (and its optional capability
// interfaces) are exercised by real, runnable code rather than left as bare
// declarations — concrete stores are themselves out of the core's scope.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.uber.org/multierr"

	_ "modernc.org/sqlite" // pure-Go driver, registers as "sqlite"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/entity"
)

const walJournalSizeLimit = 67108864 // 64 MiB

// Store implements adapter.LocalAdapter, adapter.LocalPatchCapable,
// adapter.SchemaCapable and adapter.TransactionalAdapter over a single
// SQLite file (or ":memory:").
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	stmts statements

	outboxDir      string
	watcherFactory func() (FsWatcher, error)
}

type statements struct {
	getEntity, upsertEntity, deleteEntity, listEntities *sql.Stmt
	addOp, listOps, markSynced                          *sql.Stmt
	getMeta, upsertMeta                                 *sql.Stmt
	getSchemaVersion, setSchemaVersion                  *sql.Stmt
}

var (
	_ adapter.LocalAdapter         = (*Store)(nil)
	_ adapter.LocalPatchCapable    = (*Store)(nil)
	_ adapter.SchemaCapable        = (*Store)(nil)
	_ adapter.TransactionalAdapter = (*Store)(nil)
	_ adapter.ChangeStreamCapable  = (*Store)(nil)
)

// Open creates (or opens) a SQLite database at path, applies migrations and
// prepares statements. Use ":memory:" in tests. Callers must call
// Initialize before first use and Dispose when finished, matching the
// LocalAdapter lifecycle contract (spec §6).
func Open(path string, logger *slog.Logger) (*Store, error) {
	logger.Info("opening sqlitestore database", slog.String("path", path))

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open: %w", err)
	}

	if err := setPragmas(context.Background(), db); err != nil {
		db.Close()

		return nil, err
	}

	if err := runMigrations(context.Background(), db, logger); err != nil {
		db.Close()

		return nil, err
	}

	s := &Store{db: db, logger: logger}

	if err := s.prepareStatements(context.Background()); err != nil {
		db.Close()

		return nil, fmt.Errorf("sqlitestore: prepare statements: %w", err)
	}

	return s, nil
}

func setPragmas(ctx context.Context, db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = FULL",
		"PRAGMA foreign_keys = ON",
		fmt.Sprintf("PRAGMA journal_size_limit = %d", walJournalSizeLimit),
	}

	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("sqlitestore: set pragma %q: %w", p, err)
		}
	}

	return nil
}

func (s *Store) prepareStatements(ctx context.Context) error {
	defs := []struct {
		dest **sql.Stmt
		sql  string
	}{
		{&s.stmts.getEntity, `SELECT entity_id, owner_id, version, created_at, modified_at, deleted, fields
			FROM entities WHERE owner_id = ? AND entity_id = ?`},
		{&s.stmts.upsertEntity, `INSERT INTO entities
			(owner_id, entity_id, version, created_at, modified_at, deleted, fields)
			VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(owner_id, entity_id) DO UPDATE SET
				version = excluded.version,
				created_at = excluded.created_at,
				modified_at = excluded.modified_at,
				deleted = excluded.deleted,
				fields = excluded.fields`},
		{&s.stmts.deleteEntity, `DELETE FROM entities WHERE owner_id = ? AND entity_id = ?`},
		{&s.stmts.listEntities, `SELECT entity_id, owner_id, version, created_at, modified_at, deleted, fields
			FROM entities WHERE owner_id = ?`},
		{&s.stmts.addOp, `INSERT INTO pending_operations
			(id, owner_id, op_type, entity_id, data, created_at, retry_count, status, last_attempt_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				op_type = excluded.op_type,
				data = excluded.data,
				retry_count = excluded.retry_count,
				status = excluded.status,
				last_attempt_at = excluded.last_attempt_at`},
		{&s.stmts.listOps, `SELECT id, owner_id, op_type, entity_id, data, created_at, retry_count, status, last_attempt_at
			FROM pending_operations WHERE owner_id = ? ORDER BY created_at`},
		{&s.stmts.markSynced, `DELETE FROM pending_operations WHERE id = ?`},
		{&s.stmts.getMeta, `SELECT owner_id, last_sync_time, data_hash, item_count, device_id
			FROM sync_metadata WHERE owner_id = ?`},
		{&s.stmts.upsertMeta, `INSERT INTO sync_metadata
			(owner_id, last_sync_time, data_hash, item_count, device_id)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(owner_id) DO UPDATE SET
				last_sync_time = excluded.last_sync_time,
				data_hash = excluded.data_hash,
				item_count = excluded.item_count,
				device_id = excluded.device_id`},
		{&s.stmts.getSchemaVersion, `SELECT version FROM app_schema_version WHERE id = 1`},
		{&s.stmts.setSchemaVersion, `UPDATE app_schema_version SET version = ? WHERE id = 1`},
	}

	for _, d := range defs {
		stmt, err := s.db.PrepareContext(ctx, d.sql)
		if err != nil {
			return fmt.Errorf("prepare %q: %w", d.sql, err)
		}

		*d.dest = stmt
	}

	return nil
}

// Initialize satisfies adapter.LocalAdapter; Open already performed setup,
// so this is a no-op kept for interface symmetry with consumers that call
// Initialize unconditionally after construction.
func (s *Store) Initialize(context.Context) error { return nil }

// Dispose closes the prepared statements and the underlying database,
// aggregating every close error encountered rather than abandoning the
// remaining cleanup at the first failure.
func (s *Store) Dispose(context.Context) error {
	var err error

	for _, stmt := range []*sql.Stmt{
		s.stmts.getEntity, s.stmts.upsertEntity, s.stmts.deleteEntity, s.stmts.listEntities,
		s.stmts.addOp, s.stmts.listOps, s.stmts.markSynced,
		s.stmts.getMeta, s.stmts.upsertMeta,
		s.stmts.getSchemaVersion, s.stmts.setSchemaVersion,
	} {
		if stmt != nil {
			err = multierr.Append(err, stmt.Close())
		}
	}

	err = multierr.Append(err, s.db.Close())

	if err != nil {
		return fmt.Errorf("sqlitestore: close: %w", err)
	}

	return nil
}

// txKey carries an in-flight *sql.Tx through a context so every method on
// Store participates in the caller's transaction when one is active,
// instead of quietly bypassing it via its own prepared statement — the
// mistake of binding statements once to *sql.DB at prepare time and never
// rebinding them to a transaction, which would make Transaction's rollback
// a no-op. Grounded on the teacher's tx.StmtContext rebinding in
// BatchUpsert (internal/sync/state.go).
type txKey struct{}

// stmt returns base rebound to the active transaction in ctx, if any,
// otherwise base itself.
func (s *Store) stmt(ctx context.Context, base *sql.Stmt) *sql.Stmt {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx.StmtContext(ctx, base)
	}

	return base
}

// execRaw runs a non-prepared statement against the active transaction in
// ctx, if any, otherwise against the shared *sql.DB.
func (s *Store) execRaw(ctx context.Context, query string, args ...any) (sql.Result, error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx.ExecContext(ctx, query, args...)
	}

	return s.db.ExecContext(ctx, query, args...)
}

// queryRaw runs a non-prepared query against the active transaction in ctx,
// if any, otherwise against the shared *sql.DB.
func (s *Store) queryRaw(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok {
		return tx.QueryContext(ctx, query, args...)
	}

	return s.db.QueryContext(ctx, query, args...)
}

func scanRecord(row interface{ Scan(...any) error }) (Record, error) {
	var (
		r        Record
		deleted  int
		fields   string
		created  int64
		modified int64
	)

	if err := row.Scan(&r.ID, &r.Owner, &r.Ver, &created, &modified, &deleted, &fields); err != nil {
		return Record{}, err
	}

	r.Created = time.Unix(0, created)
	r.Modified = time.Unix(0, modified)
	r.Deleted = deleted != 0

	parsed, err := unmarshalFields(fields)
	if err != nil {
		return Record{}, err
	}

	r.Fields = parsed

	return r, nil
}

// GetAll returns every entity owned by userID.
func (s *Store) GetAll(ctx context.Context, userID string) ([]entity.Entity, error) {
	rows, err := s.stmt(ctx, s.stmts.listEntities).QueryContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get all: %w", err)
	}
	defer rows.Close()

	var out []entity.Entity

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan entity: %w", err)
		}

		out = append(out, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate entities: %w", err)
	}

	return out, nil
}

// GetByID returns (nil, nil) if no record exists, matching the
// LocalAdapter "not found" convention used throughout the core.
func (s *Store) GetByID(ctx context.Context, id, userID string) (entity.Entity, error) {
	r, err := scanRecord(s.stmt(ctx, s.stmts.getEntity).QueryRowContext(ctx, userID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil
	}

	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get by id %s/%s: %w", userID, id, err)
	}

	return r, nil
}

// GetByIDs fetches each id individually; callers needing bulk scans of the
// full user set should prefer GetAll.
func (s *Store) GetByIDs(ctx context.Context, ids []string, userID string) ([]entity.Entity, error) {
	out := make([]entity.Entity, 0, len(ids))

	for _, id := range ids {
		e, err := s.GetByID(ctx, id, userID)
		if err != nil {
			return nil, err
		}

		if e != nil {
			out = append(out, e)
		}
	}

	return out, nil
}

// Push is a write-through upsert (spec §6).
func (s *Store) Push(ctx context.Context, e entity.Entity, userID string) error {
	r := recordFromEntity(e)

	fields, err := marshalFields(r.Fields)
	if err != nil {
		return err
	}

	deleted := 0
	if r.Deleted {
		deleted = 1
	}

	_, err = s.stmt(ctx, s.stmts.upsertEntity).ExecContext(ctx,
		userID, r.ID, r.Ver, r.Created.UnixNano(), r.Modified.UnixNano(), deleted, fields)
	if err != nil {
		return fmt.Errorf("sqlitestore: push %s/%s: %w", userID, r.ID, err)
	}

	return nil
}

// Patch applies delta to the stored fields without a full write-through
// (adapter.LocalPatchCapable). Falls back to a full GetByID+Push under the
// hood since SQLite has no native JSON-merge without the json1 extension
// guarantee on every build.
func (s *Store) Patch(ctx context.Context, id, userID string, delta entity.Delta) error {
	existing, err := s.GetByID(ctx, id, userID)
	if err != nil {
		return err
	}

	if existing == nil {
		return fmt.Errorf("sqlitestore: patch %s/%s: %w", userID, id, sql.ErrNoRows)
	}

	r := existing.(Record)

	merged := make(map[string]any, len(r.Fields)+len(delta))
	for k, v := range r.Fields {
		merged[k] = v
	}

	for k, v := range delta {
		merged[k] = v
	}

	r.Fields = merged

	return s.Push(ctx, r, userID)
}

// Delete hard-removes the record and reports whether one existed, matching
// the in-memory test fake's contract (engine/manager tests assert GetByID
// returns nil immediately after Delete).
func (s *Store) Delete(ctx context.Context, id, userID string) (bool, error) {
	res, err := s.stmt(ctx, s.stmts.deleteEntity).ExecContext(ctx, userID, id)
	if err != nil {
		return false, fmt.Errorf("sqlitestore: delete %s/%s: %w", userID, id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlitestore: delete rows affected: %w", err)
	}

	return n > 0, nil
}

func (s *Store) GetPendingOperations(ctx context.Context, userID string) ([]adapter.StoredOperation, error) {
	rows, err := s.stmt(ctx, s.stmts.listOps).QueryContext(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get pending operations: %w", err)
	}
	defer rows.Close()

	var out []adapter.StoredOperation

	for rows.Next() {
		var (
			op   adapter.StoredOperation
			data sql.NullString
		)

		if err := rows.Scan(&op.ID, &op.UserID, &op.Type, &op.EntityID, &data,
			&op.Timestamp, &op.RetryCount, &op.Status, &op.LastAttemptAt); err != nil {
			return nil, fmt.Errorf("sqlitestore: scan pending operation: %w", err)
		}

		if data.Valid {
			fields, err := unmarshalFields(data.String)
			if err != nil {
				return nil, err
			}

			op.Data = fields
		}

		out = append(out, op)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate pending operations: %w", err)
	}

	return out, nil
}

func (s *Store) AddPendingOperation(ctx context.Context, userID string, op adapter.StoredOperation) error {
	var data string

	if op.Data != nil {
		var err error

		data, err = marshalFields(op.Data)
		if err != nil {
			return err
		}
	}

	_, err := s.stmt(ctx, s.stmts.addOp).ExecContext(ctx,
		op.ID, userID, op.Type, op.EntityID, data, op.Timestamp, op.RetryCount, op.Status, op.LastAttemptAt)
	if err != nil {
		return fmt.Errorf("sqlitestore: add pending operation %s: %w", op.ID, err)
	}

	return nil
}

func (s *Store) MarkAsSynced(ctx context.Context, opID string) error {
	if _, err := s.stmt(ctx, s.stmts.markSynced).ExecContext(ctx, opID); err != nil {
		return fmt.Errorf("sqlitestore: mark synced %s: %w", opID, err)
	}

	return nil
}

// ClearUserData removes every entity, pending operation and metadata row
// owned by userID in one transaction (spec §6, used by the "clearAndFetch"
// user-switch strategy).
func (s *Store) ClearUserData(ctx context.Context, userID string) error {
	return s.Transaction(ctx, userID, func(ctx context.Context) error {
		stmts := []string{
			`DELETE FROM entities WHERE owner_id = ?`,
			`DELETE FROM pending_operations WHERE owner_id = ?`,
			`DELETE FROM sync_metadata WHERE owner_id = ?`,
		}

		for _, stmt := range stmts {
			if _, err := s.execRaw(ctx, stmt, userID); err != nil {
				return fmt.Errorf("sqlitestore: clear user data: %w", err)
			}
		}

		return nil
	})
}

func (s *Store) GetSyncMetadata(ctx context.Context, userID string) (*adapter.SyncMetadata, error) {
	var m adapter.SyncMetadata

	err := s.stmt(ctx, s.stmts.getMeta).QueryRowContext(ctx, userID).Scan(
		&m.UserID, &m.LastSyncTime, &m.DataHash, &m.ItemCount, &m.DeviceID)
	if errors.Is(err, sql.ErrNoRows) {
		return &adapter.SyncMetadata{UserID: userID}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get sync metadata %s: %w", userID, err)
	}

	return &m, nil
}

func (s *Store) UpdateSyncMetadata(ctx context.Context, meta *adapter.SyncMetadata, userID string) error {
	_, err := s.stmt(ctx, s.stmts.upsertMeta).ExecContext(ctx,
		userID, meta.LastSyncTime, meta.DataHash, meta.ItemCount, meta.DeviceID)
	if err != nil {
		return fmt.Errorf("sqlitestore: update sync metadata %s: %w", userID, err)
	}

	return nil
}

// Transaction runs action inside a SQL transaction (adapter.TransactionalAdapter).
// userID is accepted for interface symmetry with consumers that shard
// storage per user; this store uses one shared *sql.DB for all users.
func (s *Store) Transaction(ctx context.Context, _ string, action func(ctx context.Context) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin transaction: %w", err)
	}

	txCtx := context.WithValue(ctx, txKey{}, tx)

	if err := action(txCtx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("sqlitestore: transaction action failed: %w (rollback: %v)", err, rbErr)
		}

		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitestore: commit transaction: %w", err)
	}

	return nil
}

// GetStoredSchemaVersion and SetStoredSchemaVersion implement
// adapter.SchemaCapable for the adjacent migration executor (package
// migrate), tracking the application's own logical schema version rather
// than this store's internal goose-managed DDL version.
func (s *Store) GetStoredSchemaVersion(ctx context.Context) (int, error) {
	var v int
	if err := s.stmt(ctx, s.stmts.getSchemaVersion).QueryRowContext(ctx).Scan(&v); err != nil {
		return 0, fmt.Errorf("sqlitestore: get schema version: %w", err)
	}

	return v, nil
}

func (s *Store) SetStoredSchemaVersion(ctx context.Context, v int) error {
	if _, err := s.stmt(ctx, s.stmts.setSchemaVersion).ExecContext(ctx, v); err != nil {
		return fmt.Errorf("sqlitestore: set schema version: %w", err)
	}

	return nil
}

// GetAllRawData dumps every row this store holds, keyed by table, for a
// migration executor to transform wholesale (adapter.SchemaCapable).
func (s *Store) GetAllRawData(ctx context.Context) (map[string]any, error) {
	rows, err := s.queryRaw(ctx, `SELECT owner_id, entity_id, version, created_at, modified_at, deleted, fields FROM entities`)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: get all raw data: %w", err)
	}
	defer rows.Close()

	var entities []Record

	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlitestore: scan raw entity: %w", err)
		}

		entities = append(entities, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitestore: iterate raw entities: %w", err)
	}

	return map[string]any{"entities": entities}, nil
}

// OverwriteAllRawData replaces the entities table wholesale with the
// migration executor's transformed output.
func (s *Store) OverwriteAllRawData(ctx context.Context, data map[string]any) error {
	entities, ok := data["entities"].([]Record)
	if !ok {
		return fmt.Errorf("sqlitestore: overwrite all raw data: missing or malformed %q key", "entities")
	}

	return s.Transaction(ctx, "", func(ctx context.Context) error {
		if _, err := s.execRaw(ctx, `DELETE FROM entities`); err != nil {
			return fmt.Errorf("sqlitestore: clear entities: %w", err)
		}

		for _, r := range entities {
			if err := s.Push(ctx, r, r.Owner); err != nil {
				return err
			}
		}

		return nil
	})
}
