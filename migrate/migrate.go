// Package migrate is the schema migration executor: a separate, one-shot
// startup utility (spec §1 Non-goals: "Schema migration executor — a
// separate one-shot startup utility") that evolves an adapter's
// application-level data shape between schemaVersion bumps. It is distinct
// from storage/sqlitestore's goose-managed DDL migrations, which version
// the SQL table layout itself; this package versions the *content* a
// SchemaCapable adapter already stores — renaming a field, restructuring a
// nested value, backfilling a default — via the raw-data round-trip spec §6
// calls out for exactly this purpose: "getAllRawData / overwriteAllRawData —
// for migration executor".
package migrate

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/syncerr"
)

// Migration transforms the adapter's raw data from one schema version to
// the next. Apply must be idempotent-safe to re-run against its own output
// (Runner never re-applies a completed step, but a partially-applied step
// that crashed mid-OverwriteAllRawData may be retried on the next startup).
type Migration struct {
	Version     int
	Description string
	Apply       func(ctx context.Context, data map[string]any) (map[string]any, error)
}

// ErrorHandler reacts to a failed migration step (spec §6
// "onMigrationError: handler"). Returning nil tells Runner to continue
// bringing the manager online despite the failure (rare; the default
// handler does not); a non-nil return aborts Run with that error.
type ErrorHandler func(err *syncerr.MigrationError) error

// Runner applies pending migrations to a single adapter.SchemaCapable store
// in ascending version order.
type Runner struct {
	store   adapter.SchemaCapable
	target  int
	onError ErrorHandler
	logger  *slog.Logger
}

// NewRunner builds a Runner that migrates store up to targetVersion.
// onError defaults to one that aborts Run on the first failure (spec §7
// "systemic ... may refuse to bring the manager online") when nil.
func NewRunner(store adapter.SchemaCapable, targetVersion int, onError ErrorHandler, logger *slog.Logger) *Runner {
	if onError == nil {
		onError = func(err *syncerr.MigrationError) error { return err }
	}

	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{store: store, target: targetVersion, onError: onError, logger: logger}
}

// Run applies every migration in steps whose Version is greater than the
// store's current schema version and at most target, in ascending order,
// stopping at the first failure onError does not suppress. Returns the
// schema version the store ended up at.
func (r *Runner) Run(ctx context.Context, steps []Migration) (int, error) {
	current, err := r.store.GetStoredSchemaVersion(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: reading stored schema version: %w", err)
	}

	pending := pendingSteps(steps, current, r.target)
	if len(pending) == 0 {
		r.logger.Debug("no pending migrations", slog.Int("current_version", current))

		return current, nil
	}

	for _, step := range pending {
		r.logger.Info("applying migration",
			slog.Int("from_version", current),
			slog.Int("to_version", step.Version),
			slog.String("description", step.Description),
		)

		if err := r.applyOne(ctx, step); err != nil {
			migErr := &syncerr.MigrationError{FromVersion: current, ToVersion: step.Version, Cause: err}

			if handled := r.onError(migErr); handled != nil {
				return current, handled
			}

			r.logger.Warn("migration failure suppressed by error handler", slog.String("error", migErr.Error()))

			continue
		}

		current = step.Version
	}

	return current, nil
}

func (r *Runner) applyOne(ctx context.Context, step Migration) error {
	data, err := r.store.GetAllRawData(ctx)
	if err != nil {
		return fmt.Errorf("reading raw data: %w", err)
	}

	migrated, err := step.Apply(ctx, data)
	if err != nil {
		return fmt.Errorf("applying step: %w", err)
	}

	if err := r.store.OverwriteAllRawData(ctx, migrated); err != nil {
		return fmt.Errorf("writing migrated data: %w", err)
	}

	if err := r.store.SetStoredSchemaVersion(ctx, step.Version); err != nil {
		return fmt.Errorf("recording schema version %d: %w", step.Version, err)
	}

	return nil
}

// pendingSteps returns steps with current < Version <= target, sorted
// ascending by Version.
func pendingSteps(steps []Migration, current, target int) []Migration {
	out := make([]Migration, 0, len(steps))

	for _, s := range steps {
		if s.Version > current && s.Version <= target {
			out = append(out, s)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })

	return out
}
