package migrate_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/migrate"
	"github.com/tonimelisma/synckit/storage/sqlitestore"
	"github.com/tonimelisma/synckit/syncerr"
)

func newStore(t *testing.T) *sqlitestore.Store {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	s, err := sqlitestore.Open(":memory:", logger)
	require.NoError(t, err)

	t.Cleanup(func() { _ = s.Dispose(context.Background()) })

	return s
}

func TestRun_AppliesStepsInOrderAndRecordsVersion(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var applied []int

	steps := []migrate.Migration{
		{Version: 2, Description: "second", Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 2)

			return data, nil
		}},
		{Version: 1, Description: "first", Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 1)

			return data, nil
		}},
	}

	runner := migrate.NewRunner(store, 2, nil, nil)

	final, err := runner.Run(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, final)
	assert.Equal(t, []int{1, 2}, applied)

	got, err := store.GetStoredSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got)
}

func TestRun_SkipsAlreadyAppliedAndFutureVersions(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	require.NoError(t, store.SetStoredSchemaVersion(ctx, 1))

	var applied []int

	steps := []migrate.Migration{
		{Version: 1, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 1)

			return data, nil
		}},
		{Version: 2, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 2)

			return data, nil
		}},
		{Version: 3, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 3)

			return data, nil
		}},
	}

	runner := migrate.NewRunner(store, 2, nil, nil)

	final, err := runner.Run(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, final)
	assert.Equal(t, []int{2}, applied)
}

func TestRun_FailureAbortsByDefault(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	boom := fmt.Errorf("boom")

	steps := []migrate.Migration{
		{Version: 1, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			return nil, boom
		}},
	}

	runner := migrate.NewRunner(store, 1, nil, nil)

	final, err := runner.Run(ctx, steps)
	require.Error(t, err)
	assert.Equal(t, 0, final)

	var migErr *syncerr.MigrationError
	require.ErrorAs(t, err, &migErr)
	assert.Equal(t, 0, migErr.FromVersion)
	assert.Equal(t, 1, migErr.ToVersion)

	got, err := store.GetStoredSchemaVersion(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, got, "version must not advance on failure")
}

func TestRun_ErrorHandlerCanSuppressAndContinue(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var applied []int

	steps := []migrate.Migration{
		{Version: 1, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			return nil, fmt.Errorf("transient")
		}},
		{Version: 2, Apply: func(_ context.Context, data map[string]any) (map[string]any, error) {
			applied = append(applied, 2)

			return data, nil
		}},
	}

	suppressAll := func(*syncerr.MigrationError) error { return nil }

	runner := migrate.NewRunner(store, 2, suppressAll, nil)

	final, err := runner.Run(ctx, steps)
	require.NoError(t, err)
	assert.Equal(t, 2, final)
	assert.Equal(t, []int{2}, applied, "step 2 still runs after step 1's failure is suppressed")
}
