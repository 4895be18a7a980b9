package httpremote_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/entity"
	"github.com/tonimelisma/synckit/transport/httpremote"
)

type staticToken struct{}

func (staticToken) Token() (string, error) { return "test-token", nil }

func newAdapter(t *testing.T, handler http.Handler) (*httpremote.Adapter, *httptest.Server) {
	t.Helper()

	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := httpremote.New(srv.URL, srv.Client(), staticToken{}, "", logger)

	return a, srv
}

func TestFetchByID_DecodesEntity(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "task-1", "ownerId": "user-1", "version": 1,
			"createdAt": time.Unix(1700000000, 0), "modifiedAt": time.Unix(1700000000, 0),
			"fields": map[string]any{"title": "write report"},
		})
	}))

	got, err := a.FetchByID(ctx, "task-1", "user-1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "task-1", got.EntityID())
	assert.Equal(t, 1, got.Version())
}

func TestFetchByID_404ReturnsNilNil(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	got, err := a.FetchByID(ctx, "missing", "user-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestPush_SendsAndDecodesServerCopy(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "task-1", body["id"])

		body["version"] = float64(2)
		_ = json.NewEncoder(w).Encode(body)
	}))

	rec := fakeEntity{id: "task-1", owner: "user-1", ver: 1}

	got, err := a.Push(ctx, rec, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 2, got.Version())
}

func TestDeleteRemote_404IsNotAnError(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	require.NoError(t, a.DeleteRemote(ctx, "task-1", "user-1"))
}

func TestIsConnected_TrueOnHealthyServerFalseOnFailure(t *testing.T) {
	ctx := context.Background()

	up, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	assert.True(t, up.IsConnected(ctx))

	down := httpremote.New("http://127.0.0.1:0", nil, staticToken{}, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	ctxTimeout, cancel := context.WithTimeout(ctx, 200*time.Millisecond)
	defer cancel()
	assert.False(t, down.IsConnected(ctxTimeout))
}

func TestGetSyncMetadata_MissingReturnsZeroValue(t *testing.T) {
	ctx := context.Background()

	a, _ := newAdapter(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "not found", http.StatusNotFound)
	}))

	meta, err := a.GetSyncMetadata(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, "user-1", meta.UserID)
	assert.Equal(t, int64(0), meta.LastSyncTime)
}

type fakeEntity struct {
	id, owner string
	ver       int
}

func (f fakeEntity) EntityID() string      { return f.id }
func (f fakeEntity) OwnerID() string       { return f.owner }
func (f fakeEntity) CreatedAt() time.Time  { return time.Unix(1700000000, 0) }
func (f fakeEntity) ModifiedAt() time.Time { return time.Unix(1700000000, 0) }
func (f fakeEntity) Version() int          { return f.ver }
func (f fakeEntity) IsDeleted() bool       { return false }
func (f fakeEntity) ToMap() map[string]any          { return map[string]any{} }
func (f fakeEntity) Diff(entity.Entity) entity.Delta { return entity.Delta{} }

var _ adapter.RemoteAdapter = (*httpremote.Adapter)(nil)
