package synctest

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/entity"
)

// LocalAdapter is an in-memory adapter.LocalAdapter fake. Safe for
// concurrent use. Entities and operations are keyed by user so tests can
// exercise multi-user isolation cheaply.
type LocalAdapter struct {
	mu sync.Mutex

	entities map[string]map[string]entity.Entity // userID -> entityID -> entity
	ops      map[string]adapter.StoredOperation  // opID -> op
	opOrder  []string                            // insertion order for FIFO
	meta     map[string]*adapter.SyncMetadata

	// FailPush, when set, is returned by Push for the given entity ID once
	// (then cleared), letting tests simulate a single transient failure.
	FailPush map[string]error
}

var _ adapter.LocalAdapter = (*LocalAdapter)(nil)

// NewLocalAdapter creates an empty fake local adapter.
func NewLocalAdapter() *LocalAdapter {
	return &LocalAdapter{
		entities: make(map[string]map[string]entity.Entity),
		ops:      make(map[string]adapter.StoredOperation),
		meta:     make(map[string]*adapter.SyncMetadata),
		FailPush: make(map[string]error),
	}
}

func (a *LocalAdapter) Initialize(context.Context) error { return nil }
func (a *LocalAdapter) Dispose(context.Context) error    { return nil }

func (a *LocalAdapter) GetAll(_ context.Context, userID string) ([]entity.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []entity.Entity

	for _, e := range a.entities[userID] {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })

	return out, nil
}

func (a *LocalAdapter) GetByID(_ context.Context, id, userID string) (entity.Entity, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.entities[userID]
	if !ok {
		return nil, nil //nolint:nilnil // fake mirrors "not found" as (nil, nil)
	}

	e, ok := u[id]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return e, nil
}

func (a *LocalAdapter) GetByIDs(ctx context.Context, ids []string, userID string) ([]entity.Entity, error) {
	var out []entity.Entity

	for _, id := range ids {
		e, err := a.GetByID(ctx, id, userID)
		if err != nil {
			return nil, err
		}

		if e != nil {
			out = append(out, e)
		}
	}

	return out, nil
}

func (a *LocalAdapter) Push(_ context.Context, e entity.Entity, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if err, ok := a.FailPush[e.EntityID()]; ok {
		delete(a.FailPush, e.EntityID())

		return err
	}

	if _, ok := a.entities[userID]; !ok {
		a.entities[userID] = make(map[string]entity.Entity)
	}

	a.entities[userID][e.EntityID()] = e

	return nil
}

func (a *LocalAdapter) Delete(_ context.Context, id, userID string) (bool, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	u, ok := a.entities[userID]
	if !ok {
		return false, nil
	}

	if _, ok := u[id]; !ok {
		return false, nil
	}

	delete(u, id)

	return true, nil
}

func (a *LocalAdapter) GetPendingOperations(_ context.Context, userID string) ([]adapter.StoredOperation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	var out []adapter.StoredOperation

	for _, id := range a.opOrder {
		op, ok := a.ops[id]
		if ok && op.UserID == userID {
			out = append(out, op)
		}
	}

	return out, nil
}

func (a *LocalAdapter) AddPendingOperation(_ context.Context, userID string, op adapter.StoredOperation) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	op.UserID = userID

	if op.ID == "" {
		op.ID = uuid.NewString()
	}

	if _, exists := a.ops[op.ID]; !exists {
		a.opOrder = append(a.opOrder, op.ID)
	}

	a.ops[op.ID] = op

	return nil
}

func (a *LocalAdapter) MarkAsSynced(_ context.Context, opID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.ops, opID)

	return nil
}

func (a *LocalAdapter) ClearUserData(_ context.Context, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	delete(a.entities, userID)

	for id, op := range a.ops {
		if op.UserID == userID {
			delete(a.ops, id)
		}
	}

	delete(a.meta, userID)

	return nil
}

func (a *LocalAdapter) GetSyncMetadata(_ context.Context, userID string) (*adapter.SyncMetadata, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.meta[userID]
	if !ok {
		return &adapter.SyncMetadata{UserID: userID}, nil
	}

	cp := *m

	return &cp, nil
}

func (a *LocalAdapter) UpdateSyncMetadata(_ context.Context, meta *adapter.SyncMetadata, userID string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	cp := *meta
	cp.UserID = userID
	a.meta[userID] = &cp

	return nil
}

// RemoteAdapter is an in-memory adapter.RemoteAdapter fake.
type RemoteAdapter struct {
	mu sync.Mutex

	connected bool
	entities  map[string]map[string]entity.Entity
	meta      map[string]*adapter.SyncMetadata

	// FailEntities causes Push/DeleteRemote to fail for the named entity
	// IDs (sticky, unlike LocalAdapter.FailPush) — used to simulate a
	// remote that permanently rejects one record (spec §8 scenario 4).
	FailEntities map[string]error
}

var _ adapter.RemoteAdapter = (*RemoteAdapter)(nil)

// NewRemoteAdapter creates a connected, empty fake remote adapter.
func NewRemoteAdapter() *RemoteAdapter {
	return &RemoteAdapter{
		connected:    true,
		entities:     make(map[string]map[string]entity.Entity),
		meta:         make(map[string]*adapter.SyncMetadata),
		FailEntities: make(map[string]error),
	}
}

func (r *RemoteAdapter) SetConnected(v bool) {
	r.mu.Lock()
	r.connected = v
	r.mu.Unlock()
}

func (r *RemoteAdapter) IsConnected(context.Context) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.connected
}

func (r *RemoteAdapter) FetchAll(_ context.Context, userID string, _ any) ([]entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []entity.Entity

	for _, e := range r.entities[userID] {
		out = append(out, e)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].EntityID() < out[j].EntityID() })

	return out, nil
}

func (r *RemoteAdapter) FetchByID(_ context.Context, id, userID string) (entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	u, ok := r.entities[userID]
	if !ok {
		return nil, nil //nolint:nilnil
	}

	return u[id], nil
}

func (r *RemoteAdapter) Push(_ context.Context, e entity.Entity, userID string) (entity.Entity, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.FailEntities[e.EntityID()]; ok {
		return nil, err
	}

	if _, ok := r.entities[userID]; !ok {
		r.entities[userID] = make(map[string]entity.Entity)
	}

	r.entities[userID][e.EntityID()] = e

	return e, nil
}

func (r *RemoteAdapter) DeleteRemote(_ context.Context, id, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err, ok := r.FailEntities[id]; ok {
		return err
	}

	if u, ok := r.entities[userID]; ok {
		delete(u, id)
	}

	return nil
}

func (r *RemoteAdapter) GetSyncMetadata(_ context.Context, userID string) (*adapter.SyncMetadata, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.meta[userID]
	if !ok {
		return &adapter.SyncMetadata{UserID: userID}, nil
	}

	cp := *m

	return &cp, nil
}

func (r *RemoteAdapter) UpdateSyncMetadata(_ context.Context, meta *adapter.SyncMetadata, userID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cp := *meta
	cp.UserID = userID
	r.meta[userID] = &cp

	return nil
}

// Seed directly installs an entity on the remote side, bypassing Push —
// used to set up pre-existing remote state for conflict scenarios.
func (r *RemoteAdapter) Seed(userID string, e entity.Entity) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entities[userID]; !ok {
		r.entities[userID] = make(map[string]entity.Entity)
	}

	r.entities[userID][e.EntityID()] = e
}
