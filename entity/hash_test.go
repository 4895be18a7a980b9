package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tonimelisma/synckit/entity"
)

// testEntity is a minimal Entity implementation used across core package
// tests (grounded on the teacher's use of small in-memory fakes in
// engine_integration_test.go rather than mocks).
type testEntity struct {
	id        string
	owner     string
	createdAt time.Time
	modified  time.Time
	version   int
	deleted   bool
	fields    map[string]any
}

func (e testEntity) EntityID() string         { return e.id }
func (e testEntity) OwnerID() string          { return e.owner }
func (e testEntity) CreatedAt() time.Time     { return e.createdAt }
func (e testEntity) ModifiedAt() time.Time    { return e.modified }
func (e testEntity) Version() int             { return e.version }
func (e testEntity) IsDeleted() bool          { return e.deleted }
func (e testEntity) ToMap() map[string]any {
	m := map[string]any{
		"id":       e.id,
		"owner":    e.owner,
		"version":  e.version,
		"deleted":  e.deleted,
	}

	for k, v := range e.fields {
		m[k] = v
	}

	return m
}

func (e testEntity) Diff(prior entity.Entity) entity.Delta {
	p, ok := prior.(testEntity)
	if !ok {
		return entity.Delta(e.ToMap())
	}

	d := entity.Delta{}

	for k, v := range e.fields {
		if pv, ok := p.fields[k]; !ok || pv != v {
			d[k] = v
		}
	}

	if e.version != p.version {
		d["version"] = e.version
	}

	return d
}

func newTestEntity(id string, version int, fields map[string]any) testEntity {
	now := time.Unix(1700000000, 0).Add(time.Duration(version) * time.Second)

	return testEntity{
		id:        id,
		owner:     "u1",
		createdAt: now,
		modified:  now,
		version:   version,
		fields:    fields,
	}
}

func TestCanonicalHashDeterministicAcrossOrder(t *testing.T) {
	a := newTestEntity("b", 1, map[string]any{"title": "B"})
	b := newTestEntity("a", 1, map[string]any{"title": "A"})

	h1, err := entity.CanonicalHash([]entity.Entity{a, b})
	require.NoError(t, err)

	h2, err := entity.CanonicalHash([]entity.Entity{b, a})
	require.NoError(t, err)

	require.Equal(t, h1, h2, "hash must not depend on input slice order")
}

func TestCanonicalHashChangesWithContent(t *testing.T) {
	a := newTestEntity("a", 1, map[string]any{"title": "A"})
	aModified := newTestEntity("a", 2, map[string]any{"title": "A2"})

	h1, err := entity.CanonicalHash([]entity.Entity{a})
	require.NoError(t, err)

	h2, err := entity.CanonicalHash([]entity.Entity{aModified})
	require.NoError(t, err)

	require.NotEqual(t, h1, h2)
}

func TestDiffEmptyWhenEqual(t *testing.T) {
	a := newTestEntity("a", 1, map[string]any{"title": "A"})
	same := newTestEntity("a", 1, map[string]any{"title": "A"})

	d := same.Diff(a)
	require.True(t, d.Empty())
}

func TestDiffCapturesChangedFields(t *testing.T) {
	a := newTestEntity("a", 1, map[string]any{"title": "A", "done": false})
	b := newTestEntity("a", 2, map[string]any{"title": "A2", "done": false})

	d := b.Diff(a)
	require.False(t, d.Empty())
	require.Equal(t, "A2", d["title"])
	require.Equal(t, 2, d["version"])
	require.NotContains(t, d, "done")
}
