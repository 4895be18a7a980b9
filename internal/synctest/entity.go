// Package synctest provides shared test fakes for the core packages
// (opqueue, conflict, engine, manager). It depends only on the public
// entity/adapter contracts, mirroring the teacher's top-level testutil
// package that is shared across multiple test binaries rather than
// duplicated per package (testutil/testenv.go).
package synctest

import (
	"time"

	"github.com/tonimelisma/synckit/entity"
)

// Entity is a minimal concrete entity.Entity used across core package
// tests, grounded on the teacher's preference for small in-memory fakes
// over mocks (internal/sync/engine_integration_test.go).
type Entity struct {
	ID       string
	Owner    string
	Created  time.Time
	Modified time.Time
	Ver      int
	Deleted  bool
	Fields   map[string]any
}

var _ entity.Entity = Entity{}

func (e Entity) EntityID() string      { return e.ID }
func (e Entity) OwnerID() string       { return e.Owner }
func (e Entity) CreatedAt() time.Time  { return e.Created }
func (e Entity) ModifiedAt() time.Time { return e.Modified }
func (e Entity) Version() int          { return e.Ver }
func (e Entity) IsDeleted() bool       { return e.Deleted }

func (e Entity) ToMap() map[string]any {
	m := map[string]any{
		"id":      e.ID,
		"owner":   e.Owner,
		"version": e.Ver,
		"deleted": e.Deleted,
	}

	for k, v := range e.Fields {
		m[k] = v
	}

	return m
}

func (e Entity) Diff(prior entity.Entity) entity.Delta {
	d := entity.Delta{}

	p, ok := prior.(Entity)
	if !ok {
		return entity.Delta(e.ToMap())
	}

	for k, v := range e.Fields {
		if pv, ok := p.Fields[k]; !ok || pv != v {
			d[k] = v
		}
	}

	if e.Ver != p.Ver {
		d["version"] = e.Ver
	}

	if e.Deleted != p.Deleted {
		d["deleted"] = e.Deleted
	}

	return d
}

// With returns a copy of e with fields replaced by overrides and Version
// bumped by one, ModifiedAt set to at. Convenient for building
// create-then-update chains in tests.
func (e Entity) With(at time.Time, overrides map[string]any) Entity {
	fields := make(map[string]any, len(e.Fields)+len(overrides))

	for k, v := range e.Fields {
		fields[k] = v
	}

	for k, v := range overrides {
		fields[k] = v
	}

	e.Fields = fields
	e.Ver++
	e.Modified = at

	return e
}

// NewEntity builds an Entity owned by userID at the given version.
func NewEntity(id, userID string, version int, at time.Time, fields map[string]any) Entity {
	return Entity{
		ID:       id,
		Owner:    userID,
		Created:  at,
		Modified: at,
		Ver:      version,
		Fields:   fields,
	}
}
