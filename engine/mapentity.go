package engine

import (
	"time"

	"github.com/tonimelisma/synckit/entity"
)

// mapEntity adapts a Sync Operation's raw Data payload (spec §3 "Sync
// Operation") into an entity.Entity so the push phase can hand it to
// adapter.RemoteAdapter.Push without requiring every LocalAdapter consumer
// to expose its own concrete entity type.
type mapEntity struct {
	id     string
	userID string
	data   map[string]any
}

var _ entity.Entity = mapEntity{}

func (m mapEntity) EntityID() string { return m.id }
func (m mapEntity) OwnerID() string  { return m.userID }

func (m mapEntity) CreatedAt() time.Time {
	return timeField(m.data, "createdAt")
}

func (m mapEntity) ModifiedAt() time.Time {
	return timeField(m.data, "modifiedAt")
}

func (m mapEntity) Version() int {
	if v, ok := m.data["version"].(int); ok {
		return v
	}

	return 0
}

func (m mapEntity) IsDeleted() bool {
	if v, ok := m.data["deleted"].(bool); ok {
		return v
	}

	return false
}

func (m mapEntity) ToMap() map[string]any { return m.data }

func (m mapEntity) Diff(prior entity.Entity) entity.Delta {
	d := entity.Delta{}

	p, ok := prior.(mapEntity)
	if !ok {
		return entity.Delta(m.data)
	}

	for k, v := range m.data {
		if pv, ok := p.data[k]; !ok || pv != v {
			d[k] = v
		}
	}

	return d
}

func timeField(data map[string]any, key string) time.Time {
	v, ok := data[key]
	if !ok {
		return time.Time{}
	}

	switch t := v.(type) {
	case time.Time:
		return t
	case int64:
		return time.Unix(0, t)
	default:
		return time.Time{}
	}
}

// mapFromEntity renders e as a plain map for diagnostic events (spec §3
// "Conflict Context ... optional local/remote metadata snapshots"), or nil
// if e is absent.
func mapFromEntity(e entity.Entity) map[string]any {
	if e == nil {
		return nil
	}

	return e.ToMap()
}
