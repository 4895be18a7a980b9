package sqlitestore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tonimelisma/synckit/entity"
)

// Record is the concrete entity.Entity the store hands back from GetAll/
// GetByID — a JSON-backed bag of fields, the storage-layer analog of the
// teacher's Item struct (internal/sync/state.go) but generic over whatever
// fields a consumer's application record carries, since the core never
// knows the concrete record type (entity.Entity doc comment).
type Record struct {
	ID       string
	Owner    string
	Created  time.Time
	Modified time.Time
	Ver      int
	Deleted  bool
	Fields   map[string]any
}

var _ entity.Entity = Record{}

func (r Record) EntityID() string      { return r.ID }
func (r Record) OwnerID() string       { return r.Owner }
func (r Record) CreatedAt() time.Time  { return r.Created }
func (r Record) ModifiedAt() time.Time { return r.Modified }
func (r Record) Version() int          { return r.Ver }
func (r Record) IsDeleted() bool       { return r.Deleted }

func (r Record) ToMap() map[string]any {
	m := make(map[string]any, len(r.Fields)+2)

	for k, v := range r.Fields {
		m[k] = v
	}

	m["version"] = r.Ver
	m["deleted"] = r.Deleted

	return m
}

func (r Record) Diff(prior entity.Entity) entity.Delta {
	d := entity.Delta{}

	p, ok := prior.(Record)
	if !ok {
		return entity.Delta(r.ToMap())
	}

	for k, v := range r.Fields {
		if pv, exists := p.Fields[k]; !exists || pv != v {
			d[k] = v
		}
	}

	if r.Ver != p.Ver {
		d["version"] = r.Ver
	}

	if r.Deleted != p.Deleted {
		d["deleted"] = r.Deleted
	}

	return d
}

// recordFromEntity lifts an arbitrary entity.Entity into the concrete Record
// shape this store persists, so Push never has to special-case the caller's
// own entity type (spec §6: LocalAdapter.Push "replaces the record with e in
// full").
func recordFromEntity(e entity.Entity) Record {
	if r, ok := e.(Record); ok {
		return r
	}

	m := e.ToMap()
	delete(m, "version")
	delete(m, "deleted")

	return Record{
		ID:       e.EntityID(),
		Owner:    e.OwnerID(),
		Created:  e.CreatedAt(),
		Modified: e.ModifiedAt(),
		Ver:      e.Version(),
		Deleted:  e.IsDeleted(),
		Fields:   m,
	}
}

// marshalFields encodes the free-form field bag to a JSON blob for storage.
func marshalFields(fields map[string]any) (string, error) {
	b, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("sqlitestore: marshal fields: %w", err)
	}

	return string(b), nil
}

// unmarshalFields decodes a JSON blob back into a field bag.
func unmarshalFields(blob string) (map[string]any, error) {
	if blob == "" {
		return map[string]any{}, nil
	}

	var fields map[string]any

	if err := json.Unmarshal([]byte(blob), &fields); err != nil {
		return nil, fmt.Errorf("sqlitestore: unmarshal fields: %w", err)
	}

	return fields, nil
}
