package httpremote

import (
	"time"

	"github.com/tonimelisma/synckit/entity"
)

// wireRecord is the JSON shape exchanged with the remote service, and
// itself satisfies entity.Entity so FetchAll/FetchByID can hand results
// straight back to the core without an adapter-side conversion step —
// mirrored on storage/sqlitestore's own Record.
type wireRecord struct {
	ID       string         `json:"id"`
	Owner    string         `json:"ownerId"`
	Ver      int            `json:"version"`
	Created  time.Time      `json:"createdAt"`
	Modified time.Time      `json:"modifiedAt"`
	Deleted  bool           `json:"deleted"`
	Fields   map[string]any `json:"fields"`
}

func (r wireRecord) EntityID() string      { return r.ID }
func (r wireRecord) OwnerID() string       { return r.Owner }
func (r wireRecord) CreatedAt() time.Time  { return r.Created }
func (r wireRecord) ModifiedAt() time.Time { return r.Modified }
func (r wireRecord) Version() int          { return r.Ver }
func (r wireRecord) IsDeleted() bool       { return r.Deleted }
func (r wireRecord) ToMap() map[string]any { return r.Fields }

func (r wireRecord) Diff(prior entity.Entity) entity.Delta {
	delta := entity.Delta{}

	if prior == nil {
		for k, v := range r.Fields {
			delta[k] = v
		}

		return delta
	}

	before := prior.ToMap()

	for k, v := range r.Fields {
		if old, ok := before[k]; !ok || old != v {
			delta[k] = v
		}
	}

	return delta
}

func wireRecordFromEntity(e entity.Entity) wireRecord {
	return wireRecord{
		ID:       e.EntityID(),
		Owner:    e.OwnerID(),
		Ver:      e.Version(),
		Created:  e.CreatedAt(),
		Modified: e.ModifiedAt(),
		Deleted:  e.IsDeleted(),
		Fields:   e.ToMap(),
	}
}
