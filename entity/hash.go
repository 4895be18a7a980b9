package entity

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// idCollator orders entity IDs deterministically across locales so the
// canonical hash is stable regardless of the host's default collation
// (sync-engine §4.2 step 4: "hash of canonicalized serializations,
// concatenated in id order").
var idCollator = collate.New(language.Und, collate.Force)

// CanonicalHash computes the content hash for a set of entities used to
// detect whether local and remote state agree (sync metadata dataHash,
// §3 "Sync Metadata", §4.2 step 4). Entities are sorted by EntityID using a
// locale-independent collator, each serialized via ToMap and canonical JSON
// (sorted map keys — the encoding/json default for map[string]any), and the
// concatenation is hashed with SHA-256.
func CanonicalHash(entities []Entity) (string, error) {
	sorted := make([]Entity, len(entities))
	copy(sorted, entities)

	sort.Slice(sorted, func(i, j int) bool {
		return idCollator.CompareString(sorted[i].EntityID(), sorted[j].EntityID()) < 0
	})

	h := sha256.New()

	for _, e := range sorted {
		b, err := json.Marshal(e.ToMap())
		if err != nil {
			return "", err
		}

		h.Write([]byte(e.EntityID()))
		h.Write([]byte{0})
		h.Write(b)
		h.Write([]byte{0})
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}
