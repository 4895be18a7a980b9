package opqueue

// coalesceOutcome is the result of folding an incoming operation into an
// existing pending operation for the same entity (spec §4.1 "Coalescing
// rules").
type coalesceOutcome int

const (
	// coalesceReplace means result holds the single surviving operation.
	coalesceReplace coalesceOutcome = iota
	// coalesceDropBoth means neither operation should remain pending
	// (create immediately undone by a delete never reaches the remote).
	coalesceDropBoth
	// coalesceKeepExisting means the incoming operation is discarded and
	// existing is left untouched (illegal transitions from a pending delete,
	// except tombstone resurrection).
	coalesceKeepExisting
)

// coalesce applies the §4.1 coalescing table to an existing pending
// operation and an incoming one for the same entityId. It never mutates
// its arguments; callers apply the returned outcome.
func coalesce(existing, incoming Operation) (coalesceOutcome, Operation) {
	switch existing.Type {
	case OpCreate:
		switch incoming.Type {
		case OpUpdate:
			// create + later update -> single create carrying latest
			// payload. incoming.Data may be only a field-level diff (spec
			// §4.2 step 2b), so overlay rather than replace: the surviving
			// create still needs the full snapshot, not just the changed
			// fields.
			merged := existing
			merged.Data = mergeData(existing.Data, incoming.Data)
			merged.Timestamp = incoming.Timestamp

			return coalesceReplace, merged
		case OpDelete:
			// create + later delete -> both removed, never committed remotely.
			return coalesceDropBoth, Operation{}
		case OpCreate:
			// A second create for the same entity while one is pending is
			// treated the same as an update: latest payload wins.
			merged := existing
			merged.Data = mergeData(existing.Data, incoming.Data)
			merged.Timestamp = incoming.Timestamp

			return coalesceReplace, merged
		}
	case OpUpdate:
		switch incoming.Type {
		case OpUpdate:
			// update + later update -> single update, retryCount reset to
			// 0. Both Data maps are field-level diffs against the state at
			// the time each Save ran, so the second diff alone would lose
			// any field the first diff touched and the second didn't;
			// overlay incoming onto existing instead of replacing it.
			merged := existing
			merged.Data = mergeData(existing.Data, incoming.Data)
			merged.Timestamp = incoming.Timestamp
			merged.RetryCount = 0

			return coalesceReplace, merged
		case OpDelete:
			// update + later delete -> single delete.
			merged := incoming
			merged.ID = existing.ID

			return coalesceReplace, merged
		case OpCreate:
			// A create arriving after a pending update for the same entity
			// cannot represent a genuinely new record (the entity already
			// exists locally); treat it like an update of the latest
			// payload. incoming already carries the full snapshot (Save
			// only diffs for updates), so it alone is sufficient, but
			// overlay defensively in case a caller built the operation by
			// hand.
			merged := existing
			merged.Data = mergeData(existing.Data, incoming.Data)
			merged.Timestamp = incoming.Timestamp

			return coalesceReplace, merged
		}
	case OpDelete:
		// delete + anything else -> illegal; later op replaces the delete
		// only if it is a create of a new version (tombstone resurrection),
		// else the delete remains.
		if incoming.Type == OpCreate {
			merged := incoming
			merged.ID = existing.ID

			return coalesceReplace, merged
		}

		return coalesceKeepExisting, Operation{}
	}

	// Unreachable for the three known OpTypes; keep the existing operation
	// as the conservative default.
	return coalesceKeepExisting, Operation{}
}

// mergeData overlays incoming's fields onto base, returning a new map.
// Used to fold a later operation's payload into an earlier pending one
// without losing fields the later payload doesn't mention — required once
// update payloads can be partial diffs rather than full entity snapshots.
func mergeData(base, incoming map[string]any) map[string]any {
	merged := make(map[string]any, len(base)+len(incoming))

	for k, v := range base {
		merged[k] = v
	}

	for k, v := range incoming {
		merged[k] = v
	}

	return merged
}
