package main

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tonimelisma/synckit/entity"
)

// task is the demonstration entity.Entity: a minimal to-do item with enough
// fields (title, priority, done) to exercise patching, conflict
// classification and every resolver strategy. A real application supplies
// its own entity.Entity implementation — this one exists purely so the
// core's contracts run against a concrete record type.
type task struct {
	ID       string
	Owner    string
	Title    string
	Priority string
	Done     bool
	Created  time.Time
	Modified time.Time
	Ver      int
	Deleted  bool
}

func newTask(owner, title, priority string) task {
	now := time.Now()

	return task{
		ID:       uuid.NewString(),
		Owner:    owner,
		Title:    title,
		Priority: priority,
		Created:  now,
		Modified: now,
		Ver:      1,
	}
}

func (t task) EntityID() string      { return t.ID }
func (t task) OwnerID() string       { return t.Owner }
func (t task) CreatedAt() time.Time  { return t.Created }
func (t task) ModifiedAt() time.Time { return t.Modified }
func (t task) Version() int          { return t.Ver }
func (t task) IsDeleted() bool       { return t.Deleted }

func (t task) ToMap() map[string]any {
	return map[string]any{
		"title":    t.Title,
		"priority": t.Priority,
		"done":     t.Done,
	}
}

func (t task) Diff(prior entity.Entity) entity.Delta {
	delta := entity.Delta{}

	if prior == nil {
		for k, v := range t.ToMap() {
			delta[k] = v
		}

		return delta
	}

	before := prior.ToMap()

	for k, v := range t.ToMap() {
		if old, ok := before[k]; !ok || old != v {
			delta[k] = v
		}
	}

	return delta
}

// taskFromEntity lifts an arbitrary entity.Entity (as returned by an
// adapter, which has no notion of the concrete task type) back into task
// for display and further editing.
func taskFromEntity(e entity.Entity) task {
	m := e.ToMap()

	t := task{
		ID: e.EntityID(), Owner: e.OwnerID(),
		Created: e.CreatedAt(), Modified: e.ModifiedAt(),
		Ver: e.Version(), Deleted: e.IsDeleted(),
	}

	if v, ok := m["title"].(string); ok {
		t.Title = v
	}

	if v, ok := m["priority"].(string); ok {
		t.Priority = v
	}

	if v, ok := m["done"].(bool); ok {
		t.Done = v
	}

	return t
}

func (t task) String() string {
	done := " "
	if t.Done {
		done = "x"
	}

	return fmt.Sprintf("[%s] %s (%s) v%d", done, t.Title, t.Priority, t.Ver)
}
