package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/tonimelisma/synckit/adapter"
)

// FsWatcher abstracts filesystem event monitoring so tests can inject a
// fake instead of a real *fsnotify.Watcher, mirroring the teacher's
// FsWatcher abstraction over fsnotify (internal/sync/observer_local.go).
type FsWatcher interface {
	Add(name string) error
	Close() error
	Events() <-chan fsnotify.Event
	Errors() <-chan error
}

type fsnotifyWrapper struct{ w *fsnotify.Watcher }

func (fw *fsnotifyWrapper) Add(name string) error         { return fw.w.Add(name) }
func (fw *fsnotifyWrapper) Close() error                  { return fw.w.Close() }
func (fw *fsnotifyWrapper) Events() <-chan fsnotify.Event { return fw.w.Events }
func (fw *fsnotifyWrapper) Errors() <-chan error          { return fw.w.Errors }

// outboxChange is the on-disk JSON shape an external writer drops into the
// outbox directory to announce a change this store did not itself make
// (spec §4.2 "External-change ingestion"). This is demo-grade local change
// detection, not a production change-data-capture mechanism.
type outboxChange struct {
	UserID         string         `json:"userId"`
	EntityID       string         `json:"entityId"`
	Kind           string         `json:"kind"`
	Version        int            `json:"version"`
	SourceDeviceID string         `json:"sourceDeviceId"`
	Fields         map[string]any `json:"fields"`
}

// EnableChangeStream configures the sentinel outbox directory ChangeStream
// watches. Must be called before ChangeStream; a Store with no outbox
// directory configured returns an error from ChangeStream rather than
// silently never emitting anything.
func (s *Store) EnableChangeStream(outboxDir string, factory func() (FsWatcher, error)) {
	if factory == nil {
		factory = func() (FsWatcher, error) {
			w, err := fsnotify.NewWatcher()
			if err != nil {
				return nil, err
			}

			return &fsnotifyWrapper{w: w}, nil
		}
	}

	s.outboxDir = outboxDir
	s.watcherFactory = factory
}

// ChangeStream implements adapter.ChangeStreamCapable by watching the
// outbox directory for newly-written JSON files, each describing one
// externally-originated mutation. The returned channel closes when ctx is
// canceled or the underlying watch fails.
func (s *Store) ChangeStream(ctx context.Context) (<-chan adapter.ChangeDetail, error) {
	if s.outboxDir == "" {
		return nil, fmt.Errorf("sqlitestore: change stream not enabled (call EnableChangeStream)")
	}

	if err := os.MkdirAll(s.outboxDir, 0o755); err != nil {
		return nil, fmt.Errorf("sqlitestore: creating outbox directory: %w", err)
	}

	watcher, err := s.watcherFactory()
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: creating filesystem watcher: %w", err)
	}

	if err := watcher.Add(s.outboxDir); err != nil {
		watcher.Close()

		return nil, fmt.Errorf("sqlitestore: watching outbox directory: %w", err)
	}

	out := make(chan adapter.ChangeDetail)

	go s.watchOutbox(ctx, watcher, out)

	return out, nil
}

func (s *Store) watchOutbox(ctx context.Context, watcher FsWatcher, out chan<- adapter.ChangeDetail) {
	defer close(out)
	defer watcher.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events():
			if !ok {
				return
			}

			if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}

			detail, ok := s.readOutboxFile(ev.Name)
			if !ok {
				continue
			}

			select {
			case out <- detail:
			case <-ctx.Done():
				return
			}
		case err, ok := <-watcher.Errors():
			if !ok {
				return
			}

			s.logger.Warn("change stream watcher error", "error", err)
		}
	}
}

func (s *Store) readOutboxFile(path string) (adapter.ChangeDetail, bool) {
	if filepath.Ext(path) != ".json" {
		return adapter.ChangeDetail{}, false
	}

	b, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("reading outbox file", "path", path, "error", err)

		return adapter.ChangeDetail{}, false
	}

	var oc outboxChange
	if err := json.Unmarshal(b, &oc); err != nil {
		s.logger.Warn("parsing outbox file", "path", path, "error", err)

		return adapter.ChangeDetail{}, false
	}

	os.Remove(path)

	detail := adapter.ChangeDetail{
		UserID:         oc.UserID,
		EntityID:       oc.EntityID,
		Kind:           adapter.ChangeKind(oc.Kind),
		Version:        oc.Version,
		SourceDeviceID: oc.SourceDeviceID,
	}

	if oc.Kind != string(adapter.ChangeDeleted) {
		detail.Entity = Record{
			ID:     oc.EntityID,
			Owner:  oc.UserID,
			Ver:    oc.Version,
			Fields: oc.Fields,
		}
	}

	return detail, true
}
