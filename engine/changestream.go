package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/events"
)

// WatchChangeStream subscribes to remote's change stream, if it exposes
// one, and runs each incoming change through the same conflict pipeline as
// a pull (spec §4.2 "External-change ingestion"). It blocks until ctx is
// canceled or the stream closes. Deduplication is keyed by
// (entityId, version, sourceDeviceId); changes whose sourceDeviceId equals
// the local device id are suppressed, since those originated here.
func (e *Engine) WatchChangeStream(ctx context.Context, userID string) error {
	streamer, ok := e.remote.(adapter.ChangeStreamCapable)
	if !ok {
		return nil
	}

	ch, err := streamer.ChangeStream(ctx)
	if err != nil {
		return fmt.Errorf("engine: watch change stream for %s: %w", userID, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case detail, open := <-ch:
			if !open {
				return nil
			}

			if detail.UserID != userID {
				continue
			}

			if detail.SourceDeviceID != "" && detail.SourceDeviceID == e.deviceID {
				continue
			}

			if e.alreadySeen(userID, detail) {
				continue
			}

			if err := e.ingestChange(ctx, userID, detail); err != nil {
				e.logger.Warn("dropping external change",
					slog.String("user_id", userID),
					slog.String("entity_id", detail.EntityID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

func (e *Engine) alreadySeen(userID string, detail adapter.ChangeDetail) bool {
	key := dedupeKey{entityID: detail.EntityID, version: detail.Version, sourceDeviceID: detail.SourceDeviceID}

	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.seen[userID]; !ok {
		e.seen[userID] = make(map[dedupeKey]struct{})
	}

	if _, dup := e.seen[userID][key]; dup {
		return true
	}

	e.seen[userID][key] = struct{}{}

	return false
}

func (e *Engine) ingestChange(ctx context.Context, userID string, detail adapter.ChangeDetail) error {
	if detail.Kind == adapter.ChangeDeleted {
		local, err := e.local.GetByID(ctx, detail.EntityID, userID)
		if err != nil {
			return fmt.Errorf("ingest change: local lookup: %w", err)
		}

		if local == nil {
			return nil
		}

		if _, err := e.local.Delete(ctx, detail.EntityID, userID); err != nil {
			return fmt.Errorf("ingest change: local delete: %w", err)
		}

		e.publish(events.NewDataChange(userID, detail.EntityID, adapter.ChangeDeleted, events.SourceRemote))

		return nil
	}

	if detail.Entity == nil {
		return fmt.Errorf("ingest change: %s has no entity payload", detail.EntityID)
	}

	outcome, err := e.reconcileOne(ctx, userID, detail.Entity, e.resolver)
	if err != nil {
		return err
	}

	if outcome.conflictsResolved > 0 {
		e.logger.Info("external change resolved a conflict",
			slog.String("user_id", userID),
			slog.String("entity_id", detail.EntityID),
		)
	}

	return nil
}

// RunAutoSync starts a periodic sync loop for userID, triggering
// immediately whenever isOnline transitions false→true, debounced so a
// burst of online events within onlineDebounce collapses into a single
// sync (spec §4.2 "Auto-sync loop"). It blocks until ctx is canceled.
func (e *Engine) RunAutoSync(ctx context.Context, userID string, interval time.Duration, online <-chan bool) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	trigger := make(chan struct{}, 1)

	signalTrigger := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	wasOnline := true

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			signalTrigger()
		case isOnline, ok := <-online:
			if !ok {
				online = nil

				continue
			}

			if isOnline && !wasOnline {
				if debounce != nil {
					debounce.Stop()
				}

				debounce = time.AfterFunc(onlineDebounce, signalTrigger)
			}

			wasOnline = isOnline
		case <-trigger:
			if e.IsPaused(userID) {
				continue
			}

			if _, err := e.Sync(ctx, userID, Options{}); err != nil {
				e.logger.Warn("auto-sync cycle failed",
					slog.String("user_id", userID),
					slog.String("error", err.Error()),
				)
			}
		}
	}
}
