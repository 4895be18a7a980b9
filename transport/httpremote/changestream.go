package httpremote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/tonimelisma/synckit/adapter"
)

// wireChange is the JSON frame the remote service pushes over the
// websocket subscription, one per mutation.
type wireChange struct {
	UserID         string         `json:"userId"`
	EntityID       string         `json:"entityId"`
	Kind           string         `json:"kind"`
	Version        int            `json:"version"`
	SourceDeviceID string         `json:"sourceDeviceId"`
	Fields         map[string]any `json:"fields"`
}

// ChangeStream implements adapter.ChangeStreamCapable over a websocket
// subscription (spec §6 "changeStream()"), present in the domain stack for
// live remote-originated change notification — the teacher's core never
// does this (it polls via delta queries instead), so this is learned from
// the broader example pack's websocket usage rather than from the teacher.
func (a *Adapter) ChangeStream(ctx context.Context) (<-chan adapter.ChangeDetail, error) {
	if a.wsURL == "" {
		return nil, fmt.Errorf("httpremote: change stream not enabled (no wsURL configured)")
	}

	conn, _, err := websocket.Dial(ctx, a.wsURL, nil)
	if err != nil {
		return nil, fmt.Errorf("httpremote: dialing change stream: %w", err)
	}

	out := make(chan adapter.ChangeDetail)

	go a.readChangeStream(ctx, conn, out)

	return out, nil
}

func (a *Adapter) readChangeStream(ctx context.Context, conn *websocket.Conn, out chan<- adapter.ChangeDetail) {
	defer close(out)
	defer conn.Close(websocket.StatusNormalClosure, "done")

	for {
		var wc wireChange

		if err := wsjson.Read(ctx, conn, &wc); err != nil {
			if ctx.Err() == nil {
				a.logger.Warn("change stream read error", slog.String("error", err.Error()))
			}

			return
		}

		detail := adapter.ChangeDetail{
			UserID:         wc.UserID,
			EntityID:       wc.EntityID,
			Kind:           adapter.ChangeKind(wc.Kind),
			Version:        wc.Version,
			SourceDeviceID: wc.SourceDeviceID,
		}

		if wc.Kind != string(adapter.ChangeDeleted) {
			detail.Entity = wireRecord{ID: wc.EntityID, Owner: wc.UserID, Ver: wc.Version, Fields: wc.Fields}
		}

		select {
		case out <- detail:
		case <-ctx.Done():
			return
		}
	}
}
