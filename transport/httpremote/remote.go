// Package httpremote is a reference adapter.RemoteAdapter backed by a JSON
// REST API, grounded on the teacher's internal/graph package: a retrying
// *http.Client wrapper, OAuth2 bearer auth via golang.org/x/oauth2 (the
// fork carrying OnTokenChange), and sentinel-wrapped HTTP error
// classification (internal/graph/client.go, internal/graph/errors.go,
// internal/graph/auth.go).
//
// It exists so adapter.RemoteAdapter (and its optional capability
// interfaces) are exercised by real, runnable code rather than left as bare
// declarations — concrete remotes are themselves out of the core's scope.
package httpremote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/tonimelisma/synckit/adapter"
	"github.com/tonimelisma/synckit/entity"
)

var (
	_ adapter.RemoteAdapter       = (*Adapter)(nil)
	_ adapter.RemotePatchCapable  = (*Adapter)(nil)
	_ adapter.ChangeStreamCapable = (*Adapter)(nil)
)

// Adapter implements adapter.RemoteAdapter over a JSON REST API reachable
// at baseURL.
type Adapter struct {
	c      *client
	logger *slog.Logger

	wsURL string
}

// New builds an Adapter. token supplies bearer credentials for every
// request (see NewTokenSource). wsURL, if non-empty, enables ChangeStream
// over a websocket subscription at that URL; leave empty to disable it.
func New(baseURL string, httpClient *http.Client, token TokenSource, wsURL string, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}

	return &Adapter{c: newClient(baseURL, httpClient, token, logger), logger: logger, wsURL: wsURL}
}

// IsConnected performs a cheap health probe against the remote service
// (spec §6 "Remote Adapter contract": isConnected()). A failure of any
// kind, including a canceled ctx, reports false rather than propagating an
// error — callers treat connectivity as a boolean gate, not a fallible
// call.
func (a *Adapter) IsConnected(ctx context.Context) bool {
	resp, err := a.c.do(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}

	resp.Body.Close()

	return true
}

func (a *Adapter) FetchAll(ctx context.Context, userID string, scope any) ([]entity.Entity, error) {
	path := "/entities?owner=" + url.QueryEscape(userID)

	if cursor, ok := scope.(string); ok && cursor != "" {
		path += "&cursor=" + url.QueryEscape(cursor)
	}

	resp, err := a.c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var records []wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, fmt.Errorf("httpremote: decoding fetch-all response: %w", err)
	}

	out := make([]entity.Entity, len(records))
	for i, r := range records {
		out[i] = r
	}

	return out, nil
}

func (a *Adapter) FetchByID(ctx context.Context, id, userID string) (entity.Entity, error) {
	path := fmt.Sprintf("/entities/%s?owner=%s", url.PathEscape(id), url.QueryEscape(userID))

	resp, err := a.c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errIsNotFound(err) {
			return nil, nil //nolint:nilnil
		}

		return nil, err
	}
	defer resp.Body.Close()

	var r wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, fmt.Errorf("httpremote: decoding fetch-by-id response: %w", err)
	}

	return r, nil
}

// Push uploads e and returns the server's copy, which may carry
// server-assigned fields or a bumped version (spec §6: "may return a
// server-modified copy").
func (a *Adapter) Push(ctx context.Context, e entity.Entity, userID string) (entity.Entity, error) {
	r := wireRecordFromEntity(e)

	body, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("httpremote: marshaling push body: %w", err)
	}

	path := fmt.Sprintf("/entities/%s?owner=%s", url.PathEscape(r.ID), url.QueryEscape(userID))

	resp, err := a.c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpremote: decoding push response: %w", err)
	}

	return out, nil
}

// Patch applies delta server-side (adapter.RemotePatchCapable), returning
// the server's merged copy.
func (a *Adapter) Patch(ctx context.Context, id, userID string, delta entity.Delta) (entity.Entity, error) {
	body, err := json.Marshal(delta)
	if err != nil {
		return nil, fmt.Errorf("httpremote: marshaling patch body: %w", err)
	}

	path := fmt.Sprintf("/entities/%s?owner=%s", url.PathEscape(id), url.QueryEscape(userID))

	resp, err := a.c.do(ctx, http.MethodPatch, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out wireRecord
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("httpremote: decoding patch response: %w", err)
	}

	return out, nil
}

func (a *Adapter) DeleteRemote(ctx context.Context, id, userID string) error {
	path := fmt.Sprintf("/entities/%s?owner=%s", url.PathEscape(id), url.QueryEscape(userID))

	resp, err := a.c.do(ctx, http.MethodDelete, path, nil)
	if err != nil {
		if errIsNotFound(err) {
			return nil
		}

		return err
	}

	resp.Body.Close()

	return nil
}

func (a *Adapter) GetSyncMetadata(ctx context.Context, userID string) (*adapter.SyncMetadata, error) {
	path := "/sync-metadata?owner=" + url.QueryEscape(userID)

	resp, err := a.c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		if errIsNotFound(err) {
			return &adapter.SyncMetadata{UserID: userID}, nil
		}

		return nil, err
	}
	defer resp.Body.Close()

	var m adapter.SyncMetadata
	if err := json.NewDecoder(resp.Body).Decode(&m); err != nil {
		return nil, fmt.Errorf("httpremote: decoding sync metadata: %w", err)
	}

	return &m, nil
}

func (a *Adapter) UpdateSyncMetadata(ctx context.Context, meta *adapter.SyncMetadata, userID string) error {
	body, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("httpremote: marshaling sync metadata: %w", err)
	}

	path := "/sync-metadata?owner=" + url.QueryEscape(userID)

	resp, err := a.c.do(ctx, http.MethodPut, path, body)
	if err != nil {
		return err
	}

	resp.Body.Close()

	return nil
}

func errIsNotFound(err error) bool {
	var re *RemoteError

	return errors.As(err, &re) && re.StatusCode == http.StatusNotFound
}
