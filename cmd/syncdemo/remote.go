package main

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tonimelisma/synckit/transport/httpremote"
)

// demoTokenSource is a stand-in httpremote.TokenSource for this reference
// CLI — a real application wires httpremote.NewTokenSource against an
// actual golang.org/x/oauth2 flow instead (out of this demo's scope, per
// the domain stack notes: this adapter covers bearer-auth transport, not
// interactive login).
type demoTokenSource struct{}

func (demoTokenSource) Token() (string, error) { return "demo-token", nil }

const remoteHTTPTimeout = 30 * time.Second

// newRemoteAdapter builds the httpremote.Adapter for fc.RemoteURL. An empty
// RemoteURL is valid — the adapter simply fails every call: the engine
// records failed pushes as per-operation failures, and the pull phase's
// failed fetch ends the cycle with an error.
func newRemoteAdapter(fc fileConfig, logger *slog.Logger) (*httpremote.Adapter, error) {
	httpClient := &http.Client{Timeout: remoteHTTPTimeout}

	wsURL := ""
	if fc.RemoteURL != "" {
		wsURL = "ws" + strings.TrimPrefix(fc.RemoteURL, "http") + "/changes"
	}

	return httpremote.New(fc.RemoteURL, httpClient, demoTokenSource{}, wsURL, logger), nil
}
