package httpremote

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/oauth2"
)

// TokenSource provides OAuth2 bearer tokens. Defined at the consumer
// (httpremote) per "accept interfaces, return structs" — mirrors the
// teacher's graph.TokenSource (internal/graph/client.go).
type TokenSource interface {
	Token() (string, error)
}

// TokenStore persists a refreshed token so the next process start can
// resume without a fresh interactive login. A TokenStore implementation
// might write to a file, a keychain, or an adapter.LocalAdapter's own
// metadata table — httpremote does not care which.
type TokenStore interface {
	SaveToken(tok *oauth2.Token) error
	LoadToken() (*oauth2.Token, error)
}

// NewTokenSource builds a TokenSource from an oauth2.Config and a seed
// token, wiring OnTokenChange to persist silent refreshes through store —
// grounded on the teacher's oauthConfig/tokenBridge (internal/graph/auth.go),
// generalized from a hardcoded Microsoft endpoint to any caller-supplied
// oauth2.Config so this adapter is not tied to one identity provider.
func NewTokenSource(ctx context.Context, cfg *oauth2.Config, tok *oauth2.Token, store TokenStore, logger *slog.Logger) TokenSource {
	cfg.OnTokenChange = func(refreshed *oauth2.Token) {
		if err := store.SaveToken(refreshed); err != nil {
			logger.Warn("failed to persist refreshed token", slog.String("error", err.Error()))

			return
		}

		logger.Debug("persisted refreshed token", slog.Time("expiry", refreshed.Expiry))
	}

	src := cfg.TokenSource(ctx, tok)

	return &tokenBridge{src: src, logger: logger}
}

// tokenBridge adapts oauth2.TokenSource to TokenSource, logging every token
// acquisition so refresh activity is visible.
type tokenBridge struct {
	src    oauth2.TokenSource
	logger *slog.Logger
}

func (b *tokenBridge) Token() (string, error) {
	t, err := b.src.Token()
	if err != nil {
		b.logger.Warn("token acquisition failed", slog.String("error", err.Error()))

		return "", fmt.Errorf("httpremote: obtaining token: %w", err)
	}

	b.logger.Debug("token acquired", slog.Time("expiry", t.Expiry), slog.Bool("valid", t.Valid()))

	return t.AccessToken, nil
}
