package httpremote

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	maxRetries  = 5
	baseBackoff = 1 * time.Second
	maxBackoff  = 60 * time.Second
	userAgent   = "synckit-httpremote/0.1"
)

// client is the shared low-level HTTP transport: request construction,
// bearer auth, retry with exponential backoff, and error classification.
// Grounded on the teacher's graph.Client (internal/graph/client.go), with
// the hand-rolled backoff loop replaced by sethvargo/go-retry's retry.Do
// for consistency with engine's own backoff mechanism (backoffFor).
type client struct {
	baseURL    string
	httpClient *http.Client
	token      TokenSource
	logger     *slog.Logger
}

func newClient(baseURL string, httpClient *http.Client, token TokenSource, logger *slog.Logger) *client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &client{baseURL: baseURL, httpClient: httpClient, token: token, logger: logger}
}

// do executes an authenticated HTTP request against baseURL+path with
// automatic retry on transient network and HTTP errors. The caller is
// responsible for closing the response body on success.
func (c *client) do(ctx context.Context, method, path string, body []byte) (*http.Response, error) {
	url := c.baseURL + path

	b, err := retry.NewExponential(baseBackoff)
	if err != nil {
		return nil, fmt.Errorf("httpremote: building retry backoff: %w", err)
	}

	b = retry.WithMaxRetries(maxRetries, retry.WithCappedDuration(maxBackoff, b))

	var resp *http.Response

	err = retry.Do(ctx, b, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		r, doErr := c.doOnce(ctx, method, url, reader)
		if doErr != nil {
			c.logger.Warn("retrying after network error",
				slog.String("method", method), slog.String("path", path), slog.String("error", doErr.Error()))

			return retry.RetryableError(doErr)
		}

		if r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices {
			resp = r

			return nil
		}

		errBody, readErr := io.ReadAll(r.Body)
		r.Body.Close()

		if readErr != nil {
			errBody = []byte("(failed to read response body)")
		}

		reqID := r.Header.Get("request-id")
		remoteErr := &RemoteError{StatusCode: r.StatusCode, RequestID: reqID, Message: string(errBody), Err: classifyStatus(r.StatusCode)}

		if isRetryable(r.StatusCode) {
			c.logger.Warn("retrying after HTTP error",
				slog.String("method", method), slog.String("path", path), slog.Int("status", r.StatusCode))

			if r.StatusCode == http.StatusTooManyRequests {
				if ra := r.Header.Get("Retry-After"); ra != "" {
					if seconds, convErr := strconv.Atoi(ra); convErr == nil && seconds > 0 {
						select {
						case <-time.After(time.Duration(seconds) * time.Second):
						case <-ctx.Done():
							return ctx.Err()
						}
					}
				}
			}

			return retry.RetryableError(remoteErr)
		}

		return remoteErr
	})
	if err != nil {
		return nil, fmt.Errorf("httpremote: %s %s: %w", method, path, err)
	}

	return resp, nil
}

func (c *client) doOnce(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	tok, err := c.token.Token()
	if err != nil {
		return nil, fmt.Errorf("obtaining token: %w", err)
	}

	req.Header.Set("Authorization", "Bearer "+tok)
	req.Header.Set("User-Agent", userAgent)

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("http response",
		slog.String("method", method), slog.String("url", url), slog.Int("status", resp.StatusCode))

	return resp, nil
}
