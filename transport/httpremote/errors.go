package httpremote

import (
	"errors"
	"fmt"
	"net/http"
)

// Sentinel errors for HTTP status code classification, mirroring the
// teacher's graph.GraphError taxonomy (internal/graph/errors.go). Use
// errors.Is(err, httpremote.ErrNotFound) to check.
var (
	ErrBadRequest   = errors.New("httpremote: bad request")
	ErrUnauthorized = errors.New("httpremote: unauthorized")
	ErrForbidden    = errors.New("httpremote: forbidden")
	ErrNotFound     = errors.New("httpremote: not found")
	ErrConflict     = errors.New("httpremote: conflict")
	ErrGone         = errors.New("httpremote: resource gone")
	ErrThrottled    = errors.New("httpremote: throttled")
	ErrServerError  = errors.New("httpremote: server error")
)

// RemoteError wraps a sentinel with the HTTP status code, request ID and
// response body for diagnostics.
type RemoteError struct {
	StatusCode int
	RequestID  string
	Message    string
	Err        error
}

func (e *RemoteError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("httpremote: HTTP %d (request-id: %s): %s", e.StatusCode, e.RequestID, e.Message)
	}

	return fmt.Sprintf("httpremote: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *RemoteError) Unwrap() error { return e.Err }

// classifyStatus maps an HTTP status code to a sentinel error. Returns nil
// for 2xx success codes.
func classifyStatus(code int) error {
	switch code {
	case http.StatusBadRequest:
		return ErrBadRequest
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	case http.StatusConflict:
		return ErrConflict
	case http.StatusGone:
		return ErrGone
	case http.StatusTooManyRequests:
		return ErrThrottled
	default:
		if code >= http.StatusInternalServerError {
			return ErrServerError
		}

		return nil
	}
}

// isRetryable reports whether the given HTTP status code should be retried.
func isRetryable(code int) bool {
	switch code {
	case http.StatusRequestTimeout,
		http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	default:
		return false
	}
}
