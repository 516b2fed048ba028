package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

var (
	// ErrDuplicate is returned by CreateReport when the server recognises the
	// idempotency token as already processed. Callers treat it as success.
	ErrDuplicate = errors.New("report already exists on server")

	// ErrUnauthorized is returned for HTTP 401 responses.
	ErrUnauthorized = errors.New("server rejected credentials (401)")

	// ErrBadResponse is returned when a 2xx response does not have the
	// expected shape.
	ErrBadResponse = errors.New("unexpected response from server")
)

// StatusError describes a non-2xx response not covered by a sentinel.
type StatusError struct {
	Code   int
	Detail string
}

func (e *StatusError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("server returned status %d", e.Code)
	}
	return fmt.Sprintf("server returned status %d: %s", e.Code, e.Detail)
}

// retryable reports whether err is worth another attempt: transport
// failures, 5xx, and 429. Client errors and duplicates are final.
func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	if errors.Is(err, ErrDuplicate) || errors.Is(err, ErrUnauthorized) || errors.Is(err, ErrBadResponse) {
		return false
	}
	var ne net.Error
	return errors.As(err, &ne) || errors.Is(err, context.DeadlineExceeded)
}
