package retryhttp

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// StatusError is a non-2xx response from the remote service. RetryAfter is
// populated from the Retry-After header when the service supplied one.
type StatusError struct {
	Code       int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	body := e.Body
	if len(body) > 200 {
		body = body[:200]
	}
	return fmt.Sprintf("remote error %d: %s", e.Code, body)
}

// IsRetryable classifies an error per the single policy table: 429 and 5xx
// are retryable, every other HTTP status is not, and anything that is not a
// StatusError is a transport failure and therefore retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if !errors.As(err, &se) {
		return true
	}
	return se.Code == http.StatusTooManyRequests || se.Code >= 500
}

// IsConflict reports an already-exists response, which callers treat as
// success to keep membership seeding and message sends re-runnable.
func IsConflict(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	if se.Code == http.StatusConflict {
		return true
	}
	return strings.Contains(se.Body, "ALREADY_EXISTS")
}

// IsPermission reports a permission-denied response.
func IsPermission(err error) bool {
	var se *StatusError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == http.StatusForbidden
}

// StatusCode returns the HTTP status carried by err, or 0 for transport
// errors.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}
