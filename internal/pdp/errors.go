package pdp

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

var (
	// ErrIndeterminate — PDP не смог дать ответ. Это не deny и не allow.
	ErrIndeterminate = errors.New("pdp: could not determine")

	ErrUnavailable       = errors.New("pdp: unreachable")
	ErrTimeout           = errors.New("pdp: timeout")
	ErrMalformedResponse = errors.New("pdp: malformed response")
	ErrUnmappedRole      = errors.New("pdp: role has no external mapping")
)

// StatusError — PDP ответил не-2xx.
type StatusError struct {
	Code int
	Op   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("pdp: %s returned status %d", e.Op, e.Code)
}

// ThrottleError — PDP попросил подождать (429 + Retry-After).
type ThrottleError struct {
	RetryAfter time.Duration
	Cause      error
}

func (e *ThrottleError) Error() string {
	return fmt.Sprintf("throttled: retry after %v (cause: %v)", e.RetryAfter, e.Cause)
}

func (e *ThrottleError) Unwrap() error { return e.Cause }

// statusError строит ошибку по ответу; для 429 достает Retry-After (в секундах).
func statusError(op string, resp *http.Response) error {
	se := &StatusError{Code: resp.StatusCode, Op: op}
	if resp.StatusCode != http.StatusTooManyRequests {
		return se
	}
	after := time.Second
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs >= 0 {
		after = time.Duration(secs) * time.Second
	}
	return &ThrottleError{RetryAfter: after, Cause: se}
}
