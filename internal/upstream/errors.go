package upstream

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrNotFound is matched by StatusError values carrying a 404.
var ErrNotFound = errors.New("upstream: not found")

// StatusError is returned for every upstream response with status >= 400.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("upstream returned status %d", e.Code)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Code, e.Message)
}

// StatusCode returns the HTTP status of the failed call.
func (e *StatusError) StatusCode() int {
	return e.Code
}

// UserMessage returns the message sent by the upstream, if any.
func (e *StatusError) UserMessage() string {
	return e.Message
}

// Is lets errors.Is match ErrNotFound.
func (e *StatusError) Is(target error) bool {
	return target == ErrNotFound && e.Code == http.StatusNotFound
}

// DecodeError is returned when a successful response carries a body that
// cannot be decoded. The status is kept so callers can tell an accepted
// request from a failed one.
type DecodeError struct {
	Code   int
	Method string
	Path   string
	Err    error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s %s: %v", e.Method, e.Path, e.Err)
}

// StatusCode returns the HTTP status of the response that failed to decode.
func (e *DecodeError) StatusCode() int {
	return e.Code
}

func (e *DecodeError) Unwrap() error {
	return e.Err
}

// IsUnauthorized reports whether err is an upstream 401.
func IsUnauthorized(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusUnauthorized
}
