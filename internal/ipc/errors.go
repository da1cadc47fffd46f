package ipc

import (
	"fmt"
	"io"
	"net/http"
)

// Op names the IPC operation an Error originated from.
type Op string

// IPC operations.
const (
	OpConnect          Op = "connect"
	OpGetConfiguration Op = "get_configuration"
	OpSubscribe        Op = "subscribe"
	OpPublish          Op = "publish"
)

// Error is the error type returned by IPC channel operations.
// It supports errors.Is matching by operation and status code, and
// errors.Unwrap to the underlying transport error if any.
type Error struct {
	Op         Op
	StatusCode int
	Message    string
	Err        error
}

// Error returns the formatted error string.
func (e *Error) Error() string {
	switch {
	case e.Err != nil:
		return fmt.Sprintf("ipc: %s: %v", e.Op, e.Err)
	case e.StatusCode != 0:
		return fmt.Sprintf("ipc: %s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
	default:
		return fmt.Sprintf("ipc: %s: %s", e.Op, e.Message)
	}
}

// Unwrap returns the underlying transport error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is supports errors.Is matching against the sentinels below.
// A zero Op or zero StatusCode on the target acts as a wildcard.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Op != "" && t.Op != e.Op {
		return false
	}
	if t.StatusCode != 0 && t.StatusCode != e.StatusCode {
		return false
	}
	return true
}

// Sentinel errors, one per operation plus common status codes.
var (
	ErrConnection   = &Error{Op: OpConnect, Message: "connection failed"}
	ErrConfigFetch  = &Error{Op: OpGetConfiguration, Message: "configuration fetch failed"}
	ErrSubscribe    = &Error{Op: OpSubscribe, Message: "subscribe failed"}
	ErrPublish      = &Error{Op: OpPublish, Message: "publish failed"}
	ErrUnauthorized = &Error{StatusCode: http.StatusUnauthorized, Message: "unauthorized"}
	ErrNotFound     = &Error{StatusCode: http.StatusNotFound, Message: "not found"}
)

// maxErrorBody is the maximum number of bytes read from an error response body.
const maxErrorBody = 4096

// errorFromResponse creates an *Error from a non-2xx HTTP response.
func errorFromResponse(op Op, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &Error{
		Op:         op,
		StatusCode: resp.StatusCode,
		Message:    string(body),
	}
}

// wrapError tags err with op unless it already is an *Error.
func wrapError(op Op, err error) error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	return &Error{Op: op, Err: err}
}
