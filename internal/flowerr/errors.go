// Package flowerr defines the structured error taxonomy for flow execution.
// Errors carry a Kind tag populated where the failure is first observed, so
// downstream classification is a field match rather than message matching.
package flowerr

import (
	"errors"
	"fmt"
)

// Kind classifies a flow-execution failure.
type Kind string

const (
	// KindValidation is a missing/blank required config field. Caught before
	// any network call, never retried.
	KindValidation Kind = "validation_error"
	// KindAuthentication is an expired or missing bearer/delegated token.
	// Triggers at most one automatic refresh-and-retry.
	KindAuthentication Kind = "authentication_error"
	// KindPermission is an HTTP 403 / permission denial. Not retried.
	KindPermission Kind = "permission_error"
	// KindNetwork is a transport-level failure. Triggers the fallback
	// transport once, then backoff retries up to the attempt cap.
	KindNetwork Kind = "network_error"
	// KindTimeout is a deadline exceeded on an in-flight call.
	KindTimeout Kind = "timeout_error"
	// KindUpstream is a status:error returned by the script runtime. The
	// message passes through verbatim; the relay does not retry it.
	KindUpstream Kind = "upstream_error"
	// KindUnexpectedFormat is a malformed or unparsable response body.
	KindUnexpectedFormat Kind = "unexpected_format"
)

// Error is a classified flow-execution error.
type Error struct {
	Kind Kind
	// Status is the HTTP status observed at the transport layer, 0 if the
	// failure happened before a response arrived.
	Status int
	Msg    string
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap creates a classified error wrapping a cause.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// WithStatus attaches the observed HTTP status.
func (e *Error) WithStatus(status int) *Error {
	e.Status = status
	return e
}

// KindOf returns the Kind of err, or KindUnexpectedFormat if err carries no
// classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return KindUnexpectedFormat
}

// Is reports whether err is classified with the given kind.
func Is(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// Retryable reports whether the relay may retry after err. Only transport
// level failures are retryable; application errors already reflect a
// completed upstream decision.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindNetwork, KindTimeout:
		return true
	}
	return false
}

// FromStatus classifies an HTTP error status observed at the transport layer.
func FromStatus(status int, msg string) *Error {
	var kind Kind
	switch {
	case status == 401:
		kind = KindAuthentication
	case status == 403:
		kind = KindPermission
	case status == 408 || status == 504:
		kind = KindTimeout
	case status >= 500 || status == 429:
		kind = KindNetwork
	default:
		kind = KindUnexpectedFormat
	}
	return &Error{Kind: kind, Status: status, Msg: msg}
}
