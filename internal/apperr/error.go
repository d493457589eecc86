// Package apperr classifies errors from outbound calls into the three
// retry classes the pipeline's fault-tolerance layer pattern-matches on:
// Transient, Permanent, and Critical. Nothing downstream of an adapter
// boundary should inspect a raw error type or HTTP status again — it
// should switch on Category instead (see the "exception-based control
// flow" redesign note).
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Category is the classification assigned to an error at the adapter
// boundary.
type Category string

const (
	// Transient errors are retryable: network timeouts, connection
	// resets, 408, 429, and 5xx responses other than those classified
	// Critical.
	Transient Category = "TRANSIENT"
	// Permanent errors are not retryable and are surfaced immediately:
	// 400 (not rate-limit-coded), 403 (unless auth), 404, domain
	// validation failures, and schema violations.
	Permanent Category = "PERMANENT"
	// Critical errors are not retryable and are raised to the caller for
	// alerting: 401, expired tokens, auth failures.
	Critical Category = "CRITICAL"
)

// Error wraps an underlying error with its retry classification and
// enough context to build a DLQ entry or a log line from it.
type Error struct {
	Category   Category
	Message    string
	HTTPStatus int
	Service    string
	Details    map[string]any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Category, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Category, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithDetail attaches a key/value pair of postmortem context, e.g. a DLQ
// replay aid. Never read by business logic.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// New constructs a classified error directly.
func New(category Category, message string) *Error {
	return &Error{Category: category, Message: message}
}

// Wrap classifies an existing error.
func Wrap(err error, category Category, message string) *Error {
	return &Error{Category: category, Message: message, Err: err}
}

// NewTransient, NewPermanent, NewCritical are the common constructors used
// throughout the pipeline.
func NewTransient(service, message string, err error) *Error {
	return &Error{Category: Transient, Service: service, Message: message, Err: err}
}

func NewPermanent(service, message string, err error) *Error {
	return &Error{Category: Permanent, Service: service, Message: message, Err: err}
}

func NewCritical(service, message string, err error) *Error {
	return &Error{Category: Critical, Service: service, Message: message, Err: err}
}

// Sentinel errors for conditions callers need to compare against directly.
var (
	// ErrCircuitOpen is raised when a call is short-circuited because the
	// breaker for its service is open. It is always Transient — this
	// avoids a thundering herd once the breaker closes.
	ErrCircuitOpen = NewTransient("", "circuit breaker is open", nil)
)

// ClassifyHTTPStatus maps an HTTP status code (and an auth hint) to a
// retry category, per the retry-policy contract in §4.1:
//
//	401                          -> Critical
//	403 with authFailure=true    -> Critical
//	403 otherwise                -> Permanent
//	400, 404                     -> Permanent
//	408, 429                     -> Transient
//	5xx                          -> Transient
//	anything else                -> Permanent
func ClassifyHTTPStatus(status int, authFailure bool) Category {
	switch {
	case status == http.StatusUnauthorized:
		return Critical
	case status == http.StatusForbidden:
		if authFailure {
			return Critical
		}
		return Permanent
	case status == http.StatusBadRequest, status == http.StatusNotFound:
		return Permanent
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return Transient
	case status >= 500 && status < 600:
		return Transient
	default:
		return Permanent
	}
}

// IsAppError reports whether err (or something it wraps) is an *Error.
func IsAppError(err error) bool {
	var appErr *Error
	return errors.As(err, &appErr)
}

// AsAppError extracts the *Error from err, classifying unrecognized errors
// as Transient network failures (the conservative default — an error of
// unknown shape from an outbound call is treated as retryable rather than
// silently dropped).
func AsAppError(err error) *Error {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewTransient("", "unclassified error", err)
}

// CategoryOf returns the retry category of err, defaulting to Transient
// for errors that were never classified.
func CategoryOf(err error) Category {
	return AsAppError(err).Category
}
