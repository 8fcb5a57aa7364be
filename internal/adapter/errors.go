// Package adapter defines the uniform call contract shared by every vendor
// capability: a single error taxonomy and a per-credential gate that
// enforces throttling, queue depth, and circuit breaking.
package adapter

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/sells-group/leadpipe/internal/resilience"
)

// ErrorKind classifies a vendor call failure. The stage executor retries
// Transient and RateLimited, records NotFound and Permanent as per-lead
// failures, and escalates Unauthorized to a stage-level failure.
type ErrorKind int

const (
	KindTransient ErrorKind = iota
	KindRateLimited
	KindUnauthorized
	KindNotFound
	KindPermanent
	KindOverloaded
)

func (k ErrorKind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindRateLimited:
		return "rate_limited"
	case KindUnauthorized:
		return "unauthorized"
	case KindNotFound:
		return "not_found"
	case KindPermanent:
		return "permanent"
	case KindOverloaded:
		return "overloaded"
	default:
		return "unknown"
	}
}

// Error is a classified vendor call failure.
type Error struct {
	Kind       ErrorKind
	Vendor     string
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Vendor, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError builds a classified adapter error.
func NewError(kind ErrorKind, vendor, op string, err error) *Error {
	return &Error{Kind: kind, Vendor: vendor, Op: op, Err: err}
}

// KindOf extracts the classification from an error chain. Errors that never
// passed through an adapter fall back to Transient when the resilience
// package deems them retryable network failures, Permanent otherwise.
func KindOf(err error) ErrorKind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	var rl *resilience.RateLimitedError
	if errors.As(err, &rl) {
		return KindRateLimited
	}
	if resilience.IsRetryable(err) {
		return KindTransient
	}
	return KindPermanent
}

// IsRetryable reports whether the stage executor should retry the call.
func IsRetryable(err error) bool {
	switch KindOf(err) {
	case KindTransient, KindRateLimited:
		return true
	}
	return false
}

// IsFatal reports whether the error must fail the whole stage rather than
// one lead (auth revoked, credential quota exhausted).
func IsFatal(err error) bool {
	return KindOf(err) == KindUnauthorized
}

// RetryAfter returns the vendor wait hint carried by the error, if any.
func RetryAfter(err error) time.Duration {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.RetryAfter
	}
	return resilience.RetryAfterHint(err)
}

// FromHTTPStatus classifies an HTTP response status into an adapter error.
// retryAfter should be the parsed Retry-After header, zero when absent.
func FromHTTPStatus(vendor, op string, status int, retryAfter time.Duration, err error) *Error {
	e := &Error{Vendor: vendor, Op: op, Err: err}
	switch {
	case status == http.StatusUnauthorized,
		status == http.StatusForbidden,
		status == http.StatusPaymentRequired: // vendor quota exhausted
		e.Kind = KindUnauthorized
	case status == http.StatusNotFound:
		e.Kind = KindNotFound
	case status == http.StatusTooManyRequests:
		e.Kind = KindRateLimited
		e.RetryAfter = retryAfter
	case resilience.IsTransientHTTPStatus(status):
		e.Kind = KindTransient
	default:
		e.Kind = KindPermanent
	}
	return e
}

// Wrap classifies an error returned by a vendor client. Clients that expose
// an HTTPStatus method get status-based classification; everything else is
// classified by KindOf. A nil err returns nil.
func Wrap(vendor, op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	var statusErr interface{ HTTPStatus() int }
	if errors.As(err, &statusErr) {
		var retryAfter time.Duration
		var hinted interface{ RetryAfterHint() time.Duration }
		if errors.As(err, &hinted) {
			retryAfter = hinted.RetryAfterHint()
		}
		return FromHTTPStatus(vendor, op, statusErr.HTTPStatus(), retryAfter, err)
	}
	return NewError(KindOf(err), vendor, op, err)
}

// ParseRetryAfter interprets a Retry-After header value in seconds. Returns
// zero for empty or malformed values.
func ParseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	var secs int
	if _, err := fmt.Sscanf(header, "%d", &secs); err != nil || secs < 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}
