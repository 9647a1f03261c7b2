package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies a provider failure for retry and fallback decisions.
type ErrorKind int

const (
	// KindTransient covers network failures, rate limiting and 5xx responses.
	// Safe to retry or fall back.
	KindTransient ErrorKind = iota
	// KindPermanent covers invalid input and unsupported content. Retrying
	// cannot succeed.
	KindPermanent
)

func (k ErrorKind) String() string {
	if k == KindPermanent {
		return "permanent"
	}
	return "transient"
}

// Error is a classified provider failure.
type Error struct {
	Kind     ErrorKind
	Provider string
	Op       string
	Err      error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", e.Provider, e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Transient wraps err as a retryable provider failure.
func Transient(provider, op string, err error) *Error {
	return &Error{Kind: KindTransient, Provider: provider, Op: op, Err: err}
}

// Permanent wraps err as a non-retryable provider failure.
func Permanent(provider, op string, err error) *Error {
	return &Error{Kind: KindPermanent, Provider: provider, Op: op, Err: err}
}

// IsTransient reports whether err is a provider failure safe to retry.
// Context deadline expiry counts as transient: a hung provider looks the same
// as a slow one from the caller's side.
func IsTransient(err error) bool {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Kind == KindTransient
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// IsPermanent reports whether err is a provider failure that retrying cannot fix.
func IsPermanent(err error) bool {
	var perr *Error
	return errors.As(err, &perr) && perr.Kind == KindPermanent
}

// kindFromStatus maps an HTTP response code to an error kind. Rate limiting
// and server-side failures are transient; every other non-2xx is permanent.
func kindFromStatus(code int) ErrorKind {
	if code == http.StatusTooManyRequests || code >= 500 {
		return KindTransient
	}
	return KindPermanent
}

// classify wraps an HTTP-level error for the given provider and operation.
// Transport errors (the request never produced a response) are transient.
func classify(provider, op string, statusCode int, err error) *Error {
	if statusCode == 0 {
		return Transient(provider, op, err)
	}
	return &Error{Kind: kindFromStatus(statusCode), Provider: provider, Op: op, Err: err}
}
