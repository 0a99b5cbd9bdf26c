// Package errkind provides centralized error definitions and failure-kind
// tagging for the research pipeline.
//
// Errors are tagged with an explicit Kind at the point they are raised so
// retry policy can switch on the tag instead of matching message text.
// KindOf falls back to message matching only for errors from third-party
// code that carries no tag.
package errkind

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Kind classifies a failure for retry policy.
type Kind int

const (
	// KindTransient covers timeouts, 5xx and similar retryable I/O failures.
	KindTransient Kind = iota

	// KindRateLimited marks 429-style failures that need longer backoff.
	KindRateLimited

	// KindFatal marks failures that retrying cannot fix.
	KindFatal
)

// Validation and configuration errors.
var (
	// ErrInvalidInput indicates invalid input was provided.
	ErrInvalidInput = errors.New("invalid input")

	// ErrMissingCredentials indicates a required credential is not configured.
	ErrMissingCredentials = errors.New("missing credentials")
)

// Response and parsing errors.
var (
	// ErrEmptyResponse indicates an empty response was received.
	ErrEmptyResponse = errors.New("empty response")

	// ErrNoResults indicates no results were found.
	ErrNoResults = errors.New("no results")

	// ErrMalformedResponse indicates a provider response could not be parsed.
	ErrMalformedResponse = errors.New("malformed response")
)

// Rate limiting errors.
var (
	// ErrRateLimited indicates rate limiting was triggered upstream.
	ErrRateLimited = errors.New("rate limited")
)

type tagged struct {
	err  error
	kind Kind
}

func (t *tagged) Error() string { return t.err.Error() }

func (t *tagged) Unwrap() error { return t.err }

// Tag attaches a kind to err. Returns nil if err is nil.
func Tag(err error, kind Kind) error {
	if err == nil {
		return nil
	}

	return &tagged{err: err, kind: kind}
}

// Tagf wraps a formatted error with a kind.
func Tagf(kind Kind, format string, args ...any) error {
	return &tagged{err: fmt.Errorf(format, args...), kind: kind}
}

// KindOf returns the kind attached to err, walking the wrap chain. Untagged
// errors are classified by content as a stopgap: context errors and anything
// mentioning a rate limit get their natural kind, everything else is
// transient.
func KindOf(err error) Kind {
	var t *tagged
	if errors.As(err, &t) {
		return t.kind
	}

	if errors.Is(err, ErrRateLimited) {
		return KindRateLimited
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return KindFatal
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429") {
		return KindRateLimited
	}

	return KindTransient
}

// IsRetryable reports whether a failure of this kind is worth retrying.
func IsRetryable(err error) bool {
	return KindOf(err) != KindFatal
}

// Is is a convenience wrapper around errors.Is.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As is a convenience wrapper around errors.As.
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
