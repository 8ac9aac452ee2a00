// Package provider wraps the two upstream flight-data sources (the OpenSky
// Network for live ADS-B positions, AviationStack for schedules) behind
// small HTTP clients with a shared, typed failure taxonomy.
package provider

import (
	"errors"
	"fmt"
)

// Kind classifies an upstream failure. The orchestrator and the display
// treat the kinds differently, so clients must never collapse them.
type Kind int

const (
	// KindNotFound: the source has no record for the key. Not an alarming
	// state, simply "no data yet".
	KindNotFound Kind = iota

	// KindRateLimited: quota or backoff signal (HTTP 429 or a provider
	// quota-exceeded body). Further attempts should be suppressed until the
	// source's cache TTL elapses.
	KindRateLimited

	// KindUnavailable: transport error, timeout, or malformed payload.
	// Transient; safe to retry next cycle.
	KindUnavailable

	// KindConfig: a required credential is missing. Fatal to that source
	// for the whole session, surfaced once at startup.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not found"
	case KindRateLimited:
		return "rate limited"
	case KindUnavailable:
		return "unavailable"
	case KindConfig:
		return "config error"
	default:
		return "unknown"
	}
}

// Error is a typed upstream failure. It wraps the underlying cause, if any.
type Error struct {
	Kind   Kind
	Source string // "opensky" or "aviationstack"
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Source, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Source, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NotFound builds a KindNotFound error for the given source.
func NotFound(source string) *Error {
	return &Error{Kind: KindNotFound, Source: source}
}

// RateLimited builds a KindRateLimited error for the given source.
func RateLimited(source string) *Error {
	return &Error{Kind: KindRateLimited, Source: source}
}

// Unavailable wraps a transport/parse failure for the given source.
func Unavailable(source string, err error) *Error {
	return &Error{Kind: KindUnavailable, Source: source, Err: err}
}

// ConfigError reports a missing credential for the given source.
func ConfigError(source string, err error) *Error {
	return &Error{Kind: KindConfig, Source: source, Err: err}
}

// KindOf extracts the failure kind from err. Untyped errors are treated as
// transient.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnavailable
}
