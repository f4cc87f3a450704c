// Package gwerrors defines the sentinel error values the gateway
// distinguishes between, so callers can classify a failure with
// errors.Is instead of string matching.
package gwerrors

import "errors"

var (
	// ErrMalformedLine mirrors ircwire.ErrMalformedLine for callers that
	// only import gwerrors; wrap the wire error with %w when surfacing it
	// through this sentinel.
	ErrMalformedLine = errors.New("gwerrors: malformed IRC line")

	// ErrUnknownChannel is returned when an operation names a channel
	// with no lifecycle record. Surfaced to the IRC client as numeric 403.
	ErrUnknownChannel = errors.New("gwerrors: unknown channel")

	// ErrNotJoined is returned when an operation requires the connection
	// to be joined to a channel it is not. Surfaced as numeric 442.
	ErrNotJoined = errors.New("gwerrors: not joined to channel")

	// ErrDuplicateEvent marks an already-handled Matrix event id; the
	// dispatcher treats it as a silent no-op.
	ErrDuplicateEvent = errors.New("gwerrors: duplicate event")

	// ErrSyncTransient marks a retryable /sync failure (network error or
	// 5xx from the homeserver).
	ErrSyncTransient = errors.New("gwerrors: transient sync failure")

	// ErrSyncFatal marks a /sync failure that ends the Matrix session
	// (401/403 from the homeserver).
	ErrSyncFatal = errors.New("gwerrors: fatal sync failure")
)
