// Package errs gives every failure surfaced across the wire, transport,
// catalog and worker layers a Kind, so a server can decide whether a
// failure is worth a FAIL reply, a retry, or eviction of a peer, without
// string-matching error text (spec.md §7).
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind classifies an error along the lines spec.md §7 distinguishes:
// malformed input, a dead/unreachable peer, a missing catalog row, a full
// resource (disk, chunk slot), or a worker pool at capacity.
type Kind int

const (
	// Unknown is the zero value: an error with no assigned Kind.
	Unknown Kind = iota
	// Protocol marks malformed or out-of-sequence wire messages.
	Protocol
	// Transport marks a dead connection, timeout, or unreachable peer.
	Transport
	// Catalog marks a missing or inconsistent catalog row.
	Catalog
	// Resource marks exhaustion of a local resource: disk space, an
	// already-claimed chunk file, an assembly file.
	Resource
	// Capacity marks a worker pool or seeder slot at its configured limit.
	Capacity
)

func (k Kind) String() string {
	switch k {
	case Protocol:
		return "protocol"
	case Transport:
		return "transport"
	case Catalog:
		return "catalog"
	case Resource:
		return "resource"
	case Capacity:
		return "capacity"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind, so callers can switch on
// Kind() while %w/errors.Unwrap still reaches the original cause.
type Error struct {
	kind Kind
	err  error
}

func (e *Error) Error() string { return fmt.Sprintf("%s: %s", e.kind, e.err) }
func (e *Error) Unwrap() error { return e.err }
func (e *Error) Kind() Kind    { return e.kind }

// Wrap attaches kind to err, adding msg as context via pkg/errors so the
// original stack trace (if any) is preserved. Wrap(kind, nil, _) returns nil.
func Wrap(kind Kind, err error, msg string) error {
	if err == nil {
		return nil
	}
	return &Error{kind: kind, err: errors.Wrap(err, msg)}
}

// New constructs a Kind-tagged error from a message alone, for failures
// with no underlying cause to wrap.
func New(kind Kind, msg string) error {
	return &Error{kind: kind, err: errors.New(msg)}
}

// KindOf walks err's Unwrap chain for the first *Error and returns its
// Kind, or Unknown if none is found.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.kind
	}
	return Unknown
}

// Is reports whether err carries kind somewhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
