// Package errs defines the replication engine's error taxonomy: every
// component boundary translates low-level driver/transport errors into one
// of these kinds before the error is allowed to cross into the sync service.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for the purposes of §7 propagation policy.
type Kind int

const (
	// KindTransient is a retriable bus/network failure; never park before
	// retryAttempts is exhausted.
	KindTransient Kind = iota
	// KindSchema is a fatal per-message serialization/schema error; dead-letter
	// immediately, no retry.
	KindSchema
	// KindOrphan marks a non-create operation with no identity mapping.
	KindOrphan
	// KindHostApply is a database constraint/validation failure from the host;
	// retried once, then dead-lettered.
	KindHostApply
	// KindShutdown means the underlying DB/connection is closing; callers
	// should silently yield and resume after restart.
	KindShutdown
	// KindConfig is a fail-fast startup error.
	KindConfig
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindSchema:
		return "schema"
	case KindOrphan:
		return "orphan"
	case KindHostApply:
		return "host_apply"
	case KindShutdown:
		return "shutdown"
	case KindConfig:
		return "config"
	default:
		return "unknown"
	}
}

// E is a taxonomy-classified error wrapping an underlying cause.
type E struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *E) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *E) Unwrap() error { return e.Err }

func new(k Kind, msg string, err error) *E { return &E{Kind: k, Msg: msg, Err: err} }

func Transient(msg string, err error) *E { return new(KindTransient, msg, err) }
func Schema(msg string, err error) *E    { return new(KindSchema, msg, err) }
func Orphan(msg string, err error) *E    { return new(KindOrphan, msg, err) }
func HostApply(msg string, err error) *E { return new(KindHostApply, msg, err) }
func Shutdown(msg string, err error) *E  { return new(KindShutdown, msg, err) }
func Config(msg string, err error) *E    { return new(KindConfig, msg, err) }

// Is reports whether err (or something it wraps) carries the given kind.
func Is(err error, k Kind) bool {
	var e *E
	if errors.As(err, &e) {
		return e.Kind == k
	}
	return false
}

// KindOf extracts the taxonomy kind, defaulting to KindTransient for
// un-classified errors so unknown failures retry rather than get dropped.
func KindOf(err error) Kind {
	var e *E
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindTransient
}
