// Package clustererr defines the error taxonomy shared by every cluster
// subsystem so that callers can branch on failure kind instead of parsing
// messages.
package clustererr

import "errors"

// Kind classifies a cluster error by how the caller should react to it.
type Kind int

const (
	// KindTransientCoordinator covers coordinator timeouts and
	// reconnect-in-progress conditions. Retried internally with bounded
	// backoff for setup operations; surfaced for hot-path operations.
	KindTransientCoordinator Kind = iota
	// KindTransientPeer covers a failed send or a peer that is gone.
	// Dropped; heartbeat-driven cleanup repairs the fleet view.
	KindTransientPeer
	// KindInvalidInput covers a missing roomId, unknown sync event, or
	// other caller error. Surfaced to the caller as a validation failure.
	KindInvalidInput
	// KindNotReady covers an operation that requires node.ready and the
	// node isn't. Logged at warn level; dropped for broadcast-only hooks,
	// retried once for beforeJoin.
	KindNotReady
	// KindFatal covers coordinator scripts refusing to register or a bind
	// failure. Propagates and aborts startup.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransientCoordinator:
		return "transient-coordinator"
	case KindTransientPeer:
		return "transient-peer"
	case KindInvalidInput:
		return "invalid-input"
	case KindNotReady:
		return "not-ready"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps an underlying cause with a Kind so callers can use
// errors.As to recover it without string matching.
type Error struct {
	Err  error
	Op   string
	Kind Kind
}

func (e *Error) Error() string {
	if e.Op == "" {
		return e.Kind.String() + ": " + e.Err.Error()
	}
	return e.Op + ": " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// New wraps err with a kind and the operation that produced it. Returns
// nil if err is nil, so call sites can write `return clustererr.New(...)`
// unconditionally at the end of a function.
func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// ErrMissingRoomID is the invalid-input error for realtime.count and
// realtime.join requests that omit body.roomId.
var ErrMissingRoomID = errors.New("roomId is required")

// ErrRoomNotFound is returned by realtime.count when a room is absent
// from the local replica even after the single retry window.
var ErrRoomNotFound = errors.New("room not found")

// ErrUnknownSyncEvent is logged, not raised, per spec (forward
// compatibility with future event names). Exported so callers that want
// to distinguish it from transport failures can do so.
var ErrUnknownSyncEvent = errors.New("unknown sync event")

// ErrPeerUnknown is returned by Node.Send when asked to contact a peer
// uuid that isn't (or is no longer) in the pool.
var ErrPeerUnknown = errors.New("peer not in pool")
