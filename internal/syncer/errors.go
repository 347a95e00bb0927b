package syncer

import (
	"errors"
	"fmt"
)

// ErrSyncInProgress is returned when a sync for the same (repo, branch) is
// already running.
var ErrSyncInProgress = errors.New("sync already in progress for this repository and branch")

// Kind classifies sync failures. The set is closed; callers switch on it
// rather than probing error types.
type Kind int

const (
	// KindConfig is a missing or contradictory setting, fatal for the
	// operation.
	KindConfig Kind = iota
	// KindTransient covers Git network, vector-store RPC and embedder
	// timeouts after retries are exhausted.
	KindTransient
	// KindSkip marks an unparseable or oversized file that was recorded
	// and skipped without failing the sync.
	KindSkip
	// KindSchema means the existing collection does not match the
	// expected vector spaces; the user must rebuild.
	KindSchema
	// KindCancelled is cooperative cancellation, a clean terminal state.
	KindCancelled
	// KindWatchdog means no progress was observed for the watchdog
	// interval.
	KindWatchdog
	// KindInvariant is a broken internal guarantee such as a point-id
	// collision or vocabulary corruption.
	KindInvariant
)

func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "config"
	case KindTransient:
		return "transient"
	case KindSkip:
		return "skip"
	case KindSchema:
		return "schema"
	case KindCancelled:
		return "cancelled"
	case KindWatchdog:
		return "watchdog"
	case KindInvariant:
		return "invariant"
	default:
		return "unknown"
	}
}

// Error is a classified sync failure.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// KindOf extracts the failure kind, defaulting to transient for unclassified
// errors.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindTransient
}
