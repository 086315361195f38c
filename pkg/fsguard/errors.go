package fsguard

import (
	stderrors "errors"

	"github.com/pkg/errors"

	"github.com/fsguard/fsguard/pkg/integrity"
)

// Sentinel errors returned by the Coordinator. All failures are converted to
// error results at this boundary; nothing panics under normal operation. The
// only faults that escape early are programmer errors (invalid arguments),
// which fail fast before any I/O or locking occurs.
var (
	// ErrRecoveryExhausted signals that a read found no salvageable records.
	// Distinct from an empty-but-valid result.
	ErrRecoveryExhausted = integrity.ErrRecoveryExhausted

	// ErrLockTimeout signals that a path lock could not be acquired within
	// the configured timeout.
	ErrLockTimeout = stderrors.New("fsguard: timed out waiting for path lock")

	// ErrClosed signals that the coordinator has been closed.
	ErrClosed = stderrors.New("fsguard: coordinator is closed")

	// ErrInvalidArgument signals a programmer error in the call itself.
	ErrInvalidArgument = stderrors.New("fsguard: invalid argument")
)

// IsRecoveryExhausted reports whether err means nothing could be salvaged.
func IsRecoveryExhausted(err error) bool {
	return errors.Is(err, ErrRecoveryExhausted)
}

// IsLockTimeout reports whether err is a lock-acquisition timeout.
func IsLockTimeout(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}
