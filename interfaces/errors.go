package interfaces

import (
	"errors"
	"fmt"
)

// Error taxonomy returned by core operations. Operations wrap these
// sentinels with request context via fmt.Errorf("...: %w", ...); hosts
// classify them with errors.Is. No operation that returns one of these has
// made any state change.
var (
	// ErrUnauthorized: the caller lacks the required right or is not a
	// participant of the target epoch.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrEpochNotFound: the requested epoch id exceeds the resource's
	// latest epoch (or the resource has no epochs at all).
	ErrEpochNotFound = errors.New("vetkey epoch not found")

	// ErrEpochExpired: the current time is past the epoch's retention
	// deadline.
	ErrEpochExpired = errors.New("vetkey epoch expired")

	// ErrWrongSymmetricKeyEpoch: the supplied symmetric key epoch does not
	// match the one computed from the current time. Always carried by a
	// WrongSymmetricKeyEpochError.
	ErrWrongSymmetricKeyEpoch = errors.New("wrong symmetric key epoch")

	// ErrAlreadyCached: a cached key already occupies the
	// (resource, epoch, user) slot.
	ErrAlreadyCached = errors.New("key already cached")

	// ErrAlreadyReshared: a reshared key already occupies the
	// (resource, epoch, user) slot.
	ErrAlreadyReshared = errors.New("key already reshared")

	// ErrCannotReshareWithSelf: a reshare listed the caller as recipient.
	ErrCannotReshareWithSelf = errors.New("cannot reshare a key with oneself")

	// ErrChatAlreadyExists: a chat with the identical participant set
	// already exists.
	ErrChatAlreadyExists = errors.New("chat already exists")

	// ErrResourceFull: a bounded collection is at capacity.
	ErrResourceFull = errors.New("resource full")

	// ErrSnapshotNotFound: the storage backend holds no persisted snapshot.
	ErrSnapshotNotFound = errors.New("snapshot not found")
)

// WrongSymmetricKeyEpochError reports a symmetric key epoch mismatch,
// carrying the offending value and the computed window boundary.
type WrongSymmetricKeyEpochError struct {
	Supplied SymmetricKeyEpochID
	Now      Time
	Boundary Time // epoch start if not yet active, epoch end if expired
	Expired  bool
}

func (e *WrongSymmetricKeyEpochError) Error() string {
	if e.Expired {
		return fmt.Sprintf("wrong symmetric key epoch: epoch %d is expired, current time is %d and epoch end is %d",
			e.Supplied, e.Now, e.Boundary)
	}
	return fmt.Sprintf("wrong symmetric key epoch: epoch %d is not yet active, current time is %d and epoch start is %d",
		e.Supplied, e.Now, e.Boundary)
}

func (e *WrongSymmetricKeyEpochError) Unwrap() error { return ErrWrongSymmetricKeyEpoch }
