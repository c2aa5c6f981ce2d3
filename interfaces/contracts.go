package interfaces

import "context"

// VetKD is the external threshold key-derivation collaborator. The core
// forwards derivation requests verbatim and never inspects the returned
// material.
type VetKD interface {
	// DeriveEncryptedKey derives encrypted key material for the given
	// owner and resource contexts, encrypted to the transport public key.
	// Failures are surfaced verbatim to the caller of DeriveKeyMaterial.
	DeriveEncryptedKey(ctx context.Context, ownerContext, resourceContext, transportPublicKey []byte) ([]byte, error)

	// PublicKey returns the derived public key for a resource context.
	// It is infallible and deterministic per context.
	PublicKey(ctx context.Context, resourceContext []byte) []byte
}

// EpochGate validates epoch-scoped access for the stores that hang off the
// epoch manager. ValidateAccess checks, in order: the epoch exists, the
// caller is in its participant snapshot, the epoch has not expired. It
// returns the epoch's immutable snapshot on success.
type EpochGate interface {
	ValidateAccess(caller Principal, resource ResourceID, epoch VetKeyEpochID) (EpochInfo, error)

	// ValidateAccessAt runs the same checks against a caller-supplied
	// clock reading, so an operation that also stamps data can use one
	// reading for every time-based decision it makes.
	ValidateAccessAt(caller Principal, resource ResourceID, epoch VetKeyEpochID, now Time) (EpochInfo, error)

	// EpochInfo returns the snapshot of an existing epoch without any
	// authorization or expiry check.
	EpochInfo(resource ResourceID, epoch VetKeyEpochID) (EpochInfo, error)

	// LatestEpoch returns the resource's current epoch, if any.
	LatestEpoch(resource ResourceID) (EpochInfo, bool)

	// Now returns the monotonically non-decreasing wall-clock reading the
	// core operates on.
	Now() Time
}

// SlotState describes the occupancy of a (resource, epoch, user) key slot.
type SlotState uint8

const (
	SlotEmpty SlotState = iota
	SlotCached
	SlotReshared
)

// SlotChecker lets the epoch manager refuse fresh key derivation for slots
// that already hold a cached or reshared key.
type SlotChecker interface {
	SlotState(resource ResourceID, epoch VetKeyEpochID, user Principal) SlotState
}

// RightsSource exposes the access-rights ledger to components that gate on
// it. UserRights never fails when caller == user; otherwise the caller must
// hold some right on the resource.
type RightsSource interface {
	UserRights(caller Principal, resource ResourceID, user Principal) (AccessRights, bool, error)

	// ResourceParticipants returns the sorted principals holding any right
	// on the resource, including its implicit owner.
	ResourceParticipants(resource ResourceID) []Principal
}

// ExpiredEpoch identifies a resource epoch past its retention deadline.
type ExpiredEpoch struct {
	Resource ResourceID
	Epoch    VetKeyEpochID
}

// EpochLister enumerates expired epochs for the janitor sweep.
type EpochLister interface {
	ExpiredEpochs(now Time) []ExpiredEpoch
	Now() Time
}

// MessageSweeper deletes the messages of one expired epoch, returning the
// number removed. Deleting an already-swept epoch is a no-op.
type MessageSweeper interface {
	DeleteEpochMessages(resource ResourceID, epoch VetKeyEpochID) uint64
}

// SlotSweeper deletes the key slots of one expired epoch, returning how
// many cached and reshared entries were removed.
type SlotSweeper interface {
	DeleteEpochSlots(resource ResourceID, epoch VetKeyEpochID) (caches, reshares uint64)
}

// StateExporter is implemented by stores that participate in snapshot
// persistence. Exported state is opaque to the storage layer.
type StateExporter interface {
	ComponentName() string
	ExportState() ([]byte, error)
	ImportState(data []byte) error
}
