// Package interfaces defines the core types and component contracts for the
// vetKD access backend. It provides the contract between different components
// without implementation details.
//
// The package contains:
//
//   - Principal, AccessRights and ResourceID: the identity and resource
//     vocabulary shared by every component.
//   - Epoch types: VetKeyEpochID, SymmetricKeyEpochID and EpochInfo, the
//     immutable per-epoch snapshot used for authorization and time-window
//     validation.
//   - The VetKD collaborator interface consumed by the epoch manager and
//     implemented by the external threshold key-derivation service.
//   - The error taxonomy returned by all core operations. Errors wrap the
//     exported sentinels so hosts can classify them with errors.Is.
//
// All state-holding components take time from an injected clock and never
// read the system clock directly.
package interfaces
