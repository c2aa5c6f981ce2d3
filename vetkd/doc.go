// Package vetkd provides implementations of the external threshold
// key-derivation collaborator consumed by the epoch manager.
//
// DevService is a deterministic, single-party stand-in for the real
// threshold service, deriving all material from a master secret. It is
// suitable for development and testing; production deployments implement
// interfaces.VetKD against the actual derivation service.
package vetkd
