// Package ledger implements the access-rights ledger: a per-resource,
// per-user table of permission levels, mutated only by callers holding
// manage rights. The resource owner implicitly holds read-write-manage and
// cannot be demoted or removed.
package ledger

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

type rightsKey struct {
	resource interfaces.ResourceID
	user     interfaces.Principal
}

// Store is the in-memory access-rights ledger. Entries are created
// implicitly on first grant and never auto-expire.
type Store struct {
	mu     sync.RWMutex
	rights map[rightsKey]interfaces.AccessRights
	log    *slog.Logger
}

// New creates an empty ledger.
func New(log *slog.Logger) *Store {
	return &Store{
		rights: make(map[rightsKey]interfaces.AccessRights),
		log:    log,
	}
}

// GetRights returns the rights user holds on resource. Callers may always
// query their own rights; querying another user requires holding some right
// on the resource.
func (s *Store) GetRights(caller interfaces.Principal, resource interfaces.ResourceID, user interfaces.Principal) (interfaces.AccessRights, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if caller != user && !s.holdsAnyLocked(caller, resource) {
		return 0, false, fmt.Errorf("user %s has no rights on %s: %w", caller, resource, interfaces.ErrUnauthorized)
	}
	r, ok := s.rightOfLocked(user, resource)
	return r, ok, nil
}

// UserRights implements interfaces.RightsSource.
func (s *Store) UserRights(caller interfaces.Principal, resource interfaces.ResourceID, user interfaces.Principal) (interfaces.AccessRights, bool, error) {
	return s.GetRights(caller, resource, user)
}

// SetRights grants or updates user's rights on resource, returning the
// previous level if any. The caller must hold manage rights or own the
// resource. The owner's implicit rights cannot be modified.
func (s *Store) SetRights(caller interfaces.Principal, resource interfaces.ResourceID, user interfaces.Principal, rights interfaces.AccessRights) (interfaces.AccessRights, bool, error) {
	if rights > interfaces.RightsReadWriteManage {
		return 0, false, fmt.Errorf("invalid access rights %d", uint8(rights))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireManageLocked(caller, resource); err != nil {
		return 0, false, err
	}
	if resource.Kind == interfaces.KVResource && user == resource.Owner {
		return 0, false, fmt.Errorf("cannot modify rights of resource owner %s: %w", user, interfaces.ErrUnauthorized)
	}

	key := rightsKey{resource: resource, user: user}
	prev, had := s.rights[key]
	s.rights[key] = rights
	s.log.Debug("Access rights set",
		slog.String("resource", resource.String()),
		slog.String("user", user.String()),
		slog.String("rights", rights.String()))
	return prev, had, nil
}

// RemoveRights revokes user's rights on resource, returning the previous
// level if any. The caller must hold manage rights or own the resource.
func (s *Store) RemoveRights(caller interfaces.Principal, resource interfaces.ResourceID, user interfaces.Principal) (interfaces.AccessRights, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.requireManageLocked(caller, resource); err != nil {
		return 0, false, err
	}
	if resource.Kind == interfaces.KVResource && user == resource.Owner {
		return 0, false, fmt.Errorf("cannot remove rights of resource owner %s: %w", user, interfaces.ErrUnauthorized)
	}

	key := rightsKey{resource: resource, user: user}
	prev, had := s.rights[key]
	delete(s.rights, key)
	return prev, had, nil
}

// RightsEntry pairs a principal with its permission level.
type RightsEntry struct {
	User   interfaces.Principal    `json:"user"`
	Rights interfaces.AccessRights `json:"rights"`
}

// ListRights returns all users and their rights for a resource, sorted by
// principal. The caller must hold some right on the resource. The implicit
// owner entry is included for key/value resources.
func (s *Store) ListRights(caller interfaces.Principal, resource interfaces.ResourceID) ([]RightsEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.holdsAnyLocked(caller, resource) {
		return nil, fmt.Errorf("user %s has no rights on %s: %w", caller, resource, interfaces.ErrUnauthorized)
	}

	var entries []RightsEntry
	if resource.Kind == interfaces.KVResource {
		entries = append(entries, RightsEntry{User: resource.Owner, Rights: interfaces.RightsReadWriteManage})
	}
	for key, rights := range s.rights {
		if key.resource == resource {
			entries = append(entries, RightsEntry{User: key.user, Rights: rights})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].User < entries[j].User })
	return entries, nil
}

// ResourceParticipants implements interfaces.RightsSource.
func (s *Store) ResourceParticipants(resource interfaces.ResourceID) []interfaces.Principal {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[interfaces.Principal]struct{})
	if resource.Kind == interfaces.KVResource {
		seen[resource.Owner] = struct{}{}
	}
	for key := range s.rights {
		if key.resource == resource {
			seen[key.user] = struct{}{}
		}
	}

	participants := make([]interfaces.Principal, 0, len(seen))
	for p := range seen {
		participants = append(participants, p)
	}
	sort.Slice(participants, func(i, j int) bool { return participants[i] < participants[j] })
	return participants
}

func (s *Store) rightOfLocked(p interfaces.Principal, resource interfaces.ResourceID) (interfaces.AccessRights, bool) {
	if resource.Kind == interfaces.KVResource && p == resource.Owner {
		return interfaces.RightsReadWriteManage, true
	}
	r, ok := s.rights[rightsKey{resource: resource, user: p}]
	return r, ok
}

func (s *Store) holdsAnyLocked(p interfaces.Principal, resource interfaces.ResourceID) bool {
	_, ok := s.rightOfLocked(p, resource)
	return ok
}

func (s *Store) requireManageLocked(caller interfaces.Principal, resource interfaces.ResourceID) error {
	r, ok := s.rightOfLocked(caller, resource)
	if !ok || !r.CanManage() {
		return fmt.Errorf("user %s cannot manage %s: %w", caller, resource, interfaces.ErrUnauthorized)
	}
	return nil
}

type ledgerState struct {
	Entries []ledgerStateEntry `json:"entries"`
}

type ledgerStateEntry struct {
	Resource interfaces.ResourceID   `json:"resource"`
	User     interfaces.Principal    `json:"user"`
	Rights   interfaces.AccessRights `json:"rights"`
}

// ComponentName implements interfaces.StateExporter.
func (s *Store) ComponentName() string { return "ledger" }

// ExportState implements interfaces.StateExporter.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	state := ledgerState{Entries: make([]ledgerStateEntry, 0, len(s.rights))}
	for key, rights := range s.rights {
		state.Entries = append(state.Entries, ledgerStateEntry{Resource: key.resource, User: key.user, Rights: rights})
	}
	sort.Slice(state.Entries, func(i, j int) bool {
		a, b := state.Entries[i], state.Entries[j]
		if a.Resource != b.Resource {
			return a.Resource.Less(b.Resource)
		}
		return a.User < b.User
	})
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (s *Store) ImportState(data []byte) error {
	var state ledgerState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding ledger state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.rights = make(map[rightsKey]interfaces.AccessRights, len(state.Entries))
	for _, e := range state.Entries {
		s.rights[rightsKey{resource: e.Resource, user: e.User}] = e.Rights
	}
	return nil
}
