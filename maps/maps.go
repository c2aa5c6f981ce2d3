// Package maps implements encrypted key/value maps. Values are opaque
// ciphertext blobs stored under a key/value resource; access is gated by
// the rights ledger, with any right sufficient to read and a write right
// required to mutate.
package maps

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// MaxKeyLen bounds a map key, mirroring the bound on resource names.
const MaxKeyLen = interfaces.MaxResourceNameLen

type entryKey struct {
	resource interfaces.ResourceID
	key      string
}

// Entry is one key/value pair of a map.
type Entry struct {
	Key   []byte `json:"key"`
	Value []byte `json:"value"`
}

// Store holds the values of all maps.
type Store struct {
	mu     sync.Mutex
	values map[entryKey][]byte
	rights interfaces.RightsSource
	log    *slog.Logger
}

// New creates an empty store gated by the rights ledger.
func New(rights interfaces.RightsSource, log *slog.Logger) *Store {
	return &Store{
		values: make(map[entryKey][]byte),
		rights: rights,
		log:    log,
	}
}

// Insert stores a value under key, returning the previous value if any.
// Requires a write right on the map's resource.
func (s *Store) Insert(caller interfaces.Principal, resource interfaces.ResourceID, key, value []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if err := s.requireWrite(caller, resource); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{resource: resource, key: string(key)}
	prev, had := s.values[k]
	s.values[k] = append([]byte(nil), value...)
	return prev, had, nil
}

// Get returns the value stored under key, if any. Requires any right on the
// map's resource.
func (s *Store) Get(caller interfaces.Principal, resource interfaces.ResourceID, key []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if err := s.requireRead(caller, resource); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.values[entryKey{resource: resource, key: string(key)}]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

// Remove deletes the value stored under key, returning it if it existed.
// Requires a write right on the map's resource.
func (s *Store) Remove(caller interfaces.Principal, resource interfaces.ResourceID, key []byte) ([]byte, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}
	if err := s.requireWrite(caller, resource); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	k := entryKey{resource: resource, key: string(key)}
	prev, had := s.values[k]
	delete(s.values, k)
	return prev, had, nil
}

// Items returns all entries of a map sorted by key. Requires any right on
// the map's resource.
func (s *Store) Items(caller interfaces.Principal, resource interfaces.ResourceID) ([]Entry, error) {
	if err := s.requireRead(caller, resource); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var entries []Entry
	for k, v := range s.values {
		if k.resource == resource {
			entries = append(entries, Entry{Key: []byte(k.key), Value: v})
		}
	}
	sort.Slice(entries, func(i, j int) bool { return string(entries[i].Key) < string(entries[j].Key) })
	return entries, nil
}

// RemoveAll deletes every entry of a map, returning the removed keys sorted.
// Requires a write right on the map's resource.
func (s *Store) RemoveAll(caller interfaces.Principal, resource interfaces.ResourceID) ([][]byte, error) {
	if err := s.requireWrite(caller, resource); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed [][]byte
	for k := range s.values {
		if k.resource == resource {
			removed = append(removed, []byte(k.key))
			delete(s.values, k)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return string(removed[i]) < string(removed[j]) })
	return removed, nil
}

// OwnedMapNames returns the names of the caller's non-empty maps, sorted.
func (s *Store) OwnedMapNames(caller interfaces.Principal) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]struct{})
	for k := range s.values {
		if k.resource.Kind == interfaces.KVResource && k.resource.Owner == caller {
			seen[k.resource.Name] = struct{}{}
		}
	}
	names := make([][]byte, 0, len(seen))
	for name := range seen {
		names = append(names, []byte(name))
	}
	sort.Slice(names, func(i, j int) bool { return string(names[i]) < string(names[j]) })
	return names
}

func validateKey(key []byte) error {
	if len(key) > MaxKeyLen {
		return fmt.Errorf("map key exceeds %d bytes", MaxKeyLen)
	}
	return nil
}

func (s *Store) requireRead(caller interfaces.Principal, resource interfaces.ResourceID) error {
	if resource.Kind != interfaces.KVResource {
		return errors.New("encrypted values are stored under key/value resources only")
	}
	_, ok, err := s.rights.UserRights(caller, resource, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("user %s has no rights on %s: %w", caller, resource, interfaces.ErrUnauthorized)
	}
	return nil
}

func (s *Store) requireWrite(caller interfaces.Principal, resource interfaces.ResourceID) error {
	if resource.Kind != interfaces.KVResource {
		return errors.New("encrypted values are stored under key/value resources only")
	}
	r, ok, err := s.rights.UserRights(caller, resource, caller)
	if err != nil {
		return err
	}
	if !ok || !r.CanWrite() {
		return fmt.Errorf("user %s cannot write to %s: %w", caller, resource, interfaces.ErrUnauthorized)
	}
	return nil
}

type storeState struct {
	Entries []stateEntry `json:"entries"`
}

type stateEntry struct {
	Resource interfaces.ResourceID `json:"resource"`
	Key      []byte                `json:"key"`
	Value    []byte                `json:"value"`
}

// ComponentName implements interfaces.StateExporter.
func (s *Store) ComponentName() string { return "maps" }

// ExportState implements interfaces.StateExporter.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := storeState{Entries: make([]stateEntry, 0, len(s.values))}
	for k, v := range s.values {
		state.Entries = append(state.Entries, stateEntry{Resource: k.resource, Key: []byte(k.key), Value: v})
	}
	sort.Slice(state.Entries, func(i, j int) bool {
		a, b := state.Entries[i], state.Entries[j]
		if a.Resource != b.Resource {
			return a.Resource.Less(b.Resource)
		}
		return string(a.Key) < string(b.Key)
	})
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (s *Store) ImportState(data []byte) error {
	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding map state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.values = make(map[entryKey][]byte, len(state.Entries))
	for _, e := range state.Entries {
		s.values[entryKey{resource: e.Resource, key: string(e.Key)}] = e.Value
	}
	return nil
}
