// Package keyslots implements the symmetric key slot store. Each
// (resource, epoch, user) slot is either empty, holds a user-cached
// encrypted key, or holds a key reshared to the user by another
// participant. The two occupied states are mutually exclusive.
package keyslots

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

type slotKey struct {
	resource interfaces.ResourceID
	epoch    interfaces.VetKeyEpochID
	user     interfaces.Principal
}

type slotValue struct {
	state interfaces.SlotState
	key   []byte
}

// Share is one recipient of a reshare request together with the key
// material encrypted for them.
type Share struct {
	Recipient interfaces.Principal `json:"recipient"`
	Key       []byte               `json:"key"`
}

// Store holds the key slots of all resources. It implements
// interfaces.SlotChecker and interfaces.SlotSweeper.
type Store struct {
	mu    sync.Mutex
	slots map[slotKey]slotValue
	gate  interfaces.EpochGate
	log   *slog.Logger
}

// New creates an empty store gated by the epoch manager.
func New(gate interfaces.EpochGate, log *slog.Logger) *Store {
	return &Store{
		slots: make(map[slotKey]slotValue),
		gate:  gate,
		log:   log,
	}
}

// UpdateCache stores the caller's encrypted key for an epoch. Re-caching
// overwrites the previous blob, and a pending reshare for the caller is
// discarded: the slot can hold only one of the two.
func (s *Store) UpdateCache(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, key []byte) error {
	if _, err := s.gate.ValidateAccess(caller, resource, epoch); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots[slotKey{resource: resource, epoch: epoch, user: caller}] = slotValue{
		state: interfaces.SlotCached,
		key:   append([]byte(nil), key...),
	}
	return nil
}

// GetCache returns the caller's cached key for an epoch, if present.
// A pending reshared key is not returned here; it must be claimed.
func (s *Store) GetCache(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) ([]byte, bool, error) {
	if _, err := s.gate.ValidateAccess(caller, resource, epoch); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.slots[slotKey{resource: resource, epoch: epoch, user: caller}]
	if !ok || v.state != interfaces.SlotCached {
		return nil, false, nil
	}
	return append([]byte(nil), v.key...), true, nil
}

// Reshare deposits encrypted keys into the slots of other participants.
// Every recipient is validated before any slot is written, so a failed
// reshare changes nothing. Recipients must be participants of the epoch,
// must differ from the caller, and their slots must be empty.
func (s *Store) Reshare(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, shares []Share) error {
	info, err := s.gate.ValidateAccess(caller, resource, epoch)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, share := range shares {
		if share.Recipient == caller {
			return fmt.Errorf("user %s: %w", caller, interfaces.ErrCannotReshareWithSelf)
		}
		if !info.HasParticipant(share.Recipient) {
			return fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
				share.Recipient, resource, epoch, interfaces.ErrUnauthorized)
		}
		switch s.slots[slotKey{resource: resource, epoch: epoch, user: share.Recipient}].state {
		case interfaces.SlotCached:
			return fmt.Errorf("user %s already has a cached key for %s at epoch %d: %w",
				share.Recipient, resource, epoch, interfaces.ErrAlreadyCached)
		case interfaces.SlotReshared:
			return fmt.Errorf("user %s already has a reshared key for %s at epoch %d: %w",
				share.Recipient, resource, epoch, interfaces.ErrAlreadyReshared)
		}
	}

	for _, share := range shares {
		s.slots[slotKey{resource: resource, epoch: epoch, user: share.Recipient}] = slotValue{
			state: interfaces.SlotReshared,
			key:   append([]byte(nil), share.Key...),
		}
	}
	s.log.Debug("Keys reshared",
		slog.String("resource", resource.String()),
		slog.Uint64("epoch", uint64(epoch)),
		slog.Int("recipients", len(shares)))
	return nil
}

// ConsumeReshared claims a key reshared to the caller, removing it from the
// slot. A reshared key can be claimed exactly once.
func (s *Store) ConsumeReshared(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) ([]byte, bool, error) {
	if _, err := s.gate.ValidateAccess(caller, resource, epoch); err != nil {
		return nil, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := slotKey{resource: resource, epoch: epoch, user: caller}
	v, ok := s.slots[key]
	if !ok || v.state != interfaces.SlotReshared {
		return nil, false, nil
	}
	delete(s.slots, key)
	return v.key, true, nil
}

// SlotState implements interfaces.SlotChecker.
func (s *Store) SlotState(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, user interfaces.Principal) interfaces.SlotState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.slots[slotKey{resource: resource, epoch: epoch, user: user}].state
}

// DeleteEpochSlots implements interfaces.SlotSweeper.
func (s *Store) DeleteEpochSlots(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (caches, reshares uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, v := range s.slots {
		if key.resource != resource || key.epoch != epoch {
			continue
		}
		switch v.state {
		case interfaces.SlotCached:
			caches++
		case interfaces.SlotReshared:
			reshares++
		}
		delete(s.slots, key)
	}
	return caches, reshares
}

type storeState struct {
	Slots []slotStateEntry `json:"slots"`
}

type slotStateEntry struct {
	Resource interfaces.ResourceID    `json:"resource"`
	Epoch    interfaces.VetKeyEpochID `json:"epoch"`
	User     interfaces.Principal     `json:"user"`
	Reshared bool                     `json:"reshared"`
	Key      []byte                   `json:"key"`
}

// ComponentName implements interfaces.StateExporter.
func (s *Store) ComponentName() string { return "keyslots" }

// ExportState implements interfaces.StateExporter.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := storeState{Slots: make([]slotStateEntry, 0, len(s.slots))}
	for key, v := range s.slots {
		state.Slots = append(state.Slots, slotStateEntry{
			Resource: key.resource,
			Epoch:    key.epoch,
			User:     key.user,
			Reshared: v.state == interfaces.SlotReshared,
			Key:      v.key,
		})
	}
	sort.Slice(state.Slots, func(i, j int) bool {
		a, b := state.Slots[i], state.Slots[j]
		if a.Resource != b.Resource {
			return a.Resource.Less(b.Resource)
		}
		if a.Epoch != b.Epoch {
			return a.Epoch < b.Epoch
		}
		return a.User < b.User
	})
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (s *Store) ImportState(data []byte) error {
	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding key slot state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.slots = make(map[slotKey]slotValue, len(state.Slots))
	for _, e := range state.Slots {
		st := interfaces.SlotCached
		if e.Reshared {
			st = interfaces.SlotReshared
		}
		s.slots[slotKey{resource: e.Resource, epoch: e.Epoch, user: e.User}] = slotValue{state: st, key: e.Key}
	}
	return nil
}
