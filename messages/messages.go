// Package messages implements the per-resource message store. Messages are
// appended under a specific vetkey epoch and symmetric key epoch, stamped
// with the store's clock, and retained until the janitor sweeps their epoch.
package messages

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// Message is one stored chat message. IDs are per-resource, strictly
// increasing, and never reused, even after expired epochs are swept.
type Message struct {
	ID                interfaces.ChatMessageID       `json:"id"`
	Sender            interfaces.Principal           `json:"sender"`
	Epoch             interfaces.VetKeyEpochID       `json:"epoch"`
	SymmetricKeyEpoch interfaces.SymmetricKeyEpochID `json:"symmetric_key_epoch"`
	Content           []byte                         `json:"content"`
	Timestamp         interfaces.Time                `json:"timestamp"`
}

// Store holds the messages of all resources. It implements
// interfaces.MessageSweeper.
type Store struct {
	mu     sync.Mutex
	msgs   map[interfaces.ResourceID][]Message
	nextID map[interfaces.ResourceID]interfaces.ChatMessageID
	gate   interfaces.EpochGate
	log    *slog.Logger
}

// New creates an empty store gated by the epoch manager.
func New(gate interfaces.EpochGate, log *slog.Logger) *Store {
	return &Store{
		msgs:   make(map[interfaces.ResourceID][]Message),
		nextID: make(map[interfaces.ResourceID]interfaces.ChatMessageID),
		gate:   gate,
		log:    log,
	}
}

// Append stores a message under the given vetkey epoch. The supplied
// symmetric key epoch must be the one active right now; the message is then
// stamped with the very clock reading the check used, so a stored message
// is always consistent with its symmetric key epoch.
func (s *Store) Append(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, symEpoch interfaces.SymmetricKeyEpochID, content []byte) (Message, error) {
	// one reading serves the expiry gate, the symmetric key epoch check
	// and the stored timestamp
	now := s.gate.Now()
	info, err := s.gate.ValidateAccessAt(caller, resource, epoch, now)
	if err != nil {
		return Message{}, err
	}

	current := info.SymmetricKeyEpochAt(now)
	if symEpoch != current {
		if symEpoch < current {
			return Message{}, &interfaces.WrongSymmetricKeyEpochError{
				Supplied: symEpoch,
				Now:      now,
				Boundary: info.SymmetricKeyEpochStart(symEpoch + 1),
				Expired:  true,
			}
		}
		return Message{}, &interfaces.WrongSymmetricKeyEpochError{
			Supplied: symEpoch,
			Now:      now,
			Boundary: info.SymmetricKeyEpochStart(symEpoch),
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	msg := Message{
		ID:                s.nextID[resource],
		Sender:            caller,
		Epoch:             epoch,
		SymmetricKeyEpoch: symEpoch,
		Content:           append([]byte(nil), content...),
		Timestamp:         now,
	}
	s.nextID[resource]++
	s.msgs[resource] = append(s.msgs[resource], msg)
	return msg, nil
}

// ReadRange returns messages with id >= start in ascending order, at most
// limit of them (limit 0 means no bound). The caller must be in the
// resource's latest participant snapshot; expired epochs stay readable
// until swept.
func (s *Store) ReadRange(caller interfaces.Principal, resource interfaces.ResourceID, start interfaces.ChatMessageID, limit uint64) ([]Message, error) {
	if err := s.authorizeLatest(caller, resource); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.msgs[resource]
	i := sort.Search(len(stored), func(i int) bool { return stored[i].ID >= start })
	out := make([]Message, 0, len(stored)-i)
	for ; i < len(stored); i++ {
		if limit != 0 && uint64(len(out)) >= limit {
			break
		}
		out = append(out, stored[i])
	}
	return out, nil
}

// NextID returns the id the next message of the resource will receive,
// which equals the count of messages ever sent to it.
func (s *Store) NextID(caller interfaces.Principal, resource interfaces.ResourceID) (interfaces.ChatMessageID, error) {
	if err := s.authorizeLatest(caller, resource); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextID[resource], nil
}

func (s *Store) authorizeLatest(caller interfaces.Principal, resource interfaces.ResourceID) error {
	latest, ok := s.gate.LatestEpoch(resource)
	if !ok {
		return fmt.Errorf("resource %s: %w", resource, interfaces.ErrEpochNotFound)
	}
	if !latest.HasParticipant(caller) {
		return fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
			caller, resource, latest.ID, interfaces.ErrUnauthorized)
	}
	return nil
}

// DeleteEpochMessages implements interfaces.MessageSweeper. Message ids are
// not reused after a sweep.
func (s *Store) DeleteEpochMessages(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored := s.msgs[resource]
	kept := stored[:0]
	var removed uint64
	for _, msg := range stored {
		if msg.Epoch == epoch {
			removed++
			continue
		}
		kept = append(kept, msg)
	}
	if len(kept) == 0 {
		delete(s.msgs, resource)
	} else {
		s.msgs[resource] = kept
	}
	return removed
}

type storeState struct {
	Resources []resourceMessages `json:"resources"`
}

type resourceMessages struct {
	Resource interfaces.ResourceID    `json:"resource"`
	NextID   interfaces.ChatMessageID `json:"next_id"`
	Messages []Message                `json:"messages"`
}

// ComponentName implements interfaces.StateExporter.
func (s *Store) ComponentName() string { return "messages" }

// ExportState implements interfaces.StateExporter.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state storeState
	for resource, next := range s.nextID {
		state.Resources = append(state.Resources, resourceMessages{
			Resource: resource,
			NextID:   next,
			Messages: s.msgs[resource],
		})
	}
	sort.Slice(state.Resources, func(i, j int) bool {
		return state.Resources[i].Resource.Less(state.Resources[j].Resource)
	})
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (s *Store) ImportState(data []byte) error {
	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding message state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.msgs = make(map[interfaces.ResourceID][]Message, len(state.Resources))
	s.nextID = make(map[interfaces.ResourceID]interfaces.ChatMessageID, len(state.Resources))
	for _, r := range state.Resources {
		if len(r.Messages) > 0 {
			s.msgs[r.Resource] = r.Messages
		}
		s.nextID[r.Resource] = r.NextID
	}
	return nil
}
