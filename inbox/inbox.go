// Package inbox implements a bounded per-principal message drop. Anyone may
// deposit a message into any principal's inbox; only the owner can list and
// remove entries. Inboxes cap out rather than evict.
package inbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// DefaultMaxMessages is the per-inbox capacity used when none is configured.
const DefaultMaxMessages = 1000

// Message is one inbox entry.
type Message struct {
	Sender    interfaces.Principal `json:"sender"`
	Content   []byte               `json:"content"`
	Timestamp interfaces.Time      `json:"timestamp"`
}

// Store holds all inboxes.
type Store struct {
	mu      sync.Mutex
	inboxes map[interfaces.Principal][]Message
	max     int
	clock   clock.Clock
	log     *slog.Logger
}

// New creates an empty store. maxMessages bounds each inbox; zero selects
// DefaultMaxMessages.
func New(maxMessages int, c clock.Clock, log *slog.Logger) *Store {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	if c == nil {
		c = clock.New()
	}
	return &Store{
		inboxes: make(map[interfaces.Principal][]Message),
		max:     maxMessages,
		clock:   c,
		log:     log,
	}
}

// Send deposits a message into the recipient's inbox.
func (s *Store) Send(sender, recipient interfaces.Principal, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.inboxes[recipient]) >= s.max {
		return fmt.Errorf("inbox for %s is full: %w", recipient, interfaces.ErrResourceFull)
	}
	s.inboxes[recipient] = append(s.inboxes[recipient], Message{
		Sender:    sender,
		Content:   append([]byte(nil), content...),
		Timestamp: interfaces.Time(s.clock.Now().UnixNano()),
	})
	return nil
}

// MyMessages returns the caller's inbox in arrival order.
func (s *Store) MyMessages(caller interfaces.Principal) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.inboxes[caller]...)
}

// RemoveByIndex removes one entry from the caller's inbox, identified by its
// current position.
func (s *Store) RemoveByIndex(caller interfaces.Principal, index uint64) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.inboxes[caller]
	if index >= uint64(len(msgs)) {
		return Message{}, fmt.Errorf("message index %d out of bounds for inbox of size %d", index, len(msgs))
	}
	removed := msgs[index]
	msgs = append(msgs[:index], msgs[index+1:]...)
	if len(msgs) == 0 {
		delete(s.inboxes, caller)
	} else {
		s.inboxes[caller] = msgs
	}
	return removed, nil
}

type storeState struct {
	Inboxes []inboxState `json:"inboxes"`
}

type inboxState struct {
	Owner    interfaces.Principal `json:"owner"`
	Messages []Message            `json:"messages"`
}

// ComponentName implements interfaces.StateExporter.
func (s *Store) ComponentName() string { return "inbox" }

// ExportState implements interfaces.StateExporter.
func (s *Store) ExportState() ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var state storeState
	for owner, msgs := range s.inboxes {
		state.Inboxes = append(state.Inboxes, inboxState{Owner: owner, Messages: msgs})
	}
	sort.Slice(state.Inboxes, func(i, j int) bool { return state.Inboxes[i].Owner < state.Inboxes[j].Owner })
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (s *Store) ImportState(data []byte) error {
	var state storeState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding inbox state: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inboxes = make(map[interfaces.Principal][]Message, len(state.Inboxes))
	for _, in := range state.Inboxes {
		s.inboxes[in.Owner] = in.Messages
	}
	return nil
}
