// Package epochs implements the key epoch manager: chat registration, epoch
// rotation with participant snapshots, epoch-scoped access validation, and
// the derivation gate in front of the external vetKD service.
//
// Epochs are immutable once created. Rotation appends a new epoch with a
// fresh participant snapshot; earlier epochs keep their snapshots so that
// old key material stays readable by whoever held it at the time.
package epochs

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/vetkd-access-backend/interfaces"
)

// Config carries the collaborators and the epoch timing policy. Rotation and
// expiration durations apply to every epoch created by this manager.
type Config struct {
	RotationMinutes   uint64
	ExpirationMinutes uint64

	Clock  clock.Clock // defaults to the wall clock
	Log    *slog.Logger
	VetKD  interfaces.VetKD
	Rights interfaces.RightsSource
}

// Manager owns the epoch histories of all resources. It implements
// interfaces.EpochGate and interfaces.EpochLister.
type Manager struct {
	mu          sync.Mutex
	epochs      map[interfaces.ResourceID][]interfaces.EpochInfo
	nextGroupID uint64
	lastNow     interfaces.Time

	rotation   interfaces.Time
	expiration interfaces.Time

	clock  clock.Clock
	log    *slog.Logger
	vetkd  interfaces.VetKD
	rights interfaces.RightsSource
	slots  interfaces.SlotChecker
}

// New creates a manager. The slot checker is wired separately via
// SetSlotChecker since the key slot store needs the manager first.
func New(cfg Config) *Manager {
	c := cfg.Clock
	if c == nil {
		c = clock.New()
	}
	return &Manager{
		epochs:     make(map[interfaces.ResourceID][]interfaces.EpochInfo),
		rotation:   interfaces.TimeFromMinutes(cfg.RotationMinutes),
		expiration: interfaces.TimeFromMinutes(cfg.ExpirationMinutes),
		clock:      c,
		log:        cfg.Log,
		vetkd:      cfg.VetKD,
		rights:     cfg.Rights,
	}
}

// SetSlotChecker wires the key slot store consulted by DeriveKeyMaterial.
func (m *Manager) SetSlotChecker(s interfaces.SlotChecker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots = s
}

// Now implements interfaces.EpochGate. Readings are clamped so that time
// never goes backwards within the manager's history.
func (m *Manager) Now() interfaces.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.nowLocked()
}

func (m *Manager) nowLocked() interfaces.Time {
	now := interfaces.Time(m.clock.Now().UnixNano())
	if now < m.lastNow {
		return m.lastNow
	}
	m.lastNow = now
	return now
}

// CreateDirectChat registers the direct chat between caller and peer and
// creates its epoch 0. The pair is unordered and a self-chat is valid.
func (m *Manager) CreateDirectChat(caller, peer interfaces.Principal) (interfaces.ResourceID, error) {
	resource := interfaces.NewDirectChatID(caller, peer)

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.epochs[resource]; exists {
		return interfaces.ResourceID{}, fmt.Errorf("chat %s already exists: %w", resource, interfaces.ErrChatAlreadyExists)
	}

	// snapshot comes from the canonical id so it stays sorted regardless
	// of which side created the chat
	low, high := resource.DirectParticipants()
	participants := []interfaces.Principal{low}
	if high != low {
		participants = append(participants, high)
	}
	m.appendEpochLocked(resource, participants)
	m.log.Info("Direct chat created", slog.String("chat", resource.String()))
	return resource, nil
}

// CreateGroupChat registers a group chat with a fresh sequential id and
// creates its epoch 0. The caller is always part of the participant set.
func (m *Manager) CreateGroupChat(caller interfaces.Principal, members []interfaces.Principal) (interfaces.ResourceID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	resource := interfaces.NewGroupChatID(m.nextGroupID)
	m.nextGroupID++

	m.appendEpochLocked(resource, dedupSorted(append([]interfaces.Principal{caller}, members...)))
	m.log.Info("Group chat created",
		slog.String("chat", resource.String()),
		slog.Int("participants", len(m.epochs[resource][0].Participants)))
	return resource, nil
}

// Rotate creates the next epoch of a resource. Group chat snapshots are the
// latest one plus add minus remove; direct chats and key/value resources
// accept no deltas. Chat rotation requires membership in the latest
// snapshot; key/value rotation requires a current right in the ledger, so a
// freshly granted principal can rotate themselves in.
func (m *Manager) Rotate(caller interfaces.Principal, resource interfaces.ResourceID, add, remove []interfaces.Principal) (interfaces.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, err := m.historyLocked(resource)
	if err != nil {
		return interfaces.EpochInfo{}, err
	}
	latest := history[len(history)-1]

	var participants []interfaces.Principal
	switch resource.Kind {
	case interfaces.KVResource:
		if len(add) != 0 || len(remove) != 0 {
			return interfaces.EpochInfo{}, errors.New("key/value resource snapshots come from the rights ledger")
		}
		participants = m.rights.ResourceParticipants(resource)
		if !hasPrincipal(participants, caller) {
			return interfaces.EpochInfo{}, fmt.Errorf("user %s does not have access to %s: %w",
				caller, resource, interfaces.ErrUnauthorized)
		}
	case interfaces.DirectChat:
		if !latest.HasParticipant(caller) {
			return interfaces.EpochInfo{}, fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
				caller, resource, latest.ID, interfaces.ErrUnauthorized)
		}
		if len(add) != 0 || len(remove) != 0 {
			return interfaces.EpochInfo{}, errors.New("direct chat participants cannot be modified")
		}
		participants = latest.Participants
	default:
		if !latest.HasParticipant(caller) {
			return interfaces.EpochInfo{}, fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
				caller, resource, latest.ID, interfaces.ErrUnauthorized)
		}
		participants, err = applyDelta(resource, latest.Participants, add, remove)
		if err != nil {
			return interfaces.EpochInfo{}, err
		}
	}
	if len(participants) == 0 {
		return interfaces.EpochInfo{}, errors.New("participant set must not be empty")
	}

	info := m.appendEpochLocked(resource, participants)
	m.log.Info("Epoch rotated",
		slog.String("resource", resource.String()),
		slog.Uint64("epoch", uint64(info.ID)),
		slog.Int("participants", len(info.Participants)))
	return info, nil
}

func applyDelta(resource interfaces.ResourceID, current, add, remove []interfaces.Principal) ([]interfaces.Principal, error) {
	set := make(map[interfaces.Principal]struct{}, len(current)+len(add))
	for _, p := range current {
		set[p] = struct{}{}
	}
	for _, p := range add {
		if _, ok := set[p]; ok {
			return nil, fmt.Errorf("user %s is already a participant of %s", p, resource)
		}
		set[p] = struct{}{}
	}
	for _, p := range remove {
		if _, ok := set[p]; !ok {
			return nil, fmt.Errorf("user %s is not a participant of %s", p, resource)
		}
		delete(set, p)
	}

	next := make([]interfaces.Principal, 0, len(set))
	for p := range set {
		next = append(next, p)
	}
	sort.Slice(next, func(i, j int) bool { return next[i] < next[j] })
	return next, nil
}

func hasPrincipal(sorted []interfaces.Principal, p interfaces.Principal) bool {
	i := sort.Search(len(sorted), func(i int) bool { return sorted[i] >= p })
	return i < len(sorted) && sorted[i] == p
}

// MyChats returns the chats whose latest epoch includes caller, in canonical
// resource order.
func (m *Manager) MyChats(caller interfaces.Principal) []interfaces.ResourceID {
	m.mu.Lock()
	defer m.mu.Unlock()

	var chats []interfaces.ResourceID
	for resource, history := range m.epochs {
		if resource.IsChat() && history[len(history)-1].HasParticipant(caller) {
			chats = append(chats, resource)
		}
	}
	sort.Slice(chats, func(i, j int) bool { return chats[i].Less(chats[j]) })
	return chats
}

// LatestEpochMetadata returns the latest epoch snapshot of a resource. The
// caller must be in that snapshot.
func (m *Manager) LatestEpochMetadata(caller interfaces.Principal, resource interfaces.ResourceID) (interfaces.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, err := m.historyLocked(resource)
	if err != nil {
		return interfaces.EpochInfo{}, err
	}
	latest := history[len(history)-1]
	if !latest.HasParticipant(caller) {
		return interfaces.EpochInfo{}, fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
			caller, resource, latest.ID, interfaces.ErrUnauthorized)
	}
	return latest, nil
}

// EpochInfo implements interfaces.EpochGate.
func (m *Manager) EpochInfo(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.epochInfoLocked(resource, epoch)
}

func (m *Manager) epochInfoLocked(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	history, err := m.historyLocked(resource)
	if err != nil {
		return interfaces.EpochInfo{}, err
	}
	if uint64(epoch) >= uint64(len(history)) {
		return interfaces.EpochInfo{}, fmt.Errorf("epoch %d of %s: %w", epoch, resource, interfaces.ErrEpochNotFound)
	}
	return history[epoch], nil
}

// LatestEpoch implements interfaces.EpochGate.
func (m *Manager) LatestEpoch(resource interfaces.ResourceID) (interfaces.EpochInfo, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	history, err := m.historyLocked(resource)
	if err != nil {
		return interfaces.EpochInfo{}, false
	}
	return history[len(history)-1], true
}

// ValidateAccess implements interfaces.EpochGate. Checks run in a fixed
// order: the epoch must exist, the caller must be in its snapshot, and only
// then is expiry considered.
func (m *Manager) ValidateAccess(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateAccessLocked(caller, resource, epoch)
}

// ValidateAccessAt implements interfaces.EpochGate. It runs the same checks
// as ValidateAccess against a caller-supplied clock reading, so one store
// operation can use a single reading for every time-based decision.
func (m *Manager) ValidateAccessAt(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, now interfaces.Time) (interfaces.EpochInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validateAccessAtLocked(caller, resource, epoch, now)
}

func (m *Manager) validateAccessLocked(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	return m.validateAccessAtLocked(caller, resource, epoch, m.nowLocked())
}

func (m *Manager) validateAccessAtLocked(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, now interfaces.Time) (interfaces.EpochInfo, error) {
	info, err := m.epochInfoLocked(resource, epoch)
	if err != nil {
		return interfaces.EpochInfo{}, err
	}
	if !info.HasParticipant(caller) {
		return interfaces.EpochInfo{}, fmt.Errorf("user %s does not have access to %s at epoch %d: %w",
			caller, resource, epoch, interfaces.ErrUnauthorized)
	}
	if info.Expired(now) {
		return interfaces.EpochInfo{}, fmt.Errorf("epoch %d of %s: %w", epoch, resource, interfaces.ErrEpochExpired)
	}
	return info, nil
}

// DeriveKeyMaterial validates access and forwards the derivation request to
// the vetKD service. A nil epoch selects the resource's latest epoch. The
// request is refused while the caller's slot holds a cached or reshared key.
func (m *Manager) DeriveKeyMaterial(ctx context.Context, caller interfaces.Principal, resource interfaces.ResourceID, epoch *interfaces.VetKeyEpochID, transportPublicKey []byte) ([]byte, interfaces.VetKeyEpochID, error) {
	m.mu.Lock()

	id, err := m.resolveEpochLocked(resource, epoch)
	if err != nil {
		m.mu.Unlock()
		return nil, 0, err
	}
	if _, err := m.validateAccessLocked(caller, resource, id); err != nil {
		m.mu.Unlock()
		return nil, 0, err
	}
	// cached and reshared slots both refuse derivation under the same tag
	if m.slots != nil && m.slots.SlotState(resource, id, caller) != interfaces.SlotEmpty {
		m.mu.Unlock()
		return nil, 0, fmt.Errorf("user %s already has key material stored for %s at epoch %d: %w",
			caller, resource, id, interfaces.ErrAlreadyCached)
	}
	m.mu.Unlock()

	key, err := m.vetkd.DeriveEncryptedKey(ctx, []byte(caller), derivationContext(resource, id), transportPublicKey)
	if err != nil {
		return nil, 0, fmt.Errorf("deriving key for %s at epoch %d: %w", resource, id, err)
	}
	return key, id, nil
}

// PublicKey returns the derived public key of a resource epoch. It is always
// permitted, even for resources or epochs that do not exist: the key is a
// pure function of the canonical derivation context, so callers can encrypt
// towards a chat before it is created or rotated. A nil epoch selects the
// latest epoch, or 0 for a resource with no history yet.
func (m *Manager) PublicKey(ctx context.Context, resource interfaces.ResourceID, epoch *interfaces.VetKeyEpochID) ([]byte, interfaces.VetKeyEpochID) {
	var id interfaces.VetKeyEpochID
	if epoch != nil {
		id = *epoch
	} else if latest, ok := m.LatestEpoch(resource); ok {
		id = latest.ID
	}
	return m.vetkd.PublicKey(ctx, derivationContext(resource, id)), id
}

func (m *Manager) resolveEpochLocked(resource interfaces.ResourceID, epoch *interfaces.VetKeyEpochID) (interfaces.VetKeyEpochID, error) {
	if epoch != nil {
		return *epoch, nil
	}
	history, err := m.historyLocked(resource)
	if err != nil {
		return 0, err
	}
	return history[len(history)-1].ID, nil
}

// historyLocked returns the epoch history of a resource. Key/value resources
// get an implicit epoch 0 on first touch, snapshotted from the rights ledger.
func (m *Manager) historyLocked(resource interfaces.ResourceID) ([]interfaces.EpochInfo, error) {
	if history, ok := m.epochs[resource]; ok {
		return history, nil
	}
	if resource.Kind == interfaces.KVResource {
		m.appendEpochLocked(resource, m.rights.ResourceParticipants(resource))
		return m.epochs[resource], nil
	}
	return nil, fmt.Errorf("epoch 0 of %s: %w", resource, interfaces.ErrEpochNotFound)
}

func (m *Manager) appendEpochLocked(resource interfaces.ResourceID, participants []interfaces.Principal) interfaces.EpochInfo {
	info := interfaces.EpochInfo{
		ID:                 interfaces.VetKeyEpochID(len(m.epochs[resource])),
		Participants:       participants,
		CreatedAt:          m.nowLocked(),
		RotationDuration:   m.rotation,
		ExpirationDuration: m.expiration,
	}
	m.epochs[resource] = append(m.epochs[resource], info)
	return info
}

// ExpiredEpochs implements interfaces.EpochLister.
func (m *Manager) ExpiredEpochs(now interfaces.Time) []interfaces.ExpiredEpoch {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []interfaces.ExpiredEpoch
	for resource, history := range m.epochs {
		for _, info := range history {
			if info.Expired(now) {
				expired = append(expired, interfaces.ExpiredEpoch{Resource: resource, Epoch: info.ID})
			}
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		if expired[i].Resource != expired[j].Resource {
			return expired[i].Resource.Less(expired[j].Resource)
		}
		return expired[i].Epoch < expired[j].Epoch
	})
	return expired
}

// derivationContext binds derived keys to one resource epoch.
func derivationContext(resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) []byte {
	ctx := resource.ContextBytes()
	var e [8]byte
	binary.BigEndian.PutUint64(e[:], uint64(epoch))
	return append(ctx, e[:]...)
}

func dedupSorted(ps []interfaces.Principal) []interfaces.Principal {
	set := make(map[interfaces.Principal]struct{}, len(ps))
	for _, p := range ps {
		set[p] = struct{}{}
	}
	out := make([]interfaces.Principal, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type managerState struct {
	Resources   []resourceEpochs `json:"resources"`
	NextGroupID uint64           `json:"next_group_id"`
	LastNow     interfaces.Time  `json:"last_now"`
}

type resourceEpochs struct {
	Resource interfaces.ResourceID  `json:"resource"`
	Epochs   []interfaces.EpochInfo `json:"epochs"`
}

// ComponentName implements interfaces.StateExporter.
func (m *Manager) ComponentName() string { return "epochs" }

// ExportState implements interfaces.StateExporter.
func (m *Manager) ExportState() ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	state := managerState{NextGroupID: m.nextGroupID, LastNow: m.lastNow}
	for resource, history := range m.epochs {
		state.Resources = append(state.Resources, resourceEpochs{Resource: resource, Epochs: history})
	}
	sort.Slice(state.Resources, func(i, j int) bool {
		return state.Resources[i].Resource.Less(state.Resources[j].Resource)
	})
	return json.Marshal(state)
}

// ImportState implements interfaces.StateExporter.
func (m *Manager) ImportState(data []byte) error {
	var state managerState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("decoding epoch state: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.epochs = make(map[interfaces.ResourceID][]interfaces.EpochInfo, len(state.Resources))
	for _, r := range state.Resources {
		if len(r.Epochs) == 0 {
			return fmt.Errorf("resource %s has no epochs in snapshot", r.Resource)
		}
		m.epochs[r.Resource] = r.Epochs
	}
	m.nextGroupID = state.NextGroupID
	if state.LastNow > m.lastNow {
		m.lastNow = state.LastNow
	}
	return nil
}
