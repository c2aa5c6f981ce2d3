package keyslots

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGate is a minimal epoch gate over a single fixed epoch snapshot.
type fakeGate struct {
	info  interfaces.EpochInfo
	clock *clock.Mock
}

func newFakeGate(participants ...interfaces.Principal) *fakeGate {
	return &fakeGate{
		info: interfaces.EpochInfo{
			ID:                 0,
			Participants:       participants,
			RotationDuration:   interfaces.TimeFromMinutes(1000),
			ExpirationDuration: interfaces.TimeFromMinutes(10000),
		},
		clock: clock.NewMock(),
	}
}

func (g *fakeGate) ValidateAccess(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	return g.ValidateAccessAt(caller, resource, epoch, g.Now())
}

func (g *fakeGate) ValidateAccessAt(caller interfaces.Principal, resource interfaces.ResourceID, epoch interfaces.VetKeyEpochID, now interfaces.Time) (interfaces.EpochInfo, error) {
	info, err := g.EpochInfo(resource, epoch)
	if err != nil {
		return interfaces.EpochInfo{}, err
	}
	if !info.HasParticipant(caller) {
		return interfaces.EpochInfo{}, interfaces.ErrUnauthorized
	}
	if info.Expired(now) {
		return interfaces.EpochInfo{}, interfaces.ErrEpochExpired
	}
	return info, nil
}

func (g *fakeGate) EpochInfo(_ interfaces.ResourceID, epoch interfaces.VetKeyEpochID) (interfaces.EpochInfo, error) {
	if epoch != g.info.ID {
		return interfaces.EpochInfo{}, interfaces.ErrEpochNotFound
	}
	return g.info, nil
}

func (g *fakeGate) LatestEpoch(_ interfaces.ResourceID) (interfaces.EpochInfo, bool) {
	return g.info, true
}

func (g *fakeGate) Now() interfaces.Time {
	return interfaces.Time(g.clock.Now().UnixNano())
}

func newTestStore(participants ...interfaces.Principal) (*Store, *fakeGate) {
	gate := newFakeGate(participants...)
	return New(gate, slog.New(slog.NewTextHandler(io.Discard, nil))), gate
}

var chat = interfaces.NewDirectChatID("alice", "bob")

func TestCacheUpsert(t *testing.T) {
	s, _ := newTestStore("alice", "bob")

	_, ok, err := s.GetCache("alice", chat, 0)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.UpdateCache("alice", chat, 0, []byte("key-v1")))
	key, ok, err := s.GetCache("alice", chat, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("key-v1"), key)

	// re-caching overwrites
	require.NoError(t, s.UpdateCache("alice", chat, 0, []byte("key-v2")))
	key, ok, err = s.GetCache("alice", chat, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("key-v2"), key)

	assert.Equal(t, interfaces.SlotCached, s.SlotState(chat, 0, "alice"))
	assert.Equal(t, interfaces.SlotEmpty, s.SlotState(chat, 0, "bob"))
}

func TestCacheRequiresAccess(t *testing.T) {
	s, _ := newTestStore("alice", "bob")

	err := s.UpdateCache("eve", chat, 0, []byte("key"))
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, _, err = s.GetCache("alice", chat, 3)
	require.ErrorIs(t, err, interfaces.ErrEpochNotFound)
}

func TestReshareAndClaim(t *testing.T) {
	s, _ := newTestStore("alice", "bob", "carol")

	err := s.Reshare("alice", chat, 0, []Share{
		{Recipient: "bob", Key: []byte("for-bob")},
		{Recipient: "carol", Key: []byte("for-carol")},
	})
	require.NoError(t, err)
	assert.Equal(t, interfaces.SlotReshared, s.SlotState(chat, 0, "bob"))

	key, ok, err := s.ConsumeReshared("bob", chat, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("for-bob"), key)

	// a reshared key is claimed exactly once
	_, ok, err = s.ConsumeReshared("bob", chat, 0)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, interfaces.SlotEmpty, s.SlotState(chat, 0, "bob"))
}

func TestReshareRejectsSelf(t *testing.T) {
	s, _ := newTestStore("alice", "bob")

	err := s.Reshare("alice", chat, 0, []Share{{Recipient: "alice", Key: []byte("k")}})
	require.ErrorIs(t, err, interfaces.ErrCannotReshareWithSelf)
}

func TestReshareRejectsOccupiedSlots(t *testing.T) {
	s, _ := newTestStore("alice", "bob", "carol")

	require.NoError(t, s.UpdateCache("bob", chat, 0, []byte("own")))
	err := s.Reshare("alice", chat, 0, []Share{{Recipient: "bob", Key: []byte("k")}})
	require.ErrorIs(t, err, interfaces.ErrAlreadyCached)

	require.NoError(t, s.Reshare("alice", chat, 0, []Share{{Recipient: "carol", Key: []byte("k")}}))
	err = s.Reshare("bob", chat, 0, []Share{{Recipient: "carol", Key: []byte("k2")}})
	require.ErrorIs(t, err, interfaces.ErrAlreadyReshared)
}

func TestReshareIsAllOrNothing(t *testing.T) {
	s, _ := newTestStore("alice", "bob", "carol")

	// carol's slot is fine but bob is not a participant recipient;
	// nothing may be written
	err := s.Reshare("alice", chat, 0, []Share{
		{Recipient: "carol", Key: []byte("for-carol")},
		{Recipient: "eve", Key: []byte("for-eve")},
	})
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)
	assert.Equal(t, interfaces.SlotEmpty, s.SlotState(chat, 0, "carol"))
}

func TestCacheDiscardsPendingReshare(t *testing.T) {
	s, _ := newTestStore("alice", "bob")

	require.NoError(t, s.Reshare("alice", chat, 0, []Share{{Recipient: "bob", Key: []byte("shared")}}))
	require.NoError(t, s.UpdateCache("bob", chat, 0, []byte("own")))

	assert.Equal(t, interfaces.SlotCached, s.SlotState(chat, 0, "bob"))
	_, ok, err := s.ConsumeReshared("bob", chat, 0)
	require.NoError(t, err)
	assert.False(t, ok, "reshare must have been discarded by the cache update")
}

func TestExpiredEpochRefusesSlotOperations(t *testing.T) {
	s, gate := newTestStore("alice", "bob")
	require.NoError(t, s.UpdateCache("alice", chat, 0, []byte("key")))

	gate.clock.Add(10000 * time.Minute)
	_, _, err := s.GetCache("alice", chat, 0)
	require.ErrorIs(t, err, interfaces.ErrEpochExpired)
	err = s.UpdateCache("alice", chat, 0, []byte("key"))
	require.ErrorIs(t, err, interfaces.ErrEpochExpired)
}

func TestDeleteEpochSlots(t *testing.T) {
	s, _ := newTestStore("alice", "bob", "carol")

	require.NoError(t, s.UpdateCache("alice", chat, 0, []byte("a")))
	require.NoError(t, s.UpdateCache("bob", chat, 0, []byte("b")))
	require.NoError(t, s.Reshare("alice", chat, 0, []Share{{Recipient: "carol", Key: []byte("c")}}))

	caches, reshares := s.DeleteEpochSlots(chat, 0)
	assert.Equal(t, uint64(2), caches)
	assert.Equal(t, uint64(1), reshares)

	// a second sweep finds nothing
	caches, reshares = s.DeleteEpochSlots(chat, 0)
	assert.Zero(t, caches)
	assert.Zero(t, reshares)
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestStore("alice", "bob")
	require.NoError(t, s.UpdateCache("alice", chat, 0, []byte("cached")))
	require.NoError(t, s.Reshare("alice", chat, 0, []Share{{Recipient: "bob", Key: []byte("shared")}}))

	data, err := s.ExportState()
	require.NoError(t, err)

	restored, _ := newTestStore("alice", "bob")
	require.NoError(t, restored.ImportState(data))

	key, ok, err := restored.GetCache("alice", chat, 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("cached"), key)
	assert.Equal(t, interfaces.SlotReshared, restored.SlotState(chat, 0, "bob"))
}
