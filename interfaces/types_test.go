package interfaces

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPrincipal(t *testing.T) {
	_, err := NewPrincipal("")
	require.Error(t, err)

	_, err = NewPrincipal(string(make([]byte, MaxPrincipalLen+1)))
	require.Error(t, err)

	p, err := NewPrincipal("alice")
	require.NoError(t, err)
	assert.Equal(t, Principal("alice"), p)
}

func TestAccessRightsOrdering(t *testing.T) {
	assert.True(t, RightsRead.CanRead())
	assert.False(t, RightsRead.CanWrite())
	assert.False(t, RightsRead.CanManage())

	assert.True(t, RightsReadWrite.CanWrite())
	assert.False(t, RightsReadWrite.CanManage())

	assert.True(t, RightsReadWriteManage.CanRead())
	assert.True(t, RightsReadWriteManage.CanWrite())
	assert.True(t, RightsReadWriteManage.CanManage())
}

func TestAccessRightsTextRoundTrip(t *testing.T) {
	for _, r := range []AccessRights{RightsRead, RightsReadWrite, RightsReadWriteManage} {
		text, err := r.MarshalText()
		require.NoError(t, err)
		var back AccessRights
		require.NoError(t, back.UnmarshalText(text))
		assert.Equal(t, r, back)
	}

	var r AccessRights
	require.Error(t, r.UnmarshalText([]byte("admin")))
	_, err := AccessRights(9).MarshalText()
	require.Error(t, err)
}

func TestTimeSaturatingAdd(t *testing.T) {
	assert.Equal(t, Time(3), Time(1).Add(2))
	assert.Equal(t, Time(math.MaxUint64), Time(math.MaxUint64-1).Add(5))
	assert.Equal(t, Time(math.MaxUint64), TimeFromMinutes(math.MaxUint64))
}

func TestDirectChatIDIsCanonical(t *testing.T) {
	assert.Equal(t, NewDirectChatID("alice", "bob"), NewDirectChatID("bob", "alice"))

	self := NewDirectChatID("alice", "alice")
	a, b := self.DirectParticipants()
	assert.Equal(t, a, b)
}

func TestResourceIDOrdering(t *testing.T) {
	kv, err := NewKVResourceID("alice", []byte("m"))
	require.NoError(t, err)
	direct := NewDirectChatID("alice", "bob")
	group := NewGroupChatID(0)

	assert.True(t, kv.Less(direct))
	assert.True(t, direct.Less(group))
	assert.True(t, NewGroupChatID(1).Less(NewGroupChatID(2)))

	// the minimum chat id is the direct chat of the two lowest principals
	lowest := NewDirectChatID("", "")
	assert.False(t, direct.Less(lowest))
}

func TestContextBytesUnique(t *testing.T) {
	kv1, err := NewKVResourceID("ab", []byte("c"))
	require.NoError(t, err)
	kv2, err := NewKVResourceID("a", []byte("bc"))
	require.NoError(t, err)

	// length prefixes keep different field splits apart
	assert.NotEqual(t, kv1.ContextBytes(), kv2.ContextBytes())
	assert.NotEqual(t, NewDirectChatID("a", "b").ContextBytes(), NewGroupChatID(0).ContextBytes())
}

func TestResourceIDJSONRoundTrip(t *testing.T) {
	kv, err := NewKVResourceID("alice", []byte("notes"))
	require.NoError(t, err)

	for _, id := range []ResourceID{kv, NewDirectChatID("bob", "alice"), NewGroupChatID(7)} {
		data, err := json.Marshal(id)
		require.NoError(t, err)
		var back ResourceID
		require.NoError(t, json.Unmarshal(data, &back))
		assert.Equal(t, id, back)
	}

	// direct chats decode to canonical order regardless of wire order
	var direct ResourceID
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"direct","participants":["bob","alice"]}`), &direct))
	assert.Equal(t, NewDirectChatID("alice", "bob"), direct)
}

func TestEpochInfoSymmetricKeyEpochs(t *testing.T) {
	info := EpochInfo{
		CreatedAt:          TimeFromMinutes(100),
		RotationDuration:   TimeFromMinutes(1000),
		ExpirationDuration: TimeFromMinutes(10000),
	}

	assert.Equal(t, SymmetricKeyEpochID(0), info.SymmetricKeyEpochAt(TimeFromMinutes(100)))
	assert.Equal(t, SymmetricKeyEpochID(0), info.SymmetricKeyEpochAt(TimeFromMinutes(1099)))
	assert.Equal(t, SymmetricKeyEpochID(1), info.SymmetricKeyEpochAt(TimeFromMinutes(1100)))
	assert.Equal(t, SymmetricKeyEpochID(0), info.SymmetricKeyEpochAt(0), "readings before creation clamp to zero")

	assert.Equal(t, TimeFromMinutes(100), info.SymmetricKeyEpochStart(0))
	assert.Equal(t, TimeFromMinutes(2100), info.SymmetricKeyEpochStart(2))

	assert.False(t, info.Expired(TimeFromMinutes(10099)))
	assert.True(t, info.Expired(TimeFromMinutes(10100)), "expiry deadline is inclusive")
}

func TestEpochInfoParticipants(t *testing.T) {
	info := EpochInfo{Participants: []Principal{"alice", "bob", "carol"}}
	assert.True(t, info.HasParticipant("bob"))
	assert.False(t, info.HasParticipant("eve"))
	assert.False(t, EpochInfo{}.HasParticipant("alice"))
}
