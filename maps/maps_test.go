package maps

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) (*Store, *ledger.Store) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	l := ledger.New(log)
	return New(l, log), l
}

func mustKV(t *testing.T, owner interfaces.Principal, name string) interfaces.ResourceID {
	t.Helper()
	id, err := interfaces.NewKVResourceID(owner, []byte(name))
	require.NoError(t, err)
	return id
}

func TestInsertGetRemove(t *testing.T) {
	s, _ := newTestStore(t)
	res := mustKV(t, "alice", "passwords")

	_, had, err := s.Insert("alice", res, []byte("email"), []byte("ciphertext-v1"))
	require.NoError(t, err)
	assert.False(t, had)

	v, ok, err := s.Get("alice", res, []byte("email"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("ciphertext-v1"), v)

	prev, had, err := s.Insert("alice", res, []byte("email"), []byte("ciphertext-v2"))
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, []byte("ciphertext-v1"), prev)

	prev, had, err = s.Remove("alice", res, []byte("email"))
	require.NoError(t, err)
	require.True(t, had)
	assert.Equal(t, []byte("ciphertext-v2"), prev)

	_, ok, err = s.Get("alice", res, []byte("email"))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAccessGating(t *testing.T) {
	s, l := newTestStore(t)
	res := mustKV(t, "alice", "passwords")

	_, _, err := s.Get("bob", res, []byte("email"))
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, _, err = l.SetRights("alice", res, "bob", interfaces.RightsRead)
	require.NoError(t, err)

	// read right allows reads but not writes
	_, _, err = s.Get("bob", res, []byte("email"))
	require.NoError(t, err)
	_, _, err = s.Insert("bob", res, []byte("email"), []byte("x"))
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)
	_, _, err = s.Remove("bob", res, []byte("email"))
	require.ErrorIs(t, err, interfaces.ErrUnauthorized)

	_, _, err = l.SetRights("alice", res, "bob", interfaces.RightsReadWrite)
	require.NoError(t, err)
	_, _, err = s.Insert("bob", res, []byte("email"), []byte("x"))
	require.NoError(t, err)
}

func TestKeyLengthBound(t *testing.T) {
	s, _ := newTestStore(t)
	res := mustKV(t, "alice", "passwords")

	long := bytes.Repeat([]byte{'k'}, MaxKeyLen+1)
	_, _, err := s.Insert("alice", res, long, []byte("v"))
	require.Error(t, err)

	_, _, err = s.Insert("alice", res, bytes.Repeat([]byte{'k'}, MaxKeyLen), []byte("v"))
	require.NoError(t, err)
}

func TestItemsAndRemoveAll(t *testing.T) {
	s, _ := newTestStore(t)
	res := mustKV(t, "alice", "passwords")

	_, _, err := s.Insert("alice", res, []byte("b"), []byte("2"))
	require.NoError(t, err)
	_, _, err = s.Insert("alice", res, []byte("a"), []byte("1"))
	require.NoError(t, err)

	items, err := s.Items("alice", res)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []byte("a"), items[0].Key)
	assert.Equal(t, []byte("b"), items[1].Key)

	removed, err := s.RemoveAll("alice", res)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("a"), []byte("b")}, removed)

	items, err = s.Items("alice", res)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestOwnedMapNamesListsNonEmptyMaps(t *testing.T) {
	s, _ := newTestStore(t)
	passwords := mustKV(t, "alice", "passwords")
	notes := mustKV(t, "alice", "notes")
	other := mustKV(t, "bob", "bobs")

	_, _, err := s.Insert("alice", passwords, []byte("k"), []byte("v"))
	require.NoError(t, err)
	_, _, err = s.Insert("alice", notes, []byte("k"), []byte("v"))
	require.NoError(t, err)
	_, _, err = s.Insert("bob", other, []byte("k"), []byte("v"))
	require.NoError(t, err)

	assert.Equal(t, [][]byte{[]byte("notes"), []byte("passwords")}, s.OwnedMapNames("alice"))
	assert.Equal(t, [][]byte{[]byte("bobs")}, s.OwnedMapNames("bob"))
	assert.Empty(t, s.OwnedMapNames("carol"))

	// emptied maps drop out of the listing
	_, err = s.RemoveAll("alice", notes)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("passwords")}, s.OwnedMapNames("alice"))
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestStore(t)
	res := mustKV(t, "alice", "passwords")
	_, _, err := s.Insert("alice", res, []byte("email"), []byte("secret"))
	require.NoError(t, err)

	data, err := s.ExportState()
	require.NoError(t, err)

	restored, _ := newTestStore(t)
	require.NoError(t, restored.ImportState(data))

	v, ok, err := restored.Get("alice", res, []byte("email"))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("secret"), v)
}
