package inbox

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

func newTestStore(maxMessages int) (*Store, *clock.Mock) {
	mock := clock.NewMock()
	return New(maxMessages, mock, slog.New(slog.NewTextHandler(io.Discard, nil))), mock
}

func TestSendAndList(t *testing.T) {
	s, mock := newTestStore(0)

	require.NoError(t, s.Send("alice", "bob", []byte("hi")))
	mock.Add(time.Minute)
	require.NoError(t, s.Send("carol", "bob", []byte("hello")))

	msgs := s.MyMessages("bob")
	require.Len(t, msgs, 2)
	assert.Equal(t, interfaces.Principal("alice"), msgs[0].Sender)
	assert.Equal(t, []byte("hi"), msgs[0].Content)
	assert.Equal(t, interfaces.Principal("carol"), msgs[1].Sender)
	assert.Greater(t, msgs[1].Timestamp, msgs[0].Timestamp)

	assert.Empty(t, s.MyMessages("alice"), "senders see nothing in their own inbox")
}

func TestInboxCapacity(t *testing.T) {
	s, _ := newTestStore(2)

	require.NoError(t, s.Send("alice", "bob", []byte("1")))
	require.NoError(t, s.Send("alice", "bob", []byte("2")))
	err := s.Send("alice", "bob", []byte("3"))
	require.ErrorIs(t, err, interfaces.ErrResourceFull)

	// removing frees a slot
	_, err = s.RemoveByIndex("bob", 0)
	require.NoError(t, err)
	require.NoError(t, s.Send("alice", "bob", []byte("3")))
}

func TestRemoveByIndex(t *testing.T) {
	s, _ := newTestStore(0)
	require.NoError(t, s.Send("alice", "bob", []byte("first")))
	require.NoError(t, s.Send("alice", "bob", []byte("second")))
	require.NoError(t, s.Send("alice", "bob", []byte("third")))

	removed, err := s.RemoveByIndex("bob", 1)
	require.NoError(t, err)
	assert.Equal(t, []byte("second"), removed.Content)

	msgs := s.MyMessages("bob")
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("first"), msgs[0].Content)
	assert.Equal(t, []byte("third"), msgs[1].Content)

	_, err = s.RemoveByIndex("bob", 2)
	require.Error(t, err)
	_, err = s.RemoveByIndex("eve", 0)
	require.Error(t, err, "empty inbox has no index 0")
}

func TestStateRoundTrip(t *testing.T) {
	s, _ := newTestStore(0)
	require.NoError(t, s.Send("alice", "bob", []byte("hi")))

	data, err := s.ExportState()
	require.NoError(t, err)

	restored, _ := newTestStore(0)
	require.NoError(t, restored.ImportState(data))

	msgs := restored.MyMessages("bob")
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("hi"), msgs[0].Content)
}
