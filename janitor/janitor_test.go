package janitor

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/ruteri/vetkd-access-backend/epochs"
	"github.com/ruteri/vetkd-access-backend/interfaces"
	"github.com/ruteri/vetkd-access-backend/keyslots"
	"github.com/ruteri/vetkd-access-backend/messages"
	"github.com/ruteri/vetkd-access-backend/vetkd"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noRights struct{}

func (noRights) UserRights(_ interfaces.Principal, _ interfaces.ResourceID, _ interfaces.Principal) (interfaces.AccessRights, bool, error) {
	return 0, false, nil
}
func (noRights) ResourceParticipants(_ interfaces.ResourceID) []interfaces.Principal { return nil }

func newTestStack(t *testing.T) (*Janitor, *epochs.Manager, *messages.Store, *keyslots.Store, *clock.Mock) {
	t.Helper()
	mock := clock.NewMock()
	svc, err := vetkd.NewDevService(bytes.Repeat([]byte{0x42}, 32))
	require.NoError(t, err)
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	mgr := epochs.New(epochs.Config{
		RotationMinutes:   1000,
		ExpirationMinutes: 10000,
		Clock:             mock,
		Log:               log,
		VetKD:             svc,
		Rights:            noRights{},
	})
	msgs := messages.New(mgr, log)
	slots := keyslots.New(mgr, log)
	mgr.SetSlotChecker(slots)
	return New(mgr, msgs, slots, log), mgr, msgs, slots, mock
}

func TestSweepRemovesExpiredEpochContents(t *testing.T) {
	j, mgr, msgs, slots, mock := newTestStack(t)

	direct, err := mgr.CreateDirectChat("alice", "bob")
	require.NoError(t, err)
	group, err := mgr.CreateGroupChat("alice", []interfaces.Principal{"bob", "carol"})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err = msgs.Append("alice", direct, 0, 0, []byte("d"))
		require.NoError(t, err)
	}
	_, err = msgs.Append("bob", group, 0, 0, []byte("g"))
	require.NoError(t, err)

	require.NoError(t, slots.UpdateCache("alice", direct, 0, []byte("k")))
	require.NoError(t, slots.UpdateCache("bob", direct, 0, []byte("k")))
	require.NoError(t, slots.Reshare("alice", group, 0, []keyslots.Share{
		{Recipient: "bob", Key: []byte("k")},
		{Recipient: "carol", Key: []byte("k")},
	}))

	// nothing is expired yet
	report := j.Sweep()
	assert.Zero(t, report.Total())

	mock.Add(10000 * time.Minute)
	report = j.Sweep()
	assert.Equal(t, uint64(3), report.DirectMessages)
	assert.Equal(t, uint64(1), report.GroupMessages)
	assert.Equal(t, uint64(2), report.Caches)
	assert.Equal(t, uint64(2), report.Reshares)

	// sweeping is idempotent
	report = j.Sweep()
	assert.Zero(t, report.Total())
}

func TestSweepLeavesLiveEpochsAlone(t *testing.T) {
	j, mgr, msgs, _, mock := newTestStack(t)

	chat, err := mgr.CreateDirectChat("alice", "bob")
	require.NoError(t, err)
	_, err = msgs.Append("alice", chat, 0, 0, []byte("old"))
	require.NoError(t, err)

	// rotate halfway so epoch 1 outlives epoch 0
	mock.Add(5000 * time.Minute)
	info, err := mgr.Rotate("alice", chat, nil, nil)
	require.NoError(t, err)
	_, err = msgs.Append("alice", chat, info.ID, 0, []byte("new"))
	require.NoError(t, err)

	mock.Add(5000 * time.Minute)
	report := j.Sweep()
	assert.Equal(t, uint64(1), report.DirectMessages)

	// epoch 1 content is still there, readable by participants
	remaining, err := msgs.ReadRange("bob", chat, 0, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, []byte("new"), remaining[0].Content)
}
