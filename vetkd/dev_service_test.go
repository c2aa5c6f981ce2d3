package vetkd

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDevServiceRequiresLongSecret(t *testing.T) {
	_, err := NewDevService(bytes.Repeat([]byte{0x01}, 31))
	require.Error(t, err)

	svc, err := NewDevService(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	require.NotNil(t, svc)
}

func TestDeriveEncryptedKeyDeterministic(t *testing.T) {
	svc, err := NewDevService(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	tpk := bytes.Repeat([]byte{0x02}, TransportPublicKeyLen)

	key, err := svc.DeriveEncryptedKey(context.Background(), []byte("alice"), []byte("ctx"), tpk)
	require.NoError(t, err)
	assert.Len(t, key, 96)

	again, err := svc.DeriveEncryptedKey(context.Background(), []byte("alice"), []byte("ctx"), tpk)
	require.NoError(t, err)
	assert.Equal(t, key, again)

	other, err := svc.DeriveEncryptedKey(context.Background(), []byte("bob"), []byte("ctx"), tpk)
	require.NoError(t, err)
	assert.NotEqual(t, key, other)

	otherCtx, err := svc.DeriveEncryptedKey(context.Background(), []byte("alice"), []byte("ctx2"), tpk)
	require.NoError(t, err)
	assert.NotEqual(t, key, otherCtx)
}

func TestDeriveEncryptedKeyValidatesTransportKey(t *testing.T) {
	svc, err := NewDevService(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	_, err = svc.DeriveEncryptedKey(context.Background(), []byte("alice"), []byte("ctx"), []byte("short"))
	require.Error(t, err)
}

func TestInputSplitsDoNotCollide(t *testing.T) {
	svc, err := NewDevService(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)
	tpk := bytes.Repeat([]byte{0x02}, TransportPublicKeyLen)

	// ("ab", "c") and ("a", "bc") must derive differently
	k1, err := svc.DeriveEncryptedKey(context.Background(), []byte("ab"), []byte("c"), tpk)
	require.NoError(t, err)
	k2, err := svc.DeriveEncryptedKey(context.Background(), []byte("a"), []byte("bc"), tpk)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestPublicKeyDistinctPerContext(t *testing.T) {
	svc, err := NewDevService(bytes.Repeat([]byte{0x01}, 32))
	require.NoError(t, err)

	pk1 := svc.PublicKey(context.Background(), []byte("ctx1"))
	pk2 := svc.PublicKey(context.Background(), []byte("ctx2"))
	assert.Len(t, pk1, 48)
	assert.NotEqual(t, pk1, pk2)
	assert.Equal(t, pk1, svc.PublicKey(context.Background(), []byte("ctx1")))
}
